package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"shopmall/pkg/domain/model"
)

// orderStore serialises every mutation of one order behind LOCK:ORDER:<id> and
// persists it with an optimistic version check.
type orderStore struct {
	repo      model.OrderRepository
	histories model.OrderHistoryRepository
	locks     model.LockProvider
	opts      LockOptions
}

func newOrderStore(repo model.OrderRepository, histories model.OrderHistoryRepository, locks model.LockProvider, opts LockOptions) *orderStore {
	return &orderStore{repo: repo, histories: histories, locks: locks, opts: opts}
}

// withOrder loads the order after the lock is taken so fn always sees the state
// left by the previous holder.
func (s *orderStore) withOrder(ctx context.Context, orderID uuid.UUID, fn func(lock model.Lock, order *model.Order) error) error {
	return withLock(ctx, s.locks, orderLockKey(orderID), s.opts, func(lock model.Lock) error {
		order, err := s.repo.Find(ctx, orderID)
		if err != nil {
			return err
		}
		return fn(lock, order)
	})
}

func (s *orderStore) save(ctx context.Context, lock model.Lock, order *model.Order) error {
	if err := ensureHeld(ctx, lock); err != nil {
		return err
	}
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	return s.repo.Update(ctx, order)
}

// record appends to the audit trail once the order change is committed; a
// failure here cannot undo that change and is only logged.
func (s *orderStore) record(ctx context.Context, history *model.OrderHistory) {
	if err := s.histories.Append(context.WithoutCancel(ctx), history); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"order_id":   history.OrderID,
			"new_status": history.NewStatus,
		}).Error("failed to append order history")
	}
}

// applyStatus moves the order to target and cascades the move to its items.
// Items in a terminal state (cancelled or refunded lines) or already at target
// are skipped; any other item that cannot follow blocks the whole transition.
// Nothing is changed when an error is returned.
func applyStatus(order *model.Order, target model.OrderStatus) error {
	if _, err := order.Status.TransitionTo(target); err != nil {
		return err
	}

	itemTarget := model.OrderItemStatus(target)
	follow := make([]int, 0, len(order.Items))
	for i, item := range order.Items {
		if item.Status.IsTerminal() || item.Status == itemTarget {
			continue
		}
		if _, err := item.Status.TransitionTo(itemTarget); err != nil {
			return err
		}
		follow = append(follow, i)
	}

	order.Status = target
	for _, i := range follow {
		order.Items[i].Status = itemTarget
	}
	return nil
}

func ptrStatus(status model.OrderStatus) *model.OrderStatus {
	return &status
}
