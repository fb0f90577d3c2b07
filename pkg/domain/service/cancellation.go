package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"shopmall/pkg/domain/model"
)

const defaultCancelReason = "cancelled by customer request"

// CancellationService expects the caller to have checked ownership already.
type CancellationService interface {
	CancelOrder(ctx context.Context, orderID uuid.UUID, reason, actor string) (*model.Order, error)
	CancelOrderItem(ctx context.Context, orderID, itemID uuid.UUID, reason, actor string) (*model.Order, error)
}

func NewCancellationService(
	repo model.OrderRepository,
	histories model.OrderHistoryRepository,
	payments model.PaymentRepository,
	stock StockLedger,
	locks model.LockProvider,
	dispatcher model.EventDispatcher,
	opts LockOptions,
) CancellationService {
	return &cancellationService{
		store:      newOrderStore(repo, histories, locks, opts),
		payments:   payments,
		stock:      stock,
		dispatcher: dispatcher,
	}
}

type cancellationService struct {
	store      *orderStore
	payments   model.PaymentRepository
	stock      StockLedger
	dispatcher model.EventDispatcher
}

// CancelOrder is best effort per item: lines already shipped or delivered keep
// their status, every other line is cancelled and its stock restored.
func (s *cancellationService) CancelOrder(ctx context.Context, orderID uuid.UUID, reason, actor string) (*model.Order, error) {
	if reason == "" {
		reason = defaultCancelReason
	}

	var (
		result   *model.Order
		released []model.OrderItem
		events   eventBuffer
	)
	err := s.store.withOrder(ctx, orderID, func(lock model.Lock, order *model.Order) error {
		if !order.IsCancellable() {
			return errors.Wrapf(model.ErrOrderNotCancellable, "order %s is %s", orderID, order.Status)
		}

		previous := order.Status
		cancelled := s.cancelItems(order)
		order.Status = model.StatusCancelled

		if err := s.store.save(ctx, lock, order); err != nil {
			return err
		}

		s.finishCancel(ctx, order, previous, reason, actor, &events)
		released = cancelled
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Stock locks are taken only after the order lock is gone.
	s.restore(ctx, orderID, released, &events)
	events.flush(s.dispatcher)
	return result, nil
}

// CancelOrderItem cancels one line and recomputes the order total from the
// remaining lines. Cancelling the last active line cancels the order as well.
func (s *cancellationService) CancelOrderItem(ctx context.Context, orderID, itemID uuid.UUID, reason, actor string) (*model.Order, error) {
	var (
		result   *model.Order
		released []model.OrderItem
		events   eventBuffer
	)
	err := s.store.withOrder(ctx, orderID, func(lock model.Lock, order *model.Order) error {
		item, err := order.Item(itemID)
		if err != nil {
			return err
		}
		if !item.IsCancellable() {
			return errors.Wrapf(model.ErrInvalidOrderStatus, "order item %s is %s", itemID, item.Status)
		}

		if err := item.ChangeStatus(model.ItemCancelled); err != nil {
			return err
		}
		order.RecalculateTotal()

		previous := order.Status
		closeOrder := !order.HasActiveItems() && order.IsCancellable()
		if closeOrder {
			order.Status = model.StatusCancelled
		}

		if err := s.store.save(ctx, lock, order); err != nil {
			return err
		}

		cancelled := *item
		historyReason := fmt.Sprintf("item cancelled: %s", cancelled.Snapshot.Name)
		if reason != "" {
			historyReason += " - " + reason
		}
		s.store.record(ctx, model.RecordHistory(order.ID, ptrStatus(previous), previous, historyReason, actor))

		released = []model.OrderItem{cancelled}

		log.WithFields(log.Fields{
			"order_id":      orderID,
			"order_item_id": itemID,
			"total_amount":  order.TotalAmount,
		}).Info("order item cancelled")

		events.add(model.OrderItemCancelled{
			OrderID:     orderID,
			ItemID:      itemID,
			ProductID:   cancelled.ProductID,
			Quantity:    cancelled.Quantity,
			TotalAmount: order.TotalAmount,
		})

		if closeOrder {
			s.finishCancel(ctx, order, previous, "all items cancelled", actor, &events)
		} else {
			s.settlePayment(ctx, orderID, (*model.Payment).PartiallyRefund, &events)
		}

		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.restore(ctx, orderID, released, &events)
	events.flush(s.dispatcher)
	return result, nil
}

// cancelItems flips every still cancellable line and returns the lines whose
// stock has to go back.
func (s *cancellationService) cancelItems(order *model.Order) []model.OrderItem {
	released := make([]model.OrderItem, 0, len(order.Items))
	for i := range order.Items {
		item := &order.Items[i]
		if !item.IsCancellable() {
			continue
		}
		item.Status = model.ItemCancelled
		released = append(released, *item)
	}
	order.RecalculateTotal()
	return released
}

// finishCancel reverses the payment of an order cancellation that was already
// persisted and writes its audit record.
func (s *cancellationService) finishCancel(ctx context.Context, order *model.Order, previous model.OrderStatus, reason, actor string, events *eventBuffer) {
	s.settlePayment(ctx, order.ID, (*model.Payment).Cancel, events)

	s.store.record(ctx, model.RecordHistory(order.ID, ptrStatus(previous), model.StatusCancelled, reason, actor))

	log.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
		"from":         previous,
	}).Info("order cancelled")

	events.add(model.OrderCancelled{OrderID: order.ID, Reason: reason})
}

func (s *cancellationService) restore(ctx context.Context, orderID uuid.UUID, released []model.OrderItem, events *eventBuffer) {
	for _, item := range released {
		restoreBestEffort(ctx, s.stock, events, item.ProductID, item.Quantity,
			log.Fields{"order_id": orderID, "order_item_id": item.ID})
	}
}

// settlePayment applies change to the order's captured payment, if any. The
// order change is already committed, so failures are logged for follow-up.
func (s *cancellationService) settlePayment(ctx context.Context, orderID uuid.UUID, change func(*model.Payment), events *eventBuffer) {
	ctx = context.WithoutCancel(ctx)
	payment, err := s.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		if !errors.Is(err, model.ErrPaymentNotFound) {
			log.WithError(err).WithField("order_id", orderID).Error("failed to load payment of cancelled order")
		}
		return
	}
	if !payment.Settled() {
		return
	}

	change(payment)
	if err := s.payments.Update(ctx, payment); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"order_id":   orderID,
			"payment_id": payment.ID,
		}).Error("failed to update payment of cancelled order, manual follow-up required")
		return
	}

	log.WithFields(log.Fields{
		"order_id":   orderID,
		"payment_id": payment.ID,
		"status":     payment.Status,
	}).Info("payment settled after cancellation")

	if payment.Status == model.PaymentCancelled {
		events.add(model.PaymentCancelledEvent{PaymentID: payment.ID, OrderID: orderID})
	}
}
