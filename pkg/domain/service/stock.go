package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"shopmall/pkg/domain/model"
)

// StockLedger owns product stock counts. Every call is its own unit of
// persistence; two calls on the same product are strictly ordered by the
// product lock, calls on different products run in parallel.
type StockLedger interface {
	Deduct(ctx context.Context, productID uuid.UUID, quantity int) error
	Restore(ctx context.Context, productID uuid.UUID, quantity int) error
}

func NewStockLedger(repo model.ProductRepository, locks model.LockProvider, dispatcher model.EventDispatcher, opts LockOptions) StockLedger {
	return &stockLedger{repo: repo, locks: locks, dispatcher: dispatcher, opts: opts}
}

type stockLedger struct {
	repo       model.ProductRepository
	locks      model.LockProvider
	dispatcher model.EventDispatcher
	opts       LockOptions
}

func (s *stockLedger) Deduct(ctx context.Context, productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return model.ErrInvalidQuantity
	}

	var events eventBuffer
	err := withLock(ctx, s.locks, stockLockKey(productID), s.opts, func(lock model.Lock) error {
		product, err := s.repo.Find(ctx, productID)
		if err != nil {
			return err
		}

		if err := product.RemoveStock(quantity); err != nil {
			return errors.Wrapf(err, "product %s (%s): available %d, requested %d",
				productID, product.Name, product.StockQuantity, quantity)
		}

		if err := s.persist(ctx, lock, product); err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"product_id": productID,
			"quantity":   quantity,
			"remaining":  product.StockQuantity,
		}).Info("stock deducted")

		events.add(model.StockDeducted{
			ProductID: productID,
			Quantity:  quantity,
			Remaining: product.StockQuantity,
		})
		return nil
	})
	events.flush(s.dispatcher)
	return err
}

func (s *stockLedger) Restore(ctx context.Context, productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return model.ErrInvalidQuantity
	}

	var events eventBuffer
	err := withLock(ctx, s.locks, stockLockKey(productID), s.opts, func(lock model.Lock) error {
		product, err := s.repo.Find(ctx, productID)
		if err != nil {
			return err
		}

		product.AddStock(quantity)

		if err := s.persist(ctx, lock, product); err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"product_id": productID,
			"quantity":   quantity,
			"remaining":  product.StockQuantity,
		}).Info("stock restored")

		events.add(model.StockRestored{
			ProductID: productID,
			Quantity:  quantity,
			Remaining: product.StockQuantity,
		})
		return nil
	})
	events.flush(s.dispatcher)
	return err
}

func (s *stockLedger) persist(ctx context.Context, lock model.Lock, product *model.Product) error {
	if err := ensureHeld(ctx, lock); err != nil {
		return err
	}
	product.Version++
	product.UpdatedAt = time.Now().UTC()
	return s.repo.UpdateStock(ctx, product)
}

// restoreBestEffort gives stock back without failing the caller. A failure is
// logged and published as StockRestoreFailed so the drift can be reconciled.
func restoreBestEffort(ctx context.Context, stock StockLedger, events *eventBuffer, productID uuid.UUID, quantity int, fields log.Fields) {
	err := stock.Restore(context.WithoutCancel(ctx), productID, quantity)
	if err == nil {
		return
	}

	log.WithError(err).
		WithFields(fields).
		WithFields(log.Fields{"product_id": productID, "quantity": quantity}).
		Error("failed to restore stock, manual reconciliation required")

	events.add(model.StockRestoreFailed{
		ProductID: productID,
		Quantity:  quantity,
		Reason:    err.Error(),
	})
}
