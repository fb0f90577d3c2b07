package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"shopmall/pkg/domain/model"
)

type PaymentService interface {
	// ProcessPayment charges the order total once per idempotency key. A retry
	// with the key of a completed payment returns that payment unchanged.
	ProcessPayment(ctx context.Context, orderID uuid.UUID, idempotencyKey, method, actor string) (*model.Payment, error)
	CancelPayment(ctx context.Context, orderID uuid.UUID, actor string) (*model.Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*model.Payment, error)
}

func NewPaymentService(
	payments model.PaymentRepository,
	orders model.OrderRepository,
	histories model.OrderHistoryRepository,
	gateway model.PaymentGateway,
	locks model.LockProvider,
	dispatcher model.EventDispatcher,
	opts LockOptions,
) PaymentService {
	return &paymentService{
		payments:   payments,
		store:      newOrderStore(orders, histories, locks, opts),
		gateway:    gateway,
		dispatcher: dispatcher,
	}
}

type paymentService struct {
	payments   model.PaymentRepository
	store      *orderStore
	gateway    model.PaymentGateway
	dispatcher model.EventDispatcher
}

func (s *paymentService) ProcessPayment(ctx context.Context, orderID uuid.UUID, idempotencyKey, method, actor string) (*model.Payment, error) {
	if err := validatePaymentRequest(idempotencyKey, method); err != nil {
		return nil, err
	}

	// Replays are answered without touching the order lock.
	if existing, err := s.lookup(ctx, orderID, idempotencyKey, nil); existing != nil || err != nil {
		return existing, err
	}

	var (
		result *model.Payment
		events eventBuffer
	)
	err := s.store.withOrder(ctx, orderID, func(lock model.Lock, order *model.Order) error {
		// A concurrent request with the same key may have finished while we waited.
		existing, err := s.lookup(ctx, orderID, idempotencyKey, order)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		if order.Status != model.StatusPendingPayment {
			return errors.Wrapf(model.ErrInvalidOrderStatus, "order %s is %s", orderID, order.Status)
		}
		if order.TotalAmount <= 0 {
			return errors.Wrapf(model.ErrPaymentAmountMismatch, "order %s total is %d", orderID, order.TotalAmount)
		}

		payment, err := s.open(ctx, order, idempotencyKey, method)
		if err != nil {
			if errors.Is(err, model.ErrDuplicateIdempotencyKey) {
				existing, lerr := s.lookup(ctx, orderID, idempotencyKey, order)
				if lerr != nil {
					return lerr
				}
				if existing != nil {
					result = existing
					return nil
				}
				return model.ErrDuplicateInFlight
			}
			return err
		}

		if err := s.gateway.Authorize(context.WithoutCancel(ctx), payment.Amount, method); err != nil {
			return s.fail(ctx, payment, err, &events)
		}

		if err := s.complete(ctx, lock, order, payment, actor, &events); err != nil {
			return err
		}
		result = payment
		return nil
	})
	events.flush(s.dispatcher)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func validatePaymentRequest(key, method string) error {
	if key == "" {
		return model.ErrIdempotencyKeyRequired
	}
	if len(key) > model.MaxIdempotencyKeyLength {
		return errors.Wrapf(model.ErrIdempotencyKeyTooLong, "got %d characters", len(key))
	}
	if method == "" || len(method) > model.MaxPaymentMethodLength {
		return errors.Wrapf(model.ErrInvalidPaymentMethod, "got %d characters", len(method))
	}
	return nil
}

// lookup resolves an idempotency key that was already used. It returns
// (nil, nil) for an unused key. order is loaded when nil.
func (s *paymentService) lookup(ctx context.Context, orderID uuid.UUID, key string, order *model.Order) (*model.Payment, error) {
	payment, err := s.payments.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, model.ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if payment.OrderID != orderID {
		return nil, errors.Wrapf(model.ErrDuplicateIdempotencyKey, "key %q belongs to order %s", key, payment.OrderID)
	}

	switch payment.Status {
	case model.PaymentCompleted:
		if order == nil {
			if order, err = s.store.repo.Find(ctx, orderID); err != nil {
				return nil, err
			}
		}
		// A completed payment only replays once the order reflects it.
		if order.Status == model.StatusPendingPayment {
			return nil, errors.Wrapf(model.ErrPaymentFailed,
				"payment %s completed but order %s is unpaid, reconciliation required", payment.ID, orderID)
		}
		log.WithFields(log.Fields{
			"order_id":        orderID,
			"payment_id":      payment.ID,
			"idempotency_key": key,
		}).Info("payment replayed")
		return payment, nil
	case model.PaymentPending:
		return nil, model.ErrDuplicateInFlight
	default:
		return nil, errors.Wrapf(model.ErrPaymentFailed, "key %q already used by a %s payment, use a new key", key, payment.Status)
	}
}

func (s *paymentService) open(ctx context.Context, order *model.Order, key, method string) (*model.Payment, error) {
	id, err := s.payments.NextID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	payment := &model.Payment{
		ID:             id,
		OrderID:        order.ID,
		IdempotencyKey: key,
		Amount:         order.TotalAmount,
		Method:         method,
		Status:         model.PaymentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *paymentService) fail(ctx context.Context, payment *model.Payment, cause error, events *eventBuffer) error {
	payment.Fail(cause.Error())

	fields := log.Fields{
		"order_id":        payment.OrderID,
		"payment_id":      payment.ID,
		"idempotency_key": payment.IdempotencyKey,
	}
	if err := s.payments.Update(context.WithoutCancel(ctx), payment); err != nil {
		log.WithError(err).WithFields(fields).Error("failed to record failed payment")
	}
	log.WithFields(fields).WithField("reason", payment.FailureReason).Warn("payment declined")

	events.add(model.PaymentFailedEvent{
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		Reason:    payment.FailureReason,
	})
	return errors.Wrap(model.ErrPaymentFailed, cause.Error())
}

// complete marks the order paid before the payment. When the fenced order
// write fails the authorized charge is recorded as FAILED with a refund note,
// so the key is never replayed as a success for an unpaid order.
func (s *paymentService) complete(ctx context.Context, lock model.Lock, order *model.Order, payment *model.Payment, actor string, events *eventBuffer) error {
	fields := log.Fields{
		"order_id":        order.ID,
		"payment_id":      payment.ID,
		"idempotency_key": payment.IdempotencyKey,
	}

	previous := order.Status
	if err := applyStatus(order, model.StatusPaid); err != nil {
		return err
	}
	if err := s.store.save(ctx, lock, order); err != nil {
		payment.Fail("authorized but order not marked paid, refund required: " + err.Error())
		if uerr := s.payments.Update(context.WithoutCancel(ctx), payment); uerr != nil {
			log.WithError(uerr).WithFields(fields).Error("failed to record unsettled payment")
		}
		log.WithError(err).WithFields(fields).Error("payment authorized but order not marked paid, refund required")

		events.add(model.PaymentFailedEvent{
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
			Reason:    payment.FailureReason,
		})
		return errors.Wrapf(model.ErrPaymentFailed, "order %s not marked paid: %v", order.ID, err)
	}

	payment.Complete()
	if err := s.payments.Update(context.WithoutCancel(ctx), payment); err != nil {
		log.WithError(err).WithFields(fields).Error("order paid but payment not recorded, manual follow-up required")
		return err
	}
	s.store.record(ctx, model.RecordHistory(order.ID, ptrStatus(previous), model.StatusPaid, "payment completed", actor))

	log.WithFields(fields).WithField("amount", payment.Amount).Info("payment completed")

	events.add(
		model.PaymentCompletedEvent{PaymentID: payment.ID, OrderID: order.ID, Amount: payment.Amount},
		model.OrderStatusChanged{OrderID: order.ID, From: previous, To: model.StatusPaid},
	)
	return nil
}

func (s *paymentService) CancelPayment(ctx context.Context, orderID uuid.UUID, actor string) (*model.Payment, error) {
	var (
		result *model.Payment
		events eventBuffer
	)
	err := s.store.withOrder(ctx, orderID, func(_ model.Lock, _ *model.Order) error {
		payment, err := s.payments.FindByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if payment.Status != model.PaymentCompleted {
			return errors.Wrapf(model.ErrInvalidOrderStatus, "payment %s is %s", payment.ID, payment.Status)
		}

		payment.Cancel()
		if err := s.payments.Update(ctx, payment); err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"order_id":   orderID,
			"payment_id": payment.ID,
			"actor":      actor,
		}).Info("payment cancelled")

		events.add(model.PaymentCancelledEvent{PaymentID: payment.ID, OrderID: orderID})
		result = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.flush(s.dispatcher)
	return result, nil
}

func (s *paymentService) GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*model.Payment, error) {
	return s.payments.FindByOrderID(ctx, orderID)
}
