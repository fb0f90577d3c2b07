package tests

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopmall/pkg/domain/model"
	"shopmall/pkg/domain/service"
)

func TestProcessPayment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	product := f.addProduct("Keyboard", 10000, 10)
	order := f.placeOrder(t, service.OrderLine{ProductID: product.ID, Quantity: 2})

	payment, err := f.payment.ProcessPayment(ctx, order.ID, "key-1", "CARD", "buyer")

	require.NoError(t, err)
	assert.Equal(t, model.PaymentCompleted, payment.Status)
	assert.Equal(t, int64(20000), payment.Amount)
	assert.Equal(t, "key-1", payment.IdempotencyKey)
	assert.Equal(t, int32(1), f.gateway.calls.Load())

	stored := f.orders.get(order.ID)
	assert.Equal(t, model.StatusPaid, stored.Status)
	assert.Equal(t, model.ItemPaid, stored.Items[0].Status)
	assert.Equal(t, 2, stored.Version)

	history, err := f.orderService.GetOrderHistory(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, history[0].NewStatus)

	assert.Len(t, f.dispatcher.ofType("PaymentCompleted"), 1)

	byOrder, err := f.payment.GetPaymentByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, byOrder.ID)
}

func TestProcessPaymentIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	product := f.addProduct("Keyboard", 10000, 10)
	order := f.placeOrder(t, service.OrderLine{ProductID: product.ID, Quantity: 1})

	first, err := f.payment.ProcessPayment(ctx, order.ID, "key-1", "CARD", "buyer")
	require.NoError(t, err)
	f.dispatcher.Reset()

	second, err := f.payment.ProcessPayment(ctx, order.ID, "key-1", "CARD", "buyer")

	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.PaymentCompleted, second.Status)
	assert.Equal(t, int32(1), f.gateway.calls.Load(), "a replay never reaches the gateway")
	assert.Equal(t, 1, f.payments.count())
	assert.Equal(t, 2, f.orders.get(order.ID).Version)
	assert.Empty(t, f.dispatcher.events)
}

func TestProcessPaymentConcurrentRetries(t *testing.T) {
	f := setup(t)
	product := f.addProduct("Keyboard", 10000, 10)
	order := f.placeOrder(t, service.OrderLine{ProductID: product.ID, Quantity: 1})
	f.gateway.delay = 20 * time.Millisecond

	var (
		wg       sync.WaitGroup
		payments = make([]*model.Payment, 8)
		errs     = make([]error, 8)
	)
	for i := range payments {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			payments[i], errs[i] = f.payment.ProcessPayment(context.Background(), order.ID, "key-1", "CARD", "buyer")
		}()
	}
	wg.Wait()

	var paymentID uuid.UUID
	for i, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, model.ErrDuplicateInFlight)
			continue
		}
		if paymentID == uuid.Nil {
			paymentID = payments[i].ID
		}
		assert.Equal(t, paymentID, payments[i].ID)
	}
	assert.NotEqual(t, uuid.Nil, paymentID)
	assert.Equal(t, int32(1), f.gateway.calls.Load())
	assert.Equal(t, 1, f.payments.count())
	assert.Equal(t, model.StatusPaid, f.orders.get(order.ID).Status)
}

func TestProcessPaymentGatewayFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	product := f.addProduct("Keyboard", 10000, 10)
	order := f.placeOrder(t, service.OrderLine{ProductID: product.ID, Quantity: 1})
	f.gateway.decline(errors.New("card declined"))

	_, err := f.payment.ProcessPayment(ctx, order.ID, "key-1", "CARD", "buyer")

	assert.ErrorIs(t, err, model.ErrPaymentFailed)
	assert.Equal(t, model.StatusPendingPayment, f.orders.get(order.ID).Status)

	failed, err := f.payment.GetPaymentByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, failed.Status)
	assert.Equal(t, "card declined", failed.FailureReason)
	assert.Len(t, f.dispatcher.ofType("PaymentFailed"), 1)

	t.Run("Same key is not retried", func(t *testing.T) {
		f.gateway.decline(nil)
		_, err := f.payment.ProcessPayment(ctx, order.ID, "key-1", "CARD", "buyer")
		assert.ErrorIs(t, err, model.ErrPaymentFailed)
		assert.Equal(t, int32(1), f.gateway.calls.Load())
	})

	t.Run("New key is accepted", func(t *testing.T) {
		payment, err := f.payment.ProcessPayment(ctx, order.ID, "key-2", "CARD", "buyer")
		require.NoError(t, err)
		assert.Equal(t, model.PaymentCompleted, payment.Status)
		assert.Equal(t, model.StatusPaid, f.orders.get(order.ID).Status)
	})
}

func TestProcessPaymentRejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	product := f.addProduct("Keyboard", 10000, 10)
	order := f.placeOrder(t, service.OrderLine{ProductID: product.ID, Quantity: 1})
	other := f.placeOrder(t, service.OrderLine{ProductID: product.ID, Quantity: 1})

	t.Run("Fail on missing key", func(t *testing.T) {
		_, err := f.payment.ProcessPayment(ctx, order.ID, "", "CARD", "buyer")
		assert.ErrorIs(t, err, model.ErrIdempotencyKeyRequired)
	})

	t.Run("Fail on oversized key", func(t *testing.T) {
		_, err := f.payment.ProcessPayment(ctx, order.ID, strings.Repeat("k", model.MaxIdempotencyKeyLength+1), "CARD", "buyer")
		assert.ErrorIs(t, err, model.ErrIdempotencyKeyTooLong)
	})

	t.Run("Fail on missing method", func(t *testing.T) {
		_, err := f.payment.ProcessPayment(ctx, order.ID, "key-m", "", "buyer")
		assert.ErrorIs(t, err, model.ErrInvalidPaymentMethod)
	})

	t.Run("Fail on oversized method", func(t *testing.T) {
		_, err := f.payment.ProcessPayment(ctx, order.ID, "key-m", strings.Repeat("M", model.MaxPaymentMethodLength+1), "buyer")
		assert.ErrorIs(t, err, model.ErrInvalidPaymentMethod)
		assert.Zero(t, f.payments.count())
	})

	t.Run("Fail on unknown order", func(t *testing.T) {
		_, err := f.payment.ProcessPayment(ctx, uuid.New(), "key-x", "CARD", "buyer")
		assert.ErrorIs(t, err, model.ErrOrderNotFound)
	})

	t.Run("Fail on key of another order", func(t *testing.T) {
		_, err := f.payment.ProcessPayment(ctx, order.ID, "key-1", "CARD", "buyer")
		require.NoError(t, err)
		_, err = f.payment.ProcessPayment(ctx, other.ID, "key-1", "CARD", "buyer")
		assert.ErrorIs(t, err, model.ErrDuplicateIdempotencyKey)
	})

	t.Run("Fail on already paid order", func(t *testing.T) {
		_, err := f.payment.ProcessPayment(ctx, order.ID, "key-2", "CARD", "buyer")
		assert.ErrorIs(t, err, model.ErrInvalidOrderStatus)
	})

	t.Run("Fail on pending payment with same key", func(t *testing.T) {
		pending := &model.Payment{ID: uuid.New(), OrderID: other.ID, IdempotencyKey: "key-3", Status: model.PaymentPending}
		require.NoError(t, f.payments.Create(ctx, pending))
		_, err := f.payment.ProcessPayment(ctx, other.ID, "key-3", "CARD", "buyer")
		assert.ErrorIs(t, err, model.ErrDuplicateInFlight)
	})

	assert.Equal(t, int32(1), f.gateway.calls.Load())
}

func TestProcessPaymentLeaseExpiredBeforeOrderWrite(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	product := f.addProduct("Keyboard", 10000, 10)
	order := f.placeOrder(t, service.OrderLine{ProductID: product.ID, Quantity: 1})
	f.locks.expired.Store(true)

	_, err := f.payment.ProcessPayment(ctx, order.ID, "key-1", "CARD", "buyer")

	assert.ErrorIs(t, err, model.ErrPaymentFailed)
	assert.Equal(t, int32(1), f.gateway.calls.Load())
	assert.Equal(t, model.StatusPendingPayment, f.orders.get(order.ID).Status)
	assert.Equal(t, 1, f.orders.get(order.ID).Version)

	payment, err := f.payment.GetPaymentByOrderID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentFailed, payment.Status)
	assert.Contains(t, payment.FailureReason, "refund required")
	assert.Empty(t, f.dispatcher.ofType("PaymentCompleted"))
	assert.Len(t, f.dispatcher.ofType("PaymentFailed"), 1)

	f.locks.expired.Store(false)

	t.Run("Fail on replay of same key", func(t *testing.T) {
		_, err := f.payment.ProcessPayment(ctx, order.ID, "key-1", "CARD", "buyer")
		assert.ErrorIs(t, err, model.ErrPaymentFailed)
		assert.Equal(t, int32(1), f.gateway.calls.Load())
		assert.Equal(t, model.StatusPendingPayment, f.orders.get(order.ID).Status)
	})

	t.Run("Success with new key", func(t *testing.T) {
		payment, err := f.payment.ProcessPayment(ctx, order.ID, "key-2", "CARD", "buyer")
		require.NoError(t, err)
		assert.Equal(t, model.PaymentCompleted, payment.Status)
		assert.Equal(t, model.StatusPaid, f.orders.get(order.ID).Status)
	})
}

func TestProcessPaymentDoesNotReplayCompletedPaymentOfUnpaidOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	product := f.addProduct("Keyboard", 10000, 10)
	order := f.placeOrder(t, service.OrderLine{ProductID: product.ID, Quantity: 1})

	stray := &model.Payment{
		ID:             uuid.New(),
		OrderID:        order.ID,
		IdempotencyKey: "key-1",
		Amount:         10000,
		Method:         "CARD",
		Status:         model.PaymentCompleted,
	}
	require.NoError(t, f.payments.Create(ctx, stray))

	payment, err := f.payment.ProcessPayment(ctx, order.ID, "key-1", "CARD", "buyer")

	assert.Nil(t, payment)
	assert.ErrorIs(t, err, model.ErrPaymentFailed)
	assert.Contains(t, err.Error(), "reconciliation required")
	assert.Zero(t, f.gateway.calls.Load())
	assert.Equal(t, model.StatusPendingPayment, f.orders.get(order.ID).Status)
}

func TestProcessPaymentRejectsEmptyOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	product := f.addProduct("Keyboard", 10000, 10)
	mouse := f.addProduct("Mouse", 5000, 10)
	order := f.placeOrder(t,
		service.OrderLine{ProductID: product.ID, Quantity: 1},
		service.OrderLine{ProductID: mouse.ID, Quantity: 1},
	)

	// Cancelling every line closes the order, so craft the zero total directly.
	stored := f.orders.get(order.ID)
	stored.TotalAmount = 0
	stored.Version++
	require.NoError(t, f.orders.Update(ctx, stored))

	_, err := f.payment.ProcessPayment(ctx, order.ID, "key-1", "CARD", "buyer")
	assert.ErrorIs(t, err, model.ErrPaymentAmountMismatch)
	assert.Zero(t, f.gateway.calls.Load())
}

func TestCancelPayment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	product := f.addProduct("Keyboard", 10000, 10)
	order := f.placeOrder(t, service.OrderLine{ProductID: product.ID, Quantity: 1})

	_, err := f.payment.CancelPayment(ctx, order.ID, "admin")
	assert.ErrorIs(t, err, model.ErrPaymentNotFound)

	_, err = f.payment.ProcessPayment(ctx, order.ID, "key-1", "CARD", "buyer")
	require.NoError(t, err)

	cancelled, err := f.payment.CancelPayment(ctx, order.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCancelled, cancelled.Status)
	assert.Len(t, f.dispatcher.ofType("PaymentCancelled"), 1)

	_, err = f.payment.CancelPayment(ctx, order.ID, "admin")
	assert.ErrorIs(t, err, model.ErrInvalidOrderStatus)
}
