package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Column widths of payments.idempotency_key and payments.method.
const (
	MaxIdempotencyKeyLength = 128
	MaxPaymentMethodLength  = 32
)

type Payment struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	IdempotencyKey string
	Amount         int64
	Method         string
	Status         PaymentStatus
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p *Payment) Complete() { p.setStatus(PaymentCompleted) }

func (p *Payment) Cancel() { p.setStatus(PaymentCancelled) }

func (p *Payment) PartiallyRefund() { p.setStatus(PaymentPartiallyRefunded) }

func (p *Payment) Fail(reason string) {
	p.FailureReason = reason
	p.setStatus(PaymentFailed)
}

// Settled reports whether money has been captured and not yet fully returned.
func (p *Payment) Settled() bool {
	return p.Status == PaymentCompleted || p.Status == PaymentPartiallyRefunded
}

func (p *Payment) setStatus(status PaymentStatus) {
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
}

type PaymentRepository interface {
	NextID() (uuid.UUID, error)
	// Create returns ErrDuplicateIdempotencyKey when the key is already taken.
	Create(ctx context.Context, payment *Payment) error
	Update(ctx context.Context, payment *Payment) error
	FindByIdempotencyKey(ctx context.Context, key string) (*Payment, error)
	// FindByOrderID returns the most recent payment of the order.
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*Payment, error)
}

type PaymentGateway interface {
	Authorize(ctx context.Context, amount int64, method string) error
}
