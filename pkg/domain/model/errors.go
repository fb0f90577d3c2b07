package model

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderItemNotFound = errors.New("order item not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrMemberNotFound    = errors.New("member not found")

	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidOrderStatus  = errors.New("operation not allowed in the current order status")
	ErrOrderNotCancellable = errors.New("order cannot be cancelled in its current status")
	ErrInsufficientStock   = errors.New("insufficient stock quantity")
	ErrEmptyOrderItems     = errors.New("order must contain at least one item")
	ErrInvalidQuantity     = errors.New("quantity must be between 1 and 100")
	ErrInvalidShipping     = errors.New("shipping address, receiver name and phone are required")
	ErrAccessDenied        = errors.New("order belongs to another member")

	// ErrLockTimeout is transient: the caller may back off and retry.
	ErrLockTimeout    = errors.New("could not acquire lock in time, retry later")
	ErrOptimisticLock = errors.New("aggregate has been modified by another transaction")

	ErrDuplicateInFlight       = errors.New("payment with this idempotency key is already in progress")
	ErrDuplicateIdempotencyKey = errors.New("payment with this idempotency key already exists")
	ErrPaymentFailed           = errors.New("payment failed")
	ErrPaymentAmountMismatch   = errors.New("payment amount does not match order total")
	ErrIdempotencyKeyRequired  = errors.New("idempotency key is required")
	ErrIdempotencyKeyTooLong   = errors.New("idempotency key is longer than 128 characters")
	ErrInvalidPaymentMethod    = errors.New("payment method must be 1 to 32 characters")
)

// IsRetryable reports whether err signals contention rather than a business rule.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrOptimisticLock)
}
