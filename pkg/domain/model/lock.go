package model

import (
	"context"
	"time"
)

// Lock is a token-fenced lease on a named key. IsHeld turns false once the lease
// expired, even if nobody else took the key yet.
type Lock interface {
	Key() string
	IsHeld(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type LockProvider interface {
	// TryAcquire blocks up to wait and returns ErrLockTimeout if the key stayed taken.
	TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (Lock, error)
}
