package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"shopmall/pkg/domain/model"
)

const (
	stockLockPrefix = "LOCK:STOCK:"
	orderLockPrefix = "LOCK:ORDER:"
)

type LockOptions struct {
	Wait  time.Duration
	Lease time.Duration
}

var DefaultLockOptions = LockOptions{Wait: 5 * time.Second, Lease: 3 * time.Second}

func stockLockKey(productID uuid.UUID) string { return stockLockPrefix + productID.String() }

func orderLockKey(orderID uuid.UUID) string { return orderLockPrefix + orderID.String() }

// withLock acquires key, runs fn and releases the key on every return path.
func withLock(ctx context.Context, locks model.LockProvider, key string, opts LockOptions, fn func(lock model.Lock) error) error {
	lock, err := locks.TryAcquire(ctx, key, opts.Wait, opts.Lease)
	if err != nil {
		return errors.Wrapf(err, "acquire %s", key)
	}
	log.WithField("key", key).Debug("lock acquired")

	defer func() {
		// The request context may already be cancelled here; the key must still be freed.
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).WithField("key", key).Warn("failed to release lock")
			return
		}
		log.WithField("key", key).Debug("lock released")
	}()

	return fn(lock)
}

// ensureHeld is the fencing check done right before a write: a holder whose
// lease ran out must not persist anything.
func ensureHeld(ctx context.Context, lock model.Lock) error {
	held, err := lock.IsHeld(ctx)
	if err != nil {
		return errors.Wrapf(err, "check lease of %s", lock.Key())
	}
	if !held {
		return errors.Wrapf(model.ErrLockTimeout, "lease of %s expired before write", lock.Key())
	}
	return nil
}
