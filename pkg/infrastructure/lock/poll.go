package lock

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"

	"shopmall/pkg/domain/model"
)

const (
	pollInitialInterval = 10 * time.Millisecond
	pollMaxInterval     = 200 * time.Millisecond
)

// poll calls try with exponential pauses until it reports the key as taken by
// us, wait elapses or ctx is done. A zero wait means a single attempt.
func poll(ctx context.Context, wait time.Duration, try func(ctx context.Context) (bool, error)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = pollInitialInterval
	b.MaxInterval = pollMaxInterval
	b.MaxElapsedTime = wait
	b.Reset()

	for {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		next := b.NextBackOff()
		if wait <= 0 || next == backoff.Stop {
			return model.ErrLockTimeout
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
