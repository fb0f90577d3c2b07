package gateway

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	ErrDeclined      = errors.New("payment declined by issuer")
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrNoMethod      = errors.New("payment method is required")
)

// Simulated stands in for an external PG. It approves every well formed
// request except a configurable share that it declines at random.
type Simulated struct {
	latency     time.Duration
	failureRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulated(latency time.Duration, failureRate float64) *Simulated {
	return &Simulated{
		latency:     latency,
		failureRate: failureRate,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *Simulated) Authorize(ctx context.Context, amount int64, method string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if method == "" {
		return ErrNoMethod
	}

	if g.latency > 0 {
		timer := time.NewTimer(g.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if g.declines() {
		log.WithFields(log.Fields{"amount": amount, "method": method}).Warn("simulated gateway declined payment")
		return ErrDeclined
	}
	log.WithFields(log.Fields{"amount": amount, "method": method}).Debug("simulated gateway approved payment")
	return nil
}

func (g *Simulated) declines() bool {
	if g.failureRate <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Float64() < g.failureRate
}
