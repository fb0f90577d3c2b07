package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"shopmall/pkg/domain/model"
)

// LocalProvider keeps leases in process memory. It serves single-instance
// deployments and tests; leases expire the same way Redis keys do.
type LocalProvider struct {
	mu      sync.Mutex
	entries map[string]localEntry
	now     func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{entries: make(map[string]localEntry), now: time.Now}
}

func (p *LocalProvider) TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (model.Lock, error) {
	token := uuid.NewString()
	err := poll(ctx, wait, func(context.Context) (bool, error) {
		p.mu.Lock()
		defer p.mu.Unlock()

		now := p.now()
		if entry, ok := p.entries[key]; ok && now.Before(entry.expires) {
			return false, nil
		}
		p.entries[key] = localEntry{token: token, expires: now.Add(lease)}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &localLock{provider: p, key: key, token: token}, nil
}

type localLock struct {
	provider *LocalProvider
	key      string
	token    string
}

func (l *localLock) Key() string {
	return l.key
}

func (l *localLock) IsHeld(context.Context) (bool, error) {
	l.provider.mu.Lock()
	defer l.provider.mu.Unlock()

	entry, ok := l.provider.entries[l.key]
	return ok && entry.token == l.token && l.provider.now().Before(entry.expires), nil
}

func (l *localLock) Release(context.Context) error {
	l.provider.mu.Lock()
	defer l.provider.mu.Unlock()

	if entry, ok := l.provider.entries[l.key]; ok && entry.token == l.token {
		delete(l.provider.entries, l.key)
	}
	return nil
}
