package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"shopmall/pkg/domain/model"
)

// releaseScript deletes the key only while it still carries our token, so a
// holder whose lease expired cannot free somebody else's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type RedisProvider struct {
	client redis.UniversalClient
}

func NewRedisProvider(client redis.UniversalClient) *RedisProvider {
	return &RedisProvider{client: client}
}

func (p *RedisProvider) TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (model.Lock, error) {
	token := uuid.NewString()
	err := poll(ctx, wait, func(ctx context.Context) (bool, error) {
		ok, err := p.client.SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return false, errors.Wrapf(err, "set %s", key)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}
	return &redisLock{client: p.client, key: key, token: token}, nil
}

type redisLock struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLock) Key() string {
	return l.key
}

func (l *redisLock) IsHeld(ctx context.Context) (bool, error) {
	value, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "get %s", l.key)
	}
	return value == l.token, nil
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return errors.Wrapf(err, "release %s", l.key)
	}
	return nil
}
