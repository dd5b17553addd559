package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storefront-guard/internal/client"
	"storefront-guard/internal/otp"
)

const (
	defaultLockTTL   = 30 * time.Second
	lockRetryBackoff = 25 * time.Millisecond
)

// releaseLock deletes the key only while it still holds our token, so an
// expired lock taken over by another instance is left alone.
const releaseLock = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker serializes ledger operations for one phone across instances using
// SET NX with a per-holder token.
type Locker struct {
	client *client.RedisClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewLocker(rc *client.RedisClient, ttl time.Duration, logger *zap.Logger) *Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Locker{client: rc, ttl: ttl, logger: logger}
}

var _ otp.Locker = (*Locker)(nil)

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := otpLockPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to set otp lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryBackoff):
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		defer cancel()
		if _, err := l.client.Eval(ctx, releaseLock, []string{lockKey}, token); err != nil {
			l.logger.Warn("Failed to release otp lock", zap.String("key", lockKey), zap.Error(err))
		}
	}, nil
}
