package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client        *redis.Client
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
	logger        *zap.Logger
}

// NewRedisLocker creates a RedisLocker. ttl bounds how long a crashed
// holder can block a booking and must exceed the gateway timeout.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client:        client,
		prefix:        "lock:booking:",
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
		logger:        logger,
	}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	k := l.prefix + key

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", k, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// release must run even if the caller's ctx is already cancelled
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{k}, token).Err(); err != nil {
			l.logger.Warn("failed to release booking lock", zap.String("key", k), zap.Error(err))
		}
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
