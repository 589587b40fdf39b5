package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"consult-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisProviderLocker is a ProviderLocker backed by one owner-token Redis key
// per provider.
//
// The TTL must outlive the longest scheduling transaction, retries included;
// config validation enforces that for the configured values.
type RedisProviderLocker struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	prefix string
	log    *slog.Logger
}

func NewRedisProviderLocker(rdb redis.Cmdable, ttl, wait time.Duration) *RedisProviderLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait < 0 {
		wait = 0
	}
	return &RedisProviderLocker{
		rdb:    rdb,
		ttl:    ttl,
		wait:   wait,
		poll:   50 * time.Millisecond,
		prefix: "calls:provider-lock:",
		log:    slog.Default(),
	}
}

// WithLogger sets the logger used to report failed releases.
func (l *RedisProviderLocker) WithLogger(log *slog.Logger) *RedisProviderLocker {
	if log != nil {
		l.log = log
	}
	return l
}

func (l *RedisProviderLocker) key(providerID string) string { return l.prefix + providerID }

// LockProvider waits up to the configured wait for the provider's lock.
// A busy provider yields ErrRetryable.
func (l *RedisProviderLocker) LockProvider(ctx context.Context, providerID string) (func(), error) {
	if providerID == "" {
		return nil, errors.New("calls: provider id is required to lock")
	}
	key := l.key(providerID)
	deadline := time.Now().Add(l.wait)

	for {
		token, err := utils.AcquireLock(ctx, l.rdb, key, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("lock provider %s: %w", providerID, err)
		}
		if token != "" {
			return func() { l.release(ctx, providerID, key, token) }, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: provider %s is being scheduled by another request", ErrRetryable, providerID)
		}

		t := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (l *RedisProviderLocker) release(ctx context.Context, providerID, key, token string) {
	released, err := utils.ReleaseLock(context.WithoutCancel(ctx), l.rdb, key, token)
	switch {
	case err != nil:
		l.log.WarnContext(ctx, "provider lock release failed; held until ttl",
			"provider_id", providerID, "ttl", l.ttl, "err", err)
	case !released:
		l.log.WarnContext(ctx, "provider lock expired before release",
			"provider_id", providerID, "ttl", l.ttl)
	}
}
