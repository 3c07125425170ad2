package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// RedisConfig configures the distributed locker
type RedisConfig struct {
	Prefix       string
	TTL          time.Duration
	RetryBackoff time.Duration
}

// RedisLocker is a port.KeyLocker shared by every replica connected to the same Redis
type RedisLocker struct {
	client *redislock.Client
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedisLocker creates a locker on top of an existing go-redis client
func NewRedisLocker(rdb redis.UniversalClient, cfg RedisConfig, logger *zap.Logger) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "sms-orchestrator:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		cfg:    cfg,
		logger: logger,
	}
}

// Lock retries until the key is obtained or ctx is done.
// The lease expires after TTL if the holder dies without unlocking.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.TTL)
		defer cancel()
	}

	lk, err := l.client.Obtain(ctx, l.cfg.Prefix+key, l.cfg.TTL, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.cfg.RetryBackoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: lock %s is held elsewhere", entity.ErrConflict, key)
	}
	if err != nil {
		l.logger.Error("Failed to obtain redis lock", zap.String("key", key), zap.Error(err))
		return nil, entity.NewServiceUnavailableError("redis", "obtain lock", err)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lk.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Error("Failed to release redis lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// Verify interface compliance
var _ port.KeyLocker = (*RedisLocker)(nil)
