package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/breed-identifier/internal/classifier"
	"github.com/example/breed-identifier/internal/logging"
)

// Cache abstracts the Redis operations used for prediction caching to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// predictionCache stores ranked predictions keyed by image digest.
type predictionCache struct {
	cache          Cache
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func newPredictionCache(cache Cache, ttl time.Duration, logger *zap.Logger) *predictionCache {
	return &predictionCache{
		cache:          cache,
		ttl:            ttl,
		logger:         logger,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func predictionKey(digest string) string {
	return "prediction:" + digest
}

// lookup reports a hit only when a decodable entry exists. Cache failures
// are logged and treated as misses.
func (p *predictionCache) lookup(ctx context.Context, sessionID, digest string) ([]classifier.Prediction, bool) {
	if p == nil || p.cache == nil {
		return nil, false
	}
	var raw string
	err := p.withRetry(ctx, sessionID, "cache.get.prediction", func() error {
		value, err := p.cache.Get(ctx, predictionKey(digest))
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(p.logger, "cache.get.prediction", sessionID).Warn("failed to read cache", zap.Error(err))
		}
		return nil, false
	}

	var predictions []classifier.Prediction
	if err := json.Unmarshal([]byte(raw), &predictions); err != nil {
		logging.WithOperation(p.logger, "cache.get.prediction", sessionID).Warn("failed to decode cached predictions", zap.Error(err))
		return nil, false
	}
	return predictions, true
}

func (p *predictionCache) store(ctx context.Context, sessionID, digest string, predictions []classifier.Prediction) {
	if p == nil || p.cache == nil {
		return
	}
	serialized, err := json.Marshal(predictions)
	if err != nil {
		logging.WithOperation(p.logger, "cache.set.prediction", sessionID).Error("failed to serialize predictions", zap.Error(err))
		return
	}
	if err := p.withRetry(ctx, sessionID, "cache.set.prediction", func() error {
		return p.cache.Set(ctx, predictionKey(digest), string(serialized), p.ttl)
	}); err != nil {
		logging.WithOperation(p.logger, "cache.set.prediction", sessionID).Warn("failed to cache predictions", zap.Error(err))
	}
}

func (p *predictionCache) withRetry(ctx context.Context, sessionID, operation string, fn func() error) error {
	if p.retryAttempts <= 1 {
		return logging.NewOperationError(operation, sessionID, fn())
	}

	backoff := p.initialBackoff
	opLogger := logging.WithOperation(p.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < p.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= p.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == p.retryAttempts-1 {
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
