// Package cache provides Redis-backed persistence for operator settings with
// an in-memory fallback when Redis is unavailable.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"regimeforge-bot/config"
	"regimeforge-bot/internal/logging"
)

// redisClient is the subset of *redis.Client the service uses
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// CacheService wraps a Redis client with a failure counter. After
// maxFailures consecutive errors it reports unhealthy and short-circuits
// until a ping, at most once per checkInterval, succeeds again.
type CacheService struct {
	client       redisClient
	logger       *logging.Logger
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

const keyPrefix = "regimeforge:"

// NewCacheService connects to Redis. A failed initial ping returns the
// service in degraded mode rather than an error.
func NewCacheService(cfg config.RedisConfig, logger *logging.Logger) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, errors.New("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:        client,
		logger:        logger.WithComponent("cache"),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		cs.logger.Warn("Initial Redis connection failed, running degraded", "address", cfg.Address, "error", err)
		cs.lastCheck = time.Now()
		return cs, nil
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	cs.logger.Info("Redis connected", "address", cfg.Address)
	return cs, nil
}

// IsHealthy returns whether Redis is currently available
func (cs *CacheService) IsHealthy() bool {
	if cs == nil {
		return false
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			cs.logger.Warn("Redis marked unhealthy", "failures", cs.failureCount)
			cs.lastCheck = time.Now()
		}
		cs.healthy = false
	}
}

func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy {
		cs.logger.Info("Redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
	cs.lastCheck = time.Now()
}

// Probe reports whether Redis is usable. While unhealthy it pings at most
// once per checkInterval and flips back to healthy on success.
func (cs *CacheService) Probe(ctx context.Context) bool {
	if cs == nil {
		return false
	}
	cs.mu.Lock()
	if cs.healthy {
		cs.mu.Unlock()
		return true
	}
	due := time.Since(cs.lastCheck) >= cs.checkInterval
	if due {
		cs.lastCheck = time.Now()
	}
	cs.mu.Unlock()
	if !due {
		return false
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := cs.client.Ping(pingCtx).Err(); err != nil {
		return false
	}
	cs.recordSuccess()
	return true
}

// GetJSON loads key into dest. A missing key returns ErrSettingNotFound.
func (cs *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) error {
	if !cs.Probe(ctx) {
		return ErrCacheUnavailable
	}

	data, err := cs.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSettingNotFound
		}
		cs.recordFailure()
		return fmt.Errorf("redis get failed: %w", err)
	}
	cs.recordSuccess()

	if err := sonic.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// SetRaw stores already-encoded JSON under key. ttl 0 keeps it forever.
func (cs *CacheService) SetRaw(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if !cs.Probe(ctx) {
		return ErrCacheUnavailable
	}
	if err := cs.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}
	cs.recordSuccess()
	return nil
}

// Ping checks Redis connectivity
func (cs *CacheService) Ping(ctx context.Context) error {
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.recordFailure()
		return err
	}
	cs.recordSuccess()
	return nil
}

// Close closes the Redis connection
func (cs *CacheService) Close() error {
	if cs == nil || cs.client == nil {
		return nil
	}
	return cs.client.Close()
}
