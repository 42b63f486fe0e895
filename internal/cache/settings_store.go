package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"

	"regimeforge-bot/internal/logging"
)

// SettingsStore persists JSON-encoded settings. Every write lands in memory
// and, when healthy, in Redis. Keys whose latest value has not reached Redis
// are dirty: reads serve them from memory and they are flushed as soon as
// Redis answers again.
type SettingsStore struct {
	redis  *CacheService
	logger *logging.Logger

	mu    sync.RWMutex
	mem   map[string][]byte
	dirty map[string]struct{}
}

// NewSettingsStore creates a store. redis may be nil for memory-only.
func NewSettingsStore(redis *CacheService, logger *logging.Logger) *SettingsStore {
	return &SettingsStore{
		redis:  redis,
		logger: logger.WithComponent("settings-store"),
		mem:    make(map[string][]byte),
		dirty:  make(map[string]struct{}),
	}
}

// Load decodes key into dst. It reports false when the key was never saved.
func (s *SettingsStore) Load(ctx context.Context, key string, dst interface{}) (bool, error) {
	s.sync(ctx)

	s.mu.RLock()
	_, dirty := s.dirty[key]
	s.mu.RUnlock()

	if !dirty && s.redis.Probe(ctx) {
		err := s.redis.GetJSON(ctx, key, dst)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, ErrSettingNotFound):
		default:
			s.logger.Warn("Redis read failed, using memory copy", "key", key, "error", err)
		}
	}

	s.mu.RLock()
	data, ok := s.mem[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// Save stores v under key. A Redis failure is logged, not returned, since
// the memory copy still serves this process and is flushed on recovery.
func (s *SettingsStore) Save(ctx context.Context, key string, v interface{}) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	s.mu.Lock()
	s.mem[key] = data
	if s.redis != nil {
		s.dirty[key] = struct{}{}
	}
	s.mu.Unlock()

	s.sync(ctx)
	return nil
}

// sync writes dirty keys to Redis once it is reachable
func (s *SettingsStore) sync(ctx context.Context) {
	s.mu.RLock()
	pending := make(map[string][]byte, len(s.dirty))
	for k := range s.dirty {
		pending[k] = s.mem[k]
	}
	s.mu.RUnlock()
	if len(pending) == 0 || !s.redis.Probe(ctx) {
		return
	}

	for key, data := range pending {
		if err := s.redis.SetRaw(ctx, key, data, 0); err != nil {
			s.logger.Warn("Redis write failed, kept in memory", "key", key, "error", err)
			continue
		}
		s.mu.Lock()
		if string(s.mem[key]) == string(data) {
			delete(s.dirty, key)
		}
		s.mu.Unlock()
	}
}

// Backend names where settings are currently written
func (s *SettingsStore) Backend() string {
	if s.redis.IsHealthy() {
		return "redis"
	}
	return "memory"
}
