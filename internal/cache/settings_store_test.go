package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"regimeforge-bot/config"
	"regimeforge-bot/internal/logging"
)

type sample struct {
	Enabled  bool    `json:"enabled"`
	Leverage int     `json:"leverage"`
	Margin   float64 `json:"margin"`
}

func TestSettingsStoreMemoryOnly(t *testing.T) {
	s := NewSettingsStore(nil, logging.Nop())
	ctx := context.Background()

	var got sample
	ok, err := s.Load(ctx, "automation:settings", &got)
	if ok || err != nil {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	want := sample{Enabled: true, Leverage: 20, Margin: 30}
	if err := s.Save(ctx, "automation:settings", want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	ok, err = s.Load(ctx, "automation:settings", &got)
	if !ok || err != nil || got != want {
		t.Errorf("Load = %+v ok=%v err=%v", got, ok, err)
	}
	if s.Backend() != "memory" {
		t.Errorf("backend = %s", s.Backend())
	}
}

func TestSettingsStoreSurvivesDeadRedis(t *testing.T) {
	cs, err := NewCacheService(config.RedisConfig{Enabled: true, Address: "127.0.0.1:1", PoolSize: 1}, logging.Nop())
	if err != nil {
		t.Fatalf("NewCacheService: %v", err)
	}
	defer cs.Close()
	if cs.IsHealthy() {
		t.Skip("something is listening on 127.0.0.1:1")
	}

	s := NewSettingsStore(cs, logging.Nop())
	ctx := context.Background()
	if err := s.Save(ctx, "takeprofit:BTC", sample{Leverage: 5}); err != nil {
		t.Fatalf("Save with dead redis: %v", err)
	}
	var got sample
	if ok, err := s.Load(ctx, "takeprofit:BTC", &got); !ok || err != nil || got.Leverage != 5 {
		t.Errorf("Load = %+v ok=%v err=%v", got, ok, err)
	}
	if err := cs.SetRaw(ctx, "x", []byte("1"), 0); !errors.Is(err, ErrCacheUnavailable) {
		t.Errorf("SetRaw err = %v, want ErrCacheUnavailable", err)
	}
}

func TestNewCacheServiceDisabled(t *testing.T) {
	if _, err := NewCacheService(config.RedisConfig{}, logging.Nop()); err == nil {
		t.Error("expected error when redis is disabled")
	}
	var cs *CacheService
	if cs.IsHealthy() || cs.Probe(context.Background()) || cs.Close() != nil {
		t.Error("nil service should be unhealthy and closable")
	}
}

var errRedisDown = errors.New("connection refused")

// fakeRedis serves Get/Set/Ping from a map and fails every call while down
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	down bool
}

func (f *fakeRedis) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewStringResult("", errRedisDown)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewStatusResult("", errRedisDown)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewStatusResult("", errRedisDown)
	}
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Close() error { return nil }

func newFakeCache() (*CacheService, *fakeRedis) {
	f := &fakeRedis{data: make(map[string]string)}
	return &CacheService{
		client:      f,
		logger:      logging.Nop(),
		healthy:     true,
		maxFailures: 3,
	}, f
}

func (f *fakeRedis) stored(t *testing.T, key string) sample {
	t.Helper()
	f.mu.Lock()
	raw, ok := f.data[keyPrefix+key]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("%s not in redis", key)
	}
	var v sample
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decode %s: %v", key, err)
	}
	return v
}

func TestSettingsStoreRecoversAfterOutage(t *testing.T) {
	cs, f := newFakeCache()
	s := NewSettingsStore(cs, logging.Nop())
	ctx := context.Background()

	if err := s.Save(ctx, "automation:settings", sample{Leverage: 10}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := f.stored(t, "automation:settings"); got.Leverage != 10 {
		t.Fatalf("redis copy = %+v", got)
	}

	f.setDown(true)
	for i := 0; i < 3; i++ {
		s.Save(ctx, "automation:settings", sample{Leverage: 25})
	}
	if s.Backend() != "memory" {
		t.Fatalf("backend = %s after repeated failures, want memory", s.Backend())
	}
	var got sample
	if ok, err := s.Load(ctx, "automation:settings", &got); !ok || err != nil || got.Leverage != 25 {
		t.Errorf("Load during outage = %+v ok=%v err=%v", got, ok, err)
	}

	f.setDown(false)
	got = sample{}
	if ok, err := s.Load(ctx, "automation:settings", &got); !ok || err != nil || got.Leverage != 25 {
		t.Errorf("Load after recovery = %+v ok=%v err=%v, want the outage write", got, ok, err)
	}
	if s.Backend() != "redis" {
		t.Errorf("backend = %s after recovery, want redis", s.Backend())
	}
	if got := f.stored(t, "automation:settings"); got.Leverage != 25 {
		t.Errorf("outage write not flushed to redis: %+v", got)
	}
	if len(s.dirty) != 0 {
		t.Errorf("dirty keys left after flush: %v", s.dirty)
	}
}

func TestSettingsStoreStartsDegraded(t *testing.T) {
	cs, f := newFakeCache()
	cs.healthy = false
	f.data[keyPrefix+"takeprofit:BTC"] = `{"enabled":true,"leverage":3,"margin":0}`
	s := NewSettingsStore(cs, logging.Nop())

	var got sample
	ok, err := s.Load(context.Background(), "takeprofit:BTC", &got)
	if !ok || err != nil || got.Leverage != 3 {
		t.Errorf("Load = %+v ok=%v err=%v", got, ok, err)
	}
	if s.Backend() != "redis" {
		t.Errorf("backend = %s, want redis once the ping succeeds", s.Backend())
	}
}
