package globalctx

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is one cached sub-feed value. Entries are immutable once published;
// every refresh stores a new Entry so readers never see a partial update.
type Entry[T any] struct {
	Value         T             `json:"value"`
	FetchedAt     time.Time     `json:"fetched_at"`
	TTL           time.Duration `json:"ttl"`
	LastAttemptAt time.Time     `json:"last_attempt_at"`
	Stale         bool          `json:"stale"`
	Valid         bool          `json:"valid"` // false until the first successful fetch
}

// Fresh reports whether the value is inside its TTL at now
func (e Entry[T]) Fresh(now time.Time) bool {
	return e.Valid && now.Sub(e.FetchedAt) < e.TTL
}

// fetchFunc loads a new value. prev is the last published entry.
type fetchFunc[T any] func(ctx context.Context, prev Entry[T]) (T, error)

// feed owns a single sub-feed and is its only writer
type feed[T any] struct {
	name        string
	ttl         time.Duration
	minInterval time.Duration
	fetch       fetchFunc[T]
	now         func() time.Time

	cur   atomic.Pointer[Entry[T]]
	group singleflight.Group

	hits, stale, refreshes, failures atomic.Int64
}

func newFeed[T any](name string, ttl, minInterval time.Duration, fetch fetchFunc[T], now func() time.Time) *feed[T] {
	f := &feed[T]{
		name:        name,
		ttl:         ttl,
		minInterval: minInterval,
		fetch:       fetch,
		now:         now,
	}
	f.cur.Store(&Entry[T]{TTL: ttl})
	return f
}

// peek returns the latest published entry without I/O
func (f *feed[T]) peek() Entry[T] {
	e := *f.cur.Load()
	if !e.Fresh(f.now()) {
		e.Stale = true
	}
	return e
}

// get serves from cache, backs off inside the min interval, or refreshes.
// Concurrent callers share one in-flight refresh.
func (f *feed[T]) get(ctx context.Context) (Entry[T], error) {
	if e, ok := f.cached(); ok {
		return e, nil
	}

	v, err, _ := f.group.Do(f.name, func() (interface{}, error) {
		// Another caller may have refreshed while we waited
		if e, ok := f.cached(); ok {
			return e, nil
		}
		return f.refresh(ctx)
	})
	return v.(Entry[T]), err
}

// cached returns the entry to serve without fetching, if any
func (f *feed[T]) cached() (Entry[T], bool) {
	e := *f.cur.Load()
	now := f.now()

	if e.Fresh(now) {
		f.hits.Add(1)
		return e, true
	}
	if !e.LastAttemptAt.IsZero() && now.Sub(e.LastAttemptAt) < f.minInterval {
		f.stale.Add(1)
		e.Stale = true
		return e, true
	}
	return e, false
}

func (f *feed[T]) refresh(ctx context.Context) (Entry[T], error) {
	prev := *f.cur.Load()
	attempt := f.now()
	f.refreshes.Add(1)

	value, err := f.fetch(ctx, prev)
	if err != nil {
		f.failures.Add(1)
		next := prev
		next.Stale = true
		next.LastAttemptAt = attempt
		f.cur.Store(&next)
		return next, err
	}

	next := Entry[T]{
		Value:         value,
		FetchedAt:     f.now(),
		TTL:           f.ttl,
		LastAttemptAt: attempt,
		Valid:         true,
	}
	f.cur.Store(&next)
	return next, nil
}

// FeedStats counts cache outcomes for one sub-feed
type FeedStats struct {
	Hits      int64 `json:"hits"`
	StaleHits int64 `json:"stale_hits"`
	Refreshes int64 `json:"refreshes"`
	Failures  int64 `json:"failures"`
}

func (f *feed[T]) stats() FeedStats {
	return FeedStats{
		Hits:      f.hits.Load(),
		StaleHits: f.stale.Load(),
		Refreshes: f.refreshes.Load(),
		Failures:  f.failures.Load(),
	}
}
