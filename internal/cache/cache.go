package cache

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/ordersync/internal/metrics"
)

// Record is anything with a stable id.
type Record interface {
	RecordID() string
}

// Fetcher loads the authoritative sequence for a partition.
type Fetcher[T Record] func(ctx context.Context, key string) ([]T, error)

// Observer receives the fresh sequence of a partition after it changes.
type Observer[T Record] func(key string, records []T)

// Options configures a Cache.
type Options struct {
	Name           string // metric label
	CoalesceMisses bool   // share one fetch between concurrent misses on a key
}

// DefaultOptions returns sensible defaults.
func DefaultOptions(name string) Options {
	return Options{Name: name, CoalesceMisses: true}
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Partitions  int
	Records     int
	Hits        int64
	Misses      int64
	FetchErrors int64
}

type observer[T Record] struct {
	id int
	fn Observer[T]
}

// change is a partition snapshot taken under the lock for notification.
type change[T Record] struct {
	key  string
	recs []T
}

// Cache is a read-through cache of record sequences keyed by partition.
type Cache[T Record] struct {
	opts   Options
	fetch  Fetcher[T]
	logger *slog.Logger

	group singleflight.Group

	mu         sync.RWMutex
	partitions map[string][]T
	epoch      uint64 // bumped by Clear; fetches started earlier are not stored
	observers  []observer[T]
	nextObs    int

	hits        atomic.Int64
	misses      atomic.Int64
	fetchErrors atomic.Int64
}

// New creates an empty cache backed by fetch.
func New[T Record](fetch Fetcher[T], opts Options, logger *slog.Logger) *Cache[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = "default"
	}

	return &Cache[T]{
		opts:       opts,
		fetch:      fetch,
		logger:     logger.With("cache", opts.Name),
		partitions: make(map[string][]T),
	}
}

// Get returns the partition for key, fetching it on a miss. Fetch errors are
// returned and nothing is stored, so the next call fetches again.
func (c *Cache[T]) Get(ctx context.Context, key string) ([]T, error) {
	if recs, ok := c.Peek(key); ok {
		c.hits.Add(1)
		metrics.CacheHits.WithLabelValues(c.opts.Name).Inc()
		return recs, nil
	}

	c.misses.Add(1)
	metrics.CacheMisses.WithLabelValues(c.opts.Name).Inc()

	if !c.opts.CoalesceMisses {
		return c.load(ctx, key)
	}

	// The shared fetch outlives any single caller; each caller still stops
	// waiting when its own context ends.
	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(context.WithoutCancel(ctx), key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("miss coalesced with in-flight fetch", "key", key)
		}
		return slices.Clone(res.Val.([]T)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Refresh fetches key unconditionally, replaces the partition and notifies
// observers.
func (c *Cache[T]) Refresh(ctx context.Context, key string) ([]T, error) {
	return c.load(ctx, key)
}

func (c *Cache[T]) load(ctx context.Context, key string) ([]T, error) {
	c.mu.RLock()
	epoch := c.epoch
	c.mu.RUnlock()

	recs, err := c.fetch(ctx, key)
	if err != nil {
		c.fetchErrors.Add(1)
		metrics.CacheFetchErrors.WithLabelValues(c.opts.Name).Inc()
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	if recs == nil {
		recs = []T{}
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Debug("cache cleared during fetch, result not stored", "key", key)
		return slices.Clone(recs), nil
	}
	c.partitions[key] = slices.Clone(recs)
	obs := c.snapshotObserversLocked()
	c.mu.Unlock()

	c.notify(obs, key, recs)
	return slices.Clone(recs), nil
}

// Peek returns a copy of the cached partition without fetching.
func (c *Cache[T]) Peek(key string) ([]T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	recs, ok := c.partitions[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(recs), true
}

// Set replaces a partition and notifies observers.
func (c *Cache[T]) Set(key string, recs []T) {
	c.mu.Lock()
	c.partitions[key] = slices.Clone(recs)
	obs := c.snapshotObserversLocked()
	current := slices.Clone(recs)
	c.mu.Unlock()

	c.notify(obs, key, current)
}

// Upsert replaces the record with the same id in partition key, or appends it.
// Partitions that were never loaded are left alone so a later Get still
// fetches the complete sequence. Reports whether the cache changed.
func (c *Cache[T]) Upsert(key string, rec T) bool {
	c.mu.Lock()
	recs, ok := c.partitions[key]
	if !ok {
		c.mu.Unlock()
		return false
	}

	id := rec.RecordID()
	if i := slices.IndexFunc(recs, func(r T) bool { return r.RecordID() == id }); i >= 0 {
		recs[i] = rec
	} else {
		recs = append(recs, rec)
	}
	c.partitions[key] = recs
	obs := c.snapshotObserversLocked()
	current := slices.Clone(recs)
	c.mu.Unlock()

	c.notify(obs, key, current)
	return true
}

// Delete removes the record with id from whichever partitions hold it and
// returns the number removed.
func (c *Cache[T]) Delete(id string) int {
	changes, obs := c.deleteRecord(id)
	c.notifyChanges(obs, changes)
	return len(changes)
}

func (c *Cache[T]) deleteRecord(id string) ([]change[T], []observer[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changes []change[T]
	for key, recs := range c.partitions {
		i := slices.IndexFunc(recs, func(r T) bool { return r.RecordID() == id })
		if i < 0 {
			continue
		}
		recs = slices.Delete(recs, i, i+1)
		c.partitions[key] = recs
		changes = append(changes, change[T]{key: key, recs: slices.Clone(recs)})
	}
	if len(changes) == 0 {
		return nil, nil
	}
	return changes, c.snapshotObserversLocked()
}

// Mutate applies fn to every cached record with id, across all partitions,
// and returns the number of records changed. A panic in fn propagates to the
// caller with the cache unlocked; edits made before the panic are kept.
func (c *Cache[T]) Mutate(id string, fn func(*T)) int {
	changes, obs, n := c.mutate(id, fn)
	c.notifyChanges(obs, changes)
	return n
}

func (c *Cache[T]) mutate(id string, fn func(*T)) ([]change[T], []observer[T], int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changes []change[T]
	n := 0
	for key, recs := range c.partitions {
		touched := false
		for i := range recs {
			if recs[i].RecordID() != id {
				continue
			}
			fn(&recs[i])
			touched = true
			n++
		}
		if touched {
			changes = append(changes, change[T]{key: key, recs: slices.Clone(recs)})
		}
	}
	if len(changes) == 0 {
		return nil, nil, 0
	}
	return changes, c.snapshotObserversLocked(), n
}

// Find returns the first cached record with id and its partition key.
func (c *Cache[T]) Find(id string) (T, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for key, recs := range c.partitions {
		for _, r := range recs {
			if r.RecordID() == id {
				return r, key, true
			}
		}
	}
	var zero T
	return zero, "", false
}

// OnUpdate registers fn for partition changes and returns a function that
// removes it.
func (c *Cache[T]) OnUpdate(fn Observer[T]) (cancel func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers = append(c.observers, observer[T]{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.observers = slices.DeleteFunc(c.observers, func(o observer[T]) bool { return o.id == id })
	}
}

// Clear drops every partition.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partitions = make(map[string][]T)
	c.epoch++
}

// Keys returns the loaded partition keys in sorted order.
func (c *Cache[T]) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.partitions))
	for k := range c.partitions {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Stats returns current statistics.
func (c *Cache[T]) Stats() Stats {
	c.mu.RLock()
	records := 0
	for _, recs := range c.partitions {
		records += len(recs)
	}
	partitions := len(c.partitions)
	c.mu.RUnlock()

	return Stats{
		Partitions:  partitions,
		Records:     records,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		FetchErrors: c.fetchErrors.Load(),
	}
}

func (c *Cache[T]) snapshotObserversLocked() []observer[T] {
	return slices.Clone(c.observers)
}

func (c *Cache[T]) notifyChanges(obs []observer[T], changes []change[T]) {
	for _, ch := range changes {
		c.notify(obs, ch.key, ch.recs)
	}
}

func (c *Cache[T]) notify(obs []observer[T], key string, recs []T) {
	for _, o := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("cache observer panicked", "key", key, "panic", r)
				}
			}()
			o.fn(key, slices.Clone(recs))
		}()
	}
}
