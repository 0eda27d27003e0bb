package cache

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/agilira/go-timecache"

	"github.com/l0p7/pluginrt/internal/metrics"
)

// DefaultJitter spreads entry expiry over [ttl, ttl*(1+DefaultJitter)].
const DefaultJitter = 0.1

// BuildFunc produces the instance context for one key. It receives a context
// detached from the requesting caller's cancellation.
type BuildFunc[V any] func(ctx context.Context) (V, error)

// Observer receives lookup and build outcomes. *metrics.Recorder satisfies it.
type Observer interface {
	ObserveCacheLookup(cache string, result metrics.CacheLookupOutcome)
	ObserveCacheBuild(cache string, result metrics.CacheBuildOutcome, duration time.Duration)
	ObserveCacheEntries(cache string, entries int)
}

// Options configures an instance context cache.
type Options struct {
	// Name labels metrics and logs, typically the plugin kind.
	Name string
	TTL  time.Duration
	// Jitter defaults to DefaultJitter when zero; negative disables jitter.
	Jitter   float64
	Observer Observer
	Logger   *slog.Logger

	now  func() time.Time
	rand func() float64
}

type instanceEntry[V any] struct {
	future    *Future[V]
	createdAt time.Time
	ttl       time.Duration
}

// live reports whether the entry can serve lookups at now. Pending builds are
// always live; a stuck build holds its key until it settles.
func (e *instanceEntry[V]) live(now time.Time) bool {
	if !e.future.settled() {
		return true
	}
	return now.Before(e.createdAt.Add(e.ttl))
}

// InstanceCache memoizes one build per key with single-flight semantics: the
// entry holding the pending future is installed before the build runs, so
// every concurrent lookup for that key joins the same build.
type InstanceCache[V any] struct {
	name     string
	baseTTL  time.Duration
	jitter   float64
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
	rand     func() float64

	mu      sync.Mutex
	entries map[string]*instanceEntry[V]
}

// NewInstanceCache constructs an empty cache. Each plugin kind owns one.
func NewInstanceCache[V any](opts Options) *InstanceCache[V] {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	jitter := opts.Jitter
	switch {
	case jitter == 0:
		jitter = DefaultJitter
	case jitter < 0:
		jitter = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.now
	if now == nil {
		now = timecache.CachedTime
	}
	random := opts.rand
	if random == nil {
		random = rand.Float64
	}
	return &InstanceCache[V]{
		name:     opts.Name,
		baseTTL:  ttl,
		jitter:   jitter,
		observer: opts.Observer,
		logger:   logger.With(slog.String("agent", "instance_cache"), slog.String("cache", opts.Name)),
		now:      now,
		rand:     random,
		entries:  make(map[string]*instanceEntry[V]),
	}
}

// GetOrBuild waits for the entry for key, starting a build when forceReload is
// set or no live entry exists. ctx bounds only this caller's wait.
func (c *InstanceCache[V]) GetOrBuild(ctx context.Context, key string, build BuildFunc[V], forceReload bool) (V, error) {
	return c.Future(ctx, key, build, forceReload).Wait(ctx)
}

// Future returns the future for key without waiting on it. When a build is
// needed it has already been started by the time Future returns.
func (c *InstanceCache[V]) Future(ctx context.Context, key string, build BuildFunc[V], forceReload bool) *Future[V] {
	c.mu.Lock()
	now := c.now()
	if !forceReload {
		if existing, ok := c.entries[key]; ok && existing.live(now) {
			c.mu.Unlock()
			if existing.future.settled() {
				c.observeLookup(metrics.CacheLookupHit)
			} else {
				c.observeLookup(metrics.CacheLookupShared)
			}
			return existing.future
		}
	}

	entry := &instanceEntry[V]{
		future:    newFuture[V](),
		createdAt: now,
		ttl:       c.effectiveTTL(),
	}
	c.entries[key] = entry
	c.mu.Unlock()

	if forceReload {
		c.observeLookup(metrics.CacheLookupForced)
	} else {
		c.observeLookup(metrics.CacheLookupMiss)
	}

	go c.run(context.WithoutCancel(ctx), key, entry, build)
	return entry.future
}

// Invalidate drops the entry for key. Callers already waiting on its future
// still receive that build's outcome.
func (c *InstanceCache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of installed entries, pending or resolved.
func (c *InstanceCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// keys lists installed keys in sorted order.
func (c *InstanceCache[V]) keys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Prune removes resolved entries past their TTL and returns how many were
// dropped.
func (c *InstanceCache[V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !entry.live(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// RunJanitor prunes expired entries every interval until ctx ends and reports
// the remaining entry count after each sweep.
func (c *InstanceCache[V]) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.baseTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Prune(); removed > 0 {
				c.logger.Debug("pruned expired instance contexts", slog.Int("removed", removed))
			}
			if c.observer != nil {
				c.observer.ObserveCacheEntries(c.name, c.Len())
			}
		}
	}
}

func (c *InstanceCache[V]) run(ctx context.Context, key string, entry *instanceEntry[V], build BuildFunc[V]) {
	start := time.Now()
	value, err := safeBuild(ctx, build)
	elapsed := time.Since(start)

	if err != nil {
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && current == entry {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.observeBuild(metrics.CacheBuildFailure, elapsed)
		c.logger.Warn("instance context build failed",
			slog.String("key", key),
			slog.Duration("latency", elapsed),
			slog.Any("error", err),
		)
		entry.future.resolve(value, err)
		return
	}

	c.observeBuild(metrics.CacheBuildSuccess, elapsed)
	c.logger.Debug("instance context built",
		slog.String("key", key),
		slog.Duration("latency", elapsed),
		slog.Duration("ttl", entry.ttl),
	)
	entry.future.resolve(value, nil)
}

func safeBuild[V any](ctx context.Context, build BuildFunc[V]) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache: build panicked: %v", r)
		}
	}()
	if build == nil {
		return value, fmt.Errorf("cache: build function missing")
	}
	return build(ctx)
}

func (c *InstanceCache[V]) effectiveTTL() time.Duration {
	if c.jitter <= 0 {
		return c.baseTTL
	}
	return time.Duration(float64(c.baseTTL) * (1 + c.jitter*c.rand()))
}

func (c *InstanceCache[V]) observeLookup(result metrics.CacheLookupOutcome) {
	if c.observer != nil {
		c.observer.ObserveCacheLookup(c.name, result)
	}
}

func (c *InstanceCache[V]) observeBuild(result metrics.CacheBuildOutcome, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveCacheBuild(c.name, result, elapsed)
	}
}
