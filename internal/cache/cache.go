// Package cache implements the tiered cache in front of the durable
// link store: a process-local LRU tier over a shared Redis tier.
//
// The cache is a lossy accelerator, never the system of record. Every
// entry is reconstructible from the durable store, substrate failures
// degrade to misses, and capacity eviction is a different thing from
// invalidation: an evicted entry is a future miss, an invalidated entry
// is a correctness decision taken by the caller.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/shortlink/internal/shortlink"
	"go.uber.org/zap"
)

const keyPrefix = "link:"

// Entry is a cached snapshot of a short link. The snapshot fields are
// immutable; usage and hit counters are advisory and may run ahead of
// or briefly behind the durable store.
type Entry struct {
	Code        string
	Destination string
	Active      bool
	ExpiresAt   *time.Time
	FreshUntil  time.Time
	CachedAt    time.Time

	usage atomic.Int64
	hits  atomic.Int64
}

// UsageCount returns the cached usage counter.
func (e *Entry) UsageCount() int64 {
	return e.usage.Load()
}

// Hits returns how many lookups hit this entry since it was cached.
func (e *Entry) Hits() int64 {
	return e.hits.Load()
}

// Config controls cache sizing and the popularity-scaled TTL policy.
//
// The freshness deadline of a populated entry is
// BaseTTL * min(1 + hits/HitsPerStep, MaxTTLFactor), where hits is the
// hit count accumulated during the entry's previous residency. Popular
// entries earn longer residency without starving cold ones, and the
// factor ceiling bounds TTL inflation.
type Config struct {
	Capacity      int
	BaseTTL       time.Duration
	MaxTTLFactor  float64
	HitsPerStep   int64
	FlushInterval time.Duration
}

// Cache accelerates code lookups. It owns its entries exclusively and
// reconciles with the durable store only through explicit Populate and
// Invalidate calls.
type Cache struct {
	local  *lru.Cache[string, *Entry]
	client *redis.Client // nil runs the cache local-only
	repo   shortlink.Repository
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]int64 // usage deltas awaiting a durable flush

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Cache. A nil Redis client disables the shared tier,
// which is useful for tests and single-instance deployments. repo
// receives the scheduled durable usage increments.
func New(client *redis.Client, repo shortlink.Repository, cfg Config, logger *zap.Logger) (*Cache, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", cfg.Capacity)
	}

	if cfg.BaseTTL <= 0 {
		return nil, fmt.Errorf("cache base TTL must be positive, got %s", cfg.BaseTTL)
	}

	if cfg.MaxTTLFactor < 1 {
		cfg.MaxTTLFactor = 1
	}

	local, err := lru.New[string, *Entry](cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	c := &Cache{
		local:   local,
		client:  client,
		repo:    repo,
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]int64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go c.flushLoop()

	return c, nil
}

// Lookup returns the cached entry for code if one is present and still
// inside its freshness deadline. A substrate failure behaves as a miss;
// the caller falls back to the durable store and calls Populate.
func (c *Cache) Lookup(ctx context.Context, code string) (*Entry, bool) {
	now := time.Now()

	if entry, ok := c.local.Get(code); ok {
		if now.Before(entry.FreshUntil) {
			entry.hits.Add(1)

			return entry, true
		}
		// Stale entries stay in place so Populate can read their hit
		// count as the popularity signal for the next residency.
	}

	entry, ok := c.lookupShared(ctx, code, now)
	if !ok {
		return nil, false
	}

	c.local.Add(code, entry)
	entry.hits.Add(1)

	return entry, true
}

func (c *Cache) lookupShared(ctx context.Context, code string, now time.Time) (*Entry, bool) {
	if c.client == nil {
		return nil, false
	}

	pipe := c.client.Pipeline()
	fields := pipe.HGetAll(ctx, keyPrefix+code)
	ttl := pipe.PTTL(ctx, keyPrefix+code)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("cache tier unreachable, degrading to miss",
			zap.String("code", code),
			zap.Error(err),
		)

		return nil, false
	}

	values := fields.Val()
	if len(values) == 0 {
		return nil, false
	}

	entry := &Entry{
		Code:        code,
		Destination: values["destination"],
		Active:      values["active"] == "1",
		FreshUntil:  now.Add(ttl.Val()),
		CachedAt:    now,
	}

	if nanos, err := strconv.ParseInt(values["expires_at"], 10, 64); err == nil && nanos > 0 {
		expires := time.Unix(0, nanos)
		entry.ExpiresAt = &expires
	}

	if usage, err := strconv.ParseInt(values["usage"], 10, 64); err == nil {
		entry.usage.Store(usage)
	}

	return entry, true
}

// Populate inserts or refreshes the cache entry for a link. The
// freshness deadline scales with the hit frequency recorded during the
// entry's previous residency, bounded by the configured ceiling.
// Substrate failures are logged and swallowed.
func (c *Cache) Populate(ctx context.Context, link *shortlink.ShortLink) {
	now := time.Now()

	var previousHits int64
	if old, ok := c.local.Peek(link.Code); ok {
		previousHits = old.hits.Load()
	}

	ttl := c.dynamicTTL(previousHits)

	entry := &Entry{
		Code:        link.Code,
		Destination: link.Destination,
		Active:      link.Active,
		FreshUntil:  now.Add(ttl),
		CachedAt:    now,
	}

	if link.ExpiresAt != nil {
		expires := *link.ExpiresAt
		entry.ExpiresAt = &expires
	}

	entry.usage.Store(link.UsageCount)

	// Reaching capacity evicts the least-recently-used entry here.
	c.local.Add(link.Code, entry)

	if c.client == nil {
		return
	}

	var expiresAt int64
	if entry.ExpiresAt != nil {
		expiresAt = entry.ExpiresAt.UnixNano()
	}

	active := "0"
	if entry.Active {
		active = "1"
	}

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, keyPrefix+link.Code, map[string]interface{}{
		"destination": entry.Destination,
		"active":      active,
		"expires_at":  expiresAt,
		"usage":       link.UsageCount,
		"cached_at":   now.UnixNano(),
	})
	pipe.PExpire(ctx, keyPrefix+link.Code, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("cache populate failed",
			zap.String("code", link.Code),
			zap.Error(err),
		)
	}
}

// Invalidate unconditionally removes the entry from both tiers. An
// absent entry is a no-op, not an error: deactivation events originate
// externally and may race with population.
func (c *Cache) Invalidate(ctx context.Context, code string) {
	c.local.Remove(code)

	if c.client == nil {
		return
	}

	if err := c.client.Del(ctx, keyPrefix+code).Err(); err != nil {
		c.logger.Warn("cache invalidate failed",
			zap.String("code", code),
			zap.Error(err),
		)
	}
}

// IncrementUsage bumps the cached usage counter and schedules a durable
// increment. The hit path only touches process memory: the delta is
// drained to the shared tier and the durable store by the flush loop
// and on shutdown. The cached value is advisory.
func (c *Cache) IncrementUsage(_ context.Context, code string) {
	if entry, ok := c.local.Peek(code); ok {
		entry.usage.Add(1)
	}

	c.mu.Lock()
	c.pending[code]++
	c.mu.Unlock()
}

// Len returns the number of entries in the local tier.
func (c *Cache) Len() int {
	return c.local.Len()
}

func (c *Cache) dynamicTTL(hits int64) time.Duration {
	factor := 1.0
	if c.cfg.HitsPerStep > 0 {
		factor += float64(hits) / float64(c.cfg.HitsPerStep)
	}

	if factor > c.cfg.MaxTTLFactor {
		factor = c.cfg.MaxTTLFactor
	}

	return time.Duration(float64(c.cfg.BaseTTL) * factor)
}

func (c *Cache) flushLoop() {
	defer close(c.done)

	interval := c.cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.flush(context.Background())
		}
	}
}

// flush drains the pending usage deltas into the shared tier and the
// durable store. Durable deltas that fail to flush are requeued for the
// next cycle; the shared-tier bump is advisory and never retried, the
// durable store stays authoritative either way.
func (c *Cache) flush(ctx context.Context) {
	c.mu.Lock()
	batch := c.pending
	c.pending = make(map[string]int64)
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if c.client != nil {
		pipe := c.client.Pipeline()
		for code, delta := range batch {
			if delta > 0 {
				pipe.HIncrBy(ctx, keyPrefix+code, "usage", delta)
			}
		}

		if _, err := pipe.Exec(ctx); err != nil {
			c.logger.Warn("shared tier usage flush failed", zap.Error(err))
		}
	}

	for code, delta := range batch {
		if delta <= 0 {
			continue
		}

		if err := c.repo.IncrementUsage(ctx, code, delta); err != nil {
			c.logger.Warn("durable usage flush failed",
				zap.String("code", code),
				zap.Int64("delta", delta),
				zap.Error(err),
			)

			c.mu.Lock()
			c.pending[code] += delta
			c.mu.Unlock()
		}
	}
}

// Shutdown stops the flush loop and drains any pending usage deltas,
// best effort, so a clean shutdown never loses counted redirects. It is
// safe to call more than once.
func (c *Cache) Shutdown() error {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.flush(ctx)

	return nil
}
