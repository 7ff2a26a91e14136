package perm

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheGenKey = "perm:gen"

// Cache memoizes resolved permission sets in Redis for a short window.
// Any grant mutation bumps a generation counter, which retires every
// cached entry at once; stale keys age out via TTL.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics LookupCounter
}

// LookupCounter records cache hit/miss outcomes for observability.
type LookupCounter interface {
	CountCacheLookup(hit bool)
}

// NewCache constructs a Cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// SetMetrics attaches an optional lookup counter.
func (c *Cache) SetMetrics(m LookupCounter) {
	c.metrics = m
}

// Get fetches a cached permission set. Redis errors degrade to a miss.
func (c *Cache) Get(ctx context.Context, roleIDs []int64, t TargetType, id *int64) (KindSet, bool) {
	kinds, hit := c.get(ctx, roleIDs, t, id)
	if c.metrics != nil {
		c.metrics.CountCacheLookup(hit)
	}
	return kinds, hit
}

func (c *Cache) get(ctx context.Context, roleIDs []int64, t TargetType, id *int64) (KindSet, bool) {
	payload, err := c.client.Get(ctx, c.key(ctx, roleIDs, t, id)).Bytes()
	if err != nil {
		return nil, false
	}
	var kinds []Kind
	if err := json.Unmarshal(payload, &kinds); err != nil {
		return nil, false
	}
	return NewKindSet(kinds...), true
}

// Set stores a resolved permission set.
func (c *Cache) Set(ctx context.Context, roleIDs []int64, t TargetType, id *int64, kinds KindSet) {
	payload, err := json.Marshal(kinds.Slice())
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(ctx, roleIDs, t, id), payload, c.ttl).Err()
}

// Invalidate retires all cached permission sets.
func (c *Cache) Invalidate(ctx context.Context) {
	_ = c.client.Incr(ctx, cacheGenKey).Err()
}

func (c *Cache) key(ctx context.Context, roleIDs []int64, t TargetType, id *int64) string {
	gen, err := c.client.Get(ctx, cacheGenKey).Result()
	if err != nil {
		gen = "0"
	}

	var b strings.Builder
	b.WriteString("perm:v")
	b.WriteString(gen)
	b.WriteByte(':')
	b.WriteString(string(t))
	b.WriteByte(':')
	if id != nil {
		b.WriteString(strconv.FormatInt(*id, 10))
	} else {
		b.WriteByte('*')
	}
	sorted := append([]int64(nil), roleIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, r := range sorted {
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(r, 10))
	}
	return b.String()
}
