package perm

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestCacheRoundtrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	roles := []int64{3, 1}

	_, hit := cache.Get(ctx, roles, TargetEvent, int64p(7))
	require.False(t, hit)

	cache.Set(ctx, roles, TargetEvent, int64p(7), NewKindSet(KindRead, KindModify))

	kinds, hit := cache.Get(ctx, roles, TargetEvent, int64p(7))
	require.True(t, hit)
	require.Equal(t, NewKindSet(KindRead, KindModify), kinds)

	// Role order must not matter, the key sorts the role list.
	kinds, hit = cache.Get(ctx, []int64{1, 3}, TargetEvent, int64p(7))
	require.True(t, hit)
	require.True(t, kinds.Has(KindModify))

	// Type-wide entries live under their own key.
	_, hit = cache.Get(ctx, roles, TargetEvent, nil)
	require.False(t, hit)
}

func TestCacheInvalidateRetiresEverything(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	roles := []int64{2}

	cache.Set(ctx, roles, TargetEvent, int64p(7), NewKindSet(KindRead))
	cache.Set(ctx, roles, TargetIncident, nil, NewKindSet(KindRead))

	cache.Invalidate(ctx)

	_, hit := cache.Get(ctx, roles, TargetEvent, int64p(7))
	require.False(t, hit)
	_, hit = cache.Get(ctx, roles, TargetIncident, nil)
	require.False(t, hit)

	// New writes land in the new generation and are visible again.
	cache.Set(ctx, roles, TargetEvent, int64p(7), NewKindSet(KindRead))
	kinds, hit := cache.Get(ctx, roles, TargetEvent, int64p(7))
	require.True(t, hit)
	require.True(t, kinds.Has(KindRead))
}
