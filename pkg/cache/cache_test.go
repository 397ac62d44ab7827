package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type payload struct {
	Sharpe float64 `json:"sharpe"`
	Trades int     `json:"trades"`
}

func TestMemoryCacheRoundTripsStructs(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", payload{Sharpe: 1.25, Trades: 7}, time.Minute))

	var got payload
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.Equal(t, payload{Sharpe: 1.25, Trades: 7}, got)

	assert.ErrorIs(t, mc.Get(ctx, "missing", &got), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryCleanup(0), WithMemoryClock(clk.now))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", "v", time.Minute))
	ok, _ := mc.Exists(ctx, "k")
	assert.True(t, ok)

	clk.advance(time.Minute)
	ok, _ = mc.Exists(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryCleanup(0), WithMemoryClock(clk.now), WithMemoryMaxSize(2))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	clk.advance(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	clk.advance(time.Second)

	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	clk.advance(time.Second)
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &s))
	assert.Equal(t, "1", s)
}

func TestMemoryCacheLock(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()

	ok, err := mc.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = mc.TryLock(ctx, "job", time.Minute)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, "job"))
	ok, _ = mc.TryLock(ctx, "job", time.Minute)
	assert.True(t, ok)
}

func TestLayeredCacheFillsL1FromL2(t *testing.T) {
	ctx := context.Background()
	l2 := NewMemoryCache(WithMemoryCleanup(0))
	lc := NewLayeredCache(l2, WithMemoryCleanup(0))
	defer lc.Close()

	require.NoError(t, l2.Set(ctx, "k", payload{Sharpe: 2}, 0))

	var got payload
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, 2.0, got.Sharpe)
	assert.Equal(t, 1, lc.l1.Len())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "fold:ema_cross:3", Key("fold", "ema_cross", 3))
	assert.Len(t, HashKey("anything"), 40)
}
