package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestSetGet_RoundTrip(t *testing.T) {
	t.Parallel()

	c := New(time.Minute)
	c.Set("k", map[string]int{"a": 1})

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, map[string]int{"a": 1}, got)
}

func TestGet_AfterExpiryIsAbsence(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := New(time.Minute, WithClock(clk.Now))

	c.Set("k", "v")
	_, ok := c.Get("k")
	require.True(t, ok)

	clk.Advance(time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok, "read at expiry must behave like absence")
	assert.Equal(t, 0, c.Len(), "expired entry dropped on read")
}

func TestSet_ReplacesNotMerges(t *testing.T) {
	t.Parallel()

	c := New(time.Minute)
	c.Set("k", map[string]int{"a": 1})
	c.Set("k", map[string]int{"b": 2})

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, map[string]int{"b": 2}, got)
}

func TestDeleteContaining(t *testing.T) {
	t.Parallel()

	c := New(time.Minute)
	c.Set("listing:42", 1)
	c.Set("plot|listing:42|SW1A1AA", 2)
	c.Set("plot|listing:7|E14AB", 3)

	n := c.DeleteContaining("listing:42")
	assert.Equal(t, 2, n)

	_, ok := c.Get("plot|listing:7|E14AB")
	assert.True(t, ok)
}

func TestSetTTL_Overrides(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := New(time.Minute, WithClock(clk.Now))

	c.SetTTL("long", "v", time.Hour)
	clk.Advance(30 * time.Minute)

	_, ok := c.Get("long")
	assert.True(t, ok)
}

func TestStats(t *testing.T) {
	t.Parallel()

	c := New(time.Minute)
	c.Set("k", "v")
	c.Get("k")
	c.Get("missing")

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 0.5, s.HitRate, 1e-9)
}

func TestKeyHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "SW1A1AA", PostcodePart("sw1a 1aa"))
	assert.Equal(t, "10 downing street", AddressPart("  10   Downing  Street "))
	assert.Equal(t, "plot|SW1A1AA|51.5010,-0.1246", Key("plot", "SW1A1AA", "51.5010,-0.1246"))
}
