package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/tierbus/fault"
	"github.com/IvanBrykalov/tierbus/policy/static"
	"github.com/IvanBrykalov/tierbus/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  int64
}

func (f *fakeClock) NowUnixNano() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) add(d time.Duration) {
	f.mu.Lock()
	f.t += int64(d)
	f.mu.Unlock()
}

func newFixed(t *testing.T, k int) *Cache[int] {
	t.Helper()
	c, err := New[int](Options{IncludeFastTier: true, MinCapacity: k, MaxCapacity: k})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_Misconfigured(t *testing.T) {
	t.Parallel()

	for _, opt := range []Options{
		{IncludeFastTier: true, MinCapacity: -1, MaxCapacity: 4},
		{IncludeFastTier: true, MinCapacity: 0, MaxCapacity: -4},
		{IncludeFastTier: true, MinCapacity: 8, MaxCapacity: 4},
		{IncludeFastTier: true, MaxCapacity: 4, Policy: static.New()}, // Policy without Adaptive
	} {
		_, err := New[int](opt)
		assert.ErrorIs(t, err, fault.ErrCapacityMisconfigured, "%+v", opt)
	}
}

// With min = max = K, N > K adds leave K in the fast tier and N-K in the
// overflow tier, and every id stays retrievable.
func TestCache_TieringFixedCapacity(t *testing.T) {
	t.Parallel()

	const k, n = 8, 50
	c := newFixed(t, k)

	var added []store.Entry[int]
	for i := 0; i < n; i++ {
		e, err := c.Add(i * 10)
		require.NoError(t, err)
		added = append(added, e)
	}

	st := c.Stats()
	assert.Equal(t, k, st.Fast)
	assert.Equal(t, n-k, st.Overflow)
	assert.Equal(t, n, c.Len())

	// The newest K stay fast, the rest were demoted.
	for i, e := range added {
		tier, ok := c.Tier(e.ID)
		require.True(t, ok)
		if i >= n-k {
			assert.Equal(t, TierFast, tier, "id %d", e.ID)
		} else {
			assert.Equal(t, TierOverflow, tier, "id %d", e.ID)
		}
	}

	for _, e := range added {
		v, err := c.Get(e.ID)
		require.NoError(t, err)
		assert.Equal(t, e.Value, v)
	}
	st = c.Stats()
	assert.Equal(t, k, st.Fast, "promotion must re-apply demotion")
	assert.Equal(t, n-k, st.Overflow)
}

// Scenario: 1000 concurrent adds on an empty cache with min = max = 100.
func TestCache_ConcurrentAdds(t *testing.T) {
	t.Parallel()

	c := newFixed(t, 100)

	var g errgroup.Group
	for i := 0; i < 1000; i++ {
		g.Go(func() error {
			_, err := c.Add(i)
			return err
		})
	}
	require.NoError(t, g.Wait())

	st := c.Stats()
	assert.Equal(t, 1000, c.Len())
	assert.Equal(t, 100, st.Fast)
	assert.Equal(t, 900, st.Overflow)
	for id := int64(1); id <= 1000; id++ {
		_, ok := c.Lookup(id)
		require.True(t, ok, "id %d lost", id)
	}
}

// Promotion moves the entry into the fast tier, unchanged.
func TestCache_PromotionKeepsIDAndValue(t *testing.T) {
	t.Parallel()

	c := newFixed(t, 2)
	a, _ := c.Add(1)
	b, _ := c.Add(2)
	d, _ := c.Add(3)

	tier, _ := c.Tier(a.ID)
	require.Equal(t, TierOverflow, tier)

	e, ok := c.Lookup(a.ID)
	require.True(t, ok)
	assert.Equal(t, a, e)

	tier, _ = c.Tier(a.ID)
	assert.Equal(t, TierFast, tier, "promoted entry stays fast")
	tier, _ = c.Tier(b.ID)
	assert.Equal(t, TierOverflow, tier, "oldest other entry demoted")
	tier, _ = c.Tier(d.ID)
	assert.Equal(t, TierFast, tier)

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Promotions)
	assert.Equal(t, uint64(2), st.Demotions)
	assert.Equal(t, uint64(1), st.OverflowHits)
}

func TestCache_RemoveFromEitherTier(t *testing.T) {
	t.Parallel()

	c := newFixed(t, 1)
	a, _ := c.Add(1) // demoted by b
	b, _ := c.Add(2)

	e, err := c.Remove(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, e)
	e, err = c.Remove(b.ID)
	require.NoError(t, err)
	assert.Equal(t, b, e)

	assert.Equal(t, 0, c.Len())
	_, err = c.Get(a.ID)
	assert.ErrorIs(t, err, fault.ErrEntryNotFound)
	_, err = c.Remove(a.ID)
	assert.ErrorIs(t, err, fault.ErrEntryNotFound)
}

// Removing from the fast tier pulls the newest overflow entries back up
// until MinCapacity entries are resident again.
func TestCache_RemoveRefillsFastTier(t *testing.T) {
	t.Parallel()

	c := newFixed(t, 3)
	for i := 1; i <= 5; i++ {
		_, _ = c.Add(i) // fast {3,4,5}, overflow {1,2}
	}

	_, err := c.Remove(4)
	require.NoError(t, err)

	st := c.Stats()
	assert.Equal(t, 3, st.Fast)
	assert.Equal(t, 1, st.Overflow)
	assert.Equal(t, uint64(1), st.Promotions)
	tier, _ := c.Tier(2)
	assert.Equal(t, TierFast, tier)
	tier, _ = c.Tier(1)
	assert.Equal(t, TierOverflow, tier)

	// Overflow removals leave the fast tier alone.
	_, err = c.Remove(1)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Stats().Fast)

	// Nothing left to refill from.
	_, err = c.Remove(2)
	require.NoError(t, err)
	st = c.Stats()
	assert.Equal(t, 2, st.Fast)
	assert.Equal(t, 0, st.Overflow)
}

func TestCache_UpdateInPlace(t *testing.T) {
	t.Parallel()

	c := newFixed(t, 1)
	a, _ := c.Add(1)
	b, _ := c.Add(2)

	_, err := c.Update(a.ID, 10) // overflow
	require.NoError(t, err)
	_, err = c.Update(b.ID, 20) // fast
	require.NoError(t, err)

	tier, _ := c.Tier(a.ID)
	assert.Equal(t, TierOverflow, tier, "update must not promote")

	v, _ := c.Get(a.ID)
	assert.Equal(t, 10, v)
	v, _ = c.Get(b.ID)
	assert.Equal(t, 20, v)

	_, err = c.Update(99, 0)
	assert.ErrorIs(t, err, fault.ErrEntryNotFound)
}

func TestCache_ClearKeepsIDsMonotonic(t *testing.T) {
	t.Parallel()

	c := newFixed(t, 2)
	for i := 0; i < 5; i++ {
		_, _ = c.Add(i)
	}
	c.Clear()
	assert.Equal(t, 0, c.Len())

	e, _ := c.Add(7)
	assert.Equal(t, int64(6), e.ID)
	assert.Equal(t, int64(6), c.LastID())
}

// Without a fast tier the cache is plain overflow storage.
func TestCache_FastTierDisabled(t *testing.T) {
	t.Parallel()

	for _, opt := range []Options{
		{IncludeFastTier: false, MinCapacity: 1, MaxCapacity: 4, Adaptive: true},
		{IncludeFastTier: true, MaxCapacity: 0},
		{},
	} {
		c, err := New[string](opt)
		require.NoError(t, err)

		for i := 0; i < 10; i++ {
			_, err := c.Add("v")
			require.NoError(t, err)
		}
		st := c.Stats()
		assert.Equal(t, 0, st.Fast)
		assert.Equal(t, 10, st.Overflow)
		assert.Equal(t, 0, c.Target())

		tier, ok := c.Tier(3)
		require.True(t, ok)
		assert.Equal(t, TierOverflow, tier)
		_, err = c.Get(3)
		require.NoError(t, err)
		assert.Equal(t, 0, c.Adjust())
		require.NoError(t, c.Close())
	}
}

func TestCache_CloseRejectsWrites(t *testing.T) {
	t.Parallel()

	c := newFixed(t, 4)
	a, _ := c.Add(1)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "Close is idempotent")

	_, err := c.Add(2)
	assert.ErrorIs(t, err, fault.ErrClosedForWriting)
	_, err = c.Update(a.ID, 3)
	assert.ErrorIs(t, err, fault.ErrClosedForWriting)

	v, err := c.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	_, err = c.Remove(a.ID)
	assert.NoError(t, err)
}

// Write-only traffic shrinks the target to Min; overflow-heavy reads grow it.
func TestCache_AdaptiveTarget(t *testing.T) {
	t.Parallel()

	c, err := New[int](Options{
		IncludeFastTier: true,
		MinCapacity:     2,
		MaxCapacity:     50,
		Adaptive:        true,
		Window:          10,
		Windows:         1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 100; i++ {
		_, err := c.Add(i)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Target())
	assert.Equal(t, 2, c.Stats().Fast)
	assert.Equal(t, 100, c.Len())

	for id := int64(1); id <= 10; id++ {
		_, err := c.Get(id)
		require.NoError(t, err)
	}
	target := c.Target()
	assert.Greater(t, target, 2)
	assert.LessOrEqual(t, target, 50)
	assert.LessOrEqual(t, c.Stats().Fast, target)
}

// The timer-driven controller keeps running until Close.
func TestCache_AdjustInterval(t *testing.T) {
	t.Parallel()

	c, err := New[int](Options{
		IncludeFastTier: true,
		MinCapacity:     1,
		MaxCapacity:     40,
		Adaptive:        true,
		Window:          1 << 20,
		AdjustInterval:  5 * time.Millisecond,
	})
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		_, _ = c.Add(i)
	}
	require.Eventually(t, func() bool { return c.Target() < 40 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
}

// Idle fast-tier entries are demoted, but never below MinCapacity.
func TestCache_TierLifetime(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c, err := New[int](Options{
		IncludeFastTier: true,
		MinCapacity:     2,
		MaxCapacity:     10,
		TierLifetime:    time.Second,
		Clock:           clk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 6; i++ {
		_, _ = c.Add(i)
	}
	clk.add(2 * time.Second)
	_, _ = c.Get(1) // touch the oldest

	c.Adjust()

	st := c.Stats()
	assert.Equal(t, 2, st.Fast)
	assert.Equal(t, 4, st.Overflow)
	tier, _ := c.Tier(1)
	assert.Equal(t, TierFast, tier, "recently touched entry must stay")
	tier, _ = c.Tier(2)
	assert.Equal(t, TierOverflow, tier)
	tier, _ = c.Tier(6)
	assert.Equal(t, TierFast, tier, "MinCapacity keeps the next oldest idle entry")
}

// Without Adaptive, closing an access window still sweeps idle entries.
func TestCache_TierLifetimeStatic(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c, err := New[int](Options{
		IncludeFastTier: true,
		MinCapacity:     2,
		MaxCapacity:     10,
		Window:          4,
		TierLifetime:    time.Millisecond,
		Clock:           clk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 8; i++ {
		_, _ = c.Add(i)
	}
	assert.Equal(t, 8, c.Stats().Fast)

	clk.add(time.Hour)
	for i := 0; i < 4; i++ {
		_, _ = c.Lookup(1000) // misses close the window without touching anything
	}

	st := c.Stats()
	assert.Equal(t, 2, st.Fast)
	assert.Equal(t, 6, st.Overflow)
	assert.Equal(t, uint64(6), st.Demotions)
	assert.Equal(t, 10, c.Target(), "static target is untouched")
	tier, _ := c.Tier(8)
	assert.Equal(t, TierFast, tier)
	tier, _ = c.Tier(1)
	assert.Equal(t, TierOverflow, tier)
}

// The AdjustInterval timer drives the idle sweep under the static policy.
func TestCache_TierLifetimeStaticTimer(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c, err := New[int](Options{
		IncludeFastTier: true,
		MinCapacity:     1,
		MaxCapacity:     10,
		Window:          1 << 20,
		TierLifetime:    time.Millisecond,
		AdjustInterval:  time.Millisecond,
		Clock:           clk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	for i := 0; i < 5; i++ {
		_, _ = c.Add(i)
	}
	clk.add(time.Hour)
	require.Eventually(t, func() bool { return c.Stats().Fast == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, c.Stats().Overflow)
}

// A failed move leaves the entry where it was.
func TestRelocate_FailureKeepsSource(t *testing.T) {
	t.Parallel()

	src := store.New[string]()
	dst := store.New[string]()
	e, _ := src.Add("a")
	require.NoError(t, dst.Insert(store.Entry[string]{ID: e.ID, Value: "other"}))

	err := relocate(src, dst, e.ID)
	assert.ErrorIs(t, err, fault.ErrIDCollision)
	v, err := src.Get(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	err = relocate(src, dst, 999)
	assert.ErrorIs(t, err, fault.ErrEntryNotFound)
}

func TestTier_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fast", TierFast.String())
	assert.Equal(t, "overflow", TierOverflow.String())
	assert.Equal(t, "unknown", Tier(0).String())
}
