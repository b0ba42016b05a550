package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/tierbus/fault"
	"github.com/IvanBrykalov/tierbus/policy"
	"github.com/IvanBrykalov/tierbus/policy/adaptive"
	"github.com/IvanBrykalov/tierbus/policy/static"
	"github.com/IvanBrykalov/tierbus/store"
)

const (
	defaultWindow  = 128
	defaultWindows = 4
)

// Stats is a point-in-time view of the cache.
type Stats struct {
	Fast     int // entries in the fast tier
	Overflow int // entries in the overflow tier
	Target   int // current fast-tier target
	Min, Max int

	FastHits     uint64
	OverflowHits uint64
	Misses       uint64
	Writes       uint64
	Promotions   uint64
	Demotions    uint64
}

// Cache is an ordered two-tier entry cache.
// All methods are safe for concurrent use by multiple goroutines.
//
// Lock order is cache, then store. Reads that hit the fast tier (or any read when
// the fast tier is disabled) run under the read lock; anything that moves an
// entry between tiers runs under the write lock, so a reader never sees an
// entry in both tiers or in neither.
type Cache[V any] struct {
	mu       sync.RWMutex
	fast     *store.Store[V] // nil when the fast tier is disabled
	overflow *store.Store[V]
	target   int // guarded by mu
	bounds   policy.Bounds
	ctl      policy.Controller

	meta *metadata

	// Last touch per fast-tier id; only maintained with TierLifetime > 0.
	tmu     sync.Mutex
	touched map[int64]int64

	promotions atomic.Uint64
	demotions  atomic.Uint64

	opt    Options
	log    *slog.Logger
	closed atomic.Bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New constructs a cache from opt. It fails with ErrCapacityMisconfigured on
// negative bounds or MinCapacity > MaxCapacity.
func New[V any](opt Options) (*Cache[V], error) {
	if opt.MinCapacity < 0 || opt.MaxCapacity < 0 {
		return nil, fault.Misconfigured("negative capacity: min=%d max=%d", opt.MinCapacity, opt.MaxCapacity)
	}
	if opt.MinCapacity > opt.MaxCapacity {
		return nil, fault.Misconfigured("min capacity %d exceeds max capacity %d", opt.MinCapacity, opt.MaxCapacity)
	}
	if opt.Policy != nil && !opt.Adaptive {
		return nil, fault.Misconfigured("custom policy requires Adaptive")
	}
	if opt.Window <= 0 {
		opt.Window = defaultWindow
	}
	if opt.Windows <= 0 {
		opt.Windows = defaultWindows
	}
	if opt.Seed <= 0 {
		opt.Seed = 1
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.DiscardHandler)
	}

	c := &Cache[V]{
		overflow: store.New[V](store.WithSeed(opt.Seed)),
		meta:     newMetadata(opt.Window, opt.Windows),
		opt:      opt,
		log:      opt.Logger.With(slog.String("component", "cache")),
	}

	if opt.fastEnabled() {
		c.fast = store.New[V](store.WithSeed(opt.Seed), store.WithCapacityHint(opt.MaxCapacity+1))
		c.bounds = policy.Bounds{Min: opt.MinCapacity, Max: opt.MaxCapacity}
		c.target = opt.MaxCapacity

		pol := opt.Policy
		if !opt.Adaptive {
			pol = static.New()
		} else if pol == nil {
			pol = adaptive.Default()
		}
		c.ctl = pol.New(c.bounds, cacheHooks[V]{c: c})

		if opt.TierLifetime > 0 {
			c.touched = make(map[int64]int64, opt.MaxCapacity)
		}
		if opt.maintained() && opt.AdjustInterval > 0 {
			c.stop = make(chan struct{})
			c.done = make(chan struct{})
			go c.adjustLoop(opt.AdjustInterval)
		}
	}
	opt.Metrics.Target(c.target)
	return c, nil
}

// Add appends v to the fast tier (or the overflow tier when the fast tier is
// disabled) and returns the new entry. Oldest fast-tier entries are demoted
// until the fast tier is back within its target.
func (c *Cache[V]) Add(v V) (store.Entry[V], error) {
	if c.closed.Load() {
		return store.Entry[V]{}, fault.Closed("cache")
	}

	c.mu.Lock()
	var (
		e   store.Entry[V]
		err error
	)
	if c.fast == nil {
		e, err = c.overflow.Add(v)
	} else {
		e, err = c.fast.Add(v)
		if err == nil {
			c.touch(e.ID)
			c.demoteLocked(0)
		}
	}
	c.reportSizeLocked()
	c.mu.Unlock()

	if err != nil {
		return store.Entry[V]{}, err
	}
	c.record(accessWrite)
	return e, nil
}

// Get returns the value stored under id or ErrEntryNotFound.
// An overflow-tier hit promotes the entry into the fast tier.
func (c *Cache[V]) Get(id int64) (V, error) {
	e, ok := c.Lookup(id)
	if !ok {
		var zero V
		return zero, fault.NotFound(id)
	}
	return e.Value, nil
}

// Lookup is Get returning a presence flag instead of an error.
func (c *Cache[V]) Lookup(id int64) (store.Entry[V], bool) {
	c.mu.RLock()
	if c.fast == nil {
		e, ok := c.overflow.Lookup(id)
		c.mu.RUnlock()
		if ok {
			c.hit(TierOverflow, accessOverflowHit)
		} else {
			c.miss()
		}
		return e, ok
	}
	if e, ok := c.fast.Lookup(id); ok {
		c.touch(id)
		c.mu.RUnlock()
		c.hit(TierFast, accessFastHit)
		return e, true
	}
	c.mu.RUnlock()

	c.mu.Lock()
	// Re-check: another reader may have promoted it meanwhile.
	if e, ok := c.fast.Lookup(id); ok {
		c.touch(id)
		c.mu.Unlock()
		c.hit(TierFast, accessFastHit)
		return e, true
	}
	e, ok := c.overflow.Lookup(id)
	if !ok {
		c.mu.Unlock()
		c.miss()
		return e, false
	}
	if err := c.promoteLocked(e); err != nil {
		c.log.Warn("promotion failed; serving from overflow tier",
			slog.Int64("id", id), slog.String("error", err.Error()))
	}
	c.reportSizeLocked()
	c.mu.Unlock()

	c.hit(TierOverflow, accessOverflowHit)
	return e, true
}

// Remove detaches and returns the entry stored under id from whichever tier
// holds it.
func (c *Cache[V]) Remove(id int64) (store.Entry[V], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fast != nil {
		if e, err := c.fast.Remove(id); err == nil {
			c.untouch(id)
			c.refillLocked()
			c.reportSizeLocked()
			return e, nil
		}
	}
	e, err := c.overflow.Remove(id)
	if err != nil {
		return store.Entry[V]{}, err
	}
	c.untouch(id)
	c.reportSizeLocked()
	return e, nil
}

// Update replaces the value stored under id in place; id, tier and position
// are unchanged.
func (c *Cache[V]) Update(id int64, v V) (store.Entry[V], error) {
	if c.closed.Load() {
		return store.Entry[V]{}, fault.Closed("cache")
	}

	c.mu.RLock()
	var (
		e   store.Entry[V]
		err error
	)
	if c.fast != nil {
		if e, err = c.fast.Update(id, v); err == nil {
			c.touch(id)
			c.mu.RUnlock()
			c.record(accessWrite)
			return e, nil
		}
	}
	e, err = c.overflow.Update(id, v)
	c.mu.RUnlock()
	if err != nil {
		return store.Entry[V]{}, err
	}
	c.record(accessWrite)
	return e, nil
}

// Len returns the number of live entries across both tiers.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lenLocked()
}

// Clear drops every entry from both tiers. Ids are not reset.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fast != nil {
		c.fast.Clear()
	}
	c.overflow.Clear()
	if c.touched != nil {
		c.tmu.Lock()
		clear(c.touched)
		c.tmu.Unlock()
	}
	c.meta.reset()
	c.reportSizeLocked()
}

// Tier reports which tier currently holds id.
func (c *Cache[V]) Tier(id int64) (Tier, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fast != nil && c.fast.Contains(id) {
		return TierFast, true
	}
	if c.overflow.Contains(id) {
		return TierOverflow, true
	}
	return 0, false
}

// Target returns the current fast-tier target capacity (0 when disabled).
func (c *Cache[V]) Target() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.target
}

// LastID returns the highest id handed out so far.
func (c *Cache[V]) LastID() int64 {
	if c.fast != nil {
		return max(c.fast.LastID(), c.overflow.LastID())
	}
	return c.overflow.LastID()
}

// Stats returns a snapshot of tier sizes, target and access counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	s := Stats{
		Overflow: c.overflow.Len(),
		Target:   c.target,
		Min:      c.bounds.Min,
		Max:      c.bounds.Max,
	}
	if c.fast != nil {
		s.Fast = c.fast.Len()
	}
	c.mu.RUnlock()

	s.FastHits, s.OverflowHits, s.Misses, s.Writes = c.meta.totals()
	s.Promotions = c.promotions.Load()
	s.Demotions = c.demotions.Load()
	return s
}

// Adjust closes the current access window and runs a maintenance pass now:
// the capacity controller, the idle-lifetime sweep and demotion. It returns
// the resulting target. Without a fast tier it is a no-op.
func (c *Cache[V]) Adjust() int {
	w := c.meta.rotate()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.adjustLocked(w)
	return c.target
}

// Close stops the adjust timer (if any) and rejects further writes.
// Reads and removals keep working.
func (c *Cache[V]) Close() error {
	c.closed.Store(true)
	c.stopOnce.Do(func() {
		if c.stop != nil {
			close(c.stop)
			<-c.done
		}
	})
	return nil
}

// ---- helpers (mu held where the name says Locked) ----

func (c *Cache[V]) lenLocked() int {
	n := c.overflow.Len()
	if c.fast != nil {
		n += c.fast.Len()
	}
	return n
}

func (c *Cache[V]) reportSizeLocked() {
	fast := 0
	if c.fast != nil {
		fast = c.fast.Len()
	}
	c.opt.Metrics.Size(fast, c.overflow.Len())
}

// adjustLocked feeds the window to the controller, applies the new target and
// re-establishes fast.Len() <= target.
func (c *Cache[V]) adjustLocked(w policy.Window) {
	if c.fast == nil {
		return
	}
	next := c.ctl.Next(c.target, w)
	fault.Invariant(c.bounds.Contains(next),
		"cache: controller target %d outside [%d, %d]", next, c.bounds.Min, c.bounds.Max)

	if next != c.target {
		c.log.Debug("target capacity changed",
			slog.Int("from", c.target), slog.Int("to", next),
			slog.Uint64("fast_hits", w.FastHits),
			slog.Uint64("overflow_hits", w.OverflowHits),
			slog.Uint64("misses", w.Misses),
			slog.Uint64("writes", w.Writes))
		c.target = next
		c.opt.Metrics.Target(next)
	}
	c.expireLocked()
	c.demoteLocked(0)
	c.reportSizeLocked()
}

// refillLocked promotes the newest overflow entries while the fast tier holds
// fewer than MinCapacity entries.
func (c *Cache[V]) refillLocked() {
	for c.fast.Len() < c.bounds.Min {
		id, ok := c.overflow.TailID()
		if !ok {
			return
		}
		if err := relocate(c.overflow, c.fast, id); err != nil {
			c.log.Warn("refill failed; entry stays in overflow tier",
				slog.Int64("id", id), slog.String("error", err.Error()))
			return
		}
		c.touch(id)
		c.promotions.Add(1)
		c.opt.Metrics.Promote()
		c.log.Debug("refilled entry", slog.Int64("id", id))
	}
}

// demoteLocked moves the oldest fast-tier entries into the overflow tier
// until the fast tier fits its target. protect, if non-zero, is the entry a
// promotion just brought in; it is only chosen when nothing else is left.
func (c *Cache[V]) demoteLocked(protect int64) {
	for c.fast.Len() > c.target {
		victim, ok := c.fast.HeadID()
		if !ok {
			return
		}
		if victim == protect {
			if next, ok := c.fast.Next(victim); ok {
				victim = next
			}
		}
		if err := c.demote(victim); err != nil {
			c.log.Warn("demotion failed; entry stays in fast tier",
				slog.Int64("id", victim), slog.String("error", err.Error()))
			return
		}
	}
}

// expireLocked demotes fast-tier entries idle for longer than TierLifetime,
// never dropping the fast tier below MinCapacity.
func (c *Cache[V]) expireLocked() {
	if c.touched == nil {
		return
	}
	cutoff := c.now() - int64(c.opt.TierLifetime)
	spare := c.fast.Len() - c.bounds.Min
	if spare <= 0 {
		return
	}

	var idle []int64
	c.tmu.Lock()
	c.fast.Ascend(func(e store.Entry[V]) bool {
		if at, ok := c.touched[e.ID]; ok && at < cutoff {
			idle = append(idle, e.ID)
		}
		return len(idle) < spare
	})
	c.tmu.Unlock()

	for _, id := range idle {
		if err := c.demote(id); err != nil {
			c.log.Warn("idle demotion failed", slog.Int64("id", id), slog.String("error", err.Error()))
			return
		}
	}
	if len(idle) > 0 {
		c.log.Debug("demoted idle entries", slog.Int("count", len(idle)))
	}
}

// demote moves id from the fast tier to the overflow tier.
func (c *Cache[V]) demote(id int64) error {
	if err := relocate(c.fast, c.overflow, id); err != nil {
		return fmt.Errorf("cache: demote %d: %w", id, err)
	}
	c.untouch(id)
	c.demotions.Add(1)
	c.opt.Metrics.Demote()
	c.log.Debug("demoted entry", slog.Int64("id", id))
	return nil
}

// promoteLocked moves e from the overflow tier into the fast tier and
// re-applies demotion without evicting e itself.
func (c *Cache[V]) promoteLocked(e store.Entry[V]) error {
	if err := relocate(c.overflow, c.fast, e.ID); err != nil {
		return fmt.Errorf("cache: promote %d: %w", e.ID, err)
	}
	c.touch(e.ID)
	c.promotions.Add(1)
	c.opt.Metrics.Promote()
	c.log.Debug("promoted entry", slog.Int64("id", e.ID))
	c.demoteLocked(e.ID)
	return nil
}

// relocate copies id into dst and only then deletes it from src. On any
// failure the entry is left (or put back) where it was.
func relocate[V any](src, dst *store.Store[V], id int64) error {
	e, ok := src.Lookup(id)
	if !ok {
		return fault.NotFound(id)
	}
	if err := dst.Insert(e); err != nil {
		return err
	}
	if _, err := src.Remove(id); err != nil {
		_, _ = dst.Remove(id)
		return err
	}
	return nil
}

func (c *Cache[V]) hit(t Tier, a access) {
	c.opt.Metrics.Hit(t)
	c.record(a)
}

func (c *Cache[V]) miss() {
	c.opt.Metrics.Miss()
	c.record(accessMiss)
}

// record counts an access and runs a maintenance pass whenever a window
// closes. Callers must not hold mu.
func (c *Cache[V]) record(a access) {
	if c.meta.record(a) && c.fast != nil && c.opt.maintained() {
		c.Adjust()
	}
}

func (c *Cache[V]) touch(id int64) {
	if c.touched == nil {
		return
	}
	now := c.now()
	c.tmu.Lock()
	c.touched[id] = now
	c.tmu.Unlock()
}

func (c *Cache[V]) untouch(id int64) {
	if c.touched == nil {
		return
	}
	c.tmu.Lock()
	delete(c.touched, id)
	c.tmu.Unlock()
}

func (c *Cache[V]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

func (c *Cache[V]) adjustLoop(every time.Duration) {
	defer close(c.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.Adjust()
		}
	}
}

// cacheHooks adapts the cache's tiers to policy.Hooks.
type cacheHooks[V any] struct{ c *Cache[V] }

// FastLen and OverflowLen are called by controllers while mu is held.
func (h cacheHooks[V]) FastLen() int     { return h.c.fast.Len() }
func (h cacheHooks[V]) OverflowLen() int { return h.c.overflow.Len() }
