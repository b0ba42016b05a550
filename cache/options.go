package cache

import (
	"log/slog"
	"time"

	"github.com/IvanBrykalov/tierbus/policy"
)

// Tier identifies where an entry currently resides.
type Tier uint8

const (
	// TierFast is the bounded fast tier (L1).
	TierFast Tier = iota + 1
	// TierOverflow is the unbounded overflow tier (L2).
	TierOverflow
)

func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit(t Tier)
	Miss()
	Promote()
	Demote()
	Target(n int)
	Size(fast, overflow int)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures the cache. Zero values are safe; defaults are applied
// in New():
//   - IncludeFastTier == false or MaxCapacity == 0 => overflow tier only
//   - nil Policy  => adaptive.Default() when Adaptive, else static.New()
//   - Policy != nil without Adaptive => ErrCapacityMisconfigured
//   - Window <= 0 => 128, Windows <= 0 => 4 (rounded up to a power of two)
//   - Seed <= 0   => 1
//   - nil Logger  => discard, nil Metrics => NoopMetrics
type Options struct {
	// Fast-tier bounds. The target capacity always lies in [MinCapacity, MaxCapacity].
	MinCapacity int
	MaxCapacity int

	// IncludeFastTier enables the fast tier. Without it every entry lives in
	// the overflow tier and no adaptive behaviour runs.
	IncludeFastTier bool

	// Adaptive lets the controller move the target; otherwise target == MaxCapacity.
	Adaptive bool
	// Policy overrides the controller factory. It requires Adaptive; New
	// rejects a Policy on a static cache.
	Policy policy.Policy

	// Window is the number of accesses per metadata window; a maintenance
	// pass runs each time a window fills. Windows is how many trailing
	// windows the controller sees.
	Window  int
	Windows int
	// AdjustInterval additionally runs maintenance on a timer (0 = off).
	AdjustInterval time.Duration

	// TierLifetime demotes fast-tier entries idle for longer than this during
	// maintenance passes, keeping at least MinCapacity resident (0 = off).
	// It applies with or without Adaptive.
	TierLifetime time.Duration

	// Seed is the first id handed out.
	Seed int64

	// Observability
	Logger  *slog.Logger
	Metrics Metrics

	// Clock allows overriding the time source (tests). Nil => time.Now().
	Clock Clock
}

// fastEnabled reports whether the options describe a fast tier at all.
func (o Options) fastEnabled() bool { return o.IncludeFastTier && o.MaxCapacity > 0 }

// maintained reports whether window closes and timer ticks have work to do.
func (o Options) maintained() bool { return o.Adaptive || o.TierLifetime > 0 }

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit(Tier)      {}
func (NoopMetrics) Miss()         {}
func (NoopMetrics) Promote()      {}
func (NoopMetrics) Demote()       {}
func (NoopMetrics) Target(int)    {}
func (NoopMetrics) Size(int, int) {}

var _ Metrics = NoopMetrics{}
