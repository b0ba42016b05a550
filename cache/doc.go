// Package cache provides Cache, an ordered two-tier entry cache built from two
// store.Store instances: a bounded fast tier (L1) and an unbounded overflow
// tier (L2).
//
// Design
//
//   - Ids: handed out by the tier that receives new entries, strictly
//     increasing, never reused. Each live id sits in exactly one tier.
//
//   - Demotion: Add always lands in the fast tier. While the fast tier holds
//     more than its target, the oldest fast entry (lowest id) is copied into
//     the overflow tier and then deleted from the fast tier.
//
//   - Promotion: a Get that misses the fast tier but hits the overflow tier
//     moves the entry up (copy, then delete), then demotes the oldest other
//     fast entry if the tier is now over target. Moves never reorder ids
//     within a tier.
//
//   - Target capacity: a policy.Controller picks the target within
//     [MinCapacity, MaxCapacity]. The static policy pins it at MaxCapacity;
//     the adaptive policy grows it when overflow hits are frequent and
//     shrinks it when the fast tier is idle. The controller runs every
//     Options.Window accesses and, optionally, on a timer.
//
//   - Tier lifetime: with Options.TierLifetime set, maintenance passes (window
//     close, timer tick, Adjust) demote fast entries idle for longer than the
//     lifetime. This runs under the static policy too.
//
//   - Minimum residency: the fast tier holds between MinCapacity and the
//     target whenever enough entries exist. A Remove that drops it below
//     MinCapacity refills it with the newest overflow entries.
//
//   - Metrics/logging: Options.Metrics receives Hit/Miss/Promote/Demote/
//     Target/Size signals (NoopMetrics by default; see metrics/prom).
//     Options.Logger receives debug events for moves and target changes.
//
// Basic usage
//
//	c, err := cache.New[string](cache.Options{
//	    IncludeFastTier: true,
//	    MinCapacity:     64,
//	    MaxCapacity:     1024,
//	    Adaptive:        true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	e, _ := c.Add("payload")
//	v, err := c.Get(e.ID) // promoted back into the fast tier if it had been demoted
//
// Thread-safety
//
// All methods are safe for concurrent use. Reads that hit the fast tier take
// only read locks; moves between tiers take the cache write lock.
package cache
