// Package adaptive implements a hit-ratio driven capacity policy.
package adaptive

import "github.com/IvanBrykalov/tierbus/policy"

const (
	// DefaultRaiseAbove is the overflow-hit share of reads that grows the target.
	DefaultRaiseAbove = 0.20
	// DefaultIdleBelow is the fast-hit share of all accesses under which the
	// fast tier counts as idle and the target shrinks.
	DefaultIdleBelow = 0.05
)

// adaptive moves the target between the bounds:
//
//   - Grow: when at least raiseAbove of the reads in the window had to be
//     served from the overflow tier, the working set does not fit; the target
//     moves half of the remaining distance toward Max.
//   - Shrink: when fast-tier hits are below idleBelow of all accesses, the
//     fast tier is mostly idle; the target moves a quarter of the distance
//     toward Min.
//   - Otherwise, or on an empty window, the target holds.
type adaptive struct {
	b policy.Bounds
	h policy.Hooks

	raiseAbove float64
	idleBelow  float64
}

type adaptivePolicy struct {
	raiseAbove float64
	idleBelow  float64
}

// New constructs an adaptive policy factory. Non-positive thresholds fall back
// to DefaultRaiseAbove and DefaultIdleBelow.
func New(raiseAbove, idleBelow float64) policy.Policy {
	if raiseAbove <= 0 || raiseAbove > 1 {
		raiseAbove = DefaultRaiseAbove
	}
	if idleBelow <= 0 || idleBelow > 1 {
		idleBelow = DefaultIdleBelow
	}
	return adaptivePolicy{raiseAbove: raiseAbove, idleBelow: idleBelow}
}

// Default returns New(DefaultRaiseAbove, DefaultIdleBelow).
func Default() policy.Policy { return New(DefaultRaiseAbove, DefaultIdleBelow) }

func (p adaptivePolicy) New(b policy.Bounds, h policy.Hooks) policy.Controller {
	return &adaptive{b: b, h: h, raiseAbove: p.raiseAbove, idleBelow: p.idleBelow}
}

// Next applies the grow/shrink rules above.
func (a *adaptive) Next(target int, w policy.Window) int {
	target = a.b.Clamp(target)
	if w.Total() == 0 {
		return target
	}

	if reads := w.Reads(); reads > 0 {
		share := float64(w.OverflowHits) / float64(reads)
		if share >= a.raiseAbove && target < a.b.Max {
			step := (a.b.Max - target + 1) / 2
			return a.b.Clamp(target + max(step, 1))
		}
	}

	busy := float64(w.FastHits) / float64(w.Total())
	if busy < a.idleBelow && target > a.b.Min {
		// Nothing to give back if the tier is not even filling the target.
		if a.h != nil && a.h.FastLen() < target && w.OverflowHits == 0 {
			return a.b.Clamp(max(a.h.FastLen(), a.b.Min))
		}
		step := (target - a.b.Min) / 4
		return a.b.Clamp(target - max(step, 1))
	}
	return target
}
