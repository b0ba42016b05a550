// Package static implements the fixed-target capacity policy.
package static

import "github.com/IvanBrykalov/tierbus/policy"

// static pins the target at the upper bound.
type static struct {
	max int
}

type staticPolicy struct{}

// New returns a Policy whose controllers always answer Bounds.Max.
func New() policy.Policy { return staticPolicy{} }

// New implements policy.Policy.
func (staticPolicy) New(b policy.Bounds, _ policy.Hooks) policy.Controller {
	return &static{max: b.Max}
}

// Next ignores the window; the target never moves.
func (s *static) Next(int, policy.Window) int { return s.max }
