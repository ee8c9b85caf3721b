package ramp

import (
	"time"

	"vslib-go/x/mathx"
)

// Linear moves a value towards a target at a bounded rate. The zero value
// has no rate limit and snaps to the target.
type Linear struct {
	cur  float64
	init bool
}

// Reset places the ramp at v.
func (r *Linear) Reset(v float64) {
	r.cur = v
	r.init = true
}

// Value returns the current ramp output.
func (r *Linear) Value() float64 { return r.cur }

// Step advances by dt towards target, moving at most rate units per second.
// rate <= 0 snaps. The first Step after construction starts from target.
func (r *Linear) Step(target, rate float64, dt time.Duration) float64 {
	if !r.init || rate <= 0 {
		r.Reset(target)
		return r.cur
	}
	d := rate * dt.Seconds()
	r.cur += mathx.Clamp(target-r.cur, -d, d)
	return r.cur
}
