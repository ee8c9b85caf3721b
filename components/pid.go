package components

import (
	"math"

	"vslib-go/errcode"
	"vslib-go/param"
	"vslib-go/x/mathx"
)

// PID is a parallel-form PID controller with a clamped actuation.
type PID struct {
	*param.Component

	Kp              *param.Parameter[float64]
	Ki              *param.Parameter[float64]
	Kd              *param.Parameter[float64]
	ActuationLimits *param.Array[float64] // [min, max]

	integral float64
	prevErr  float64
	primed   bool
}

func NewPID(parent *param.Component, name string) *PID {
	c := param.NewComponent(parent, "PID", name)
	p := &PID{
		Component:       c,
		Kp:              param.NewNumber(c, "kp", param.Unbounded[float64]()),
		Ki:              param.NewNumber(c, "ki", param.AtLeast(0.0)),
		Kd:              param.NewNumber(c, "kd", param.AtLeast(0.0)),
		ActuationLimits: param.NewArray(c, "actuation_limits", 2, param.Unbounded[float64]()),
	}
	c.SetVerifier(p)
	return p
}

// VerifyParameters requires a non-empty actuation range.
func (p *PID) VerifyParameters() *param.Warning {
	lim := p.ActuationLimits.Pending()
	if !(lim[0] < lim[1]) {
		return param.Warnf(errcode.VerificationFailed,
			"actuation_limits: minimum %v must be below maximum %v", lim[0], lim[1])
	}
	return nil
}

// Tick advances the controller by dt seconds and returns the clamped
// actuation. The integrator does not wind up past the actuation range.
func (p *PID) Tick(ref, meas, dt float64) float64 {
	lo, hi := p.ActuationLimits.At(0), p.ActuationLimits.At(1)
	e := ref - meas

	var deriv float64
	if p.primed && dt > 0 {
		deriv = (e - p.prevErr) / dt
	}
	p.prevErr, p.primed = e, true

	ki := p.Ki.Value()
	if ki > 0 {
		p.integral += e * dt
		// anti-windup: keep the integral term inside the actuation range
		p.integral = mathx.Clamp(p.integral, lo/ki, hi/ki)
	}
	u := p.Kp.Value()*e + ki*p.integral + p.Kd.Value()*deriv
	if math.IsNaN(u) {
		return lo
	}
	return mathx.Clamp(u, lo, hi)
}

// Reset clears the controller history.
func (p *PID) Reset() {
	p.integral, p.prevErr, p.primed = 0, 0, false
}
