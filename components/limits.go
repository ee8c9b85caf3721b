package components

import (
	"vslib-go/errcode"
	"vslib-go/param"
	"vslib-go/x/mathx"
)

// Limits clamps a signal to [min, max] and pushes values that fall strictly
// inside the dead zone out to its nearer edge.
type Limits struct {
	*param.Component

	Min      *param.Parameter[float64]
	Max      *param.Parameter[float64]
	DeadZone *param.Array[float64] // [lower, upper]; equal values disable it
}

func NewLimits(parent *param.Component, name string) *Limits {
	c := param.NewComponent(parent, "Limits", name)
	l := &Limits{
		Component: c,
		Min:       param.NewNumber(c, "min", param.Unbounded[float64]()),
		Max:       param.NewNumber(c, "max", param.Unbounded[float64]()),
		DeadZone:  param.NewArray(c, "dead_zone", 2, param.Unbounded[float64](), param.WithDefault([]float64{0, 0})),
	}
	c.SetVerifier(l)
	return l
}

func (l *Limits) VerifyParameters() *param.Warning {
	lo, hi := l.Min.Pending(), l.Max.Pending()
	if !(lo < hi) {
		return param.Warnf(errcode.VerificationFailed, "min %v must be below max %v", lo, hi)
	}
	dz := l.DeadZone.Pending()
	if dz[0] > dz[1] {
		return param.Warnf(errcode.VerificationFailed, "dead_zone lower %v above upper %v", dz[0], dz[1])
	}
	if dz[0] != dz[1] && !(mathx.Between(dz[0], lo, hi) && mathx.Between(dz[1], lo, hi)) {
		return param.Warnf(errcode.VerificationFailed, "dead_zone %v outside [%v, %v]", dz, lo, hi)
	}
	return nil
}

// Apply limits v using the active values.
func (l *Limits) Apply(v float64) float64 {
	v = mathx.Clamp(v, l.Min.Value(), l.Max.Value())
	lo, hi := l.DeadZone.At(0), l.DeadZone.At(1)
	if lo < v && v < hi {
		if v-lo < hi-v {
			return lo
		}
		return hi
	}
	return v
}
