package components

import (
	"vslib-go/errcode"
	"vslib-go/param"
	"vslib-go/x/mathx"
)

// RSTOrder is the number of coefficients in each RST polynomial.
const RSTOrder = 4

// RST is a two-degree-of-freedom digital controller
//
//	S(q⁻¹)·u = T(q⁻¹)·ref − R(q⁻¹)·y
type RST struct {
	*param.Component

	R *param.Array[float64]
	S *param.Array[float64]
	T *param.Array[float64]

	ref, meas, act [RSTOrder]float64 // newest first
}

func NewRST(parent *param.Component, name string) *RST {
	c := param.NewComponent(parent, "RST", name)
	r := &RST{
		Component: c,
		R:         param.NewArray(c, "r", RSTOrder, param.Unbounded[float64]()),
		S:         param.NewArray(c, "s", RSTOrder, param.Unbounded[float64]()),
		T:         param.NewArray(c, "t", RSTOrder, param.Unbounded[float64]()),
	}
	c.SetVerifier(r)
	return r
}

// VerifyParameters rejects coefficient sets whose S polynomial has a root on
// or outside the unit circle.
func (r *RST) VerifyParameters() *param.Warning {
	s := r.S.Pending()
	if s[0] == 0 {
		return param.Warnf(errcode.VerificationFailed, "s: leading coefficient must be non-zero")
	}
	if !SchurStable(s) {
		return param.Warnf(errcode.VerificationFailed, "s: polynomial %v is not stable", s)
	}
	return nil
}

// SchurStable reports whether every root of
// a[0]·zⁿ + a[1]·zⁿ⁻¹ + … + a[n] lies strictly inside the unit circle,
// using the Schur–Cohn reduction.
func SchurStable(a []float64) bool {
	cur := append([]float64(nil), a...)
	for n := len(cur) - 1; n > 0; n-- {
		if mathx.Abs(cur[n]) >= mathx.Abs(cur[0]) {
			return false
		}
		next := make([]float64, n)
		for k := range next {
			next[k] = cur[0]*cur[k] - cur[n]*cur[n-k]
		}
		cur = next
	}
	return len(cur) > 0 && cur[0] != 0
}

// Tick computes the next actuation from the reference and measurement.
func (r *RST) Tick(ref, meas float64) float64 {
	copy(r.ref[1:], r.ref[:RSTOrder-1])
	copy(r.meas[1:], r.meas[:RSTOrder-1])
	r.ref[0], r.meas[0] = ref, meas

	var u float64
	for i := 0; i < RSTOrder; i++ {
		u += r.T.At(i)*r.ref[i] - r.R.At(i)*r.meas[i]
	}
	for i := 1; i < RSTOrder; i++ {
		u -= r.S.At(i) * r.act[i-1]
	}
	u /= r.S.At(0)

	copy(r.act[1:], r.act[:RSTOrder-1])
	r.act[0] = u
	return u
}
