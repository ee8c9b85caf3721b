package components

import (
	"time"

	"vslib-go/param"
	"vslib-go/x/ramp"
)

// Loop is the demonstration converter: a PID regulating a first-order plant
// towards a reference, with the actuation shaped by Limits. RST runs in
// parallel on the same signals so its coefficients are exercised too.
type Loop struct {
	*param.Component

	Reference *param.Parameter[float64]
	TimeConst *param.Parameter[float64] // plant time constant in seconds
	SlewRate  *param.Parameter[float64] // reference units per second; 0 steps

	PID    *PID
	RST    *RST
	Limits *Limits
	Status *Status

	ref    ramp.Linear
	level  float64
	act    float64
	rstOut float64
	ticks  uint64
}

func NewLoop(parent *param.Component, name string) *Loop {
	c := param.NewComponent(parent, "Converter", name)
	l := &Loop{
		Component: c,
		Reference: param.NewNumber(c, "reference", param.Limits(-1000.0, 1000.0), param.WithDefault(0.0)),
		TimeConst: param.NewNumber(c, "time_constant", param.Limits(1e-6, 1e3), param.WithDefault(0.01)),
		SlewRate:  param.NewNumber(c, "slew_rate", param.AtLeast(0.0), param.WithDefault(0.0)),
		PID:       NewPID(c, "pid"),
		RST:       NewRST(c, "rst"),
		Limits:    NewLimits(c, "limits"),
		Status:    NewStatus(c, "status"),
	}
	l.ref.Reset(0)
	return l
}

// Tick advances the loop by dt. It reads active values only and must be
// called from the real-time goroutine.
func (l *Loop) Tick(dt time.Duration) {
	l.ticks++
	if !l.Status.Enabled.Value() || l.Status.Mode.Value() != ModeRegulating {
		l.act = 0
		l.PID.Reset()
		l.ref.Reset(l.level)
		return
	}
	sec := dt.Seconds()
	ref := l.ref.Step(l.Reference.Value(), l.SlewRate.Value(), dt)

	l.act = l.Limits.Apply(l.PID.Tick(ref, l.level, sec))
	l.rstOut = l.RST.Tick(ref, l.level)

	// forward-Euler first-order plant
	l.level += (l.act - l.level) * sec / l.TimeConst.Value()
}

// Level returns the simulated plant output.
func (l *Loop) Level() float64 { return l.level }

// Actuation returns the last limited PID output.
func (l *Loop) Actuation() float64 { return l.act }

// SetPoint returns the slew-limited reference used on the last tick.
func (l *Loop) SetPoint() float64 { return l.ref.Value() }

// RSTOutput returns the last RST controller output.
func (l *Loop) RSTOutput() float64 { return l.rstOut }

// Ticks returns how many times Tick ran.
func (l *Loop) Ticks() uint64 { return l.ticks }

// NewDemo builds the demonstration tree: root "vs" holding one Loop named
// "converter".
func NewDemo() (*param.Root, *Loop) {
	root := param.NewRoot("vs")
	return root, NewLoop(root.Component, "converter")
}
