package components

import "vslib-go/param"

// Mode is the operator-selected converter mode.
type Mode uint8

const (
	ModeOff Mode = iota
	ModeStandby
	ModeRegulating
	ModeFault
)

var ModeNames = []string{"off", "standby", "regulating", "fault"}

func (m Mode) String() string {
	if int(m) < len(ModeNames) {
		return ModeNames[m]
	}
	return "unknown"
}

// Status carries operator-facing settings with no joint invariants.
type Status struct {
	*param.Component

	Mode    *param.Parameter[Mode]
	Enabled *param.Parameter[bool]
	Label   *param.Parameter[string]
}

func NewStatus(parent *param.Component, name string) *Status {
	c := param.NewComponent(parent, "Status", name)
	return &Status{
		Component: c,
		Mode:      param.NewEnum(c, "mode", ModeNames, param.WithDefault(ModeOff)),
		Enabled:   param.NewBool(c, "enabled", param.WithDefault(false)),
		Label:     param.NewString(c, "label", param.WithDefault("")),
	}
}
