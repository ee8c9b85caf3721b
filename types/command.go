package types

import "encoding/json"

// Command is the parameter-setting message consumed by the background task:
//
//	{"name": "root.pid_1.kp", "value": 5.0, "version": [1, 0, 0]}
type Command struct {
	Name    string          `json:"name" validate:"required"`
	Value   json.RawMessage `json:"value" validate:"required,jsonvalue"`
	Version []int           `json:"version" validate:"required,len=3,dive,gte=0"`
}

// NewCommand builds a command stamped with the compiled interface version.
func NewCommand(name string, value json.RawMessage) Command {
	return Command{Name: name, Value: value, Version: InterfaceVersion.Array()}
}

// Status is produced for every processed command and every component
// verification. Message is the plain-text form forwarded over transports.
type Status struct {
	OK        bool   `json:"ok"`
	Code      string `json:"code"`
	Parameter string `json:"parameter,omitempty"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
	TS        int64  `json:"ts_ms"`
}

// ConverterState is published retained by the real-time runtime.
type ConverterState struct {
	Level  string `json:"level"`  // e.g. "unconfigured", "configured", "stopped"
	Status string `json:"status"` // freeform short code
	TS     int64  `json:"ts_ms"`
}
