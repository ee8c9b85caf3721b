package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"vslib-go/types"
)

// -----------------------------------------------------------------------------
// Embedded presets
//
// Key: device ID (Options.Device)
// Val: YAML (or JSON) mapping of fully-qualified parameter name to value.
// Entries are applied in document order.
// -----------------------------------------------------------------------------

const presetDemo = `
vs.converter.reference: 5.0
vs.converter.time_constant: 0.01
vs.converter.slew_rate: 0.0
vs.converter.pid.kp: 1.0
vs.converter.pid.ki: 10.0
vs.converter.pid.kd: 0.0
vs.converter.pid.actuation_limits: [-100.0, 100.0]
vs.converter.rst.r: [1.0, 0.0, 0.0, 0.0]
vs.converter.rst.s: [1.0, 0.0, 0.0, 0.0]
vs.converter.rst.t: [1.0, 0.0, 0.0, 0.0]
vs.converter.limits.min: -100.0
vs.converter.limits.max: 100.0
vs.converter.limits.dead_zone: [0.0, 0.0]
vs.converter.status.label: demo
vs.converter.status.enabled: true
vs.converter.status.mode: regulating
`

var embeddedPresets = map[string][]byte{
	"demo": []byte(presetDemo),
}

// Entry is one preset value.
type Entry struct {
	Name  string
	Value json.RawMessage
}

// ParsePresets decodes a preset document into ordered entries.
func ParsePresets(b []byte) ([]Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("presets: %w", err)
	}
	if doc.Kind == 0 {
		return nil, nil // empty document
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("presets: document is not a mapping")
	}
	m := doc.Content[0]
	out := make([]Entry, 0, len(m.Content)/2)
	seen := make(map[string]int, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], m.Content[i+1]
		if k.Kind != yaml.ScalarNode || k.Value == "" {
			return nil, fmt.Errorf("presets: line %d: key must be a parameter name", k.Line)
		}
		raw, err := nodeJSON(v)
		if err != nil {
			return nil, fmt.Errorf("presets: %s: %w", k.Value, err)
		}
		if j, dup := seen[k.Value]; dup {
			out[j].Value = raw // last one wins, first position kept
			continue
		}
		seen[k.Value] = len(out)
		out = append(out, Entry{Name: k.Value, Value: raw})
	}
	return out, nil
}

// nodeJSON renders a YAML value as JSON, keeping the literal class of
// numbers: a float literal stays a float literal even when it is integral.
func nodeJSON(n *yaml.Node) (json.RawMessage, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return nodeJSON(n.Alias)
	case yaml.SequenceNode:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, el := range n.Content {
			if i > 0 {
				b.WriteByte(',')
			}
			raw, err := nodeJSON(el)
			if err != nil {
				return nil, err
			}
			b.Write(raw)
		}
		b.WriteByte(']')
		return b.Bytes(), nil
	case yaml.MappingNode:
		var b bytes.Buffer
		b.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				b.WriteByte(',')
			}
			key, err := json.Marshal(n.Content[i].Value)
			if err != nil {
				return nil, err
			}
			raw, err := nodeJSON(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			b.Write(key)
			b.WriteByte(':')
			b.Write(raw)
		}
		b.WriteByte('}')
		return b.Bytes(), nil
	case yaml.ScalarNode:
		return scalarJSON(n)
	default:
		return nil, fmt.Errorf("line %d: unsupported value", n.Line)
	}
}

func scalarJSON(n *yaml.Node) (json.RawMessage, error) {
	switch n.ShortTag() {
	case "!!null":
		return json.RawMessage("null"), nil
	case "!!bool":
		var v bool
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	case "!!int":
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	case "!!float":
		var v float64
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, fmt.Errorf("line %d: %s has no JSON form", n.Line, n.Value)
		}
		out := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(out, ".eE") {
			out += ".0"
		}
		return json.RawMessage(out), nil
	default:
		return json.Marshal(n.Value)
	}
}

// Commands turns entries into version-stamped commands.
func Commands(entries []Entry) []types.Command {
	out := make([]types.Command, len(entries))
	for i, e := range entries {
		out[i] = types.NewCommand(e.Name, e.Value)
	}
	return out
}
