package param

import (
	"encoding/json"
	"fmt"

	"vslib-go/types"
)

// ParameterInfo is the manifest entry of one parameter.
type ParameterInfo struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Length   int      `json:"length"`
	Value    any      `json:"value"`
	Values   []string `json:"values,omitempty"`
	LimitMin any      `json:"limit_min,omitempty"`
	LimitMax any      `json:"limit_max,omitempty"`
}

// ComponentInfo is the manifest entry of one component and its subtree.
type ComponentInfo struct {
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Parameters []ParameterInfo `json:"parameters"`
	Components []ComponentInfo `json:"components"`
}

type versionEntry struct {
	Version types.Version `json:"version"`
}

// Manifest encodes the versioned description of the tree under c:
// [{"version": [...]}, <component entry>].
func Manifest(c *Component, v types.Version) ([]byte, error) {
	return json.Marshal([]any{versionEntry{Version: v}, c.Serialize()})
}

// ParseManifest decodes a manifest produced by Manifest.
func ParseManifest(b []byte) (types.Version, ComponentInfo, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return types.Version{}, ComponentInfo{}, err
	}
	var (
		ve   versionEntry
		info ComponentInfo
	)
	if len(raw) != 2 {
		return types.Version{}, ComponentInfo{}, fmt.Errorf("manifest: expected 2 entries, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &ve); err != nil {
		return types.Version{}, ComponentInfo{}, err
	}
	if err := json.Unmarshal(raw[1], &info); err != nil {
		return types.Version{}, ComponentInfo{}, err
	}
	return ve.Version, info, nil
}
