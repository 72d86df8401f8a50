// Package brush implements the sculpting tools as compute kernels.
package brush

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Tool uint8

const (
	ToolNone Tool = iota
	ToolRaise
	ToolLower
	ToolSmooth
	ToolFlatten
	ToolErode
	ToolNoise
)

var toolNames = map[Tool]string{
	ToolNone:    "none",
	ToolRaise:   "raise",
	ToolLower:   "lower",
	ToolSmooth:  "smooth",
	ToolFlatten: "flatten",
	ToolErode:   "erode",
	ToolNoise:   "noise",
}

// Tools lists the sculpting tools (ToolNone excluded).
var Tools = []Tool{ToolRaise, ToolLower, ToolSmooth, ToolFlatten, ToolErode, ToolNoise}

func (t Tool) String() string {
	if s, ok := toolNames[t]; ok {
		return s
	}
	return fmt.Sprintf("tool(%d)", uint8(t))
}

// Pipeline is the compute pipeline name for the tool.
func (t Tool) Pipeline() string { return "brush." + t.String() }

func ParseTool(s string) (Tool, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ToolNone, nil
	}
	for t, name := range toolNames {
		if name == s {
			return t, nil
		}
	}
	return ToolNone, fmt.Errorf("unknown tool %q", s)
}

func (t Tool) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

func (t *Tool) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = ToolNone
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTool(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}
