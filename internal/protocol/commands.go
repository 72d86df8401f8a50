package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"worldweaver.app/internal/sim/brush"
	"worldweaver.app/internal/sim/terrain"
	"worldweaver.app/internal/sim/terrain/volcano"
)

// Command names.
const (
	CmdGenerateTerrain  = "generate_terrain"
	CmdSetActiveTool    = "set_active_tool"
	CmdSetBrushParams   = "set_brush_params"
	CmdUndoStroke       = "undo_stroke"
	CmdResetView        = "reset_view"
	CmdSaveWorld        = "save_world"
	CmdLoadWorld        = "load_world"
	CmdGenerateVolcanos = "generate_volcanoes"
	CmdBeginStroke      = "begin_stroke"
	CmdBrushTick        = "brush_tick"
	CmdEndStroke        = "end_stroke"
	CmdSetCanvasSize    = "set_canvas_size"
	CmdZoomAt           = "zoom_at"
	CmdPan              = "pan"
	CmdGetTerrainConfig = "get_terrain_config"
	CmdStatus           = "status"
	CmdListWorlds       = "list_worlds"

	CmdSetViewportTransform = "set_viewport_transform"
)

var Commands = []string{
	CmdGenerateTerrain, CmdSetActiveTool, CmdSetBrushParams, CmdUndoStroke, CmdResetView,
	CmdSaveWorld, CmdLoadWorld, CmdGenerateVolcanos, CmdBeginStroke, CmdBrushTick, CmdEndStroke,
	CmdSetCanvasSize, CmdZoomAt, CmdPan, CmdSetViewportTransform, CmdGetTerrainConfig, CmdStatus, CmdListWorlds,
}

type SetToolParams struct {
	Tool brush.Tool `json:"tool"`
}

type PathParams struct {
	Path string `json:"path"`
}

// PointParams is a brush position. Space is "screen" (canvas pixels, the
// default) or "world" (texels).
type PointParams struct {
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	Space string  `json:"space,omitempty"`
}

func (p PointParams) IsWorld() bool { return p.Space == "world" }

type CanvasParams struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type ZoomParams struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Factor float32 `json:"factor"`
}

type PanParams struct {
	DX float32 `json:"dx"`
	DY float32 `json:"dy"`
}

// ViewportParams sets any subset of the camera transform.
type ViewportParams struct {
	TranslateX *float32 `json:"translateX,omitempty"`
	TranslateY *float32 `json:"translateY,omitempty"`
	Scale      *float32 `json:"scale,omitempty"`
}

type ListWorldsParams struct {
	Limit int `json:"limit,omitempty"`
}

// DecodeParams unmarshals raw into dst, rejecting unknown fields.
// Empty params leave dst untouched.
func DecodeParams(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ProtoError{Msg: fmt.Sprintf("bad params: %v", err)}
	}
	return nil
}

// DecodeTerrainConfig overlays raw onto base, so clients may send a partial config.
func DecodeTerrainConfig(raw json.RawMessage, base terrain.Config) (terrain.Config, error) {
	cfg := base
	err := DecodeParams(raw, &cfg)
	return cfg, err
}

func DecodeVolcanoConfig(raw json.RawMessage) (volcano.Config, error) {
	cfg := volcano.DefaultConfig()
	err := DecodeParams(raw, &cfg)
	return cfg, err
}
