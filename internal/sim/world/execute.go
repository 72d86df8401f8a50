package world

import (
	"context"
	"encoding/json"
	"fmt"

	"worldweaver.app/internal/protocol"
	"worldweaver.app/internal/sim/brush"
)

// Execute runs one protocol command by name. Params must already have passed
// schema validation; list_worlds is served by the transport, not the world.
func (w *World) Execute(ctx context.Context, command string, raw json.RawMessage) (any, error) {
	switch command {
	case protocol.CmdGenerateTerrain:
		cfg, err := protocol.DecodeTerrainConfig(raw, w.tun.Terrain)
		if err != nil {
			return nil, err
		}
		return w.GenerateTerrain(ctx, cfg)

	case protocol.CmdSetActiveTool:
		var p protocol.SetToolParams
		if err := protocol.DecodeParams(raw, &p); err != nil {
			return nil, err
		}
		if err := w.SetActiveTool(ctx, p.Tool); err != nil {
			return nil, err
		}
		return map[string]brush.Tool{"tool": p.Tool}, nil

	case protocol.CmdSetBrushParams:
		var p brush.ParamsPatch
		if err := protocol.DecodeParams(raw, &p); err != nil {
			return nil, err
		}
		return w.SetBrushParams(ctx, p)

	case protocol.CmdUndoStroke:
		return w.UndoStroke(ctx)

	case protocol.CmdResetView:
		return w.ResetView(ctx)

	case protocol.CmdSaveWorld, protocol.CmdLoadWorld:
		var p protocol.PathParams
		if err := protocol.DecodeParams(raw, &p); err != nil {
			return nil, err
		}
		if command == protocol.CmdSaveWorld {
			return w.SaveWorld(ctx, p.Path)
		}
		return w.LoadWorld(ctx, p.Path)

	case protocol.CmdGenerateVolcanos:
		cfg, err := protocol.DecodeVolcanoConfig(raw)
		if err != nil {
			return nil, err
		}
		return w.GenerateVolcanoes(ctx, cfg)

	case protocol.CmdBeginStroke, protocol.CmdBrushTick:
		var p protocol.PointParams
		if err := protocol.DecodeParams(raw, &p); err != nil {
			return nil, err
		}
		pt := Point{X: p.X, Y: p.Y, World: p.IsWorld()}
		if command == protocol.CmdBeginStroke {
			return w.BeginStroke(ctx, pt)
		}
		return w.BrushTick(ctx, pt)

	case protocol.CmdEndStroke:
		pushed, err := w.EndStroke(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"committed": pushed}, nil

	case protocol.CmdSetCanvasSize:
		var p protocol.CanvasParams
		if err := protocol.DecodeParams(raw, &p); err != nil {
			return nil, err
		}
		return w.SetCanvasSize(ctx, p.Width, p.Height)

	case protocol.CmdZoomAt:
		var p protocol.ZoomParams
		if err := protocol.DecodeParams(raw, &p); err != nil {
			return nil, err
		}
		return w.ZoomAt(ctx, p.X, p.Y, p.Factor)

	case protocol.CmdSetViewportTransform:
		var p protocol.ViewportParams
		if err := protocol.DecodeParams(raw, &p); err != nil {
			return nil, err
		}
		return w.SetViewportTransform(ctx, ViewTransform{TranslateX: p.TranslateX, TranslateY: p.TranslateY, Scale: p.Scale})

	case protocol.CmdPan:
		var p protocol.PanParams
		if err := protocol.DecodeParams(raw, &p); err != nil {
			return nil, err
		}
		return w.Pan(ctx, p.DX, p.DY)

	case protocol.CmdGetTerrainConfig:
		cfg, ok, err := w.TerrainConfig(ctx)
		if err != nil || !ok {
			return nil, err
		}
		return cfg, nil

	case protocol.CmdStatus:
		return w.Status(ctx)
	}
	return nil, &protocol.ProtoError{Msg: fmt.Sprintf("unsupported command %q", command)}
}
