package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"worldweaver.app/internal/sim/brush"
	"worldweaver.app/internal/sim/render"
	"worldweaver.app/internal/sim/terrain"
	"worldweaver.app/internal/sim/undo"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// Terrain is the default generation config for commands that omit one.
	Terrain terrain.Config `yaml:"terrain"`

	IslandMask  bool    `yaml:"island_mask"`
	ErosionRate float32 `yaml:"erosion_rate"`
	Workers     int     `yaml:"workers"`

	MaxTextureDimension int `yaml:"max_texture_dimension"`
	QueueDepth          int `yaml:"queue_depth"`

	UndoDepth    int `yaml:"undo_depth"`
	UndoTileSize int `yaml:"undo_tile_size"`

	CanvasWidth  int `yaml:"canvas_width"`
	CanvasHeight int `yaml:"canvas_height"`

	Brush  brush.Constants  `yaml:"brush"`
	Render render.Constants `yaml:"render"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:     "1.0",
		Terrain:             terrain.DefaultConfig(),
		IslandMask:          false,
		ErosionRate:         0.1,
		Workers:             0,
		MaxTextureDimension: terrain.DefaultMaxTextureDimension,
		QueueDepth:          256,
		UndoDepth:           undo.DefaultDepth,
		UndoTileSize:        undo.DefaultTileSize,
		CanvasWidth:         render.DefaultCanvasWidth,
		CanvasHeight:        render.DefaultCanvasHeight,
		Brush:               brush.DefaultConstants(),
		Render:              render.DefaultConstants(),
	}
}

// Load reads path over Defaults, so a file only needs the keys it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	const op = "tuning"
	switch {
	case t.UndoDepth < 1:
		return terrain.Validationf(op, "undo_depth must be >= 1, got %d", t.UndoDepth)
	case t.UndoTileSize < 1:
		return terrain.Validationf(op, "undo_tile_size must be >= 1, got %d", t.UndoTileSize)
	case t.CanvasWidth < 1 || t.CanvasHeight < 1:
		return terrain.Validationf(op, "canvas %dx%d must be positive", t.CanvasWidth, t.CanvasHeight)
	case t.MaxTextureDimension < 2:
		return terrain.Validationf(op, "max_texture_dimension must be >= 2, got %d", t.MaxTextureDimension)
	case !(t.ErosionRate >= 0 && t.ErosionRate <= 1):
		return terrain.Validationf(op, "erosion_rate must be in [0,1], got %v", t.ErosionRate)
	case t.Render.RiverFull <= t.Render.RiverThreshold:
		return terrain.Validationf(op, "render.river_full must exceed river_threshold")
	}
	if err := t.Terrain.Validate(t.MaxTextureDimension); err != nil {
		return err
	}
	return nil
}
