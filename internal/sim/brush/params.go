package brush

import (
	"math"

	"worldweaver.app/internal/sim/terrain"
)

type Params struct {
	Radius        float32 `json:"radius"`
	// Strength is signed: a negative raise lowers, a negative lower raises.
	// The blend tools clamp their weight to [0,1], so negative values leave them idle.
	Strength      float32 `json:"strength"`
	FlattenTarget float32 `json:"flattenTarget"`
	NoiseScale    float32 `json:"noiseScale"`
}

func DefaultParams() Params {
	return Params{Radius: 30, Strength: 0.5, FlattenTarget: 0.5, NoiseScale: 0.05}
}

func finite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}

func (p Params) Validate() error {
	const op = "brush.params"
	switch {
	case !finite(p.Radius) || p.Radius <= 0:
		return terrain.Validationf(op, "radius must be > 0, got %v", p.Radius)
	case !finite(p.Strength):
		return terrain.Validationf(op, "strength must be finite, got %v", p.Strength)
	case !finite(p.FlattenTarget) || p.FlattenTarget < 0 || p.FlattenTarget > 1:
		return terrain.Validationf(op, "flattenTarget must be in [0,1], got %v", p.FlattenTarget)
	case !finite(p.NoiseScale) || p.NoiseScale <= 0:
		return terrain.Validationf(op, "noiseScale must be > 0, got %v", p.NoiseScale)
	}
	return nil
}

// ParamsPatch is a partial update; nil fields keep their current value.
type ParamsPatch struct {
	Radius        *float32 `json:"radius,omitempty"`
	Strength      *float32 `json:"strength,omitempty"`
	FlattenTarget *float32 `json:"flattenTarget,omitempty"`
	NoiseScale    *float32 `json:"noiseScale,omitempty"`
}

func (p ParamsPatch) Apply(cur Params) Params {
	if p.Radius != nil {
		cur.Radius = *p.Radius
	}
	if p.Strength != nil {
		cur.Strength = *p.Strength
	}
	if p.FlattenTarget != nil {
		cur.FlattenTarget = *p.FlattenTarget
	}
	if p.NoiseScale != nil {
		cur.NoiseScale = *p.NoiseScale
	}
	return cur
}

// Constants scale each tool's per-tick effect.
type Constants struct {
	RaiseRate   float32 `yaml:"raise_rate"`
	FlattenRate float32 `yaml:"flatten_rate"`
	ErodeRate   float32 `yaml:"erode_rate"`
	NoiseRate   float32 `yaml:"noise_rate"`
}

func DefaultConstants() Constants {
	return Constants{RaiseRate: 0.02, FlattenRate: 0.1, ErodeRate: 0.5, NoiseRate: 0.02}
}
