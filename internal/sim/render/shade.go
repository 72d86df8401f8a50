package render

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Constants tune the look of a frame.
type Constants struct {
	RiverThreshold float32 `yaml:"river_threshold"`
	RiverFull      float32 `yaml:"river_full"`
	RiverMaxBlend  float32 `yaml:"river_max_blend"`
	ContourBand    float32 `yaml:"contour_band"`
	ContourDarken  float32 `yaml:"contour_darken"`
	ShadeFloor     float32 `yaml:"shade_floor"`
	MaxWaterBlend  float32 `yaml:"max_water_blend"`
	SunAltitude    float32 `yaml:"sun_altitude_deg"`
	// ReliefScale is the horizontal size of one texel in elevation units.
	ReliefScale float32 `yaml:"relief_scale"`
}

func DefaultConstants() Constants {
	return Constants{
		RiverThreshold: 0.15,
		RiverFull:      0.45,
		RiverMaxBlend:  0.85,
		ContourBand:    0.04,
		ContourDarken:  0.7,
		ShadeFloor:     0.35,
		MaxWaterBlend:  0.85,
		SunAltitude:    45,
		ReliefScale:    100,
	}
}

var (
	Background = mgl32.Vec3{0.05, 0.08, 0.15}
	RiverColor = mgl32.Vec3{0.2, 0.45, 0.85}
	WaterTint  = mgl32.Vec3{0.1, 0.25, 0.5}
)

// Uniforms are the per-frame inputs besides the textures.
type Uniforms struct {
	Translate       mgl32.Vec2
	Scale           float32
	CanvasSize      mgl32.Vec2
	WorldSize       mgl32.Vec2
	SeaLevel        float32
	MaxElevation    float32
	ContourInterval float32
	HasFlow         bool
	HideUnderwater  bool
	SunAzimuth      float32
}

// SunDir points toward the sun. Azimuth is degrees clockwise from north
// (screen up); altitude is degrees above the horizon.
func SunDir(azimuth, altitude float32) mgl32.Vec3 {
	az := mgl32.DegToRad(azimuth)
	alt := mgl32.DegToRad(altitude)
	c := float32(math.Cos(float64(alt)))
	return mgl32.Vec3{
		c * float32(math.Sin(float64(az))),
		-c * float32(math.Cos(float64(az))),
		float32(math.Sin(float64(alt))),
	}.Normalize()
}

func IsUnderwater(h, seaLevel float32) bool { return h < seaLevel }

// RiverWeight is the river overlay blend for a flow value; 0 at or below the threshold.
func (k Constants) RiverWeight(flow float32) float32 {
	if flow <= k.RiverThreshold {
		return 0
	}
	t := mgl32.Clamp((flow-k.RiverThreshold)/(k.RiverFull-k.RiverThreshold), 0, 1)
	return t * t * (3 - 2*t) * k.RiverMaxBlend
}

// IsContour reports whether h lies on a contour line.
func (k Constants) IsContour(h, maxElevation, interval float32) bool {
	if !(interval > 0) {
		return false
	}
	e := float64(h * maxElevation / interval)
	f := float32(e - math.Floor(e))
	return f < k.ContourBand || f > 1-k.ContourBand
}

// WaterBlend is how strongly the water tint covers a texel depth below sea level.
func (k Constants) WaterBlend(depth, seaLevel float32) float32 {
	if seaLevel <= 0 {
		return k.MaxWaterBlend
	}
	return min(0.35+0.65*depth/seaLevel, k.MaxWaterBlend)
}

// Shade is mix(ShadeFloor, 1, clamp(n·sun)).
func (k Constants) Shade(normal, sun mgl32.Vec3) float32 {
	d := mgl32.Clamp(normal.Dot(sun), 0, 1)
	return k.ShadeFloor + (1-k.ShadeFloor)*d
}

func mix(a, b mgl32.Vec3, t float32) mgl32.Vec3 {
	return a.Mul(1 - t).Add(b.Mul(t))
}
