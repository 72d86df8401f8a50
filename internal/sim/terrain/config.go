package terrain

import "math"

// DefaultMaxTextureDimension bounds world size when no device limit is known.
const DefaultMaxTextureDimension = 8192

// Config defines one world generation run. JSON tags follow the UI wire format.
type Config struct {
	WorldWidth  int    `json:"worldWidth" yaml:"world_width"`
	WorldHeight int    `json:"worldHeight" yaml:"world_height"`
	Seed        uint64 `json:"seed" yaml:"seed"`

	Octaves     int     `json:"octaves" yaml:"octaves"`
	Frequency   float64 `json:"frequency" yaml:"frequency"`
	Persistence float64 `json:"persistence" yaml:"persistence"`
	Lacunarity  float64 `json:"lacunarity" yaml:"lacunarity"`
	Amplitude   float64 `json:"amplitude" yaml:"amplitude"`

	SeaLevel     float32 `json:"seaLevel" yaml:"sea_level"`
	MaxElevation float32 `json:"maxElevation" yaml:"max_elevation"`

	ErosionPasses int `json:"erosionPasses" yaml:"erosion_passes"`

	ContourInterval float32 `json:"contourInterval" yaml:"contour_interval"`
	SunAzimuth      float32 `json:"sunAzimuth" yaml:"sun_azimuth"`
}

func DefaultConfig() Config {
	return Config{
		WorldWidth:      1024,
		WorldHeight:     768,
		Seed:            42,
		Octaves:         8,
		Frequency:       2.0,
		Persistence:     0.5,
		Lacunarity:      2.0,
		Amplitude:       1.0,
		SeaLevel:        0.42,
		MaxElevation:    4000,
		ErosionPasses:   5,
		ContourInterval: 100,
		SunAzimuth:      315,
	}
}

func (c Config) Summary() Summary {
	return Summary{WorldWidth: c.WorldWidth, WorldHeight: c.WorldHeight, SeaLevel: c.SeaLevel}
}

// Validate checks every field range. maxDim <= 0 means DefaultMaxTextureDimension.
func (c Config) Validate(maxDim int) error {
	const op = "validate config"
	if maxDim <= 0 {
		maxDim = DefaultMaxTextureDimension
	}
	switch {
	case c.WorldWidth < 2 || c.WorldWidth > maxDim:
		return Validationf(op, "worldWidth %d out of range [2,%d]", c.WorldWidth, maxDim)
	case c.WorldHeight < 2 || c.WorldHeight > maxDim:
		return Validationf(op, "worldHeight %d out of range [2,%d]", c.WorldHeight, maxDim)
	case c.Octaves < 1:
		return Validationf(op, "octaves must be >= 1, got %d", c.Octaves)
	case !(c.Frequency > 0) || math.IsInf(c.Frequency, 0):
		return Validationf(op, "frequency must be > 0, got %v", c.Frequency)
	case !(c.Persistence > 0 && c.Persistence <= 1):
		return Validationf(op, "persistence must be in (0,1], got %v", c.Persistence)
	case !(c.Lacunarity >= 1) || math.IsInf(c.Lacunarity, 0):
		return Validationf(op, "lacunarity must be >= 1, got %v", c.Lacunarity)
	case math.IsNaN(c.Amplitude) || math.IsInf(c.Amplitude, 0):
		return Validationf(op, "amplitude must be finite, got %v", c.Amplitude)
	case !(c.SeaLevel > 0 && c.SeaLevel < 1):
		return Validationf(op, "seaLevel must be in (0,1), got %v", c.SeaLevel)
	case !(c.MaxElevation > 0) || math.IsInf(float64(c.MaxElevation), 0):
		return Validationf(op, "maxElevation must be > 0, got %v", c.MaxElevation)
	case c.ErosionPasses < 0:
		return Validationf(op, "erosionPasses must be >= 0, got %d", c.ErosionPasses)
	case !(c.ContourInterval > 0) || math.IsInf(float64(c.ContourInterval), 0):
		return Validationf(op, "contourInterval must be > 0, got %v", c.ContourInterval)
	case !(c.SunAzimuth >= 0 && c.SunAzimuth < 360):
		return Validationf(op, "sunAzimuth must be in [0,360), got %v", c.SunAzimuth)
	}
	return nil
}
