package terrain

import (
	opensimplex "github.com/ojrac/opensimplex-go"

	"tectonica.earth/internal/geo/field"
)

// Generator produces the initial elevation field the evolution driver
// starts from: seeded fractal opensimplex noise, optionally blended with
// the tectonic base elevation by the caller.
type Generator struct {
	noise opensimplex.Noise
	cfg   Config
}

type Config struct {
	Octaves    int
	Frequency  float64 // base spatial frequency in cells
	Lacunarity float64 // frequency multiplier per octave
	Gain       float64 // amplitude multiplier per octave
	Amplitude  float64 // overall output scale
}

func DefaultConfig() Config {
	return Config{
		Octaves:    5,
		Frequency:  1.0 / 48.0,
		Lacunarity: 2.0,
		Gain:       0.5,
		Amplitude:  1.0,
	}
}

func New(seed int64, cfg Config) *Generator {
	if cfg.Octaves < 1 {
		cfg.Octaves = 1
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = DefaultConfig().Frequency
	}
	if cfg.Lacunarity <= 0 {
		cfg.Lacunarity = 2.0
	}
	if cfg.Gain <= 0 {
		cfg.Gain = 0.5
	}
	return &Generator{noise: opensimplex.New(seed), cfg: cfg}
}

// Generate fills a w x h elevation field with fBm noise in
// [-Amplitude, Amplitude].
func (g *Generator) Generate(w, h int) *field.Field {
	f := field.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Set(x, y, g.fbm(float64(x), float64(y))*g.cfg.Amplitude)
		}
	}
	return f
}

func (g *Generator) fbm(x, y float64) float64 {
	freq := g.cfg.Frequency
	amp := 1.0
	sum := 0.0
	norm := 0.0
	for o := 0; o < g.cfg.Octaves; o++ {
		sum += amp * g.noise.Eval2(x*freq, y*freq)
		norm += amp
		freq *= g.cfg.Lacunarity
		amp *= g.cfg.Gain
	}
	if norm == 0 {
		return 0
	}
	return sum / norm
}
