package flow

import (
	"math"
	"math/rand"

	"tectonica.earth/internal/geo/field"
)

// Engine is a grid-based water/sediment mover: rainfall, steepest-descent
// routing over the hydraulic head, capacity-limited erosion and deposition,
// and temperature-scaled evaporation. It owns the water and sediment layers;
// the elevation field is borrowed and mutated during Step.
type Engine struct {
	cfg  Config
	w, h int

	water    *field.Field
	sediment *field.Field

	// scratch buffers for the routing pass
	nextWater []float64
	nextSed   []float64

	rng *rand.Rand
}

type Config struct {
	Dt               float64 // timestep, geological scale
	RainRate         float64 // water added per cell per unit time
	Evaporation      float64 // fraction of water lost per unit time at BaseTempC
	SedimentCapacity float64 // carrying capacity factor (flow x slope)
	ErodeRate        float64
	DepositRate      float64
	Roughness        float64 // random routing jitter, 0 disables
	Seed             int64
}

func DefaultConfig(seed int64) Config {
	return Config{
		Dt:               1.0,
		RainRate:         0.01,
		Evaporation:      0.05,
		SedimentCapacity: 4.0,
		ErodeRate:        0.3,
		DepositRate:      0.3,
		Roughness:        0.05,
		Seed:             seed,
	}
}

const (
	minWater   = 1e-6
	maxPerStep = 0.05 // cap on elevation change per cell per step
)

func New(w, h int, cfg Config) *Engine {
	if cfg.Dt <= 0 {
		cfg.Dt = 1.0
	}
	if cfg.SedimentCapacity <= 0 {
		cfg.SedimentCapacity = 1.0
	}
	return &Engine{
		cfg:       cfg,
		w:         w,
		h:         h,
		water:     field.New(w, h),
		sediment:  field.New(w, h),
		nextWater: make([]float64, w*h),
		nextSed:   make([]float64, w*h),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (e *Engine) Water() *field.Field    { return e.water }
func (e *Engine) Sediment() *field.Field { return e.sediment }

func (e *Engine) WaterDepth(x, y int) float64 { return e.water.At(x, y) }
func (e *Engine) SedimentAt(x, y int) float64 { return e.sediment.At(x, y) }

// Step advances the water/sediment state one iteration against elev,
// eroding and depositing in place. temp may be nil (no evaporation
// modulation).
func (e *Engine) Step(elev, temp *field.Field) {
	e.rain()
	e.route(elev)
	e.evaporate(elev, temp)
}

func (e *Engine) rain() {
	dw := e.cfg.RainRate * e.cfg.Dt
	if dw <= 0 {
		return
	}
	wv := e.water.Values()
	for i := range wv {
		wv[i] += dw
	}
}

// route moves water (and the sediment it carries) to the
// lowest-hydraulic-head neighbor, eroding when under capacity and
// depositing when over.
func (e *Engine) route(elev *field.Field) {
	wv := e.water.Values()
	sv := e.sediment.Values()
	copy(e.nextWater, wv)
	copy(e.nextSed, sv)

	for y := 0; y < e.h; y++ {
		for x := 0; x < e.w; x++ {
			i := y*e.w + x
			w := wv[i]
			if w < minWater {
				continue
			}

			head := elev.At(x, y) + w
			bx, by, bestHead := -1, -1, head
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					nx, ny := x+dx, y+dy
					if nx < 0 || nx >= e.w || ny < 0 || ny >= e.h {
						continue
					}
					nh := elev.At(nx, ny) + wv[ny*e.w+nx]
					if e.cfg.Roughness > 0 {
						nh += (e.rng.Float64() - 0.5) * e.cfg.Roughness
					}
					if nh < bestHead {
						bx, by, bestHead = nx, ny, nh
					}
				}
			}
			if bx < 0 {
				// Local minimum: settle carried sediment.
				drop := sv[i] * e.cfg.DepositRate * e.cfg.Dt
				drop = clampMag(drop, maxPerStep)
				elev.Add(x, y, drop)
				e.nextSed[i] -= drop
				continue
			}

			drop := head - bestHead
			move := math.Min(w, drop/2)
			if move <= 0 {
				continue
			}

			// Carrying capacity scales with flow volume and slope.
			capacity := e.cfg.SedimentCapacity * move * drop
			sed := sv[i]
			if sed < capacity {
				erode := (capacity - sed) * e.cfg.ErodeRate * e.cfg.Dt
				erode = clampMag(erode, maxPerStep)
				elev.Add(x, y, -erode)
				e.nextSed[i] += erode
				sed += erode
			} else {
				dep := (sed - capacity) * e.cfg.DepositRate * e.cfg.Dt
				dep = clampMag(dep, maxPerStep)
				elev.Add(x, y, dep)
				e.nextSed[i] -= dep
				sed -= dep
			}

			carried := sed * (move / w)
			j := by*e.w + bx
			e.nextWater[i] -= move
			e.nextWater[j] += move
			e.nextSed[i] -= carried
			e.nextSed[j] += carried
		}
	}

	for i := range wv {
		wv[i] = sanitizeNonNeg(e.nextWater[i])
		sv[i] = sanitizeNonNeg(e.nextSed[i])
	}
}

// evaporate removes a fraction of standing water; warm cells lose more.
// Water that dries out drops its sediment in place.
func (e *Engine) evaporate(elev, temp *field.Field) {
	wv := e.water.Values()
	sv := e.sediment.Values()
	base := e.cfg.Evaporation * e.cfg.Dt
	for y := 0; y < e.h; y++ {
		for x := 0; x < e.w; x++ {
			i := y*e.w + x
			if wv[i] < minWater {
				if sv[i] > 0 {
					// Everything carried settles when the water is gone.
					elev.Add(x, y, clampMag(sv[i], maxPerStep))
					sv[i] = 0
				}
				wv[i] = 0
				continue
			}
			f := base
			if temp != nil {
				t := temp.At(x, y)
				if t > 0 {
					f *= 1 + t/40.0
				}
			}
			if f > 1 {
				f = 1
			}
			wv[i] *= 1 - f
		}
	}
}

func clampMag(v, m float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v > m {
		return m
	}
	if v < -m {
		return -m
	}
	return v
}

func sanitizeNonNeg(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
