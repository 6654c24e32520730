package converge

import (
	"log"
	"math"
	"strconv"

	"tectonica.earth/internal/geo/field"
)

// Config selects the convergence criteria and their thresholds. A zero
// threshold disables its criterion.
type Config struct {
	MinIterations       int
	TotalChangeThresh   float64
	AverageChangeThresh float64
	MaxChangeThresh     float64
	RateThresh          float64 // avg abs discrete derivative of recent totals
	VarianceThresh      float64 // population variance of recent averages

	WindowSize          int // rolling history capacity (default 50)
	ConsecutiveRequired int // iterations meeting all criteria (default 10)

	// Adaptive mode linearly tightens thresholds by up to 50% as the
	// iteration count approaches adaptiveHorizon.
	Adaptive bool

	ProgressEvery int
}

const (
	defaultWindow      = 50
	defaultConsecutive = 10
	rateSamples        = 10
	varianceSamples    = 20
	adaptiveHorizon    = 10000
	maxTighten         = 0.5
)

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = defaultWindow
	}
	if c.ConsecutiveRequired <= 0 {
		c.ConsecutiveRequired = defaultConsecutive
	}
	return c
}

// window is a fixed-capacity rolling history; the oldest sample is evicted
// on overflow.
type window struct {
	buf  []float64
	head int
	n    int
}

func newWindow(cap_ int) *window {
	return &window{buf: make([]float64, cap_)}
}

func (w *window) push(v float64) {
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

func (w *window) len() int { return w.n }

// last returns up to k newest samples, oldest first.
func (w *window) last(k int) []float64 {
	if k > w.n {
		k = w.n
	}
	out := make([]float64, 0, k)
	for i := w.n - k; i < w.n; i++ {
		idx := (w.head - w.n + i + 2*len(w.buf)) % len(w.buf)
		out = append(out, w.buf[idx])
	}
	return out
}

// Tracker decides when the iterative simulation has stabilized.
type Tracker struct {
	cfg Config
	log *log.Logger

	iteration int

	totals   *window
	averages *window
	maxima   *window

	initialTotal float64
	lastTotal    float64
	lastAverage  float64
	lastMax      float64
	lastChanged  int

	consecutive  int
	converged    bool
	convergedAt  int
	convergeRate float64 // total change at convergence / initial total
}

func NewTracker(cfg Config, logger *log.Logger) *Tracker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		cfg:      cfg,
		log:      logger,
		totals:   newWindow(cfg.WindowSize),
		averages: newWindow(cfg.WindowSize),
		maxima:   newWindow(cfg.WindowSize),
	}
}

// Reset clears all history so the tracker can drive a fresh run.
func (t *Tracker) Reset() {
	*t = *NewTracker(t.cfg, t.log)
}

// RecordIteration folds one iteration's field change into the history and
// re-evaluates convergence. extra is an optional caller-supplied scalar
// (e.g. momentum drift) folded into the total metric; pass 0 to ignore.
func (t *Tracker) RecordIteration(old, new_ *field.Field, extra float64) {
	t.iteration++

	d := new_.Diff(old)
	total := d.Total
	if math.IsNaN(extra) || math.IsInf(extra, 0) {
		extra = 0
	}
	total += math.Abs(extra)

	t.lastTotal = total
	t.lastAverage = d.Average
	t.lastMax = d.Max
	t.lastChanged = d.Changed
	if t.iteration == 1 {
		t.initialTotal = total
	}

	t.totals.push(total)
	t.averages.push(d.Average)
	t.maxima.push(d.Max)

	if t.converged {
		return
	}

	if t.pass() {
		t.consecutive++
	} else {
		t.consecutive = 0
	}

	if t.iteration >= t.cfg.MinIterations && t.consecutive >= t.cfg.ConsecutiveRequired {
		t.converged = true
		t.convergedAt = t.iteration
		if t.initialTotal > 0 {
			t.convergeRate = t.lastTotal / t.initialTotal
		}
	}

	if t.cfg.ProgressEvery > 0 && t.iteration%t.cfg.ProgressEvery == 0 {
		rem, ok := t.EstimateRemaining()
		remStr := "unknown"
		if ok {
			remStr = strconv.Itoa(rem)
		}
		t.log.Printf("converge: iter=%d total=%.6g avg=%.6g max=%.6g streak=%d/%d est_remaining=%s",
			t.iteration, t.lastTotal, t.lastAverage, t.lastMax,
			t.consecutive, t.cfg.ConsecutiveRequired, remStr)
	}
}

// pass evaluates every enabled criterion against its (possibly adapted)
// threshold.
func (t *Tracker) pass() bool {
	tighten := 1.0
	if t.cfg.Adaptive {
		frac := float64(t.iteration) / adaptiveHorizon
		if frac > 1 {
			frac = 1
		}
		tighten = 1 - maxTighten*frac
	}

	if th := t.cfg.TotalChangeThresh * tighten; t.cfg.TotalChangeThresh > 0 && t.lastTotal > th {
		return false
	}
	if th := t.cfg.AverageChangeThresh * tighten; t.cfg.AverageChangeThresh > 0 && t.lastAverage > th {
		return false
	}
	if th := t.cfg.MaxChangeThresh * tighten; t.cfg.MaxChangeThresh > 0 && t.lastMax > th {
		return false
	}
	if t.cfg.RateThresh > 0 {
		rate, ok := t.changeRate()
		if !ok || rate > t.cfg.RateThresh*tighten {
			return false
		}
	}
	if t.cfg.VarianceThresh > 0 {
		v, ok := t.variance()
		if !ok || v > t.cfg.VarianceThresh*tighten {
			return false
		}
	}
	return true
}

// changeRate is the average absolute discrete derivative of the last
// rateSamples total-change values.
func (t *Tracker) changeRate() (float64, bool) {
	s := t.totals.last(rateSamples)
	if len(s) < 2 {
		return 0, false
	}
	sum := 0.0
	for i := 1; i < len(s); i++ {
		sum += math.Abs(s[i] - s[i-1])
	}
	return sum / float64(len(s)-1), true
}

// variance is the population variance of the last varianceSamples
// average-change values.
func (t *Tracker) variance() (float64, bool) {
	s := t.averages.last(varianceSamples)
	if len(s) < 2 {
		return 0, false
	}
	mean := 0.0
	for _, v := range s {
		mean += v
	}
	mean /= float64(len(s))
	acc := 0.0
	for _, v := range s {
		d := v - mean
		acc += d * d
	}
	return acc / float64(len(s)), true
}

// EstimateRemaining linearly extrapolates how many more iterations the
// current rate of decrease needs to reach the total-change threshold.
// ok is false while the rate is non-positive or history is too short.
func (t *Tracker) EstimateRemaining() (int, bool) {
	s := t.totals.last(rateSamples)
	if len(s) < 2 || t.cfg.TotalChangeThresh <= 0 {
		return 0, false
	}
	decrease := (s[0] - s[len(s)-1]) / float64(len(s)-1)
	if decrease <= 0 {
		return 0, false
	}
	gap := t.lastTotal - t.cfg.TotalChangeThresh
	if gap <= 0 {
		return 0, true
	}
	return int(math.Ceil(gap / decrease)), true
}

func (t *Tracker) Iteration() int        { return t.iteration }
func (t *Tracker) IsConverged() bool     { return t.converged }
func (t *Tracker) LastTotal() float64    { return t.lastTotal }
func (t *Tracker) LastAverage() float64  { return t.lastAverage }
func (t *Tracker) LastMax() float64      { return t.lastMax }
func (t *Tracker) LastChangedCells() int { return t.lastChanged }

// ConvergedAt reports the iteration at which convergence fired; ok is
// false when the run never converged.
func (t *Tracker) ConvergedAt() (int, bool) {
	return t.convergedAt, t.converged
}

// ConvergenceRatio is current-total / initial-total at convergence time.
func (t *Tracker) ConvergenceRatio() float64 { return t.convergeRate }

// Stats is the efficiency accounting exposed to callers.
type Stats struct {
	ConvergedAt     int     `json:"converged_at,omitempty"`
	Converged       bool    `json:"converged"`
	Ratio           float64 `json:"ratio"`
	IterationsSaved int     `json:"iterations_saved"`
	EfficiencyGain  float64 `json:"efficiency_gain"`
}

func (t *Tracker) Stats(maxIterations int) Stats {
	s := Stats{Converged: t.converged, Ratio: t.convergeRate}
	if t.converged {
		s.ConvergedAt = t.convergedAt
		if maxIterations > t.convergedAt {
			s.IterationsSaved = maxIterations - t.convergedAt
			s.EfficiencyGain = float64(s.IterationsSaved) / float64(maxIterations)
		}
	}
	return s
}
