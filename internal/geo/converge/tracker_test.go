package converge

import (
	"testing"

	"tectonica.earth/internal/geo/field"
)

// deltaPair builds an (old, new) field pair whose total change is exactly v.
func deltaPair(v float64) (*field.Field, *field.Field) {
	old := field.New(4, 4)
	cur := field.New(4, 4)
	cur.Set(0, 0, v)
	return old, cur
}

func TestConvergesOnMonotonicDecrease(t *testing.T) {
	cfg := Config{
		MinIterations:       5,
		TotalChangeThresh:   0.1,
		ConsecutiveRequired: 3,
	}
	tr := NewTracker(cfg, nil)

	change := 1.0
	limit := cfg.MinIterations + cfg.ConsecutiveRequired
	for i := 0; i < limit+5; i++ {
		old, cur := deltaPair(change)
		tr.RecordIteration(old, cur, 0)
		change /= 2
		if tr.IsConverged() {
			break
		}
	}

	if !tr.IsConverged() {
		t.Fatalf("never converged on strictly decreasing input")
	}
	at, ok := tr.ConvergedAt()
	if !ok {
		t.Fatalf("ConvergedAt reported not converged")
	}
	if at > limit {
		t.Fatalf("converged at %d, want <= %d", at, limit)
	}
	if r := tr.ConvergenceRatio(); r > 1 || r < 0 {
		t.Fatalf("convergence ratio out of range: %v", r)
	}
}

func TestNoConvergenceBeforeMinIterations(t *testing.T) {
	tr := NewTracker(Config{
		MinIterations:       50,
		TotalChangeThresh:   10,
		ConsecutiveRequired: 2,
	}, nil)

	for i := 0; i < 20; i++ {
		old, cur := deltaPair(0.001)
		tr.RecordIteration(old, cur, 0)
	}
	if tr.IsConverged() {
		t.Fatalf("converged before min iterations")
	}
	if _, ok := tr.ConvergedAt(); ok {
		t.Fatalf("ConvergedAt set before convergence")
	}
}

func TestStreakResetsOnSpike(t *testing.T) {
	tr := NewTracker(Config{
		MinIterations:       1,
		TotalChangeThresh:   0.1,
		ConsecutiveRequired: 5,
	}, nil)

	for i := 0; i < 4; i++ {
		old, cur := deltaPair(0.01)
		tr.RecordIteration(old, cur, 0)
	}
	// A spike above threshold must reset the streak.
	old, cur := deltaPair(5.0)
	tr.RecordIteration(old, cur, 0)
	for i := 0; i < 4; i++ {
		old, cur := deltaPair(0.01)
		tr.RecordIteration(old, cur, 0)
	}
	if tr.IsConverged() {
		t.Fatalf("converged despite streak reset")
	}
	old, cur = deltaPair(0.01)
	tr.RecordIteration(old, cur, 0)
	if !tr.IsConverged() {
		t.Fatalf("should converge after rebuilt streak")
	}
}

func TestRateAndVarianceCriteria(t *testing.T) {
	tr := NewTracker(Config{
		MinIterations:       1,
		TotalChangeThresh:   1.0,
		RateThresh:          0.01,
		VarianceThresh:      0.01,
		ConsecutiveRequired: 3,
	}, nil)

	// Constant change: zero derivative, zero variance, below total
	// threshold -> all three criteria pass.
	for i := 0; i < 30; i++ {
		old, cur := deltaPair(0.5)
		tr.RecordIteration(old, cur, 0)
	}
	if !tr.IsConverged() {
		t.Fatalf("flat sequence should satisfy rate and variance criteria")
	}
}

func TestAdaptiveTightening(t *testing.T) {
	cfg := Config{
		MinIterations:       1,
		TotalChangeThresh:   1.0,
		ConsecutiveRequired: 1,
		Adaptive:            true,
	}
	tr := NewTracker(cfg, nil)
	tr.iteration = adaptiveHorizon // fully tightened: threshold halves
	tr.lastTotal = 0.75
	if tr.pass() {
		t.Fatalf("0.75 should fail the tightened threshold 0.5")
	}
	tr.lastTotal = 0.4
	if !tr.pass() {
		t.Fatalf("0.4 should pass the tightened threshold 0.5")
	}
}

func TestEstimateRemaining(t *testing.T) {
	tr := NewTracker(Config{
		MinIterations:     1000,
		TotalChangeThresh: 1.0,
	}, nil)

	if _, ok := tr.EstimateRemaining(); ok {
		t.Fatalf("estimate with no history")
	}

	// Increasing change: non-positive rate of decrease -> unknown.
	for i := 1; i <= 5; i++ {
		old, cur := deltaPair(float64(i))
		tr.RecordIteration(old, cur, 0)
	}
	if _, ok := tr.EstimateRemaining(); ok {
		t.Fatalf("estimate on increasing change should be unknown")
	}

	// Re-run with a steady decrease of 1 per iteration from 100.
	tr.Reset()
	for i := 0; i < 10; i++ {
		old, cur := deltaPair(100 - float64(i))
		tr.RecordIteration(old, cur, 0)
	}
	rem, ok := tr.EstimateRemaining()
	if !ok {
		t.Fatalf("estimate should be known on decreasing change")
	}
	// Last total is 91, threshold 1, rate 1/iter: ~90 remaining.
	if rem < 80 || rem > 100 {
		t.Fatalf("estimate off: %d", rem)
	}
}

func TestStats(t *testing.T) {
	tr := NewTracker(Config{
		MinIterations:       1,
		TotalChangeThresh:   1.0,
		ConsecutiveRequired: 1,
	}, nil)
	old, cur := deltaPair(0.5)
	tr.RecordIteration(old, cur, 0)

	s := tr.Stats(100)
	if !s.Converged || s.ConvergedAt != 1 {
		t.Fatalf("stats: %+v", s)
	}
	if s.IterationsSaved != 99 {
		t.Fatalf("iterations saved: %d", s.IterationsSaved)
	}
	if want := 0.99; s.EfficiencyGain != want {
		t.Fatalf("efficiency gain: %v", s.EfficiencyGain)
	}
}

func TestWindowEviction(t *testing.T) {
	w := newWindow(3)
	for i := 1; i <= 5; i++ {
		w.push(float64(i))
	}
	if w.len() != 3 {
		t.Fatalf("window len: %d", w.len())
	}
	got := w.last(3)
	want := []float64{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("window contents: %v", got)
		}
	}
}
