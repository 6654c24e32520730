package terrain

import (
	"math"
	"testing"
)

func TestSameSeedSameField(t *testing.T) {
	a := New(1234, DefaultConfig()).Generate(32, 32)
	b := New(1234, DefaultConfig()).Generate(32, 32)
	for i, v := range a.Values() {
		if v != b.Values()[i] {
			t.Fatalf("same seed diverged at cell %d", i)
		}
	}
}

func TestDifferentSeedsDiffer(t *testing.T) {
	a := New(1, DefaultConfig()).Generate(32, 32)
	b := New(2, DefaultConfig()).Generate(32, 32)
	same := 0
	for i, v := range a.Values() {
		if v == b.Values()[i] {
			same++
		}
	}
	if same == len(a.Values()) {
		t.Fatalf("different seeds produced identical fields")
	}
}

func TestOutputBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Amplitude = 0.5
	f := New(7, cfg).Generate(64, 64)
	lo, hi := f.MinMax()
	if lo < -0.5 || hi > 0.5 {
		t.Fatalf("output out of range: [%v, %v]", lo, hi)
	}
	if lo == hi {
		t.Fatalf("flat output, noise not applied")
	}
	for _, v := range f.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite noise value")
		}
	}
}

func TestConfigBackfill(t *testing.T) {
	g := New(9, Config{Amplitude: 1})
	f := g.Generate(16, 16)
	lo, hi := f.MinMax()
	if lo == hi {
		t.Fatalf("zero-value config produced a flat field")
	}
}
