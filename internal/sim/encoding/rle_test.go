package encoding

import (
	"math"
	"testing"
)

func TestQuantizeRoundtrip(t *testing.T) {
	in := []float64{-2.0, -0.5, 0, 0.25, 1.9, 3.0}
	lo, hi := -2.0, 3.0
	out := Dequantize(Quantize(in, lo, hi), lo, hi)
	step := (hi - lo) / float64(quantSteps)
	for i := range in {
		if math.Abs(out[i]-in[i]) > step {
			t.Fatalf("cell %d: %v -> %v (step %v)", i, in[i], out[i], step)
		}
	}
}

func TestQuantizeClampsAndSanitizes(t *testing.T) {
	in := []float64{-100, 100, math.NaN(), math.Inf(1)}
	qs := Quantize(in, 0, 1)
	if qs[0] != 0 {
		t.Fatalf("below-range cell = %d", qs[0])
	}
	if qs[1] != quantSteps {
		t.Fatalf("above-range cell = %d", qs[1])
	}
	if qs[2] != 0 || qs[3] != 0 {
		t.Fatalf("non-finite cells = %d, %d", qs[2], qs[3])
	}
}

func TestQuantizeDegenerateRange(t *testing.T) {
	qs := Quantize([]float64{1, 2, 3}, 5, 5)
	for _, q := range qs {
		if q != 0 {
			t.Fatalf("degenerate range produced %d", q)
		}
	}
}

func TestRLERoundtrip(t *testing.T) {
	cases := [][]uint16{
		nil,
		{7},
		{0, 0, 0, 0, 0},
		{1, 1, 2, 2, 2, 3},
		{65535, 0, 65535},
	}
	for _, qs := range cases {
		got, err := DecodeRLE(EncodeRLE(qs))
		if err != nil {
			t.Fatalf("decode %v: %v", qs, err)
		}
		if len(got) != len(qs) {
			t.Fatalf("length %d, want %d", len(got), len(qs))
		}
		for i := range qs {
			if got[i] != qs[i] {
				t.Fatalf("cell %d: %d, want %d", i, got[i], qs[i])
			}
		}
	}
}

func TestRLECompressesRuns(t *testing.T) {
	flat := make([]uint16, 10000)
	if enc := EncodeRLE(flat); len(enc) > 16 {
		t.Fatalf("constant field encoded to %d chars", len(enc))
	}
}

func TestDecodeRLERejectsGarbage(t *testing.T) {
	if _, err := DecodeRLE("not base64!!"); err == nil {
		t.Fatalf("bad base64 accepted")
	}
	// 0x80 is an unterminated varint.
	if _, err := DecodeRLE("gA=="); err == nil {
		t.Fatalf("truncated varint accepted")
	}
}

func TestDecodeFieldCountMismatch(t *testing.T) {
	enc := EncodeField([]float64{0.1, 0.2, 0.3}, 0, 1)
	if _, err := DecodeField(enc, 4, 0, 1); err == nil {
		t.Fatalf("cell count mismatch accepted")
	}
	vals, err := DecodeField(enc, 3, 0, 1)
	if err != nil {
		t.Fatalf("DecodeField: %v", err)
	}
	if len(vals) != 3 {
		t.Fatalf("got %d cells", len(vals))
	}
}
