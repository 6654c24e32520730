package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// Elevation fields compress extremely well once quantized: plate interiors
// are long runs of near-identical values. Snapshots and observer frames
// both use base64(varint RLE) over 16-bit quantized cells.

const quantSteps = math.MaxUint16

// Quantize maps values onto [0, 65535] over the [lo, hi] range.
// Non-finite values and a degenerate range collapse to 0.
func Quantize(values []float64, lo, hi float64) []uint16 {
	out := make([]uint16, len(values))
	span := hi - lo
	if span <= 0 || math.IsNaN(span) || math.IsInf(span, 0) {
		return out
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		q := (v - lo) / span * quantSteps
		if q < 0 {
			q = 0
		}
		if q > quantSteps {
			q = quantSteps
		}
		out[i] = uint16(q)
	}
	return out
}

// Dequantize is the inverse of Quantize (to quantization precision).
func Dequantize(qs []uint16, lo, hi float64) []float64 {
	out := make([]float64, len(qs))
	span := hi - lo
	if span <= 0 || math.IsNaN(span) || math.IsInf(span, 0) {
		return out
	}
	for i, q := range qs {
		out[i] = lo + float64(q)/quantSteps*span
	}
	return out
}

// EncodeRLE encodes quantized cells into base64(varint pairs).
// The pairs are (value, run_len) repeated.
func EncodeRLE(qs []uint16) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(qs) {
		v := qs[i]
		run := 1
		for j := i + 1; j < len(qs) && qs[j] == v && run < 1<<31; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(v))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeRLE(b64 string) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint16
	for i := 0; i < len(raw); {
		v, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if v > math.MaxUint16 {
			return nil, fmt.Errorf("cell value too large: %d", v)
		}
		for k := 0; k < int(run); k++ {
			out = append(out, uint16(v))
		}
	}
	return out, nil
}

// EncodeField is the one-call form used by snapshots and observer frames.
func EncodeField(values []float64, lo, hi float64) string {
	return EncodeRLE(Quantize(values, lo, hi))
}

// DecodeField reverses EncodeField, checking the expected cell count.
func DecodeField(b64 string, n int, lo, hi float64) ([]float64, error) {
	qs, err := DecodeRLE(b64)
	if err != nil {
		return nil, err
	}
	if len(qs) != n {
		return nil, fmt.Errorf("field cell count %d, want %d", len(qs), n)
	}
	return Dequantize(qs, lo, hi), nil
}
