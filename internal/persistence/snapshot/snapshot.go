package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"tectonica.earth/internal/sim/encoding"
)

type Header struct {
	Version   int    `json:"version"`
	RunID     string `json:"run_id"`
	Iteration int    `json:"iteration"`
}

// SnapshotV1 captures everything needed to inspect or resume a run:
// configuration, plate kinematics, the quantized elevation and water
// layers, and the accumulated statistics.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed       int64 `json:"seed"`
	Width      int   `json:"width"`
	Height     int   `json:"height"`
	PlateCount int   `json:"plate_count"`

	Iterations          int     `json:"iterations"`
	Dt                  float64 `json:"dt"`
	ErosionAcceleration float64 `json:"erosion_acceleration,omitempty"`
	TectonicRate        float64 `json:"tectonic_rate,omitempty"`

	Plates []PlateV1 `json:"plates"`

	Elevation LayerV1  `json:"elevation"`
	Water     *LayerV1 `json:"water,omitempty"`

	Stats *StatsV1 `json:"stats,omitempty"`
}

type PlateV1 struct {
	ID          int     `json:"id"`
	CenterX     float64 `json:"cx"`
	CenterY     float64 `json:"cy"`
	Type        string  `json:"type"` // "continental" | "oceanic"
	VelX        float64 `json:"vx"`
	VelY        float64 `json:"vy"`
	AgeMa       float64 `json:"age_ma"`
	Density     float64 `json:"density"`
	ThicknessKm float64 `json:"thickness_km"`
	BaseElev    float64 `json:"base_elev"`
}

// LayerV1 is a quantized scalar field: base64(varint RLE) of 16-bit cells
// over the [Lo, Hi] range.
type LayerV1 struct {
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
	Cells string  `json:"cells"`
}

type StatsV1 struct {
	Iterations         int     `json:"iterations"`
	TotalErosion       float64 `json:"total_erosion"`
	TotalDeposition    float64 `json:"total_deposition"`
	TotalTransportLoss float64 `json:"total_transport_loss"`
	AvgElevationChange float64 `json:"avg_elevation_change"`
	MaxElevationChange float64 `json:"max_elevation_change"`
	RiverNetworkLength int     `json:"river_network_length"`

	Converged        bool    `json:"converged"`
	ConvergedAt      int     `json:"converged_at,omitempty"`
	ConvergenceRatio float64 `json:"convergence_ratio,omitempty"`
}

// EncodeLayer quantizes and run-length-encodes a scalar layer.
func EncodeLayer(values []float64, lo, hi float64) LayerV1 {
	return LayerV1{Lo: lo, Hi: hi, Cells: encoding.EncodeField(values, lo, hi)}
}

// DecodeLayer reverses EncodeLayer for a w x h layer.
func (l LayerV1) DecodeLayer(w, h int) ([]float64, error) {
	return encoding.DecodeField(l.Cells, w*h, l.Lo, l.Hi)
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	// A JSON header line first so tools can identify the file without
	// decoding the gob body.
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Skip the header line; the gob body repeats it.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
