package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to a single zstd-compressed file,
// created lazily on first write. One file per run keeps replay tooling
// simple.
type JSONLZstdWriter struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

func NewJSONLZstdWriter(path string) *JSONLZstdWriter {
	return &JSONLZstdWriter{path: path}
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		if err := w.openLocked(); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err
}

func (w *JSONLZstdWriter) openLocked() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	return nil
}

// IterationEntry is one progress line of a run.
type IterationEntry struct {
	RunID       string  `json:"run_id"`
	Iteration   int     `json:"iteration"`
	TotalChange float64 `json:"total_change"`
	AvgChange   float64 `json:"avg_change"`
	MaxChange   float64 `json:"max_change"`
	ActiveCells int     `json:"active_cells"`
	Converged   bool    `json:"converged"`

	TotalErosion    float64 `json:"total_erosion"`
	TotalDeposition float64 `json:"total_deposition"`
}

// ConservationEntry records a momentum/mass drift observation. These are
// data-quality signals, written whenever validation runs.
type ConservationEntry struct {
	RunID     string  `json:"run_id"`
	Iteration int     `json:"iteration"`
	Kind      string  `json:"kind"` // "momentum" | "mass"
	ErrorPct  float64 `json:"error_pct"`
	Within    bool    `json:"within_tolerance"`
}

// IterationLogger writes one compressed JSONL entry per progress report.
type IterationLogger struct{ w *JSONLZstdWriter }

func NewIterationLogger(runDir string) *IterationLogger {
	return &IterationLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "iterations.jsonl.zst"))}
}

func (l *IterationLogger) WriteIteration(e IterationEntry) error { return l.w.Write(e) }
func (l *IterationLogger) Close() error                          { return l.w.Close() }

// ConservationLogger writes conservation-check entries (compressed).
type ConservationLogger struct{ w *JSONLZstdWriter }

func NewConservationLogger(runDir string) *ConservationLogger {
	return &ConservationLogger{w: NewJSONLZstdWriter(filepath.Join(runDir, "conservation.jsonl.zst"))}
}

func (l *ConservationLogger) WriteCheck(e ConservationEntry) error { return l.w.Write(e) }
func (l *ConservationLogger) Close() error                         { return l.w.Close() }
