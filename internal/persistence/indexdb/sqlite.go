package indexdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	plog "tectonica.earth/internal/persistence/log"
	"tectonica.earth/internal/persistence/snapshot"
)

// SQLiteIndex is a secondary queryable index of runs, their progress rows
// and their snapshots. All writes funnel through a single goroutine; the
// compressed JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqProgress
	reqSnapshot
	reqFinish
	reqFlush
)

type req struct {
	kind reqKind

	run       RunRow
	progress  plog.IterationEntry
	snapshot  snapshotRow
	finish    FinishRow
	flushDone chan struct{}
}

// RunRow registers a run at start time.
type RunRow struct {
	RunID      string
	Seed       int64
	Width      int
	Height     int
	PlateCount int
	Iterations int
	StartedAt  string
}

// FinishRow closes a run with its final accounting.
type FinishRow struct {
	RunID              string
	Iterations         int
	Converged          bool
	ConvergedAt        int
	ConvergenceRatio   float64
	TotalErosion       float64
	TotalDeposition    float64
	TotalTransportLoss float64
	MassErrorPct       float64
	RiverNetworkLength int
	FinishedAt         string
}

type snapshotRow struct {
	RunID     string
	Iteration int
	Path      string
	Seed      int64
	Width     int
	Height    int
	Plates    int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Progress rows arrive at the reporting interval, so a modest
		// buffer is enough.
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			plate_count INTEGER NOT NULL,
			max_iterations INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			iterations INTEGER,
			converged INTEGER,
			converged_at INTEGER,
			convergence_ratio REAL,
			total_erosion REAL,
			total_deposition REAL,
			total_transport_loss REAL,
			mass_error_pct REAL,
			river_network_length INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS progress (
			run_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			total_change REAL NOT NULL,
			avg_change REAL NOT NULL,
			max_change REAL NOT NULL,
			active_cells INTEGER NOT NULL,
			converged INTEGER NOT NULL,
			total_erosion REAL NOT NULL,
			total_deposition REAL NOT NULL,
			PRIMARY KEY (run_id, iteration)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_progress_run ON progress(run_id, iteration);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			plates INTEGER NOT NULL,
			PRIMARY KEY (run_id, iteration)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) RecordRun(r RunRow) {
	if s == nil || s.closed.Load() {
		return
	}
	if r.StartedAt == "" {
		r.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}
	s.send(req{kind: reqRun, run: r})
}

func (s *SQLiteIndex) WriteProgress(e plog.IterationEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	s.send(req{kind: reqProgress, progress: e})
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	s.send(req{kind: reqSnapshot, snapshot: snapshotRow{
		RunID:     snap.Header.RunID,
		Iteration: snap.Header.Iteration,
		Path:      path,
		Seed:      snap.Seed,
		Width:     snap.Width,
		Height:    snap.Height,
		Plates:    len(snap.Plates),
	}})
}

func (s *SQLiteIndex) FinishRun(r FinishRow) {
	if s == nil || s.closed.Load() {
		return
	}
	if r.FinishedAt == "" {
		r.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	}
	s.send(req{kind: reqFinish, finish: r})
}

func (s *SQLiteIndex) send(r req) {
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain authoritative.
	}
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqRun:
			s.insertRun(r.run)
		case reqProgress:
			s.insertProgress(r.progress)
		case reqSnapshot:
			s.insertSnapshot(r.snapshot)
		case reqFinish:
			s.updateFinish(r.finish)
		case reqFlush:
			close(r.flushDone)
		}
	}
}

func (s *SQLiteIndex) insertRun(r RunRow) {
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO runs (run_id, seed, width, height, plate_count, max_iterations, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Seed, r.Width, r.Height, r.PlateCount, r.Iterations, r.StartedAt)
}

func (s *SQLiteIndex) insertProgress(e plog.IterationEntry) {
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO progress
		 (run_id, iteration, total_change, avg_change, max_change, active_cells, converged, total_erosion, total_deposition)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Iteration, e.TotalChange, e.AvgChange, e.MaxChange,
		e.ActiveCells, boolInt(e.Converged), e.TotalErosion, e.TotalDeposition)
}

func (s *SQLiteIndex) insertSnapshot(r snapshotRow) {
	_, _ = s.db.Exec(
		`INSERT OR REPLACE INTO snapshots (run_id, iteration, path, seed, width, height, plates)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Iteration, r.Path, r.Seed, r.Width, r.Height, r.Plates)
}

func (s *SQLiteIndex) updateFinish(r FinishRow) {
	_, _ = s.db.Exec(
		`UPDATE runs SET finished_at=?, iterations=?, converged=?, converged_at=?, convergence_ratio=?,
		 total_erosion=?, total_deposition=?, total_transport_loss=?, mass_error_pct=?, river_network_length=?
		 WHERE run_id=?`,
		r.FinishedAt, r.Iterations, boolInt(r.Converged), r.ConvergedAt, r.ConvergenceRatio,
		r.TotalErosion, r.TotalDeposition, r.TotalTransportLoss, r.MassErrorPct, r.RiverNetworkLength,
		r.RunID)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
