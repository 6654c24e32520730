package indexdb

import "database/sql"

// RunSummary is the inspect-facing view of a recorded run.
type RunSummary struct {
	RunID      string
	Seed       int64
	Width      int
	Height     int
	PlateCount int
	StartedAt  string
	FinishedAt string

	Iterations         int
	Converged          bool
	ConvergedAt        int
	ConvergenceRatio   float64
	TotalErosion       float64
	TotalDeposition    float64
	TotalTransportLoss float64
	MassErrorPct       float64
	RiverNetworkLength int
}

// Flush blocks until every write queued so far has been applied.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqFlush, flushDone: done}
	<-done
}

// Runs lists recorded runs, newest first.
func (s *SQLiteIndex) Runs() ([]RunSummary, error) {
	rows, err := s.db.Query(
		`SELECT run_id, seed, width, height, plate_count, started_at,
		        COALESCE(finished_at, ''), COALESCE(iterations, 0), COALESCE(converged, 0),
		        COALESCE(converged_at, 0), COALESCE(convergence_ratio, 0),
		        COALESCE(total_erosion, 0), COALESCE(total_deposition, 0),
		        COALESCE(total_transport_loss, 0), COALESCE(mass_error_pct, 0),
		        COALESCE(river_network_length, 0)
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var conv int
		if err := rows.Scan(&r.RunID, &r.Seed, &r.Width, &r.Height, &r.PlateCount, &r.StartedAt,
			&r.FinishedAt, &r.Iterations, &conv, &r.ConvergedAt, &r.ConvergenceRatio,
			&r.TotalErosion, &r.TotalDeposition, &r.TotalTransportLoss, &r.MassErrorPct,
			&r.RiverNetworkLength); err != nil {
			return nil, err
		}
		r.Converged = conv != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// ProgressCount reports how many progress rows a run has.
func (s *SQLiteIndex) ProgressCount(runID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM progress WHERE run_id = ?`, runID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

// SnapshotPaths lists the snapshot files recorded for a run, oldest first.
func (s *SQLiteIndex) SnapshotPaths(runID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT path FROM snapshots WHERE run_id = ? ORDER BY iteration`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
