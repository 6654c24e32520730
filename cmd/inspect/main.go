package main

import (
	"flag"
	"fmt"
	"os"

	"tectonica.earth/internal/persistence/indexdb"
	"tectonica.earth/internal/persistence/snapshot"
)

func main() {
	var (
		snapPath = flag.String("snapshot", "", "path to .snap.zst")
		dbPath   = flag.String("db", "", "path to index.db (lists recorded runs)")
		runID    = flag.String("run", "", "run id to detail (with -db)")
	)
	flag.Parse()

	if *snapPath == "" && *dbPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot or -db")
		os.Exit(2)
	}

	if *snapPath != "" {
		printSnapshot(*snapPath)
	}
	if *dbPath != "" {
		printRuns(*dbPath, *runID)
	}
}

func printSnapshot(path string) {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("snapshot v%d run=%s iteration=%d seed=%d grid=%dx%d plates=%d\n",
		snap.Header.Version, snap.Header.RunID, snap.Header.Iteration,
		snap.Seed, snap.Width, snap.Height, len(snap.Plates))

	elev, err := snap.Elevation.DecodeLayer(snap.Width, snap.Height)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode elevation:", err)
		os.Exit(1)
	}
	lo, hi := elev[0], elev[0]
	land := 0
	for _, v := range elev {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		if v > 0 {
			land++
		}
	}
	fmt.Printf("elevation: min=%.4f max=%.4f land=%.1f%%\n",
		lo, hi, 100*float64(land)/float64(len(elev)))

	cont := 0
	for _, p := range snap.Plates {
		if p.Type == "continental" {
			cont++
		}
	}
	fmt.Printf("plates: %d continental, %d oceanic\n", cont, len(snap.Plates)-cont)

	if snap.Stats != nil {
		s := snap.Stats
		fmt.Printf("stats: iterations=%d erosion=%.4f deposition=%.4f loss=%.4f rivers=%d converged=%v",
			s.Iterations, s.TotalErosion, s.TotalDeposition, s.TotalTransportLoss,
			s.RiverNetworkLength, s.Converged)
		if s.Converged {
			fmt.Printf(" at=%d ratio=%.4f", s.ConvergedAt, s.ConvergenceRatio)
		}
		fmt.Println()
	}
}

func printRuns(dbPath, runID string) {
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open db:", err)
		os.Exit(1)
	}
	defer idx.Close()

	runs, err := idx.Runs()
	if err != nil {
		fmt.Fprintln(os.Stderr, "list runs:", err)
		os.Exit(1)
	}
	for _, r := range runs {
		if runID != "" && r.RunID != runID {
			continue
		}
		fmt.Printf("run=%s seed=%d grid=%dx%d plates=%d started=%s finished=%s iterations=%d converged=%v erosion=%.4f mass_err=%.3f%%\n",
			r.RunID, r.Seed, r.Width, r.Height, r.PlateCount, r.StartedAt, r.FinishedAt,
			r.Iterations, r.Converged, r.TotalErosion, r.MassErrorPct)
		if runID != "" {
			n, err := idx.ProgressCount(r.RunID)
			if err == nil {
				fmt.Printf("  progress rows: %d\n", n)
			}
			paths, err := idx.SnapshotPaths(r.RunID)
			if err == nil {
				for _, p := range paths {
					fmt.Printf("  snapshot: %s\n", p)
				}
			}
		}
	}
}
