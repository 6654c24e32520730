package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"tectonica.earth/internal/geo/climate"
	"tectonica.earth/internal/geo/converge"
	"tectonica.earth/internal/geo/evolve"
	"tectonica.earth/internal/geo/field"
	"tectonica.earth/internal/geo/flow"
	"tectonica.earth/internal/geo/plates"
	"tectonica.earth/internal/geo/terrain"
	"tectonica.earth/internal/persistence/indexdb"
	persistlog "tectonica.earth/internal/persistence/log"
	"tectonica.earth/internal/persistence/snapshot"
	"tectonica.earth/internal/protocol"
	"tectonica.earth/internal/sim/tuning"
	"tectonica.earth/internal/transport/observer"
)

func main() {
	var (
		runID      = flag.String("run", "", "run id (default: run_<unix>)")
		seed       = flag.Int64("seed", 0, "override tuning seed (0 keeps tuning value)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable run indexing")
		addr       = flag.String("addr", "", "observer http listen address (empty disables the observer endpoint)")
		accel      = flag.Float64("accel", 0, "override erosion acceleration (0 keeps tuning value)")
		iterations = flag.Int("iterations", 0, "override iteration budget (0 keeps tuning value)")
		verbose    = flag.Bool("v", false, "verbose progress logging")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[evolve] ", log.LstdFlags|log.Lmicroseconds)

	tun, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		tun = tuning.Defaults()
		logger.Printf("no tuning file at %s, using defaults", *tuningPath)
	}
	if *seed != 0 {
		tun.Seed = *seed
	}
	if *accel > 0 {
		tun.ErosionAcceleration = *accel
	}
	if *iterations > 0 {
		tun.Iterations = *iterations
	}

	id := strings.TrimSpace(*runID)
	if id == "" {
		id = fmt.Sprintf("run_%d", time.Now().Unix())
	}
	runDir := filepath.Join(*dataDir, "runs", id)
	_ = os.MkdirAll(runDir, 0o755)

	// Build the world: plates, initial terrain blended with the plate
	// contribution, flow and climate collaborators.
	model, err := plates.New(tun.Width, tun.Height, tun.PlateCount, tun.Seed, logger)
	if err != nil {
		logger.Fatalf("plates: %v", err)
	}

	gen := terrain.New(tun.Seed, terrain.DefaultConfig())
	elev := gen.Generate(tun.Width, tun.Height)
	for y := 0; y < tun.Height; y++ {
		for x := 0; x < tun.Width; x++ {
			elev.Set(x, y, 0.5*elev.At(x, y)+model.ElevationAt(x, y))
		}
	}

	fe := flow.New(tun.Width, tun.Height, flow.Config{
		Dt:               tun.Dt,
		RainRate:         tun.Flow.RainRate,
		Evaporation:      tun.Flow.Evaporation,
		SedimentCapacity: tun.Flow.SedimentCapacity,
		ErodeRate:        tun.Flow.ErodeRate,
		DepositRate:      tun.Flow.DepositRate,
		Roughness:        tun.Flow.Roughness,
		Seed:             tun.Seed + 1,
	})

	tracker := converge.NewTracker(converge.Config{
		MinIterations:       tun.Convergence.MinIterations,
		TotalChangeThresh:   tun.Convergence.TotalChangeThresh,
		AverageChangeThresh: tun.Convergence.AverageChangeThresh,
		MaxChangeThresh:     tun.Convergence.MaxChangeThresh,
		RateThresh:          tun.Convergence.RateThresh,
		VarianceThresh:      tun.Convergence.VarianceThresh,
		WindowSize:          tun.Convergence.WindowSize,
		ConsecutiveRequired: tun.Convergence.ConsecutiveRequired,
		Adaptive:            tun.Convergence.Adaptive,
		ProgressEvery:       tun.ProgressEvery,
	}, logger)

	driver, err := evolve.NewDriver(evolve.Config{
		Iterations:            tun.Iterations,
		Dt:                    tun.Dt,
		SedimentConcentration: tun.Flow.SedimentCapacity,
		Roughness:             tun.Flow.Roughness,
		ErosionAcceleration:   tun.ErosionAcceleration,
		TectonicRate:          tun.TectonicRate,
		ProgressEvery:         tun.ProgressEvery,
		Verbose:               *verbose,
		ActiveThreshold:       tun.Partition.MinThreshold,
		ActiveRadius:          tun.Partition.PropagateRadius,
		ConvergedActiveRatio:  tun.Partition.ConvergedActiveRatio,
	}, elev, model, fe, climate.Default(), tracker, logger)
	if err != nil {
		logger.Fatalf("driver: %v", err)
	}

	// Persistence: JSONL logs always, sqlite index unless disabled.
	iterLog := persistlog.NewIterationLogger(runDir)
	defer iterLog.Close()
	consLog := persistlog.NewConservationLogger(runDir)
	defer consLog.Close()

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
		idx.RecordRun(indexdb.RunRow{
			RunID:      id,
			Seed:       tun.Seed,
			Width:      tun.Width,
			Height:     tun.Height,
			PlateCount: tun.PlateCount,
			Iterations: tun.Iterations,
		})
	}

	var obs *observer.Server
	if *addr != "" {
		obs = observer.NewServer(protocol.BootstrapResponse{
			ProtocolVersion: protocol.Version,
			RunID:           id,
			Width:           tun.Width,
			Height:          tun.Height,
			PlateCount:      tun.PlateCount,
			Seed:            tun.Seed,
			Iterations:      tun.Iterations,
		}, logger)
		mux := http.NewServeMux()
		mux.HandleFunc("/v1/observer/bootstrap", obs.BootstrapHandler())
		mux.HandleFunc("/v1/observer/ws", obs.WSHandler())
		srv := &http.Server{Addr: *addr, Handler: mux}
		go func() {
			logger.Printf("observer listening on %s", *addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("observer http: %v", err)
			}
		}()
		defer srv.Close()
	}

	driver.SetProgressSink(&progressFanout{
		runID:   id,
		iterLog: iterLog,
		idx:     idx,
		obs:     obs,
		frames:  tun.SnapshotEvery,
		elev:    elev,
		snapDir: runDir,
		tun:     tun,
		model:   model,
		fe:      fe,
		driver:  driver,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	res, runErr := driver.Run(ctx)
	elapsed := time.Since(start)

	// Final accounting, logged and persisted whether or not the run was
	// cancelled early.
	cons := res.Conservation
	_ = consLog.WriteCheck(persistlog.ConservationEntry{
		RunID:     id,
		Iteration: res.Stats.Iterations,
		Kind:      "mass",
		ErrorPct:  cons.MassErrorPct,
		Within:    cons.MassOK,
	})
	_ = consLog.WriteCheck(persistlog.ConservationEntry{
		RunID:     id,
		Iteration: res.Stats.Iterations,
		Kind:      "momentum",
		ErrorPct:  res.Momentum.RelError * 100,
		Within:    res.Momentum.Conserved,
	})

	snapPath := filepath.Join(runDir, fmt.Sprintf("final-%06d.snap.zst", res.Stats.Iterations))
	snap := buildSnapshot(id, tun, model, res)
	if err := snapshot.WriteSnapshot(snapPath, snap); err != nil {
		logger.Printf("write final snapshot: %v", err)
	} else if idx != nil {
		idx.RecordSnapshot(snapPath, snap)
	}

	if idx != nil {
		idx.FinishRun(indexdb.FinishRow{
			RunID:              id,
			Iterations:         res.Stats.Iterations,
			Converged:          res.Convergence.Converged,
			ConvergedAt:        res.Convergence.ConvergedAt,
			ConvergenceRatio:   res.Convergence.Ratio,
			TotalErosion:       res.Stats.TotalErosion,
			TotalDeposition:    res.Stats.TotalDeposition,
			TotalTransportLoss: res.Stats.TotalTransportLoss,
			MassErrorPct:       cons.MassErrorPct,
			RiverNetworkLength: res.Stats.RiverNetworkLength,
		})
		idx.Flush()
	}

	if obs != nil {
		obs.PublishComplete(res)
	}

	logger.Printf("run %s finished in %s: iterations=%d converged=%v erosion=%.4f deposition=%.4f loss=%.4f mass_err=%.3f%% momentum_err=%.3f%% rivers=%d",
		id, elapsed.Round(time.Millisecond), res.Stats.Iterations, res.Convergence.Converged,
		res.Stats.TotalErosion, res.Stats.TotalDeposition, res.Stats.TotalTransportLoss,
		cons.MassErrorPct, res.Momentum.RelError*100, res.Stats.RiverNetworkLength)

	if runErr != nil && runErr != context.Canceled {
		logger.Printf("run ended early: %v", runErr)
	}
}

// progressFanout forwards driver progress to the JSONL log, the sqlite
// index, the observer stream, and writes periodic snapshots.
type progressFanout struct {
	runID   string
	iterLog *persistlog.IterationLogger
	idx     *indexdb.SQLiteIndex
	obs     *observer.Server
	frames  int
	elev    *field.Field
	snapDir string
	tun     tuning.Tuning
	model   *plates.Model
	fe      *flow.Engine
	driver  *evolve.Driver
}

func (p *progressFanout) Publish(prog evolve.Progress) {
	entry := persistlog.IterationEntry{
		RunID:           p.runID,
		Iteration:       prog.Iteration,
		TotalChange:     prog.TotalChange,
		AvgChange:       prog.AvgChange,
		MaxChange:       prog.MaxChange,
		ActiveCells:     prog.ActiveCells,
		Converged:       prog.Converged,
		TotalErosion:    prog.TotalErosion,
		TotalDeposition: prog.TotalDeposition,
	}
	_ = p.iterLog.WriteIteration(entry)
	if p.idx != nil {
		p.idx.WriteProgress(entry)
	}
	if p.obs != nil {
		p.obs.Publish(prog)
		p.obs.PublishFrame(prog.Iteration, p.elev)
	}

	if p.frames > 0 && prog.Iteration%p.frames == 0 {
		path := filepath.Join(p.snapDir, fmt.Sprintf("iter-%06d.snap.zst", prog.Iteration))
		snap := snapshotAt(p.runID, prog.Iteration, p.tun, p.model, p.elev, p.fe, p.driver)
		if err := snapshot.WriteSnapshot(path, snap); err == nil && p.idx != nil {
			p.idx.RecordSnapshot(path, snap)
		}
	}
}

func buildSnapshot(runID string, tun tuning.Tuning, model *plates.Model, res *evolve.Result) snapshot.SnapshotV1 {
	snap := baseSnapshot(runID, res.Stats.Iterations, tun, model)

	lo, hi := res.Elevation.MinMax()
	snap.Elevation = snapshot.EncodeLayer(res.Elevation.Values(), lo, hi)
	wlo, whi := res.Water.MinMax()
	wl := snapshot.EncodeLayer(res.Water.Values(), wlo, whi)
	snap.Water = &wl

	snap.Stats = &snapshot.StatsV1{
		Iterations:         res.Stats.Iterations,
		TotalErosion:       res.Stats.TotalErosion,
		TotalDeposition:    res.Stats.TotalDeposition,
		TotalTransportLoss: res.Stats.TotalTransportLoss,
		AvgElevationChange: res.Stats.AvgElevationChange,
		MaxElevationChange: res.Stats.MaxElevationChange,
		RiverNetworkLength: res.Stats.RiverNetworkLength,
		Converged:          res.Convergence.Converged,
		ConvergedAt:        res.Convergence.ConvergedAt,
		ConvergenceRatio:   res.Convergence.Ratio,
	}
	return snap
}

func snapshotAt(runID string, iteration int, tun tuning.Tuning, model *plates.Model, elev *field.Field, fe *flow.Engine, driver *evolve.Driver) snapshot.SnapshotV1 {
	snap := baseSnapshot(runID, iteration, tun, model)

	lo, hi := elev.MinMax()
	snap.Elevation = snapshot.EncodeLayer(elev.Values(), lo, hi)
	wlo, whi := fe.Water().MinMax()
	wl := snapshot.EncodeLayer(fe.Water().Values(), wlo, whi)
	snap.Water = &wl

	st := driver.Stats()
	snap.Stats = &snapshot.StatsV1{
		Iterations:         iteration,
		TotalErosion:       st.TotalErosion,
		TotalDeposition:    st.TotalDeposition,
		TotalTransportLoss: st.TotalTransportLoss,
	}
	return snap
}

func baseSnapshot(runID string, iteration int, tun tuning.Tuning, model *plates.Model) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:   1,
			RunID:     runID,
			Iteration: iteration,
		},
		Seed:                tun.Seed,
		Width:               tun.Width,
		Height:              tun.Height,
		PlateCount:          tun.PlateCount,
		Iterations:          tun.Iterations,
		Dt:                  tun.Dt,
		ErosionAcceleration: tun.ErosionAcceleration,
		TectonicRate:        tun.TectonicRate,
	}
	for _, p := range model.Plates() {
		snap.Plates = append(snap.Plates, snapshot.PlateV1{
			ID:          p.ID,
			CenterX:     p.Center.X,
			CenterY:     p.Center.Y,
			Type:        p.Type.String(),
			VelX:        p.Velocity.X,
			VelY:        p.Velocity.Y,
			AgeMa:       p.AgeMa,
			Density:     p.Density,
			ThicknessKm: p.ThicknessKm,
			BaseElev:    p.BaseElev,
		})
	}
	return snap
}
