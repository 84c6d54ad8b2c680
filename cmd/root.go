package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/edge-sim/edge-sim/sim"
	"github.com/edge-sim/edge-sim/sim/evaluate"
	"github.com/edge-sim/edge-sim/sim/planner"
	"github.com/edge-sim/edge-sim/sim/snapshot"
	"github.com/edge-sim/edge-sim/sim/whatif"
)

var (
	// Environment
	configPath string // Path to the environment YAML file
	seed       int64  // Overrides the environment seed when set
	endTick    int64  // Overrides the environment end tick when set
	logLevel   string // Log verbosity level

	// Planning
	plannerName       string // Live planner name
	whatifPlannerName string // Planner driven on forks during lookahead
	whatifInterval    int64  // Ticks between background lookaheads; 0 disables
	whatifHorizon     int    // Ticks simulated per lookahead
	maxStaleness      int64  // Oldest lookahead result (in ticks) still applied; negative means no limit

	// Output
	metricsAddr string           // Listen address for /metrics; empty disables
	snapshotDB  string           // Badger directory to archive the run into; empty disables
	weights     evaluate.Weights // Weights of the reported total cost
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "edge-sim",
	Short: "Discrete-time simulator for edge microservice placement and migration",
}

// runCmd executes one simulation over an environment file
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a placement simulation",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if configPath == "" {
			logrus.Fatalf("--config is required")
		}
		cfg, err := sim.LoadEnvironmentConfig(configPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if cmd.Flags().Changed("seed") {
			cfg.Seed = seed
		}
		if cmd.Flags().Changed("end-tick") {
			cfg.EndTick = endTick
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if metricsAddr != "" {
			srv := serveMetrics(metricsAddr)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		s, err := runSimulation(ctx, cfg, runOptions{
			Planner:        plannerName,
			WhatIfPlanner:  whatifPlannerName,
			WhatIfInterval: whatifInterval,
			WhatIfHorizon:  whatifHorizon,
			MaxStaleness:   maxStaleness,
		})
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		summarize(s, weights).Print(os.Stdout)

		if snapshotDB != "" {
			runID, err := archiveRun(snapshotDB, s.Snapshots())
			if err != nil {
				logrus.Fatalf("Archiving run: %v", err)
			}
			logrus.Infof("Run archived as %s in %s", runID, snapshotDB)
		}
	},
}

// runOptions selects the planners driving a run.
type runOptions struct {
	Planner        string
	WhatIfPlanner  string
	WhatIfInterval int64
	WhatIfHorizon  int
	MaxStaleness   int64
}

// runSimulation builds the simulation and runs it to the end tick with the
// evaluator attached. With WhatIfInterval > 0 the live planner is wrapped
// in a whatif.Driver.
func runSimulation(ctx context.Context, cfg *sim.EnvironmentConfig, opts runOptions) (*sim.Simulation, error) {
	s, err := sim.NewSimulation(cfg)
	if err != nil {
		return nil, err
	}
	live, err := planner.New(opts.Planner, s, s.RNG().ForSubsystem(sim.SubsystemPlanner(opts.Planner)))
	if err != nil {
		return nil, err
	}
	observers := []sim.TickObserver{evaluate.New(s)}

	if opts.WhatIfInterval > 0 {
		if !planner.ValidPlanners[opts.WhatIfPlanner] {
			return nil, fmt.Errorf("unknown what-if planner %q", opts.WhatIfPlanner)
		}
		name := opts.WhatIfPlanner
		factory := func(view sim.View, rng *rand.Rand) (sim.Planner, error) {
			return planner.New(name, view, rng)
		}
		driver := whatif.NewDriver(ctx, whatif.NewCoordinator(opts.MaxStaleness), s, live,
			whatif.Lookahead(opts.WhatIfHorizon, factory), opts.WhatIfInterval)
		live = driver
		observers = append(observers, driver)
	}

	start := time.Now()
	if err := s.Run(ctx, live, observers...); err != nil {
		return nil, err
	}
	logrus.Infof("Simulation ran %d ticks in %s", s.Tick()-cfg.StartTick, time.Since(start))
	return s, nil
}

// serveMetrics exposes the default Prometheus registry on addr.
func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("metrics server: %v", err)
		}
	}()
	logrus.Infof("Serving metrics on %s/metrics", addr)
	return srv
}

// archiveRun saves the store under a fresh run id and returns the id.
func archiveRun(path string, store *snapshot.Store) (string, error) {
	archive, err := snapshot.OpenArchive(path)
	if err != nil {
		return "", err
	}
	defer archive.Close()
	runID := snapshot.NewRunID()
	n, err := archive.Save(runID, store)
	if err != nil {
		return "", err
	}
	logrus.Debugf("archived %d rows for run %s", n, runID)
	return runID, nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {

	runCmd.Flags().StringVar(&configPath, "config", "", "Path to the environment YAML file")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed overriding the environment seed")
	runCmd.Flags().Int64Var(&endTick, "end-tick", 0, "End tick overriding the environment end tick")
	runCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")

	// Planning
	runCmd.Flags().StringVar(&plannerName, "planner", "none", "Live planner (none, random)")
	runCmd.Flags().StringVar(&whatifPlannerName, "whatif-planner", "random", "Planner run on forks during lookahead (none, random)")
	runCmd.Flags().Int64Var(&whatifInterval, "whatif-interval", 0, "Ticks between background lookaheads; 0 disables")
	runCmd.Flags().IntVar(&whatifHorizon, "whatif-horizon", 3, "Ticks simulated per lookahead")
	runCmd.Flags().Int64Var(&maxStaleness, "max-staleness", 1, "Oldest lookahead result (in ticks) still applied; negative means no limit")

	// Output
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for the Prometheus /metrics endpoint")
	runCmd.Flags().StringVar(&snapshotDB, "snapshot-db", "", "Badger directory to archive the run's snapshots into")
	runCmd.Flags().Float64Var(&weights.Migration, "weight-migration", 1, "Weight of migration cost in the total")
	runCmd.Flags().Float64Var(&weights.ImagePull, "weight-image-pull", 1, "Weight of image pull cost in the total")
	runCmd.Flags().Float64Var(&weights.Communication, "weight-communication", 1, "Weight of communication cost in the total")

	rootCmd.AddCommand(runCmd)
}
