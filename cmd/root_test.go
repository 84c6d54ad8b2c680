package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-sim/edge-sim/sim"
	"github.com/edge-sim/edge-sim/sim/evaluate"
	"github.com/edge-sim/edge-sim/sim/planner"
	"github.com/edge-sim/edge-sim/sim/snapshot"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

func referenceConfig(t *testing.T) *sim.EnvironmentConfig {
	t.Helper()
	cfg, err := sim.LoadEnvironmentConfig(filepath.Join("..", "testdata", "environment.yaml"))
	require.NoError(t, err)
	return cfg
}

func TestRunSimulation_NonePlanner_RunsToEndWithoutActions(t *testing.T) {
	// GIVEN the reference environment and the planner that never acts
	cfg := referenceConfig(t)

	// WHEN the run completes
	s, err := runSimulation(context.Background(), cfg, runOptions{Planner: "none"})
	require.NoError(t, err)

	// THEN every tick after the start is evaluated and no action was applied
	assert.Equal(t, cfg.EndTick, s.Tick())
	sum := summarize(s, evaluate.Weights{Migration: 1, ImagePull: 1, Communication: 1})
	assert.Equal(t, cfg.EndTick-cfg.StartTick, sum.Ticks)
	assert.Zero(t, sum.Deploys+sum.Migrations+sum.Undeploys)
	assert.Zero(t, sum.Total.Migration, "nothing moves without a planner")
	assert.Positive(t, sum.Total.Communication)
	assert.InDelta(t, sum.Total.Migration+sum.Total.ImagePull+sum.Total.Communication, sum.Weighted, 1e-9)
}

func TestSummarize_UnevaluatedTicks_AreSkipped(t *testing.T) {
	// GIVEN a run without the cost evaluator, so ticks carry only solve time
	s, err := sim.NewSimulation(referenceConfig(t))
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), planner.None{}))
	_, err = snapshot.Lookup[float64](s.Snapshots(), s.Tick(), snapshot.CategoryEvaluate, sim.KeySolveTime)
	require.NoError(t, err)

	// WHEN it is summarized
	sum := summarize(s, evaluate.Weights{Migration: 1, ImagePull: 1, Communication: 1})

	// THEN no tick counts as evaluated
	assert.Zero(t, sum.Ticks)
	assert.Empty(t, sum.PerTick)
	assert.Zero(t, sum.SolveTime)
}

func TestRunSimulation_RandomPlanner_SameSeedSamePlacements(t *testing.T) {
	// GIVEN two runs of the random planner over the same seed
	a, err := runSimulation(context.Background(), referenceConfig(t), runOptions{Planner: "random"})
	require.NoError(t, err)
	b, err := runSimulation(context.Background(), referenceConfig(t), runOptions{Planner: "random"})
	require.NoError(t, err)

	// THEN final placements and recorded costs agree
	assert.Equal(t, a.Placements(), b.Placements())
	w := evaluate.Weights{Migration: 1, ImagePull: 1, Communication: 1}
	assert.Equal(t, summarize(a, w).PerTick, summarize(b, w).PerTick)
}

func TestRunSimulation_UnknownPlanners_Rejected(t *testing.T) {
	tests := []struct {
		name string
		opts runOptions
	}{
		{name: "live", opts: runOptions{Planner: "greedy"}},
		{name: "what-if", opts: runOptions{Planner: "none", WhatIfPlanner: "greedy", WhatIfInterval: 1, WhatIfHorizon: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runSimulation(context.Background(), referenceConfig(t), tt.opts)
			assert.ErrorContains(t, err, "greedy")
		})
	}
}

func TestRunSimulation_WithWhatIf_Completes(t *testing.T) {
	// GIVEN background lookahead every two ticks with an unlimited window
	cfg := referenceConfig(t)

	// WHEN the run completes
	s, err := runSimulation(context.Background(), cfg, runOptions{
		Planner:        "none",
		WhatIfPlanner:  "random",
		WhatIfInterval: 2,
		WhatIfHorizon:  2,
		MaxStaleness:   -1,
	})

	// THEN the live run reaches the end tick and every tuple is still placed once
	require.NoError(t, err)
	assert.Equal(t, cfg.EndTick, s.Tick())
	seen := make(map[sim.Tuple]bool)
	for _, p := range s.Placements() {
		assert.False(t, seen[p.Tuple()], "tuple %s placed twice", p.Tuple())
		seen[p.Tuple()] = true
	}
}

func TestRunSimulation_CancelledContext_ReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runSimulation(ctx, referenceConfig(t), runOptions{Planner: "none"})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummary_Print_WritesCostTotals(t *testing.T) {
	// GIVEN a summary of two ticks
	m := &Summary{
		Ticks:     2,
		Total:     evaluate.Costs{Migration: 1.5, ImagePull: 0.25, Communication: 300},
		Weighted:  301.75,
		SolveTime: 0.002,
	}
	var buf bytes.Buffer

	// WHEN printed
	m.Print(&buf)

	// THEN the header and totals are present
	out := buf.String()
	assert.Contains(t, out, "=== Simulation Costs ===")
	assert.Contains(t, out, "Migration Cost       : 1.5000")
	assert.Contains(t, out, "Weighted Total       : 301.7500")
	assert.Contains(t, out, "Average Solve Time   : 0.001000 s")
}

func TestArchiveRun_InspectListsAndTabulates(t *testing.T) {
	// GIVEN a finished run archived into a fresh directory
	s, err := runSimulation(context.Background(), referenceConfig(t), runOptions{Planner: "none"})
	require.NoError(t, err)
	dir := t.TempDir()
	runID, err := archiveRun(dir, s.Snapshots())
	require.NoError(t, err)

	archive, err := snapshot.OpenArchive(dir)
	require.NoError(t, err)
	defer archive.Close()

	// WHEN runs are listed
	var list bytes.Buffer
	require.NoError(t, listRuns(archive, &list))

	// THEN the run id appears
	assert.Contains(t, list.String(), runID)

	// WHEN the run is tabulated
	var table bytes.Buffer
	require.NoError(t, tabulateRun(archive, runID, &table))

	// THEN the numeric evaluate columns form the header and every tick is a row
	out := table.String()
	assert.Contains(t, out, "evaluate/"+evaluate.KeyCommunicationCost)
	assert.Contains(t, out, "evaluate/"+sim.KeySolveTime)
	lines := bytes.Count(table.Bytes(), []byte("\n"))
	assert.Equal(t, 1+int(s.Tick()), lines, "header plus ticks 1..end")
}

func TestTabulateRun_UnknownRun_ReturnsNotFound(t *testing.T) {
	archive, err := snapshot.OpenArchive("")
	require.NoError(t, err)
	defer archive.Close()

	err = tabulateRun(archive, "missing", &bytes.Buffer{})

	assert.ErrorIs(t, err, snapshot.ErrRunNotFound)
}

func TestRunCmd_FlagDefaults(t *testing.T) {
	tests := []struct {
		flag string
		want string
	}{
		{flag: "planner", want: "none"},
		{flag: "log", want: "error"},
		{flag: "whatif-interval", want: "0"},
		{flag: "max-staleness", want: "1"},
		{flag: "weight-communication", want: "1"},
	}
	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			f := runCmd.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.want, f.DefValue)
		})
	}
}
