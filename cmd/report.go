package cmd

import (
	"fmt"
	"io"

	"github.com/edge-sim/edge-sim/sim"
	"github.com/edge-sim/edge-sim/sim/evaluate"
	"github.com/edge-sim/edge-sim/sim/snapshot"
)

// Summary aggregates the recorded costs and actions of a finished run.
type Summary struct {
	Ticks      int64
	PerTick    []evaluate.Costs
	Total      evaluate.Costs
	Weighted   float64
	Deploys    int
	Migrations int
	Undeploys  int
	SolveTime  float64 // seconds, summed over ticks
}

// summarize reads every evaluated tick back from the simulation's store.
// Ticks without recorded costs are skipped.
func summarize(s *sim.Simulation, w evaluate.Weights) *Summary {
	store := s.Snapshots()
	sum := &Summary{}
	for _, tick := range store.Ticks() {
		migration, err := snapshot.Lookup[float64](store, tick, snapshot.CategoryEvaluate, evaluate.KeyMigrationCost)
		if err != nil {
			continue
		}
		c := evaluate.Costs{Tick: tick, Migration: migration}
		c.ImagePull, _ = snapshot.Lookup[float64](store, tick, snapshot.CategoryEvaluate, evaluate.KeyImagePullCost)
		c.Communication, _ = snapshot.Lookup[float64](store, tick, snapshot.CategoryEvaluate, evaluate.KeyCommunicationCost)
		c.CommunicationBeforeMove, _ = snapshot.Lookup[float64](store, tick, snapshot.CategoryEvaluate, evaluate.KeyCommunicationCostBeforeMove)
		sum.PerTick = append(sum.PerTick, c)

		sum.Total.Migration += c.Migration
		sum.Total.ImagePull += c.ImagePull
		sum.Total.Communication += c.Communication
		sum.Total.CommunicationBeforeMove += c.CommunicationBeforeMove
		sum.Weighted += c.Weighted(w)

		if st, err := snapshot.Lookup[float64](store, tick, snapshot.CategoryEvaluate, sim.KeySolveTime); err == nil {
			sum.SolveTime += st
		}
		if ps, err := snapshot.Lookup[[]sim.Placement](store, tick, snapshot.CategoryAction, sim.KeyActionDeploy); err == nil {
			sum.Deploys += len(ps)
		}
		if ps, err := snapshot.Lookup[[]sim.Placement](store, tick, snapshot.CategoryAction, sim.KeyActionMigrate); err == nil {
			sum.Migrations += len(ps)
		}
		if ts, err := snapshot.Lookup[[]sim.Tuple](store, tick, snapshot.CategoryAction, sim.KeyActionUndeploy); err == nil {
			sum.Undeploys += len(ts)
		}
	}
	sum.Ticks = int64(len(sum.PerTick))
	return sum
}

// Print writes the summary in a fixed human-readable layout.
func (m *Summary) Print(out io.Writer) {
	fmt.Fprintln(out, "=== Simulation Costs ===")
	fmt.Fprintf(out, "Evaluated Ticks      : %d\n", m.Ticks)
	fmt.Fprintf(out, "Actions              : %d deploy, %d migrate, %d undeploy\n", m.Deploys, m.Migrations, m.Undeploys)
	fmt.Fprintf(out, "Migration Cost       : %.4f\n", m.Total.Migration)
	fmt.Fprintf(out, "Image Pull Cost      : %.4f\n", m.Total.ImagePull)
	fmt.Fprintf(out, "Communication Cost   : %.4f\n", m.Total.Communication)
	fmt.Fprintf(out, "  before movement    : %.4f\n", m.Total.CommunicationBeforeMove)
	fmt.Fprintf(out, "Weighted Total       : %.4f\n", m.Weighted)
	if m.Ticks > 0 {
		fmt.Fprintf(out, "Average Solve Time   : %.6f s\n", m.SolveTime/float64(m.Ticks))
	}
}
