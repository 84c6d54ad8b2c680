package whatif

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/edge-sim/edge-sim/sim"
	"github.com/edge-sim/edge-sim/sim/snapshot"
)

// PlannerFactory builds a planner against a view, typically a fork.
type PlannerFactory func(view sim.View, rng *rand.Rand) (sim.Planner, error)

// Lookahead returns a task that runs the fork up to horizon ticks with a
// planner from newPlanner and recommends the net placement change.
func Lookahead(horizon int, newPlanner PlannerFactory) Task {
	return func(ctx context.Context, fork *sim.Simulation) (sim.Action, error) {
		start := fork.Placements()
		p, err := newPlanner(fork, fork.RNG().ForSubsystem(sim.SubsystemPlanner("whatif")))
		if err != nil {
			return sim.Action{}, err
		}
		for i := 0; i < horizon; i++ {
			if err := ctx.Err(); err != nil {
				return sim.Action{}, err
			}
			more, err := fork.RunTick(p)
			if err != nil {
				return sim.Action{}, fmt.Errorf("lookahead tick %d: %w", fork.Tick(), err)
			}
			if !more {
				break
			}
		}
		return Diff(start, fork.Placements()), nil
	}
}

// Driver wraps a live planner. Every interval ticks it launches task in
// the background; when a result arrives in time, the merged decision
// replaces the live planner's action for that tick.
//
// Register the Driver both as the planner and as a tick observer of the
// live run.
type Driver struct {
	ctx      context.Context
	coord    *Coordinator
	live     *sim.Simulation
	base     sim.Planner
	task     Task
	interval int64

	pending *sim.Action
}

// NewDriver creates a driver. Panics if interval < 1.
func NewDriver(ctx context.Context, coord *Coordinator, live *sim.Simulation, base sim.Planner, task Task, interval int64) *Driver {
	if interval < 1 {
		panic(fmt.Sprintf("NewDriver: interval must be >= 1, got %d", interval))
	}
	return &Driver{ctx: ctx, coord: coord, live: live, base: base, task: task, interval: interval}
}

// GetData implements sim.Planner. It collects a finished result, if any,
// before delegating. A merged decision that fails on a trial copy of the
// live state is discarded.
func (d *Driver) GetData(tick int64) error {
	d.pending = nil
	if r, ok := d.coord.Poll(); ok {
		action, err := d.coord.Resolve(r, d.live)
		if err == nil {
			err = d.live.Clone().Engine().Apply(action)
		}
		if err != nil {
			logrus.Warnf("[tick %07d] discarding what-if result: %v", tick, err)
		} else {
			d.pending = &action
		}
	}
	return d.base.GetData(tick)
}

// Solve implements sim.Planner.
func (d *Driver) Solve() (sim.Action, error) {
	if d.pending != nil {
		a := *d.pending
		d.pending = nil
		return a, nil
	}
	return d.base.Solve()
}

// ObserveTick implements sim.TickObserver; it launches the task on due
// ticks.
func (d *Driver) ObserveTick(tick int64, _ *snapshot.Store) error {
	if tick%d.interval != 0 {
		return nil
	}
	err := d.coord.Launch(d.ctx, d.live, d.task)
	if errors.Is(err, ErrBusy) {
		if d.coord.Ready() {
			logrus.Debugf("[tick %07d] what-if result awaiting collection; launch skipped", tick)
		} else {
			logrus.Debugf("[tick %07d] what-if task still running; launch skipped", tick)
		}
		return nil
	}
	return err
}
