// Package whatif runs speculative planning on a deep copy of a live
// simulation in the background and merges its decision back.
//
// At most one task is in flight. A task's result stays pending until it
// is collected with Poll or Await; launching while a task runs or a result
// waits fails with ErrBusy.
package whatif

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edge-sim/edge-sim/sim"
)

var (
	// ErrBusy is returned by Launch while another task holds the slot.
	ErrBusy = errors.New("what-if task already in flight")

	// ErrStale is returned by Resolve for a result launched more than the
	// staleness window ago.
	ErrStale = errors.New("what-if result is stale")
)

// Task plans on fork, an independent copy of the live simulation taken at
// launch in the stepped phase, and returns the action it recommends for
// the live run.
type Task func(ctx context.Context, fork *sim.Simulation) (sim.Action, error)

// Result is the outcome of one task.
type Result struct {
	LaunchTick int64
	Start      []sim.Placement // live placements at launch
	Decision   sim.Action
	Err        error
	Elapsed    time.Duration
}

// Coordinator owns the single background slot.
//
// Thread-safety: Launch, Poll, Await, and Resolve may be called from the
// live goroutine while a task runs; the task only touches its fork.
type Coordinator struct {
	busy         chan struct{}
	results      chan Result
	maxStaleness int64
}

// NewCoordinator creates a coordinator whose results are accepted up to
// maxStaleness ticks after their launch tick. A negative window accepts
// any age.
func NewCoordinator(maxStaleness int64) *Coordinator {
	return &Coordinator{
		busy:         make(chan struct{}, 1),
		results:      make(chan Result, 1),
		maxStaleness: maxStaleness,
	}
}

// Launch clones live and starts task on the clone. live must be between
// ticks (stepped). The clone is taken before Launch returns.
func (c *Coordinator) Launch(ctx context.Context, live *sim.Simulation, task Task) error {
	select {
	case c.busy <- struct{}{}:
	default:
		return ErrBusy
	}
	fork := live.Clone()
	start := live.Placements()
	tick := live.Tick()
	logrus.Infof("[tick %07d] what-if task launched", tick)
	go func() {
		began := time.Now()
		action, err := task(ctx, fork)
		c.results <- Result{
			LaunchTick: tick,
			Start:      start,
			Decision:   action,
			Err:        err,
			Elapsed:    time.Since(began),
		}
	}()
	return nil
}

// InFlight reports whether a task is running or its result is uncollected.
func (c *Coordinator) InFlight() bool {
	return len(c.busy) > 0
}

// Ready reports whether a finished result is waiting to be collected.
func (c *Coordinator) Ready() bool {
	return len(c.results) > 0
}

// Poll collects a finished result without blocking.
func (c *Coordinator) Poll() (Result, bool) {
	select {
	case r := <-c.results:
		<-c.busy
		return r, true
	default:
		return Result{}, false
	}
}

// Await blocks until the in-flight task finishes or ctx is done.
func (c *Coordinator) Await(ctx context.Context) (Result, error) {
	select {
	case r := <-c.results:
		<-c.busy
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Resolve turns a collected result into an action for live at its current
// tick: the task's error, staleness, then Merge against live's current
// placements and requests.
func (c *Coordinator) Resolve(r Result, live *sim.Simulation) (sim.Action, error) {
	if r.Err != nil {
		return sim.Action{}, fmt.Errorf("what-if task launched at tick %d: %w", r.LaunchTick, r.Err)
	}
	age := live.Tick() - r.LaunchTick
	if c.maxStaleness >= 0 && age > c.maxStaleness {
		return sim.Action{}, fmt.Errorf("launched at tick %d, now %d, window %d: %w",
			r.LaunchTick, live.Tick(), c.maxStaleness, ErrStale)
	}
	merged := Merge(r.Start, live.Placements(), live.Fleet().Tuples(), r.Decision)
	logrus.Infof("[tick %07d] what-if result from tick %d merged: %d deploy, %d migrate, %d undeploy (%s)",
		live.Tick(), r.LaunchTick, len(merged.Deploy), len(merged.Migrate), len(merged.Undeploy), r.Elapsed)
	return merged, nil
}
