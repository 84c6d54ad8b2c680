package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edge-sim/edge-sim/sim/snapshot"
	"github.com/edge-sim/edge-sim/sim/topology"
)

// Planner is an external placement collaborator. GetData loads whatever
// it needs for tick from the view it was built with; Solve then returns
// the action to apply.
type Planner interface {
	GetData(tick int64) error
	Solve() (Action, error)
}

// View is the read-only surface a planner may observe.
type View interface {
	Tick() int64
	Snapshots() *snapshot.Store
	Catalog() *Catalog
	Topology() *topology.Topology
	ServerSpecs() []ServerSpec
}

// TickObserver is notified after each completed tick, typically to
// evaluate costs from the recorded snapshots.
type TickObserver interface {
	ObserveTick(tick int64, store *snapshot.Store) error
}

type phase int

const (
	phaseNew      phase = iota // constructed, not bootstrapped
	phaseStepped               // tick complete; may advance
	phaseAdvanced              // clock moved; must observe
	phaseObserved              // pre-action state recorded; must step
)

var phaseNames = map[phase]string{
	phaseNew:      "new",
	phaseStepped:  "stepped",
	phaseAdvanced: "advanced",
	phaseObserved: "observed",
}

// Simulation composes the clock, ledger, fleet, engine, and snapshot store
// of one environment. Per tick the caller runs Advance, Observe, then Step
// (or RunTick, which also consults a planner).
//
// Thread-safety: NOT thread-safe. Use Clone to hand state to another
// goroutine.
type Simulation struct {
	cfg     *EnvironmentConfig
	catalog *Catalog
	topo    *topology.Topology
	clock   *Clock
	ledger  *Ledger
	fleet   *Fleet
	engine  *Engine
	store   *snapshot.Store
	rng     *PartitionedRNG
	policy  CancelPolicy
	phase   phase
	forked  bool // forks keep live gauges untouched
}

// NewSimulation builds an environment from a validated config.
func NewSimulation(cfg *EnvironmentConfig) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid environment config: %w", err)
	}
	catalog, err := NewCatalog(cfg.Microservices, cfg.Applications, cfg.MigrationCost)
	if err != nil {
		return nil, fmt.Errorf("building catalog: %w", err)
	}
	ledger, err := NewLedger(cfg.Servers)
	if err != nil {
		return nil, fmt.Errorf("building ledger: %w", err)
	}
	serverIDs := ledger.Servers()
	raw := make([]int64, len(serverIDs))
	for i, id := range serverIDs {
		raw[i] = int64(id)
	}
	topo, err := topology.New(raw, cfg.Topology)
	if err != nil {
		return nil, fmt.Errorf("building topology: %w", err)
	}
	if !topo.Connected() {
		logrus.Warnf("server topology is not connected; cross-island costs will fail")
	}
	deviceIDs := make([]DeviceID, len(cfg.Devices))
	for i, d := range cfg.Devices {
		deviceIDs[i] = d.ID
	}
	fleet, err := NewFleet(catalog, serverIDs, deviceIDs)
	if err != nil {
		return nil, fmt.Errorf("building fleet: %w", err)
	}
	return &Simulation{
		cfg:     cfg,
		catalog: catalog,
		topo:    topo,
		clock:   NewClock(cfg.StartTick, cfg.EndTick),
		ledger:  ledger,
		fleet:   fleet,
		engine:  NewEngine(ledger, fleet),
		store:   snapshot.NewStore(),
		rng:     NewPartitionedRNG(NewSimulationKey(cfg.Seed)),
		policy:  cfg.Policy(),
	}, nil
}

// Tick returns the current tick.
func (s *Simulation) Tick() int64 { return s.clock.Now() }

// Snapshots returns the snapshot store. Callers must not write to it.
func (s *Simulation) Snapshots() *snapshot.Store { return s.store }

// Catalog returns the shared immutable catalog.
func (s *Simulation) Catalog() *Catalog { return s.catalog }

// Topology returns the shared immutable topology.
func (s *Simulation) Topology() *topology.Topology { return s.topo }

// ServerSpecs returns every server's static description.
func (s *Simulation) ServerSpecs() []ServerSpec { return s.ledger.Specs() }

// Ledger exposes the resource ledger for inspection.
func (s *Simulation) Ledger() *Ledger { return s.ledger }

// Fleet exposes the device registry for inspection.
func (s *Simulation) Fleet() *Fleet { return s.fleet }

// Engine exposes the deployment engine, for callers that drive actions
// outside Step (such as merging a what-if result).
func (s *Simulation) Engine() *Engine { return s.engine }

// RNG returns the simulation's partitioned random source.
func (s *Simulation) RNG() *PartitionedRNG { return s.rng }

// Done reports whether the clock has reached its end.
func (s *Simulation) Done() bool { return s.clock.Done() }

// Placements returns every deployed tuple (orphans included) and its server.
func (s *Simulation) Placements() []Placement { return s.ledger.Placements() }

func (s *Simulation) expect(p phase, op string) error {
	if s.phase != p {
		return fmt.Errorf("%s in phase %s (want %s): %w", op, phaseNames[s.phase], phaseNames[p], ErrSequence)
	}
	return nil
}

// Bootstrap prepares the start tick: initial connections and requests,
// then the initial deployment according to the start mode. The deployment
// is recorded as the start tick's action.
func (s *Simulation) Bootstrap() error {
	if err := s.expect(phaseNew, "bootstrap"); err != nil {
		return err
	}
	tick := s.clock.Now()
	var moves []Move
	connect := func(dev DeviceID, sid ServerID) error {
		moved, err := s.fleet.MoveDevice(dev, sid, tick)
		if err != nil {
			return err
		}
		if moved {
			moves = append(moves, Move{Device: dev, Server: sid})
		}
		return nil
	}
	for _, d := range s.cfg.Devices {
		if d.Server != nil {
			if err := connect(d.ID, *d.Server); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
		}
	}
	for _, sd := range s.cfg.Start.Devices {
		if err := connect(sd.ID, sd.Server); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		if _, _, err := s.fleet.ReconcileRequests(sd.ID, sd.Apps); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	if err := s.recordPreAction(tick, moves); err != nil {
		return err
	}

	var action Action
	switch s.cfg.Start.Mode {
	case "solve":
		placed, err := s.firstFit()
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		action.Deploy = placed
	default:
		action.Deploy = append(action.Deploy, s.cfg.Start.Deployment...)
		if err := s.engine.Apply(action); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	if err := s.recordAction(tick, action); err != nil {
		return err
	}
	if err := s.recordPostAction(tick); err != nil {
		return err
	}
	if s.cfg.StrictDeployment {
		if err := s.CheckDeployment(); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	s.phase = phaseStepped
	s.publishTick()
	logrus.Infof("[tick %07d] bootstrapped: %d devices, %d servers, %d microservices deployed",
		tick, len(s.fleet.Devices()), len(s.ledger.Servers()), len(s.ledger.Placements()))
	return nil
}

// firstFit deploys each undeployed requested tuple onto the first server,
// in a seeded shuffled order, that can take it.
func (s *Simulation) firstFit() ([]Placement, error) {
	rng := s.rng.ForSubsystem(SubsystemStart)
	var placed []Placement
	for _, t := range s.fleet.Tuples() {
		if _, ok := s.ledger.ServerOf(t); ok {
			continue
		}
		ms, err := s.fleet.Instance(t)
		if err != nil {
			return placed, err
		}
		servers := s.ledger.Servers()
		rng.Shuffle(len(servers), func(i, j int) { servers[i], servers[j] = servers[j], servers[i] })
		done := false
		for _, sid := range servers {
			ok, err := s.ledger.Deploy(ms, sid)
			if err != nil {
				return placed, err
			}
			if ok {
				placed = append(placed, t.PlaceAt(sid))
				done = true
				break
			}
		}
		if !done {
			return placed, fmt.Errorf("no server can host %s: %w", t, ErrCapacity)
		}
	}
	return placed, nil
}

// Advance moves the clock to the next tick. It returns false at the end
// of the run.
func (s *Simulation) Advance() (bool, error) {
	if err := s.expect(phaseStepped, "advance"); err != nil {
		return false, err
	}
	if !s.clock.Next() {
		return false, nil
	}
	s.phase = phaseAdvanced
	s.publishTick()
	return true, nil
}

func (s *Simulation) publishTick() {
	if !s.forked {
		currentTick.Set(float64(s.clock.Now()))
	}
}

// Observe applies the tick's scheduled movement and request changes and
// records the pre-action state.
func (s *Simulation) Observe() error {
	if err := s.expect(phaseAdvanced, "observe"); err != nil {
		return err
	}
	tick := s.clock.Now()
	var effective []Move
	for _, m := range s.cfg.Movement.MovesAt(tick, s.rng.ForSubsystem(SubsystemMovement), s.fleet) {
		moved, err := s.fleet.MoveDevice(m.Device, m.Server, tick)
		if err != nil {
			return fmt.Errorf("tick %d movement: %w", tick, err)
		}
		if moved {
			effective = append(effective, m)
			if !s.forked {
				effectiveMoves.Inc()
			}
			logrus.Infof("[tick %07d] device %d moved to server %d", tick, m.Device, m.Server)
		}
	}
	for _, ch := range s.cfg.Requests[tick] {
		added, removed, err := s.fleet.ReconcileRequests(ch.Device, ch.Apps)
		if err != nil {
			return fmt.Errorf("tick %d requests: %w", tick, err)
		}
		if len(added) > 0 {
			logrus.Infof("[tick %07d] device %d now requests applications %v", tick, ch.Device, added)
		}
		for _, inst := range removed {
			if err := s.cancel(tick, inst); err != nil {
				return err
			}
		}
	}
	if err := s.recordPreAction(tick, effective); err != nil {
		return err
	}
	s.phase = phaseObserved
	return nil
}

func (s *Simulation) cancel(tick int64, inst *AppInstance) error {
	var deployed []Tuple
	for _, t := range inst.Tuples() {
		if _, ok := s.ledger.ServerOf(t); ok {
			deployed = append(deployed, t)
		}
	}
	if s.policy != CancelUndeploy {
		if len(deployed) > 0 {
			logrus.Infof("[tick %07d] device %d cancelled application %d; %d microservices left deployed",
				tick, inst.Device, inst.ID, len(deployed))
		}
		return nil
	}
	for _, t := range deployed {
		if err := s.engine.Undeploy(t); err != nil {
			return fmt.Errorf("tick %d cancel %s: %w", tick, t, err)
		}
	}
	logrus.Infof("[tick %07d] device %d cancelled application %d; undeployed %d microservices",
		tick, inst.Device, inst.ID, len(deployed))
	return nil
}

// Step applies action, then records it with the post-action state. With
// strict deployment on, a requested microservice left without a server
// fails the step after recording.
func (s *Simulation) Step(action Action) error {
	if err := s.expect(phaseObserved, "step"); err != nil {
		return err
	}
	tick := s.clock.Now()
	applyErr := s.engine.Apply(action)
	if err := s.recordAction(tick, action); err != nil {
		return err
	}
	if err := s.recordPostAction(tick); err != nil {
		return err
	}
	s.phase = phaseStepped
	if applyErr != nil {
		return fmt.Errorf("tick %d: %w", tick, applyErr)
	}
	if s.cfg.StrictDeployment {
		if err := s.CheckDeployment(); err != nil {
			return fmt.Errorf("tick %d: %w", tick, err)
		}
	}
	return nil
}

// RunTick advances one tick, consults planner, and steps. It returns false
// once the clock is at its end.
func (s *Simulation) RunTick(planner Planner) (bool, error) {
	more, err := s.Advance()
	if err != nil || !more {
		return more, err
	}
	if err := s.Observe(); err != nil {
		return false, err
	}
	tick := s.clock.Now()
	began := time.Now()
	if err := planner.GetData(tick); err != nil {
		return false, fmt.Errorf("tick %d planner data: %w", tick, err)
	}
	action, err := planner.Solve()
	if err != nil {
		return false, fmt.Errorf("tick %d planner solve: %w", tick, err)
	}
	elapsed := time.Since(began).Seconds()
	if !s.forked {
		solveDuration.Observe(elapsed)
	}
	if err := s.Step(action); err != nil {
		return false, err
	}
	if err := s.store.Put(tick, snapshot.CategoryEvaluate, KeySolveTime, elapsed); err != nil {
		return false, err
	}
	logrus.Debugf("[tick %07d] action: %d deploy, %d migrate, %d undeploy (solve %.6fs)",
		tick, len(action.Deploy), len(action.Migrate), len(action.Undeploy), elapsed)
	return true, nil
}

// Run bootstraps if needed, then runs ticks until the clock ends or ctx
// is cancelled. Observers are called after every tick past the start.
func (s *Simulation) Run(ctx context.Context, planner Planner, observers ...TickObserver) error {
	if s.phase == phaseNew {
		if err := s.Bootstrap(); err != nil {
			return err
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		more, err := s.RunTick(planner)
		if err != nil {
			return err
		}
		if !more {
			break
		}
		for _, o := range observers {
			if o == nil {
				continue
			}
			if err := o.ObserveTick(s.clock.Now(), s.store); err != nil {
				return fmt.Errorf("tick %d observer: %w", s.clock.Now(), err)
			}
		}
	}
	logrus.Infof("[tick %07d] run complete", s.clock.Now())
	return nil
}

// CheckDeployment verifies that every requested microservice is deployed.
func (s *Simulation) CheckDeployment() error {
	var missing []error
	for _, t := range s.fleet.Tuples() {
		if _, ok := s.ledger.ServerOf(t); !ok {
			missing = append(missing, fmt.Errorf("%s: %w", t, ErrIncompleteDeployment))
		}
	}
	return errors.Join(missing...)
}

// Clone returns an independent deep copy: ledger, fleet, clock, and
// snapshot store are copied; catalog, topology, and config are shared.
// The copy draws from its own RNG tree and publishes neither live gauges
// nor engine operation counters.
func (s *Simulation) Clone() *Simulation {
	ledger := s.ledger.Clone()
	fleet := s.fleet.Clone()
	clock := *s.clock
	engine := NewEngine(ledger, fleet)
	engine.quiet = true
	return &Simulation{
		cfg:     s.cfg,
		catalog: s.catalog,
		topo:    s.topo,
		clock:   &clock,
		ledger:  ledger,
		fleet:   fleet,
		engine:  engine,
		store:   s.store.Clone(),
		rng:     s.rng.Fork(fmt.Sprint(s.clock.Now())),
		policy:  s.policy,
		phase:   s.phase,
		forked:  true,
	}
}
