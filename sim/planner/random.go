package planner

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/edge-sim/edge-sim/sim"
)

// Random rebuilds a private ledger from the snapshots each tick and plans
// against it, so every emitted action is feasible when applied in order.
//
// Per tick:
//  1. Unplaced requested microservices go to the first server, in a drawn
//     order, that can take them.
//  2. Every placed requested microservice draws a server; a different
//     server that fits becomes a migration.
//  3. Deployed microservices orphaned before this tick are undeployed.
//
// A move list that is feasible one move at a time is also feasible as a
// two-phase batch, which is how the engine applies it.
//
// Thread-safety: NOT thread-safe.
type Random struct {
	view sim.View
	rng  *rand.Rand

	tick      int64
	ledger    *sim.Ledger
	requested []sim.Tuple
	orphans   []sim.Tuple
	instances map[sim.Tuple]*sim.MicroserviceInstance
}

// NewRandom creates a random planner over view.
// Panics if rng is nil.
func NewRandom(view sim.View, rng *rand.Rand) *Random {
	if rng == nil {
		panic("NewRandom: rng must not be nil")
	}
	return &Random{view: view, rng: rng}
}

// GetData loads the requests recorded at tick and the placements recorded
// at the end of tick-1 into a fresh ledger.
func (p *Random) GetData(tick int64) error {
	store := p.view.Snapshots()
	contents, err := sim.ServerContentsAt(store, tick-1)
	if err != nil {
		return fmt.Errorf("random planner: %w", err)
	}
	requests, err := sim.RequestsAt(store, tick)
	if err != nil {
		return fmt.Errorf("random planner: %w", err)
	}
	prevRequests, err := sim.RequestsAt(store, tick-1)
	if err != nil {
		return fmt.Errorf("random planner: %w", err)
	}
	ledger, err := sim.NewLedger(p.view.ServerSpecs())
	if err != nil {
		return fmt.Errorf("random planner: %w", err)
	}
	p.tick = tick
	p.ledger = ledger
	p.instances = make(map[sim.Tuple]*sim.MicroserviceInstance)
	p.requested = p.requested[:0]
	p.orphans = p.orphans[:0]

	for _, sid := range ledger.Servers() {
		for _, t := range contents[sid] {
			ms, err := p.instance(t)
			if err != nil {
				return fmt.Errorf("random planner: %w", err)
			}
			ok, err := ledger.Deploy(ms, sid)
			if err != nil {
				return fmt.Errorf("random planner: %w", err)
			}
			if !ok {
				return fmt.Errorf("random planner: recorded placement %s on server %d exceeds capacity", t, sid)
			}
		}
	}

	wanted := make(map[sim.Tuple]bool)
	for _, dev := range sortedKeys(requests) {
		for _, appID := range requests[dev] {
			app, err := p.view.Catalog().Application(appID)
			if err != nil {
				return fmt.Errorf("random planner: %w", err)
			}
			for _, ms := range app.Microservices() {
				t := sim.Tuple{Device: dev, App: appID, Microservice: ms}
				if _, err := p.instance(t); err != nil {
					return fmt.Errorf("random planner: %w", err)
				}
				wanted[t] = true
				p.requested = append(p.requested, t)
			}
		}
	}
	// Applications cancelled at this tick may already have been released
	// by the cancel policy; only those orphaned before tick are certain to
	// still be deployed.
	cancelledNow := make(map[sim.Tuple]bool)
	for dev, apps := range prevRequests {
		for _, appID := range apps {
			if !slices.Contains(requests[dev], appID) {
				for _, t := range p.appTuples(dev, appID) {
					cancelledNow[t] = true
				}
			}
		}
	}
	for _, pl := range ledger.Placements() {
		t := pl.Tuple()
		if !wanted[t] && !cancelledNow[t] {
			p.orphans = append(p.orphans, t)
		}
	}
	return nil
}

func (p *Random) appTuples(dev sim.DeviceID, appID sim.AppID) []sim.Tuple {
	app, err := p.view.Catalog().Application(appID)
	if err != nil {
		return nil
	}
	out := make([]sim.Tuple, 0, len(app.Microservices()))
	for _, ms := range app.Microservices() {
		out = append(out, sim.Tuple{Device: dev, App: appID, Microservice: ms})
	}
	return out
}

// instance returns a catalog instance for t, cached per tick.
func (p *Random) instance(t sim.Tuple) (*sim.MicroserviceInstance, error) {
	if ms, ok := p.instances[t]; ok {
		return ms, nil
	}
	app, err := p.view.Catalog().Instantiate(t.App, t.Device)
	if err != nil {
		return nil, err
	}
	for _, other := range app.Tuples() {
		ms, err := app.Microservice(other.Microservice)
		if err != nil {
			return nil, err
		}
		p.instances[other] = ms
	}
	ms, ok := p.instances[t]
	if !ok {
		return nil, fmt.Errorf("%s: %w", t, sim.ErrNotFound)
	}
	return ms, nil
}

// Solve plans deploys, then migrations, then undeploys, in the order the
// engine applies them.
func (p *Random) Solve() (sim.Action, error) {
	if p.ledger == nil {
		return sim.Action{}, fmt.Errorf("random planner: solve before data: %w", sim.ErrSequence)
	}
	var action sim.Action
	servers := p.ledger.Servers()

	for _, t := range p.requested {
		if _, placed := p.ledger.ServerOf(t); placed {
			continue
		}
		order := append([]sim.ServerID(nil), servers...)
		p.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		placed := false
		for _, sid := range order {
			ok, err := p.ledger.Deploy(p.instances[t], sid)
			if err != nil {
				return sim.Action{}, fmt.Errorf("random planner: %w", err)
			}
			if ok {
				action.Deploy = append(action.Deploy, t.PlaceAt(sid))
				placed = true
				break
			}
		}
		if !placed {
			logrus.Warnf("[tick %07d] random planner: no server can host %s", p.tick, t)
		}
	}

	for _, t := range p.requested {
		from, placed := p.ledger.ServerOf(t)
		if !placed {
			continue
		}
		target := servers[p.rng.Intn(len(servers))]
		if target == from {
			continue
		}
		if _, err := p.ledger.Undeploy(t); err != nil {
			return sim.Action{}, fmt.Errorf("random planner: %w", err)
		}
		ok, err := p.ledger.Deploy(p.instances[t], target)
		if err != nil {
			return sim.Action{}, fmt.Errorf("random planner: %w", err)
		}
		if ok {
			action.Migrate = append(action.Migrate, t.PlaceAt(target))
			continue
		}
		if ok, err := p.ledger.Deploy(p.instances[t], from); err != nil || !ok {
			return sim.Action{}, fmt.Errorf("random planner: could not restore %s on server %d", t, from)
		}
	}

	for _, t := range p.orphans {
		if _, err := p.ledger.Undeploy(t); err != nil {
			return sim.Action{}, fmt.Errorf("random planner: %w", err)
		}
		action.Undeploy = append(action.Undeploy, t)
	}
	logrus.Debugf("[tick %07d] random planner: %d deploy, %d migrate, %d undeploy",
		p.tick, len(action.Deploy), len(action.Migrate), len(action.Undeploy))
	return action, nil
}

func sortedKeys[K ~int64, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
