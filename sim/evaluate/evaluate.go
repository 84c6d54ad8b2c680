// Package evaluate computes placement costs from recorded snapshots.
//
// Every cost for tick t compares the post-action state of t with that of
// t-1, so a tick can be evaluated only once both are recorded. Only the
// tuples requested at t contribute; a tuple with no server at t (not yet
// placed) contributes nothing.
package evaluate

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/edge-sim/edge-sim/sim"
	"github.com/edge-sim/edge-sim/sim/snapshot"
)

// Cost keys written under the evaluate category.
const (
	KeyMigrationCost               = "migration_cost"
	KeyImagePullCost               = "image_pull_cost"
	KeyCommunicationCost           = "communication_cost"
	KeyCommunicationCostBeforeMove = "communication_cost_before_move"
)

// Costs is the cost bundle of one tick.
type Costs struct {
	Tick                    int64   `json:"tick"`
	Migration               float64 `json:"migration_cost"`
	ImagePull               float64 `json:"image_pull_cost"`
	Communication           float64 `json:"communication_cost"`
	CommunicationBeforeMove float64 `json:"communication_cost_before_move"`
}

// Weights scale each cost in a weighted sum.
type Weights struct {
	Migration     float64 `yaml:"migration"`
	ImagePull     float64 `yaml:"image_pull"`
	Communication float64 `yaml:"communication"`
}

// Weighted returns w.Migration*Migration + w.ImagePull*ImagePull +
// w.Communication*Communication.
func (c Costs) Weighted(w Weights) float64 {
	return w.Migration*c.Migration + w.ImagePull*c.ImagePull + w.Communication*c.Communication
}

// Evaluator reads the snapshots of a simulation view.
type Evaluator struct {
	view      sim.View
	bandwidth map[sim.ServerID]float64
}

// New creates an evaluator over view.
func New(view sim.View) *Evaluator {
	e := &Evaluator{view: view, bandwidth: make(map[sim.ServerID]float64)}
	for _, sp := range view.ServerSpecs() {
		e.bandwidth[sp.ID] = sp.Bandwidth
	}
	return e
}

// deploymentAt maps a missing snapshot to ErrSequence: the tick has not
// been stepped yet.
func (e *Evaluator) deploymentAt(tick int64) (sim.NestedPlacement, error) {
	dep, err := sim.DeploymentAt(e.view.Snapshots(), tick)
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil, fmt.Errorf("no deployment recorded at tick %d: %w", tick, sim.ErrSequence)
	}
	return dep, err
}

func (e *Evaluator) pair(tick int64) (prev, cur sim.NestedPlacement, err error) {
	if prev, err = e.deploymentAt(tick - 1); err != nil {
		return nil, nil, err
	}
	if cur, err = e.deploymentAt(tick); err != nil {
		return nil, nil, err
	}
	return prev, cur, nil
}

// requested visits every requested tuple at tick in ascending order,
// along with its server at tick if it has one.
func (e *Evaluator) requested(cur sim.NestedPlacement, fn func(t sim.Tuple, server sim.ServerID, placed bool) error) error {
	for _, dev := range sortedKeys(cur) {
		for _, appID := range sortedKeys(cur[dev]) {
			app, err := e.view.Catalog().Application(appID)
			if err != nil {
				return err
			}
			for _, ms := range app.Microservices() {
				t := sim.Tuple{Device: dev, App: appID, Microservice: ms}
				sid, ok := cur.ServerOf(t)
				if err := fn(t, sid, ok); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// MigrationCost sums the table cost of every tuple whose server at tick
// differs from its server at tick-1. A tuple first placed at tick is a
// deployment, not a migration, and costs nothing here.
func (e *Evaluator) MigrationCost(tick int64) (float64, error) {
	prev, cur, err := e.pair(tick)
	if err != nil {
		return 0, err
	}
	total := 0.0
	err = e.requested(cur, func(t sim.Tuple, sid sim.ServerID, placed bool) error {
		if !placed {
			return nil
		}
		was, existed := prev.ServerOf(t)
		if !existed || was == sid {
			return nil
		}
		cost, err := e.view.Catalog().MigrationCost(t.Microservice, sid)
		if err != nil {
			return fmt.Errorf("migration cost of %s: %w", t, err)
		}
		total += cost
		return nil
	})
	return total, err
}

// ImagePullCost sums, for every tuple placed on a new server at tick, the
// size of its layers absent from that server at tick-1 divided by the
// server's bandwidth. First placements pull their layers too.
func (e *Evaluator) ImagePullCost(tick int64) (float64, error) {
	prev, cur, err := e.pair(tick)
	if err != nil {
		return 0, err
	}
	layers, err := sim.LayersAt(e.view.Snapshots(), tick-1)
	if err != nil {
		return 0, fmt.Errorf("layers at tick %d: %w", tick-1, err)
	}
	total := 0.0
	err = e.requested(cur, func(t sim.Tuple, sid sim.ServerID, placed bool) error {
		if !placed {
			return nil
		}
		if was, existed := prev.ServerOf(t); existed && was == sid {
			return nil
		}
		spec, err := e.view.Catalog().Microservice(t.Microservice)
		if err != nil {
			return err
		}
		pull := 0.0
		for name, size := range spec.Layers {
			if layers[sid][name] == 0 {
				pull += size
			}
		}
		bw, ok := e.bandwidth[sid]
		if !ok {
			return fmt.Errorf("server %d: %w", sid, sim.ErrNotFound)
		}
		total += pull / bw
		return nil
	})
	return total, err
}

// CommunicationCost sums, per requested application, the hop distance from
// the device's server to the head times the source volume, plus the hop
// distance times the volume of every message edge, using placements and
// connectivity at tick.
func (e *Evaluator) CommunicationCost(tick int64) (float64, error) {
	_, cur, err := e.pair(tick)
	if err != nil {
		return 0, err
	}
	return e.communication(tick, cur, cur)
}

// CommunicationCostBeforeMove is CommunicationCost with the placements of
// tick-1 and the connectivity of tick: the cost right after devices moved
// and before any action ran.
func (e *Evaluator) CommunicationCostBeforeMove(tick int64) (float64, error) {
	prev, cur, err := e.pair(tick)
	if err != nil {
		return 0, err
	}
	return e.communication(tick, cur, prev)
}

func (e *Evaluator) communication(tick int64, requested, placed sim.NestedPlacement) (float64, error) {
	conn, err := sim.ConnectivityAt(e.view.Snapshots(), tick)
	if err != nil {
		return 0, fmt.Errorf("connectivity at tick %d: %w", tick, err)
	}
	total := 0.0
	for _, dev := range sortedKeys(requested) {
		for _, appID := range sortedKeys(requested[dev]) {
			cost, err := e.application(dev, appID, conn, placed)
			if err != nil {
				return 0, fmt.Errorf("communication of device %d application %d: %w", dev, appID, err)
			}
			total += cost
		}
	}
	return total, nil
}

func (e *Evaluator) application(dev sim.DeviceID, appID sim.AppID, conn map[sim.DeviceID]sim.ServerID, placed sim.NestedPlacement) (float64, error) {
	app, err := e.view.Catalog().Application(appID)
	if err != nil {
		return 0, err
	}
	at := func(ms sim.MicroserviceID) (sim.ServerID, bool) {
		return placed.ServerOf(sim.Tuple{Device: dev, App: appID, Microservice: ms})
	}
	cost := 0.0
	head, headPlaced := at(app.Head())
	if entry, connected := conn[dev]; connected && headPlaced {
		hops, err := e.hops(entry, head)
		if err != nil {
			return 0, err
		}
		cost += float64(hops) * app.SourceVolume
	}
	// The message graph is acyclic, so visiting each node once visits each
	// edge once.
	seen := map[sim.MicroserviceID]bool{app.Head(): true}
	queue := []sim.MicroserviceID{app.Head()}
	for len(queue) > 0 {
		from := queue[0]
		queue = queue[1:]
		src, srcPlaced := at(from)
		for _, to := range app.Next(from) {
			if !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
			dst, dstPlaced := at(to)
			if !srcPlaced || !dstPlaced {
				logrus.Debugf("device %d application %d: edge %d->%d has an unplaced endpoint", dev, appID, from, to)
				continue
			}
			hops, err := e.hops(src, dst)
			if err != nil {
				return 0, err
			}
			cost += float64(hops) * app.Volume(from, to)
		}
	}
	return cost, nil
}

func (e *Evaluator) hops(a, b sim.ServerID) (int, error) {
	h, err := e.view.Topology().HopDistance(int64(a), int64(b))
	if err != nil {
		return 0, fmt.Errorf("hops %d->%d: %w", a, b, err)
	}
	return h, nil
}

// Evaluate computes every cost for tick and records each under the
// evaluate category.
func (e *Evaluator) Evaluate(tick int64) (Costs, error) {
	c := Costs{Tick: tick}
	var err error
	if c.Migration, err = e.MigrationCost(tick); err != nil {
		return Costs{}, err
	}
	if c.ImagePull, err = e.ImagePullCost(tick); err != nil {
		return Costs{}, err
	}
	if c.Communication, err = e.CommunicationCost(tick); err != nil {
		return Costs{}, err
	}
	if c.CommunicationBeforeMove, err = e.CommunicationCostBeforeMove(tick); err != nil {
		return Costs{}, err
	}
	store := e.view.Snapshots()
	for key, v := range map[string]float64{
		KeyMigrationCost:               c.Migration,
		KeyImagePullCost:               c.ImagePull,
		KeyCommunicationCost:           c.Communication,
		KeyCommunicationCostBeforeMove: c.CommunicationBeforeMove,
	} {
		if err := store.Put(tick, snapshot.CategoryEvaluate, key, v); err != nil {
			return Costs{}, err
		}
		lastCost.WithLabelValues(key).Set(v)
	}
	logrus.Infof("[tick %07d] costs: migration %.4f, image pull %.4f, communication %.4f (before move %.4f)",
		tick, c.Migration, c.ImagePull, c.Communication, c.CommunicationBeforeMove)
	return c, nil
}

// ObserveTick evaluates tick; it lets an Evaluator ride along sim.Run.
func (e *Evaluator) ObserveTick(tick int64, _ *snapshot.Store) error {
	_, err := e.Evaluate(tick)
	return err
}

func sortedKeys[K ~int64, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
