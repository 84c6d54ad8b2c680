package sim

import (
	"fmt"
	"math/rand"
	"slices"
	"sort"
)

// Move attaches a device to a server.
type Move struct {
	Device DeviceID `yaml:"device_id" json:"device_id"`
	Server ServerID `yaml:"server_id" json:"server_id"`
}

// MovementSchedule lists point moves keyed by absolute tick. Moves within a
// tick are applied in list order.
type MovementSchedule map[int64][]Move

// MovementRule gives, per device, relative weights over destination
// servers. Each tick every listed device draws one destination.
type MovementRule map[DeviceID]map[ServerID]float64

// PathPlan walks a device along Servers. The device stays on Servers[i]
// for more than Intervals[i] ticks, then moves to Servers[i+1]; it stays
// on the last server for good.
type PathPlan struct {
	Servers   []ServerID `yaml:"server_id"`
	Intervals []int64    `yaml:"time_interval"`
}

// ValidMovementTypes is the set of recognized movement plan types.
var ValidMovementTypes = map[string]bool{"": true, "point": true, "rule": true, "path": true, "random": true}

// MovementPlan selects how devices move over time.
//   - "point" (default): Point lists the moves of each tick.
//   - "rule": each device in Rule draws a weighted destination every tick.
//   - "path": each device in Path follows its server list, dwelling the
//     given number of ticks at each stop.
//   - "random": one uniformly drawn device moves to a uniformly drawn
//     server every tick.
type MovementPlan struct {
	Type  string                `yaml:"type"`
	Point MovementSchedule      `yaml:"point"`
	Rule  MovementRule          `yaml:"rule"`
	Path  map[DeviceID]PathPlan `yaml:"path"`
}

// MobilityView is the device state movement plans read.
type MobilityView interface {
	Device(id DeviceID) (*Device, error)
	Devices() []DeviceID
	Servers() []ServerID
}

// Validate checks the plan against the known devices and servers.
func (p MovementPlan) Validate(devices map[DeviceID]bool, servers map[ServerID]bool) error {
	if !ValidMovementTypes[p.Type] {
		return fmt.Errorf("unknown movement type %q", p.Type)
	}
	for tick, moves := range p.Point {
		for _, m := range moves {
			if !devices[m.Device] {
				return fmt.Errorf("movement at tick %d: unknown device %d", tick, m.Device)
			}
			if !servers[m.Server] {
				return fmt.Errorf("movement at tick %d: unknown server %d", tick, m.Server)
			}
		}
	}
	for dev, weights := range p.Rule {
		if !devices[dev] {
			return fmt.Errorf("movement rule: unknown device %d", dev)
		}
		for sid, w := range weights {
			if !servers[sid] {
				return fmt.Errorf("movement rule for device %d: unknown server %d", dev, sid)
			}
			if w < 0 {
				return fmt.Errorf("movement rule for device %d: negative weight %v for server %d", dev, w, sid)
			}
		}
	}
	for dev, path := range p.Path {
		if !devices[dev] {
			return fmt.Errorf("movement path: unknown device %d", dev)
		}
		if len(path.Servers) == 0 {
			return fmt.Errorf("movement path for device %d: empty server_id list", dev)
		}
		if len(path.Intervals) != len(path.Servers) {
			return fmt.Errorf("movement path for device %d: %d servers but %d intervals",
				dev, len(path.Servers), len(path.Intervals))
		}
		for i, sid := range path.Servers {
			if !servers[sid] {
				return fmt.Errorf("movement path for device %d: unknown server %d", dev, sid)
			}
			if path.Intervals[i] < 0 {
				return fmt.Errorf("movement path for device %d: negative interval %d", dev, path.Intervals[i])
			}
		}
	}
	return nil
}

// MovesAt returns the moves for tick. Drawing types use rng and path
// reads device attachment from view; devices and servers are iterated in
// ascending order so a fixed seed yields a fixed sequence.
func (p MovementPlan) MovesAt(tick int64, rng *rand.Rand, view MobilityView) []Move {
	switch p.Type {
	case "rule":
		return p.drawRule(rng)
	case "path":
		return p.followPath(tick, view)
	case "random":
		return drawRandom(rng, view)
	default:
		return append([]Move(nil), p.Point[tick]...)
	}
}

func (p MovementPlan) drawRule(rng *rand.Rand) []Move {
	var out []Move
	for _, dev := range sortedKeys(p.Rule) {
		weights := p.Rule[dev]
		servers := sortedKeys(weights)
		total := 0.0
		for _, s := range servers {
			total += weights[s]
		}
		if total <= 0 {
			continue
		}
		r := rng.Float64() * total
		pick := servers[len(servers)-1]
		acc := 0.0
		for _, s := range servers {
			acc += weights[s]
			if r < acc {
				pick = s
				break
			}
		}
		out = append(out, Move{Device: dev, Server: pick})
	}
	return out
}

// followPath sends a device that is off its path (or not connected) to the
// first stop, and a device that has dwelt longer than its stop's interval
// to the next stop.
func (p MovementPlan) followPath(tick int64, view MobilityView) []Move {
	var out []Move
	for _, dev := range sortedKeys(p.Path) {
		path := p.Path[dev]
		d, err := view.Device(dev)
		if err != nil {
			continue
		}
		cur, connected := d.Server()
		idx := -1
		if connected {
			idx = slices.Index(path.Servers, cur)
		}
		if idx < 0 {
			out = append(out, Move{Device: dev, Server: path.Servers[0]})
			continue
		}
		if idx+1 < len(path.Servers) && tick-d.ConnectedAt() > path.Intervals[idx] {
			out = append(out, Move{Device: dev, Server: path.Servers[idx+1]})
		}
	}
	return out
}

func drawRandom(rng *rand.Rand, view MobilityView) []Move {
	devices, servers := view.Devices(), view.Servers()
	if len(devices) == 0 || len(servers) == 0 {
		return nil
	}
	dev := devices[rng.Intn(len(devices))]
	return []Move{{Device: dev, Server: servers[rng.Intn(len(servers))]}}
}

// RequestChange replaces a device's requested applications.
type RequestChange struct {
	Device DeviceID `yaml:"device_id"`
	Apps   []AppID  `yaml:"app_id"`
}

// RequestSchedule lists request changes keyed by absolute tick. A device
// not mentioned at a tick keeps its current requests.
type RequestSchedule map[int64][]RequestChange

// Ticks returns the scheduled ticks in ascending order.
func (r RequestSchedule) Ticks() []int64 {
	ticks := make([]int64, 0, len(r))
	for t := range r {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks
}

// ValidCancelPolicies is the set of recognized request-cancellation policies.
var ValidCancelPolicies = map[string]bool{"": true, "orphan": true, "undeploy": true}

// CancelPolicy decides what happens to the deployed microservices of an
// application a device stops requesting.
type CancelPolicy string

const (
	// CancelOrphan leaves deployments in place until a planner undeploys
	// them. Orphaned tuples are no longer addressable through the fleet.
	CancelOrphan CancelPolicy = "orphan"
	// CancelUndeploy releases every deployed microservice of the cancelled
	// instance immediately.
	CancelUndeploy CancelPolicy = "undeploy"
)
