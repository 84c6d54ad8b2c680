package sim

import "fmt"

// Action is a planner's decision for one tick. Each list is applied in
// the order given; Apply runs Deploy, then Migrate as one batch, then
// Undeploy.
type Action struct {
	Deploy   []Placement `yaml:"deploy" json:"deploy"`
	Migrate  []Placement `yaml:"migrate" json:"migrate"`
	Undeploy []Tuple     `yaml:"undeploy" json:"undeploy"`
}

// IsEmpty reports whether the action changes nothing.
func (a Action) IsEmpty() bool {
	return len(a.Deploy) == 0 && len(a.Migrate) == 0 && len(a.Undeploy) == 0
}

// NestedPlacement is the device -> application -> microservice -> server
// wire shape used by deploy and migrate sections.
type NestedPlacement map[DeviceID]map[AppID]map[MicroserviceID]ServerID

// ServerOf returns the server recorded for t.
func (n NestedPlacement) ServerOf(t Tuple) (ServerID, bool) {
	sid, ok := n[t.Device][t.App][t.Microservice]
	return sid, ok
}

// NestedUndeploy is the device -> application -> [microservice] wire shape.
type NestedUndeploy map[DeviceID]map[AppID][]MicroserviceID

// NestedAction is the map-shaped form of an Action.
type NestedAction struct {
	Deploy   NestedPlacement `yaml:"deploy" json:"deploy"`
	Migrate  NestedPlacement `yaml:"migrate" json:"migrate"`
	Undeploy NestedUndeploy  `yaml:"undeploy" json:"undeploy"`
}

// ActionFromNested flattens a map-shaped action into ordered lists. Keys
// are visited in ascending order at every level; undeploy lists keep
// their given order.
func ActionFromNested(n NestedAction) Action {
	return Action{
		Deploy:   flattenPlacements(n.Deploy),
		Migrate:  flattenPlacements(n.Migrate),
		Undeploy: flattenUndeploy(n.Undeploy),
	}
}

func flattenPlacements(n NestedPlacement) []Placement {
	var out []Placement
	for _, dev := range sortedKeys(n) {
		apps := n[dev]
		for _, app := range sortedKeys(apps) {
			mss := apps[app]
			for _, ms := range sortedKeys(mss) {
				out = append(out, Placement{Device: dev, App: app, Microservice: ms, Server: mss[ms]})
			}
		}
	}
	return out
}

func flattenUndeploy(n NestedUndeploy) []Tuple {
	var out []Tuple
	for _, dev := range sortedKeys(n) {
		apps := n[dev]
		for _, app := range sortedKeys(apps) {
			for _, ms := range apps[app] {
				out = append(out, Tuple{Device: dev, App: app, Microservice: ms})
			}
		}
	}
	return out
}

// Nested converts the action to its map-shaped form. Fails on a tuple
// listed twice within the same section, which the map shape cannot carry.
func (a Action) Nested() (NestedAction, error) {
	var n NestedAction
	var err error
	if n.Deploy, err = nestPlacements(a.Deploy); err != nil {
		return NestedAction{}, fmt.Errorf("deploy: %w", err)
	}
	if n.Migrate, err = nestPlacements(a.Migrate); err != nil {
		return NestedAction{}, fmt.Errorf("migrate: %w", err)
	}
	n.Undeploy = make(NestedUndeploy)
	for _, t := range a.Undeploy {
		if n.Undeploy[t.Device] == nil {
			n.Undeploy[t.Device] = make(map[AppID][]MicroserviceID)
		}
		n.Undeploy[t.Device][t.App] = append(n.Undeploy[t.Device][t.App], t.Microservice)
	}
	return n, nil
}

func nestPlacements(ps []Placement) (NestedPlacement, error) {
	out := make(NestedPlacement)
	for _, p := range ps {
		if out[p.Device] == nil {
			out[p.Device] = make(map[AppID]map[MicroserviceID]ServerID)
		}
		if out[p.Device][p.App] == nil {
			out[p.Device][p.App] = make(map[MicroserviceID]ServerID)
		}
		if _, dup := out[p.Device][p.App][p.Microservice]; dup {
			return nil, fmt.Errorf("tuple %s listed twice", p.Tuple())
		}
		out[p.Device][p.App][p.Microservice] = p.Server
	}
	return out, nil
}
