package sim

import (
	"fmt"
	"sort"
)

// ServerID identifies an edge server.
type ServerID int64

// DeviceID identifies a mobile device.
type DeviceID int64

// AppID identifies an application template (and its instance on a device).
type AppID int64

// MicroserviceID identifies a microservice template (and its instance
// inside an application instance).
type MicroserviceID int64

// Tuple identifies one deployable unit: microservice Microservice of the
// App instance requested by Device. The same microservice template may
// appear in several tuples; each is accounted for separately.
type Tuple struct {
	Device       DeviceID       `yaml:"device_id" json:"device_id"`
	App          AppID          `yaml:"application_id" json:"application_id"`
	Microservice MicroserviceID `yaml:"microservice_id" json:"microservice_id"`
}

func (t Tuple) String() string {
	return fmt.Sprintf("(m=%d,k=%d,i=%d)", t.Device, t.App, t.Microservice)
}

// Less orders tuples by device, then application, then microservice.
func (t Tuple) Less(o Tuple) bool {
	if t.Device != o.Device {
		return t.Device < o.Device
	}
	if t.App != o.App {
		return t.App < o.App
	}
	return t.Microservice < o.Microservice
}

// Placement binds a tuple to a target server.
type Placement struct {
	Device       DeviceID       `yaml:"device_id" json:"device_id"`
	App          AppID          `yaml:"application_id" json:"application_id"`
	Microservice MicroserviceID `yaml:"microservice_id" json:"microservice_id"`
	Server       ServerID       `yaml:"server_id" json:"server_id"`
}

// Tuple returns the deployable unit the placement refers to.
func (p Placement) Tuple() Tuple {
	return Tuple{Device: p.Device, App: p.App, Microservice: p.Microservice}
}

// PlaceAt returns a placement of t onto server.
func (t Tuple) PlaceAt(server ServerID) Placement {
	return Placement{Device: t.Device, App: t.App, Microservice: t.Microservice, Server: server}
}

func (p Placement) String() string {
	return fmt.Sprintf("%s->%d", p.Tuple(), p.Server)
}

func sortTuples(ts []Tuple) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Less(ts[j]) })
}

func sortedKeys[K ~int64, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
