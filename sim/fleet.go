package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Device is a mobile device: its attachment point and the application
// instances it currently requests.
type Device struct {
	ID DeviceID

	server      ServerID
	connected   bool
	connectedAt int64 // tick of the most recent effective move
	apps        map[AppID]*AppInstance
}

// Server returns the server the device is attached to; ok is false before
// the first connection.
func (d *Device) Server() (id ServerID, ok bool) {
	return d.server, d.connected
}

// ConnectedAt returns the tick at which the device last changed server.
func (d *Device) ConnectedAt() int64 { return d.connectedAt }

// Requested returns the ids of the requested applications in ascending order.
func (d *Device) Requested() []AppID {
	return sortedKeys(d.apps)
}

// App returns the requested application instance id.
func (d *Device) App(id AppID) (*AppInstance, error) {
	app, ok := d.apps[id]
	if !ok {
		return nil, fmt.Errorf("application %d on device %d: %w", id, d.ID, ErrNotFound)
	}
	return app, nil
}

// Fleet is the registry of devices, their connectivity, and their
// requested application instances.
//
// Thread-safety: NOT thread-safe.
type Fleet struct {
	catalog *Catalog
	servers map[ServerID]map[DeviceID]struct{}
	devices map[DeviceID]*Device
}

// NewFleet creates a fleet of disconnected devices with no requests.
func NewFleet(catalog *Catalog, servers []ServerID, devices []DeviceID) (*Fleet, error) {
	f := &Fleet{
		catalog: catalog,
		servers: make(map[ServerID]map[DeviceID]struct{}, len(servers)),
		devices: make(map[DeviceID]*Device, len(devices)),
	}
	for _, s := range servers {
		f.servers[s] = make(map[DeviceID]struct{})
	}
	for _, id := range devices {
		if _, dup := f.devices[id]; dup {
			return nil, fmt.Errorf("duplicate device id %d", id)
		}
		f.devices[id] = &Device{ID: id, apps: make(map[AppID]*AppInstance)}
	}
	return f, nil
}

// Device returns the device with the given id.
func (f *Fleet) Device(id DeviceID) (*Device, error) {
	d, ok := f.devices[id]
	if !ok {
		return nil, fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	return d, nil
}

// Devices returns every device id in ascending order.
func (f *Fleet) Devices() []DeviceID {
	return sortedKeys(f.devices)
}

// Servers returns every server id in ascending order.
func (f *Fleet) Servers() []ServerID {
	return sortedKeys(f.servers)
}

// AttachedTo returns the devices connected to server, ascending.
func (f *Fleet) AttachedTo(server ServerID) ([]DeviceID, error) {
	set, ok := f.servers[server]
	if !ok {
		return nil, fmt.Errorf("server %d: %w", server, ErrNotFound)
	}
	return sortedKeys(set), nil
}

// MoveDevice attaches device to server at tick. Moving to the server the
// device is already on is a no-op and reports false.
func (f *Fleet) MoveDevice(device DeviceID, server ServerID, tick int64) (bool, error) {
	d, err := f.Device(device)
	if err != nil {
		return false, err
	}
	target, ok := f.servers[server]
	if !ok {
		return false, fmt.Errorf("move device %d: server %d: %w", device, server, ErrNotFound)
	}
	if d.connected && d.server == server {
		logrus.Debugf("[tick %07d] device %d already on server %d", tick, device, server)
		return false, nil
	}
	if d.connected {
		delete(f.servers[d.server], device)
		logrus.Debugf("[tick %07d] device %d moved from server %d to server %d", tick, device, d.server, server)
	} else {
		logrus.Debugf("[tick %07d] device %d connected to server %d", tick, device, server)
	}
	target[device] = struct{}{}
	d.server = server
	d.connected = true
	d.connectedAt = tick
	return true, nil
}

// ReconcileRequests makes the device's requested applications equal to
// desired. Newly desired applications are instantiated from the catalog;
// no longer desired ones are removed and returned so the caller can apply
// its cancellation policy. Removal never touches the ledger.
func (f *Fleet) ReconcileRequests(device DeviceID, desired []AppID) (added []AppID, removed []*AppInstance, err error) {
	d, err := f.Device(device)
	if err != nil {
		return nil, nil, err
	}
	want := make(map[AppID]bool, len(desired))
	for _, id := range desired {
		want[id] = true
	}
	// Instantiate everything first so an unknown id leaves the device untouched.
	fresh := make(map[AppID]*AppInstance)
	for _, id := range sortedKeys(want) {
		if _, have := d.apps[id]; have {
			continue
		}
		inst, err := f.catalog.Instantiate(id, device)
		if err != nil {
			return nil, nil, fmt.Errorf("device %d request: %w", device, err)
		}
		fresh[id] = inst
	}
	for _, id := range d.Requested() {
		if !want[id] {
			removed = append(removed, d.apps[id])
			delete(d.apps, id)
		}
	}
	for _, id := range sortedKeys(fresh) {
		d.apps[id] = fresh[id]
		added = append(added, id)
	}
	return added, removed, nil
}

// Instance returns the microservice instance identified by t.
func (f *Fleet) Instance(t Tuple) (*MicroserviceInstance, error) {
	d, err := f.Device(t.Device)
	if err != nil {
		return nil, err
	}
	app, err := d.App(t.App)
	if err != nil {
		return nil, err
	}
	return app.Microservice(t.Microservice)
}

// Tuples returns every requested tuple across the fleet in ascending order.
func (f *Fleet) Tuples() []Tuple {
	var out []Tuple
	for _, id := range f.Devices() {
		d := f.devices[id]
		for _, appID := range d.Requested() {
			out = append(out, d.apps[appID].Tuples()...)
		}
	}
	sortTuples(out)
	return out
}

// Connectivity returns device -> server for connected devices.
func (f *Fleet) Connectivity() map[DeviceID]ServerID {
	out := make(map[DeviceID]ServerID, len(f.devices))
	for id, d := range f.devices {
		if d.connected {
			out[id] = d.server
		}
	}
	return out
}

// Attachments returns server -> connected devices (ascending) for every server.
func (f *Fleet) Attachments() map[ServerID][]DeviceID {
	out := make(map[ServerID][]DeviceID, len(f.servers))
	for sid, set := range f.servers {
		out[sid] = sortedKeys(set)
	}
	return out
}

// Requests returns device -> requested application ids.
func (f *Fleet) Requests() map[DeviceID][]AppID {
	out := make(map[DeviceID][]AppID, len(f.devices))
	for id, d := range f.devices {
		out[id] = d.Requested()
	}
	return out
}

// Clone returns an independent deep copy sharing the immutable catalog.
func (f *Fleet) Clone() *Fleet {
	cp := &Fleet{
		catalog: f.catalog,
		servers: make(map[ServerID]map[DeviceID]struct{}, len(f.servers)),
		devices: make(map[DeviceID]*Device, len(f.devices)),
	}
	for sid, set := range f.servers {
		ns := make(map[DeviceID]struct{}, len(set))
		for d := range set {
			ns[d] = struct{}{}
		}
		cp.servers[sid] = ns
	}
	for id, d := range f.devices {
		nd := &Device{
			ID:          d.ID,
			server:      d.server,
			connected:   d.connected,
			connectedAt: d.connectedAt,
			apps:        make(map[AppID]*AppInstance, len(d.apps)),
		}
		for appID, app := range d.apps {
			nd.apps[appID] = app.clone()
		}
		cp.devices[id] = nd
	}
	return cp
}
