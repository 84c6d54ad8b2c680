package sim

import (
	"fmt"
	"sort"
)

// MicroserviceSpec is an immutable microservice template.
type MicroserviceSpec struct {
	ID     MicroserviceID     `yaml:"id"`
	Name   string             `yaml:"name"`
	Layers map[string]float64 `yaml:"layers"` // layer name -> size
	CPU    float64            `yaml:"cpu"`
}

// MessageSpec is a directed data flow between two microservices of an
// application. The volume carried is Data × Frequency; a zero frequency
// means 1.
type MessageSpec struct {
	Sender    MicroserviceID `yaml:"sender"`
	Receiver  MicroserviceID `yaml:"receiver"`
	Data      float64        `yaml:"data"`
	Frequency float64        `yaml:"frequency,omitempty"`
}

// Volume returns the data volume carried per tick.
func (m MessageSpec) Volume() float64 {
	if m.Frequency == 0 {
		return m.Data
	}
	return m.Data * m.Frequency
}

// ApplicationSpec is the configuration shape of an application template.
type ApplicationSpec struct {
	ID            AppID            `yaml:"id"`
	Name          string           `yaml:"name"`
	Microservices []MicroserviceID `yaml:"ms_id_list"`
	Messages      []MessageSpec    `yaml:"message"`
	SourceData    float64          `yaml:"source_message_data"`
}

// MigrationCostEntry is one row of the migration cost table: the cost of
// moving microservice Microservice onto server Server.
type MigrationCostEntry struct {
	Microservice MicroserviceID `yaml:"microservice_id"`
	Server       ServerID       `yaml:"server_id"`
	Cost         float64        `yaml:"cost"`
}

type msEdge struct {
	from, to MicroserviceID
}

type costKey struct {
	ms     MicroserviceID
	server ServerID
}

// Application is a validated application template: a connected acyclic
// message graph over its microservices with exactly one head.
type Application struct {
	ID            AppID
	Name          string
	SourceVolume  float64
	microservices []MicroserviceID
	head          MicroserviceID
	next          map[MicroserviceID][]MicroserviceID
	volume        map[msEdge]float64
}

// Head returns the microservice that receives the device's source message.
func (a *Application) Head() MicroserviceID { return a.head }

// Microservices returns the application's microservice ids in
// configuration order.
func (a *Application) Microservices() []MicroserviceID {
	return append([]MicroserviceID(nil), a.microservices...)
}

// Contains reports whether ms belongs to the application.
func (a *Application) Contains(ms MicroserviceID) bool {
	for _, id := range a.microservices {
		if id == ms {
			return true
		}
	}
	return false
}

// Next returns the receivers of messages sent by ms, in configuration order.
func (a *Application) Next(ms MicroserviceID) []MicroserviceID {
	return append([]MicroserviceID(nil), a.next[ms]...)
}

// Volume returns the data volume from sender to receiver; 0 if no message
// connects them.
func (a *Application) Volume(sender, receiver MicroserviceID) float64 {
	return a.volume[msEdge{sender, receiver}]
}

// Catalog holds the immutable microservice and application templates and
// the migration cost table. It is shared, never copied, between a live
// simulation and its what-if forks.
type Catalog struct {
	microservices map[MicroserviceID]MicroserviceSpec
	applications  map[AppID]*Application
	migrationCost map[costKey]float64
}

// NewCatalog validates the templates and builds a catalog.
func NewCatalog(mss []MicroserviceSpec, apps []ApplicationSpec, costs []MigrationCostEntry) (*Catalog, error) {
	c := &Catalog{
		microservices: make(map[MicroserviceID]MicroserviceSpec, len(mss)),
		applications:  make(map[AppID]*Application, len(apps)),
		migrationCost: make(map[costKey]float64, len(costs)),
	}
	for _, ms := range mss {
		if _, dup := c.microservices[ms.ID]; dup {
			return nil, fmt.Errorf("duplicate microservice id %d", ms.ID)
		}
		if ms.CPU < 0 {
			return nil, fmt.Errorf("microservice %d: cpu must be >= 0, got %v", ms.ID, ms.CPU)
		}
		layers := make(map[string]float64, len(ms.Layers))
		for name, size := range ms.Layers {
			if size < 0 {
				return nil, fmt.Errorf("microservice %d: layer %q size must be >= 0, got %v", ms.ID, name, size)
			}
			layers[name] = size
		}
		ms.Layers = layers
		c.microservices[ms.ID] = ms
	}
	for _, spec := range apps {
		if _, dup := c.applications[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate application id %d", spec.ID)
		}
		app, err := c.buildApplication(spec)
		if err != nil {
			return nil, fmt.Errorf("application %d: %w", spec.ID, err)
		}
		c.applications[spec.ID] = app
	}
	for _, e := range costs {
		if _, ok := c.microservices[e.Microservice]; !ok {
			return nil, fmt.Errorf("migration cost: unknown microservice %d", e.Microservice)
		}
		if e.Cost < 0 {
			return nil, fmt.Errorf("migration cost (%d,%d): must be >= 0, got %v", e.Microservice, e.Server, e.Cost)
		}
		c.migrationCost[costKey{e.Microservice, e.Server}] = e.Cost
	}
	return c, nil
}

func (c *Catalog) buildApplication(spec ApplicationSpec) (*Application, error) {
	if len(spec.Microservices) == 0 {
		return nil, fmt.Errorf("no microservices")
	}
	if spec.SourceData < 0 {
		return nil, fmt.Errorf("source_message_data must be >= 0, got %v", spec.SourceData)
	}
	app := &Application{
		ID:           spec.ID,
		Name:         spec.Name,
		SourceVolume: spec.SourceData,
		next:         make(map[MicroserviceID][]MicroserviceID),
		volume:       make(map[msEdge]float64),
	}
	members := make(map[MicroserviceID]bool, len(spec.Microservices))
	for _, id := range spec.Microservices {
		if _, ok := c.microservices[id]; !ok {
			return nil, fmt.Errorf("unknown microservice %d: %w", id, ErrNotFound)
		}
		if members[id] {
			return nil, fmt.Errorf("microservice %d listed twice", id)
		}
		members[id] = true
		app.microservices = append(app.microservices, id)
	}
	indegree := make(map[MicroserviceID]int, len(members))
	for _, m := range spec.Messages {
		if !members[m.Sender] || !members[m.Receiver] {
			return nil, fmt.Errorf("message %d->%d: endpoint not in application", m.Sender, m.Receiver)
		}
		if m.Sender == m.Receiver {
			return nil, fmt.Errorf("message %d->%d: self-loop", m.Sender, m.Receiver)
		}
		if m.Data < 0 || m.Frequency < 0 {
			return nil, fmt.Errorf("message %d->%d: data and frequency must be >= 0", m.Sender, m.Receiver)
		}
		e := msEdge{m.Sender, m.Receiver}
		if _, dup := app.volume[e]; dup {
			return nil, fmt.Errorf("message %d->%d: duplicate", m.Sender, m.Receiver)
		}
		app.volume[e] = m.Volume()
		app.next[m.Sender] = append(app.next[m.Sender], m.Receiver)
		indegree[m.Receiver]++
	}

	var heads []MicroserviceID
	for _, id := range app.microservices {
		if indegree[id] == 0 {
			heads = append(heads, id)
		}
	}
	if len(heads) != 1 {
		return nil, fmt.Errorf("want exactly one head microservice, found %d %v", len(heads), heads)
	}
	app.head = heads[0]

	// Kahn's algorithm: every node must be reachable and the graph acyclic.
	remaining := make(map[MicroserviceID]int, len(indegree))
	for k, v := range indegree {
		remaining[k] = v
	}
	queue := []MicroserviceID{app.head}
	visited := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited++
		for _, nxt := range app.next[cur] {
			remaining[nxt]--
			if remaining[nxt] == 0 {
				queue = append(queue, nxt)
			}
		}
	}
	if visited != len(app.microservices) {
		return nil, fmt.Errorf("message graph is cyclic or not connected to head %d", app.head)
	}
	return app, nil
}

// Microservice returns the template for id.
func (c *Catalog) Microservice(id MicroserviceID) (MicroserviceSpec, error) {
	ms, ok := c.microservices[id]
	if !ok {
		return MicroserviceSpec{}, fmt.Errorf("microservice %d: %w", id, ErrNotFound)
	}
	return ms, nil
}

// Application returns the template for id.
func (c *Catalog) Application(id AppID) (*Application, error) {
	app, ok := c.applications[id]
	if !ok {
		return nil, fmt.Errorf("application %d: %w", id, ErrNotFound)
	}
	return app, nil
}

// ApplicationIDs returns every application id in ascending order.
func (c *Catalog) ApplicationIDs() []AppID {
	return sortedKeys(c.applications)
}

// MicroserviceIDs returns every microservice id in ascending order.
func (c *Catalog) MicroserviceIDs() []MicroserviceID {
	return sortedKeys(c.microservices)
}

// MigrationCost returns the cost of moving ms onto server.
func (c *Catalog) MigrationCost(ms MicroserviceID, server ServerID) (float64, error) {
	cost, ok := c.migrationCost[costKey{ms, server}]
	if !ok {
		return 0, fmt.Errorf("migration cost (%d,%d): %w", ms, server, ErrNotFound)
	}
	return cost, nil
}

// Instantiate creates a fresh instance of application id bound to device.
// Every microservice instance carries its own copy of the template's layer
// map.
func (c *Catalog) Instantiate(id AppID, device DeviceID) (*AppInstance, error) {
	app, err := c.Application(id)
	if err != nil {
		return nil, err
	}
	inst := &AppInstance{
		ID:            id,
		Device:        device,
		Template:      app,
		microservices: make(map[MicroserviceID]*MicroserviceInstance, len(app.microservices)),
	}
	for _, msID := range app.microservices {
		spec := c.microservices[msID]
		layers := make(map[string]float64, len(spec.Layers))
		for k, v := range spec.Layers {
			layers[k] = v
		}
		inst.microservices[msID] = &MicroserviceInstance{
			Tuple:  Tuple{Device: device, App: id, Microservice: msID},
			Name:   spec.Name,
			CPU:    spec.CPU,
			Layers: layers,
		}
	}
	return inst, nil
}

// MicroserviceInstance is a microservice bound to one application instance
// on one device. Where it is deployed is owned by the Ledger, not the
// instance.
type MicroserviceInstance struct {
	Tuple
	Name   string
	CPU    float64
	Layers map[string]float64
}

// LayerNames returns the instance's layer names in ascending order.
func (m *MicroserviceInstance) LayerNames() []string {
	names := make([]string, 0, len(m.Layers))
	for name := range m.Layers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AppInstance is an application requested by a device.
type AppInstance struct {
	ID       AppID
	Device   DeviceID
	Template *Application

	microservices map[MicroserviceID]*MicroserviceInstance
}

// Microservice returns the instance of ms within this application.
func (a *AppInstance) Microservice(ms MicroserviceID) (*MicroserviceInstance, error) {
	inst, ok := a.microservices[ms]
	if !ok {
		return nil, fmt.Errorf("microservice %d in application %d of device %d: %w", ms, a.ID, a.Device, ErrNotFound)
	}
	return inst, nil
}

// Tuples returns the tuples of every microservice in configuration order.
func (a *AppInstance) Tuples() []Tuple {
	out := make([]Tuple, 0, len(a.Template.microservices))
	for _, id := range a.Template.microservices {
		out = append(out, a.microservices[id].Tuple)
	}
	return out
}

func (a *AppInstance) clone() *AppInstance {
	cp := &AppInstance{
		ID:            a.ID,
		Device:        a.Device,
		Template:      a.Template,
		microservices: make(map[MicroserviceID]*MicroserviceInstance, len(a.microservices)),
	}
	for id, ms := range a.microservices {
		layers := make(map[string]float64, len(ms.Layers))
		for k, v := range ms.Layers {
			layers[k] = v
		}
		cp.microservices[id] = &MicroserviceInstance{Tuple: ms.Tuple, Name: ms.Name, CPU: ms.CPU, Layers: layers}
	}
	return cp
}
