package sim

import (
	"fmt"
	"sort"
)

// capacityEpsilon absorbs float rounding in feasibility comparisons.
const capacityEpsilon = 1e-9

// ServerSpec is the static description of an edge server.
type ServerSpec struct {
	ID        ServerID `yaml:"id"`
	Storage   float64  `yaml:"storage"`
	Computing float64  `yaml:"computing"`
	Bandwidth float64  `yaml:"bandwidth"` // to the image registry; divides pulled layer size
}

type deployedUnit struct {
	cpu    float64
	layers []string
}

type serverState struct {
	spec        ServerSpec
	freeStorage float64
	freeCompute float64
	layerRefs   map[string]int
	layerSize   map[string]float64 // size recorded at first insertion
	deployed    map[Tuple]deployedUnit
}

// recompute derives free capacity from capacity minus a sum over the
// current contents in sorted order, so identical contents always yield
// bit-identical free values.
func (s *serverState) recompute() {
	names := make([]string, 0, len(s.layerSize))
	for n := range s.layerSize {
		names = append(names, n)
	}
	sort.Strings(names)
	used := 0.0
	for _, n := range names {
		used += s.layerSize[n]
	}
	s.freeStorage = clampFree(s.spec.Storage - used)

	tuples := make([]Tuple, 0, len(s.deployed))
	for t := range s.deployed {
		tuples = append(tuples, t)
	}
	sortTuples(tuples)
	cpu := 0.0
	for _, t := range tuples {
		cpu += s.deployed[t].cpu
	}
	s.freeCompute = clampFree(s.spec.Computing - cpu)
}

// clampFree rounds a free amount overshot by no more than capacityEpsilon
// up to zero.
func clampFree(free float64) float64 {
	if free < 0 && free > -capacityEpsilon {
		return 0
	}
	return free
}

func (s *serverState) newStorage(ms *MicroserviceInstance) float64 {
	need := 0.0
	for _, name := range ms.LayerNames() {
		if _, present := s.layerRefs[name]; !present {
			need += ms.Layers[name]
		}
	}
	return need
}

// ServerStatus is a read-only view of one server's ledger entry.
type ServerStatus struct {
	Spec        ServerSpec
	FreeStorage float64
	FreeCompute float64
	Layers      map[string]int // layer name -> reference count
	LayerSizes  map[string]float64
	Deployed    []Tuple // ascending
}

// Ledger tracks per-server free capacity, layer reference counts, and
// which server each deployed tuple occupies.
//
// Thread-safety: NOT thread-safe.
type Ledger struct {
	servers   map[ServerID]*serverState
	placement map[Tuple]ServerID
}

// NewLedger creates an empty ledger over the given servers.
func NewLedger(specs []ServerSpec) (*Ledger, error) {
	l := &Ledger{
		servers:   make(map[ServerID]*serverState, len(specs)),
		placement: make(map[Tuple]ServerID),
	}
	for _, sp := range specs {
		if _, dup := l.servers[sp.ID]; dup {
			return nil, fmt.Errorf("duplicate server id %d", sp.ID)
		}
		if sp.Storage < 0 || sp.Computing < 0 {
			return nil, fmt.Errorf("server %d: storage and computing must be >= 0", sp.ID)
		}
		if sp.Bandwidth <= 0 {
			return nil, fmt.Errorf("server %d: bandwidth must be > 0, got %v", sp.ID, sp.Bandwidth)
		}
		st := &serverState{
			spec:      sp,
			layerRefs: make(map[string]int),
			layerSize: make(map[string]float64),
			deployed:  make(map[Tuple]deployedUnit),
		}
		st.recompute()
		l.servers[sp.ID] = st
	}
	return l, nil
}

func (l *Ledger) server(id ServerID) (*serverState, error) {
	s, ok := l.servers[id]
	if !ok {
		return nil, fmt.Errorf("server %d: %w", id, ErrNotFound)
	}
	return s, nil
}

// HasServer reports whether id is a known server.
func (l *Ledger) HasServer(id ServerID) bool {
	_, ok := l.servers[id]
	return ok
}

// Servers returns every server id in ascending order.
func (l *Ledger) Servers() []ServerID {
	return sortedKeys(l.servers)
}

// ServerOf returns where t is deployed.
func (l *Ledger) ServerOf(t Tuple) (ServerID, bool) {
	sid, ok := l.placement[t]
	return sid, ok
}

// FeasibleToDeploy reports whether ms could be deployed on server now. It
// is false when the tuple is already deployed anywhere. Read-only.
func (l *Ledger) FeasibleToDeploy(ms *MicroserviceInstance, server ServerID) (bool, error) {
	s, err := l.server(server)
	if err != nil {
		return false, err
	}
	if _, deployed := l.placement[ms.Tuple]; deployed {
		return false, nil
	}
	if s.newStorage(ms) > s.freeStorage+capacityEpsilon {
		return false, nil
	}
	if ms.CPU > s.freeCompute+capacityEpsilon {
		return false, nil
	}
	return true, nil
}

// Deploy places ms on server if feasible. Layers already present on the
// server only gain a reference; new layers consume free storage. A false
// result with a nil error means insufficient capacity; nothing changed.
func (l *Ledger) Deploy(ms *MicroserviceInstance, server ServerID) (bool, error) {
	if cur, deployed := l.placement[ms.Tuple]; deployed {
		return false, fmt.Errorf("deploy %s on %d: on server %d: %w", ms.Tuple, server, cur, ErrAlreadyDeployed)
	}
	ok, err := l.FeasibleToDeploy(ms, server)
	if err != nil || !ok {
		return false, err
	}
	s := l.servers[server]
	names := ms.LayerNames()
	for _, name := range names {
		if s.layerRefs[name] == 0 {
			s.layerSize[name] = ms.Layers[name]
		}
		s.layerRefs[name]++
	}
	s.deployed[ms.Tuple] = deployedUnit{cpu: ms.CPU, layers: names}
	l.placement[ms.Tuple] = server
	s.recompute()
	return true, nil
}

// Undeploy removes t from its server. A layer whose reference count drops
// to zero is evicted and its recorded size returned to free storage.
func (l *Ledger) Undeploy(t Tuple) (ServerID, error) {
	sid, ok := l.placement[t]
	if !ok {
		return 0, fmt.Errorf("undeploy %s: %w", t, ErrNotDeployed)
	}
	s := l.servers[sid]
	unit := s.deployed[t]
	for _, name := range unit.layers {
		s.layerRefs[name]--
		if s.layerRefs[name] <= 0 {
			delete(s.layerRefs, name)
			delete(s.layerSize, name)
		}
	}
	delete(s.deployed, t)
	delete(l.placement, t)
	s.recompute()
	return sid, nil
}

// Status returns a copy of a server's ledger entry.
func (l *Ledger) Status(id ServerID) (ServerStatus, error) {
	s, err := l.server(id)
	if err != nil {
		return ServerStatus{}, err
	}
	st := ServerStatus{
		Spec:        s.spec,
		FreeStorage: s.freeStorage,
		FreeCompute: s.freeCompute,
		Layers:      make(map[string]int, len(s.layerRefs)),
		LayerSizes:  make(map[string]float64, len(s.layerSize)),
		Deployed:    make([]Tuple, 0, len(s.deployed)),
	}
	for k, v := range s.layerRefs {
		st.Layers[k] = v
	}
	for k, v := range s.layerSize {
		st.LayerSizes[k] = v
	}
	for t := range s.deployed {
		st.Deployed = append(st.Deployed, t)
	}
	sortTuples(st.Deployed)
	return st, nil
}

// Specs returns the static description of every server in ascending id
// order.
func (l *Ledger) Specs() []ServerSpec {
	out := make([]ServerSpec, 0, len(l.servers))
	for _, id := range l.Servers() {
		out = append(out, l.servers[id].spec)
	}
	return out
}

// Placements returns every deployed tuple and its server, in tuple order.
func (l *Ledger) Placements() []Placement {
	tuples := make([]Tuple, 0, len(l.placement))
	for t := range l.placement {
		tuples = append(tuples, t)
	}
	sortTuples(tuples)
	out := make([]Placement, len(tuples))
	for i, t := range tuples {
		out[i] = t.PlaceAt(l.placement[t])
	}
	return out
}

// Clone returns an independent deep copy.
func (l *Ledger) Clone() *Ledger {
	cp := &Ledger{
		servers:   make(map[ServerID]*serverState, len(l.servers)),
		placement: make(map[Tuple]ServerID, len(l.placement)),
	}
	for t, sid := range l.placement {
		cp.placement[t] = sid
	}
	for id, s := range l.servers {
		ns := &serverState{
			spec:        s.spec,
			freeStorage: s.freeStorage,
			freeCompute: s.freeCompute,
			layerRefs:   make(map[string]int, len(s.layerRefs)),
			layerSize:   make(map[string]float64, len(s.layerSize)),
			deployed:    make(map[Tuple]deployedUnit, len(s.deployed)),
		}
		for k, v := range s.layerRefs {
			ns.layerRefs[k] = v
		}
		for k, v := range s.layerSize {
			ns.layerSize[k] = v
		}
		for t, u := range s.deployed {
			ns.deployed[t] = deployedUnit{cpu: u.cpu, layers: append([]string(nil), u.layers...)}
		}
		cp.servers[id] = ns
	}
	return cp
}
