package sim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edge-sim/edge-sim/sim/internal/testutil"
)

// testMicroservices: 1 and 2 share layer "base"; 3 is standalone.
func testMicroservices() []MicroserviceSpec {
	return []MicroserviceSpec{
		{ID: 1, Name: "ingest", CPU: 2, Layers: map[string]float64{"base": 1, "ingest": 1}},
		{ID: 2, Name: "infer", CPU: 3, Layers: map[string]float64{"base": 1, "infer": 2}},
		{ID: 3, Name: "store", CPU: 5, Layers: map[string]float64{"store": 4}},
	}
}

func testApplications() []ApplicationSpec {
	return []ApplicationSpec{
		{
			ID: 1, Name: "pipeline", Microservices: []MicroserviceID{1, 2},
			Messages:   []MessageSpec{{Sender: 1, Receiver: 2, Data: 10}},
			SourceData: 5,
		},
		{ID: 2, Name: "archive", Microservices: []MicroserviceID{3}, SourceData: 7},
	}
}

func testServers() []ServerSpec {
	return []ServerSpec{
		{ID: 1, Storage: 10, Computing: 10, Bandwidth: 1},
		{ID: 2, Storage: 10, Computing: 10, Bandwidth: 1},
		{ID: 3, Storage: 5, Computing: 5, Bandwidth: 0.5},
	}
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(testMicroservices(), testApplications(), []MigrationCostEntry{
		{Microservice: 1, Server: 2, Cost: 0.5},
	})
	require.NoError(t, err)
	return c
}

// testWorld is a ledger, fleet, and engine over the test catalog with
// devices 1 and 2 attached to server 1.
type testWorld struct {
	catalog *Catalog
	ledger  *Ledger
	fleet   *Fleet
	engine  *Engine
}

func newTestWorld(t *testing.T, servers []ServerSpec) *testWorld {
	t.Helper()
	catalog := newTestCatalog(t)
	ledger, err := NewLedger(servers)
	require.NoError(t, err)
	fleet, err := NewFleet(catalog, ledger.Servers(), []DeviceID{1, 2})
	require.NoError(t, err)
	for _, d := range []DeviceID{1, 2} {
		_, err := fleet.MoveDevice(d, 1, 0)
		require.NoError(t, err)
	}
	return &testWorld{catalog: catalog, ledger: ledger, fleet: fleet, engine: NewEngine(ledger, fleet)}
}

func (w *testWorld) request(t *testing.T, dev DeviceID, apps ...AppID) {
	t.Helper()
	_, _, err := w.fleet.ReconcileRequests(dev, apps)
	require.NoError(t, err)
}

func (w *testWorld) instance(t *testing.T, tup Tuple) *MicroserviceInstance {
	t.Helper()
	ms, err := w.fleet.Instance(tup)
	require.NoError(t, err)
	return ms
}

func tup(dev DeviceID, app AppID, ms MicroserviceID) Tuple {
	return Tuple{Device: dev, App: app, Microservice: ms}
}

// loadReferenceConfig loads testdata/environment.yaml.
func loadReferenceConfig(t *testing.T) *EnvironmentConfig {
	t.Helper()
	cfg, err := LoadEnvironmentConfig(testutil.TestdataPath(t, "environment.yaml"))
	require.NoError(t, err)
	return cfg
}

func newReferenceSimulation(t *testing.T) *Simulation {
	t.Helper()
	s, err := NewSimulation(loadReferenceConfig(t))
	require.NoError(t, err)
	return s
}

// stubPlanner returns a fixed action every tick.
type stubPlanner struct {
	action Action
	ticks  []int64
}

func (p *stubPlanner) GetData(tick int64) error {
	p.ticks = append(p.ticks, tick)
	return nil
}

func (p *stubPlanner) Solve() (Action, error) { return p.action, nil }
