package evaluate

import (
	"context"
	"os"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-sim/edge-sim/sim"
	"github.com/edge-sim/edge-sim/sim/internal/testutil"
	"github.com/edge-sim/edge-sim/sim/snapshot"
	"github.com/edge-sim/edge-sim/sim/topology"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

// scripted returns a fixed action per tick.
type scripted map[int64]sim.Action

type scriptedPlanner struct {
	script scripted
	tick   int64
}

func (p *scriptedPlanner) GetData(tick int64) error {
	p.tick = tick
	return nil
}

func (p *scriptedPlanner) Solve() (sim.Action, error) { return p.script[p.tick], nil }

func at(dev sim.DeviceID, ms sim.MicroserviceID, server sim.ServerID) sim.Placement {
	return sim.Placement{Device: dev, App: 1, Microservice: ms, Server: server}
}

// lineConfig: servers 1-2-3 in a line; application 1 is A(1) -> B(2)
// carrying 100 with source volume 10. Devices 1 and 2 sit on server 1
// with A on 1; device 1's B starts on 1, device 2's B on 3.
func lineConfig() *sim.EnvironmentConfig {
	var costs []sim.MigrationCostEntry
	for _, ms := range []sim.MicroserviceID{1, 2} {
		for _, s := range []sim.ServerID{1, 2, 3} {
			costs = append(costs, sim.MigrationCostEntry{Microservice: ms, Server: s, Cost: 0.1*float64(s) + 0.3*float64(ms)})
		}
	}
	return &sim.EnvironmentConfig{
		Servers: []sim.ServerSpec{
			{ID: 1, Storage: 10, Computing: 10, Bandwidth: 2},
			{ID: 2, Storage: 10, Computing: 10, Bandwidth: 2},
			{ID: 3, Storage: 10, Computing: 10, Bandwidth: 0.5},
		},
		Devices:  []sim.DeviceSpec{{ID: 1}, {ID: 2}},
		Topology: []topology.Edge{{A: 1, B: 2}, {A: 2, B: 3}},
		Microservices: []sim.MicroserviceSpec{
			{ID: 1, Name: "A", CPU: 1, Layers: map[string]float64{"a": 1}},
			{ID: 2, Name: "B", CPU: 1, Layers: map[string]float64{"b": 2, "common": 1}},
		},
		Applications: []sim.ApplicationSpec{{
			ID: 1, Name: "chain", Microservices: []sim.MicroserviceID{1, 2},
			Messages:   []sim.MessageSpec{{Sender: 1, Receiver: 2, Data: 100}},
			SourceData: 10,
		}},
		MigrationCost: costs,
		Movement:      sim.MovementPlan{Point: sim.MovementSchedule{2: {{Device: 1, Server: 3}}}},
		Start: sim.StartConfig{
			Mode: "running",
			Devices: []sim.StartDevice{
				{ID: 1, Server: 1, Apps: []sim.AppID{1}},
				{ID: 2, Server: 1, Apps: []sim.AppID{1}},
			},
			Deployment: []sim.Placement{at(1, 1, 1), at(1, 2, 1), at(2, 1, 1), at(2, 2, 3)},
		},
		EndTick: 2,
	}
}

// lineScript: tick 1 moves device 1's B to 3, tick 2 moves device 2's B to 2.
var lineScript = scripted{
	1: {Migrate: []sim.Placement{at(1, 2, 3)}},
	2: {Migrate: []sim.Placement{at(2, 2, 2)}},
}

func runLine(t *testing.T) (*sim.Simulation, *Evaluator) {
	t.Helper()
	s, err := sim.NewSimulation(lineConfig())
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), &scriptedPlanner{script: lineScript}))
	return s, New(s)
}

func TestEvaluate_LineScenario(t *testing.T) {
	_, ev := runLine(t)

	tests := []struct {
		name string
		tick int64
		want Costs
	}{
		{
			// device 1's B migrates 1 -> 3, where device 2's B already holds its layers
			name: "shared layers pull nothing",
			tick: 1,
			want: Costs{Tick: 1, Migration: 0.9, ImagePull: 0, Communication: 400, CommunicationBeforeMove: 200},
		},
		{
			// device 1 moved to 3 (2 hops from its head); device 2's B pulls 3 units at bandwidth 2
			name: "movement and fresh layers",
			tick: 2,
			want: Costs{Tick: 2, Migration: 0.8, ImagePull: 1.5, Communication: 320, CommunicationBeforeMove: 420},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ev.Evaluate(tc.tick)
			require.NoError(t, err)
			assert.Equal(t, tc.want.Tick, got.Tick)
			testutil.AssertFloat64Equal(t, "migration", tc.want.Migration, got.Migration, 1e-9)
			testutil.AssertFloat64Equal(t, "image pull", tc.want.ImagePull, got.ImagePull, 1e-9)
			testutil.AssertFloat64Equal(t, "communication", tc.want.Communication, got.Communication, 1e-9)
			testutil.AssertFloat64Equal(t, "communication before move", tc.want.CommunicationBeforeMove, got.CommunicationBeforeMove, 1e-9)
		})
	}
}

func TestCommunicationCost_SameServerIsZero_TwoHopsIs200(t *testing.T) {
	// GIVEN a run where only device 2's chain spans servers 1 and 3 at tick 0
	cfg := lineConfig()
	cfg.Start.Devices = cfg.Start.Devices[:1]
	cfg.Start.Deployment = cfg.Start.Deployment[:2]
	cfg.Movement = sim.MovementPlan{}
	s, err := sim.NewSimulation(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), &scriptedPlanner{script: scripted{
		2: {Migrate: []sim.Placement{at(1, 2, 3)}},
	}}))
	ev := New(s)

	// WHEN the communication cost is read at tick 1 and tick 2
	same, err := ev.CommunicationCost(1)
	require.NoError(t, err)
	apart, err := ev.CommunicationCost(2)
	require.NoError(t, err)

	// THEN co-located costs 0 and two hops cost 2 x 100
	assert.Equal(t, 0.0, same)
	assert.Equal(t, 200.0, apart)
}

func TestEvaluate_RecordsCostsAndGauges(t *testing.T) {
	s, ev := runLine(t)

	_, err := ev.Evaluate(2)
	require.NoError(t, err)

	pull, err := snapshot.Lookup[float64](s.Snapshots(), 2, snapshot.CategoryEvaluate, KeyImagePullCost)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, pull, 1e-9)
	for _, key := range []string{KeyMigrationCost, KeyCommunicationCost, KeyCommunicationCostBeforeMove} {
		assert.Contains(t, s.Snapshots().Keys(2, snapshot.CategoryEvaluate), key)
	}
	assert.InDelta(t, 1.5, promtestutil.ToFloat64(lastCost.WithLabelValues(KeyImagePullCost)), 1e-9)
}

func TestEvaluate_WithoutPreviousTick_ReturnsSequenceError(t *testing.T) {
	s, ev := runLine(t)

	_, err := ev.Evaluate(0)
	assert.ErrorIs(t, err, sim.ErrSequence)
	_, err = ev.Evaluate(s.Tick() + 1)
	assert.ErrorIs(t, err, sim.ErrSequence)
}

func TestEvaluator_RidesAlongRun(t *testing.T) {
	s, err := sim.NewSimulation(lineConfig())
	require.NoError(t, err)
	ev := New(s)

	require.NoError(t, s.Run(context.Background(), &scriptedPlanner{script: lineScript}, ev))

	for _, tick := range []int64{1, 2} {
		v, err := snapshot.Lookup[float64](s.Snapshots(), tick, snapshot.CategoryEvaluate, KeyCommunicationCost)
		require.NoError(t, err)
		assert.Greater(t, v, 0.0)
	}
}

func TestEvaluate_UnplacedTuplesContributeNothing(t *testing.T) {
	// GIVEN device 2 requesting the chain with nothing deployed for it
	cfg := lineConfig()
	cfg.Start.Deployment = cfg.Start.Deployment[:2]
	s, err := sim.NewSimulation(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), &scriptedPlanner{}))

	// WHEN tick 1 is evaluated
	got, err := New(s).Evaluate(1)

	// THEN only device 1's co-located chain counts
	require.NoError(t, err)
	assert.Equal(t, Costs{Tick: 1}, got)
}

func TestCosts_Weighted(t *testing.T) {
	c := Costs{Migration: 1, ImagePull: 2, Communication: 3, CommunicationBeforeMove: 100}

	got := c.Weighted(Weights{Migration: 10, ImagePull: 1, Communication: 0.5})

	assert.Equal(t, 13.5, got)
}
