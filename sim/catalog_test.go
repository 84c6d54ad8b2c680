package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Application_Graph(t *testing.T) {
	c := newTestCatalog(t)

	app, err := c.Application(1)
	require.NoError(t, err)

	assert.Equal(t, MicroserviceID(1), app.Head())
	assert.Equal(t, []MicroserviceID{2}, app.Next(1))
	assert.Empty(t, app.Next(2))
	assert.Equal(t, 10.0, app.Volume(1, 2))
	assert.Equal(t, 0.0, app.Volume(2, 1))
	assert.True(t, app.Contains(2))
	assert.False(t, app.Contains(3))
	assert.Equal(t, 5.0, app.SourceVolume)
}

func TestMessageSpec_Volume(t *testing.T) {
	assert.Equal(t, 10.0, MessageSpec{Data: 10}.Volume())
	assert.Equal(t, 25.0, MessageSpec{Data: 10, Frequency: 2.5}.Volume())
}

func TestNewCatalog_RejectsMalformedApplications(t *testing.T) {
	tests := []struct {
		name string
		app  ApplicationSpec
	}{
		{"empty", ApplicationSpec{ID: 9}},
		{"unknown microservice", ApplicationSpec{ID: 9, Microservices: []MicroserviceID{1, 99}}},
		{"listed twice", ApplicationSpec{ID: 9, Microservices: []MicroserviceID{1, 1}}},
		{"two heads", ApplicationSpec{ID: 9, Microservices: []MicroserviceID{1, 2}}},
		{"self loop", ApplicationSpec{ID: 9, Microservices: []MicroserviceID{1},
			Messages: []MessageSpec{{Sender: 1, Receiver: 1}}}},
		{"endpoint outside", ApplicationSpec{ID: 9, Microservices: []MicroserviceID{1},
			Messages: []MessageSpec{{Sender: 1, Receiver: 3}}}},
		{"cycle", ApplicationSpec{ID: 9, Microservices: []MicroserviceID{1, 2, 3},
			Messages: []MessageSpec{{Sender: 1, Receiver: 2}, {Sender: 2, Receiver: 3}, {Sender: 3, Receiver: 2}}}},
		{"duplicate message", ApplicationSpec{ID: 9, Microservices: []MicroserviceID{1, 2},
			Messages: []MessageSpec{{Sender: 1, Receiver: 2}, {Sender: 1, Receiver: 2}}}},
		{"negative data", ApplicationSpec{ID: 9, Microservices: []MicroserviceID{1, 2},
			Messages: []MessageSpec{{Sender: 1, Receiver: 2, Data: -1}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCatalog(testMicroservices(), []ApplicationSpec{tc.app}, nil)
			assert.Error(t, err)
		})
	}
}

func TestNewCatalog_AcceptsTree(t *testing.T) {
	// GIVEN a head fanning out to two receivers
	app := ApplicationSpec{ID: 9, Microservices: []MicroserviceID{1, 2, 3}, Messages: []MessageSpec{
		{Sender: 1, Receiver: 2, Data: 1, Frequency: 2},
		{Sender: 1, Receiver: 3, Data: 3},
	}}

	c, err := NewCatalog(testMicroservices(), []ApplicationSpec{app}, nil)

	require.NoError(t, err)
	got, _ := c.Application(9)
	assert.Equal(t, []MicroserviceID{2, 3}, got.Next(1))
	assert.Equal(t, 2.0, got.Volume(1, 2))
}

func TestNewCatalog_RejectsDuplicatesAndNegatives(t *testing.T) {
	mss := append(testMicroservices(), MicroserviceSpec{ID: 1})
	_, err := NewCatalog(mss, nil, nil)
	assert.Error(t, err)

	_, err = NewCatalog([]MicroserviceSpec{{ID: 1, CPU: -1}}, nil, nil)
	assert.Error(t, err)

	_, err = NewCatalog([]MicroserviceSpec{{ID: 1, Layers: map[string]float64{"a": -1}}}, nil, nil)
	assert.Error(t, err)

	_, err = NewCatalog(testMicroservices(), nil, []MigrationCostEntry{{Microservice: 99, Server: 1}})
	assert.Error(t, err)
}

func TestCatalog_MigrationCost(t *testing.T) {
	c := newTestCatalog(t)

	cost, err := c.MigrationCost(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cost)

	_, err = c.MigrationCost(1, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCatalog_Instantiate(t *testing.T) {
	c := newTestCatalog(t)

	inst, err := c.Instantiate(1, 7)

	require.NoError(t, err)
	assert.Equal(t, []Tuple{tup(7, 1, 1), tup(7, 1, 2)}, inst.Tuples())
	ms, err := inst.Microservice(2)
	require.NoError(t, err)
	assert.Equal(t, "infer", ms.Name)
	assert.Equal(t, 3.0, ms.CPU)
	assert.Equal(t, []string{"base", "infer"}, ms.LayerNames())
	_, err = inst.Microservice(3)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Instantiate(99, 7)
	assert.ErrorIs(t, err, ErrNotFound)
}
