package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := OpenArchive("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArchive_SaveLoadRoundTrip(t *testing.T) {
	// GIVEN a store with rows across ticks and categories
	s := NewStore()
	require.NoError(t, s.Put(0, CategoryState, "server_left_storage", map[int]float64{1: 12.5}))
	require.NoError(t, s.Put(12, CategoryEvaluate, "migration_cost", 3.0))
	require.NoError(t, s.Put(2, CategoryAction, "deploy", []string{"a"}))

	a := openTestArchive(t)
	run := NewRunID()

	// WHEN the store is archived and loaded back
	n, err := a.Save(run, s)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	rows, err := a.Load(run)
	require.NoError(t, err)

	// THEN rows come back in tick order with decodable values
	require.Len(t, rows, 3)
	assert.Equal(t, int64(0), rows[0].Tick)
	assert.Equal(t, int64(2), rows[1].Tick)
	assert.Equal(t, int64(12), rows[2].Tick)

	var left map[int]float64
	require.NoError(t, rows[0].Decode(&left))
	assert.Equal(t, map[int]float64{1: 12.5}, left)

	var cost float64
	require.NoError(t, rows[2].Decode(&cost))
	assert.Equal(t, 3.0, cost)
	assert.Equal(t, CategoryEvaluate, rows[2].Category)
	assert.Equal(t, "migration_cost", rows[2].Key)
}

func TestArchive_RunsAreIsolated(t *testing.T) {
	a := openTestArchive(t)
	s1 := NewStore()
	require.NoError(t, s1.Put(0, CategoryState, "a", 1))
	s2 := NewStore()
	require.NoError(t, s2.Put(0, CategoryState, "b", 2))
	require.NoError(t, s2.Put(1, CategoryState, "b", 3))

	r1, r2 := NewRunID(), NewRunID()
	_, err := a.Save(r1, s1)
	require.NoError(t, err)
	_, err = a.Save(r2, s2)
	require.NoError(t, err)

	rows, err := a.Load(r1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	runs, err := a.Runs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{r1, r2}, runs)
}

func TestArchive_UnknownRun(t *testing.T) {
	a := openTestArchive(t)
	_, err := a.Load(NewRunID())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestArchive_RejectsInvalidRunID(t *testing.T) {
	a := openTestArchive(t)
	_, err := a.Save("not/a/uuid", NewStore())
	assert.Error(t, err)
}
