package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_Next_StopsAtEnd(t *testing.T) {
	c := NewClock(2, 4)

	assert.Equal(t, int64(2), c.Now())
	assert.True(t, c.Next())
	assert.True(t, c.Next())
	assert.True(t, c.Done())
	assert.False(t, c.Next())
	assert.Equal(t, int64(4), c.Now())
}

func TestClock_ZeroLengthRun_IsDoneImmediately(t *testing.T) {
	c := NewClock(3, 3)
	assert.True(t, c.Done())
	assert.False(t, c.Next())
}

func TestNewClock_EndBeforeStart_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "NewClock: end (1) must be >= start (2)", func() { NewClock(2, 1) })
}
