package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockSnapshotStableBetweenUpdates(t *testing.T) {
	c := NewClock()
	sec1, usec1 := c.Now()
	time.Sleep(5 * time.Millisecond)
	sec2, usec2 := c.Now()
	require.Equal(t, sec1, sec2)
	require.Equal(t, usec1, usec2)
}

func TestClockUpdateAdvances(t *testing.T) {
	c := NewClock()
	before := c.Time()
	time.Sleep(2 * time.Millisecond)
	c.update()
	after := c.Time()
	require.True(t, after.After(before) || after.Equal(before))
}
