package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchedulerFIFOAtSameTimestamp(t *testing.T) {
	clock := NewClock()
	sec, _ := clock.Now()
	s := NewScheduler(clock)

	var order []int
	s.At(sec, func() { order = append(order, 1) })
	s.At(sec, func() { order = append(order, 2) })
	s.At(sec, func() { order = append(order, 3) })

	delay := s.run()
	require.Equal(t, int64(0), delay)
	require.Equal(t, []int{1, 2, 3}, order)
	require.True(t, s.Empty())
}

func TestSchedulerCancelBeforeFire(t *testing.T) {
	clock := NewClock()
	sec, _ := clock.Now()
	s := NewScheduler(clock)

	fired := map[string]bool{}
	idA := s.At(sec, func() { fired["a"] = true })
	s.At(sec, func() { fired["b"] = true })

	ok := s.Cancel(idA)
	require.True(t, ok)

	s.run()
	require.False(t, fired["a"])
	require.True(t, fired["b"])
}

func TestSchedulerCancelStaleIDIsCheap(t *testing.T) {
	clock := NewClock()
	sec, _ := clock.Now()
	s := NewScheduler(clock)

	id := s.At(sec, func() {})
	s.run()
	require.False(t, s.Cancel(id)) // already fired
	require.False(t, s.Cancel(TaskID{}))
}

func TestSchedulerMonotonicity(t *testing.T) {
	clock := NewClock()
	sec, _ := clock.Now()
	s := NewScheduler(clock)
	s.At(sec+5, func() {})

	d1 := s.run()
	d2 := s.run()
	require.Equal(t, d1, d2)
}

func TestTimeoutScopeCancelsOnClose(t *testing.T) {
	clock := NewClock()
	sec, _ := clock.Now()
	s := NewScheduler(clock)

	fired := false
	to := NewTimeout(s)
	to.At(sec, func() { fired = true })
	require.True(t, to.Active())
	to.Close()
	require.False(t, to.Active())

	s.run()
	require.False(t, fired)
}

func TestTimeoutRescheduleCancelsPrior(t *testing.T) {
	clock := NewClock()
	sec, _ := clock.Now()
	s := NewScheduler(clock)

	firstFired, secondFired := false, false
	to := NewTimeout(s)
	to.At(sec, func() { firstFired = true })
	to.At(sec, func() { secondFired = true })

	s.run()
	require.False(t, firstFired)
	require.True(t, secondFired)
}

func TestTimeoutSwap(t *testing.T) {
	clock := NewClock()
	sec, _ := clock.Now()
	s := NewScheduler(clock)

	a := NewTimeout(s)
	b := NewTimeout(s)
	a.At(sec, func() {})
	require.True(t, a.Active())
	require.False(t, b.Active())

	a.Swap(b)
	require.False(t, a.Active())
	require.True(t, b.Active())
}
