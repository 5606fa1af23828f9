package fakeclock_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-social-connect/internal/clock/fakeclock"
	"github.com/stretchr/testify/require"
)

func TestClock_FiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := fakeclock.New(start)

	var order []string
	c.AfterFunc(2*time.Minute, func() { order = append(order, "b") })
	c.AfterFunc(time.Minute, func() { order = append(order, "a") })
	stopped := c.AfterFunc(90*time.Second, func() { order = append(order, "stopped") })
	require.True(t, stopped.Stop())
	require.False(t, stopped.Stop())

	next, ok := c.NextDeadline()
	require.True(t, ok)
	require.Equal(t, start.Add(time.Minute), next)

	c.Advance(90 * time.Second)
	require.Equal(t, []string{"a"}, order)
	c.Advance(time.Minute)
	require.Equal(t, []string{"a", "b"}, order)
	require.Zero(t, c.Pending())
}

func TestClock_DueTimerWaitsForAdvance(t *testing.T) {
	c := fakeclock.New(time.Now())
	fired := false
	c.AfterFunc(-time.Second, func() { fired = true })
	require.False(t, fired)
	c.Advance(0)
	require.True(t, fired)
}

func TestClock_SleepRecords(t *testing.T) {
	c := fakeclock.New(time.Now())
	require.NoError(t, c.Sleep(context.Background(), time.Second))
	require.Equal(t, []time.Duration{time.Second}, c.Sleeps())
}
