package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailySpec(t *testing.T) {
	spec, err := dailySpec("00:05")
	require.NoError(t, err)
	assert.Equal(t, "0 5 0 * * *", spec)

	spec, err = dailySpec(" 23:59 ")
	require.NoError(t, err)
	assert.Equal(t, "0 59 23 * * *", spec)

	for _, bad := range []string{"", "7", "24:00", "12:60", "ab:10", "1:2:3"} {
		_, err := dailySpec(bad)
		assert.Error(t, err, bad)
	}
}

func TestScheduleRegistersJobs(t *testing.T) {
	s := New(nil)

	_, err := s.ScheduleDaily("generate", "00:05", func() {})
	require.NoError(t, err)
	_, err = s.ScheduleInterval("recompute", 15*time.Minute, func() {})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Entries())

	_, err = s.ScheduleInterval("too-fast", 10*time.Millisecond, func() {})
	assert.Error(t, err)
	_, err = s.ScheduleDaily("broken", "noon", func() {})
	assert.Error(t, err)
	assert.Equal(t, 2, s.Entries())
}

func TestIntervalJobRuns(t *testing.T) {
	s := New(time.UTC)

	ran := make(chan struct{}, 1)
	_, err := s.ScheduleInterval("tick", time.Second, func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("interval job did not run")
	}
}

func TestWrapRecoversPanics(t *testing.T) {
	s := New(time.UTC)
	assert.NotPanics(t, s.wrap("bad", func() { panic("boom") }))
}
