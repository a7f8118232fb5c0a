package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysBetween(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"2025-03-10", "2025-03-10", 0},
		{"2025-03-09", "2025-03-10", 1},
		{"2025-02-27", "2025-03-01", 2},
		{"2024-12-31", "2025-01-01", 1},
		{"2025-03-12", "2025-03-10", -2},
	}
	for _, tc := range cases {
		got, err := daysBetween(tc.a, tc.b)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s -> %s", tc.a, tc.b)
	}

	_, err := daysBetween("yesterday", "2025-03-10")
	assert.Error(t, err)
}

func TestShiftDay(t *testing.T) {
	assert.Equal(t, "2025-03-03", shiftDay("2025-03-10", -7))
	assert.Equal(t, "2025-03-01", shiftDay("2025-02-28", 1))
	assert.Equal(t, "garbage", shiftDay("garbage", 1))
}

func TestMomentUsesEngineTimezone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)

	// 20:00 UTC on the 10th is already the 11th in Tokyo
	m := newMoment(time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC), tokyo)
	assert.Equal(t, "2025-03-11", m.day())

	from, to := m.dayBounds()
	assert.True(t, from.Equal(time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)), "from = %s", from)
	assert.True(t, to.Equal(time.Date(2025, 3, 11, 15, 0, 0, 0, time.UTC)), "to = %s", to)

	inside := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	outside := time.Date(2025, 3, 11, 15, 0, 0, 0, time.UTC)
	assert.True(t, within(&inside, from, to))
	assert.False(t, within(&outside, from, to))
	assert.False(t, within(nil, from, to))
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	locks := NewKeyedMutex()

	var wg sync.WaitGroup
	counter := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("user-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Zero(t, locks.size(), "idle keys are dropped")

	// different keys do not block each other
	unlockA := locks.Lock("a")
	unlockB := locks.Lock("b")
	assert.Equal(t, 2, locks.size())
	unlockA()
	unlockB()
	assert.Zero(t, locks.size())
}
