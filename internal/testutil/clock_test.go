package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_StartsAtEpoch(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, Epoch, clock.Current())
}

func TestDeterministicClock_NowAdvancesByStep(t *testing.T) {
	clock := NewDeterministicClock()

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), clock.Current())
}

func TestDeterministicClock_Advance(t *testing.T) {
	clock := NewDeterministicClockAt(Epoch, time.Millisecond)

	clock.Advance(time.Hour)
	assert.Equal(t, Epoch.Add(time.Hour), clock.Now())
	assert.Equal(t, Epoch.Add(time.Hour+time.Millisecond), clock.Current())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock()
	const numGoroutines = 50
	const callsPerGoroutine = 20

	seen := make(chan time.Time, numGoroutines*callsPerGoroutine)
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				seen <- clock.Now()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[time.Time]bool)
	for ts := range seen {
		assert.False(t, unique[ts], "duplicate timestamp %v", ts)
		unique[ts] = true
	}
	assert.Len(t, unique, numGoroutines*callsPerGoroutine)
}
