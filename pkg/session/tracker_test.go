//
//  Copyright © Manetu Inc. All rights reserved.
//

package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTouch(t *testing.T) {
	tr := NewTracker()
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }

	s := tr.Touch("172.28.1.5", "172.28.2.40")
	assert.Equal(t, int64(1), s.RequestCount)
	assert.Equal(t, clock, s.FirstSeen)
	assert.Equal(t, clock, s.LastSeen)
	assert.Equal(t, "172.28.1.5:172.28.2.40", s.Key.String())

	clock = clock.Add(time.Minute)
	s = tr.Touch("172.28.1.5", "172.28.2.40")
	assert.Equal(t, int64(2), s.RequestCount)
	assert.Equal(t, clock.Add(-time.Minute), s.FirstSeen)
	assert.Equal(t, clock, s.LastSeen)

	tr.Touch("172.28.1.5", "172.28.2.41")
	assert.Equal(t, 2, tr.Count())

	got, ok := tr.Get("172.28.1.5", "172.28.2.40")
	require.True(t, ok)
	assert.Equal(t, s, got)

	_, ok = tr.Get("10.0.0.1", "10.0.0.2")
	assert.False(t, ok)
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := NewTracker()
	s := tr.Touch("a", "b")
	s.RequestCount = 99

	list := tr.List()
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].RequestCount)
}

func TestConcurrentTouches(t *testing.T) {
	tr := NewTracker()

	const workers = 16
	const perWorker = 250

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tr.Touch("10.0.0.1", "10.0.0.2")
				tr.Touch(fmt.Sprintf("10.1.0.%d", w), "10.0.0.2")
				_ = tr.List()
				_ = tr.Count()
			}
		}(w)
	}
	wg.Wait()

	s, ok := tr.Get("10.0.0.1", "10.0.0.2")
	require.True(t, ok)
	assert.Equal(t, int64(workers*perWorker), s.RequestCount)
	assert.Equal(t, workers+1, tr.Count())

	var total int64
	for _, s := range tr.List() {
		assert.False(t, s.LastSeen.Before(s.FirstSeen))
		total += s.RequestCount
	}
	assert.Equal(t, int64(2*workers*perWorker), total)
}

func TestLastSeenNeverMovesBackwards(t *testing.T) {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	readings := []time.Duration{time.Second, 2 * time.Second, time.Second}

	tr := NewTracker()
	var i int
	tr.now = func() time.Time {
		d := readings[i%len(readings)]
		i++
		return base.Add(d)
	}

	for range readings {
		tr.Touch("172.28.1.5", "172.28.2.40")
	}

	s, ok := tr.Get("172.28.1.5", "172.28.2.40")
	require.True(t, ok)
	assert.Equal(t, int64(3), s.RequestCount)
	assert.Equal(t, base.Add(time.Second), s.FirstSeen)
	assert.Equal(t, base.Add(2*time.Second), s.LastSeen)
}

func TestConcurrentTouchesSeeClockInOrder(t *testing.T) {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	tr := NewTracker()
	var ticks atomic.Int64
	tr.now = func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Millisecond)
	}

	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tr.Touch("10.0.0.1", "10.0.0.2")
			}
		}()
	}
	wg.Wait()

	s, ok := tr.Get("10.0.0.1", "10.0.0.2")
	require.True(t, ok)
	assert.Equal(t, int64(workers*perWorker), s.RequestCount)
	assert.Equal(t, base.Add(time.Millisecond), s.FirstSeen)
	assert.Equal(t, base.Add(time.Duration(ticks.Load())*time.Millisecond), s.LastSeen)
}
