// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package sampler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwatch/agent/internal/model"
)

type fakeSpool struct {
	mu    sync.Mutex
	snaps []model.MetricSnapshot
}

func (f *fakeSpool) Enqueue(snap model.MetricSnapshot) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return uint64(len(f.snaps)), nil
}

func (f *fakeSpool) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snaps)
}

type fakeLive struct {
	mu          sync.Mutex
	broadcasts  int
	subscribers bool
}

func (f *fakeLive) Broadcast(snap model.MetricSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts++
}

func (f *fakeLive) HasSubscribers() bool { return f.subscribers }

type fakeAlerts struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeAlerts) Evaluate(key string, value float64, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
}

func TestSampleOnceProducesHostIDAndTimestamp(t *testing.T) {
	sp := &fakeSpool{}
	s := New("host-1", time.Hour, 0, false, 3, sp, &fakeLive{}, &fakeAlerts{})

	snap, err := s.sampleOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "host-1", snap.HostID)
	assert.False(t, snap.Timestamp.IsZero())
	assert.GreaterOrEqual(t, snap.Process.Count, 1)
}

func TestDispatchEnqueuesAndEvaluatesAlerts(t *testing.T) {
	sp := &fakeSpool{}
	alerts := &fakeAlerts{}
	s := New("host-1", time.Hour, 0, false, 3, sp, &fakeLive{}, alerts)

	snap, err := s.sampleOnce(context.Background())
	require.NoError(t, err)
	s.dispatch(snap)

	assert.Eventually(t, func() bool {
		alerts.mu.Lock()
		defer alerts.mu.Unlock()
		return len(alerts.calls) == 3
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, sp.count())
}

func TestDispatchSkipsBroadcastWithoutSubscribers(t *testing.T) {
	sp := &fakeSpool{}
	live := &fakeLive{subscribers: false}
	s := New("host-1", time.Hour, 0, false, 1, sp, live, &fakeAlerts{})

	snap, err := s.sampleOnce(context.Background())
	require.NoError(t, err)
	s.dispatch(snap)

	time.Sleep(50 * time.Millisecond)
	live.mu.Lock()
	defer live.mu.Unlock()
	assert.Equal(t, 0, live.broadcasts)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	sp := &fakeSpool{}
	s := New("host-1", 10*time.Millisecond, 0, false, 1, sp, &fakeLive{}, &fakeAlerts{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return sp.count() > 0 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestMibPerSecHandlesCounterReset(t *testing.T) {
	assert.Zero(t, mibPerSec(10, 100, 1))
}

func TestMaxDiskPercentReturnsNegativeOneWhenEmpty(t *testing.T) {
	assert.Equal(t, -1.0, maxDiskPercent(nil))
}
