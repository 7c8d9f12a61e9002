// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package spool

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwatch/agent/internal/model"
)

func openTestSpool(t *testing.T, maxSize int) *Spool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spool.db")
	sp, err := Open(path, maxSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sp.Close() })
	return sp
}

func snapshotAt(ts time.Time) model.MetricSnapshot {
	return model.MetricSnapshot{Timestamp: ts, HostID: "host-1"}
}

func TestEnqueueDequeueOrdersByTimestamp(t *testing.T) {
	sp := openTestSpool(t, 100)

	base := time.Now().UTC()
	_, err := sp.Enqueue(snapshotAt(base.Add(2 * time.Second)))
	require.NoError(t, err)
	_, err = sp.Enqueue(snapshotAt(base))
	require.NoError(t, err)
	_, err = sp.Enqueue(snapshotAt(base.Add(time.Second)))
	require.NoError(t, err)

	entries, err := sp.Dequeue(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Timestamp.Equal(base))
	assert.True(t, entries[1].Timestamp.Equal(base.Add(time.Second)))
	assert.True(t, entries[2].Timestamp.Equal(base.Add(2 * time.Second)))
}

func TestEnqueueEvictsOldestAtCapacity(t *testing.T) {
	sp := openTestSpool(t, 2)

	base := time.Now().UTC()
	_, err := sp.Enqueue(snapshotAt(base))
	require.NoError(t, err)
	_, err = sp.Enqueue(snapshotAt(base.Add(time.Second)))
	require.NoError(t, err)
	_, err = sp.Enqueue(snapshotAt(base.Add(2 * time.Second)))
	require.NoError(t, err)

	assert.Equal(t, 2, sp.Size())
	entries, err := sp.Dequeue(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Timestamp.Equal(base.Add(time.Second)), "oldest entry should have been evicted")
}

func TestMarkSentRemovesEntry(t *testing.T) {
	sp := openTestSpool(t, 100)
	id, err := sp.Enqueue(snapshotAt(time.Now().UTC()))
	require.NoError(t, err)

	require.NoError(t, sp.MarkSent(id))
	assert.Equal(t, 0, sp.Size())
}

func TestMarkFailedEvictsAfterMaxRetries(t *testing.T) {
	sp := openTestSpool(t, 100)
	id, err := sp.Enqueue(snapshotAt(time.Now().UTC()))
	require.NoError(t, err)

	stillQueued, err := sp.MarkFailed(id, 2)
	require.NoError(t, err)
	assert.True(t, stillQueued)

	stillQueued, err = sp.MarkFailed(id, 2)
	require.NoError(t, err)
	assert.False(t, stillQueued)
	assert.Equal(t, 0, sp.Size())
}

func TestStatsReportsTotalsByRetryCount(t *testing.T) {
	sp := openTestSpool(t, 100)
	base := time.Now().UTC()
	id1, err := sp.Enqueue(snapshotAt(base))
	require.NoError(t, err)
	_, err = sp.Enqueue(snapshotAt(base.Add(time.Second)))
	require.NoError(t, err)

	_, err = sp.MarkFailed(id1, 5)
	require.NoError(t, err)

	stats := sp.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByRetryCount[0])
	assert.Equal(t, 1, stats.ByRetryCount[1])
	assert.True(t, stats.OldestTimestamp.Equal(base))
}
