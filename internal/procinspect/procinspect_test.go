// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package procinspect

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsCurrentProcess(t *testing.T) {
	i := New()
	v, found, err := i.Get(int32(os.Getpid()))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int32(os.Getpid()), v.PID)
}

func TestGetUnknownPIDNotFound(t *testing.T) {
	i := New()
	_, found, err := i.Get(1 << 30)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListRespectsLimit(t *testing.T) {
	i := New()
	views, err := i.List(1, "cpu")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(views), 1)
}

func TestHistoryAccumulatesSamplesAcrossGetCalls(t *testing.T) {
	i := New()
	pid := int32(os.Getpid())

	for n := 0; n < 3; n++ {
		_, _, err := i.Get(pid)
		require.NoError(t, err)
	}

	samples, _, _, _, err := i.History(pid, 1)
	require.NoError(t, err)
	assert.Len(t, samples, 3)
}

func TestHistoryExcludesSamplesOutsideWindow(t *testing.T) {
	i := New()
	pid := int32(12345)
	i.record(pid, View{PID: pid, CPUPercent: 10})
	i.history[pid][0].Timestamp = time.Now().Add(-2 * time.Hour)

	samples, avgCPU, maxCPU, avgMem, err := i.History(pid, 1)
	require.NoError(t, err)
	assert.Empty(t, samples)
	assert.Zero(t, avgCPU)
	assert.Zero(t, maxCPU)
	assert.Zero(t, avgMem)
}

func TestTreeFindsParentAndChildren(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	i := New()
	self, parent, _, err := i.Tree(int32(cmd.Process.Pid))
	require.NoError(t, err)
	assert.Equal(t, int32(cmd.Process.Pid), self.PID)
	if parent != nil {
		assert.Equal(t, int32(os.Getpid()), parent.PID)
	}

	_, _, children, err := i.Tree(int32(os.Getpid()))
	require.NoError(t, err)
	var childPIDs []int32
	for _, c := range children {
		childPIDs = append(childPIDs, c.PID)
	}
	assert.Contains(t, childPIDs, int32(cmd.Process.Pid))
}

func TestKillTerminatesProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())

	i := New()
	require.NoError(t, i.Kill(int32(cmd.Process.Pid), true))

	_ = cmd.Wait()
}
