// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package nodeid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveGeneratesAndPersistsOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	id, persistent, err := Resolve(dir)
	require.NoError(t, err)
	assert.True(t, persistent)
	assert.NotEmpty(t, id)

	b, err := os.ReadFile(filepath.Join(dir, fileName))
	require.NoError(t, err)
	assert.Equal(t, id, string(b))
}

func TestResolveReusesPersistedID(t *testing.T) {
	dir := t.TempDir()

	first, _, err := Resolve(dir)
	require.NoError(t, err)

	second, persistent, err := Resolve(dir)
	require.NoError(t, err)
	assert.True(t, persistent)
	assert.Equal(t, first, second)
}

func TestResolveFallsBackToIPWhenDataDirUnwritable(t *testing.T) {
	parent := t.TempDir()
	blocked := filepath.Join(parent, "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("not a directory"), 0o644))

	dataDir := filepath.Join(blocked, "nested")
	id, persistent, err := Resolve(dataDir)
	if err != nil {
		assert.False(t, persistent)
		return
	}
	assert.False(t, persistent)
	assert.NotEmpty(t, id)
}

func TestIPDerivedIDReplacesDotsWithDashes(t *testing.T) {
	id, err := ipDerivedID()
	if err != nil {
		t.Skipf("no non-loopback IPv4 address available in this environment: %v", err)
	}
	assert.Contains(t, id, "ip-")
	assert.NotContains(t, id, ".")
}
