// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package log

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileOutputEmptyPathOmitsFileTag(t *testing.T) {
	assert.Equal(t, "", fileOutput(""))
}

func TestFileOutputWithPathEmitsFileTag(t *testing.T) {
	assert.Equal(t, `<file path="/var/log/hostwatch/agent.log" />`, fileOutput("/var/log/hostwatch/agent.log"))
}

func TestConfigureDefaultsLevelToInfo(t *testing.T) {
	require.NoError(t, Configure(Config{}))
}

func TestConfigureAcceptsFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	require.NoError(t, Configure(Config{Level: "debug", File: path}))
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	err := Configure(Config{Level: "not-a-real-level"})
	assert.Error(t, err)
}

func TestForTagsMessagesWithComponentName(t *testing.T) {
	l := For("sampler")
	assert.Equal(t, "[sampler] started", l.tag("started"))
}

func TestLoggerMethodsDoNotPanic(t *testing.T) {
	require.NoError(t, Configure(Config{Level: "debug"}))
	l := For("test")
	assert.NotPanics(t, func() {
		l.Debugf("debug %d", 1)
		l.Infof("info %s", "x")
		l.Warnf("warn")
		l.Errorf("error")
		l.Criticalf("critical")
		Flush()
	})
}
