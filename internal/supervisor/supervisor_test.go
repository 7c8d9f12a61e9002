// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwatch/agent/internal/model"
)

func TestNewResolvesNodeIDAndApplicationDefaults(t *testing.T) {
	s, err := New(Options{DataDir: t.TempDir()})
	require.NoError(t, err)

	assert.NotEmpty(t, s.NodeID())
	assert.Equal(t, "hostwatch-agent", s.application)
	assert.False(t, s.StartedAt().IsZero())
	assert.Empty(t, s.MonitoredFiles())
}

func TestSuppressionStatsZeroValueWithoutCache(t *testing.T) {
	s, err := New(Options{DataDir: t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, 0, s.SuppressionStats().RuleCount)
}

func TestMonitoredFilesReflectsFileSpecsMap(t *testing.T) {
	s, err := New(Options{DataDir: t.TempDir()})
	require.NoError(t, err)

	s.mu.Lock()
	s.fileSpecs["file-1"] = model.FileSpec{ID: "file-1", Path: "/var/log/app.log", Priority: model.PriorityHigh, Enabled: true}
	s.mu.Unlock()

	views := s.MonitoredFiles()
	require.Len(t, views, 1)
	assert.Equal(t, "/var/log/app.log", views[0].Path)
}

func TestEnabledTailerCountCountsOnlyEnabled(t *testing.T) {
	s, err := New(Options{DataDir: t.TempDir()})
	require.NoError(t, err)

	s.fileSpecs["a"] = model.FileSpec{ID: "a", Enabled: true}
	s.fileSpecs["b"] = model.FileSpec{ID: "b", Enabled: false}
	s.fileSpecs["c"] = model.FileSpec{ID: "c", Enabled: true}

	assert.Equal(t, 2, s.enabledTailerCount())
}

func TestParseAlertRulesDecodesKnownFields(t *testing.T) {
	raw := map[string]any{
		"cpu_critical": map[string]any{
			"threshold":           95.0,
			"duration_seconds":    60,
			"cooldown_seconds":    300,
			"priority":            "critical",
			"message_template":    "CPU at {{.Value}}%",
			"recommended_action":  "scale up",
		},
	}

	rules := parseAlertRules(raw)
	require.Contains(t, rules, "cpu_critical")
	r := rules["cpu_critical"]
	assert.Equal(t, "cpu_critical", r.Key)
	assert.Equal(t, 95.0, r.Threshold)
	assert.Equal(t, 60*time.Second, r.RequiredDuration)
	assert.Equal(t, 300*time.Second, r.Cooldown)
	assert.Equal(t, model.PriorityCritical, r.Priority)
}

func TestParseAlertRulesSkipsNonMapEntries(t *testing.T) {
	raw := map[string]any{"broken": "not a map"}
	assert.Empty(t, parseAlertRules(raw))
}

func TestAsFloatAsIntAsStringCoercions(t *testing.T) {
	assert.Equal(t, 1.5, asFloat(1.5))
	assert.Equal(t, float64(2), asFloat(2))
	assert.Zero(t, asFloat("nope"))

	assert.Equal(t, 4, asInt(4))
	assert.Equal(t, 4, asInt(4.9))
	assert.Zero(t, asInt(nil))

	assert.Equal(t, "hi", asString("hi"))
	assert.Empty(t, asString(42))
}

func TestParseFileSpecsAnyGeneratesIDWhenMissing(t *testing.T) {
	raw := []any{
		map[string]any{"path": "/var/log/app.log", "priority": "high"},
	}
	specs := parseFileSpecsAny(raw)
	require.Len(t, specs, 1)
	assert.NotEmpty(t, specs[0].ID)
	assert.Equal(t, "/var/log/app.log", specs[0].Path)
	assert.True(t, specs[0].Enabled, "enabled defaults true when the key is absent")
}

func TestParseFileSpecsAnyHonoursExplicitDisabled(t *testing.T) {
	raw := []any{
		map[string]any{"id": "custom-id", "path": "/var/log/app.log", "enabled": false},
	}
	specs := parseFileSpecsAny(raw)
	require.Len(t, specs, 1)
	assert.Equal(t, "custom-id", specs[0].ID)
	assert.False(t, specs[0].Enabled)
}

func TestParseFileSpecsAnyReturnsNilForWrongShape(t *testing.T) {
	assert.Nil(t, parseFileSpecsAny("not a list"))
}

func TestRunFailsFastWhenEnabledFileSpecsExceedMaxTailers(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "hostwatch.yaml")
	yaml := fmt.Sprintf(`
spool:
  path: %s
tailer:
  max_tailers: 1
monitored_files:
  - path: /tmp/a.log
    enabled: true
  - path: /tmp/b.log
    enabled: true
`, filepath.Join(dir, "spool.db"))
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o644))

	s, err := New(Options{ConfigPath: configPath, DataDir: dir})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := s.Run(ctx)
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "tailer.max_tailers")
	assert.Empty(t, s.MonitoredFiles(), "a rejected startup config must not leave any file spec registered")
}
