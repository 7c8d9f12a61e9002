// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package suppression

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwatch/agent/internal/model"
)

type fakeStore struct {
	mu      sync.Mutex
	rules   []*model.SuppressionRule
	written []MatchUpdate
	loads   int
}

func (f *fakeStore) LoadRules(ctx context.Context) ([]*model.SuppressionRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.rules, nil
}

func (f *fakeStore) WriteBack(ctx context.Context, updates []MatchUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, updates...)
	return nil
}

func TestShouldSuppressMatchesEnabledRule(t *testing.T) {
	store := &fakeStore{rules: []*model.SuppressionRule{
		{ID: "r1", MatchText: "known flaky timeout", Enabled: true},
	}}
	c := New(store, time.Minute)

	suppressed, rule := c.ShouldSuppress(context.Background(), "2026-07-31 known flaky timeout on retry", "host-1")
	assert.True(t, suppressed)
	require.NotNil(t, rule)
	assert.Equal(t, "r1", rule.ID)
}

func TestShouldSuppressRespectsHostFilter(t *testing.T) {
	store := &fakeStore{rules: []*model.SuppressionRule{
		{ID: "r1", MatchText: "noisy", Enabled: true, HostFilter: "host-2"},
	}}
	c := New(store, time.Minute)

	suppressed, _ := c.ShouldSuppress(context.Background(), "noisy line", "host-1")
	assert.False(t, suppressed, "rule scoped to host-2 should not suppress on host-1")

	suppressed, _ = c.ShouldSuppress(context.Background(), "noisy line", "host-2")
	assert.True(t, suppressed)
}

func TestShouldSuppressIgnoresDisabledRule(t *testing.T) {
	store := &fakeStore{rules: []*model.SuppressionRule{
		{ID: "r1", MatchText: "known issue", Enabled: false},
	}}
	c := New(store, time.Minute)

	suppressed, _ := c.ShouldSuppress(context.Background(), "known issue occurred", "host-1")
	assert.False(t, suppressed)
}

func TestShouldSuppressRefreshesOnceWithinTTL(t *testing.T) {
	store := &fakeStore{rules: []*model.SuppressionRule{{ID: "r1", MatchText: "x", Enabled: true}}}
	c := New(store, time.Hour)

	c.ShouldSuppress(context.Background(), "x", "host-1")
	c.ShouldSuppress(context.Background(), "x", "host-1")
	c.ShouldSuppress(context.Background(), "x", "host-1")

	store.mu.Lock()
	loads := store.loads
	store.mu.Unlock()
	assert.Equal(t, 1, loads, "rules should only be reloaded once the TTL elapses")
}

func TestStatsReportsRuleCountAndMatches(t *testing.T) {
	store := &fakeStore{rules: []*model.SuppressionRule{
		{ID: "r1", MatchText: "boom", Enabled: true},
	}}
	c := New(store, time.Minute)

	ruleCount, _, totalMatches := c.Stats()
	assert.Equal(t, 0, ruleCount, "no refresh has happened yet")
	assert.EqualValues(t, 0, totalMatches)

	c.ShouldSuppress(context.Background(), "boom detected", "host-1")
	c.ShouldSuppress(context.Background(), "boom again", "host-1")

	ruleCount, lastRefresh, totalMatches := c.Stats()
	assert.Equal(t, 1, ruleCount)
	assert.False(t, lastRefresh.IsZero())
	assert.EqualValues(t, 2, totalMatches)
}

func TestFlushWriteBackTickSendsPendingMatches(t *testing.T) {
	store := &fakeStore{rules: []*model.SuppressionRule{{ID: "r1", MatchText: "x", Enabled: true}}}
	c := New(store, time.Hour)

	c.ShouldSuppress(context.Background(), "x", "host-1")
	c.FlushWriteBackTick(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.written, 1)
	assert.Equal(t, "r1", store.written[0].RuleID)
	assert.EqualValues(t, 1, store.written[0].Increment)
}
