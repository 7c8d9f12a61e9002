// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwatch/agent/internal/model"
)

func newCapturingServer(t *testing.T, tickets *[]model.AlertTicket, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ticket model.AlertTicket
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ticket))
		mu.Lock()
		*tickets = append(*tickets, ticket)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEvaluateRequiresSustainedBreach(t *testing.T) {
	var tickets []model.AlertTicket
	var mu sync.Mutex
	srv := newCapturingServer(t, &tickets, &mu)

	rules := map[string]model.AlertRule{
		"cpu": {
			Key:              "cpu",
			Threshold:        90,
			RequiredDuration: 30 * time.Second,
			Cooldown:         time.Minute,
			Priority:         model.PriorityHigh,
			MessageTemplate:  "{{.Host}} cpu at {{.Value}} for {{.Duration}}",
		},
	}
	e := New(rules, "host-1", "hostwatch-agent", srv.URL, "", 5*time.Second)

	now := time.Now().UTC()
	e.Evaluate("cpu", 95, now)
	mu.Lock()
	assert.Empty(t, tickets, "first breach reading should only start the timer")
	mu.Unlock()

	e.Evaluate("cpu", 95, now.Add(10*time.Second))
	mu.Lock()
	assert.Empty(t, tickets, "breach duration hasn't reached RequiredDuration yet")
	mu.Unlock()

	e.Evaluate("cpu", 95, now.Add(31*time.Second))
	mu.Lock()
	require.Len(t, tickets, 1)
	assert.Equal(t, "cpu", tickets[0].AlertType)
	assert.Equal(t, model.PriorityHigh, tickets[0].Priority)
	mu.Unlock()
}

func TestEvaluateAppendsRecommendedActionWhenTemplateOmitsToken(t *testing.T) {
	var tickets []model.AlertTicket
	var mu sync.Mutex
	srv := newCapturingServer(t, &tickets, &mu)

	rules := map[string]model.AlertRule{
		"cpu": {
			Key:               "cpu",
			Threshold:         90,
			RequiredDuration:  0,
			Cooldown:          time.Minute,
			MessageTemplate:   "{{.Host}} cpu at {{.Value}}",
			RecommendedAction: "scale up the host group",
		},
	}
	e := New(rules, "host-1", "app", srv.URL, "", 5*time.Second)
	e.Evaluate("cpu", 95, time.Now().UTC())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, tickets, 1)
	assert.Contains(t, tickets[0].Description, "scale up the host group")
}

func TestEvaluateSubstitutesRecommendedActionToken(t *testing.T) {
	var tickets []model.AlertTicket
	var mu sync.Mutex
	srv := newCapturingServer(t, &tickets, &mu)

	rules := map[string]model.AlertRule{
		"cpu": {
			Key:               "cpu",
			Threshold:         90,
			RequiredDuration:  0,
			Cooldown:          time.Minute,
			MessageTemplate:   "{{.Host}}: do this -> {{.RecommendedAction}}",
			RecommendedAction: "scale up the host group",
		},
	}
	e := New(rules, "host-1", "app", srv.URL, "", 5*time.Second)
	e.Evaluate("cpu", 95, time.Now().UTC())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, tickets, 1)
	assert.Equal(t, "host-1: do this -> scale up the host group", tickets[0].Description)
}

func TestEvaluateResetsOnDrop(t *testing.T) {
	var tickets []model.AlertTicket
	var mu sync.Mutex
	srv := newCapturingServer(t, &tickets, &mu)

	rules := map[string]model.AlertRule{
		"cpu": {Key: "cpu", Threshold: 90, RequiredDuration: 10 * time.Second, Cooldown: time.Minute},
	}
	e := New(rules, "host-1", "app", srv.URL, "", 5*time.Second)

	now := time.Now().UTC()
	e.Evaluate("cpu", 95, now)
	e.Evaluate("cpu", 50, now.Add(5*time.Second))   // drops below threshold, resets timer
	e.Evaluate("cpu", 95, now.Add(11*time.Second))  // re-breach, timer restarts here
	mu.Lock()
	assert.Empty(t, tickets, "breach timer should have reset when value dropped below threshold")
	mu.Unlock()
}

func TestEvaluateRespectsCooldown(t *testing.T) {
	var tickets []model.AlertTicket
	var mu sync.Mutex
	srv := newCapturingServer(t, &tickets, &mu)

	rules := map[string]model.AlertRule{
		"cpu": {Key: "cpu", Threshold: 90, RequiredDuration: 0, Cooldown: time.Minute},
	}
	e := New(rules, "host-1", "app", srv.URL, "", 5*time.Second)

	now := time.Now().UTC()
	e.Evaluate("cpu", 95, now)
	e.Evaluate("cpu", 95, now.Add(time.Millisecond))

	mu.Lock()
	require.Len(t, tickets, 1)
	mu.Unlock()

	e.Evaluate("cpu", 95, now.Add(time.Second))
	mu.Lock()
	assert.Len(t, tickets, 1, "second emission within cooldown should be suppressed")
	mu.Unlock()
}

func TestEvaluateUnknownRuleIgnored(t *testing.T) {
	e := New(map[string]model.AlertRule{}, "host-1", "app", "http://unused.invalid", "", time.Second)
	e.Evaluate("unknown", 1000, time.Now())
}

func TestUpdateRulesPreservesStateForKnownKeys(t *testing.T) {
	rules := map[string]model.AlertRule{
		"cpu": {Key: "cpu", Threshold: 90, RequiredDuration: time.Hour, Cooldown: time.Minute},
	}
	e := New(rules, "host-1", "app", "http://unused.invalid", "", time.Second)

	now := time.Now().UTC()
	e.Evaluate("cpu", 95, now) // starts the breach timer

	e.UpdateRules(map[string]model.AlertRule{
		"cpu": {Key: "cpu", Threshold: 80, RequiredDuration: time.Hour, Cooldown: time.Minute},
		"mem": {Key: "mem", Threshold: 95, RequiredDuration: 0, Cooldown: time.Minute},
	})

	e.mu.Lock()
	_, hasCPUState := e.state["cpu"]
	_, hasMemState := e.state["mem"]
	e.mu.Unlock()
	assert.True(t, hasCPUState, "existing breach state must survive a rule update")
	assert.True(t, hasMemState, "a new rule key gets fresh state")
}
