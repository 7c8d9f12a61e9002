// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package alert implements the Alert Engine (C8, spec.md §4.6):
// per-metric sustained-breach tracking with cooldown bookkeeping,
// emitting alert tickets to the backend over HTTP.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hostwatch/agent/internal/log"
	"github.com/hostwatch/agent/internal/model"
)

var logger = log.For("alert")

// Engine holds one Alert Breach State per configured Alert Rule,
// guarded by a single lock with an O(1) critical section (spec.md §5).
type Engine struct {
	mu     sync.Mutex
	rules  map[string]model.AlertRule
	state  map[string]*model.BreachState

	hostID      string
	application string
	endpoint    string
	authToken   string
	client      *http.Client
}

// New constructs an Engine for the given rule set.
func New(rules map[string]model.AlertRule, hostID, application, endpoint, authToken string, requestTimeout time.Duration) *Engine {
	state := make(map[string]*model.BreachState, len(rules))
	for k := range rules {
		state[k] = &model.BreachState{}
	}
	return &Engine{
		rules:       rules,
		state:       state,
		hostID:      hostID,
		application: application,
		endpoint:    endpoint,
		authToken:   authToken,
		client:      &http.Client{Timeout: requestTimeout},
	}
}

// Evaluate runs the spec.md §4.6 algorithm for one (rule_key,
// current_value, now) reading. Unknown rule keys are ignored.
func (e *Engine) Evaluate(key string, value float64, now time.Time) {
	e.mu.Lock()
	rule, ok := e.rules[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	st := e.state[key]

	if value < rule.Threshold {
		st.FirstBreach = nil
		e.mu.Unlock()
		return
	}

	if st.FirstBreach == nil {
		t := now
		st.FirstBreach = &t
		if rule.RequiredDuration > 0 {
			e.mu.Unlock()
			return
		}
	}

	if now.Sub(*st.FirstBreach) < rule.RequiredDuration {
		e.mu.Unlock()
		return
	}

	if st.LastEmitted != nil && now.Sub(*st.LastEmitted) < rule.Cooldown {
		e.mu.Unlock()
		return
	}

	firstBreach := *st.FirstBreach
	st.LastEmitted = &now
	st.FirstBreach = nil
	e.mu.Unlock()

	e.emit(rule, value, now.Sub(firstBreach))
}

// emit builds the ticket and POSTs it; failures are logged and never
// retried individually, per spec.md §4.6's deliberate idempotence
// argument: the condition re-fires on the next tick if still breached.
func (e *Engine) emit(rule model.AlertRule, value float64, duration time.Duration) {
	msg := renderTemplate(rule.MessageTemplate, e.hostID, value, duration, rule.RecommendedAction)

	ticket := model.AlertTicket{
		Title:       fmt.Sprintf("%s: %s", rule.Key, rule.Priority),
		Description: msg,
		Priority:    rule.Priority,
		Status:      "open",
		Application: e.application,
		SystemIP:    e.hostID,
		AlertType:   rule.Key,
		MetricValue: value,
	}

	body, err := json.Marshal(ticket)
	if err != nil {
		logger.Errorf("marshal alert ticket for %s failed: %v", rule.Key, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		logger.Errorf("build alert request for %s failed: %v", rule.Key, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if e.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.authToken)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		logger.Errorf("alert emission for %s failed: %v", rule.Key, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		logger.Errorf("alert emission for %s rejected with status %d", rule.Key, resp.StatusCode)
	}
}

// renderTemplate substitutes the message template's {{.Host}},
// {{.Value}}, {{.Duration}} and {{.RecommendedAction}} tokens. The rule
// name is not a template token and does not appear in the message; it
// reaches the ticket only through its title and alert type. recommendedAction fills
// an explicit {{.RecommendedAction}} token when the template names
// one; otherwise, if non-empty, it's appended so configured guidance
// is never silently dropped.
func renderTemplate(tmpl, host string, value float64, duration time.Duration, recommendedAction string) string {
	hasToken := strings.Contains(tmpl, "{{.RecommendedAction}}")
	r := strings.NewReplacer(
		"{{.Host}}", host,
		"{{.Value}}", fmt.Sprintf("%.1f", value),
		"{{.Duration}}", duration.Round(time.Second).String(),
		"{{.RecommendedAction}}", recommendedAction,
	)
	msg := r.Replace(tmpl)
	if !hasToken && recommendedAction != "" {
		msg = fmt.Sprintf("%s Recommended action: %s", msg, recommendedAction)
	}
	return msg
}

// UpdateRules hot-swaps the alert rule set (spec.md §4.8: alert
// thresholds are hot-reloadable). Existing breach state for keys
// present in both old and new sets is preserved.
func (e *Engine) UpdateRules(rules map[string]model.AlertRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range rules {
		if _, ok := e.state[k]; !ok {
			e.state[k] = &model.BreachState{}
		}
	}
	e.rules = rules
}
