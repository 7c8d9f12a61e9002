// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package suppression implements the Suppression Cache (C1, spec.md
// §4.7): a TTL-refreshed, read-mostly view over an external relational
// store of suppression rules, with best-effort write-back of match
// counters.
package suppression

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hostwatch/agent/internal/log"
	"github.com/hostwatch/agent/internal/model"
)

var logger = log.For("suppression")

// Store is the external relational suppression-rules store contract
// (spec.md §6). Implemented in this repo by *SQLStore (database/sql +
// go-sql-driver/mysql).
type Store interface {
	LoadRules(ctx context.Context) ([]*model.SuppressionRule, error)
	WriteBack(ctx context.Context, updates []MatchUpdate) error
}

// MatchUpdate is a best-effort counter/timestamp write-back batched at
// refresh boundaries (spec.md §4.7).
type MatchUpdate struct {
	RuleID        string
	Increment     int64
	LastMatchedAt time.Time
}

// Cache is the Suppression Cache component.
type Cache struct {
	store Store
	ttl   time.Duration

	mu        sync.RWMutex
	rules     []*model.SuppressionRule
	fetchedAt time.Time

	pendingMu sync.Mutex
	pending   map[string]*MatchUpdate

	matchesMu    sync.Mutex
	totalMatches int64

	warnedOnce bool
}

// New constructs a Cache against store with the given refresh TTL.
func New(store Store, ttl time.Duration) *Cache {
	return &Cache{
		store:   store,
		ttl:     ttl,
		pending: map[string]*MatchUpdate{},
	}
}

// ShouldSuppress implements spec.md §4.7's read path: the first
// enabled, non-expired rule whose match_text is a case-sensitive
// substring of line and whose host filter is empty or equals hostID.
func (c *Cache) ShouldSuppress(ctx context.Context, line, hostID string) (bool, *model.SuppressionRule) {
	c.maybeRefresh(ctx)

	now := time.Now().UTC()
	c.mu.RLock()
	rules := c.rules
	c.mu.RUnlock()

	for _, r := range rules {
		if !r.Active(now) {
			continue
		}
		if r.HostFilter != "" && r.HostFilter != hostID {
			continue
		}
		if strings.Contains(line, r.MatchText) {
			c.recordMatch(r.ID)
			return true, r
		}
	}
	return false, nil
}

func (c *Cache) maybeRefresh(ctx context.Context) {
	c.mu.RLock()
	stale := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()
	if !stale {
		return
	}
	c.refresh(ctx)
}

// refresh takes a short exclusive section only to swap the rule set
// (spec.md §4.7 concurrency contract).
func (c *Cache) refresh(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rules, err := c.store.LoadRules(fetchCtx)
	if err != nil {
		if !c.warnedOnce {
			logger.Warnf("suppression rule refresh failed, serving last cached set: %v", err)
			c.warnedOnce = true
		}
		c.mu.Lock()
		c.fetchedAt = time.Now() // avoid refresh-storming on a down store
		c.mu.Unlock()
		return
	}
	c.warnedOnce = false

	c.mu.Lock()
	c.rules = rules
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	c.flushWriteBack(ctx)
}

func (c *Cache) recordMatch(ruleID string) {
	c.pendingMu.Lock()
	now := time.Now().UTC()
	if u, ok := c.pending[ruleID]; ok {
		u.Increment++
		u.LastMatchedAt = now
	} else {
		c.pending[ruleID] = &MatchUpdate{RuleID: ruleID, Increment: 1, LastMatchedAt: now}
	}
	c.pendingMu.Unlock()

	c.matchesMu.Lock()
	c.totalMatches++
	c.matchesMu.Unlock()
}

// Stats reports the cache's current rule count, the time of its last
// successful refresh, and the cumulative number of suppressed matches
// observed since the Cache was constructed (spec.md §9 Control API
// suppression stats).
func (c *Cache) Stats() (ruleCount int, lastRefresh time.Time, totalMatches int64) {
	c.mu.RLock()
	ruleCount = len(c.rules)
	lastRefresh = c.fetchedAt
	c.mu.RUnlock()

	c.matchesMu.Lock()
	totalMatches = c.totalMatches
	c.matchesMu.Unlock()
	return
}

// flushWriteBack applies pending match-count updates best-effort, per
// spec.md §4.7 ("batched at refresh boundaries or on a dedicated
// background tick").
func (c *Cache) flushWriteBack(ctx context.Context) {
	c.pendingMu.Lock()
	if len(c.pending) == 0 {
		c.pendingMu.Unlock()
		return
	}
	updates := make([]MatchUpdate, 0, len(c.pending))
	for _, u := range c.pending {
		updates = append(updates, *u)
	}
	c.pending = map[string]*MatchUpdate{}
	c.pendingMu.Unlock()

	wCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.store.WriteBack(wCtx, updates); err != nil {
		logger.Warnf("suppression match write-back failed (best-effort, continuing): %v", err)
	}
}

// FlushWriteBackTick runs flushWriteBack on a dedicated background
// tick, for callers that want write-back independent of refresh
// cadence; the Supervisor wires this into its own ticking loop.
func (c *Cache) FlushWriteBackTick(ctx context.Context) {
	c.flushWriteBack(ctx)
}
