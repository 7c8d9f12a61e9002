// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package tailer

import (
	"strings"

	"github.com/hostwatch/agent/internal/model"
)

// severityKeywords lists keyword groups in priority order; the first
// matching group wins (spec.md §4.1 P2: "severity is the maximum over
// all matched severity keywords", where "maximum" is this fixed
// ordering, critical highest).
var severityKeywords = []struct {
	severity model.Severity
	words    []string
}{
	{model.SeverityCritical, []string{"panic", "fatal", "critical", "crit"}},
	{model.SeverityFailure, []string{"fail", "failed", "failure"}},
	{model.SeverityError, []string{"err", "error"}},
	{model.SeverityWarn, []string{"warn", "warning"}},
}

// classifySeverity implements spec.md §4.1's severity classification:
// case-insensitive, first match wins in the listed order, otherwise
// info. Deterministic in line contents alone (P2).
func classifySeverity(line string) model.Severity {
	lower := strings.ToLower(line)
	for _, group := range severityKeywords {
		for _, w := range group.words {
			if containsWord(lower, w) {
				return group.severity
			}
		}
	}
	return model.SeverityInfo
}

var criticalUpgradeWords = []string{"fatal", "panic", "kernel panic", "out of memory", "segmentation fault"}
var highUpgradeWords = []string{"error", "failed", "exception", "denied", "timeout"}

// derivePriority implements spec.md §4.1's priority derivation: start
// from the File Spec priority, upgrade (never downgrade, P3) based on
// keyword presence.
func derivePriority(basePriority model.Priority, line string) model.Priority {
	lower := strings.ToLower(line)
	p := basePriority

	for _, w := range criticalUpgradeWords {
		if containsWord(lower, w) {
			return p.Max(model.PriorityCritical)
		}
	}
	for _, w := range highUpgradeWords {
		if containsWord(lower, w) {
			p = p.Max(model.PriorityHigh)
		}
	}
	return p
}

// containsWord reports a case-folded substring match. The spec calls
// for "word-boundary semantics" on the keyword regex used to decide a
// line is a *candidate* (see Matcher in matcher.go); severity/priority
// classification itself is specified purely as substring containment
// ("contains any of {...}"), so this helper intentionally stays a
// plain substring check rather than re-applying word boundaries.
func containsWord(lower, word string) bool {
	return strings.Contains(lower, word)
}
