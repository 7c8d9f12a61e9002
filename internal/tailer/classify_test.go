// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package tailer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hostwatch/agent/internal/model"
)

func TestClassifySeverityFirstGroupWins(t *testing.T) {
	assert.Equal(t, model.SeverityCritical, classifySeverity("kernel PANIC: unrecoverable"))
	assert.Equal(t, model.SeverityFailure, classifySeverity("deployment failed to start"))
	assert.Equal(t, model.SeverityError, classifySeverity("got an error from upstream"))
	assert.Equal(t, model.SeverityWarn, classifySeverity("disk usage warning"))
	assert.Equal(t, model.SeverityInfo, classifySeverity("request completed in 12ms"))
}

func TestClassifySeverityPicksHighestWhenMultipleMatch(t *testing.T) {
	// "failed" is in the failure group but "panic" ranks higher.
	assert.Equal(t, model.SeverityCritical, classifySeverity("panic after failed retry"))
}

func TestDerivePriorityNeverDowngrades(t *testing.T) {
	assert.Equal(t, model.PriorityCritical, derivePriority(model.PriorityCritical, "all fine"))
}

func TestDerivePriorityUpgradesOnCriticalWord(t *testing.T) {
	assert.Equal(t, model.PriorityCritical, derivePriority(model.PriorityLow, "out of memory killer invoked"))
}

func TestDerivePriorityUpgradesOnHighWord(t *testing.T) {
	assert.Equal(t, model.PriorityHigh, derivePriority(model.PriorityLow, "connection denied by peer"))
}

func TestDerivePriorityLeavesUnmatchedLineAlone(t *testing.T) {
	assert.Equal(t, model.PriorityMedium, derivePriority(model.PriorityMedium, "routine housekeeping complete"))
}
