// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package model holds the plain data types shared across the agent's
// components: monitored file specs, error events, metric snapshots,
// spool entries, suppression rules, and alert rules/state.
package model

import "time"

// Priority is the severity-independent urgency tag carried by a
// Monitored File Spec and, after derivation, by an Error Event.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// priorityRank gives a total order so derivation can "never downgrade".
var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Max returns the higher-urgency of p and other.
func (p Priority) Max(other Priority) Priority {
	if priorityRank[other] > priorityRank[p] {
		return other
	}
	return p
}

// Severity is the classification derived from a matched log line.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityFailure  Severity = "failure"
	SeverityError    Severity = "error"
	SeverityWarn     Severity = "warn"
	SeverityInfo     Severity = "info"
)

// FileSpec is a Monitored File Spec (spec.md §3). Immutable after
// config load; hot reload replaces instances wholesale.
type FileSpec struct {
	ID       string
	Path     string
	Label    string
	Priority Priority
	Enabled  bool
}

// ErrorEvent is produced by a Tailer on a matched, non-suppressed line.
type ErrorEvent struct {
	Timestamp time.Time
	HostID    string
	NodeID    string
	LogPath   string
	LogLabel  string
	LogLine   string
	Severity  Severity
	Priority  Priority
	Application string
}

// MetricSnapshot is one complete reading of host metrics (spec.md §3).
type MetricSnapshot struct {
	Timestamp time.Time
	HostID    string

	CPU     CPUStats
	Memory  MemoryStats
	Disk    DiskStats
	Network NetworkStats
	Process ProcessStats

	UptimeSeconds int64
}

type CPUStats struct {
	Percent     float64
	PerCore     []float64
	Load1       float64
	Load5       float64
	Load15      float64
}

type MemoryStats struct {
	TotalBytes     uint64
	UsedBytes      uint64
	AvailableBytes uint64
	UsedPercent    float64
	SwapTotalBytes uint64
	SwapUsedBytes  uint64
	SwapPercent    float64
}

type MountUsage struct {
	Mount       string
	TotalBytes  uint64
	UsedBytes   uint64
	FreeBytes   uint64
	UsedPercent float64
}

type DiskStats struct {
	Usage        []MountUsage
	ReadMiBps    float64
	WriteMiBps   float64
}

type NetworkStats struct {
	RxRateMiBps      float64
	TxRateMiBps      float64
	BytesReceived    uint64
	BytesSent        uint64
	PacketsReceived  uint64
	PacketsSent      uint64
	ActiveConnections int
}

type ProcessSummary struct {
	PID           int32
	Name          string
	MemoryPercent float32
	CPUPercent    float64
}

type ProcessStats struct {
	Count int
	TopN  []ProcessSummary
}

// SpoolEntry is a durable row in the Telemetry Spool (spec.md §3/§4.4).
type SpoolEntry struct {
	ID           uint64
	Timestamp    time.Time
	Payload      []byte
	RetryCount   int
	CreatedAt    time.Time
	LastAttempt  time.Time
}

// SpoolStats is the observability summary returned by Stats().
type SpoolStats struct {
	Total          int
	ByRetryCount   map[int]int
	OldestTimestamp time.Time
}

// DurationMode is a Suppression Rule's expiry mode.
type DurationMode string

const (
	DurationPermanent DurationMode = "permanent"
	DurationTimed     DurationMode = "timed"
	DurationExpiring  DurationMode = "expiring_at"
)

// SuppressionRule is a read-only view of a row from the external
// suppression-rules store (spec.md §3/§4.7/§6).
type SuppressionRule struct {
	ID            string
	Name          string
	MatchText     string
	HostFilter    string // empty = no filter
	DurationMode  DurationMode
	Enabled       bool
	ExpiresAt     *time.Time
	MatchCount    int64
	LastMatchedAt *time.Time
}

// Active reports whether the rule is currently eligible to suppress.
func (r *SuppressionRule) Active(now time.Time) bool {
	if !r.Enabled {
		return false
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return false
	}
	return true
}

// AlertRule is a statically configured sustained-threshold rule
// (spec.md §3/§4.6).
type AlertRule struct {
	Key               string
	Threshold         float64
	RequiredDuration  time.Duration
	Cooldown          time.Duration
	Priority          Priority
	MessageTemplate   string
	RecommendedAction string
}

// BreachState is the mutable per-rule-key bookkeeping the Alert Engine
// holds in memory.
type BreachState struct {
	FirstBreach *time.Time
	LastEmitted *time.Time
}

// AlertTicket is the structured payload POSTed to the backend alert
// endpoint (spec.md §6).
type AlertTicket struct {
	Title             string
	Description       string
	Priority          Priority
	Status            string
	Application       string
	SystemIP          string
	AlertType         string
	MetricValue       float64
}
