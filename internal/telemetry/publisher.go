// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package telemetry implements the Telemetry Publisher (C5, spec.md
// §4.5): a periodic loop that dequeues spool entries and POSTs them to
// the backend with bounded exponential backoff per entry.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hostwatch/agent/internal/log"
	"github.com/hostwatch/agent/internal/model"
)

var logger = log.For("telemetry")

// Spool is the subset of *spool.Spool the Publisher depends on.
type Spool interface {
	Dequeue(limit int) ([]model.SpoolEntry, error)
	MarkSent(id uint64) error
	MarkFailed(id uint64, maxRetries int) (bool, error)
}

// wirePayload is the HTTP POST body (spec.md §6 "Outbound telemetry
// endpoint").
type wirePayload struct {
	NodeID              string  `json:"node_id"`
	Timestamp           string  `json:"timestamp"`
	CPUPercent          float64 `json:"cpu_percent"`
	MemoryPercent       float64 `json:"memory_percent"`
	MemoryUsedMB        float64 `json:"memory_used_mb"`
	MemoryTotalMB       float64 `json:"memory_total_mb"`
	DiskPercent         float64 `json:"disk_percent"`
	DiskUsedGB          float64 `json:"disk_used_gb"`
	DiskTotalGB         float64 `json:"disk_total_gb"`
	NetworkRxBytes      uint64  `json:"network_rx_bytes"`
	NetworkTxBytes      uint64  `json:"network_tx_bytes"`
	NetworkRxRateMbps   float64 `json:"network_rx_rate_mbps"`
	NetworkTxRateMbps   float64 `json:"network_tx_rate_mbps"`
	UptimeSeconds       int64   `json:"uptime_seconds"`
	ProcessCount        int     `json:"process_count"`
	ActiveConnections   int     `json:"active_connections"`
	LoadAvg1m           float64 `json:"load_avg_1m"`
	LoadAvg5m           float64 `json:"load_avg_5m"`
	LoadAvg15m          float64 `json:"load_avg_15m"`
}

func toWire(snap model.MetricSnapshot) wirePayload {
	var diskTotal, diskUsed uint64
	for _, m := range snap.Disk.Usage {
		diskTotal += m.TotalBytes
		diskUsed += m.UsedBytes
	}
	var diskPct float64
	if diskTotal > 0 {
		diskPct = float64(diskUsed) / float64(diskTotal) * 100
	}

	return wirePayload{
		NodeID:            snap.HostID,
		Timestamp:         snap.Timestamp.UTC().Format(time.RFC3339Nano),
		CPUPercent:        snap.CPU.Percent,
		MemoryPercent:     snap.Memory.UsedPercent,
		MemoryUsedMB:      bytesToMB(snap.Memory.UsedBytes),
		MemoryTotalMB:     bytesToMB(snap.Memory.TotalBytes),
		DiskPercent:       diskPct,
		DiskUsedGB:        bytesToGB(diskUsed),
		DiskTotalGB:       bytesToGB(diskTotal),
		NetworkRxBytes:    snap.Network.BytesReceived,
		NetworkTxBytes:    snap.Network.BytesSent,
		NetworkRxRateMbps: snap.Network.RxRateMiBps,
		NetworkTxRateMbps: snap.Network.TxRateMiBps,
		UptimeSeconds:     snap.UptimeSeconds,
		ProcessCount:      snap.Process.Count,
		ActiveConnections: snap.Network.ActiveConnections,
		LoadAvg1m:         snap.CPU.Load1,
		LoadAvg5m:         snap.CPU.Load5,
		LoadAvg15m:        snap.CPU.Load15,
	}
}

func bytesToMB(b uint64) float64 { return float64(b) / (1024 * 1024) }
func bytesToGB(b uint64) float64 { return float64(b) / (1024 * 1024 * 1024) }

// Publisher is the Telemetry Publisher component.
type Publisher struct {
	spool      Spool
	endpoint   string
	authToken  string
	client     *http.Client
	batchSize  int
	maxRetries int
	backoffSeq []time.Duration
}

// Config configures a Publisher (spec.md §4.5/§6).
type Config struct {
	Endpoint       string
	AuthToken      string
	BatchSize      int
	MaxRetries     int
	BackoffSeconds []int
	RequestTimeout time.Duration
}

// New constructs a Publisher with a single pooled HTTP client
// (spec.md §4.5 "connection reuse").
func New(spool Spool, cfg Config) *Publisher {
	backoffSeq := make([]time.Duration, 0, len(cfg.BackoffSeconds))
	for _, s := range cfg.BackoffSeconds {
		backoffSeq = append(backoffSeq, time.Duration(s)*time.Second)
	}
	if len(backoffSeq) == 0 {
		backoffSeq = []time.Duration{5 * time.Second, 15 * time.Second, 60 * time.Second}
	}

	transport := &http.Transport{
		MaxIdleConns:        5,
		MaxIdleConnsPerHost: 5,
		MaxConnsPerHost:     5,
	}
	return &Publisher{
		spool:      spool,
		endpoint:   cfg.Endpoint,
		authToken:  cfg.AuthToken,
		client:     &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		backoffSeq: backoffSeq,
	}
}

// RunOnce dequeues and attempts to publish one batch, per spec.md
// §4.5's loop body. The Supervisor drives the outer P-second ticker.
func (p *Publisher) RunOnce(ctx context.Context) {
	entries, err := p.spool.Dequeue(p.batchSize)
	if err != nil {
		logger.Errorf("spool dequeue failed: %v", err)
		return
	}

	for _, e := range entries {
		p.processEntry(ctx, e)
	}
}

// processEntry applies the per-entry disposition table from spec.md
// §4.5/§7: 2xx -> MarkSent; 4xx -> MarkSent (discarded, logged);
// 5xx/timeout/connection/DNS -> backoff sequence, then MarkFailed.
func (p *Publisher) processEntry(ctx context.Context, e model.SpoolEntry) {
	var snap model.MetricSnapshot
	if err := json.Unmarshal(e.Payload, &snap); err != nil {
		logger.Errorf("dropping malformed spool entry id=%d: %v", e.ID, err)
		_, _ = p.spool.MarkFailed(e.ID, 0) // maxRetries=0 forces immediate removal
		return
	}

	status, postErr := p.attemptWithBackoff(ctx, snap)

	switch {
	case postErr == nil && status/100 == 2:
		if err := p.spool.MarkSent(e.ID); err != nil {
			logger.Errorf("mark sent failed for id=%d: %v", e.ID, err)
		}
	case status/100 == 4:
		logger.Errorf("telemetry entry id=%d rejected with status %d, discarding", e.ID, status)
		_ = mustMarkSent(p.spool, e.ID)
	default:
		stillQueued, err := p.spool.MarkFailed(e.ID, p.maxRetries)
		if err != nil {
			logger.Errorf("mark failed bookkeeping error for id=%d: %v", e.ID, err)
			return
		}
		if !stillQueued {
			logger.Errorf("telemetry entry id=%d exhausted retries, discarded", e.ID)
		}
	}
}

func mustMarkSent(s Spool, id uint64) error { return s.MarkSent(id) }

// attemptWithBackoff POSTs snap, retrying on transient failure entirely
// inside this one POST attempt. It makes one retry per entry of the
// configured backoff sequence, but only the sequence's first entry is
// used as a wait: later waits grow exponentially from it with the
// backoff library's default multiplier and jitter, and do not follow
// the sequence's remaining values.
func (p *Publisher) attemptWithBackoff(ctx context.Context, snap model.MetricSnapshot) (status int, err error) {
	body, merr := json.Marshal(toWire(snap))
	if merr != nil {
		return 0, merr
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = firstOr(p.backoffSeq, 5*time.Second)
	b.MaxElapsedTime = sum(p.backoffSeq) + time.Second

	attempt := 0
	operation := func() error {
		st, e := p.post(ctx, body)
		status = st
		if e == nil && st/100 == 2 {
			return nil
		}
		if e == nil && st/100 == 4 {
			return backoff.Permanent(fmt.Errorf("client error status %d", st))
		}
		attempt++
		if attempt > len(p.backoffSeq) {
			return backoff.Permanent(fmt.Errorf("exhausted backoff sequence: %v", e))
		}
		return fmt.Errorf("transient telemetry post failure: %v", e)
	}

	err = backoff.Retry(operation, backoff.WithContext(b, ctx))
	return status, err
}

func (p *Publisher) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func firstOr(d []time.Duration, def time.Duration) time.Duration {
	if len(d) == 0 {
		return def
	}
	return d[0]
}

func sum(d []time.Duration) time.Duration {
	var total time.Duration
	for _, v := range d {
		total += v
	}
	return total
}
