// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package sampler implements the Metric Sampler (C6, spec.md §4.3): a
// periodic host-metric collector built on gopsutil, dispatching each
// Metric Snapshot to the Spool, the Live Metric Broadcaster, and the
// Alert Engine.
package sampler

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/hostwatch/agent/internal/log"
	"github.com/hostwatch/agent/internal/model"
)

var logger = log.For("sampler")

// Spool is the subset of *spool.Spool the Sampler depends on.
type Spool interface {
	Enqueue(snap model.MetricSnapshot) (uint64, error)
}

// LiveBroadcaster is the subset of *broadcast.MetricBroadcaster the
// Sampler depends on. Dispatch is non-blocking (spec.md §4.3).
type LiveBroadcaster interface {
	Broadcast(snap model.MetricSnapshot)
	HasSubscribers() bool
}

// AlertEvaluator is the subset of *alert.Engine the Sampler dispatches
// metric readings to for threshold evaluation (spec.md §4.3/§4.6).
type AlertEvaluator interface {
	Evaluate(key string, value float64, now time.Time)
}

// Sampler is the Metric Sampler component.
type Sampler struct {
	hostID        string
	interval      time.Duration
	jitter        time.Duration
	perCoreCPU    bool
	topNProcesses int
	startedAt     time.Time

	spool     Spool
	live      LiveBroadcaster
	alerts    AlertEvaluator

	prevNet  *net.IOCountersStat
	prevDisk *disk.IOCountersStat
	prevAt   time.Time
}

// New constructs a Sampler.
func New(hostID string, interval, jitter time.Duration, perCoreCPU bool, topN int, spool Spool, live LiveBroadcaster, alerts AlertEvaluator) *Sampler {
	return &Sampler{
		hostID:        hostID,
		interval:      interval,
		jitter:        jitter,
		perCoreCPU:    perCoreCPU,
		topNProcesses: topN,
		startedAt:     time.Now(),
		spool:         spool,
		live:          live,
		alerts:        alerts,
	}
}

// Run loops until ctx is cancelled, sampling every interval with
// up-to-jitter startup delay to avoid fleet synchronisation (spec.md
// §4.3).
func (s *Sampler) Run(ctx context.Context) {
	if s.jitter > 0 {
		d := time.Duration(rand.Int63n(int64(s.jitter)))
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := s.sampleOnce(ctx)
			if err != nil {
				logger.Errorf("sample collection failed: %v", err)
				continue
			}
			s.dispatch(snap)
		}
	}
}

func (s *Sampler) dispatch(snap model.MetricSnapshot) {
	if _, err := s.spool.Enqueue(snap); err != nil {
		logger.Errorf("spool enqueue failed: %v", err)
	}
	if s.live.HasSubscribers() {
		go s.live.Broadcast(snap)
	}
	go func() {
		s.alerts.Evaluate("cpu_critical", snap.CPU.Percent, snap.Timestamp)
		s.alerts.Evaluate("memory_critical", snap.Memory.UsedPercent, snap.Timestamp)
		if pct := maxDiskPercent(snap.Disk.Usage); pct >= 0 {
			s.alerts.Evaluate("disk_critical", pct, snap.Timestamp)
		}
	}()
}

func maxDiskPercent(usage []model.MountUsage) float64 {
	best := -1.0
	for _, u := range usage {
		if u.UsedPercent > best {
			best = u.UsedPercent
		}
	}
	return best
}

// sampleOnce collects one complete Metric Snapshot (spec.md §3).
// Rate fields (network/disk throughput) are zero on the first sample
// after startup, per spec.md §4.3.
func (s *Sampler) sampleOnce(ctx context.Context) (model.MetricSnapshot, error) {
	now := time.Now().UTC()
	snap := model.MetricSnapshot{Timestamp: now, HostID: s.hostID, UptimeSeconds: int64(time.Since(s.startedAt).Seconds())}

	if err := s.collectCPU(ctx, &snap); err != nil {
		logger.Warnf("cpu collection degraded: %v", err)
	}
	if err := s.collectMemory(ctx, &snap); err != nil {
		logger.Warnf("memory collection degraded: %v", err)
	}
	if err := s.collectDisk(ctx, &snap); err != nil {
		logger.Warnf("disk collection degraded: %v", err)
	}
	if err := s.collectNetwork(ctx, &snap); err != nil {
		logger.Warnf("network collection degraded: %v", err)
	}
	if err := s.collectProcesses(ctx, &snap); err != nil {
		logger.Warnf("process collection degraded: %v", err)
	}

	s.prevAt = now
	return snap, nil
}

func (s *Sampler) collectCPU(ctx context.Context, snap *model.MetricSnapshot) error {
	overall, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return err
	}
	if len(overall) > 0 {
		snap.CPU.Percent = overall[0]
	}
	if s.perCoreCPU {
		perCore, err := cpu.PercentWithContext(ctx, 0, true)
		if err == nil {
			snap.CPU.PerCore = perCore
		}
	}
	avg, err := load.AvgWithContext(ctx)
	if err == nil {
		snap.CPU.Load1 = avg.Load1
		snap.CPU.Load5 = avg.Load5
		snap.CPU.Load15 = avg.Load15
	}
	return nil
}

func (s *Sampler) collectMemory(ctx context.Context, snap *model.MetricSnapshot) error {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}
	snap.Memory.TotalBytes = vm.Total
	snap.Memory.UsedBytes = vm.Used
	snap.Memory.AvailableBytes = vm.Available
	snap.Memory.UsedPercent = vm.UsedPercent

	sw, err := mem.SwapMemoryWithContext(ctx)
	if err == nil {
		snap.Memory.SwapTotalBytes = sw.Total
		snap.Memory.SwapUsedBytes = sw.Used
		snap.Memory.SwapPercent = sw.UsedPercent
	}
	return nil
}

func (s *Sampler) collectDisk(ctx context.Context, snap *model.MetricSnapshot) error {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return err
	}
	for _, p := range parts {
		u, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		snap.Disk.Usage = append(snap.Disk.Usage, model.MountUsage{
			Mount:       p.Mountpoint,
			TotalBytes:  u.Total,
			UsedBytes:   u.Used,
			FreeBytes:   u.Free,
			UsedPercent: u.UsedPercent,
		})
	}

	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return err
	}
	var agg disk.IOCountersStat
	for _, c := range counters {
		agg.ReadBytes += c.ReadBytes
		agg.WriteBytes += c.WriteBytes
	}

	if s.prevDisk != nil && !s.prevAt.IsZero() {
		elapsed := time.Since(s.prevAt).Seconds()
		if elapsed > 0 {
			snap.Disk.ReadMiBps = mibPerSec(agg.ReadBytes, s.prevDisk.ReadBytes, elapsed)
			snap.Disk.WriteMiBps = mibPerSec(agg.WriteBytes, s.prevDisk.WriteBytes, elapsed)
		}
	}
	s.prevDisk = &agg
	return nil
}

func (s *Sampler) collectNetwork(ctx context.Context, snap *model.MetricSnapshot) error {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return err
	}
	if len(counters) == 0 {
		return nil
	}
	c := counters[0]
	snap.Network.BytesReceived = c.BytesRecv
	snap.Network.BytesSent = c.BytesSent
	snap.Network.PacketsReceived = c.PacketsRecv
	snap.Network.PacketsSent = c.PacketsSent

	if s.prevNet != nil && !s.prevAt.IsZero() {
		elapsed := time.Since(s.prevAt).Seconds()
		if elapsed > 0 {
			snap.Network.RxRateMiBps = mibPerSec(c.BytesRecv, s.prevNet.BytesRecv, elapsed)
			snap.Network.TxRateMiBps = mibPerSec(c.BytesSent, s.prevNet.BytesSent, elapsed)
		}
	}
	s.prevNet = &c

	conns, err := net.ConnectionsWithContext(ctx, "all")
	if err == nil {
		snap.Network.ActiveConnections = len(conns)
	}
	return nil
}

func (s *Sampler) collectProcesses(ctx context.Context, snap *model.MetricSnapshot) error {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return err
	}
	snap.Process.Count = len(pids)

	type scored struct {
		model.ProcessSummary
	}
	var summaries []scored
	for _, pid := range pids {
		p, err := process.NewProcess(pid)
		if err != nil {
			continue
		}
		name, _ := p.NameWithContext(ctx)
		memPct, _ := p.MemoryPercentWithContext(ctx)
		cpuPct, _ := p.CPUPercentWithContext(ctx)
		summaries = append(summaries, scored{model.ProcessSummary{
			PID: pid, Name: name, MemoryPercent: memPct, CPUPercent: cpuPct,
		}})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].MemoryPercent > summaries[j].MemoryPercent
	})
	n := s.topNProcesses
	if n > len(summaries) {
		n = len(summaries)
	}
	for i := 0; i < n; i++ {
		snap.Process.TopN = append(snap.Process.TopN, summaries[i].ProcessSummary)
	}
	return nil
}

func mibPerSec(cur, prev uint64, elapsedSeconds float64) float64 {
	if cur < prev {
		return 0 // counter reset (reboot, overflow)
	}
	delta := float64(cur - prev)
	return delta / (1024 * 1024) / elapsedSeconds
}
