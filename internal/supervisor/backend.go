// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package supervisor

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hostwatch/agent/internal/api"
	"github.com/hostwatch/agent/internal/config"
	"github.com/hostwatch/agent/internal/log"
	"github.com/hostwatch/agent/internal/model"
)

// The methods in this file satisfy api.Backend (internal/api/api.go),
// the only contract the Control API depends on.

func (s *Supervisor) NodeID() string       { return s.nodeID }
func (s *Supervisor) Version() string      { return Version }
func (s *Supervisor) StartedAt() time.Time { return s.startedAt }

func (s *Supervisor) ComponentStatuses() map[string]api.ComponentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]api.ComponentStatus, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}
	return out
}

func (s *Supervisor) MonitoredFiles() []api.MonitoredFileView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.MonitoredFileView, 0, len(s.fileSpecs))
	for _, spec := range s.fileSpecs {
		out = append(out, api.MonitoredFileView{
			ID:       spec.ID,
			Path:     spec.Path,
			Label:    spec.Label,
			Priority: string(spec.Priority),
			Enabled:  spec.Enabled,
		})
	}
	return out
}

func (s *Supervisor) enabledTailerCount() int {
	count := 0
	for _, spec := range s.fileSpecs {
		if spec.Enabled {
			count++
		}
	}
	return count
}

// AddMonitoredFile implements hot-add, enforcing spec.md §9's
// supplemented max_tailers limit (see SPEC_FULL.md §12).
func (s *Supervisor) AddMonitoredFile(input api.MonitoredFileSpecInput) error {
	if input.Path == "" {
		return fmt.Errorf("path is required")
	}
	spec := model.FileSpec{
		ID:       uuid.NewString(),
		Path:     input.Path,
		Label:    input.Label,
		Priority: model.Priority(input.Priority),
		Enabled:  input.Enabled,
	}

	s.mu.Lock()
	maxTailers := s.store.Snapshot().GetInt("tailer.max_tailers", 100)
	if spec.Enabled && s.enabledTailerCount() >= maxTailers {
		s.mu.Unlock()
		return fmt.Errorf("tailer.max_tailers (%d) reached, cannot enable another monitored file", maxTailers)
	}
	s.fileSpecs[spec.ID] = spec
	s.mu.Unlock()

	if spec.Enabled {
		s.startTailer(spec)
	}
	return nil
}

func (s *Supervisor) UpdateMonitoredFile(id string, input api.MonitoredFileSpecInput) error {
	s.mu.Lock()
	existing, ok := s.fileSpecs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("monitored file %q not found", id)
	}

	updated := model.FileSpec{
		ID:       id,
		Path:     input.Path,
		Label:    input.Label,
		Priority: model.Priority(input.Priority),
		Enabled:  input.Enabled,
	}
	if updated.Path == "" {
		updated.Path = existing.Path
	}

	wasRunning := s.stopTailer(id)

	s.mu.Lock()
	maxTailers := s.store.Snapshot().GetInt("tailer.max_tailers", 100)
	if updated.Enabled && !existing.Enabled && s.enabledTailerCount() >= maxTailers {
		s.fileSpecs[id] = existing
		s.mu.Unlock()
		if wasRunning {
			s.startTailer(existing)
		}
		return fmt.Errorf("tailer.max_tailers (%d) reached, cannot enable monitored file %q", maxTailers, id)
	}
	s.fileSpecs[id] = updated
	s.mu.Unlock()

	if updated.Enabled {
		s.startTailer(updated)
	}
	return nil
}

func (s *Supervisor) RemoveMonitoredFile(id string) error {
	s.mu.Lock()
	_, ok := s.fileSpecs[id]
	if ok {
		delete(s.fileSpecs, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("monitored file %q not found", id)
	}
	s.stopTailer(id)
	return nil
}

func (s *Supervisor) SuppressionStats() api.SuppressionStatsView {
	if s.suppCache == nil {
		return api.SuppressionStatsView{}
	}
	ruleCount, lastRefresh, totalMatches := s.suppCache.Stats()
	return api.SuppressionStatsView{
		RuleCount:    ruleCount,
		LastRefresh:  lastRefresh,
		TotalMatches: totalMatches,
	}
}

func (s *Supervisor) StartLiveLogs() error {
	snap := s.store.Snapshot()
	addr := fmt.Sprintf(":%d", snap.GetInt("livelogs.port", 8755))
	if err := s.logBcast.Start(addr); err != nil {
		return err
	}
	s.mu.Lock()
	s.nextWorkerID++
	s.logWorkerID = s.nextWorkerID
	s.statuses["live_log_broadcaster"] = api.StatusRunning
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) StopLiveLogs() error {
	if err := s.logBcast.Stop(s.rootCtx); err != nil {
		return err
	}
	s.mu.Lock()
	s.logWorkerID = 0
	s.statuses["live_log_broadcaster"] = api.StatusStopped
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) StartLiveMetrics() error {
	snap := s.store.Snapshot()
	addr := fmt.Sprintf(":%d", snap.GetInt("livemetrics.port", 8756))
	if err := s.metricBcast.Start(addr); err != nil {
		return err
	}
	s.mu.Lock()
	s.nextWorkerID++
	s.metricWorkerID = s.nextWorkerID
	s.statuses["live_metric_broadcaster"] = api.StatusRunning
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) StopLiveMetrics() error {
	if err := s.metricBcast.Stop(s.rootCtx); err != nil {
		return err
	}
	s.mu.Lock()
	s.metricWorkerID = 0
	s.statuses["live_metric_broadcaster"] = api.StatusStopped
	s.mu.Unlock()
	return nil
}

// BroadcasterPIDs reports synthetic worker identifiers in place of OS
// PIDs (REDESIGN FLAGS: "subprocess lifecycle for broadcasters" becomes
// in-process managed workers; PID fields in /api/status become worker
// identifiers).
func (s *Supervisor) BroadcasterPIDs() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{
		"livelogs":    s.logWorkerID,
		"livemetrics": s.metricWorkerID,
	}
}

func (s *Supervisor) Processes(limit int, sortBy string) ([]api.ProcessView, error) {
	views, err := s.inspector.List(limit, sortBy)
	if err != nil {
		return nil, err
	}
	out := make([]api.ProcessView, 0, len(views))
	for _, v := range views {
		out = append(out, api.ProcessView{PID: v.PID, Name: v.Name, CPUPercent: v.CPUPercent, MemoryPercent: v.MemoryPercent, Status: v.Status})
	}
	return out, nil
}

func (s *Supervisor) Process(pid int32) (api.ProcessView, bool, error) {
	v, found, err := s.inspector.Get(pid)
	if err != nil || !found {
		return api.ProcessView{}, found, err
	}
	return api.ProcessView{PID: v.PID, Name: v.Name, CPUPercent: v.CPUPercent, MemoryPercent: v.MemoryPercent, Status: v.Status}, true, nil
}

func (s *Supervisor) KillProcess(pid int32, force bool) error {
	return s.inspector.Kill(pid, force)
}

func (s *Supervisor) ProcessHistory(pid int32, hours int) (api.ProcessHistoryView, error) {
	samples, avgCPU, maxCPU, avgMem, err := s.inspector.History(pid, hours)
	if err != nil {
		return api.ProcessHistoryView{}, err
	}
	points := make([]api.ProcessHistoryPoint, 0, len(samples))
	for _, sm := range samples {
		points = append(points, api.ProcessHistoryPoint{Timestamp: sm.Timestamp, CPUPercent: sm.CPUPercent, MemoryPercent: sm.MemoryPercent})
	}
	return api.ProcessHistoryView{PID: pid, Points: points, AvgCPU: avgCPU, MaxCPU: maxCPU, AvgMemory: avgMem}, nil
}

func (s *Supervisor) ProcessTree(pid int32) (api.ProcessTreeView, error) {
	self, parent, children, err := s.inspector.Tree(pid)
	if err != nil {
		return api.ProcessTreeView{}, err
	}
	view := api.ProcessTreeView{
		Process: api.ProcessView{PID: self.PID, Name: self.Name, CPUPercent: self.CPUPercent, MemoryPercent: self.MemoryPercent, Status: self.Status},
	}
	if parent != nil {
		p := api.ProcessView{PID: parent.PID, Name: parent.Name, CPUPercent: parent.CPUPercent, MemoryPercent: parent.MemoryPercent, Status: parent.Status}
		view.Parent = &p
	}
	for _, c := range children {
		view.Children = append(view.Children, api.ProcessView{PID: c.PID, Name: c.Name, CPUPercent: c.CPUPercent, MemoryPercent: c.MemoryPercent, Status: c.Status})
	}
	return view, nil
}

func (s *Supervisor) EffectiveConfig() map[string]any {
	return s.store.Snapshot().Raw()
}

func (s *Supervisor) ConfigSchema() map[string]string {
	return config.Schema()
}

// ApplyConfigOverrides applies runtime overrides, then propagates
// hot-reloadable changes to the already-running components that cache
// their own copy of the settings (log level, keyword matcher, alert
// rules; spec.md §4.8).
func (s *Supervisor) ApplyConfigOverrides(settings map[string]any) (map[string]any, error) {
	changes, err := s.store.ApplyOverrides(settings)
	if err != nil {
		return nil, err
	}
	s.applyHotReload(changes)
	return changes, nil
}

func (s *Supervisor) ReloadConfigFromBackend() (map[string]any, error) {
	changes, err := s.store.ReloadFromBackend(s.nodeID, s.backendClnt)
	if err != nil {
		return nil, err
	}
	s.applyHotReload(changes)
	return changes, nil
}

// applyHotReload reacts to changed dotted-path keys by rebuilding the
// in-memory structures that don't read the Snapshot on every use
// (spec.md §4.8 hot-reloadable set).
func (s *Supervisor) applyHotReload(changes map[string]any) {
	if len(changes) == 0 {
		return
	}
	snap := s.store.Snapshot()

	if _, ok := changes["log_level"]; ok {
		cfg := log.Config{Level: snap.GetString("log_level", "info"), File: snap.GetString("log_file", "")}
		if err := log.Configure(cfg); err != nil {
			logger.Errorf("hot reload log_level failed: %v", err)
		}
	}
	if _, ok := changes["tailer.keywords"]; ok {
		if err := s.matcher.Update(snap.GetStringSlice("tailer.keywords", nil)); err != nil {
			logger.Errorf("hot reload tailer.keywords failed: %v", err)
		}
	}
	if _, ok := changes["alerts.rules"]; ok {
		s.alertEngine.UpdateRules(parseAlertRules(snap.Sub("alerts.rules")))
	}
}
