// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package api implements the Control API (C11, spec.md §4.10/§6): a
// local HTTP surface that never blocks the hot path — every handler
// either reads a current atomic snapshot or posts a control event.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/hostwatch/agent/internal/log"
)

var logger = log.For("api")

// ComponentStatus is one row of /api/health's components map (spec.md
// §7: "each component reports running|stopped|degraded").
type ComponentStatus string

const (
	StatusRunning  ComponentStatus = "running"
	StatusStopped  ComponentStatus = "stopped"
	StatusDegraded ComponentStatus = "degraded"
)

// Backend is everything the Control API reads from or posts control
// events to, implemented by *supervisor.Supervisor. Kept as a narrow
// interface so the api package never imports supervisor (spec.md §9:
// "components never call back into the Supervisor" — here it's the
// reverse binding, Supervisor implements this interface for api).
type Backend interface {
	NodeID() string
	Version() string
	StartedAt() time.Time
	ComponentStatuses() map[string]ComponentStatus

	MonitoredFiles() []MonitoredFileView
	AddMonitoredFile(spec MonitoredFileSpecInput) error
	UpdateMonitoredFile(id string, spec MonitoredFileSpecInput) error
	RemoveMonitoredFile(id string) error

	SuppressionStats() SuppressionStatsView

	StartLiveLogs() error
	StopLiveLogs() error
	StartLiveMetrics() error
	StopLiveMetrics() error
	BroadcasterPIDs() map[string]int

	Processes(limit int, sortBy string) ([]ProcessView, error)
	Process(pid int32) (ProcessView, bool, error)
	KillProcess(pid int32, force bool) error
	ProcessHistory(pid int32, hours int) (ProcessHistoryView, error)
	ProcessTree(pid int32) (ProcessTreeView, error)

	EffectiveConfig() map[string]any
	ConfigSchema() map[string]string
	ApplyConfigOverrides(settings map[string]any) (map[string]any, error)
	ReloadConfigFromBackend() (map[string]any, error)
}

// MonitoredFileView / Input and the process/suppression view types are
// the wire shapes for the route table in spec.md §6.
type MonitoredFileView struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Label    string `json:"label"`
	Priority string `json:"priority"`
	Enabled  bool   `json:"enabled"`
}

type MonitoredFileSpecInput struct {
	Path     string `json:"path"`
	Label    string `json:"label"`
	Priority string `json:"priority"`
	Enabled  bool   `json:"enabled"`
}

type SuppressionStatsView struct {
	RuleCount    int       `json:"rule_count"`
	LastRefresh  time.Time `json:"last_refresh"`
	TotalMatches int64     `json:"total_matches"`
}

type ProcessView struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float32 `json:"memory_percent"`
	Status        string  `json:"status"`
}

type ProcessHistoryPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float32   `json:"memory_percent"`
}

type ProcessHistoryView struct {
	PID        int32                 `json:"pid"`
	Points     []ProcessHistoryPoint `json:"points"`
	AvgCPU     float64               `json:"avg_cpu_percent"`
	MaxCPU     float64               `json:"max_cpu_percent"`
	AvgMemory  float32               `json:"avg_memory_percent"`
}

type ProcessTreeView struct {
	Process  ProcessView   `json:"process"`
	Parent   *ProcessView  `json:"parent,omitempty"`
	Children []ProcessView `json:"children"`
}

// Server is the Control API HTTP server.
type Server struct {
	backend Backend
	http    *http.Server
	router  *mux.Router
}

// New builds the route table described in spec.md §6.
func New(backend Backend) *Server {
	s := &Server{backend: backend, router: mux.NewRouter()}

	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/control", s.handleControl).Methods(http.MethodPost)

	s.router.HandleFunc("/api/processes", s.handleProcesses).Methods(http.MethodGet)
	s.router.HandleFunc("/api/processes/{pid}", s.handleProcessDetail).Methods(http.MethodGet)
	s.router.HandleFunc("/api/processes/{pid}/kill", s.handleProcessKill).Methods(http.MethodPost)
	s.router.HandleFunc("/api/processes/{pid}/history", s.handleProcessHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/api/processes/{pid}/tree", s.handleProcessTree).Methods(http.MethodGet)

	s.router.HandleFunc("/api/config", s.handleConfigGet).Methods(http.MethodGet)
	s.router.HandleFunc("/api/config", s.handleConfigPost).Methods(http.MethodPost)
	s.router.HandleFunc("/api/config/reload", s.handleConfigReload).Methods(http.MethodPost)
	s.router.HandleFunc("/api/config/schema", s.handleConfigSchema).Methods(http.MethodGet)

	s.router.HandleFunc("/api/monitored-files", s.handleMonitoredFilesList).Methods(http.MethodGet)
	s.router.HandleFunc("/api/monitored-files", s.handleMonitoredFilesCreate).Methods(http.MethodPost)
	s.router.HandleFunc("/api/monitored-files/{id}", s.handleMonitoredFilesUpdate).Methods(http.MethodPut)
	s.router.HandleFunc("/api/monitored-files/{id}", s.handleMonitoredFilesDelete).Methods(http.MethodDelete)

	s.http = &http.Server{Handler: s.router}
	return s
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Errorf("control API server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully within the Supervisor's 10s
// graceful-shutdown window (spec.md §4.11).
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("encode response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parsePID(r *http.Request) (int32, error) {
	v := mux.Vars(r)["pid"]
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

func muxVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
