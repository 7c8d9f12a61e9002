// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"node_id":         s.backend.NodeID(),
		"version":         s.backend.Version(),
		"uptime_seconds":  int64(time.Since(s.backend.StartedAt()).Seconds()),
		"components":      s.backend.ComponentStatuses(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":          s.backend.NodeID(),
		"version":          s.backend.Version(),
		"uptime_seconds":   int64(time.Since(s.backend.StartedAt()).Seconds()),
		"monitored_files":  s.backend.MonitoredFiles(),
		"broadcaster_pids": s.backend.BroadcasterPIDs(),
		"suppression":      s.backend.SuppressionStats(),
		"components":       s.backend.ComponentStatuses(),
	})
}

type controlRequest struct {
	Command string `json:"command"`
}

// handleControl dispatches start/stop commands for the two
// broadcasters (spec.md §6 POST /api/control).
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	var err error
	switch req.Command {
	case "start_livelogs":
		err = s.backend.StartLiveLogs()
	case "stop_livelogs":
		err = s.backend.StopLiveLogs()
	case "start_telemetry":
		err = s.backend.StartLiveMetrics()
	case "stop_telemetry":
		err = s.backend.StopLiveMetrics()
	default:
		writeError(w, http.StatusBadRequest, "unrecognised command: "+req.Command)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"command": req.Command, "result": "ok"})
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	sortBy := r.URL.Query().Get("sortBy")
	if sortBy == "" {
		sortBy = "cpu"
	}
	procs, err := s.backend.Processes(limit, sortBy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, procs)
}

func (s *Server) handleProcessDetail(w http.ResponseWriter, r *http.Request) {
	pid, err := parsePID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pid")
		return
	}
	proc, found, err := s.backend.Process(pid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "process not found")
		return
	}
	writeJSON(w, http.StatusOK, proc)
}

type killRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleProcessKill(w http.ResponseWriter, r *http.Request) {
	pid, err := parsePID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pid")
		return
	}
	var req killRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.backend.KillProcess(pid, req.Force); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pid": pid})
}

func (s *Server) handleProcessHistory(w http.ResponseWriter, r *http.Request) {
	pid, err := parsePID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pid")
		return
	}
	hours := 1
	if v := r.URL.Query().Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hours = n
		}
	}
	hist, err := s.backend.ProcessHistory(pid, hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleProcessTree(w http.ResponseWriter, r *http.Request) {
	pid, err := parsePID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pid")
		return
	}
	tree, err := s.backend.ProcessTree(pid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.EffectiveConfig())
}

type configPostRequest struct {
	Settings map[string]any `json:"settings"`
}

func (s *Server) handleConfigPost(w http.ResponseWriter, r *http.Request) {
	var req configPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	changes, err := s.backend.ApplyConfigOverrides(req.Settings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes, "details": "applied"})
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	changes, err := s.backend.ReloadConfigFromBackend()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "changes": changes, "details": "reloaded from backend"})
}

func (s *Server) handleConfigSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.ConfigSchema())
}

func (s *Server) handleMonitoredFilesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.MonitoredFiles())
}

func (s *Server) handleMonitoredFilesCreate(w http.ResponseWriter, r *http.Request) {
	var input MonitoredFileSpecInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.backend.AddMonitoredFile(input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleMonitoredFilesUpdate(w http.ResponseWriter, r *http.Request) {
	id := muxVar(r, "id")
	var input MonitoredFileSpecInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.backend.UpdateMonitoredFile(id, input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleMonitoredFilesDelete(w http.ResponseWriter, r *http.Request) {
	id := muxVar(r, "id")
	if err := s.backend.RemoveMonitoredFile(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
