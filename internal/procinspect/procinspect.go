// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package procinspect backs the Control API's process-inspection
// routes (spec.md §6: /api/processes, /{pid}, /{pid}/kill,
// /{pid}/history, /{pid}/tree) with gopsutil process lookups and an
// in-memory ring buffer of recent samples per pid.
package procinspect

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Sample is one historical reading for a pid.
type Sample struct {
	Timestamp     time.Time
	CPUPercent    float64
	MemoryPercent float32
}

const ringCapacity = 720 // ~1hr at 5s, generous enough for spec.md's "hours" query

// Inspector is the Control API's process backend.
type Inspector struct {
	mu      sync.Mutex
	history map[int32][]Sample
}

// New constructs an Inspector.
func New() *Inspector {
	return &Inspector{history: map[int32][]Sample{}}
}

// View is the flat process shape used by list/detail/tree endpoints.
type View struct {
	PID           int32
	Name          string
	CPUPercent    float64
	MemoryPercent float32
	Status        string
	PPID          int32
}

// List returns up to limit processes sorted by sortBy ("cpu" or
// "memory" descending).
func (i *Inspector) List(limit int, sortBy string) ([]View, error) {
	pids, err := process.Pids()
	if err != nil {
		return nil, fmt.Errorf("list pids: %w", err)
	}

	views := make([]View, 0, len(pids))
	for _, pid := range pids {
		v, err := i.describe(pid)
		if err != nil {
			continue
		}
		views = append(views, v)
		i.record(pid, v)
	}

	sort.Slice(views, func(a, b int) bool {
		if sortBy == "memory" {
			return views[a].MemoryPercent > views[b].MemoryPercent
		}
		return views[a].CPUPercent > views[b].CPUPercent
	})
	if limit > 0 && limit < len(views) {
		views = views[:limit]
	}
	return views, nil
}

// Get returns the current view of one pid.
func (i *Inspector) Get(pid int32) (View, bool, error) {
	exists, err := process.PidExists(pid)
	if err != nil {
		return View{}, false, err
	}
	if !exists {
		return View{}, false, nil
	}
	v, err := i.describe(pid)
	if err != nil {
		return View{}, false, err
	}
	i.record(pid, v)
	return v, true, nil
}

func (i *Inspector) describe(pid int32) (View, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return View{}, err
	}
	name, _ := p.Name()
	cpuPct, _ := p.CPUPercent()
	memPct, _ := p.MemoryPercent()
	status, _ := p.Status()
	ppid, _ := p.Ppid()

	st := ""
	if len(status) > 0 {
		st = status[0]
	}
	return View{PID: pid, Name: name, CPUPercent: cpuPct, MemoryPercent: memPct, Status: st, PPID: ppid}, nil
}

func (i *Inspector) record(pid int32, v View) {
	i.mu.Lock()
	defer i.mu.Unlock()
	buf := i.history[pid]
	buf = append(buf, Sample{Timestamp: time.Now().UTC(), CPUPercent: v.CPUPercent, MemoryPercent: v.MemoryPercent})
	if len(buf) > ringCapacity {
		buf = buf[len(buf)-ringCapacity:]
	}
	i.history[pid] = buf
}

// History returns samples within the last `hours` for pid plus basic
// statistics (spec.md §6 "list + statistics").
func (i *Inspector) History(pid int32, hours int) ([]Sample, float64, float64, float32, error) {
	i.mu.Lock()
	buf := append([]Sample(nil), i.history[pid]...)
	i.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	var filtered []Sample
	var sumCPU, maxCPU float64
	var sumMem float32
	for _, s := range buf {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		filtered = append(filtered, s)
		sumCPU += s.CPUPercent
		sumMem += s.MemoryPercent
		if s.CPUPercent > maxCPU {
			maxCPU = s.CPUPercent
		}
	}
	if len(filtered) == 0 {
		return filtered, 0, 0, 0, nil
	}
	return filtered, sumCPU / float64(len(filtered)), maxCPU, sumMem / float32(len(filtered)), nil
}

// Tree returns the parent and direct children of pid.
func (i *Inspector) Tree(pid int32) (self View, parent *View, children []View, err error) {
	self, found, err := i.Get(pid)
	if err != nil {
		return View{}, nil, nil, err
	}
	if !found {
		return View{}, nil, nil, fmt.Errorf("process %d not found", pid)
	}

	if self.PPID != 0 {
		if p, found, perr := i.Get(self.PPID); perr == nil && found {
			parent = &p
		}
	}

	pids, _ := process.Pids()
	for _, candidate := range pids {
		p, err := process.NewProcess(candidate)
		if err != nil {
			continue
		}
		ppid, _ := p.Ppid()
		if ppid == pid {
			if v, found, _ := i.Get(candidate); found {
				children = append(children, v)
			}
		}
	}
	return self, parent, children, nil
}

// Kill terminates pid; force selects SIGKILL over SIGTERM.
func (i *Inspector) Kill(pid int32, force bool) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	if force {
		return p.Kill()
	}
	return p.Terminate()
}
