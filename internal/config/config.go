// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package config implements the Config Store (C2, spec.md §4.8): a
// layered merge of hardcoded defaults, an on-disk file, a
// backend-fetched layer, and runtime overrides from the control API,
// exposed as an atomically-swapped Snapshot. It also owns the secrets
// file and the durable backend-fetch cache.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/hostwatch/agent/internal/errkind"
	"github.com/hostwatch/agent/internal/log"
)

var logger = log.For("config")

// Snapshot is an immutable effective configuration (spec.md §3 "Config
// Snapshot"). Retrievable atomically as a whole or by dotted path.
type Snapshot struct {
	data map[string]any
	v    *viper.Viper // read-only clone, used for typed Get* helpers
}

// dotted path retrieval delegates to a private viper instance built
// fresh from data at snapshot-build time, so readers never observe a
// partially merged map (spec.md P7).

// GetString returns the value at path converted to a string, or def if
// absent.
func (s *Snapshot) GetString(path string, def string) string {
	if s.v.IsSet(path) {
		return s.v.GetString(path)
	}
	return def
}

// GetInt returns the int at path, or def if absent.
func (s *Snapshot) GetInt(path string, def int) int {
	if s.v.IsSet(path) {
		return s.v.GetInt(path)
	}
	return def
}

// GetFloat64 returns the float64 at path, or def if absent.
func (s *Snapshot) GetFloat64(path string, def float64) float64 {
	if s.v.IsSet(path) {
		return s.v.GetFloat64(path)
	}
	return def
}

// GetBool returns the bool at path, or def if absent.
func (s *Snapshot) GetBool(path string, def bool) bool {
	if s.v.IsSet(path) {
		return s.v.GetBool(path)
	}
	return def
}

// GetDuration interprets the int at path as seconds.
func (s *Snapshot) GetDuration(path string, def time.Duration) time.Duration {
	if s.v.IsSet(path) {
		return time.Duration(s.v.GetInt(path)) * time.Second
	}
	return def
}

// GetStringSlice returns the []string at path, or def if absent.
func (s *Snapshot) GetStringSlice(path string, def []string) []string {
	if s.v.IsSet(path) {
		return s.v.GetStringSlice(path)
	}
	return def
}

// GetIntSlice returns the []int at path, or def if absent.
func (s *Snapshot) GetIntSlice(path string, def []int) []int {
	if s.v.IsSet(path) {
		return s.v.GetIntSlice(path)
	}
	return def
}

// Sub returns the raw map at path for components that own their own
// typed parsing (e.g. alert rules, monitored files).
func (s *Snapshot) Sub(path string) map[string]any {
	if v := s.v.Get(path); v != nil {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// Raw returns the full effective configuration as a plain map, with
// secrets never present (they live in a separate store entirely).
func (s *Snapshot) Raw() map[string]any {
	return s.data
}

// Store owns the layered merge and the atomically-swapped Snapshot.
type Store struct {
	mu       sync.Mutex // serializes writers (file watch, backend fetch, overrides)
	defaults *viper.Viper
	fileV    *viper.Viper
	backend  map[string]any
	override map[string]any

	snapshot atomic.Pointer[Snapshot]

	configFilePath string
	cacheFilePath  string
	secrets        *Secrets

	watcher *fsnotify.Watcher
}

// New constructs a Store, loading the on-disk config file (if any)
// and the secrets file, then building the first Snapshot from
// defaults+file (backend layer populated later via LoadBackendOrCache).
func New(configFilePath, secretsFilePath, cacheFilePath string) (*Store, error) {
	defaults := viper.New()
	registerDefaults(defaults)

	fileV := viper.New()
	if configFilePath != "" {
		fileV.SetConfigFile(configFilePath)
		if err := fileV.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, errkind.Wrapf(errkind.Fatal, "read config file %s: %w", configFilePath, err)
			}
			logger.Warnf("config file %s not found, using defaults only", configFilePath)
		}
	}

	secrets, err := LoadSecrets(secretsFilePath)
	if err != nil {
		return nil, errkind.Wrapf(errkind.Fatal, "load secrets: %w", err)
	}

	s := &Store{
		defaults:       defaults,
		fileV:          fileV,
		backend:        map[string]any{},
		override:       map[string]any{},
		configFilePath: configFilePath,
		cacheFilePath:  cacheFilePath,
		secrets:        secrets,
	}
	s.rebuild()
	return s, nil
}

// rebuild merges the four layers into a fresh viper instance and
// atomically swaps the Snapshot. Must be called with mu held.
func (s *Store) rebuild() {
	merged := viper.New()
	for k, v := range s.defaults.AllSettings() {
		merged.SetDefault(k, v)
	}
	_ = merged.MergeConfigMap(s.fileV.AllSettings())
	_ = merged.MergeConfigMap(s.backend)
	for k, v := range s.override {
		merged.Set(k, v)
	}

	snap := &Snapshot{data: merged.AllSettings(), v: merged}
	s.snapshot.Store(snap)
}

// Snapshot returns the current effective configuration. Safe for
// concurrent callers; never blocks on a writer.
func (s *Store) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Secrets returns the secrets store. Never exposed through the
// control API's config getters.
func (s *Store) Secrets() *Secrets {
	return s.secrets
}

// LoadBackendOrCache fetches the backend config layer for nodeID; on
// failure it falls back to the durable on-disk cache (spec.md §4.8,
// §7 "Config fetch unreachable").
func (s *Store) LoadBackendOrCache(nodeID string, client BackendClient) error {
	cfg, err := client.FetchConfig(nodeID)
	if err == nil {
		s.mu.Lock()
		s.backend = cfg
		s.rebuild()
		s.mu.Unlock()
		return s.writeCache(cfg)
	}

	logger.Warnf("backend config fetch failed, falling back to durable cache: %v", err)
	cached, rerr := s.readCache()
	if rerr != nil {
		logger.Warnf("no durable cache available either: %v", rerr)
		return nil // defaults+file layer still usable; not fatal
	}
	s.mu.Lock()
	s.backend = cached
	s.rebuild()
	s.mu.Unlock()
	return nil
}

func (s *Store) writeCache(cfg map[string]any) error {
	if s.cacheFilePath == "" {
		return nil
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.cacheFilePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.cacheFilePath, b, 0o644)
}

func (s *Store) readCache() (map[string]any, error) {
	if s.cacheFilePath == "" {
		return nil, fmt.Errorf("no cache file configured")
	}
	b, err := os.ReadFile(s.cacheFilePath)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ReloadFromBackend forces a fresh backend fetch, used by
// POST /api/config/reload.
func (s *Store) ReloadFromBackend(nodeID string, client BackendClient) (changes map[string]any, err error) {
	before := s.Snapshot().Raw()
	if err := s.LoadBackendOrCache(nodeID, client); err != nil {
		return nil, err
	}
	after := s.Snapshot().Raw()
	return diff(before, after), nil
}

// ApplyOverrides validates settings against the schema and applies
// them as the highest-precedence layer (spec.md §4.8 precedence level
// 4, control-API runtime overrides).
func (s *Store) ApplyOverrides(settings map[string]any) (changes map[string]any, err error) {
	validated, verr := ValidateOverrides(settings)
	if verr != nil {
		return nil, errkind.Wrap(errkind.Permanent, verr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.snapshot.Load().Raw()
	for k, v := range validated {
		s.override[k] = v
	}
	s.rebuild()
	after := s.snapshot.Load().Raw()
	return diff(before, after), nil
}

// WatchFile starts an fsnotify watch on the on-disk config file so
// external edits re-merge the file layer (spec.md §4.8 hot reload).
// Cancellation stops the watch and releases the inotify handle.
func (s *Store) WatchFile(done <-chan struct{}) error {
	if s.configFilePath == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errkind.Wrap(errkind.Transient, err)
	}
	if err := w.Add(filepath.Dir(s.configFilePath)); err != nil {
		w.Close()
		return errkind.Wrap(errkind.Transient, err)
	}
	s.watcher = w

	go func() {
		defer w.Close()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.configFilePath) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.reloadFile()
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warnf("config file watch error: %v", werr)
			}
		}
	}()
	return nil
}

func (s *Store) reloadFile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fileV.ReadInConfig(); err != nil {
		logger.Warnf("reload config file failed: %v", err)
		return
	}
	s.rebuild()
	logger.Infof("config file reloaded")
}

// diff returns keys whose values changed between two flattened
// snapshots, for the control API's {changes, details} response shape.
func diff(before, after map[string]any) map[string]any {
	out := map[string]any{}
	flatBefore := flatten("", before)
	flatAfter := flatten("", after)
	for k, av := range flatAfter {
		if bv, ok := flatBefore[k]; !ok || fmt.Sprint(bv) != fmt.Sprint(av) {
			out[k] = av
		}
	}
	return out
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = v
	}
	return out
}
