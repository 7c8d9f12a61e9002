// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package supervisor implements the Supervisor (C12, spec.md §4.11): it
// loads the Config Store, wires every other component together in the
// spec's startup order, drives the heartbeat loop, and owns the single
// process-wide cancellation that bounds graceful shutdown to 10s. It
// implements api.Backend so the Control API never imports any other
// component package directly.
package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostwatch/agent/internal/alert"
	"github.com/hostwatch/agent/internal/api"
	"github.com/hostwatch/agent/internal/broadcast"
	"github.com/hostwatch/agent/internal/broker"
	"github.com/hostwatch/agent/internal/config"
	"github.com/hostwatch/agent/internal/log"
	"github.com/hostwatch/agent/internal/model"
	"github.com/hostwatch/agent/internal/nodeid"
	"github.com/hostwatch/agent/internal/procinspect"
	"github.com/hostwatch/agent/internal/sampler"
	"github.com/hostwatch/agent/internal/spool"
	"github.com/hostwatch/agent/internal/suppression"
	"github.com/hostwatch/agent/internal/tailer"
	"github.com/hostwatch/agent/internal/telemetry"
)

var logger = log.For("supervisor")

// Version is the build-reported agent version (spec.md §6 /api/health).
// Overridden at link time in release builds via -ldflags; "dev" in a
// plain build.
var Version = "dev"

const shutdownWindow = 10 * time.Second

// tailerHandle tracks one running Tailer's goroutine so hot reload and
// shutdown can cancel it individually.
type tailerHandle struct {
	spec   model.FileSpec
	cancel context.CancelFunc
}

// Supervisor is C12: it owns every other component's lifecycle.
type Supervisor struct {
	configPath  string
	secretsPath string
	cachePath   string
	dataDir     string

	nodeID      string
	hostID      string
	application string
	startedAt   time.Time

	store       *config.Store
	backendClnt config.BackendClient
	spool       *spool.Spool
	brokerPub   *broker.Publisher
	telemetry   *telemetry.Publisher
	alertEngine *alert.Engine
	metricSmplr *sampler.Sampler
	suppCache   *suppression.Cache
	suppStore   *suppression.SQLStore
	logBcast    *broadcast.LogBroadcaster
	metricBcast *broadcast.MetricBroadcaster
	controlAPI  *api.Server
	inspector   *procinspect.Inspector
	matcher     *tailer.Matcher

	mu             sync.Mutex
	fileSpecs      map[string]model.FileSpec
	tailers        map[string]*tailerHandle
	statuses       map[string]api.ComponentStatus
	nextWorkerID   int
	logWorkerID    int
	metricWorkerID int

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// Options configures New.
type Options struct {
	ConfigPath  string
	SecretsPath string
	CachePath   string
	DataDir     string
	Application string
}

// New constructs a Supervisor. It performs only the first step of
// spec.md §4.11's startup order (load Config Store); Run performs the
// rest.
func New(opts Options) (*Supervisor, error) {
	store, err := config.New(opts.ConfigPath, opts.SecretsPath, opts.CachePath)
	if err != nil {
		return nil, err
	}

	snap := store.Snapshot()
	if err := log.Configure(log.Config{
		Level: snap.GetString("log_level", "info"),
		File:  snap.GetString("log_file", ""),
	}); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = snap.GetString("node_id_dir", "/var/lib/hostwatch")
	}
	id, persistent, err := nodeid.Resolve(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve node id: %w", err)
	}
	if !persistent {
		logger.Warnf("node id %s is IP-derived, not persisted (data dir %s unwritable)", id, dataDir)
	}

	application := opts.Application
	if application == "" {
		application = "hostwatch-agent"
	}

	s := &Supervisor{
		configPath:  opts.ConfigPath,
		secretsPath: opts.SecretsPath,
		cachePath:   opts.CachePath,
		dataDir:     dataDir,
		nodeID:      id,
		hostID:      id,
		application: application,
		startedAt:   time.Now().UTC(),
		store:       store,
		fileSpecs:   map[string]model.FileSpec{},
		tailers:     map[string]*tailerHandle{},
		statuses:    map[string]api.ComponentStatus{},
		inspector:   procinspect.New(),
	}

	authToken, _ := store.Secrets().Get("backend_auth_token")
	if authToken == "" {
		authToken = snap.GetString("backend.auth_token", "")
	}
	s.backendClnt = config.NewHTTPBackendClient(
		snap.GetString("backend.url", ""),
		snap.GetString("backend.config_path", "/settings/daemon"),
		authToken,
	)

	return s, nil
}

// Run executes the remainder of spec.md §4.11's startup order, then
// blocks serving the heartbeat loop until ctx is cancelled, at which
// point it performs the bounded graceful shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	s.rootCtx, s.rootCancel = context.WithCancel(ctx)
	defer s.rootCancel()

	if err := s.store.LoadBackendOrCache(s.nodeID, s.backendClnt); err != nil {
		logger.Warnf("initial backend config fetch failed: %v", err)
	}
	if err := s.store.WatchFile(s.rootCtx.Done()); err != nil {
		logger.Warnf("config file watch not started: %v", err)
	}

	snap := s.store.Snapshot()

	spoolPath := snap.GetString("spool.path", "/var/lib/hostwatch/spool.db")
	spoolMax := snap.GetInt("spool.max_size", 1000)
	sp, err := spool.Open(spoolPath, spoolMax)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	s.spool = sp
	s.setStatus("spool", api.StatusRunning)

	s.brokerPub = broker.New(
		snap.GetString("broker.url", ""),
		snap.GetString("broker.exchange", "hostwatch.errors"),
		snap.GetString("broker.routing_key", "error_event"),
		10*time.Second,
	)
	s.setStatus("broker_publisher", api.StatusRunning)

	authToken, _ := s.store.Secrets().Get("backend_auth_token")
	if authToken == "" {
		authToken = snap.GetString("backend.auth_token", "")
	}
	s.telemetry = telemetry.New(s.spool, telemetry.Config{
		Endpoint:       snap.GetString("backend.url", "") + snap.GetString("backend.telemetry_path", "/api/v1/telemetry"),
		AuthToken:      authToken,
		BatchSize:      snap.GetInt("publisher.batch_size", 10),
		MaxRetries:     snap.GetInt("publisher.max_retries", 3),
		BackoffSeconds: snap.GetIntSlice("publisher.backoff_seconds", []int{5, 15, 60}),
		RequestTimeout: snap.GetDuration("backend.request_timeout_seconds", 10*time.Second),
	})
	s.setStatus("telemetry_publisher", api.StatusRunning)
	s.spawn("telemetry-publisher", func(ctx context.Context) {
		s.runTicker(ctx, snap.GetDuration("publisher.interval_seconds", 60*time.Second), s.telemetry.RunOnce)
	})

	s.alertEngine = alert.New(
		parseAlertRules(snap.Sub("alerts.rules")),
		s.hostID, s.application,
		snap.GetString("backend.url", "")+snap.GetString("backend.alert_path", "/api/v1/alerts"),
		authToken,
		snap.GetDuration("backend.request_timeout_seconds", 10*time.Second),
	)
	s.setStatus("alert_engine", api.StatusRunning)

	dsn := snap.GetString("suppression.db_dsn", "")
	if dsn != "" {
		sqlStore, serr := suppression.NewSQLStore(dsn)
		if serr != nil {
			logger.Errorf("suppression store init failed, suppression disabled: %v", serr)
			s.setStatus("suppression_cache", api.StatusDegraded)
		} else {
			s.suppStore = sqlStore
			s.suppCache = suppression.New(sqlStore, snap.GetDuration("suppression.ttl_seconds", 60*time.Second))
			s.setStatus("suppression_cache", api.StatusRunning)
			s.spawn("suppression-writeback", func(ctx context.Context) {
				s.runTicker(ctx, snap.GetDuration("suppression.ttl_seconds", 60*time.Second), s.suppCache.FlushWriteBackTick)
			})
		}
	} else {
		s.setStatus("suppression_cache", api.StatusStopped)
	}

	s.metricBcast = broadcast.NewMetricBroadcaster(s.hostID, snap.GetDuration("sampler.interval_seconds", 3*time.Second))
	s.logBcast = broadcast.NewLogBroadcaster(s.hostID)
	s.setStatus("live_log_broadcaster", api.StatusStopped)
	s.setStatus("live_metric_broadcaster", api.StatusStopped)

	s.metricSmplr = sampler.New(
		s.hostID,
		snap.GetDuration("sampler.interval_seconds", 3*time.Second),
		snap.GetDuration("sampler.jitter_seconds", 10*time.Second),
		snap.GetBool("sampler.per_core_cpu", true),
		snap.GetInt("sampler.top_n_processes", 5),
		s.spool,
		s.metricBcast,
		s.alertEngine,
	)
	s.setStatus("sampler", api.StatusRunning)
	s.spawn("sampler", s.metricSmplr.Run)

	matcher, merr := tailer.NewMatcher(snap.GetStringSlice("tailer.keywords", nil))
	if merr != nil {
		return fmt.Errorf("compile keyword matcher: %w", merr)
	}
	s.matcher = matcher

	specs := parseFileSpecsAny(snap.Raw()["monitored_files"])
	maxTailers := snap.GetInt("tailer.max_tailers", 100)
	enabledCount := 0
	for _, spec := range specs {
		if spec.Enabled {
			enabledCount++
		}
	}
	// spec.md §9: exceeding tailer.max_tailers rejects the
	// configuration outright; a Supervisor startup failure is fatal
	// (spec.md §7), so this config error must fail Run rather than
	// silently truncate the monitored-file list.
	if enabledCount > maxTailers {
		return fmt.Errorf("monitored_files has %d enabled entries, exceeding tailer.max_tailers (%d)", enabledCount, maxTailers)
	}

	for _, spec := range specs {
		s.mu.Lock()
		s.fileSpecs[spec.ID] = spec
		s.mu.Unlock()
		if spec.Enabled {
			s.startTailer(spec)
		}
	}

	s.controlAPI = api.New(s)
	addr := fmt.Sprintf(":%d", snap.GetInt("control_api.port", 8754))
	if err := s.controlAPI.Start(addr); err != nil {
		return fmt.Errorf("start control API on %s: %w", addr, err)
	}
	s.setStatus("control_api", api.StatusRunning)

	logger.Infof("hostwatch agent started: node_id=%s version=%s", s.nodeID, Version)

	s.spawn("heartbeat", func(ctx context.Context) {
		s.runTicker(ctx, snap.GetDuration("heartbeat.interval_seconds", 30*time.Second), s.heartbeatOnce)
	})

	<-s.rootCtx.Done()
	return s.shutdown()
}

// spawn runs fn in a tracked goroutine bound to the Supervisor's root
// context, counted in the shutdown WaitGroup.
func (s *Supervisor) spawn(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.rootCtx)
	}()
}

// runTicker drives fn on a fixed interval until ctx is cancelled, the
// shared shape behind the heartbeat, telemetry publish, and suppression
// write-back loops (spec.md §5 "one worker per ... Heartbeat").
func (s *Supervisor) runTicker(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}

type heartbeatPayload struct {
	NodeID    string `json:"node_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// heartbeatOnce emits one liveness ping. Failure is logged, never
// fatal (spec.md §4.11).
func (s *Supervisor) heartbeatOnce(ctx context.Context) {
	snap := s.store.Snapshot()
	url := snap.GetString("backend.url", "") + snap.GetString("backend.heartbeat_path", "/api/v1/heartbeat")
	body, err := json.Marshal(heartbeatPayload{
		NodeID:    s.nodeID,
		Status:    "running",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		logger.Errorf("marshal heartbeat: %v", err)
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		logger.Errorf("build heartbeat request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Warnf("heartbeat failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		logger.Warnf("heartbeat rejected with status %d", resp.StatusCode)
	}
}

// startTailer launches one Tailer goroutine for spec, tracked for
// individual cancellation on removal or shutdown.
func (s *Supervisor) startTailer(spec model.FileSpec) {
	snap := s.store.Snapshot()
	cfg := tailer.Config{
		Spec:             spec,
		HostID:           s.hostID,
		NodeID:           s.nodeID,
		Application:      s.application,
		SelfLogPath:      snap.GetString("log_file", ""),
		SelfLogTag:       snap.GetString("tailer.self_log_tag", "[hostwatch]"),
		PollMissing:      snap.GetDuration("tailer.poll_file_missing_seconds", 5*time.Second),
		PollNoData:       snap.GetDuration("tailer.poll_no_data_seconds", time.Second),
		RotationEOFAfter: snap.GetDuration("tailer.rotation_eof_seconds", 30*time.Second),
	}

	var supp tailer.SuppressionChecker
	if s.suppCache != nil {
		supp = s.suppCache
	}
	t := tailer.New(cfg, s.matcher, s.brokerPub, supp, s.logBcast)

	ctx, cancel := context.WithCancel(s.rootCtx)
	s.mu.Lock()
	s.tailers[spec.ID] = &tailerHandle{spec: spec, cancel: cancel}
	s.statuses["tailer:"+spec.ID] = api.StatusRunning
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t.Run(ctx)
	}()
}

func (s *Supervisor) stopTailer(id string) bool {
	s.mu.Lock()
	h, ok := s.tailers[id]
	if ok {
		delete(s.tailers, id)
		delete(s.statuses, "tailer:"+id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	return true
}

func (s *Supervisor) setStatus(name string, st api.ComponentStatus) {
	s.mu.Lock()
	s.statuses[name] = st
	s.mu.Unlock()
}

// shutdown implements spec.md §4.11's shutdown sequence within the
// bounded graceful window: cancel every worker, let the spool persist
// (it's always-durable bbolt, nothing extra to flush), close
// broadcasters with a normal close code, stop the control API, then
// close the broker connection, the suppression store and the spool.
func (s *Supervisor) shutdown() error {
	logger.Infof("shutdown signalled, draining within %s", shutdownWindow)
	s.rootCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownWindow)
	defer cancel()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warnf("graceful shutdown window elapsed before all workers drained")
	}

	if s.logBcast != nil {
		_ = s.logBcast.Stop(ctx)
	}
	if s.metricBcast != nil {
		_ = s.metricBcast.Stop(ctx)
	}
	if s.controlAPI != nil {
		_ = s.controlAPI.Stop()
	}
	if s.brokerPub != nil {
		s.brokerPub.Close()
	}
	if s.suppStore != nil {
		_ = s.suppStore.Close()
	}
	if s.spool != nil {
		_ = s.spool.Close()
	}
	log.Flush()
	return nil
}

// Shutdown requests cancellation from outside Run's calling goroutine
// (e.g. a signal handler in cmd/agent).
func (s *Supervisor) Shutdown() {
	if s.rootCancel != nil {
		s.rootCancel()
	}
}

func parseAlertRules(raw map[string]any) map[string]model.AlertRule {
	out := map[string]model.AlertRule{}
	for key, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		out[key] = model.AlertRule{
			Key:               key,
			Threshold:         asFloat(m["threshold"]),
			RequiredDuration:  time.Duration(asInt(m["duration_seconds"])) * time.Second,
			Cooldown:          time.Duration(asInt(m["cooldown_seconds"])) * time.Second,
			Priority:          model.Priority(asString(m["priority"])),
			MessageTemplate:   asString(m["message_template"]),
			RecommendedAction: asString(m["recommended_action"]),
		}
	}
	return out
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return 0
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// parseFileSpecsAny decodes the monitored_files setting, which viper
// hands back as []any of map[string]any for the mixed-type defaults in
// spec.md §6's monitored-file schema.
func parseFileSpecsAny(raw any) []model.FileSpec {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]model.FileSpec, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		id := asString(m["id"])
		if id == "" {
			id = uuid.NewString()
		}
		enabled := true
		if v, ok := m["enabled"].(bool); ok {
			enabled = v
		}
		out = append(out, model.FileSpec{
			ID:       id,
			Path:     asString(m["path"]),
			Label:    asString(m["label"]),
			Priority: model.Priority(asString(m["priority"])),
			Enabled:  enabled,
		})
	}
	return out
}
