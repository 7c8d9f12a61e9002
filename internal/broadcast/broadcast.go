// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package broadcast implements the two Live Broadcasters (C9 Live Log
// Broadcaster, C10 Live Metric Broadcaster, spec.md §4.9): independent
// WebSocket servers that fan out every tailed line or metric sample to
// every subscribed client, with a bounded per-client send buffer so a
// slow subscriber can't block others (P8).
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hostwatch/agent/internal/log"
	"github.com/hostwatch/agent/internal/model"
)

var logger = log.For("broadcast")

const clientSendBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one subscriber's bounded mailbox, guarded by the owning
// broadcaster's clients lock.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// base holds the shared lifecycle/fan-out machinery for both
// broadcaster flavors (spec.md §9: "independent tasks per connection
// ... a bounded mailbox per connection for the broadcaster ->
// subscriber direction").
type base struct {
	hostID string

	mu      sync.Mutex
	clients map[*client]struct{}

	server   *http.Server
	running  bool
	wg       sync.WaitGroup
}

func newBase(hostID string) *base {
	return &base{hostID: hostID, clients: map[*client]struct{}{}}
}

// start boots an HTTP server on addr that upgrades every request on
// path to a WebSocket, registering welcome(w) as the first frame
// writer. Returns once the listener is live.
func (b *base) start(addr, path string, welcome func(*client)) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warnf("websocket upgrade failed: %v", err)
			return
		}
		b.handleConn(conn, welcome)
	})

	b.server = &http.Server{Addr: addr, Handler: mux}
	ln, err := newListener(addr)
	if err != nil {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		return err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if serveErr := b.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Errorf("broadcaster server error: %v", serveErr)
		}
	}()
	return nil
}

func (b *base) handleConn(conn *websocket.Conn, welcome func(*client)) {
	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	welcome(c)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.removeClient(c)
		defer conn.Close()
		for frame := range c.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}()

	// drain reads so the connection's close/ping frames are observed;
	// the agent doesn't accept client-sent commands on these sockets.
	go func() {
		defer b.removeClient(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *base) removeClient(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
}

// fanout delivers frame to every current subscriber; a subscriber
// whose buffer is full is dropped rather than allowed to block others
// (spec.md §4.9, P8).
func (b *base) fanout(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.send <- frame:
		default:
			logger.Warnf("dropping slow websocket subscriber (send buffer full)")
			delete(b.clients, c)
			close(c.send)
			c.conn.Close()
		}
	}
}

// HasSubscribers reports whether any client is currently connected.
func (b *base) HasSubscribers() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients) > 0
}

// Stop closes the listener and every subscriber with a normal close
// code, within the Supervisor's graceful shutdown window (spec.md
// §4.11).
func (b *base) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	srv := b.server
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"),
			time.Now().Add(time.Second))
		c.conn.Close()
	}

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
	}
	b.wg.Wait()
	return nil
}

// LogBroadcaster is the Live Log Broadcaster (C9).
type LogBroadcaster struct {
	*base
}

func NewLogBroadcaster(hostID string) *LogBroadcaster {
	return &LogBroadcaster{base: newBase(hostID)}
}

// Start boots the websocket server for live tailed-log frames
// (default port 8755, spec.md §6).
func (l *LogBroadcaster) Start(addr string) error {
	return l.base.start(addr, "/", func(c *client) {
		frame, _ := json.Marshal(map[string]any{
			"type":      "connection",
			"status":    "connected",
			"node_id":   l.hostID,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
		select {
		case c.send <- frame:
		default:
		}
	})
}

// Broadcast fans out one tailed line (spec.md §6 "live_log" frame).
func (l *LogBroadcaster) Broadcast(sourceLabel, line string) {
	frame, err := json.Marshal(map[string]any{
		"type":      "live_log",
		"node_id":   l.hostID,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"source":    sourceLabel,
		"log":       line,
	})
	if err != nil {
		return
	}
	l.fanout(frame)
}

// MetricBroadcaster is the Live Metric Broadcaster (C10).
type MetricBroadcaster struct {
	*base
	interval time.Duration
}

func NewMetricBroadcaster(hostID string, interval time.Duration) *MetricBroadcaster {
	return &MetricBroadcaster{base: newBase(hostID), interval: interval}
}

// Start boots the websocket server for live metric frames (default
// port 8756, spec.md §6).
func (m *MetricBroadcaster) Start(addr string) error {
	return m.base.start(addr, "/", func(c *client) {
		frame, _ := json.Marshal(map[string]any{
			"type":      "connection",
			"status":    "connected",
			"node_id":   m.hostID,
			"interval":  int(m.interval.Seconds()),
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
		select {
		case c.send <- frame:
		default:
		}
	})
}

// Broadcast fans out one Metric Snapshot (spec.md §6 metrics frame
// shape).
func (m *MetricBroadcaster) Broadcast(snap model.MetricSnapshot) {
	frame, err := json.Marshal(map[string]any{
		"timestamp": snap.Timestamp.UTC().Format(time.RFC3339Nano),
		"node_id":   snap.HostID,
		"metrics":   snapshotToWireMetrics(snap),
	})
	if err != nil {
		return
	}
	m.fanout(frame)
}

func snapshotToWireMetrics(snap model.MetricSnapshot) map[string]any {
	diskUsage := map[string]any{}
	for _, u := range snap.Disk.Usage {
		diskUsage[u.Mount] = map[string]any{
			"total":   u.TotalBytes,
			"used":    u.UsedBytes,
			"free":    u.FreeBytes,
			"percent": u.UsedPercent,
		}
	}
	return map[string]any{
		"cpu": map[string]any{
			"percent":  snap.CPU.Percent,
			"per_core": snap.CPU.PerCore,
			"load1":    snap.CPU.Load1,
			"load5":    snap.CPU.Load5,
			"load15":   snap.CPU.Load15,
		},
		"memory": map[string]any{
			"total":        snap.Memory.TotalBytes,
			"used":         snap.Memory.UsedBytes,
			"available":    snap.Memory.AvailableBytes,
			"used_percent": snap.Memory.UsedPercent,
			"swap_total":   snap.Memory.SwapTotalBytes,
			"swap_used":    snap.Memory.SwapUsedBytes,
		},
		"disk": map[string]any{
			"disk_usage": diskUsage,
			"disk_io": map[string]any{
				"read_mibps":  snap.Disk.ReadMiBps,
				"write_mibps": snap.Disk.WriteMiBps,
			},
		},
		"network": map[string]any{
			"rx_rate_mibps":      snap.Network.RxRateMiBps,
			"tx_rate_mibps":      snap.Network.TxRateMiBps,
			"bytes_received":     snap.Network.BytesReceived,
			"bytes_sent":         snap.Network.BytesSent,
			"active_connections": snap.Network.ActiveConnections,
		},
		"processes": map[string]any{
			"count": snap.Process.Count,
			"top_n": snap.Process.TopN,
		},
	}
}
