// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

// Package broker implements the Broker Publisher (C3, spec.md §4.2): a
// connection-pooled AMQP publisher that delivers Error Events to an
// external message broker, safe for concurrent callers (multiple
// Tailers).
package broker

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/hostwatch/agent/internal/log"
	"github.com/hostwatch/agent/internal/model"
)

var logger = log.For("broker")

// wireEvent is the structured record published on the wire (spec.md
// §6): field names are stable and form part of the wire contract.
type wireEvent struct {
	Timestamp string  `json:"timestamp"`
	SystemIP  string  `json:"system_ip"`
	LogPath   string  `json:"log_path"`
	LogLabel  string  `json:"log_label"`
	Application string `json:"application"`
	LogLine   string  `json:"log_line"`
	Severity  string  `json:"severity"`
	Priority  string  `json:"priority"`
}

// Publisher publishes Error Events to a named AMQP exchange/routing
// key, pooling the underlying connection/channel across emissions
// (spec.md §4.2 connection policy).
type Publisher struct {
	url        string
	exchange   string
	routingKey string
	timeout    time.Duration

	mu   sync.Mutex // guards conn/channel lifecycle, not the publish itself
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New constructs a Publisher. The connection is established lazily on
// first Publish and re-established on failure.
func New(url, exchange, routingKey string, timeout time.Duration) *Publisher {
	return &Publisher{url: url, exchange: exchange, routingKey: routingKey, timeout: timeout}
}

// Publish delivers evt, returning false on failure per spec.md §4.2
// ("the publisher returns a boolean failure to its caller"). Bounded
// by the 10s publish timeout from spec.md §5: the RPC runs on its own
// goroutine and a hung broker (e.g. TCP half-open) is treated as a
// failure and its connection invalidated rather than blocking the
// calling Tailer indefinitely.
func (p *Publisher) Publish(evt model.ErrorEvent) bool {
	ch, err := p.channel()
	if err != nil {
		logger.Errorf("broker connection unavailable: %v", err)
		return false
	}

	body, err := json.Marshal(wireEvent{
		Timestamp:   evt.Timestamp.UTC().Format(time.RFC3339Nano),
		SystemIP:    evt.HostID,
		LogPath:     evt.LogPath,
		LogLabel:    evt.LogLabel,
		Application: evt.Application,
		LogLine:     evt.LogLine,
		Severity:    string(evt.Severity),
		Priority:    string(evt.Priority),
	})
	if err != nil {
		logger.Errorf("marshal error event for broker: %v", err)
		return false
	}

	done := make(chan error, 1)
	go func() {
		done <- ch.Publish(p.exchange, p.routingKey, false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		})
	}()

	select {
	case pubErr := <-done:
		if pubErr != nil {
			logger.Errorf("broker publish failed: %v", pubErr)
			p.invalidate()
			return false
		}
		return true
	case <-time.After(p.timeout):
		logger.Errorf("broker publish timed out after %s", p.timeout)
		p.invalidate()
		return false
	}
}

// dialResult carries the outcome of an in-flight dial so channel can
// race it against p.timeout without holding p.mu for the duration.
type dialResult struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	err  error
}

// channel returns a live channel, (re)dialing if necessary. The dial,
// channel open, and exchange declare RPCs are bounded by p.timeout
// (spec.md §5's "publish timeout of 10s") since a half-open TCP
// connection can hang during the AMQP handshake just as easily as
// during a publish.
func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	if p.ch != nil && !p.conn.IsClosed() {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	p.mu.Unlock()

	result := make(chan dialResult, 1)
	go func() {
		conn, ch, err := p.dial()
		result <- dialResult{conn: conn, ch: ch, err: err}
	}()

	select {
	case r := <-result:
		if r.err != nil {
			return nil, r.err
		}
		p.mu.Lock()
		p.conn, p.ch = r.conn, r.ch
		p.mu.Unlock()
		return r.ch, nil
	case <-time.After(p.timeout):
		go func() {
			if r := <-result; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("dial broker: timed out after %s", p.timeout)
	}
}

// dial performs the blocking connect/open/declare sequence; run on its
// own goroutine by channel so it can be abandoned on timeout.
func (p *Publisher) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(p.url, amqp.Config{Heartbeat: 10 * time.Second, Locale: "en_US"})
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return conn, ch, nil
}

func (p *Publisher) invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Close releases the pooled connection; called during Supervisor
// shutdown.
func (p *Publisher) Close() {
	p.invalidate()
}
