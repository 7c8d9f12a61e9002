// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed by the hostwatch authors.
// Copyright 2026-present hostwatch authors.

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T, port int) string {
	t.Helper()
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func dialWS(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: addr, Path: "/"}
	var conn *websocket.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, _, err = websocket.DefaultDialer.Dial(u.String(), nil)
		if err == nil {
			return conn
		}
		time.Sleep(25 * time.Millisecond)
	}
	require.NoError(t, err)
	return conn
}

func TestLogBroadcasterSendsWelcomeThenFansOutLines(t *testing.T) {
	addr := freeAddr(t, 18821)
	b := NewLogBroadcaster("host-1")
	require.NoError(t, b.Start(addr))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	}()

	conn := dialWS(t, addr)
	defer conn.Close()

	_, welcome, err := conn.ReadMessage()
	require.NoError(t, err)
	var welcomeMsg map[string]any
	require.NoError(t, json.Unmarshal(welcome, &welcomeMsg))
	assert.Equal(t, "connection", welcomeMsg["type"])
	assert.Equal(t, "host-1", welcomeMsg["node_id"])

	for !b.HasSubscribers() {
		time.Sleep(10 * time.Millisecond)
	}
	b.Broadcast("app.log", "something happened")

	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(frame, &msg))
	assert.Equal(t, "live_log", msg["type"])
	assert.Equal(t, "something happened", msg["log"])
	assert.Equal(t, "app.log", msg["source"])
}

func TestMetricBroadcasterIncludesIntervalInWelcome(t *testing.T) {
	addr := freeAddr(t, 18822)
	b := NewMetricBroadcaster("host-1", 3*time.Second)
	require.NoError(t, b.Start(addr))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	}()

	conn := dialWS(t, addr)
	defer conn.Close()

	_, welcome, err := conn.ReadMessage()
	require.NoError(t, err)
	var welcomeMsg map[string]any
	require.NoError(t, json.Unmarshal(welcome, &welcomeMsg))
	assert.EqualValues(t, 3, welcomeMsg["interval"])
}

func TestHasSubscribersReflectsConnectionLifecycle(t *testing.T) {
	addr := freeAddr(t, 18823)
	b := NewLogBroadcaster("host-1")
	require.NoError(t, b.Start(addr))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	}()

	assert.False(t, b.HasSubscribers())

	conn := dialWS(t, addr)
	_, _, err := conn.ReadMessage() // drain welcome
	require.NoError(t, err)

	for !b.HasSubscribers() {
		time.Sleep(10 * time.Millisecond)
	}
	conn.Close()
}
