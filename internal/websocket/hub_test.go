// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

package websocket

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/switchyardhq/switchyard/internal/events"
	"github.com/switchyardhq/switchyard/internal/logging"
)

func init() {
	logging.Init(logging.Config{
		Level:  "error",
		Format: "console",
		Output: io.Discard,
	})
}

// startHub runs a hub under a canceled-on-cleanup context.
func startHub(t *testing.T, bus *events.Bus) *Hub {
	t.Helper()
	hub := NewHub(bus)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop after context cancellation")
		}
	})
	return hub
}

func newTestClient(hub *Hub, buffer int) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		send: make(chan Message, buffer),
	}
}

func registerClient(t *testing.T, hub *Hub, client *Client) {
	t.Helper()
	hub.Register <- client
	waitForClients(t, hub, func(n int) bool { return n >= 1 })
}

func waitForClients(t *testing.T, hub *Hub, ok func(int) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !ok(hub.ClientCount()) {
		if time.Now().After(deadline) {
			t.Fatalf("client count never settled, have %d", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := startHub(t, nil)
	client := newTestClient(hub, 16)
	registerClient(t, hub, client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}

	hub.Unregister <- client
	waitForClients(t, hub, func(n int) bool { return n == 0 })

	// The hub closed the send channel on unregister.
	select {
	case _, open := <-client.send:
		if open {
			t.Error("expected send channel to be closed")
		}
	case <-time.After(time.Second):
		t.Error("send channel still open after unregister")
	}
}

func TestUnregisterUnknownClientIsNoop(t *testing.T) {
	hub := startHub(t, nil)
	hub.Unregister <- newTestClient(hub, 1)
	waitForClients(t, hub, func(n int) bool { return n == 0 })
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub := startHub(t, nil)

	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = newTestClient(hub, 16)
		hub.Register <- clients[i]
	}
	waitForClients(t, hub, func(n int) bool { return n == 3 })

	hub.Broadcast("traffic.updated", map[string]int{"blue": 70, "green": 30})

	for i, c := range clients {
		select {
		case msg := <-c.send:
			if msg.Type != "traffic.updated" {
				t.Errorf("client %d: type = %q, want traffic.updated", i, msg.Type)
			}
		case <-time.After(time.Second):
			t.Errorf("client %d never received the broadcast", i)
		}
	}
}

func TestSlowClientIsEvicted(t *testing.T) {
	hub := startHub(t, nil)

	slow := newTestClient(hub, 1)
	fast := newTestClient(hub, 16)
	hub.Register <- slow
	hub.Register <- fast
	waitForClients(t, hub, func(n int) bool { return n == 2 })

	// Fill the slow client's buffer so the next delivery cannot queue.
	slow.send <- Message{Type: "filler"}

	hub.Broadcast("rollback.completed", nil)
	waitForClients(t, hub, func(n int) bool { return n == 1 })

	select {
	case msg := <-fast.send:
		if msg.Type != "rollback.completed" {
			t.Errorf("fast client got %q, want rollback.completed", msg.Type)
		}
	case <-time.After(time.Second):
		t.Error("fast client never received the broadcast")
	}
}

func TestServeRelaysBusEvents(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	hub := startHub(t, bus)
	client := newTestClient(hub, 16)
	registerClient(t, hub, client)

	bus.Publish(events.Event{
		Type:         events.TypeHealthChanged,
		DeploymentID: "a8098c1a-f86e-4b9a-b27a-dcf7e7bfa42a",
		Health:       "unhealthy",
	})

	select {
	case msg := <-client.send:
		if msg.Type != string(events.TypeHealthChanged) {
			t.Errorf("type = %q, want %q", msg.Type, events.TypeHealthChanged)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bus event never reached the client")
	}
}

func TestShutdownClosesAllClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- hub.Serve(ctx) }()

	for i := 0; i < 3; i++ {
		hub.Register <- newTestClient(hub, 16)
	}
	waitForClients(t, hub, func(n int) bool { return n == 3 })

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after shutdown, got %d", hub.ClientCount())
	}
}

func TestServeWSRoundTrip(t *testing.T) {
	hub := startHub(t, nil)
	srv := httptest.NewServer(ServeWS(hub))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	waitForClients(t, hub, func(n int) bool { return n == 1 })

	hub.Broadcast("alert.triggered", map[string]string{"alert_name": "p99 latency"})

	var msg Message
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Type != "alert.triggered" {
		t.Errorf("type = %q, want alert.triggered", msg.Type)
	}
}

func TestClientPingGetsPong(t *testing.T) {
	hub := startHub(t, nil)
	srv := httptest.NewServer(ServeWS(hub))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	waitForClients(t, hub, func(n int) bool { return n == 1 })

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var msg Message
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Type != MessageTypePong {
		t.Errorf("type = %q, want %q", msg.Type, MessageTypePong)
	}
}

func TestMarshalMessage(t *testing.T) {
	data, err := MarshalMessage(Message{Type: "traffic.updated", Data: map[string]int{"blue": 50}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data) == 0 || data[0] != '{' || data[len(data)-1] != '}' {
		t.Error("invalid JSON output")
	}
}
