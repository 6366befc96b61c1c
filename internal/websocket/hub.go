// Switchyard - Blue/Green Plugin Deployment Orchestration
// Copyright 2026 Switchyard Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/switchyardhq/switchyard

// Package websocket streams live engine events (health transitions,
// traffic changes, rollbacks, alerts) to connected dashboard clients.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/switchyardhq/switchyard/internal/events"
	"github.com/switchyardhq/switchyard/internal/logging"
	"github.com/switchyardhq/switchyard/internal/metrics"
)

// Client-initiated message types. Engine events are forwarded with
// their bus type string (e.g. "slot.health_changed").
const (
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// Message is the wire frame sent to and received from clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and fans engine events out
// to them. Lifecycle channels take priority over broadcasts so client
// state is consistent before any message is delivered.
type Hub struct {
	bus *events.Bus

	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub. The bus may be nil, in which case only direct
// Broadcast calls reach clients.
func NewHub(bus *events.Bus) *Hub {
	return &Hub{
		bus:        bus,
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Serve runs the hub until the context is canceled. It subscribes to
// the event bus, forwards every engine event to connected clients, and
// closes all clients on shutdown. Designed for suture supervision.
func (h *Hub) Serve(ctx context.Context) error {
	if h.bus != nil {
		ch, err := h.bus.Subscribe(ctx)
		if err != nil {
			return err
		}
		go h.relay(ch)
	}
	return h.run(ctx)
}

// relay pumps decoded bus events into the broadcast channel. A full
// broadcast channel drops the event rather than blocking the bus.
func (h *Hub) relay(ch <-chan events.Event) {
	for ev := range ch {
		msg := Message{Type: string(ev.Type), Data: ev}
		select {
		case h.broadcast <- msg:
		default:
			logging.Warn().Str("event_type", string(ev.Type)).Msg("broadcast channel full, dropping engine event")
		}
	}
}

func (h *Hub) run(ctx context.Context) error {
	for {
		// Shutdown first, then lifecycle, then broadcast. Go's select
		// picks randomly among ready channels; the staged checks keep
		// ordering predictable.
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("websocket client disconnected")
}

// Broadcast queues a message for all connected clients. A full queue
// drops the message; event delivery is best effort.
func (h *Hub) Broadcast(messageType string, data interface{}) {
	message := Message{Type: messageType, Data: data}
	select {
	case h.broadcast <- message:
	default:
		logging.Warn().Str("message_type", messageType).Msg("broadcast channel full, dropping message")
	}
}

// broadcastToClients delivers a message to every client in ID order. A
// client whose send buffer is full is evicted; a reader that slow
// would otherwise stall delivery for everyone else.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		logging.Warn().Uint64("client_id", client.id).Msg("evicted slow websocket client")
	}
	if len(toRemove) > 0 {
		metrics.WebSocketClients.Set(float64(len(h.clients)))
	}
}

// shutdown closes every client and logs the reason. Context
// cancellation is the normal path and is not logged as an error.
func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WebSocketClients.Set(0)

	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", reason).
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MarshalMessage converts a message to JSON.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
