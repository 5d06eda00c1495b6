// Package network provides the WebSocket monitor feed. Connected clients
// subscribe to one session and receive display vitals, alerts, and
// transcript lines as they happen. The feed is read-only; commands go
// through the HTTP API.
package network

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/MedSimWorks/attending-sim/server/internal/platform/logger"
	"github.com/MedSimWorks/attending-sim/server/internal/platform/metrics"
)

// MonitorUpdate is one frame pushed to subscribed monitors.
type MonitorUpdate struct {
	Type      string      `json:"type"` // "vitals", "alert", "log"
	SessionID string      `json:"session_id"`
	SimTime   int         `json:"sim_time"`
	Payload   interface{} `json:"payload"`
}

type subscription struct {
	client    *Client
	sessionID string
}

// Hub maintains the set of active monitor connections grouped by session.
type Hub struct {
	sessions   map[string]map[*Client]bool
	register   chan subscription
	unregister chan *Client
	broadcast  chan MonitorUpdate
	mu         sync.Mutex
	logger     *logger.Logger
}

// NewHub initializes a new monitor Hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Client]bool),
		register:   make(chan subscription),
		unregister: make(chan *Client),
		broadcast:  make(chan MonitorUpdate, 64),
		logger:     log,
	}
}

// Run starts the Hub's main loop to handle subscriptions and broadcasts.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("WebSocket Hub shutting down.")
			return
		case sub := <-h.register:
			h.mu.Lock()
			if h.sessions[sub.sessionID] == nil {
				h.sessions[sub.sessionID] = make(map[*Client]bool)
			}
			h.sessions[sub.sessionID][sub.client] = true
			h.mu.Unlock()
			metrics.Get().RecordWSConnection(1)
			h.logger.Info("Monitor connected to session " + sub.sessionID)
		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.sessions[client.sessionID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.sessions, client.sessionID)
					}
					metrics.Get().RecordWSConnection(-1)
					h.logger.Info("Monitor disconnected from session " + client.sessionID)
				}
			}
			h.mu.Unlock()
		case update := <-h.broadcast:
			payload, err := json.Marshal(update)
			if err != nil {
				h.logger.Error("Failed to serialize monitor update: " + err.Error())
				continue
			}
			h.mu.Lock()
			for client := range h.sessions[update.SessionID] {
				select {
				case client.send <- payload:
				default:
					close(client.send)
					delete(h.sessions[update.SessionID], client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues one update for the session's monitors. Non-blocking:
// updates are dropped when the hub is saturated, since the HTTP response
// carries the authoritative state anyway.
func (h *Hub) Publish(update MonitorUpdate) {
	select {
	case h.broadcast <- update:
	default:
		h.logger.Warn("Monitor broadcast queue full, dropping update")
	}
}
