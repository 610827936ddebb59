package websocket

import (
	"context"
	"log/slog"

	"streamchat/internal/domain"
	"streamchat/internal/observability"
)

// subscription ties a client to the room it currently watches
type subscription struct {
	client *Client
	room   string
}

type notifyRequest struct {
	roomID domain.RoomID
	reply  chan int
}

// Hub tracks which clients watch which room so that room events can trigger
// an immediate refresh of the matching windows
type Hub struct {
	// Registered clients by room name
	clients map[string]map[*Client]bool

	// Register client
	register chan subscription

	// Unregister client
	unregister chan subscription

	// Refresh requests for a room
	notify chan notifyRequest

	// Shutdown signal
	done chan struct{}
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan subscription),
		unregister: make(chan subscription),
		notify:     make(chan notifyRequest),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			slog.Info("hub shutting down gracefully")
			return ctx.Err()

		case sub := <-h.register:
			if h.clients[sub.room] == nil {
				h.clients[sub.room] = make(map[*Client]bool)
			}
			h.clients[sub.room][sub.client] = true
			observability.WebSocketSubscriptionsActive.WithLabelValues(sub.room).Inc()
			slog.Info("client subscribed",
				slog.String("client_id", sub.client.id),
				slog.String("room", sub.room))

		case sub := <-h.unregister:
			h.unregisterClient(sub)

		case req := <-h.notify:
			req.reply <- h.refreshRoom(req.roomID)
		}
	}
}

// refreshRoom asks every client watching roomID, and every client watching
// all rooms, to poll now
func (h *Hub) refreshRoom(roomID domain.RoomID) int {
	refreshed := 0
	for room, clients := range h.clients {
		if room != "" {
			id, err := domain.RoomIDFromName(room)
			if err != nil || id != roomID {
				continue
			}
		}
		for client := range clients {
			client.poller.Refresh()
			refreshed++
		}
	}
	return refreshed
}

// unregisterClient safely removes a client from the hub
func (h *Hub) unregisterClient(sub subscription) {
	if clients, ok := h.clients[sub.room]; ok {
		if _, ok := clients[sub.client]; ok {
			delete(clients, sub.client)
			observability.WebSocketSubscriptionsActive.WithLabelValues(sub.room).Dec()
			slog.Info("client unsubscribed",
				slog.String("client_id", sub.client.id),
				slog.String("room", sub.room))

			// Clean up empty room
			if len(clients) == 0 {
				delete(h.clients, sub.room)
			}
		}
	}
}

// shutdown disconnects every client
func (h *Hub) shutdown() {
	close(h.done)

	for room, clients := range h.clients {
		for client := range clients {
			client.close()
			slog.Info("closed client connection",
				slog.String("client_id", client.id),
				slog.String("room", room))
		}
	}

	slog.Info("hub shutdown complete")
}

// NotifyRoom triggers a refresh for every client watching roomID and
// returns how many were refreshed
func (h *Hub) NotifyRoom(roomID domain.RoomID) int {
	req := notifyRequest{roomID: roomID, reply: make(chan int, 1)}
	select {
	case h.notify <- req:
	case <-h.done:
		return 0
	}
	return <-req.reply
}

// Register records that client watches room
func (h *Hub) Register(client *Client, room string) {
	select {
	case h.register <- subscription{client: client, room: room}:
	case <-h.done:
	}
}

// Unregister removes client from room
func (h *Hub) Unregister(client *Client, room string) {
	select {
	case h.unregister <- subscription{client: client, room: room}:
	case <-h.done:
	}
}
