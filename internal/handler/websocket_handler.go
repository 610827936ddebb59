package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"streamchat/internal/chat"
	"streamchat/internal/domain"
	ws "streamchat/internal/websocket"
)

// WebSocketHandler upgrades room subscriptions to websocket connections
type WebSocketHandler struct {
	hub          *ws.Hub
	fetcher      *chat.Fetcher
	pollInterval time.Duration
	upgrader     websocket.Upgrader
	// ctx outlives any single request so pollers keep running after the
	// upgrade handler returns
	ctx context.Context
}

// NewWebSocketHandler creates a new WebSocket handler. An empty
// allowedOrigins list accepts every origin.
func NewWebSocketHandler(ctx context.Context, hub *ws.Hub, fetcher *chat.Fetcher, pollInterval time.Duration, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:          hub,
		fetcher:      fetcher,
		pollInterval: pollInterval,
		ctx:          ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowedOrigins) == 0 || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// HandleConnection handles WebSocket upgrade and connection
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")

	limit := chat.DefaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > chat.MaxLimit {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	poller, err := chat.NewPoller(h.fetcher, chat.PollerConfig{
		Room:     room,
		Limit:    limit,
		Interval: h.pollInterval,
	})
	if err != nil {
		if errors.Is(err, domain.ErrRoomNameTooLong) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create subscription")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade error", slog.String("error", err.Error()))
		return
	}

	client := ws.NewClient(h.ctx, h.hub, conn, poller)
	go client.Serve()
}
