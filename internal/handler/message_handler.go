package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"streamchat/internal/chat"
	"streamchat/internal/domain"
	"streamchat/internal/observability"
)

// MessageSender publishes chat messages
type MessageSender interface {
	Send(ctx context.Context, room, content, senderName string) (*chat.SendResult, error)
}

// MessageLoader runs one pass of the read path
type MessageLoader interface {
	Load(ctx context.Context, room string, limit int) ([]domain.MessageRecord, error)
}

// MessageHandler handles message endpoints
type MessageHandler struct {
	sender      MessageSender
	loader      MessageLoader
	sendTimeout time.Duration
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(sender MessageSender, loader MessageLoader, sendTimeout time.Duration) *MessageHandler {
	if sendTimeout <= 0 {
		sendTimeout = 60 * time.Second
	}
	return &MessageHandler{
		sender:      sender,
		loader:      loader,
		sendTimeout: sendTimeout,
	}
}

// SendRequest represents a message send request
type SendRequest struct {
	Room       string `json:"room"`
	Content    string `json:"content"`
	SenderName string `json:"senderName"`
}

// SendResponse is returned once the message is confirmed
type SendResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash"`
}

// Send publishes one message and waits for its confirmation
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusInternalServerError, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.sendTimeout)
	defer cancel()
	ctx = observability.WithRoom(ctx, req.Room)

	result, err := h.sender.Send(ctx, req.Room, req.Content, req.SenderName)
	if err != nil {
		observability.FromContext(ctx).Error("failed to send message", "error", err.Error())
		writeError(w, http.StatusInternalServerError, sendErrorMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, SendResponse{
		Success: true,
		TxHash:  result.TxHash.Hex(),
	})
}

func sendErrorMessage(err error) string {
	if errors.Is(err, domain.ErrMissingFields) {
		return "Missing fields"
	}
	return err.Error()
}

// List returns the current window of a room without subscribing
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
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

	messages, err := h.loader.Load(r.Context(), room, limit)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNameTooLong) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		observability.FromContext(observability.WithRoom(r.Context(), room)).
			Warn("failed to load messages", "error", err.Error())
		writeError(w, http.StatusBadGateway, "Failed to load messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
