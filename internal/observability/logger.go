package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	roomKey      contextKey = "room"
)

var logger *slog.Logger

// NewLogger builds a structured logger writing to w. format "json" selects
// the JSON handler; anything else selects text.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// InitLogger initializes the global structured logger on stdout
func InitLogger(level, format string) {
	logger = NewLogger(os.Stdout, level, format)
	slog.SetDefault(logger)
}

// FromContext returns a logger carrying the request id and room found in ctx.
// Request ids set by chi's RequestID middleware are picked up as well.
func FromContext(ctx context.Context) *slog.Logger {
	base := logger
	if base == nil {
		base = slog.Default()
	}

	attrs := make([]any, 0, 2)

	reqID, _ := ctx.Value(requestIDKey).(string)
	if reqID == "" {
		reqID = chimiddleware.GetReqID(ctx)
	}
	if reqID != "" {
		attrs = append(attrs, slog.String("request_id", reqID))
	}

	if room, ok := ctx.Value(roomKey).(string); ok && room != "" {
		attrs = append(attrs, slog.String("room", room))
	}

	if len(attrs) > 0 {
		return base.With(attrs...)
	}
	return base
}

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithRoom adds the room name a request or subscription is about
func WithRoom(ctx context.Context, room string) context.Context {
	return context.WithValue(ctx, roomKey, room)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
