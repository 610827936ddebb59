// Package chat implements the message read path (row parsing, room
// filtering, reconciliation into a bounded window, polling) and the write
// path that publishes messages to the streams service.
package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"streamchat/internal/domain"
	"streamchat/internal/observability"
	"streamchat/internal/streams"
)

// RowFieldCount is the number of fields a chat row must carry
const RowFieldCount = 5

const (
	fieldTimestamp = iota
	fieldRoomID
	fieldContent
	fieldSenderName
	fieldSender
)

// unwrap returns the value of a field that is either a direct value or a
// container {"value": x}. A container whose value is itself a container is
// unwrapped once more.
func unwrap(field any) any {
	container, ok := field.(map[string]any)
	if !ok {
		return field
	}
	inner, ok := container["value"]
	if !ok {
		return nil
	}
	if nested, ok := inner.(map[string]any); ok {
		if v, ok := nested["value"]; ok {
			return v
		}
	}
	return inner
}

// ParseRow converts one raw row into a MessageRecord
func ParseRow(row streams.Row) (domain.MessageRecord, error) {
	var msg domain.MessageRecord

	if len(row) < RowFieldCount {
		return msg, fmt.Errorf("%w: %d fields, want %d", domain.ErrMalformedRow, len(row), RowFieldCount)
	}

	ts, err := parseTimestamp(unwrap(row[fieldTimestamp]))
	if err != nil {
		return msg, fmt.Errorf("%w: %w", domain.ErrMalformedRow, err)
	}

	roomID, err := domain.ParseRoomID(textValue(unwrap(row[fieldRoomID])))
	if err != nil {
		return msg, fmt.Errorf("%w: %w", domain.ErrMalformedRow, err)
	}

	msg.Timestamp = domain.NormalizeTimestamp(ts)
	msg.RoomID = roomID
	msg.Content = textValue(unwrap(row[fieldContent]))
	msg.SenderName = textValue(unwrap(row[fieldSenderName]))

	// Absent or unreadable senders fall back to the zero address
	if sender, err := domain.ParseAddress(textValue(unwrap(row[fieldSender]))); err == nil {
		msg.Sender = sender
	}

	return msg, nil
}

// ParseRows parses every row, skipping malformed ones. Skipped rows are
// logged and counted, never fatal to the batch.
func ParseRows(rows []streams.Row) []domain.MessageRecord {
	out := make([]domain.MessageRecord, 0, len(rows))
	for i, row := range rows {
		msg, err := ParseRow(row)
		if err != nil {
			observability.MalformedRowsTotal.Inc()
			slog.Debug("skipping malformed row",
				slog.Int("index", i),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, msg)
	}
	return out
}

func parseTimestamp(v any) (int64, error) {
	switch val := v.(type) {
	case json.Number:
		return parseIntText(val.String())
	case string:
		return parseIntText(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) || val != math.Trunc(val) {
			return 0, fmt.Errorf("timestamp %v is not an integer", val)
		}
		return int64(val), nil
	case int64:
		return val, nil
	case uint64:
		if val > math.MaxInt64 {
			return 0, fmt.Errorf("timestamp %d overflows", val)
		}
		return int64(val), nil
	case int:
		return int64(val), nil
	case nil:
		return 0, fmt.Errorf("timestamp missing")
	}
	return 0, fmt.Errorf("timestamp has unsupported type %T", v)
}

func parseIntText(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	// Integral values rendered with an exponent, e.g. "1.7e+12"
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("timestamp %q is not an integer", s)
	}
	return int64(f), nil
}

// textValue renders a field as text; nil becomes the empty string
func textValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	}
	return fmt.Sprint(v)
}
