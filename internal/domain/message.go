package domain

import (
	"strconv"
)

// MessageRecord represents a single chat message read from the streams service
type MessageRecord struct {
	Timestamp  int64   `json:"timestamp"`
	RoomID     RoomID  `json:"roomId"`
	Content    string  `json:"content"`
	SenderName string  `json:"senderName"`
	Sender     Address `json:"sender"`
}

// MessageKey identifies a message for deduplication. The source assigns no
// stable record ID, so identity is inferred from timestamp, sender and content.
type MessageKey struct {
	Timestamp int64
	Sender    Address
	Content   string
}

// Key returns the deduplication key of the record
func (m MessageRecord) Key() MessageKey {
	return MessageKey{
		Timestamp: m.Timestamp,
		Sender:    m.Sender,
		Content:   m.Content,
	}
}

// secondsDigits is the widest decimal width still treated as a seconds value
const secondsDigits = 10

// NormalizeTimestamp converts a seconds or milliseconds epoch value to milliseconds.
// Values of at most 10 decimal digits are seconds.
func NormalizeTimestamp(ts int64) int64 {
	abs := ts
	if abs < 0 {
		abs = -abs
	}
	if len(strconv.FormatInt(abs, 10)) <= secondsDigits {
		return ts * 1000
	}
	return ts
}
