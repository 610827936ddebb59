package chat

import (
	"streamchat/internal/domain"
)

// RoomFilter selects records belonging to one room. The zero value matches
// every record.
type RoomFilter struct {
	room   string
	roomID domain.RoomID
}

// NewRoomFilter builds a filter for the named room. An empty name matches
// all records.
func NewRoomFilter(room string) (RoomFilter, error) {
	if room == "" {
		return RoomFilter{}, nil
	}
	id, err := domain.RoomIDFromName(room)
	if err != nil {
		return RoomFilter{}, err
	}
	return RoomFilter{room: room, roomID: id}, nil
}

// Room returns the room name the filter was built for
func (f RoomFilter) Room() string {
	return f.room
}

// Match reports whether msg belongs to the filtered room. RoomIDs are
// compared as bytes, which is equality of their hex forms ignoring case.
func (f RoomFilter) Match(msg domain.MessageRecord) bool {
	if f.room == "" {
		return true
	}
	return msg.RoomID == f.roomID
}

// Apply returns the records that match, preserving order
func (f RoomFilter) Apply(msgs []domain.MessageRecord) []domain.MessageRecord {
	out := make([]domain.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		if f.Match(m) {
			out = append(out, m)
		}
	}
	return out
}
