package domain

// RoomEvent announces that a message was written to a room. It carries no
// message content; watchers react by polling.
type RoomEvent struct {
	RoomID    RoomID `json:"roomId"`
	TxHash    string `json:"txHash"`
	Timestamp int64  `json:"timestamp"`
}
