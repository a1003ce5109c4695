package models

// RoomStatus represents the current status of a breakout room for display purposes
type RoomStatus struct {
	RoomID           string `json:"room_id"`
	Sequence         int    `json:"sequence"`
	DisplayName      string `json:"display_name"`
	RemainingSeconds int    `json:"remaining_seconds"`
	JoinedCount      int    `json:"joined_count"`
	CallerJoined     bool   `json:"caller_joined"`
	CallerHasURL     bool   `json:"caller_has_url"`
}
