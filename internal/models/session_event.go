package models

import "time"

// Session event names delivered to the UI event stream
const (
	SessionEventOpenURL = "open-url"
	SessionEventAudio   = "audio"
	SessionEventRooms   = "rooms"
	SessionEventClosed  = "closed"
)

// SessionEvent is an asynchronous signal for one caller's UI
type SessionEvent struct {
	Name      string    `json:"name"`
	SessionID string    `json:"session_id"`
	Data      any       `json:"data,omitempty"`
	At        time.Time `json:"at"`
}
