package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Feed event types pushed by the session-management server
const (
	EventURLValidation         = "endpoint.url_validation"
	EventRoomsUpdated          = "breakout.rooms_updated"
	EventJoinURL               = "breakout.join_url"
	EventUserJoined            = "breakout.user_joined"
	EventUserLeft              = "breakout.user_left"
	EventBreakoutTimeRemaining = "breakout.time_remaining"
	EventBreakoutsEnded        = "breakout.ended"
	EventMeetingTimeRemaining  = "meeting.time_remaining"
	EventRoleChanged           = "meeting.role_changed"
)

// FeedEvent represents the base structure of an upstream feed event
type FeedEvent struct {
	Event     string          `json:"event"`
	MeetingID string          `json:"meeting_id"`
	Payload   json.RawMessage `json:"payload"`
	EventTS   int64           `json:"event_ts"` // Unix timestamp in milliseconds
}

// RoomSnapshot is one room inside a breakout.rooms_updated payload
type RoomSnapshot struct {
	ID               string `json:"id"`
	Sequence         int    `json:"sequence"`
	ShortName        string `json:"short_name"`
	IsDefaultName    bool   `json:"is_default_name"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// RoomsUpdatedPayload is the payload of breakout.rooms_updated
type RoomsUpdatedPayload struct {
	Rooms []RoomSnapshot `json:"rooms"`
}

// JoinURLPayload is the payload of breakout.join_url
type JoinURLPayload struct {
	RoomID  string `json:"room_id"`
	UserID  string `json:"user_id"`
	JoinURL string `json:"join_url"`
}

// JoinedUserPayload is the payload of breakout.user_joined and breakout.user_left
type JoinedUserPayload struct {
	RoomID       string `json:"room_id"`
	UserID       string `json:"user_id"`
	ParentUserID string `json:"parent_user_id"`
	Name         string `json:"name"`
}

// TimeRemainingPayload is the payload of breakout.time_remaining and meeting.time_remaining
type TimeRemainingPayload struct {
	RemainingSeconds int `json:"remaining_seconds"`
}

// RoleChangedPayload is the payload of meeting.role_changed
type RoleChangedPayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Timestamp returns the event time, falling back to now for events without one
func (e *FeedEvent) Timestamp() time.Time {
	if e.EventTS == 0 {
		return time.Now()
	}
	return time.UnixMilli(e.EventTS)
}

func (e *FeedEvent) decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s event has no payload", e.Event)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to parse %s payload: %w", e.Event, err)
	}
	return nil
}

// ProcessRoomsUpdated handles a breakout.rooms_updated event
func (e *FeedEvent) ProcessRoomsUpdated() ([]*BreakoutRoom, error) {
	var payload RoomsUpdatedPayload
	if err := e.decode(&payload); err != nil {
		return nil, err
	}

	rooms := make([]*BreakoutRoom, 0, len(payload.Rooms))
	for _, s := range payload.Rooms {
		if s.ID == "" {
			return nil, fmt.Errorf("room without id in %s event", e.Event)
		}
		rooms = append(rooms, &BreakoutRoom{
			ID:               s.ID,
			ParentMeetingID:  e.MeetingID,
			Sequence:         s.Sequence,
			ShortName:        s.ShortName,
			IsDefaultName:    s.IsDefaultName,
			RemainingSeconds: s.RemainingSeconds,
			Members:          []BreakoutMember{},
			JoinedUsers:      []JoinedUser{},
		})
	}
	return rooms, nil
}

// ProcessJoinURL handles a breakout.join_url event
func (e *FeedEvent) ProcessJoinURL() (string, *BreakoutMember, error) {
	var payload JoinURLPayload
	if err := e.decode(&payload); err != nil {
		return "", nil, err
	}
	if payload.RoomID == "" || payload.UserID == "" {
		return "", nil, fmt.Errorf("%s event requires room_id and user_id", e.Event)
	}

	ts := e.Timestamp()
	return payload.RoomID, &BreakoutMember{
		UserID:     payload.UserID,
		JoinURL:    payload.JoinURL,
		JoinedAt:   ts,
		InsertedAt: ts,
	}, nil
}

// ProcessJoinedUser handles breakout.user_joined and breakout.user_left events
func (e *FeedEvent) ProcessJoinedUser() (string, *JoinedUser, error) {
	var payload JoinedUserPayload
	if err := e.decode(&payload); err != nil {
		return "", nil, err
	}
	if payload.RoomID == "" || payload.UserID == "" {
		return "", nil, fmt.Errorf("%s event requires room_id and user_id", e.Event)
	}

	return payload.RoomID, &JoinedUser{
		UserID:       payload.UserID,
		ParentUserID: payload.ParentUserID,
		Name:         payload.Name,
	}, nil
}

// ProcessTimeRemaining handles breakout.time_remaining and meeting.time_remaining events
func (e *FeedEvent) ProcessTimeRemaining() (int, error) {
	var payload TimeRemainingPayload
	if err := e.decode(&payload); err != nil {
		return 0, err
	}
	if payload.RemainingSeconds < 0 {
		return 0, fmt.Errorf("negative remaining time in %s event", e.Event)
	}
	return payload.RemainingSeconds, nil
}

// ProcessRoleChanged handles a meeting.role_changed event
func (e *FeedEvent) ProcessRoleChanged() (string, Role, error) {
	var payload RoleChangedPayload
	if err := e.decode(&payload); err != nil {
		return "", RoleViewer, err
	}
	if payload.UserID == "" {
		return "", RoleViewer, fmt.Errorf("%s event requires user_id", e.Event)
	}
	return payload.UserID, ParseRole(payload.Role), nil
}
