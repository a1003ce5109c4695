package models

import (
	"time"
)

// Role represents a user's role in the parent meeting
type Role int

const (
	RoleViewer Role = iota
	RoleModerator
)

// String returns the string representation of a role
func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleModerator:
		return "moderator"
	default:
		return "unknown"
	}
}

// ParseRole converts a role name received from upstream into a Role.
// Unknown names map to RoleViewer.
func ParseRole(name string) Role {
	if name == "moderator" || name == "MODERATOR" {
		return RoleModerator
	}
	return RoleViewer
}

// ParentMeeting represents the main conference session breakout rooms are spawned from
type ParentMeeting struct {
	ID string `json:"id"`
	// RemainingSeconds is the parent meeting's remaining lifetime.
	// 0 means the meeting has no time limit.
	RemainingSeconds int       `json:"remaining_seconds"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasTimeLimit returns true if the parent meeting ends at a known time
func (m *ParentMeeting) HasTimeLimit() bool {
	return m != nil && m.RemainingSeconds > 0
}
