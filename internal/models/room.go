package models

import (
	"fmt"
	"sort"
	"time"
)

// BreakoutMember is an invitation record of a user for a breakout room.
// JoinURL stays empty until upstream has generated the user's join URL.
type BreakoutMember struct {
	UserID     string    `json:"user_id"`
	JoinedAt   time.Time `json:"joined_at"`
	JoinURL    string    `json:"join_url,omitempty"`
	InsertedAt time.Time `json:"inserted_at"`
}

// JoinedUser is a user currently present in a breakout room.
// UserID is the id inside the breakout meeting, ParentUserID the id of the
// same person in the parent meeting.
type JoinedUser struct {
	UserID       string `json:"user_id"`
	ParentUserID string `json:"parent_user_id"`
	Name         string `json:"name"`
}

// BreakoutRoom represents a time-boxed sub-session of a parent meeting
type BreakoutRoom struct {
	ID               string           `json:"id"`
	ParentMeetingID  string           `json:"parent_meeting_id"`
	Sequence         int              `json:"sequence"`
	ShortName        string           `json:"short_name"`
	IsDefaultName    bool             `json:"is_default_name"`
	RemainingSeconds int              `json:"remaining_seconds"`
	Members          []BreakoutMember `json:"members"`
	JoinedUsers      []JoinedUser     `json:"joined_users"`
}

// DisplayName returns the generated name for default-named rooms and the
// moderator-assigned short name otherwise
func (r *BreakoutRoom) DisplayName() string {
	if r.IsDefaultName || r.ShortName == "" {
		return fmt.Sprintf("Breakout Room %d", r.Sequence)
	}
	return r.ShortName
}

// SortRooms orders rooms by sequence, then by id for equal sequences
func SortRooms(rooms []*BreakoutRoom) {
	sort.SliceStable(rooms, func(i, j int) bool {
		if rooms[i].Sequence != rooms[j].Sequence {
			return rooms[i].Sequence < rooms[j].Sequence
		}
		return rooms[i].ID < rooms[j].ID
	})
}

// AddMember appends a member record. Records are never replaced: a newer
// record for the same user shadows older ones through InsertedAt.
func (r *BreakoutRoom) AddMember(member BreakoutMember) {
	if member.InsertedAt.IsZero() {
		member.InsertedAt = time.Now()
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = member.InsertedAt
	}

	r.Members = append(r.Members, member)
}

// LatestMember returns the most recently inserted member record for userID
func (r *BreakoutRoom) LatestMember(userID string) (*BreakoutMember, bool) {
	var latest *BreakoutMember
	for i := range r.Members {
		m := &r.Members[i]
		if m.UserID != userID {
			continue
		}
		if latest == nil || !m.InsertedAt.Before(latest.InsertedAt) {
			latest = m
		}
	}
	if latest == nil {
		return nil, false
	}
	copied := *latest
	return &copied, true
}

// HasJoined reports whether the parent-meeting user is present in the room.
// Matching is exact on the parent user id; a record without one falls back
// to its own user id.
func (r *BreakoutRoom) HasJoined(parentUserID string) bool {
	for _, u := range r.JoinedUsers {
		if u.parentID() == parentUserID {
			return true
		}
	}
	return false
}

// RemoveJoinedUser removes every joined record with the given breakout user id.
// Returns true if at least one record was removed.
func (r *BreakoutRoom) RemoveJoinedUser(userID string) bool {
	kept := r.JoinedUsers[:0]
	removed := false
	for _, u := range r.JoinedUsers {
		if u.UserID == userID {
			removed = true
			continue
		}
		kept = append(kept, u)
	}
	r.JoinedUsers = kept
	return removed
}

// JoinedCount returns the number of distinct people in the room; several
// sessions of the same user count once
func (r *BreakoutRoom) JoinedCount() int {
	seen := make(map[string]struct{}, len(r.JoinedUsers))
	for _, u := range r.JoinedUsers {
		seen[u.parentID()] = struct{}{}
	}
	return len(seen)
}

func (u JoinedUser) parentID() string {
	if u.ParentUserID != "" {
		return u.ParentUserID
	}
	return u.UserID
}
