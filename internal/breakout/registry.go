package breakout

import (
	"context"
	"errors"
	"fmt"

	"github.com/navikt/breakouts/internal/models"
)

// RoomSource supplies the live room state of parent meetings
type RoomSource interface {
	ListRooms(ctx context.Context, meetingID string) ([]*models.BreakoutRoom, error)
	GetRoom(ctx context.Context, meetingID, roomID string) (*models.BreakoutRoom, error)
	GetParentMeeting(ctx context.Context, meetingID string) (*models.ParentMeeting, error)
}

// Registry is a read-only view of one parent meeting's breakout rooms
type Registry struct {
	source    RoomSource
	meetingID string
}

// NewRegistry creates a registry for the given parent meeting
func NewRegistry(source RoomSource, meetingID string) *Registry {
	return &Registry{source: source, meetingID: meetingID}
}

// MeetingID returns the parent meeting the registry reads
func (r *Registry) MeetingID() string {
	return r.meetingID
}

// List returns the rooms ordered by sequence. Rooms with equal sequence are
// ordered by id so an unchanged source always lists the same way.
func (r *Registry) List(ctx context.Context) ([]*models.BreakoutRoom, error) {
	rooms, err := r.source.ListRooms(ctx, r.meetingID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return []*models.BreakoutRoom{}, nil
		}
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	models.SortRooms(rooms)
	return rooms, nil
}

// Find returns the room with the given id or ErrNotFound
func (r *Registry) Find(ctx context.Context, roomID string) (*models.BreakoutRoom, error) {
	room, err := r.source.GetRoom(ctx, r.meetingID, roomID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get room %s: %w", roomID, err)
	}
	return room, nil
}

// MemberOf returns the latest member record of userID in a room.
// A user without a record is not an error: ok is false.
func (r *Registry) MemberOf(ctx context.Context, roomID, userID string) (*models.BreakoutMember, bool, error) {
	room, err := r.Find(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	member, ok := room.LatestMember(userID)
	return member, ok, nil
}

// ParentRemaining returns the parent meeting's remaining seconds.
// limited is false when the meeting has no known time limit.
func (r *Registry) ParentRemaining(ctx context.Context) (seconds int, limited bool, err error) {
	meeting, err := r.source.GetParentMeeting(ctx, r.meetingID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get parent meeting: %w", err)
	}
	if !meeting.HasTimeLimit() {
		return 0, false, nil
	}
	return meeting.RemainingSeconds, true, nil
}

// RoomUserIsIn returns the first room, in sequence order, where the
// parent-meeting user is present
func (r *Registry) RoomUserIsIn(ctx context.Context, userID string) (*models.BreakoutRoom, bool, error) {
	rooms, err := r.List(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, room := range rooms {
		if room.HasJoined(userID) {
			return room, true, nil
		}
	}
	return nil, false, nil
}
