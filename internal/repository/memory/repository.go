// Package memory provides an in-memory implementation of the repository interface
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/navikt/breakouts/internal/models"
)

// ErrNotFound is returned when a requested entity is not found
var ErrNotFound = models.ErrNotFound

// meetingState contains the breakout state of one parent meeting
type meetingState struct {
	parent *models.ParentMeeting
	rooms  map[string]*models.BreakoutRoom
	roles  map[string]models.Role
}

// Repository implements the repository interface with in-memory storage
type Repository struct {
	meetings map[string]*meetingState
	mu       sync.RWMutex
}

// NewRepository creates a new in-memory repository
func NewRepository() *Repository {
	return &Repository{
		meetings: make(map[string]*meetingState),
	}
}

// state returns the meeting state, creating it when create is set. Caller holds the lock.
func (r *Repository) state(meetingID string, create bool) (*meetingState, bool) {
	state, ok := r.meetings[meetingID]
	if !ok && create {
		state = &meetingState{
			rooms: make(map[string]*models.BreakoutRoom),
			roles: make(map[string]models.Role),
		}
		r.meetings[meetingID] = state
		ok = true
	}
	return state, ok
}

// SaveRooms replaces the meeting's room set. Rooms that survive the snapshot keep
// their member and joined-user records; rooms missing from it are dropped.
func (r *Repository) SaveRooms(ctx context.Context, meetingID string, rooms []*models.BreakoutRoom) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, _ := r.state(meetingID, true)

	next := make(map[string]*models.BreakoutRoom, len(rooms))
	for _, room := range rooms {
		saved := copyRoom(room)
		saved.ParentMeetingID = meetingID
		if existing, ok := state.rooms[room.ID]; ok {
			saved.Members = append([]models.BreakoutMember(nil), existing.Members...)
			saved.JoinedUsers = append([]models.JoinedUser(nil), existing.JoinedUsers...)
		}
		next[room.ID] = saved
	}
	state.rooms = next

	return nil
}

// GetRoom retrieves a breakout room by ID
func (r *Repository) GetRoom(ctx context.Context, meetingID, roomID string) (*models.BreakoutRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.state(meetingID, false)
	if !ok {
		return nil, ErrNotFound
	}
	room, ok := state.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}

	return copyRoom(room), nil
}

// ListRooms returns all breakout rooms of a meeting in no particular order
func (r *Repository) ListRooms(ctx context.Context, meetingID string) ([]*models.BreakoutRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.state(meetingID, false)
	if !ok {
		return []*models.BreakoutRoom{}, nil
	}

	rooms := make([]*models.BreakoutRoom, 0, len(state.rooms))
	for _, room := range state.rooms {
		rooms = append(rooms, copyRoom(room))
	}

	return rooms, nil
}

// DeleteRooms removes all breakout rooms of a meeting
func (r *Repository) DeleteRooms(ctx context.Context, meetingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.state(meetingID, false)
	if !ok {
		return ErrNotFound
	}
	state.rooms = make(map[string]*models.BreakoutRoom)

	return nil
}

// SetRoomsRemaining sets the remaining time of every room of a meeting
func (r *Repository) SetRoomsRemaining(ctx context.Context, meetingID string, seconds int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.state(meetingID, false)
	if !ok {
		return ErrNotFound
	}
	for _, room := range state.rooms {
		room.RemainingSeconds = seconds
	}

	return nil
}

// AddMember appends a member record to a room
func (r *Repository) AddMember(ctx context.Context, meetingID, roomID string, member models.BreakoutMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.room(meetingID, roomID)
	if err != nil {
		return err
	}
	room.AddMember(member)

	return nil
}

// AddJoinedUser records a user as present in a room
func (r *Repository) AddJoinedUser(ctx context.Context, meetingID, roomID string, user models.JoinedUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.room(meetingID, roomID)
	if err != nil {
		return err
	}
	room.RemoveJoinedUser(user.UserID)
	room.JoinedUsers = append(room.JoinedUsers, user)

	return nil
}

// RemoveJoinedUser removes a user's presence from a room
func (r *Repository) RemoveJoinedUser(ctx context.Context, meetingID, roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.room(meetingID, roomID)
	if err != nil {
		return err
	}
	room.RemoveJoinedUser(userID)

	return nil
}

// SaveParentMeeting stores the parent meeting's remaining time
func (r *Repository) SaveParentMeeting(ctx context.Context, meeting *models.ParentMeeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, _ := r.state(meeting.ID, true)
	copied := *meeting
	state.parent = &copied

	return nil
}

// GetParentMeeting retrieves the parent meeting by ID
func (r *Repository) GetParentMeeting(ctx context.Context, meetingID string) (*models.ParentMeeting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.state(meetingID, false)
	if !ok || state.parent == nil {
		return nil, ErrNotFound
	}
	copied := *state.parent

	return &copied, nil
}

// SetUserRole stores a user's role in the parent meeting
func (r *Repository) SetUserRole(ctx context.Context, meetingID, userID string, role models.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, _ := r.state(meetingID, true)
	state.roles[userID] = role

	return nil
}

// GetUserRole retrieves a user's role in the parent meeting
func (r *Repository) GetUserRole(ctx context.Context, meetingID, userID string) (models.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.state(meetingID, false)
	if !ok {
		return models.RoleViewer, ErrNotFound
	}
	role, ok := state.roles[userID]
	if !ok {
		return models.RoleViewer, ErrNotFound
	}

	return role, nil
}

// room looks up a stored room. Caller holds the lock.
func (r *Repository) room(meetingID, roomID string) (*models.BreakoutRoom, error) {
	state, ok := r.state(meetingID, false)
	if !ok {
		return nil, ErrNotFound
	}
	room, ok := state.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return room, nil
}

func copyRoom(room *models.BreakoutRoom) *models.BreakoutRoom {
	copied := *room
	copied.Members = append([]models.BreakoutMember{}, room.Members...)
	copied.JoinedUsers = append([]models.JoinedUser{}, room.JoinedUsers...)
	sort.SliceStable(copied.JoinedUsers, func(i, j int) bool {
		return copied.JoinedUsers[i].UserID < copied.JoinedUsers[j].UserID
	})
	return &copied
}
