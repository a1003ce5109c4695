// Package repository defines interfaces for data storage
package repository

import (
	"context"

	"github.com/navikt/breakouts/internal/models"
)

// Repository defines the interface for storing and retrieving breakout room state.
// Implementations return models.ErrNotFound for unknown meetings, rooms and users.
type Repository interface {
	// Breakout room operations
	SaveRooms(ctx context.Context, meetingID string, rooms []*models.BreakoutRoom) error
	GetRoom(ctx context.Context, meetingID, roomID string) (*models.BreakoutRoom, error)
	ListRooms(ctx context.Context, meetingID string) ([]*models.BreakoutRoom, error)
	DeleteRooms(ctx context.Context, meetingID string) error
	SetRoomsRemaining(ctx context.Context, meetingID string, seconds int) error

	// Membership operations - member records are append-only
	AddMember(ctx context.Context, meetingID, roomID string, member models.BreakoutMember) error
	AddJoinedUser(ctx context.Context, meetingID, roomID string, user models.JoinedUser) error
	RemoveJoinedUser(ctx context.Context, meetingID, roomID, userID string) error

	// Parent meeting operations
	SaveParentMeeting(ctx context.Context, meeting *models.ParentMeeting) error
	GetParentMeeting(ctx context.Context, meetingID string) (*models.ParentMeeting, error)

	// Role operations
	SetUserRole(ctx context.Context, meetingID, userID string, role models.Role) error
	GetUserRole(ctx context.Context, meetingID, userID string) (models.Role, error)
}
