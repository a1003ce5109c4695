// Package service applies upstream feed events to the room repository
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/navikt/breakouts/internal/logging"
	"github.com/navikt/breakouts/internal/models"
	"github.com/navikt/breakouts/internal/repository"
	"github.com/navikt/breakouts/internal/utils"
)

// ErrUnsupportedEvent is returned by ApplyEvent for event types it does not handle
var ErrUnsupportedEvent = errors.New("unsupported event type")

// MeetingUpdateCallback is a function type for meeting update callbacks
type MeetingUpdateCallback func(meetingID string)

// BreakoutService provides business logic for working with breakout rooms
type BreakoutService struct {
	repo repository.Repository

	mu              sync.RWMutex
	updateCallbacks []MeetingUpdateCallback
}

// NewBreakoutService creates a new BreakoutService with the given repository
func NewBreakoutService(repo repository.Repository) *BreakoutService {
	return &BreakoutService{
		repo:            repo,
		updateCallbacks: make([]MeetingUpdateCallback, 0),
	}
}

// Repository returns the underlying repository
func (s *BreakoutService) Repository() repository.Repository {
	return s.repo
}

// RegisterUpdateCallback registers a callback function to be called when meeting data changes
func (s *BreakoutService) RegisterUpdateCallback(callback MeetingUpdateCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCallbacks = append(s.updateCallbacks, callback)
}

// notifyUpdate calls all registered callbacks with the updated meeting
func (s *BreakoutService) notifyUpdate(meetingID string) {
	s.mu.RLock()
	callbacks := append([]MeetingUpdateCallback(nil), s.updateCallbacks...)
	s.mu.RUnlock()

	for _, callback := range callbacks {
		callback(meetingID)
	}
}

// ApplyEvent writes a feed event into the repository and notifies listeners.
// Listeners are notified only when the repository changed.
func (s *BreakoutService) ApplyEvent(ctx context.Context, event *models.FeedEvent) error {
	logger := logging.Module("service")

	if event.MeetingID == "" {
		return fmt.Errorf("%s event without meeting_id", event.Event)
	}

	var err error
	switch event.Event {
	case models.EventRoomsUpdated:
		err = s.applyRoomsUpdated(ctx, event)
	case models.EventJoinURL:
		err = s.applyJoinURL(ctx, event)
	case models.EventUserJoined:
		err = s.applyUserJoined(ctx, event)
	case models.EventUserLeft:
		err = s.applyUserLeft(ctx, event)
	case models.EventBreakoutTimeRemaining:
		err = s.applyBreakoutTimeRemaining(ctx, event)
	case models.EventBreakoutsEnded:
		err = s.repo.DeleteRooms(ctx, event.MeetingID)
		if errors.Is(err, models.ErrNotFound) {
			// Already gone, listeners still need to hear about it
			err = nil
		}
	case models.EventMeetingTimeRemaining:
		err = s.applyMeetingTimeRemaining(ctx, event)
	case models.EventRoleChanged:
		err = s.applyRoleChanged(ctx, event)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEvent, utils.SanitizeLogString(event.Event))
	}

	if err != nil {
		logger.Warn().Err(err).
			Str("event", event.Event).
			Str("meeting_id", utils.SanitizeLogString(event.MeetingID)).
			Msg("Failed to apply feed event")
		return err
	}

	logger.Debug().
		Str("event", event.Event).
		Str("meeting_id", utils.SanitizeLogString(event.MeetingID)).
		Msg("Applied feed event")

	s.notifyUpdate(event.MeetingID)
	return nil
}

func (s *BreakoutService) applyRoomsUpdated(ctx context.Context, event *models.FeedEvent) error {
	rooms, err := event.ProcessRoomsUpdated()
	if err != nil {
		return err
	}
	return s.repo.SaveRooms(ctx, event.MeetingID, rooms)
}

func (s *BreakoutService) applyJoinURL(ctx context.Context, event *models.FeedEvent) error {
	roomID, member, err := event.ProcessJoinURL()
	if err != nil {
		return err
	}
	return s.repo.AddMember(ctx, event.MeetingID, roomID, *member)
}

func (s *BreakoutService) applyUserJoined(ctx context.Context, event *models.FeedEvent) error {
	roomID, user, err := event.ProcessJoinedUser()
	if err != nil {
		return err
	}
	return s.repo.AddJoinedUser(ctx, event.MeetingID, roomID, *user)
}

func (s *BreakoutService) applyUserLeft(ctx context.Context, event *models.FeedEvent) error {
	roomID, user, err := event.ProcessJoinedUser()
	if err != nil {
		return err
	}
	return s.repo.RemoveJoinedUser(ctx, event.MeetingID, roomID, user.UserID)
}

func (s *BreakoutService) applyBreakoutTimeRemaining(ctx context.Context, event *models.FeedEvent) error {
	seconds, err := event.ProcessTimeRemaining()
	if err != nil {
		return err
	}
	return s.repo.SetRoomsRemaining(ctx, event.MeetingID, seconds)
}

func (s *BreakoutService) applyMeetingTimeRemaining(ctx context.Context, event *models.FeedEvent) error {
	seconds, err := event.ProcessTimeRemaining()
	if err != nil {
		return err
	}
	return s.repo.SaveParentMeeting(ctx, &models.ParentMeeting{
		ID:               event.MeetingID,
		RemainingSeconds: seconds,
		UpdatedAt:        event.Timestamp(),
	})
}

func (s *BreakoutService) applyRoleChanged(ctx context.Context, event *models.FeedEvent) error {
	userID, role, err := event.ProcessRoleChanged()
	if err != nil {
		return err
	}
	return s.repo.SetUserRole(ctx, event.MeetingID, userID, role)
}

// GetRoomStatusData returns the breakout rooms of a meeting formatted for the UI,
// in sequence order. callerID marks the rooms the caller is in or has a join URL for.
func (s *BreakoutService) GetRoomStatusData(ctx context.Context, meetingID, callerID string) ([]models.RoomStatus, error) {
	rooms, err := s.repo.ListRooms(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	models.SortRooms(rooms)

	result := make([]models.RoomStatus, 0, len(rooms))
	for _, room := range rooms {
		status := models.RoomStatus{
			RoomID:           room.ID,
			Sequence:         room.Sequence,
			DisplayName:      room.DisplayName(),
			RemainingSeconds: room.RemainingSeconds,
			JoinedCount:      room.JoinedCount(),
		}
		if callerID != "" {
			status.CallerJoined = room.HasJoined(callerID)
			if member, ok := room.LatestMember(callerID); ok {
				status.CallerHasURL = member.JoinURL != ""
			}
		}
		result = append(result, status)
	}

	return result, nil
}
