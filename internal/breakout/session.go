package breakout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/navikt/breakouts/internal/logging"
	"github.com/navikt/breakouts/internal/models"
	"github.com/navikt/breakouts/internal/utils"
)

// Notifier delivers asynchronous signals to a caller's UI
type Notifier interface {
	Notify(event models.SessionEvent)
}

// RoleLookup answers role questions about parent meeting users
type RoleLookup interface {
	GetUserRole(ctx context.Context, meetingID, userID string) (models.Role, error)
}

// JoinResult is the outcome of JoinRoom: either the URL or a pending request
type JoinResult struct {
	URL     string
	Request *JoinRequest
}

// Pending reports whether the URL is still being generated
func (r JoinResult) Pending() bool {
	return r.URL == ""
}

// OpenURLData is the payload of an open-url session event
type OpenURLData struct {
	RoomID string `json:"room_id"`
	URL    string `json:"url"`
}

// Session is one caller's breakout context inside a parent meeting. It lives
// from joining the parent meeting until leaving it.
type Session struct {
	ID        string
	MeetingID string
	UserID    string
	CreatedAt time.Time

	registry   *Registry
	joins      *JoinTracker
	audio      *AudioCoordinator
	dispatcher Dispatcher
	bridge     AudioBridge
	roles      RoleLookup
	notifier   Notifier
	logger     zerolog.Logger

	// ctx is cancelled when the session is closed
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// SessionDeps are the collaborators a session is built from
type SessionDeps struct {
	Rooms      RoomSource
	Roles      RoleLookup
	Dispatcher Dispatcher
	Bridge     AudioBridge
	Notifier   Notifier
}

// NewSession creates a session for userID in the parent meeting meetingID
func NewSession(id, meetingID, userID string, deps SessionDeps) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	registry := NewRegistry(deps.Rooms, meetingID)
	s := &Session{
		ID:         id,
		MeetingID:  meetingID,
		UserID:     userID,
		CreatedAt:  time.Now(),
		registry:   registry,
		joins:      NewJoinTracker(registry, deps.Dispatcher, userID),
		audio:      NewAudioCoordinator(meetingID, userID, deps.Dispatcher, deps.Bridge),
		dispatcher: deps.Dispatcher,
		bridge:     deps.Bridge,
		roles:      deps.Roles,
		notifier:   deps.Notifier,
		logger: logging.Module("session").With().
			Str("session_id", id).
			Str("meeting_id", utils.SanitizeLogString(meetingID)).
			Logger(),
		ctx:    ctx,
		cancel: cancel,
	}

	s.audio.OnChange(func(attachment AudioAttachment) {
		s.notify(models.SessionEventAudio, attachment)
	})

	return s
}

func (s *Session) notify(name string, data any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(models.SessionEvent{
		Name:      name,
		SessionID: s.ID,
		Data:      data,
		At:        time.Now(),
	})
}

// JoinRoom gets the caller's join URL for a room. When the URL is known it
// is signalled to the caller right away and the parent meeting's media is
// left; otherwise both happen once the pending request resolves.
func (s *Session) JoinRoom(ctx context.Context, roomID string) (JoinResult, error) {
	if _, err := s.registry.Find(ctx, roomID); err != nil {
		return JoinResult{}, err
	}

	url, req, err := s.joins.RequestJoinURL(ctx, roomID)
	if err != nil {
		return JoinResult{}, err
	}

	if url != "" {
		// A resolved earlier request is opened by its own waiter
		if req == nil {
			s.openURL(ctx, roomID, url)
		}
		return JoinResult{URL: url}, nil
	}

	go s.awaitJoin(req)
	return JoinResult{Request: req}, nil
}

// awaitJoin opens the URL once req resolves. A superseded request is dropped.
func (s *Session) awaitJoin(req *JoinRequest) {
	url, err := req.Wait(s.ctx)
	if err != nil {
		if !errors.Is(err, ErrSuperseded) && !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Str("request_id", req.ID).Msg("Waiting for join url failed")
		}
		return
	}
	s.openURL(s.ctx, req.RoomID, url)
}

func (s *Session) openURL(ctx context.Context, roomID, url string) {
	s.notify(models.SessionEventOpenURL, OpenURLData{RoomID: roomID, URL: url})

	if err := s.bridge.LeaveMainMedia(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to leave main room media")
	}

	s.logger.Info().
		Str("room_id", utils.SanitizeLogString(roomID)).
		Str("url", utils.RedactURL(url)).
		Msg("Opened breakout room")
}

// ExtendTime asks upstream to extend every breakout room by minutes. The
// extension is rejected locally when it would outlast the parent meeting.
func (s *Session) ExtendTime(ctx context.Context, minutes int) error {
	if minutes <= 0 {
		return ErrInvalidExtension
	}

	rooms, err := s.registry.List(ctx)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		return fmt.Errorf("no breakout rooms in meeting: %w", ErrNotFound)
	}

	// Rooms share one timer; take the largest in case updates are in flight
	remaining := 0
	for _, room := range rooms {
		if room.RemainingSeconds > remaining {
			remaining = room.RemainingSeconds
		}
	}

	var parent *int
	seconds, limited, err := s.registry.ParentRemaining(ctx)
	if err != nil {
		return err
	}
	if limited {
		parent = &seconds
	}

	if WouldExceedParentRemaining(minutes, remaining, parent) {
		return ErrWouldExceedParentTime
	}

	if err := s.dispatcher.ExtendBreakoutsTime(ctx, s.MeetingID, minutes); err != nil {
		return fmt.Errorf("failed to extend breakout rooms: %w", err)
	}

	s.logger.Info().Int("minutes", minutes).Msg("Breakout rooms extended")
	return nil
}

// EndAllRooms asks upstream to end every breakout room of the meeting
func (s *Session) EndAllRooms(ctx context.Context) error {
	if err := s.dispatcher.EndAllRooms(ctx, s.MeetingID); err != nil {
		return fmt.Errorf("failed to end breakout rooms: %w", err)
	}

	s.logger.Info().Msg("Breakout rooms ended")
	return nil
}

// TransferAudio attaches the caller's audio to a room
func (s *Session) TransferAudio(ctx context.Context, roomID string) error {
	if _, err := s.registry.Find(ctx, roomID); err != nil {
		return err
	}
	return s.audio.TransferTo(ctx, roomID)
}

// ReturnAudio moves the caller's audio from a room back to the parent meeting.
// The room does not have to exist any more.
func (s *Session) ReturnAudio(ctx context.Context, roomID string) error {
	return s.audio.ReturnToMain(ctx, roomID)
}

// HandleMediaLoss resets the audio attachment after the media connection dropped
func (s *Session) HandleMediaLoss(reason string) {
	s.audio.ForceReset(reason)
}

// HandleRoomsChanged is called when the meeting's room state changed.
// It resolves a pending join request and tells the UI to refresh.
func (s *Session) HandleRoomsChanged(ctx context.Context) {
	if _, err := s.joins.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to refresh join request")
	}
	s.notify(models.SessionEventRooms, nil)
}

// Rooms returns the meeting's rooms in sequence order
func (s *Session) Rooms(ctx context.Context) ([]*models.BreakoutRoom, error) {
	return s.registry.List(ctx)
}

// CurrentRoom returns the room the caller is present in, if any
func (s *Session) CurrentRoom(ctx context.Context) (*models.BreakoutRoom, bool, error) {
	return s.registry.RoomUserIsIn(ctx, s.UserID)
}

// Audio returns the current audio attachment
func (s *Session) Audio() AudioAttachment {
	return s.audio.Attachment()
}

// PendingJoin returns the pending join request, if any
func (s *Session) PendingJoin() (*JoinRequest, bool) {
	return s.joins.Pending()
}

// AbandonJoin supersedes the pending join request
func (s *Session) AbandonJoin() bool {
	return s.joins.Abandon()
}

// IsModerator reports whether the caller moderates the parent meeting.
// Unknown users are not moderators.
func (s *Session) IsModerator(ctx context.Context) (bool, error) {
	if s.roles == nil {
		return false, nil
	}
	role, err := s.roles.GetUserRole(ctx, s.MeetingID, s.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get role: %w", err)
	}
	return role == models.RoleModerator, nil
}

// Close ends the session: the pending join is abandoned and the audio
// attachment reset. Closing twice is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.joins.Abandon()
	s.audio.ForceReset("session closed")
	s.cancel()
	s.notify(models.SessionEventClosed, nil)

	s.logger.Info().Msg("Session closed")
}

// Closed reports whether Close has been called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
