package breakout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/navikt/breakouts/internal/logging"
	"github.com/navikt/breakouts/internal/utils"
)

// Store is the room and role state sessions read from
type Store interface {
	RoomSource
	RoleLookup
}

// BridgeFactory returns the media bridge of a session
type BridgeFactory func(sessionID string) AudioBridge

// Manager owns the lifecycle of all sessions
type Manager struct {
	store      Store
	dispatcher Dispatcher
	notifier   Notifier
	bridges    BridgeFactory

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager
func NewManager(store Store, dispatcher Dispatcher, notifier Notifier, bridges BridgeFactory) *Manager {
	return &Manager{
		store:      store,
		dispatcher: dispatcher,
		notifier:   notifier,
		bridges:    bridges,
		sessions:   make(map[string]*Session),
	}
}

// Create starts a session for a user who joined a parent meeting
func (m *Manager) Create(ctx context.Context, meetingID, userID string) (*Session, error) {
	if meetingID == "" || userID == "" {
		return nil, errors.New("meeting id and user id are required")
	}

	id := uuid.NewString()
	session := NewSession(id, meetingID, userID, SessionDeps{
		Rooms:      m.store,
		Roles:      m.store,
		Dispatcher: m.dispatcher,
		Bridge:     m.bridges(id),
		Notifier:   m.notifier,
	})

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	logger := logging.Module("manager")
	logger.Info().
		Str("session_id", id).
		Str("meeting_id", utils.SanitizeLogString(meetingID)).
		Str("user_id", utils.SanitizeLogString(userID)).
		Msg("Session created")

	return session, nil
}

// Get returns a session by id
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", utils.SanitizeLogString(id), ErrSessionNotFound)
	}
	return session, nil
}

// Destroy closes and forgets a session when its user leaves the parent meeting
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s: %w", utils.SanitizeLogString(id), ErrSessionNotFound)
	}
	session.Close()
	return nil
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// NotifyMeetingUpdate tells every session of a meeting that its room state changed
func (m *Manager) NotifyMeetingUpdate(meetingID string) {
	m.mu.RLock()
	targets := make([]*Session, 0)
	for _, session := range m.sessions {
		if session.MeetingID == meetingID {
			targets = append(targets, session)
		}
	}
	m.mu.RUnlock()

	ctx := context.Background()
	for _, session := range targets {
		session.HandleRoomsChanged(ctx)
	}
}

// HandleMediaLoss resets the audio of a session whose media connection dropped
func (m *Manager) HandleMediaLoss(sessionID, reason string) {
	session, err := m.Get(sessionID)
	if err != nil {
		return
	}
	session.HandleMediaLoss(reason)
}

// Shutdown closes all sessions
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
