package api

import (
	"context"
	"net/http"

	"github.com/navikt/breakouts/internal/breakout"
	"github.com/navikt/breakouts/internal/models"
)

// EventApplier defines the feed operations needed by the webhook
type EventApplier interface {
	ApplyEvent(ctx context.Context, event *models.FeedEvent) error
}

// RoomStatusProvider defines the room projection needed by the session API
type RoomStatusProvider interface {
	GetRoomStatusData(ctx context.Context, meetingID, callerID string) ([]models.RoomStatus, error)
}

// SessionStore defines the session lifecycle operations needed by API handlers
type SessionStore interface {
	Create(ctx context.Context, meetingID, userID string) (*breakout.Session, error)
	Get(id string) (*breakout.Session, error)
	Destroy(id string) error
}

// SessionChannel serves a long-lived per-session connection
type SessionChannel interface {
	ServeSession(w http.ResponseWriter, r *http.Request, sessionID string)
}

// MediaChannel is a SessionChannel whose per-session state is released on session end
type MediaChannel interface {
	SessionChannel
	Remove(sessionID string)
}
