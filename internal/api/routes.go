package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/navikt/breakouts/internal/web"
)

// Dependencies are the components the HTTP surface is built from
type Dependencies struct {
	Feed          EventApplier
	Rooms         RoomStatusProvider
	Sessions      SessionStore
	Events        SessionChannel
	Media         MediaChannel
	WebhookSecret string
	Ready         []ReadinessCheck
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Health check endpoints for Kubernetes
	r.Get("/health/live", HealthLiveHandler)
	r.Get("/health/ready", HealthReadyHandler(deps.Ready...))

	// Room state feed
	r.Handle("/webhook", NewWebhookHandler(deps.Feed, deps.WebhookSecret))

	r.Mount("/api/sessions", NewSessionHandler(deps.Sessions, deps.Rooms, deps.Media).Routes())

	r.HandleFunc("/events/{sessionID}", channelHandler(deps.Sessions, deps.Events))
	if deps.Media != nil {
		r.Get("/media/{sessionID}", channelHandler(deps.Sessions, deps.Media))
	}

	return web.Wrap(r)
}

// channelHandler serves a per-session channel for existing sessions only
func channelHandler(sessions SessionStore, channel SessionChannel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		if _, err := sessions.Get(sessionID); err != nil {
			writeError(w, r, err)
			return
		}
		channel.ServeSession(w, r, sessionID)
	}
}
