package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/navikt/breakouts/internal/breakout"
	"github.com/navikt/breakouts/internal/logging"
	"github.com/navikt/breakouts/internal/media"
	"github.com/navikt/breakouts/internal/upstream"
	"github.com/navikt/breakouts/internal/utils"
)

type sessionKey struct{}

// SessionHandler serves the per-caller breakout operations
type SessionHandler struct {
	sessions SessionStore
	rooms    RoomStatusProvider
	media    MediaChannel
}

// NewSessionHandler creates a session handler. media may be nil.
func NewSessionHandler(sessions SessionStore, rooms RoomStatusProvider, media MediaChannel) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		rooms:    rooms,
		media:    media,
	}
}

// Routes returns the router mounted at /api/sessions
func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.createSession)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Use(h.sessionCtx)

		r.Get("/", h.getSession)
		r.Delete("/", h.deleteSession)
		r.Get("/rooms", h.listRooms)
		r.Post("/rooms/{roomID}/join", h.joinRoom)
		r.Delete("/join", h.abandonJoin)

		r.Group(func(r chi.Router) {
			r.Use(h.requireModerator)
			r.Post("/extend", h.extendTime)
			r.Post("/end", h.endAllRooms)
			r.Post("/rooms/{roomID}/audio", h.transferAudio)
			r.Delete("/rooms/{roomID}/audio", h.returnAudio)
		})
	})

	return r
}

type createSessionRequest struct {
	MeetingID string `json:"meeting_id"`
	UserID    string `json:"user_id"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type pendingJoinView struct {
	RequestID string `json:"request_id"`
	RoomID    string `json:"room_id"`
}

type sessionView struct {
	SessionID   string                   `json:"session_id"`
	MeetingID   string                   `json:"meeting_id"`
	UserID      string                   `json:"user_id"`
	Audio       breakout.AudioAttachment `json:"audio"`
	PendingJoin *pendingJoinView         `json:"pending_join,omitempty"`
	CurrentRoom string                   `json:"current_room,omitempty"`
	Moderator   bool                     `json:"moderator"`
}

type joinResponse struct {
	URL       string `json:"url,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type extendRequest struct {
	Minutes int `json:"minutes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// sessionCtx loads the session named in the path into the request context
func (h *SessionHandler) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) *breakout.Session {
	return r.Context().Value(sessionKey{}).(*breakout.Session)
}

// requireModerator rejects callers who do not moderate the parent meeting
func (h *SessionHandler) requireModerator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		moderator, err := sessionFrom(r).IsModerator(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !moderator {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "moderator role required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *SessionHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}
	if req.MeetingID == "" || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "meeting_id and user_id are required"})
		return
	}

	session, err := h.sessions.Create(r.Context(), req.MeetingID, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: session.ID})
}

func (h *SessionHandler) getSession(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	moderator, err := session.IsModerator(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	view := sessionView{
		SessionID: session.ID,
		MeetingID: session.MeetingID,
		UserID:    session.UserID,
		Audio:     session.Audio(),
		Moderator: moderator,
	}
	if req, ok := session.PendingJoin(); ok {
		view.PendingJoin = &pendingJoinView{RequestID: req.ID, RoomID: req.RoomID}
	}
	if room, ok, err := session.CurrentRoom(r.Context()); err == nil && ok {
		view.CurrentRoom = room.ID
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *SessionHandler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := sessionFrom(r).ID
	if err := h.sessions.Destroy(id); err != nil {
		writeError(w, r, err)
		return
	}
	if h.media != nil {
		h.media.Remove(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) listRooms(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	rooms, err := h.rooms.GetRoomStatusData(r.Context(), session.MeetingID, session.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rooms)
}

func (h *SessionHandler) joinRoom(w http.ResponseWriter, r *http.Request) {
	result, err := sessionFrom(r).JoinRoom(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if result.Pending() {
		writeJSON(w, http.StatusAccepted, joinResponse{RequestID: result.Request.ID})
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{URL: result.URL})
}

func (h *SessionHandler) abandonJoin(w http.ResponseWriter, r *http.Request) {
	if !sessionFrom(r).AbandonJoin() {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no pending join request"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) transferAudio(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	if err := session.TransferAudio(r.Context(), chi.URLParam(r, "roomID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Audio())
}

func (h *SessionHandler) returnAudio(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	if err := session.ReturnAudio(r.Context(), chi.URLParam(r, "roomID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Audio())
}

func (h *SessionHandler) extendTime(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}

	if err := sessionFrom(r).ExtendTime(r.Context(), req.Minutes); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) endAllRooms(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r).EndAllRooms(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps breakout errors to HTTP status codes
func statusFor(err error) int {
	var upstreamErr *upstream.StatusError

	switch {
	case errors.Is(err, breakout.ErrNotFound), errors.Is(err, breakout.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, breakout.ErrConflictingTransfer),
		errors.Is(err, breakout.ErrNotAttached),
		errors.Is(err, breakout.ErrTransferInterrupted),
		errors.Is(err, media.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, breakout.ErrInvalidExtension):
		return http.StatusBadRequest
	case errors.Is(err, breakout.ErrWouldExceedParentTime):
		return http.StatusUnprocessableEntity
	case errors.Is(err, breakout.ErrSuperseded):
		return http.StatusGone
	case errors.As(err, &upstreamErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	if status >= http.StatusInternalServerError {
		logger := logging.Module("api")
		logger.Error().Err(err).
			Str("path", utils.SanitizeLogString(r.URL.Path)).
			Int("status", status).
			Msg("Request failed")
		writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}
