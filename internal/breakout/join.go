package breakout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/navikt/breakouts/internal/logging"
	"github.com/navikt/breakouts/internal/utils"
)

// JoinStatus is the lifecycle state of a join request
type JoinStatus int

const (
	JoinPending JoinStatus = iota
	JoinResolved
	JoinSuperseded
)

// String returns the string representation of a join status
func (s JoinStatus) String() string {
	switch s {
	case JoinPending:
		return "PENDING"
	case JoinResolved:
		return "RESOLVED"
	case JoinSuperseded:
		return "SUPERSEDED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s JoinStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// JoinRequest is a request for a caller's join URL. It completes exactly once,
// either resolved with a URL or superseded.
type JoinRequest struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	CallerID    string    `json:"caller_id"`
	RequestedAt time.Time `json:"requested_at"`

	mu     sync.Mutex
	status JoinStatus
	url    string
	done   chan struct{}
}

func newJoinRequest(roomID, callerID string, now time.Time) *JoinRequest {
	return &JoinRequest{
		ID:          ulid.Make().String(),
		RoomID:      roomID,
		CallerID:    callerID,
		RequestedAt: now,
		status:      JoinPending,
		done:        make(chan struct{}),
	}
}

// Status returns the current status
func (r *JoinRequest) Status() JoinStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// URL returns the join URL of a resolved request
func (r *JoinRequest) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

// Done is closed when the request is resolved or superseded
func (r *JoinRequest) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request completes or ctx is done
func (r *JoinRequest) Wait(ctx context.Context) (string, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == JoinSuperseded {
		return "", ErrSuperseded
	}
	return r.url, nil
}

// complete moves a pending request to its final status. Returns false if it
// had already completed.
func (r *JoinRequest) complete(status JoinStatus, url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != JoinPending {
		return false
	}
	r.status = status
	r.url = url
	close(r.done)
	return true
}

// JoinTracker tracks the join URL request of one caller. At most one request
// is pending; a new request supersedes the previous one.
type JoinTracker struct {
	registry   *Registry
	dispatcher JoinURLRequester
	callerID   string
	now        func() time.Time

	mu      sync.Mutex
	pending *JoinRequest
}

// NewJoinTracker creates a tracker for callerID
func NewJoinTracker(registry *Registry, dispatcher JoinURLRequester, callerID string) *JoinTracker {
	return &JoinTracker{
		registry:   registry,
		dispatcher: dispatcher,
		callerID:   callerID,
		now:        time.Now,
	}
}

// cachedURL returns the caller's join URL for a room if the registry has one
func (t *JoinTracker) cachedURL(ctx context.Context, roomID string) (string, error) {
	member, ok, err := t.registry.MemberOf(ctx, roomID, t.callerID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return member.JoinURL, nil
}

// RequestJoinURL returns the cached join URL for roomID, or supersedes any
// pending request and asks upstream for a new URL.
//
// With a cached URL, req is the pending request for roomID that the URL
// just resolved, if there was one; its waiters own the result. Without a
// cached URL, req is the newly dispatched request.
func (t *JoinTracker) RequestJoinURL(ctx context.Context, roomID string) (string, *JoinRequest, error) {
	url, err := t.cachedURL(ctx, roomID)
	if err != nil {
		return "", nil, err
	}
	if url != "" {
		return url, t.resolvePending(roomID, url), nil
	}

	return t.dispatch(ctx, roomID)
}

// Resolve is RequestJoinURL without re-dispatching: a request already
// pending for roomID is returned as is
func (t *JoinTracker) Resolve(ctx context.Context, roomID string) (string, *JoinRequest, error) {
	url, err := t.cachedURL(ctx, roomID)
	if err != nil {
		return "", nil, err
	}
	if url != "" {
		return url, t.resolvePending(roomID, url), nil
	}

	t.mu.Lock()
	pending := t.pending
	t.mu.Unlock()
	if pending != nil && pending.RoomID == roomID {
		return "", pending, nil
	}

	return t.dispatch(ctx, roomID)
}

func (t *JoinTracker) dispatch(ctx context.Context, roomID string) (string, *JoinRequest, error) {
	logger := logging.Module("breakout")

	req := newJoinRequest(roomID, t.callerID, t.now())

	t.mu.Lock()
	previous := t.pending
	t.pending = req
	t.mu.Unlock()

	if previous != nil && previous.complete(JoinSuperseded, "") {
		logger.Debug().
			Str("request_id", previous.ID).
			Str("room_id", utils.SanitizeLogString(previous.RoomID)).
			Msg("Join request superseded")
	}

	err := t.dispatcher.RequestJoinURL(ctx, t.registry.MeetingID(), roomID, t.callerID)
	if err != nil {
		t.mu.Lock()
		if t.pending == req {
			t.pending = nil
		}
		t.mu.Unlock()
		req.complete(JoinSuperseded, "")
		return "", nil, fmt.Errorf("failed to request join url: %w", err)
	}

	logger.Debug().
		Str("request_id", req.ID).
		Str("room_id", utils.SanitizeLogString(roomID)).
		Msg("Join url requested")

	return "", req, nil
}

// resolvePending completes the pending request if it is for roomID
func (t *JoinTracker) resolvePending(roomID, url string) *JoinRequest {
	t.mu.Lock()
	req := t.pending
	if req == nil || req.RoomID != roomID {
		t.mu.Unlock()
		return nil
	}
	t.pending = nil
	t.mu.Unlock()

	if !req.complete(JoinResolved, url) {
		return nil
	}
	return req
}

// Refresh resolves the pending request if the registry now holds the
// caller's join URL. It is called whenever the room source changes.
// Returns the request it resolved, if any.
func (t *JoinTracker) Refresh(ctx context.Context) (*JoinRequest, error) {
	t.mu.Lock()
	pending := t.pending
	t.mu.Unlock()
	if pending == nil {
		return nil, nil
	}

	url, err := t.cachedURL(ctx, pending.RoomID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Room is gone; the request stays pending until abandoned
			return nil, nil
		}
		return nil, err
	}
	if url == "" {
		return nil, nil
	}

	return t.resolvePending(pending.RoomID, url), nil
}

// Abandon supersedes the pending request so the caller can retry elsewhere.
// Returns false if nothing was pending.
func (t *JoinTracker) Abandon() bool {
	t.mu.Lock()
	req := t.pending
	t.pending = nil
	t.mu.Unlock()

	if req == nil {
		return false
	}
	return req.complete(JoinSuperseded, "")
}

// Pending returns the pending request, if any
func (t *JoinTracker) Pending() (*JoinRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending, t.pending != nil
}
