package web

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navikt/breakouts/internal/models"
)

func streamServer(es *EventStream) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		es.ServeSession(w, r, strings.TrimPrefix(r.URL.Path, "/events/"))
	}))
}

// readEvents collects "event:" names from an SSE body until n are seen
func readEvents(t *testing.T, scanner *bufio.Scanner, n int) []string {
	t.Helper()
	var names []string
	for len(names) < n && scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			names = append(names, strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		}
	}
	return names
}

func TestEventStream_CORSPreflight(t *testing.T) {
	es := NewEventStream(time.Second)
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodOptions, "/events/session-1", nil)

	es.ServeSession(recorder, request, "session-1")

	assert.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", recorder.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestEventStream_NotAcceptable(t *testing.T) {
	es := NewEventStream(time.Second)
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/events/session-1", nil)
	request.Header.Set("Accept", "application/json")

	es.ServeSession(recorder, request, "session-1")

	assert.Equal(t, http.StatusNotAcceptable, recorder.Code)
}

func TestEventStream_DeliversSessionEvents(t *testing.T) {
	es := NewEventStream(time.Hour)
	server := streamServer(es)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/events/session-1", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	scanner := bufio.NewScanner(resp.Body)
	assert.Equal(t, []string{"connected"}, readEvents(t, scanner, 1))
	assert.Equal(t, 1, es.ClientCount("session-1"))

	// Events of other sessions are not delivered
	es.Notify(models.SessionEvent{Name: models.SessionEventRooms, SessionID: "session-2"})
	es.Notify(models.SessionEvent{Name: models.SessionEventOpenURL, SessionID: "session-1", Data: map[string]string{"url": "https://meet/room-a"}})
	es.Notify(models.SessionEvent{Name: models.SessionEventClosed, SessionID: "session-1"})

	assert.Equal(t, []string{models.SessionEventOpenURL, models.SessionEventClosed}, readEvents(t, scanner, 2))

	assert.Eventually(t, func() bool {
		return es.ClientCount("session-1") == 0
	}, time.Second, 10*time.Millisecond, "Stream ends when the session closes")
}

func TestEventStream_NotifyWithoutClients(t *testing.T) {
	es := NewEventStream(time.Second)

	assert.NotPanics(t, func() {
		es.Notify(models.SessionEvent{Name: models.SessionEventAudio, SessionID: "nobody"})
	})
}

func TestIsEventStreamSupported(t *testing.T) {
	tests := []struct {
		accept   string
		expected bool
	}{
		{"", true},
		{"*/*", true},
		{"text/event-stream", true},
		{"text/html, text/event-stream", true},
		{"application/json", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/events/x", nil)
		if tt.accept != "" {
			r.Header.Set("Accept", tt.accept)
		}
		assert.Equal(t, tt.expected, isEventStreamSupported(r), tt.accept)
	}
}
