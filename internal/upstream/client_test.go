package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/navikt/breakouts/internal/breakout"
	"github.com/navikt/breakouts/internal/config"
	"github.com/navikt/breakouts/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Client satisfies the dispatcher the sessions need
var _ breakout.Dispatcher = (*upstream.Client)(nil)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
}

func newTestServer(t *testing.T, status int) (*httptest.Server, chan recordedRequest) {
	t.Helper()
	requests := make(chan recordedRequest, 10)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Auth:   r.Header.Get("Authorization"),
		}
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &rec.Body)
		}
		requests <- rec

		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte(`{"error":"meeting not running"}`))
		}
	}))
	t.Cleanup(server.Close)

	return server, requests
}

func newClient(server *httptest.Server) *upstream.Client {
	return upstream.NewClient(config.UpstreamConfig{
		BaseURL: server.URL + "/",
		Secret:  "shared-secret",
		Timeout: time.Second,
	})
}

func TestClient_Calls(t *testing.T) {
	server, requests := newTestServer(t, http.StatusAccepted)
	client := newClient(server)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		path string
		body map[string]any
	}{
		{
			name: "RequestJoinURL",
			call: func() error { return client.RequestJoinURL(ctx, "parent-1", "room/a", "w_ada") },
			path: "/api/meetings/parent-1/breakouts/room%2Fa/join-url",
			body: map[string]any{"userId": "w_ada"},
		},
		{
			name: "ExtendBreakoutsTime",
			call: func() error { return client.ExtendBreakoutsTime(ctx, "parent-1", 5) },
			path: "/api/meetings/parent-1/breakouts/extend",
			body: map[string]any{"minutes": float64(5)},
		},
		{
			name: "EndAllRooms",
			call: func() error { return client.EndAllRooms(ctx, "parent-1") },
			path: "/api/meetings/parent-1/breakouts/end",
		},
		{
			name: "TransferUser",
			call: func() error { return client.TransferUser(ctx, "parent-1", "w_ada", "parent-1", "room-a") },
			path: "/api/meetings/parent-1/users/w_ada/transfer",
			body: map[string]any{"from": "parent-1", "to": "room-a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.call())

			rec := <-requests
			assert.Equal(t, http.MethodPost, rec.Method)
			assert.Equal(t, tt.path, rec.Path)
			assert.Equal(t, "Bearer shared-secret", rec.Auth)
			assert.Equal(t, tt.body, rec.Body)
		})
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	server, _ := newTestServer(t, http.StatusConflict)
	client := newClient(server)

	err := client.EndAllRooms(context.Background(), "parent-1")
	require.Error(t, err)

	var statusErr *upstream.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusConflict, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "meeting not running")
}

func TestClient_ContextCancelled(t *testing.T) {
	server, _ := newTestServer(t, http.StatusOK)
	client := newClient(server)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.ExtendBreakoutsTime(ctx, "parent-1", 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_Unreachable(t *testing.T) {
	client := upstream.NewClient(config.UpstreamConfig{BaseURL: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond})

	assert.Error(t, client.EndAllRooms(context.Background(), "parent-1"))
}
