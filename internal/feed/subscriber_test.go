package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navikt/breakouts/internal/config"
	"github.com/navikt/breakouts/internal/models"
)

type recordingApplier struct {
	mu     sync.Mutex
	events []*models.FeedEvent
}

func (a *recordingApplier) ApplyEvent(ctx context.Context, event *models.FeedEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingApplier) snapshot() []*models.FeedEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.FeedEvent(nil), a.events...)
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name      string
		msg       *sse.Event
		wantEvent string
		wantNil   bool
		wantErr   bool
	}{
		{
			name:      "TypeInBody",
			msg:       &sse.Event{Data: []byte(`{"event":"breakout.ended","meeting_id":"parent-1"}`)},
			wantEvent: models.EventBreakoutsEnded,
		},
		{
			name:      "TypeFromSSEEventName",
			msg:       &sse.Event{Event: []byte(models.EventRoomsUpdated), Data: []byte(`{"meeting_id":"parent-1","payload":{"rooms":[]}}`)},
			wantEvent: models.EventRoomsUpdated,
		},
		{
			name:    "KeepAlive",
			msg:     &sse.Event{Data: []byte("  ")},
			wantNil: true,
		},
		{
			name:    "NotJSON",
			msg:     &sse.Event{Data: []byte("hello")},
			wantErr: true,
		},
		{
			name:    "NoType",
			msg:     &sse.Event{Data: []byte(`{"meeting_id":"parent-1"}`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := decodeEvent(tt.msg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, event)
				return
			}
			require.NotNil(t, event)
			assert.Equal(t, tt.wantEvent, event.Event)
			assert.Equal(t, "parent-1", event.MeetingID)
		})
	}
}

func TestSubscriber_Run(t *testing.T) {
	server := sse.New()
	server.CreateStream("breakouts")
	defer server.Close()

	var auth string
	var authMu sync.Mutex
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authMu.Lock()
		auth = r.Header.Get("Authorization")
		authMu.Unlock()
		server.ServeHTTP(w, r)
	}))
	defer httpServer.Close()

	applier := &recordingApplier{}
	subscriber := NewSubscriber(config.FeedConfig{
		SSEURL:    httpServer.URL + "/events",
		SSEStream: "breakouts",
	}, "feed-token", applier)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- subscriber.Run(ctx) }()

	payload, err := json.Marshal(models.FeedEvent{
		Event:     models.EventMeetingTimeRemaining,
		MeetingID: "parent-1",
		Payload:   json.RawMessage(`{"remaining_seconds":1200}`),
	})
	require.NoError(t, err)
	server.Publish("breakouts", &sse.Event{Data: payload})

	assert.Eventually(t, func() bool {
		return len(applier.snapshot()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	events := applier.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventMeetingTimeRemaining, events[0].Event)
	seconds, err := events[0].ProcessTimeRemaining()
	require.NoError(t, err)
	assert.Equal(t, 1200, seconds)

	authMu.Lock()
	assert.Equal(t, "Bearer feed-token", auth)
	authMu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}
