package media

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navikt/breakouts/internal/breakout"
)

type lossRecorder struct {
	mu     sync.Mutex
	losses []string
}

func (l *lossRecorder) handle(sessionID, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.losses = append(l.losses, sessionID+":"+reason)
}

func (l *lossRecorder) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.losses...)
}

func setupHub(t *testing.T, ackTimeout time.Duration) (*Hub, *lossRecorder, *httptest.Server) {
	t.Helper()

	hub := NewHub(ackTimeout)
	recorder := &lossRecorder{}
	hub.OnLoss(recorder.handle)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeSession(w, r, strings.TrimPrefix(r.URL.Path, "/media/"))
	}))
	t.Cleanup(server.Close)

	return hub, recorder, server
}

func dial(t *testing.T, hub *Hub, server *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/media/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return hub.Bridge(sessionID).Connected()
	}, time.Second, 10*time.Millisecond)

	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestBridge_NotConnected(t *testing.T) {
	hub := NewHub(time.Second)
	bridge := hub.Bridge("session-1")

	err := bridge.Execute(context.Background(), breakout.Instruction{
		Leave: breakout.MainEndpoint(),
		Join:  breakout.RoomEndpoint("room-a"),
	})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, bridge.LeaveMainMedia(context.Background()), ErrNotConnected)
}

func TestHub_BridgeIsStable(t *testing.T) {
	hub := NewHub(time.Second)
	assert.Same(t, hub.Bridge("session-1"), hub.Bridge("session-1"))
	assert.NotSame(t, hub.Bridge("session-1"), hub.Bridge("session-2"))
}

func TestBridge_ExecuteAcknowledged(t *testing.T) {
	hub, _, server := setupHub(t, 2*time.Second)
	conn := dial(t, hub, server, "session-1")

	result := make(chan error, 1)
	go func() {
		result <- hub.Bridge("session-1").Execute(context.Background(), breakout.Instruction{
			Leave: breakout.MainEndpoint(),
			Join:  breakout.RoomEndpoint("room-a"),
		})
	}()

	msg := readMessage(t, conn)
	assert.Equal(t, TypeInstruction, msg.Type)
	assert.NotEmpty(t, msg.ID)
	require.NotNil(t, msg.Leave)
	require.NotNil(t, msg.Join)
	assert.Equal(t, breakout.MainEndpoint(), *msg.Leave)
	assert.Equal(t, breakout.RoomEndpoint("room-a"), *msg.Join)

	require.NoError(t, conn.WriteJSON(Message{Type: TypeAck, ID: msg.ID, OK: true}))

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after ack")
	}
}

func TestBridge_ExecuteRejected(t *testing.T) {
	hub, _, server := setupHub(t, 2*time.Second)
	conn := dial(t, hub, server, "session-1")

	result := make(chan error, 1)
	go func() {
		result <- hub.Bridge("session-1").LeaveMainMedia(context.Background())
	}()

	msg := readMessage(t, conn)
	assert.Equal(t, TypeLeaveMain, msg.Type)

	require.NoError(t, conn.WriteJSON(Message{Type: TypeAck, ID: msg.ID, OK: false, Error: "no device"}))

	select {
	case err := <-result:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no device")
	case <-time.After(2 * time.Second):
		t.Fatal("LeaveMainMedia did not return after rejection")
	}
}

func TestBridge_AckTimeout(t *testing.T) {
	hub, _, server := setupHub(t, 50*time.Millisecond)
	conn := dial(t, hub, server, "session-1")

	err := hub.Bridge("session-1").LeaveMainMedia(context.Background())
	assert.ErrorIs(t, err, ErrAckTimeout)

	// the unanswered message was still delivered
	msg := readMessage(t, conn)
	assert.Equal(t, TypeLeaveMain, msg.Type)
}

func TestBridge_ContextCancelled(t *testing.T) {
	hub, _, server := setupHub(t, 5*time.Second)
	dial(t, hub, server, "session-1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := hub.Bridge("session-1").LeaveMainMedia(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridge_ConnectionLost(t *testing.T) {
	hub, recorder, server := setupHub(t, 5*time.Second)
	conn := dial(t, hub, server, "session-1")

	result := make(chan error, 1)
	go func() {
		result <- hub.Bridge("session-1").LeaveMainMedia(context.Background())
	}()

	readMessage(t, conn)
	require.NoError(t, conn.Close())

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(2 * time.Second):
		t.Fatal("pending instruction not failed on disconnect")
	}

	require.Eventually(t, func() bool {
		return len(recorder.all()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"session-1:media connection closed"}, recorder.all())
	assert.False(t, hub.Bridge("session-1").Connected())
}

func TestBridge_ClientSignals(t *testing.T) {
	hub, recorder, server := setupHub(t, time.Second)
	conn := dial(t, hub, server, "session-1")

	require.NoError(t, conn.WriteJSON(Message{Type: TypeMediaLost, Reason: "track ended"}))
	require.NoError(t, conn.WriteJSON(Message{Type: TypeReconnected}))

	require.Eventually(t, func() bool {
		return len(recorder.all()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{
		"session-1:track ended",
		"session-1:signalling reconnect",
	}, recorder.all())

	// signals do not detach the client
	assert.True(t, hub.Bridge("session-1").Connected())
}

func TestBridge_Ping(t *testing.T) {
	hub, _, server := setupHub(t, time.Second)
	conn := dial(t, hub, server, "session-1")

	require.NoError(t, conn.WriteJSON(Message{Type: TypePing}))
	msg := readMessage(t, conn)
	assert.Equal(t, TypePong, msg.Type)
}

func TestBridge_ReplacedConnectionIsNotALoss(t *testing.T) {
	hub, recorder, server := setupHub(t, time.Second)
	first := dial(t, hub, server, "session-1")

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/media/session-1"
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()

	// the first connection is closed by the server once replaced
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = first.ReadMessage()
	assert.Error(t, err)

	require.NoError(t, second.WriteJSON(Message{Type: TypePing}))
	msg := readMessage(t, second)
	assert.Equal(t, TypePong, msg.Type)

	assert.Empty(t, recorder.all())
	assert.True(t, hub.Bridge("session-1").Connected())
}

func TestHub_Remove(t *testing.T) {
	hub, recorder, server := setupHub(t, time.Second)
	conn := dial(t, hub, server, "session-1")

	hub.Remove("session-1")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, recorder.all())
}
