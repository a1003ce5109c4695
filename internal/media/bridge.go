// Package media drives the caller's media client over a websocket
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/navikt/breakouts/internal/breakout"
	"github.com/navikt/breakouts/internal/logging"
	"github.com/navikt/breakouts/internal/utils"
)

var (
	ErrNotConnected   = errors.New("media client not connected")
	ErrConnectionLost = errors.New("media connection lost")
	ErrAckTimeout     = errors.New("media client did not acknowledge")
	ErrBackpressure   = errors.New("media client send buffer full")
)

// Message types on the media channel
const (
	TypeInstruction = "instruction"
	TypeLeaveMain   = "leave-main"
	TypeAck         = "ack"
	TypeMediaLost   = "media-lost"
	TypeReconnected = "reconnected"
	TypePing        = "ping"
	TypePong        = "pong"
)

// Message is the envelope of every media channel message
type Message struct {
	Type   string             `json:"type"`
	ID     string             `json:"id,omitempty"`
	Leave  *breakout.Endpoint `json:"leave,omitempty"`
	Join   *breakout.Endpoint `json:"join,omitempty"`
	OK     bool               `json:"ok,omitempty"`
	Error  string             `json:"error,omitempty"`
	Reason string             `json:"reason,omitempty"`
}

// conn is one websocket connection of a bridge
type conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:   ws,
		send: make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (c *conn) trySend(data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionLost
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				c.close()
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		}
	}
}

// Bridge implements breakout.AudioBridge for one session. It exists before
// the client connects; instructions fail with ErrNotConnected until it does.
type Bridge struct {
	sessionID  string
	ackTimeout time.Duration
	onLoss     func(reason string)

	mu      sync.Mutex
	conn    *conn
	pending map[string]chan error
	seq     uint64
}

func newBridge(sessionID string, ackTimeout time.Duration, onLoss func(reason string)) *Bridge {
	return &Bridge{
		sessionID:  sessionID,
		ackTimeout: ackTimeout,
		onLoss:     onLoss,
		pending:    make(map[string]chan error),
	}
}

// Connected reports whether a media client is attached
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Execute sends an instruction pair and waits for the client's acknowledgement
func (b *Bridge) Execute(ctx context.Context, instruction breakout.Instruction) error {
	leave, join := instruction.Leave, instruction.Join
	return b.request(ctx, Message{Type: TypeInstruction, Leave: &leave, Join: &join})
}

// LeaveMainMedia tells the client to stop the parent meeting's audio, video and screenshare
func (b *Bridge) LeaveMainMedia(ctx context.Context) error {
	return b.request(ctx, Message{Type: TypeLeaveMain})
}

func (b *Bridge) request(ctx context.Context, msg Message) error {
	b.mu.Lock()
	c := b.conn
	if c == nil {
		b.mu.Unlock()
		return ErrNotConnected
	}
	b.seq++
	msg.ID = strconv.FormatUint(b.seq, 10)
	ack := make(chan error, 1)
	b.pending[msg.ID] = ack
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
	}()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal media message: %w", err)
	}
	if err := c.trySend(data); err != nil {
		return err
	}

	timer := time.NewTimer(b.ackTimeout)
	defer timer.Stop()

	select {
	case err := <-ack:
		return err
	case <-c.done:
		return ErrConnectionLost
	case <-timer.C:
		return ErrAckTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attach makes c the bridge's connection, closing any previous one
func (b *Bridge) attach(c *conn) {
	b.mu.Lock()
	previous := b.conn
	b.conn = c
	b.mu.Unlock()

	if previous != nil {
		previous.close()
	}
}

// detach forgets c if it is still the bridge's connection.
// Returns false if a newer connection replaced it.
func (b *Bridge) detach(c *conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != c {
		return false
	}
	b.conn = nil
	return true
}

// close drops the current connection without reporting a loss
func (b *Bridge) close() {
	b.mu.Lock()
	c := b.conn
	b.conn = nil
	b.mu.Unlock()

	if c != nil {
		c.close()
	}
}

func (b *Bridge) handleAck(msg Message) {
	b.mu.Lock()
	ack, ok := b.pending[msg.ID]
	b.mu.Unlock()
	if !ok {
		return
	}

	var err error
	if !msg.OK {
		err = fmt.Errorf("media client rejected instruction: %s", msg.Error)
	}
	select {
	case ack <- err:
	default:
	}
}

func (b *Bridge) readPump(c *conn) {
	logger := logging.Module("media")

	reason := "media connection closed"
	defer func() {
		c.close()
		if b.detach(c) {
			b.onLoss(reason)
		}
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			logger.Debug().Err(err).Str("session_id", b.sessionID).Msg("Media read ended")
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn().Err(err).Str("session_id", b.sessionID).Msg("Bad media message")
			continue
		}

		switch msg.Type {
		case TypeAck:
			b.handleAck(msg)
		case TypeMediaLost:
			b.onLoss(msg.Reason)
		case TypeReconnected:
			b.onLoss("signalling reconnect")
		case TypePing:
			if data, err := json.Marshal(Message{Type: TypePong}); err == nil {
				_ = c.trySend(data)
			}
		default:
			logger.Warn().
				Str("session_id", b.sessionID).
				Str("type", utils.SanitizeLogString(msg.Type)).
				Msg("Unknown media message")
		}
	}
}

// LossHandler is called when a session's media connection is lost
type LossHandler func(sessionID, reason string)

// Hub holds the media bridges of all sessions
type Hub struct {
	ackTimeout time.Duration
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	bridges map[string]*Bridge
	onLoss  LossHandler
}

// NewHub creates a hub whose bridges wait ackTimeout for acknowledgements
func NewHub(ackTimeout time.Duration) *Hub {
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Second
	}
	return &Hub{
		ackTimeout: ackTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		bridges: make(map[string]*Bridge),
	}
}

// OnLoss registers the handler for lost media connections
func (h *Hub) OnLoss(handler LossHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLoss = handler
}

func (h *Hub) handleLoss(sessionID, reason string) {
	h.mu.Lock()
	handler := h.onLoss
	h.mu.Unlock()

	logger := logging.Module("media")
	logger.Info().Str("session_id", sessionID).Str("reason", utils.SanitizeLogString(reason)).Msg("Media connection lost")

	if handler != nil {
		handler(sessionID, reason)
	}
}

// Bridge returns the bridge of a session, creating it on first use
func (h *Hub) Bridge(sessionID string) *Bridge {
	h.mu.Lock()
	defer h.mu.Unlock()

	bridge, ok := h.bridges[sessionID]
	if !ok {
		bridge = newBridge(sessionID, h.ackTimeout, func(reason string) {
			h.handleLoss(sessionID, reason)
		})
		h.bridges[sessionID] = bridge
	}
	return bridge
}

// Remove closes and forgets a session's bridge
func (h *Hub) Remove(sessionID string) {
	h.mu.Lock()
	bridge, ok := h.bridges[sessionID]
	delete(h.bridges, sessionID)
	h.mu.Unlock()

	if ok {
		bridge.close()
	}
}

// ServeSession upgrades the request and runs the session's media channel
// until the connection closes
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	logger := logging.Module("media")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).Msg("Websocket upgrade failed")
		return
	}

	bridge := h.Bridge(sessionID)
	c := newConn(ws)
	bridge.attach(c)
	logger.Info().Str("session_id", sessionID).Str("remote", r.RemoteAddr).Msg("Media client connected")

	go c.writePump()
	bridge.readPump(c)
}
