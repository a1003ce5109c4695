package breakout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/navikt/breakouts/internal/logging"
	"github.com/navikt/breakouts/internal/utils"
)

const undoTransferTimeout = 10 * time.Second

// AudioState is the state of a caller's audio attachment
type AudioState int

const (
	AudioDisconnected AudioState = iota
	AudioConnecting
	AudioConnected
	AudioReturning
)

// String returns the string representation of an audio state
func (s AudioState) String() string {
	switch s {
	case AudioDisconnected:
		return "DISCONNECTED"
	case AudioConnecting:
		return "CONNECTING"
	case AudioConnected:
		return "CONNECTED"
	case AudioReturning:
		return "RETURNING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s AudioState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AudioAttachment is which breakout room the caller's microphone is routed to.
// RoomID is empty exactly when State is AudioDisconnected.
type AudioAttachment struct {
	State  AudioState `json:"state"`
	RoomID string     `json:"room_id,omitempty"`
}

// EndpointKind distinguishes the parent meeting's audio from a room's audio
type EndpointKind string

const (
	EndpointMain EndpointKind = "main"
	EndpointRoom EndpointKind = "room"
)

// Endpoint is an audio channel the media client can leave or join
type Endpoint struct {
	Kind   EndpointKind `json:"kind"`
	RoomID string       `json:"room_id,omitempty"`
}

// MainEndpoint is the parent meeting's audio
func MainEndpoint() Endpoint {
	return Endpoint{Kind: EndpointMain}
}

// RoomEndpoint is a breakout room's audio
func RoomEndpoint(roomID string) Endpoint {
	return Endpoint{Kind: EndpointRoom, RoomID: roomID}
}

// Instruction is a leave+join pair executed by the media client as one step.
// There is no bare leave or bare join.
type Instruction struct {
	Leave Endpoint `json:"leave"`
	Join  Endpoint `json:"join"`
}

// AudioBridge executes media instructions on the caller's client
type AudioBridge interface {
	// Execute sends an instruction pair and blocks until the client acknowledges it
	Execute(ctx context.Context, instruction Instruction) error
	// LeaveMainMedia stops the parent meeting's audio, video and screenshare
	// when the caller opens a breakout room
	LeaveMainMedia(ctx context.Context) error
}

// AudioCoordinator moves one caller's audio between the parent meeting and
// breakout rooms:
//
//	DISCONNECTED -> CONNECTING -> CONNECTED -> RETURNING -> DISCONNECTED
//
// ForceReset returns to DISCONNECTED from any state.
type AudioCoordinator struct {
	meetingID string
	userID    string
	transfers UserTransferrer
	bridge    AudioBridge

	mu         sync.Mutex
	attachment AudioAttachment
	// generation changes on every accepted operation and forced reset.
	// An in-flight operation may only commit if it is unchanged.
	generation uint64
	observers  []func(AudioAttachment)
}

// NewAudioCoordinator creates a coordinator in the DISCONNECTED state
func NewAudioCoordinator(meetingID, userID string, transfers UserTransferrer, bridge AudioBridge) *AudioCoordinator {
	return &AudioCoordinator{
		meetingID:  meetingID,
		userID:     userID,
		transfers:  transfers,
		bridge:     bridge,
		attachment: AudioAttachment{State: AudioDisconnected},
	}
}

// OnChange registers an observer called after every state change.
// Observers run with the coordinator locked and must not call back into it.
func (c *AudioCoordinator) OnChange(observer func(AudioAttachment)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, observer)
}

// Attachment returns the current attachment
func (c *AudioCoordinator) Attachment() AudioAttachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachment
}

// setLocked changes the attachment and notifies observers. Caller holds c.mu.
func (c *AudioCoordinator) setLocked(state AudioState, roomID string) {
	if state == AudioDisconnected {
		roomID = ""
	}
	c.attachment = AudioAttachment{State: state, RoomID: roomID}
	for _, observer := range c.observers {
		observer(c.attachment)
	}
}

// begin moves to a transitional state and returns the operation's generation
func (c *AudioCoordinator) begin(state AudioState, roomID string) uint64 {
	c.generation++
	c.setLocked(state, roomID)
	return c.generation
}

// commit moves to the final state unless the operation was interrupted
func (c *AudioCoordinator) commit(generation uint64, state AudioState, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return ErrTransferInterrupted
	}
	c.setLocked(state, roomID)
	return nil
}

// TransferTo attaches the caller's audio to roomID. It is a no-op when the
// audio is already attached or attaching to roomID.
func (c *AudioCoordinator) TransferTo(ctx context.Context, roomID string) error {
	logger := logging.Module("audio")

	c.mu.Lock()
	current := c.attachment
	switch current.State {
	case AudioConnected, AudioConnecting:
		c.mu.Unlock()
		if current.RoomID == roomID {
			return nil
		}
		return fmt.Errorf("%w: attached to %s", ErrConflictingTransfer, current.RoomID)
	case AudioReturning:
		c.mu.Unlock()
		return fmt.Errorf("%w: returning from %s", ErrConflictingTransfer, current.RoomID)
	}
	generation := c.begin(AudioConnecting, roomID)
	c.mu.Unlock()

	instruction := Instruction{Leave: MainEndpoint(), Join: RoomEndpoint(roomID)}
	if err := c.run(ctx, c.meetingID, roomID, instruction); err != nil {
		c.rollback(generation, current)
		logger.Warn().Err(err).
			Str("user_id", utils.SanitizeLogString(c.userID)).
			Str("room_id", utils.SanitizeLogString(roomID)).
			Msg("Audio transfer to room failed")
		return err
	}

	if err := c.commit(generation, AudioConnected, roomID); err != nil {
		return err
	}

	logger.Info().
		Str("user_id", utils.SanitizeLogString(c.userID)).
		Str("room_id", utils.SanitizeLogString(roomID)).
		Msg("Audio attached to breakout room")
	return nil
}

// ReturnToMain moves the caller's audio from roomID back to the parent
// meeting. Repeating it while the return is in flight is a no-op.
func (c *AudioCoordinator) ReturnToMain(ctx context.Context, roomID string) error {
	logger := logging.Module("audio")

	c.mu.Lock()
	current := c.attachment
	switch current.State {
	case AudioDisconnected:
		c.mu.Unlock()
		return ErrNotAttached
	case AudioReturning:
		c.mu.Unlock()
		if current.RoomID == roomID {
			return nil
		}
		return fmt.Errorf("%w: returning from %s", ErrConflictingTransfer, current.RoomID)
	case AudioConnecting:
		c.mu.Unlock()
		return fmt.Errorf("%w: still connecting to %s", ErrConflictingTransfer, current.RoomID)
	}
	if current.RoomID != roomID {
		c.mu.Unlock()
		return fmt.Errorf("%w: attached to %s", ErrConflictingTransfer, current.RoomID)
	}
	generation := c.begin(AudioReturning, roomID)
	c.mu.Unlock()

	instruction := Instruction{Leave: RoomEndpoint(roomID), Join: MainEndpoint()}
	if err := c.run(ctx, roomID, c.meetingID, instruction); err != nil {
		c.rollback(generation, current)
		logger.Warn().Err(err).
			Str("user_id", utils.SanitizeLogString(c.userID)).
			Str("room_id", utils.SanitizeLogString(roomID)).
			Msg("Audio return to main room failed")
		return err
	}

	if err := c.commit(generation, AudioDisconnected, ""); err != nil {
		return err
	}

	logger.Info().
		Str("user_id", utils.SanitizeLogString(c.userID)).
		Str("room_id", utils.SanitizeLogString(roomID)).
		Msg("Audio returned to main room")
	return nil
}

// run moves the user upstream and then executes the instruction pair locally
func (c *AudioCoordinator) run(ctx context.Context, from, to string, instruction Instruction) error {
	if err := c.transfers.TransferUser(ctx, c.meetingID, c.userID, from, to); err != nil {
		return fmt.Errorf("failed to transfer user: %w", err)
	}
	if err := c.bridge.Execute(ctx, instruction); err != nil {
		c.undoTransfer(ctx, from, to)
		return fmt.Errorf("failed to execute audio instruction: %w", err)
	}
	return nil
}

// undoTransfer moves the user back upstream after the local media switch failed
func (c *AudioCoordinator) undoTransfer(ctx context.Context, from, to string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), undoTransferTimeout)
	defer cancel()

	if err := c.transfers.TransferUser(ctx, c.meetingID, c.userID, to, from); err != nil {
		logger := logging.Module("audio")
		logger.Error().
			Err(err).
			Str("user_id", utils.SanitizeLogString(c.userID)).
			Str("from", utils.SanitizeLogString(to)).
			Str("to", utils.SanitizeLogString(from)).
			Msg("Failed to undo remote audio transfer")
	}
}

// rollback restores the attachment held before a failed operation
func (c *AudioCoordinator) rollback(generation uint64, previous AudioAttachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return
	}
	c.generation++
	c.setLocked(previous.State, previous.RoomID)
}

// ForceReset moves to DISCONNECTED without emitting an instruction, after the
// caller's media connection was lost or the client reconnected to signalling.
// Any in-flight transfer is invalidated. Returns false if already disconnected.
func (c *AudioCoordinator) ForceReset(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attachment.State == AudioDisconnected {
		return false
	}

	previous := c.attachment
	c.generation++
	c.setLocked(AudioDisconnected, "")

	logger := logging.Module("audio")
	logger.Info().
		Str("user_id", utils.SanitizeLogString(c.userID)).
		Str("previous_state", previous.State.String()).
		Str("room_id", utils.SanitizeLogString(previous.RoomID)).
		Str("reason", utils.SanitizeLogString(reason)).
		Msg("Audio attachment reset")
	return true
}
