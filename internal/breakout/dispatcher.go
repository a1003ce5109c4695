package breakout

import "context"

// JoinURLRequester asks upstream to generate a caller's join URL for a room.
// The URL arrives later through the room source, not as a return value.
type JoinURLRequester interface {
	RequestJoinURL(ctx context.Context, meetingID, roomID, userID string) error
}

// UserTransferrer moves a user's audio between the parent meeting and a room.
// The parent meeting is addressed by its own id.
type UserTransferrer interface {
	TransferUser(ctx context.Context, meetingID, userID, fromRoomID, toRoomID string) error
}

// Dispatcher sends remote calls to the session-management server
type Dispatcher interface {
	JoinURLRequester
	UserTransferrer
	ExtendBreakoutsTime(ctx context.Context, meetingID string, minutes int) error
	EndAllRooms(ctx context.Context, meetingID string) error
}
