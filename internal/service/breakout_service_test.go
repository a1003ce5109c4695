package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/navikt/breakouts/internal/models"
	"github.com/navikt/breakouts/internal/repository/memory"
	"github.com/navikt/breakouts/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockUpdateCallback is a mock for testing callbacks
type MockUpdateCallback struct {
	mock.Mock
}

func (m *MockUpdateCallback) OnUpdate(meetingID string) {
	m.Called(meetingID)
}

func feedEvent(t *testing.T, name, meetingID string, payload any) *models.FeedEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.FeedEvent{Event: name, MeetingID: meetingID, Payload: raw, EventTS: 1700000000000}
}

func roomsUpdated(t *testing.T, meetingID string, rooms ...models.RoomSnapshot) *models.FeedEvent {
	return feedEvent(t, models.EventRoomsUpdated, meetingID, models.RoomsUpdatedPayload{Rooms: rooms})
}

func TestBreakoutService_ApplyEvent(t *testing.T) {
	repo := memory.NewRepository()
	svc := service.NewBreakoutService(repo)
	ctx := context.Background()

	callback := new(MockUpdateCallback)
	callback.On("OnUpdate", "parent-1").Return()
	svc.RegisterUpdateCallback(callback.OnUpdate)

	t.Run("RoomsUpdated", func(t *testing.T) {
		err := svc.ApplyEvent(ctx, roomsUpdated(t, "parent-1",
			models.RoomSnapshot{ID: "room-b", Sequence: 2, ShortName: "Design", RemainingSeconds: 600},
			models.RoomSnapshot{ID: "room-a", Sequence: 1, IsDefaultName: true, RemainingSeconds: 600},
		))
		require.NoError(t, err)

		rooms, err := repo.ListRooms(ctx, "parent-1")
		require.NoError(t, err)
		assert.Len(t, rooms, 2)
	})

	t.Run("JoinURL", func(t *testing.T) {
		err := svc.ApplyEvent(ctx, feedEvent(t, models.EventJoinURL, "parent-1", models.JoinURLPayload{
			RoomID: "room-a", UserID: "w_user1", JoinURL: "https://meet/room-a?token=x",
		}))
		require.NoError(t, err)

		room, err := repo.GetRoom(ctx, "parent-1", "room-a")
		require.NoError(t, err)
		member, ok := room.LatestMember("w_user1")
		require.True(t, ok)
		assert.Equal(t, "https://meet/room-a?token=x", member.JoinURL)
	})

	t.Run("UserJoinedAndLeft", func(t *testing.T) {
		joined := models.JoinedUserPayload{RoomID: "room-a", UserID: "w_user1-b1", ParentUserID: "w_user1", Name: "Ada"}
		require.NoError(t, svc.ApplyEvent(ctx, feedEvent(t, models.EventUserJoined, "parent-1", joined)))

		room, err := repo.GetRoom(ctx, "parent-1", "room-a")
		require.NoError(t, err)
		assert.True(t, room.HasJoined("w_user1"))

		require.NoError(t, svc.ApplyEvent(ctx, feedEvent(t, models.EventUserLeft, "parent-1", joined)))
		room, err = repo.GetRoom(ctx, "parent-1", "room-a")
		require.NoError(t, err)
		assert.False(t, room.HasJoined("w_user1"))
	})

	t.Run("BreakoutTimeRemaining", func(t *testing.T) {
		err := svc.ApplyEvent(ctx, feedEvent(t, models.EventBreakoutTimeRemaining, "parent-1", models.TimeRemainingPayload{RemainingSeconds: 1200}))
		require.NoError(t, err)

		rooms, err := repo.ListRooms(ctx, "parent-1")
		require.NoError(t, err)
		for _, room := range rooms {
			assert.Equal(t, 1200, room.RemainingSeconds)
		}
	})

	t.Run("MeetingTimeRemaining", func(t *testing.T) {
		err := svc.ApplyEvent(ctx, feedEvent(t, models.EventMeetingTimeRemaining, "parent-1", models.TimeRemainingPayload{RemainingSeconds: 3000}))
		require.NoError(t, err)

		meeting, err := repo.GetParentMeeting(ctx, "parent-1")
		require.NoError(t, err)
		assert.Equal(t, 3000, meeting.RemainingSeconds)
		assert.Equal(t, int64(1700000000000), meeting.UpdatedAt.UnixMilli())
	})

	t.Run("RoleChanged", func(t *testing.T) {
		err := svc.ApplyEvent(ctx, feedEvent(t, models.EventRoleChanged, "parent-1", models.RoleChangedPayload{UserID: "w_user1", Role: "moderator"}))
		require.NoError(t, err)

		role, err := repo.GetUserRole(ctx, "parent-1", "w_user1")
		require.NoError(t, err)
		assert.Equal(t, models.RoleModerator, role)
	})

	t.Run("BreakoutsEnded", func(t *testing.T) {
		require.NoError(t, svc.ApplyEvent(ctx, &models.FeedEvent{Event: models.EventBreakoutsEnded, MeetingID: "parent-1"}))

		rooms, err := repo.ListRooms(ctx, "parent-1")
		require.NoError(t, err)
		assert.Empty(t, rooms)

		// A repeated end is not an error
		require.NoError(t, svc.ApplyEvent(ctx, &models.FeedEvent{Event: models.EventBreakoutsEnded, MeetingID: "parent-1"}))
	})

	callback.AssertNumberOfCalls(t, "OnUpdate", 9)
}

func TestBreakoutService_ApplyEventErrors(t *testing.T) {
	repo := memory.NewRepository()
	svc := service.NewBreakoutService(repo)
	ctx := context.Background()

	callback := new(MockUpdateCallback)
	svc.RegisterUpdateCallback(callback.OnUpdate)

	t.Run("UnsupportedEvent", func(t *testing.T) {
		err := svc.ApplyEvent(ctx, &models.FeedEvent{Event: "meeting.started", MeetingID: "parent-1"})
		assert.ErrorIs(t, err, service.ErrUnsupportedEvent)
	})

	t.Run("MissingMeetingID", func(t *testing.T) {
		err := svc.ApplyEvent(ctx, roomsUpdated(t, "", models.RoomSnapshot{ID: "room-a", Sequence: 1}))
		assert.Error(t, err)
	})

	t.Run("UnknownRoom", func(t *testing.T) {
		err := svc.ApplyEvent(ctx, feedEvent(t, models.EventJoinURL, "parent-1", models.JoinURLPayload{
			RoomID: "room-z", UserID: "w_user1", JoinURL: "https://meet/room-z",
		}))
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("NegativeTime", func(t *testing.T) {
		err := svc.ApplyEvent(ctx, feedEvent(t, models.EventMeetingTimeRemaining, "parent-1", models.TimeRemainingPayload{RemainingSeconds: -1}))
		assert.Error(t, err)
	})

	callback.AssertNotCalled(t, "OnUpdate", mock.Anything)
}

func TestBreakoutService_GetRoomStatusData(t *testing.T) {
	repo := memory.NewRepository()
	svc := service.NewBreakoutService(repo)
	ctx := context.Background()

	require.NoError(t, svc.ApplyEvent(ctx, roomsUpdated(t, "parent-1",
		models.RoomSnapshot{ID: "room-c", Sequence: 3, IsDefaultName: true, RemainingSeconds: 300},
		models.RoomSnapshot{ID: "room-a", Sequence: 1, IsDefaultName: true, RemainingSeconds: 300},
		models.RoomSnapshot{ID: "room-b", Sequence: 2, ShortName: "Design", RemainingSeconds: 300},
	)))
	require.NoError(t, repo.AddJoinedUser(ctx, "parent-1", "room-b", models.JoinedUser{UserID: "w_ada-1", ParentUserID: "w_ada"}))
	require.NoError(t, repo.AddJoinedUser(ctx, "parent-1", "room-b", models.JoinedUser{UserID: "w_ada-2", ParentUserID: "w_ada"}))
	require.NoError(t, repo.AddJoinedUser(ctx, "parent-1", "room-b", models.JoinedUser{UserID: "w_bob-1", ParentUserID: "w_bob"}))
	require.NoError(t, repo.AddMember(ctx, "parent-1", "room-a", models.BreakoutMember{UserID: "w_ada", JoinURL: "https://meet/room-a"}))

	result, err := svc.GetRoomStatusData(ctx, "parent-1", "w_ada")
	require.NoError(t, err)
	require.Len(t, result, 3)

	assert.Equal(t, "room-a", result[0].RoomID)
	assert.Equal(t, "Breakout Room 1", result[0].DisplayName)
	assert.True(t, result[0].CallerHasURL)
	assert.False(t, result[0].CallerJoined)

	assert.Equal(t, "Design", result[1].DisplayName)
	assert.Equal(t, 2, result[1].JoinedCount, "Two sessions of one user count once")
	assert.True(t, result[1].CallerJoined)

	assert.Equal(t, "Breakout Room 3", result[2].DisplayName)
	assert.Equal(t, 0, result[2].JoinedCount)

	empty, err := svc.GetRoomStatusData(ctx, "unknown", "w_ada")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
