package breakout_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/navikt/breakouts/internal/breakout"
	"github.com/navikt/breakouts/internal/models"
	"github.com/navikt/breakouts/internal/repository/memory"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDispatcher is a mock for the upstream dispatcher
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) RequestJoinURL(ctx context.Context, meetingID, roomID, userID string) error {
	args := m.Called(ctx, meetingID, roomID, userID)
	return args.Error(0)
}

func (m *MockDispatcher) TransferUser(ctx context.Context, meetingID, userID, fromRoomID, toRoomID string) error {
	args := m.Called(ctx, meetingID, userID, fromRoomID, toRoomID)
	return args.Error(0)
}

func (m *MockDispatcher) ExtendBreakoutsTime(ctx context.Context, meetingID string, minutes int) error {
	args := m.Called(ctx, meetingID, minutes)
	return args.Error(0)
}

func (m *MockDispatcher) EndAllRooms(ctx context.Context, meetingID string) error {
	args := m.Called(ctx, meetingID)
	return args.Error(0)
}

// MockBridge is a mock for the media bridge
type MockBridge struct {
	mock.Mock
}

func (m *MockBridge) Execute(ctx context.Context, instruction breakout.Instruction) error {
	args := m.Called(ctx, instruction)
	return args.Error(0)
}

func (m *MockBridge) LeaveMainMedia(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// recordingNotifier collects session events
type recordingNotifier struct {
	mu     sync.Mutex
	events []models.SessionEvent
}

func (n *recordingNotifier) Notify(event models.SessionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) named(name string) []models.SessionEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var result []models.SessionEvent
	for _, e := range n.events {
		if e.Name == name {
			result = append(result, e)
		}
	}
	return result
}

const testMeeting = "parent-1"

// seedRooms stores rooms for testMeeting in a fresh memory repository
func seedRooms(t *testing.T, rooms ...*models.BreakoutRoom) *memory.Repository {
	t.Helper()
	repo := memory.NewRepository()
	require.NoError(t, repo.SaveRooms(context.Background(), testMeeting, rooms))
	return repo
}

func defaultRooms() []*models.BreakoutRoom {
	return []*models.BreakoutRoom{
		{ID: "room-c", Sequence: 3, IsDefaultName: true, RemainingSeconds: 600},
		{ID: "room-a", Sequence: 1, IsDefaultName: true, RemainingSeconds: 600},
		{ID: "room-b", Sequence: 2, ShortName: "Design", RemainingSeconds: 600},
	}
}

func addJoinURL(t *testing.T, repo *memory.Repository, roomID, userID, url string) {
	t.Helper()
	require.NoError(t, repo.AddMember(context.Background(), testMeeting, roomID, models.BreakoutMember{
		UserID:     userID,
		JoinURL:    url,
		InsertedAt: time.Now(),
	}))
}
