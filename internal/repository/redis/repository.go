// Package redis provides a Redis/Valkey implementation of the repository interface
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/navikt/breakouts/internal/config"
	"github.com/navikt/breakouts/internal/models"
)

// Common errors
var (
	ErrNotFound = models.ErrNotFound
)

// roomState is the internal model for storing room state in Redis.
// Members and joined users live under their own keys.
type roomState struct {
	ID               string
	Sequence         int
	ShortName        string
	IsDefaultName    bool
	RemainingSeconds int
}

// Repository implements the repository interface with Redis storage
type Repository struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRepository creates a new Redis repository
func NewRepository(cfg config.RedisConfig) (*Repository, error) {
	var client *redis.Client

	// Use URI if provided, otherwise build connection from individual parameters
	if cfg.URI != "" {
		opt, err := redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URI: %w", err)
		}

		// Use DB from config if not specified in the URI
		if opt.DB == 0 {
			opt.DB = cfg.DB
		}

		if opt.Password == "" && cfg.Password != "" {
			opt.Password = cfg.Password
		}

		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Repository{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.RoomTTL,
	}, nil
}

// Close closes the Redis connection
func (r *Repository) Close() error {
	return r.client.Close()
}

// Ping checks the Redis connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// parentKey returns the Redis key for a parent meeting
func (r *Repository) parentKey(meetingID string) string {
	return fmt.Sprintf("%smeetings:%s", r.keyPrefix, meetingID)
}

// roomsKey returns the Redis key for a meeting's room hash (room id -> room state)
func (r *Repository) roomsKey(meetingID string) string {
	return fmt.Sprintf("%smeetings:%s:rooms", r.keyPrefix, meetingID)
}

// membersKey returns the Redis key for a room's append-only member list
func (r *Repository) membersKey(meetingID, roomID string) string {
	return fmt.Sprintf("%smeetings:%s:rooms:%s:members", r.keyPrefix, meetingID, roomID)
}

// joinedKey returns the Redis key for a room's joined users hash
func (r *Repository) joinedKey(meetingID, roomID string) string {
	return fmt.Sprintf("%smeetings:%s:rooms:%s:joined", r.keyPrefix, meetingID, roomID)
}

// rolesKey returns the Redis key for a meeting's role hash
func (r *Repository) rolesKey(meetingID string) string {
	return fmt.Sprintf("%smeetings:%s:roles", r.keyPrefix, meetingID)
}

// expire sets the TTL on keys in a pipeline if a TTL is configured
func (r *Repository) expire(ctx context.Context, pipe redis.Pipeliner, keys ...string) {
	if r.ttl <= 0 {
		return
	}
	for _, key := range keys {
		pipe.Expire(ctx, key, r.ttl)
	}
}

// SaveRooms replaces the meeting's room set. Member and joined-user keys of
// rooms that are no longer present are deleted.
func (r *Repository) SaveRooms(ctx context.Context, meetingID string, rooms []*models.BreakoutRoom) error {
	key := r.roomsKey(meetingID)

	existing, err := r.client.HKeys(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to list rooms: %w", err)
	}

	keep := make(map[string]struct{}, len(rooms))
	values := make([]any, 0, len(rooms)*2)
	for _, room := range rooms {
		data, err := json.Marshal(&roomState{
			ID:               room.ID,
			Sequence:         room.Sequence,
			ShortName:        room.ShortName,
			IsDefaultName:    room.IsDefaultName,
			RemainingSeconds: room.RemainingSeconds,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal room: %w", err)
		}
		keep[room.ID] = struct{}{}
		values = append(values, room.ID, data)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range existing {
			if _, ok := keep[id]; ok {
				continue
			}
			pipe.HDel(ctx, key, id)
			pipe.Del(ctx, r.membersKey(meetingID, id), r.joinedKey(meetingID, id))
		}
		if len(values) > 0 {
			pipe.HSet(ctx, key, values...)
			r.expire(ctx, pipe, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save rooms: %w", err)
	}

	return nil
}

// GetRoom retrieves a breakout room by ID
func (r *Repository) GetRoom(ctx context.Context, meetingID, roomID string) (*models.BreakoutRoom, error) {
	data, err := r.client.HGet(ctx, r.roomsKey(meetingID), roomID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	var state roomState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}

	rooms, err := r.hydrate(ctx, meetingID, []roomState{state})
	if err != nil {
		return nil, err
	}
	return rooms[0], nil
}

// ListRooms returns all breakout rooms of a meeting in no particular order
func (r *Repository) ListRooms(ctx context.Context, meetingID string) ([]*models.BreakoutRoom, error) {
	values, err := r.client.HGetAll(ctx, r.roomsKey(meetingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	if len(values) == 0 {
		return []*models.BreakoutRoom{}, nil
	}

	states := make([]roomState, 0, len(values))
	for _, v := range values {
		var state roomState
		if err := json.Unmarshal([]byte(v), &state); err != nil {
			continue
		}
		states = append(states, state)
	}

	return r.hydrate(ctx, meetingID, states)
}

// hydrate loads members and joined users for the given rooms in a single roundtrip
func (r *Repository) hydrate(ctx context.Context, meetingID string, states []roomState) ([]*models.BreakoutRoom, error) {
	pipe := r.client.Pipeline()
	memberCmds := make([]*redis.StringSliceCmd, len(states))
	joinedCmds := make([]*redis.MapStringStringCmd, len(states))
	for i, state := range states {
		memberCmds[i] = pipe.LRange(ctx, r.membersKey(meetingID, state.ID), 0, -1)
		joinedCmds[i] = pipe.HGetAll(ctx, r.joinedKey(meetingID, state.ID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get room members: %w", err)
	}

	rooms := make([]*models.BreakoutRoom, 0, len(states))
	for i, state := range states {
		room := &models.BreakoutRoom{
			ID:               state.ID,
			ParentMeetingID:  meetingID,
			Sequence:         state.Sequence,
			ShortName:        state.ShortName,
			IsDefaultName:    state.IsDefaultName,
			RemainingSeconds: state.RemainingSeconds,
			Members:          []models.BreakoutMember{},
			JoinedUsers:      []models.JoinedUser{},
		}

		for _, raw := range memberCmds[i].Val() {
			var member models.BreakoutMember
			if err := json.Unmarshal([]byte(raw), &member); err != nil {
				continue
			}
			room.Members = append(room.Members, member)
		}

		for _, raw := range joinedCmds[i].Val() {
			var user models.JoinedUser
			if err := json.Unmarshal([]byte(raw), &user); err != nil {
				continue
			}
			room.JoinedUsers = append(room.JoinedUsers, user)
		}
		sort.Slice(room.JoinedUsers, func(a, b int) bool {
			return room.JoinedUsers[a].UserID < room.JoinedUsers[b].UserID
		})

		rooms = append(rooms, room)
	}

	return rooms, nil
}

// DeleteRooms removes all breakout rooms of a meeting
func (r *Repository) DeleteRooms(ctx context.Context, meetingID string) error {
	key := r.roomsKey(meetingID)

	ids, err := r.client.HKeys(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to list rooms: %w", err)
	}
	if len(ids) == 0 {
		return ErrNotFound
	}

	// Use a pipeline to delete all keys in one operation
	pipe := r.client.Pipeline()
	pipe.Del(ctx, key)
	for _, id := range ids {
		pipe.Del(ctx, r.membersKey(meetingID, id), r.joinedKey(meetingID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete rooms: %w", err)
	}

	return nil
}

// SetRoomsRemaining sets the remaining time of every room of a meeting
func (r *Repository) SetRoomsRemaining(ctx context.Context, meetingID string, seconds int) error {
	key := r.roomsKey(meetingID)

	values, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to list rooms: %w", err)
	}
	if len(values) == 0 {
		return ErrNotFound
	}

	updated := make([]any, 0, len(values)*2)
	for id, v := range values {
		var state roomState
		if err := json.Unmarshal([]byte(v), &state); err != nil {
			return fmt.Errorf("failed to unmarshal room %s: %w", id, err)
		}
		state.RemainingSeconds = seconds
		data, err := json.Marshal(&state)
		if err != nil {
			return fmt.Errorf("failed to marshal room: %w", err)
		}
		updated = append(updated, id, data)
	}

	if err := r.client.HSet(ctx, key, updated...).Err(); err != nil {
		return fmt.Errorf("failed to update remaining time: %w", err)
	}

	return nil
}

// roomExists checks that a room is part of the meeting's room set
func (r *Repository) roomExists(ctx context.Context, meetingID, roomID string) error {
	exists, err := r.client.HExists(ctx, r.roomsKey(meetingID), roomID).Result()
	if err != nil {
		return fmt.Errorf("failed to check if room exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

// AddMember appends a member record to a room
func (r *Repository) AddMember(ctx context.Context, meetingID, roomID string, member models.BreakoutMember) error {
	if err := r.roomExists(ctx, meetingID, roomID); err != nil {
		return err
	}

	if member.InsertedAt.IsZero() {
		member.InsertedAt = time.Now()
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = member.InsertedAt
	}

	data, err := json.Marshal(&member)
	if err != nil {
		return fmt.Errorf("failed to marshal member: %w", err)
	}

	key := r.membersKey(meetingID, roomID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	r.expire(ctx, pipe, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	return nil
}

// AddJoinedUser records a user as present in a room
func (r *Repository) AddJoinedUser(ctx context.Context, meetingID, roomID string, user models.JoinedUser) error {
	if err := r.roomExists(ctx, meetingID, roomID); err != nil {
		return err
	}

	data, err := json.Marshal(&user)
	if err != nil {
		return fmt.Errorf("failed to marshal joined user: %w", err)
	}

	key := r.joinedKey(meetingID, roomID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, user.UserID, data)
	r.expire(ctx, pipe, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add joined user: %w", err)
	}

	return nil
}

// RemoveJoinedUser removes a user's presence from a room
func (r *Repository) RemoveJoinedUser(ctx context.Context, meetingID, roomID, userID string) error {
	if err := r.roomExists(ctx, meetingID, roomID); err != nil {
		return err
	}

	if err := r.client.HDel(ctx, r.joinedKey(meetingID, roomID), userID).Err(); err != nil {
		return fmt.Errorf("failed to remove joined user: %w", err)
	}

	return nil
}

// SaveParentMeeting stores the parent meeting's remaining time
func (r *Repository) SaveParentMeeting(ctx context.Context, meeting *models.ParentMeeting) error {
	data, err := json.Marshal(meeting)
	if err != nil {
		return fmt.Errorf("failed to marshal meeting: %w", err)
	}

	if err := r.client.Set(ctx, r.parentKey(meeting.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save meeting: %w", err)
	}

	return nil
}

// GetParentMeeting retrieves the parent meeting by ID
func (r *Repository) GetParentMeeting(ctx context.Context, meetingID string) (*models.ParentMeeting, error) {
	data, err := r.client.Get(ctx, r.parentKey(meetingID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}

	var meeting models.ParentMeeting
	if err := json.Unmarshal(data, &meeting); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meeting: %w", err)
	}

	return &meeting, nil
}

// SetUserRole stores a user's role in the parent meeting
func (r *Repository) SetUserRole(ctx context.Context, meetingID, userID string, role models.Role) error {
	key := r.rolesKey(meetingID)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, userID, int(role))
	r.expire(ctx, pipe, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}

	return nil
}

// GetUserRole retrieves a user's role in the parent meeting
func (r *Repository) GetUserRole(ctx context.Context, meetingID, userID string) (models.Role, error) {
	raw, err := r.client.HGet(ctx, r.rolesKey(meetingID), userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.RoleViewer, ErrNotFound
		}
		return models.RoleViewer, fmt.Errorf("failed to get role: %w", err)
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return models.RoleViewer, fmt.Errorf("invalid stored role %q: %w", raw, err)
	}

	return models.Role(value), nil
}
