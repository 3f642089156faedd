package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/apperr"
	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createUser(t *testing.T, s *Store, name string) auth.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), name, fmt.Sprintf("%s@example.com", name), "hash")
	require.NoError(t, err)
	return u
}

func createRoom(t *testing.T, s *Store, name, creatorID string) chat.Room {
	t.Helper()
	r, err := s.Create(context.Background(), name, nil, creatorID)
	require.NoError(t, err)
	return r
}

func TestUsers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "Ada", "ada@example.com", "hash")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	_, err = s.CreateUser(ctx, "Other Ada", "ada@example.com", "hash")
	assert.ErrorIs(t, err, apperr.Conflict(apperr.CodeUserAlreadyExists, ""))

	byName, err := s.UserByUsername(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	byID, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", byID.Name)

	_, err = s.UserByID(ctx, "missing")
	assert.ErrorIs(t, err, apperr.NotFound(apperr.CodeUserNotFound, ""))
}

func TestRoomNameUniqueness(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	creator := createUser(t, s, "ada")

	desc := "general talk"
	room, err := s.Create(ctx, "Test Room", &desc, creator.ID)
	require.NoError(t, err)
	assert.Equal(t, creator.ID, room.CreatorID)
	require.NotNil(t, room.Description)
	assert.Equal(t, "general talk", *room.Description)

	_, err = s.Create(ctx, "Test Room", nil, creator.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	rooms, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
}

func TestRoomValidation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "   ", nil, "u1")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	long := make([]rune, MaxRoomNameLength+1)
	for i := range long {
		long[i] = 'r'
	}
	_, err = s.Create(ctx, string(long), nil, "u1")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRoomExistsAndLookup(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	creator := createUser(t, s, "ada")
	room := createRoom(t, s, "lobby", creator.ID)

	ok, err := s.Exists(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Room(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "lobby", got.Name)

	_, err = s.Room(ctx, "nope")
	assert.ErrorIs(t, err, apperr.NotFound(apperr.CodeRoomNotFound, ""))
}

func TestAppendRequiresRoomAndAuthor(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	author := createUser(t, s, "ada")
	room := createRoom(t, s, "lobby", author.ID)

	msg, err := s.Append(ctx, room.ID, author.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "ada", msg.UserName)
	assert.False(t, msg.Timestamp.IsZero())

	_, err = s.Append(ctx, "missing-room", author.ID, "hello")
	assert.ErrorIs(t, err, apperr.NotFound(apperr.CodeRoomNotFound, ""))

	_, err = s.Append(ctx, room.ID, "missing-user", "hello")
	assert.ErrorIs(t, err, apperr.NotFound(apperr.CodeUserNotFound, ""))
}

func TestPagination(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	author := createUser(t, s, "ada")
	room := createRoom(t, s, "lobby", author.ID)

	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	for i := 1; i <= 25; i++ {
		_, err := s.Append(ctx, room.ID, author.ID, fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}

	tests := []struct {
		page      int
		wantCount int
		wantFirst string
	}{
		{1, 10, "message 1"},
		{2, 10, "message 11"},
		{3, 5, "message 21"},
		{4, 0, ""},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("page %d", tt.page), func(t *testing.T) {
			p, err := s.Page(ctx, room.ID, tt.page, 10)
			require.NoError(t, err)
			assert.Len(t, p.Messages, tt.wantCount)
			assert.Equal(t, 3, p.TotalPages)
			assert.Equal(t, int64(25), p.TotalMessages)
			assert.Equal(t, tt.page, p.CurrentPage)
			assert.Equal(t, 10, p.PageSize)
			if tt.wantFirst != "" {
				assert.Equal(t, tt.wantFirst, p.Messages[0].Content)
				assert.Equal(t, "ada", p.Messages[0].UserName)
			}
		})
	}
}

func TestPageEmptyRoomAndErrors(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	author := createUser(t, s, "ada")
	room := createRoom(t, s, "quiet", author.ID)

	p, err := s.Page(ctx, room.ID, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, p.Messages)
	assert.Equal(t, 0, p.TotalPages)
	assert.Equal(t, int64(0), p.TotalMessages)

	_, err = s.Page(ctx, room.ID, 0, 10)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = s.Page(ctx, room.ID, 1, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = s.Page(ctx, room.ID, 1, MaxPageSize+1)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = s.Page(ctx, "missing", 1, 10)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRecent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	author := createUser(t, s, "ada")
	lobby := createRoom(t, s, "lobby", author.ID)
	other := createRoom(t, s, "other", author.ID)

	for _, c := range []string{"one", "two", "three"} {
		_, err := s.Append(ctx, lobby.ID, author.ID, c)
		require.NoError(t, err)
	}
	_, err := s.Append(ctx, other.ID, author.ID, "elsewhere")
	require.NoError(t, err)

	recent, err := s.Recent(ctx, lobby.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "three", recent[0].Content)
	assert.Equal(t, "two", recent[1].Content)
	assert.Equal(t, "ada", recent[0].UserName)

	none, err := s.Recent(ctx, lobby.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
