// Package chat implements the realtime room fan-out core: the Session
// Registry that tracks live connections per room and the Fan-out Engine that
// drives one connection through join, replay, streaming and leave.
//
// Persistence, authentication and cross-process relaying are consumed
// through the small interfaces declared here so that concrete backends live
// in their own packages.
package chat

import (
	"context"
	"time"
)

// Identity is the authenticated user bound to a connection. It is produced
// once by an Authenticator and never mutated afterwards.
type Identity struct {
	UserID      string
	DisplayName string
}

// Room is a named channel grouping messages and live connections.
type Room struct {
	ID          string
	Name        string
	Description *string
	CreatorID   string
	CreatedAt   time.Time
}

// Message is one persisted chat line.
type Message struct {
	ID        string
	RoomID    string
	UserID    string
	UserName  string
	Content   string
	Timestamp time.Time
}

// Page is one slice of a room's history. Pages are 1-indexed.
type Page struct {
	Messages      []Message
	CurrentPage   int
	PageSize      int
	TotalPages    int
	TotalMessages int64
}

// Authenticator validates the credential a connection presents.
type Authenticator interface {
	Validate(ctx context.Context, credential string) (Identity, error)
}

// RoomDirectory answers room existence and manages room creation.
type RoomDirectory interface {
	Exists(ctx context.Context, roomID string) (bool, error)
	Create(ctx context.Context, name string, description *string, creatorID string) (Room, error)
	List(ctx context.Context) ([]Room, error)
}

// HistoryStore is the append-only message log of every room.
type HistoryStore interface {
	Append(ctx context.Context, roomID, userID, content string) (Message, error)
	Page(ctx context.Context, roomID string, page, size int) (Page, error)
	// Recent returns at most limit messages of the room, newest first.
	Recent(ctx context.Context, roomID string, limit int) ([]Message, error)
}

// Relay fans events out across server processes.
type Relay interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is one live relay listener. Messages is closed once the
// subscription ends, either through Close or because the backend went away.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Channel returns the relay channel name used for a room.
func Channel(roomID string) string {
	return "room:" + roomID
}
