package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tyrowin/roomchat/internal/apperr"
	"github.com/Tyrowin/roomchat/internal/chat"
)

// Room field limits.
const (
	MaxRoomNameLength        = 100
	MaxRoomDescriptionLength = 500
)

func errRoomNotFound() error {
	return apperr.NotFound(apperr.CodeRoomNotFound, chat.ErrTextRoomNotFound)
}

// Exists reports whether a room with roomID exists.
func (s *Store) Exists(ctx context.Context, roomID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&roomRecord{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check room: %w", err)
	}
	return count > 0, nil
}

// Create adds a room. A second room with the same name is a conflict and
// leaves the directory unchanged.
func (s *Store) Create(ctx context.Context, name string, description *string, creatorID string) (chat.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxRoomNameLength {
		return chat.Room{}, apperr.Validation(fmt.Sprintf("Room name must be between 1 and %d characters.", MaxRoomNameLength))
	}
	if description != nil && utf8.RuneCountInString(*description) > MaxRoomDescriptionLength {
		return chat.Room{}, apperr.Validation(fmt.Sprintf("Room description must be at most %d characters.", MaxRoomDescriptionLength))
	}

	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&roomRecord{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return chat.Room{}, apperr.Internal(fmt.Errorf("failed to check room name: %w", err))
	}
	if count > 0 {
		return chat.Room{}, apperr.Conflict(apperr.CodeRoomAlreadyExists, "Room already exists.")
	}

	record := roomRecord{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatorID:   creatorID,
		CreatedAt:   s.now(),
	}
	if err := db.Create(&record).Error; err != nil {
		if isDuplicate(err) {
			return chat.Room{}, apperr.Conflict(apperr.CodeRoomAlreadyExists, "Room already exists.")
		}
		return chat.Room{}, apperr.Internal(fmt.Errorf("failed to create room: %w", err))
	}

	s.logger.Info("store: room created", "room", record.ID, "creator", creatorID)
	return record.toRoom(), nil
}

// List returns every room in creation order.
func (s *Store) List(ctx context.Context) ([]chat.Room, error) {
	var records []roomRecord
	if err := s.db.WithContext(ctx).Order("created_at ASC").Order("name ASC").Find(&records).Error; err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to list rooms: %w", err))
	}

	rooms := make([]chat.Room, 0, len(records))
	for _, r := range records {
		rooms = append(rooms, r.toRoom())
	}
	return rooms, nil
}

// Room returns one room by ID.
func (s *Store) Room(ctx context.Context, roomID string) (chat.Room, error) {
	var record roomRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.Room{}, errRoomNotFound()
		}
		return chat.Room{}, apperr.Internal(fmt.Errorf("failed to find room: %w", err))
	}
	return record.toRoom(), nil
}
