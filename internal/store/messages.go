package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tyrowin/roomchat/internal/apperr"
	"github.com/Tyrowin/roomchat/internal/chat"
)

// MaxPageSize caps history page sizes.
const MaxPageSize = 100

// Append persists a message. Both the room and the author must exist.
func (s *Store) Append(ctx context.Context, roomID, userID, content string) (chat.Message, error) {
	var record messageRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rooms int64
		if err := tx.Model(&roomRecord{}).Where("id = ?", roomID).Count(&rooms).Error; err != nil {
			return apperr.Internal(fmt.Errorf("failed to check room: %w", err))
		}
		if rooms == 0 {
			return errRoomNotFound()
		}

		var author userRecord
		if err := tx.First(&author, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errUserNotFound()
			}
			return apperr.Internal(fmt.Errorf("failed to find author: %w", err))
		}

		now := s.now()
		record = messageRecord{
			ID:        uuid.NewString(),
			RoomID:    roomID,
			UserID:    userID,
			Content:   content,
			Timestamp: now,
			CreatedAt: now,
		}
		if err := tx.Omit(clause.Associations).Create(&record).Error; err != nil {
			return apperr.Internal(fmt.Errorf("failed to save message: %w", err))
		}
		record.User = author
		return nil
	})
	if err != nil {
		return chat.Message{}, err
	}
	return record.toMessage(), nil
}

// Page returns one 1-indexed page of the room's history in insertion
// order, so page 1 holds the oldest messages.
// total_pages is total/size+1 for a non-empty room and 0 otherwise; pages
// past the end are empty but still carry the true totals.
func (s *Store) Page(ctx context.Context, roomID string, page, size int) (chat.Page, error) {
	if page < 1 {
		return chat.Page{}, apperr.Validation("Page must be at least 1.")
	}
	if size < 1 || size > MaxPageSize {
		return chat.Page{}, apperr.Validation(fmt.Sprintf("Page size must be between 1 and %d.", MaxPageSize))
	}

	exists, err := s.Exists(ctx, roomID)
	if err != nil {
		return chat.Page{}, apperr.Internal(err)
	}
	if !exists {
		return chat.Page{}, errRoomNotFound()
	}

	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&messageRecord{}).Where("room_id = ?", roomID).Count(&total).Error; err != nil {
		return chat.Page{}, apperr.Internal(fmt.Errorf("failed to count messages: %w", err))
	}

	result := chat.Page{
		Messages:      []chat.Message{},
		CurrentPage:   page,
		PageSize:      size,
		TotalMessages: total,
	}
	if total == 0 {
		return result, nil
	}
	result.TotalPages = int(total)/size + 1

	offset := (page - 1) * size
	if int64(offset) >= total {
		return result, nil
	}

	var records []messageRecord
	err = db.Preload("User").
		Where("room_id = ?", roomID).
		Order("seq ASC").
		Offset(offset).
		Limit(size).
		Find(&records).Error
	if err != nil {
		return chat.Page{}, apperr.Internal(fmt.Errorf("failed to fetch messages: %w", err))
	}

	for _, r := range records {
		result.Messages = append(result.Messages, r.toMessage())
	}
	return result, nil
}

// Recent returns at most limit messages of the room, newest first.
func (s *Store) Recent(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	var records []messageRecord
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("room_id = ?", roomID).
		Order("seq DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to fetch recent messages: %w", err))
	}

	messages := make([]chat.Message, 0, len(records))
	for _, r := range records {
		messages = append(messages, r.toMessage())
	}
	return messages, nil
}
