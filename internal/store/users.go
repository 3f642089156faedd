package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tyrowin/roomchat/internal/apperr"
	"github.com/Tyrowin/roomchat/internal/auth"
)

func errUserExists() error {
	return apperr.Conflict(apperr.CodeUserAlreadyExists, "User already exists.")
}

func errUserNotFound() error {
	return apperr.NotFound(apperr.CodeUserNotFound, "User not found.")
}

// CreateUser stores a new account. Usernames are unique.
func (s *Store) CreateUser(ctx context.Context, name, username, passwordHash string) (auth.User, error) {
	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&userRecord{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return auth.User{}, apperr.Internal(fmt.Errorf("failed to check username: %w", err))
	}
	if count > 0 {
		return auth.User{}, errUserExists()
	}

	record := userRecord{
		ID:           uuid.NewString(),
		Name:         name,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	if err := db.Create(&record).Error; err != nil {
		if isDuplicate(err) {
			return auth.User{}, errUserExists()
		}
		return auth.User{}, apperr.Internal(fmt.Errorf("failed to create user: %w", err))
	}
	return record.toUser(), nil
}

// UserByUsername looks an account up by its username.
func (s *Store) UserByUsername(ctx context.Context, username string) (auth.User, error) {
	return s.findUser(ctx, "username = ?", username)
}

// UserByID looks an account up by its ID.
func (s *Store) UserByID(ctx context.Context, id string) (auth.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

func (s *Store) findUser(ctx context.Context, query string, arg string) (auth.User, error) {
	var record userRecord
	if err := s.db.WithContext(ctx).First(&record, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return auth.User{}, errUserNotFound()
		}
		return auth.User{}, apperr.Internal(fmt.Errorf("failed to find user: %w", err))
	}
	return record.toUser(), nil
}
