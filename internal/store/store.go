// Package store persists users, rooms and messages in SQLite through GORM.
// A single Store serves as the account store, the Room Directory and the
// History Store.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
)

// Store is the GORM-backed persistence layer.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ auth.UserStore     = (*Store)(nil)
	_ chat.RoomDirectory = (*Store)(nil)
	_ chat.HistoryStore  = (*Store)(nil)
)

// Options tunes Open.
type Options struct {
	Logger *slog.Logger
	// LogSQL enables GORM's statement logger.
	LogSQL bool
}

// Open connects to the SQLite database at dsn and migrates the schema.
func Open(dsn string, opts Options) (*Store, error) {
	level := logger.Silent
	if opts.LogSQL {
		level = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps :memory:
	// databases from splitting across pool connections.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return New(db, opts.Logger)
}

// New wraps an open GORM handle and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&userRecord{}, &roomRecord{}, &messageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying database connections.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isDuplicate reports a unique constraint violation. The string check covers
// drivers that do not translate errors.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
