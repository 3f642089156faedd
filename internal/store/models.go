package store

import (
	"time"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
)

type userRecord struct {
	ID           string `gorm:"primaryKey;size:36"`
	Name         string `gorm:"size:100;not null"`
	Username     string `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

func (userRecord) TableName() string { return "users" }

func (r userRecord) toUser() auth.User {
	return auth.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
	}
}

type roomRecord struct {
	ID          string  `gorm:"primaryKey;size:36"`
	Name        string  `gorm:"size:100;uniqueIndex;not null"`
	Description *string `gorm:"size:500"`
	CreatorID   string  `gorm:"size:36;index;not null"`
	CreatedAt   time.Time
}

func (roomRecord) TableName() string { return "rooms" }

func (r roomRecord) toRoom() chat.Room {
	return chat.Room{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		CreatorID:   r.CreatorID,
		CreatedAt:   r.CreatedAt,
	}
}

// messageRecord keeps an autoincrement sequence so that insertion order
// survives identical timestamps.
type messageRecord struct {
	Seq       int64      `gorm:"primaryKey;autoIncrement"`
	ID        string     `gorm:"size:36;uniqueIndex;not null"`
	RoomID    string     `gorm:"size:36;index;not null"`
	UserID    string     `gorm:"size:36;index;not null"`
	User      userRecord `gorm:"foreignKey:UserID;references:ID"`
	Content   string     `gorm:"not null"`
	Timestamp time.Time  `gorm:"not null"`
	CreatedAt time.Time
}

func (messageRecord) TableName() string { return "messages" }

func (r messageRecord) toMessage() chat.Message {
	return chat.Message{
		ID:        r.ID,
		RoomID:    r.RoomID,
		UserID:    r.UserID,
		UserName:  r.User.Name,
		Content:   r.Content,
		Timestamp: r.Timestamp,
	}
}
