package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Tyrowin/roomchat/internal/apperr"
)

// TimestampLayout renders timestamps as YYYY-MM-DD HH:MM:SS.
const TimestampLayout = "2006-01-02 15:04:05"

// MaxContentLength bounds a single chat message, counted in runes.
const MaxContentLength = 5000

// MaxFrameSize is the smallest read limit that still admits every frame
// DecodeClientFrame accepts, with each rune sent as a \uXXXX escape.
const MaxFrameSize = 6*MaxContentLength + 1024

// Inline error texts sent on the realtime channel.
const (
	ErrTextInvalidFormat = "Invalid message format."
	ErrTextRoomNotFound  = "Room not found."
	ErrTextFetchHistory  = "Error fetching messages."
	ErrTextSaveMessage   = "Error saving message."
	ErrTextRateLimited   = "Rate limit exceeded. Message dropped."
)

// MessageFrame is what members receive for chat lines, replayed history and
// join/leave notices.
type MessageFrame struct {
	Content   string `json:"content"`
	User      string `json:"user"`
	Timestamp string `json:"timestamp"`
}

// ErrorFrame reports a problem to one connection only.
type ErrorFrame struct {
	Error string `json:"error"`
}

// EncodeErrorFrame renders an ErrorFrame carrying text.
func EncodeErrorFrame(text string) []byte {
	return mustJSON(ErrorFrame{Error: text})
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// NewMessageFrame builds the frame for a persisted message.
func NewMessageFrame(msg Message) MessageFrame {
	return MessageFrame{
		Content:   msg.Content,
		User:      msg.UserName,
		Timestamp: FormatTimestamp(msg.Timestamp),
	}
}

// JoinedNotice is the content announced when name enters a room.
func JoinedNotice(name string) string {
	return fmt.Sprintf("User %s has joined the chat.", name)
}

// LeftNotice is the content announced when name leaves a room.
func LeftNotice(name string) string {
	return fmt.Sprintf("User %s has left the chat.", name)
}

// DecodeClientFrame extracts the content of an inbound {"content": string}
// frame. Anything else is a validation error.
func DecodeClientFrame(data []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", apperr.Validation(ErrTextInvalidFormat)
	}

	raw, ok := fields["content"]
	if !ok {
		return "", apperr.Validation(ErrTextInvalidFormat)
	}

	var content string
	if err := json.Unmarshal(raw, &content); err != nil {
		return "", apperr.Validation(ErrTextInvalidFormat)
	}

	if strings.TrimSpace(content) == "" || utf8.RuneCountInString(content) > MaxContentLength {
		return "", apperr.Validation(ErrTextInvalidFormat)
	}

	return content, nil
}

// errorText picks the inline text reported to a sender whose message could
// not be stored.
func errorText(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return ErrTextInvalidFormat
	case apperr.KindNotFound:
		return ErrTextRoomNotFound
	default:
		return ErrTextSaveMessage
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Frames are plain structs of strings.
		panic(fmt.Sprintf("chat: marshal frame: %v", err))
	}
	return data
}
