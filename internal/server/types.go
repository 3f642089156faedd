package server

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
)

type signUpRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createRoomRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type userResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type tokenResponse struct {
	userResponse
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type roomResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	CreatorID   string  `json:"creator_id"`
	Description *string `json:"description"`
}

type roomListResponse struct {
	Rooms []roomResponse `json:"rooms"`
}

type messageAuthor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type historyMessage struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Timestamp string        `json:"timestamp"`
	User      messageAuthor `json:"user"`
}

type pagination struct {
	CurrentPage   int   `json:"current_page"`
	PageSize      int   `json:"page_size"`
	TotalPages    int   `json:"total_pages"`
	TotalMessages int64 `json:"total_messages"`
}

type historyResponse struct {
	RoomID     string           `json:"room_id"`
	Messages   []historyMessage `json:"messages"`
	Pagination pagination       `json:"pagination"`
}

func newUserResponse(u auth.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Username: u.Username}
}

func newTokenResponse(s auth.Session) tokenResponse {
	return tokenResponse{
		userResponse: newUserResponse(s.User),
		AccessToken:  s.AccessToken,
		TokenType:    s.TokenType,
	}
}

func newRoomResponse(r chat.Room) roomResponse {
	return roomResponse{ID: r.ID, Name: r.Name, CreatorID: r.CreatorID, Description: r.Description}
}

func newHistoryResponse(roomID string, p chat.Page) historyResponse {
	messages := make([]historyMessage, 0, len(p.Messages))
	for _, m := range p.Messages {
		messages = append(messages, historyMessage{
			ID:        m.ID,
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
			User:      messageAuthor{ID: m.UserID, Name: m.UserName},
		})
	}
	return historyResponse{
		RoomID:   roomID,
		Messages: messages,
		Pagination: pagination{
			CurrentPage:   p.CurrentPage,
			PageSize:      p.PageSize,
			TotalPages:    p.TotalPages,
			TotalMessages: p.TotalMessages,
		},
	}
}

// isExpectedCloseError reports errors that only mean the socket is
// already gone.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
