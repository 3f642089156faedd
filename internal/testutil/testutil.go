// Package testutil provides helpers shared by the server tests: an
// in-memory backing stack, account setup, and websocket client helpers.
package testutil

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Origin is the browser origin allowed by the default configuration.
const Origin = "http://localhost:8080"

// DefaultPassword is the password NewUser registers accounts with.
const DefaultPassword = "correct-horse"

// ReadTimeout bounds every helper read.
const ReadTimeout = 2 * time.Second

// Stack is a store and auth service backed by an in-memory SQLite database.
type Stack struct {
	Store  *store.Store
	Auth   *auth.Service
	Tokens *auth.TokenManager
}

// NewStack opens a fresh in-memory stack. The store is closed when the
// test ends.
func NewStack(t *testing.T) *Stack {
	t.Helper()

	st, err := store.Open(":memory:", store.Options{})
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		SecretKey: "test-secret",
		Algorithm: "HS256",
		TTL:       time.Hour,
	})
	if err != nil {
		t.Fatalf("Failed to create token manager: %v", err)
	}

	svc := auth.NewService(st, auth.NewPasswordHasher(bcrypt.MinCost), tokens, nil)
	return &Stack{Store: st, Auth: svc, Tokens: tokens}
}

// NewUser registers an account and returns it with a valid access token.
func (s *Stack) NewUser(t *testing.T, name, username string) (auth.User, string) {
	t.Helper()
	ctx := context.Background()

	user, err := s.Auth.SignUp(ctx, name, username, DefaultPassword)
	if err != nil {
		t.Fatalf("Failed to sign up %s: %v", username, err)
	}
	session, err := s.Auth.Login(ctx, username, DefaultPassword)
	if err != nil {
		t.Fatalf("Failed to log in %s: %v", username, err)
	}
	return user, session.AccessToken
}

// NewRoom creates a room owned by creatorID.
func (s *Stack) NewRoom(t *testing.T, name, creatorID string) chat.Room {
	t.Helper()
	room, err := s.Store.Create(context.Background(), name, nil, creatorID)
	if err != nil {
		t.Fatalf("Failed to create room %s: %v", name, err)
	}
	return room
}

// WebSocketURL turns an httptest server URL and a path into a ws:// URL.
func WebSocketURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// ConnectWebSocket dials url with the allowed Origin header. The handshake
// response is returned so callers can inspect rejected upgrades.
func ConnectWebSocket(url string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	headers.Set("Origin", Origin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// JoinRoom connects to the chat endpoint of roomID with token.
func JoinRoom(t *testing.T, serverURL, roomID, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(WebSocketURL(serverURL, "/api/v1/chat/"+roomID+"?token="+token))
	if err != nil {
		t.Fatalf("Failed to connect to room %s: %v", roomID, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendMessage sends a client frame with the given content.
func SendMessage(conn *websocket.Conn, content string) error {
	return conn.WriteJSON(map[string]string{"content": content})
}

// ReceiveFrame reads one JSON frame, waiting at most ReadTimeout.
func ReceiveFrame(conn *websocket.Conn) (map[string]any, error) {
	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return nil, err
	}
	var frame map[string]any
	err := conn.ReadJSON(&frame)
	return frame, err
}

// MustReceive reads one frame and fails the test on error.
func MustReceive(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	frame, err := ReceiveFrame(conn)
	if err != nil {
		t.Fatalf("Failed to receive frame: %v", err)
	}
	return frame
}

// ExpectNoFrame fails the test if a frame arrives within wait.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err == nil {
		t.Fatalf("Unexpected frame: %v", frame)
	}
}

// ExpectClose reads until the server closes the connection and returns the
// close code.
func ExpectClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr.Code
			}
			t.Fatalf("Expected close frame, got %v", err)
		}
	}
}

// AssertContent checks a message frame's content field.
func AssertContent(t *testing.T, frame map[string]any, expected string) {
	t.Helper()
	content, ok := frame["content"].(string)
	if !ok {
		t.Errorf("Frame has no string content: %v", frame)
		return
	}
	if content != expected {
		t.Errorf("Expected content %q, got %q", expected, content)
	}
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
