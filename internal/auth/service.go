// Package auth owns user accounts and credentials: bcrypt password hashing,
// JWT access tokens, and the Authenticator the realtime engine consumes.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Tyrowin/roomchat/internal/apperr"
	"github.com/Tyrowin/roomchat/internal/chat"
)

// Account field limits.
const (
	MaxNameLength     = 100
	MinPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	MaxPasswordLength = 72
)

// User is a registered account.
type User struct {
	ID           string
	Name         string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// UserStore persists accounts. Lookups of unknown users return a
// KindNotFound error and duplicate usernames a KindConflict error.
type UserStore interface {
	CreateUser(ctx context.Context, name, username, passwordHash string) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
}

// Session is the result of a successful login or refresh.
type Session struct {
	User        User
	AccessToken string
	TokenType   string
}

// Service implements sign-up, login, token refresh and credential
// validation.
type Service struct {
	users  UserStore
	hasher *PasswordHasher
	tokens *TokenManager
	logger *slog.Logger
}

var _ chat.Authenticator = (*Service)(nil)

// NewService wires a Service.
func NewService(users UserStore, hasher *PasswordHasher, tokens *TokenManager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, hasher: hasher, tokens: tokens, logger: logger}
}

// SignUp creates an account.
func (s *Service) SignUp(ctx context.Context, name, username, password string) (User, error) {
	name = strings.TrimSpace(name)
	username = strings.TrimSpace(username)

	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return User{}, apperr.Validation(fmt.Sprintf("Name must be between 1 and %d characters.", MaxNameLength))
	}
	if addr, err := mail.ParseAddress(username); err != nil || addr.Address != username {
		return User{}, apperr.Validation("Username must be a valid email address.")
	}
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return User{}, apperr.Validation(fmt.Sprintf("Password must be between %d and %d characters.", MinPasswordLength, MaxPasswordLength))
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}

	user, err := s.users.CreateUser(ctx, name, username, hash)
	if err != nil {
		return User{}, err
	}

	s.logger.Info("auth: user created", "user", user.ID)
	return user, nil
}

// Login checks username and password and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.users.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return Session{}, errInvalidCredentials()
		}
		return Session{}, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return Session{}, errInvalidCredentials()
	}

	return s.issue(user)
}

// Refresh exchanges a still-valid token for a fresh one.
func (s *Service) Refresh(ctx context.Context, token string) (Session, error) {
	user, err := s.userForToken(ctx, token)
	if err != nil {
		return Session{}, err
	}
	return s.issue(user)
}

// Validate resolves a credential into the identity bound to a connection.
func (s *Service) Validate(ctx context.Context, credential string) (chat.Identity, error) {
	user, err := s.userForToken(ctx, credential)
	if err != nil {
		return chat.Identity{}, err
	}
	return chat.Identity{UserID: user.ID, DisplayName: user.Name}, nil
}

// Authenticate resolves a token into the full account.
func (s *Service) Authenticate(ctx context.Context, token string) (User, error) {
	return s.userForToken(ctx, token)
}

func (s *Service) userForToken(ctx context.Context, token string) (User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return User{}, err
	}

	user, err := s.users.UserByID(ctx, claims.UserID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return User{}, apperr.Authentication(apperr.CodeInvalidToken, "Could not validate credentials.")
		}
		return User{}, err
	}
	return user, nil
}

func (s *Service) issue(user User) (Session, error) {
	token, err := s.tokens.Issue(user)
	if err != nil {
		return Session{}, apperr.Internal(err)
	}
	return Session{User: user, AccessToken: token, TokenType: "bearer"}, nil
}

func errInvalidCredentials() error {
	return apperr.Authentication(apperr.CodeInvalidCredentials, "Incorrect username or password.")
}
