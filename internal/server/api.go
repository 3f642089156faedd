package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Tyrowin/roomchat/internal/apperr"
	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
)

const (
	defaultHistoryPage = 1
	defaultHistorySize = 10
	maxRequestBody     = 1 << 20
)

// Accounts is the account side of the API, implemented by auth.Service.
type Accounts interface {
	SignUp(ctx context.Context, name, username, password string) (auth.User, error)
	Login(ctx context.Context, username, password string) (auth.Session, error)
	Refresh(ctx context.Context, token string) (auth.Session, error)
	Authenticate(ctx context.Context, token string) (auth.User, error)
}

type userContextKey struct{}

// api serves the request/response endpoints under /api/v1.
type api struct {
	accounts Accounts
	rooms    chat.RoomDirectory
	history  chat.HistoryStore
	logger   *slog.Logger
}

func (a *api) routes(r chi.Router) {
	r.Post("/users", a.signUp)
	r.Post("/auth/login", a.login)
	r.Post("/auth/refresh_token", a.refresh)
	r.Get("/rooms", a.listRooms)

	r.Group(func(r chi.Router) {
		r.Use(a.requireUser)
		r.Post("/rooms", a.createRoom)
		r.Get("/rooms/{roomID}/history", a.roomHistory)
	})
}

func (a *api) signUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	user, err := a.accounts.SignUp(r.Context(), req.Name, req.Username, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(user))
}

// login accepts an HTML form or a JSON body.
func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if isJSON(r) {
		if err := decodeJSON(w, r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		if err := r.ParseForm(); err != nil {
			a.writeError(w, r, apperr.Validation("Invalid form body."))
			return
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	}

	session, err := a.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(session))
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	session, err := a.accounts.Refresh(r.Context(), bearerToken(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(session))
}

func (a *api) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.rooms.List(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := roomListResponse{Rooms: make([]roomResponse, 0, len(rooms))}
	for _, room := range rooms {
		resp.Rooms = append(resp.Rooms, newRoomResponse(room))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	user := userFrom(r.Context())
	room, err := a.rooms.Create(r.Context(), req.Name, req.Description, user.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRoomResponse(room))
}

func (a *api) roomHistory(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	page, err := queryInt(r, "page", defaultHistoryPage)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	size, err := queryInt(r, "size", defaultHistorySize)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	result, err := a.history.Page(r.Context(), roomID, page, size)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newHistoryResponse(roomID, result))
}

// requireUser rejects requests without a valid bearer token and stores the
// caller's account in the request context.
func (a *api) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.accounts.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(ctx context.Context) auth.User {
	user, _ := ctx.Value(userContextKey{}).(auth.User)
	return user
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := apperr.ToResponse(err)
	if status == http.StatusInternalServerError {
		a.logger.Error("api: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		a.logger.Debug("api: request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("Invalid request body.")
	}
	return nil
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("Query parameter " + key + " must be an integer.")
	}
	return n, nil
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
