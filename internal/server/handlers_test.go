package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/apperr"
)

func TestHealthHandler(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/", http.NoBody)
			rr := httptest.NewRecorder()

			HealthHandler(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
			}
			if rr.Body.String() != "RoomChat server is running!" {
				t.Errorf("handler returned unexpected body: got %v", rr.Body.String())
			}
			if ct := rr.Header().Get("Content-Type"); ct != "text/plain" {
				t.Errorf("Expected content type text/plain, got %s", ct)
			}
		})
	}
}

func TestTestPageHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	TestPageHandler(rr, httptest.NewRequest(http.MethodGet, "/test", http.NoBody))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/html") {
		t.Errorf("Expected HTML content type, got %s", rr.Header().Get("Content-Type"))
	}
	body := rr.Body.String()
	for _, want := range []string{"<!DOCTYPE html>", "/api/v1/chat/", "/api/v1/auth/login"} {
		if !strings.Contains(body, want) {
			t.Errorf("Test page missing %q", want)
		}
	}
}

func TestRoutes(t *testing.T) {
	_, _, ts := newTestApp(t, nil)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/test", http.StatusOK},
		{http.MethodGet, "/api/v1/rooms", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/rooms", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := doRequest(t, tt.method, ts.URL+tt.path, "", nil, "")
			_, _ = io.Copy(io.Discard, resp.Body)
			if resp.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestChatEndpointRequiresUpgrade(t *testing.T) {
	_, _, ts := newTestApp(t, nil)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/chat/room", "", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a plain GET, got %d", resp.StatusCode)
	}
}

func TestCloseStatus(t *testing.T) {
	live := context.Background()
	stopped, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		code int
	}{
		{"normal disconnect", live, nil, websocket.CloseNormalClosure},
		{"server shutting down", stopped, nil, websocket.CloseGoingAway},
		{"authentication failure", live, apperr.Authentication(apperr.CodeInvalidToken, "bad"), websocket.ClosePolicyViolation},
		{"room not found", live, apperr.NotFound(apperr.CodeRoomNotFound, "missing"), websocket.CloseNormalClosure},
		{"internal failure", live, apperr.Internal(errors.New("boom")), websocket.CloseInternalServerErr},
		{"unclassified failure", live, errors.New("boom"), websocket.CloseInternalServerErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := closeStatus(tt.ctx, tt.err); code != tt.code {
				t.Errorf("Expected close code %d, got %d", tt.code, code)
			}
		})
	}
}
