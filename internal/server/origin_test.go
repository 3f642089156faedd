package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOriginPolicy(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	tests := []struct {
		name       string
		configured []string
		origin     string
		want       bool
	}{
		{"exact match", []string{"http://localhost:8080"}, "http://localhost:8080", true},
		{"case insensitive", []string{"HTTP://LocalHost:8080"}, "http://localhost:8080", true},
		{"path ignored", []string{"https://chat.example.com/app"}, "https://chat.example.com", true},
		{"different port", []string{"http://localhost:8080"}, "http://localhost:3000", false},
		{"different scheme", []string{"http://chat.example.com"}, "https://chat.example.com", false},
		{"missing origin", []string{"http://localhost:8080"}, "", false},
		{"malformed origin", []string{"http://localhost:8080"}, "localhost:8080", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"wildcard still needs origin", []string{"*"}, "", false},
		{"invalid configured entry skipped", []string{"not a url", "http://ok.example"}, "http://ok.example", true},
		{"nothing configured", nil, "http://localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := newOriginPolicy(tt.configured, logger)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/room", http.NoBody)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := policy.check(req); got != tt.want {
				t.Errorf("check(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
