package server

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/testutil"
)

func newTestApp(t *testing.T, configure func(*Config), withDeps ...func(*Deps)) (*App, *testutil.Stack, *httptest.Server) {
	t.Helper()

	stack := testutil.NewStack(t)
	cfg := DefaultConfig()
	cfg.RateLimit.Burst = 100
	if configure != nil {
		configure(&cfg)
	}

	deps := Deps{
		Accounts:      stack.Auth,
		Authenticator: stack.Auth,
		Rooms:         stack.Store,
		History:       stack.Store,
		Logger:        slog.New(slog.DiscardHandler),
	}
	for _, fn := range withDeps {
		fn(&deps)
	}

	app, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}

	ts := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
		ts.Close()
	})
	return app, stack, ts
}

// waitForMembers polls until roomID has n registered connections.
func waitForMembers(t *testing.T, app *App, roomID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if app.Registry().Members(roomID) == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected %d members in room %s, got %d", n, roomID, app.Registry().Members(roomID))
}
