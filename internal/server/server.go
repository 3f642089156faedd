package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	nanoid "github.com/jaevor/go-nanoid"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const connIDLength = 21

// Deps are the collaborators an App serves.
type Deps struct {
	Accounts      Accounts
	Authenticator chat.Authenticator
	Rooms         chat.RoomDirectory
	History       chat.HistoryStore
	// Relay is optional. It is closed on Shutdown when it is an io.Closer.
	Relay chat.Relay
	// Store, when set, is closed last on Shutdown.
	Store    io.Closer
	Logger   *slog.Logger
	Observer func(connID string, state chat.State)
}

// App owns the session registry, the fan-out engine and the HTTP server.
type App struct {
	cfg      Config
	logger   *slog.Logger
	registry *chat.Registry
	engine   *chat.Engine
	relay    chat.Relay
	store    io.Closer
	upgrader websocket.Upgrader
	connID   func() string
	server   *http.Server

	// ctx is the parent of every session and is cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closing bool
	conns   sync.WaitGroup
}

// New builds an App from cfg and deps. The HTTP server is created but not
// started.
func New(cfg Config, deps Deps) (*App, error) {
	if deps.Accounts == nil || deps.Authenticator == nil || deps.Rooms == nil || deps.History == nil {
		return nil, errors.New("server: accounts, authenticator, rooms and history are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.Sanitize()

	connID, err := nanoid.Standard(connIDLength)
	if err != nil {
		return nil, fmt.Errorf("server: connection id generator: %w", err)
	}

	registry := chat.NewRegistry(logger)
	engine := chat.NewEngine(registry, deps.Authenticator, deps.Rooms, deps.History, chat.EngineConfig{
		Relay:       deps.Relay,
		ReplayLimit: cfg.ReplayLimit,
		ReplayOrder: cfg.ReplayOrder,
		Logger:      logger,
		Observer:    deps.Observer,
	})

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		engine:   engine,
		relay:    deps.Relay,
		store:    deps.Store,
		connID:   connID,
		ctx:      ctx,
		cancel:   cancel,
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     newOriginPolicy(cfg.AllowedOrigins, logger).check,
	}

	api := &api{accounts: deps.Accounts, rooms: deps.Rooms, history: deps.History, logger: logger}
	a.server = CreateServer(cfg.Port, a.routes(api))
	return a, nil
}

// CreateServer creates an HTTP server with the timeouts used in production.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Handler is the App's root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Registry exposes the live session registry.
func (a *App) Registry() *chat.Registry {
	return a.registry
}

// ListenAndServe serves on the configured address until Shutdown.
func (a *App) ListenAndServe() error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", a.server.Addr, err)
	}
	return a.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// graceful shutdown.
func (a *App) Serve(ln net.Listener) error {
	a.logger.Info("server listening", "addr", ln.Addr().String())
	if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every live chat connection and
// waits for their sessions to finish before closing the relay and the
// store. ctx bounds the wait. Calls after the first are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return nil
	}
	a.closing = true
	a.mu.Unlock()

	a.logger.Info("server shutting down", "connections", a.liveConnections())
	a.cancel()

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	a.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		a.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.logger.Info("all chat connections closed")
	case <-ctx.Done():
		a.logger.Warn("shutdown timed out waiting for chat connections")
		errs = append(errs, ctx.Err())
	}

	if closer, ok := a.relay.(io.Closer); ok && closer != nil {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// track registers a connection goroutine unless Shutdown has begun.
func (a *App) track() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return false
	}
	a.conns.Add(1)
	return true
}

func (a *App) liveConnections() int {
	n := 0
	for _, room := range a.registry.Rooms() {
		n += a.registry.Members(room)
	}
	return n
}
