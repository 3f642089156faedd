package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomchat/internal/apperr"
)

// State is a connection's position in the session lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateJoined:
		return "JOINED"
	case StateStreaming:
		return "STREAMING"
	default:
		return "CLOSED"
	}
}

// ReplayOrder selects how history is delivered to a joining connection.
type ReplayOrder string

const (
	ReplayAscending  ReplayOrder = "asc"
	ReplayDescending ReplayOrder = "desc"
)

// DefaultReplayLimit is used when EngineConfig.ReplayLimit is not positive.
const DefaultReplayLimit = 50

const noticeTimeout = 5 * time.Second

// Peer is the transport side of one connection as the engine drives it.
type Peer interface {
	Conn
	// ReadFrame blocks until the next inbound frame. It returns io.EOF once
	// the remote side has gone away and ctx.Err() after cancellation.
	ReadFrame(ctx context.Context) ([]byte, error)
}

// EngineConfig holds the optional parts of an Engine.
type EngineConfig struct {
	// Relay, when set, carries every room fan-out across processes.
	Relay       Relay
	ReplayLimit int
	ReplayOrder ReplayOrder
	Logger      *slog.Logger
	// Observer is called on every state transition.
	Observer func(connID string, state State)
	// Now stamps join and leave notices. Defaults to time.Now.
	Now func() time.Time
}

// Engine runs connections through the room session lifecycle.
type Engine struct {
	registry *Registry
	auth     Authenticator
	rooms    RoomDirectory
	history  HistoryStore
	relay    Relay

	replayLimit int
	replayOrder ReplayOrder
	logger      *slog.Logger
	observer    func(string, State)
	now         func() time.Time
	tracer      trace.Tracer
}

// NewEngine wires an engine around an owned registry and its collaborators.
func NewEngine(registry *Registry, auth Authenticator, rooms RoomDirectory, history HistoryStore, cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReplayLimit <= 0 {
		cfg.ReplayLimit = DefaultReplayLimit
	}
	if cfg.ReplayOrder != ReplayDescending {
		cfg.ReplayOrder = ReplayAscending
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Engine{
		registry:    registry,
		auth:        auth,
		rooms:       rooms,
		history:     history,
		relay:       cfg.Relay,
		replayLimit: cfg.ReplayLimit,
		replayOrder: cfg.ReplayOrder,
		logger:      cfg.Logger,
		observer:    cfg.Observer,
		now:         cfg.Now,
		tracer:      otel.Tracer("github.com/Tyrowin/roomchat/internal/chat"),
	}
}

// Registry returns the session registry the engine mutates.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// envelope is the relay payload. Origin lets every subscriber skip events
// produced by its own connection.
type envelope struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// session is the per-connection state the engine keeps while serving.
type session struct {
	engine   *Engine
	peer     Peer
	roomID   string
	identity Identity
	state    State
	logger   *slog.Logger
}

// Serve runs peer through the lifecycle for roomID and returns once the
// connection is CLOSED. The returned error is classified with apperr:
// authentication failures are KindAuthentication, a missing room is
// KindNotFound. A normal disconnect returns nil.
func (e *Engine) Serve(ctx context.Context, peer Peer, roomID, credential string) error {
	ctx, span := e.tracer.Start(ctx, "chat.session", trace.WithAttributes(
		attribute.String("chat.room_id", roomID),
		attribute.String("chat.conn_id", peer.ID()),
	))
	defer span.End()

	s := &session{
		engine: e,
		peer:   peer,
		roomID: roomID,
		state:  StateConnecting,
		logger: e.logger.With("room", roomID, "conn", peer.ID()),
	}

	err := s.run(ctx, credential)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.KindOf(err).String())
	}
	return err
}

func (s *session) transition(next State) {
	s.logger.Debug("session state", "from", s.state.String(), "to", next.String())
	s.state = next
	if s.engine.observer != nil {
		s.engine.observer(s.peer.ID(), next)
	}
}

func (s *session) run(ctx context.Context, credential string) error {
	e := s.engine

	identity, err := e.auth.Validate(ctx, credential)
	if err != nil {
		s.logger.Info("session: authentication failed", "error", err)
		s.transition(StateClosed)
		if apperr.KindOf(err) != apperr.KindAuthentication {
			return apperr.Authentication(apperr.CodeInvalidToken, "Could not validate credentials.")
		}
		return err
	}
	s.identity = identity
	s.logger = s.logger.With("user", identity.UserID)
	s.transition(StateAuthenticated)

	exists, err := e.rooms.Exists(ctx, s.roomID)
	if err != nil {
		s.logger.Error("session: room lookup failed", "error", err)
		s.sendError(ErrTextRoomNotFound)
		s.transition(StateClosed)
		return apperr.Internal(err)
	}
	if !exists {
		s.sendError(ErrTextRoomNotFound)
		s.transition(StateClosed)
		return apperr.NotFound(apperr.CodeRoomNotFound, ErrTextRoomNotFound)
	}

	var sub Subscription
	if e.relay != nil {
		sub, err = e.relay.Subscribe(ctx, Channel(s.roomID))
		if err != nil {
			s.logger.Error("session: relay subscribe failed", "error", err)
			s.transition(StateClosed)
			return apperr.Internal(err)
		}
	}

	e.registry.Register(s.roomID, s.peer)
	s.transition(StateJoined)
	defer s.leave(ctx, sub)

	e.fanout(ctx, s.roomID, MessageFrame{
		Content:   JoinedNotice(identity.DisplayName),
		User:      identity.DisplayName,
		Timestamp: FormatTimestamp(e.now()),
	}, s.peer.ID())

	s.replay(ctx)
	s.transition(StateStreaming)

	return s.stream(ctx, sub)
}

// stream runs the inbound duty and, with a relay, the outbound duty. The
// first one to finish cancels the other and both are awaited.
func (s *session) stream(ctx context.Context, sub Subscription) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.inbound(gctx)
	})
	if sub != nil {
		g.Go(func() error {
			defer cancel()
			return s.outbound(gctx, sub)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return apperr.Internal(err)
	}
	return nil
}

func (s *session) inbound(ctx context.Context) error {
	for {
		data, err := s.peer.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		s.handleFrame(ctx, data)
	}
}

func (s *session) handleFrame(ctx context.Context, data []byte) {
	e := s.engine

	content, err := DecodeClientFrame(data)
	if err != nil {
		s.logger.Debug("session: invalid frame", "error", err)
		s.sendError(ErrTextInvalidFormat)
		return
	}

	msg, err := s.persist(ctx, content)
	if err != nil {
		s.logger.Error("session: persist message failed", "error", err)
		s.sendError(errorText(err))
		return
	}
	msg.UserName = s.identity.DisplayName

	e.fanout(ctx, s.roomID, NewMessageFrame(msg), s.peer.ID())
}

func (s *session) persist(ctx context.Context, content string) (Message, error) {
	ctx, span := s.engine.tracer.Start(ctx, "chat.persist")
	defer span.End()

	msg, err := s.engine.history.Append(ctx, s.roomID, s.identity.UserID, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return Message{}, err
	}
	span.SetAttributes(attribute.String("chat.message_id", msg.ID))
	return msg, nil
}

func (s *session) outbound(ctx context.Context, sub Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-sub.Messages():
			if !ok {
				s.logger.Info("session: relay subscription ended")
				return nil
			}
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				s.logger.Warn("session: dropping malformed relay event", "error", err)
				continue
			}
			if env.Origin == s.peer.ID() {
				continue
			}
			if err := s.peer.Send(env.Frame); err != nil {
				return err
			}
		}
	}
}

// replay sends recent history to this connection only.
func (s *session) replay(ctx context.Context) {
	e := s.engine

	ctx, span := e.tracer.Start(ctx, "chat.replay")
	defer span.End()

	messages, err := e.history.Recent(ctx, s.roomID, e.replayLimit)
	if err != nil {
		s.logger.Error("session: fetch history failed", "error", err)
		span.RecordError(err)
		s.sendError(ErrTextFetchHistory)
		return
	}

	if e.replayOrder == ReplayAscending {
		messages = slices.Clone(messages)
		slices.Reverse(messages)
	}

	for _, msg := range messages {
		if err := s.peer.Send(mustJSON(NewMessageFrame(msg))); err != nil {
			s.logger.Warn("session: replay interrupted", "error", err)
			return
		}
	}
	span.SetAttributes(attribute.Int("chat.replayed", len(messages)))
}

// leave runs on every exit path once the connection has joined.
func (s *session) leave(ctx context.Context, sub Subscription) {
	e := s.engine

	e.registry.Unregister(s.roomID, s.peer)
	if sub != nil {
		if err := sub.Close(); err != nil {
			s.logger.Warn("session: relay unsubscribe failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
	defer cancel()
	e.fanout(ctx, s.roomID, MessageFrame{
		Content:   LeftNotice(s.identity.DisplayName),
		User:      s.identity.DisplayName,
		Timestamp: FormatTimestamp(e.now()),
	}, s.peer.ID())

	s.transition(StateClosed)
}

func (s *session) sendError(text string) {
	if err := s.peer.Send(EncodeErrorFrame(text)); err != nil {
		s.logger.Debug("session: error frame not delivered", "error", err)
	}
}

// fanout delivers a frame to the room. With a relay the frame travels as an
// envelope and every connection's outbound duty forwards it; otherwise the
// registry delivers it directly. origin is never delivered to.
func (e *Engine) fanout(ctx context.Context, roomID string, frame MessageFrame, origin string) {
	payload := mustJSON(frame)

	if e.relay != nil {
		env := mustJSON(envelope{Origin: origin, Frame: payload})
		err := e.relay.Publish(ctx, Channel(roomID), env)
		if err == nil {
			return
		}
		e.logger.Warn("relay publish failed, delivering locally", "room", roomID, "error", err)
	}

	e.registry.Broadcast(roomID, payload, origin)
}
