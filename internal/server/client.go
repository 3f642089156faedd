package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("client send buffer full")
)

// ClientOptions tunes a Client.
type ClientOptions struct {
	MaxMessageSize int64
	RateLimit      RateLimitConfig
	Logger         *slog.Logger
	// Now drives the rate limiter clock. Defaults to time.Now.
	Now func() time.Time
}

// Client is one websocket connection. The engine reads frames through
// ReadFrame and delivers frames through Send; a single writePump goroutine
// owns every write to the socket.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	addr    string
	logger  *slog.Logger
	limiter *rateLimiter

	mu        sync.Mutex
	closed    bool
	closeCode int
	closeText string
	done      chan struct{}

	// interrupted stops the pong handler from pushing the read deadline
	// forward once ReadFrame's context is done.
	interrupted atomic.Bool
}

var (
	_ chat.Peer = (*Client)(nil)
	_ io.Closer = (*Client)(nil)
)

// NewClient wraps an upgraded connection. Call writePump in its own
// goroutine before handing the client to the engine.
func NewClient(conn *websocket.Conn, id string, opts ClientOptions) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	addr := conn.RemoteAddr().String()

	c := &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		addr:    addr,
		logger:  opts.Logger.With("conn", id, "remote", addr),
		limiter: newRateLimiter(opts.RateLimit, opts.Now),
		done:    make(chan struct{}),
	}

	conn.SetReadLimit(opts.MaxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("client: set initial read deadline", "error", err)
	}
	conn.SetPongHandler(c.handlePong)
	return c
}

// ID is the process-local connection handle.
func (c *Client) ID() string {
	return c.id
}

// Done is closed once the socket has been closed and the write pump has
// exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send queues payload for delivery without blocking. A client whose queue
// is full is closed: it cannot keep up with its rooms.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.logger.Warn("client: send buffer full, closing")
		c.closeLocked(websocket.CloseTryAgainLater, "too slow")
		return errSendBufferFull
	}
}

// ReadFrame returns the next inbound text or binary frame. Frames over the
// rate limit are dropped and answered with an inline error frame. It returns ctx.Err() once ctx is done and io.EOF
// when the remote side closed or the client was closed locally.
func (c *Client) ReadFrame(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		c.interrupted.Store(true)
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, c.readError(err)
		}
		if !c.limiter.allow() {
			c.logger.Warn("client: rate limit exceeded, discarding message")
			if err := c.Send(chat.EncodeErrorFrame(chat.ErrTextRateLimited)); err != nil {
				c.logger.Debug("client: rate limit notice not delivered", "error", err)
			}
			continue
		}
		return data, nil
	}
}

func (c *Client) handlePong(string) error {
	if c.interrupted.Load() {
		return nil
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("client: extend read deadline", "error", err)
	}
	// ReadFrame may have been cancelled while the deadline was moved.
	if c.interrupted.Load() {
		_ = c.conn.SetReadDeadline(time.Now())
	}
	return nil
}

func (c *Client) readError(err error) error {
	var netErr net.Error
	switch {
	case c.isClosed():
		return io.EOF
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Info("client: message exceeded read limit")
		return io.EOF
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		c.logger.Debug("client: disconnected", "error", err)
		return io.EOF
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		c.logger.Debug("client: connection closed", "error", err)
		return io.EOF
	case errors.As(err, &netErr) && netErr.Timeout():
		c.logger.Info("client: read timed out")
		return io.EOF
	default:
		c.logger.Warn("client: read error", "error", err)
		return err
	}
}

// CloseWith stops accepting frames and asks the write pump to flush the
// queue, send a close frame with code and text, and close the socket.
func (c *Client) CloseWith(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(code, text)
}

// Close closes the client as part of a server shutdown.
func (c *Client) Close() error {
	c.CloseWith(websocket.CloseGoingAway, "server shutting down")
	return nil
}

func (c *Client) closeLocked(code int, text string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode, c.closeText = code, text
	close(c.send)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) closeFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.FormatCloseMessage(c.closeCode, c.closeText)
}

// writePump writes queued frames one message each and pings the peer every
// pingPeriod. It returns after the close frame or the first write error.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.CloseWith(websocket.CloseAbnormalClosure, "")
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("client: close connection", "error", err)
		}
		close(c.done)
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, c.closeFrame())
				return
			}
			if !c.write(websocket.TextMessage, payload) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("client: set write deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(messageType, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("client: write failed", "error", err)
		}
		return false
	}
	return true
}
