package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// subjectPrefix namespaces relay subjects on a shared NATS cluster.
const subjectPrefix = "roomchat."

// NATS relays room events over core NATS subjects. Every subscription ends
// once the connection reaches the closed state.
type NATS struct {
	conn   *nats.Conn
	logger *slog.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(url,
		nats.Name("roomchat"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("relay: nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("relay: nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("relay: connected to nats", "url", url)
	return NewNATS(nc, logger), nil
}

// NewNATS wraps an existing connection. It takes over the connection's
// closed handler.
func NewNATS(conn *nats.Conn, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	n := &NATS{conn: conn, logger: logger, closed: make(chan struct{})}
	conn.SetClosedHandler(func(*nats.Conn) {
		logger.Warn("relay: nats connection closed")
		n.markClosed()
	})
	if conn.IsClosed() {
		n.markClosed()
	}
	return n
}

func (n *NATS) markClosed() {
	n.closeOnce.Do(func() { close(n.closed) })
}

// Subject maps a relay channel such as "room:42" to "roomchat.room.42".
func Subject(channel string) string {
	return subjectPrefix + strings.ReplaceAll(channel, ":", ".")
}

// Publish sends payload on the channel's subject.
func (n *NATS) Publish(_ context.Context, channel string, payload []byte) error {
	if err := n.conn.Publish(Subject(channel), payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on the channel's subject. The subscription is flushed
// to the server before returning.
func (n *NATS) Subscribe(_ context.Context, channel string) (chat.Subscription, error) {
	source := make(chan *nats.Msg, subscriptionBuffer)
	natsSub, err := n.conn.ChanSubscribe(Subject(channel), source)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}
	if err := n.conn.Flush(); err != nil {
		_ = natsSub.Unsubscribe()
		return nil, fmt.Errorf("nats flush %s: %w", channel, err)
	}

	sub := newPumpSubscription(func() error {
		err := natsSub.Unsubscribe()
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return nil
		}
		return err
	})
	go pumpNATS(sub, source, n.closed, n.logger.With("channel", channel))
	return sub, nil
}

// pumpNATS forwards messages from source until the subscription is closed,
// the connection closes or source ends. nats.go never closes the channel
// of a ChanSubscribe, so closed is the only signal of a dead connection.
func pumpNATS(sub *pumpSubscription, source <-chan *nats.Msg, closed <-chan struct{}, logger *slog.Logger) {
	defer close(sub.out)
	for {
		select {
		case <-sub.stop:
			return
		case <-closed:
			logger.Info("relay: nats subscription ended with the connection")
			return
		case msg, ok := <-source:
			if !ok {
				logger.Info("relay: nats subscription ended")
				return
			}
			if !sub.forward(msg.Data) {
				return
			}
		}
	}
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
