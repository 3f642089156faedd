// Package relay provides Broadcast Relay backends that carry room events
// between server processes: an in-process fan-out, Redis Pub/Sub and NATS.
package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Backend names a relay implementation.
type Backend string

const (
	BackendNone   Backend = "none"
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
	BackendNATS   Backend = "nats"
)

// subscriptionBuffer is the per-subscription queue length.
const subscriptionBuffer = 256

// Relay is a chat.Relay that owns backend resources.
type Relay interface {
	chat.Relay
	io.Closer
}

// Options configures Open.
type Options struct {
	RedisAddr string
	NATSURL   string
	Logger    *slog.Logger
}

// Open builds the relay for backend. BackendNone (or an empty name) returns
// a nil Relay and no error.
func Open(ctx context.Context, backend Backend, opts Options) (Relay, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch backend {
	case BackendNone, "":
		return nil, nil
	case BackendMemory:
		return NewMemory(logger), nil
	case BackendRedis:
		r, err := DialRedis(ctx, opts.RedisAddr, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendNATS:
		n, err := ConnectNATS(opts.NATSURL, logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("relay: unknown backend %q", backend)
	}
}

// pumpSubscription forwards backend messages into a chat.Subscription
// channel until stop is closed or the source ends.
type pumpSubscription struct {
	out      chan []byte
	stop     chan struct{}
	once     sync.Once
	closeFn  func() error
	closeErr error
}

func newPumpSubscription(closeFn func() error) *pumpSubscription {
	return &pumpSubscription{
		out:     make(chan []byte, subscriptionBuffer),
		stop:    make(chan struct{}),
		closeFn: closeFn,
	}
}

func (s *pumpSubscription) Messages() <-chan []byte {
	return s.out
}

// Close unsubscribes from the backend. It is safe to call more than once.
func (s *pumpSubscription) Close() error {
	s.once.Do(func() {
		close(s.stop)
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}

// forward delivers one payload, giving up once the subscription stops.
func (s *pumpSubscription) forward(payload []byte) bool {
	select {
	case s.out <- payload:
		return true
	case <-s.stop:
		return false
	}
}
