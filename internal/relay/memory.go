package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// ErrClosed is returned by a relay that has been closed.
var ErrClosed = errors.New("relay: closed")

// Memory is an in-process relay. It is useful for single-process
// deployments that still want relay semantics and for tests.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
	logger *slog.Logger
}

type memorySub struct {
	*pumpSubscription
}

// NewMemory returns an empty in-process relay.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		subs:   make(map[string]map[*memorySub]struct{}),
		logger: logger,
	}
}

// Publish delivers payload to every current subscriber of channel. A
// subscriber whose queue is full is closed, the same way a connection that
// cannot keep up is dropped from the session registry.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}

	var slow []*memorySub
	for sub := range m.subs[channel] {
		select {
		case sub.out <- append([]byte(nil), payload...):
		case <-sub.stop:
		default:
			slow = append(slow, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range slow {
		m.logger.Warn("relay: memory subscriber queue full, closing subscription", "channel", channel)
		_ = sub.Close()
	}
	return nil
}

// Subscribe registers a listener on channel.
func (m *Memory) Subscribe(_ context.Context, channel string) (chat.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	sub := &memorySub{}
	sub.pumpSubscription = newPumpSubscription(func() error {
		m.remove(channel, sub)
		return nil
	})

	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*memorySub]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	return sub, nil
}

// remove detaches sub and closes its queue. Publishers hold the read lock,
// so closing under the write lock cannot race a send.
func (m *Memory) remove(channel string, sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[channel][sub]; !ok {
		return
	}
	delete(m.subs[channel], sub)
	if len(m.subs[channel]) == 0 {
		delete(m.subs, channel)
	}
	close(sub.out)
}

// Subscribers returns the number of live listeners on channel.
func (m *Memory) Subscribers(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[channel])
}

// Close ends every subscription and rejects further use.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var all []*memorySub
	for _, subs := range m.subs {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range all {
		_ = sub.Close()
	}
	return nil
}
