package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/apperr"
)

var errSendFailed = errors.New("send buffer full")

// fakePeer is an in-memory Peer. Closing inbound simulates a disconnect.
type fakePeer struct {
	id      string
	inbound chan []byte
	out     chan []byte

	mu   sync.Mutex
	fail bool
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{
		id:      id,
		inbound: make(chan []byte, 16),
		out:     make(chan []byte, 128),
	}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errSendFailed
	}
	select {
	case p.out <- append([]byte(nil), payload...):
		return nil
	default:
		return errSendFailed
	}
}

func (p *fakePeer) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-p.inbound:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (p *fakePeer) setFail(fail bool) {
	p.mu.Lock()
	p.fail = fail
	p.mu.Unlock()
}

func (p *fakePeer) say(t *testing.T, content string) {
	t.Helper()
	data, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	p.inbound <- data
}

func (p *fakePeer) next(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-p.out:
		return data
	case <-time.After(2 * time.Second):
		t.Fatalf("peer %s: timed out waiting for frame", p.id)
		return nil
	}
}

func (p *fakePeer) nextMessage(t *testing.T) MessageFrame {
	t.Helper()
	var frame MessageFrame
	if err := json.Unmarshal(p.next(t), &frame); err != nil {
		t.Fatalf("peer %s: decode message frame: %v", p.id, err)
	}
	return frame
}

func (p *fakePeer) nextError(t *testing.T) ErrorFrame {
	t.Helper()
	var frame ErrorFrame
	if err := json.Unmarshal(p.next(t), &frame); err != nil {
		t.Fatalf("peer %s: decode error frame: %v", p.id, err)
	}
	return frame
}

func (p *fakePeer) expectSilence(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case data := <-p.out:
		t.Fatalf("peer %s: unexpected frame %s", p.id, data)
	case <-time.After(wait):
	}
}

// fakeAuth treats the credential as "userID:displayName".
type fakeAuth struct{}

func (fakeAuth) Validate(_ context.Context, credential string) (Identity, error) {
	var id, name string
	for i := 0; i < len(credential); i++ {
		if credential[i] == ':' {
			id, name = credential[:i], credential[i+1:]
			break
		}
	}
	if id == "" || name == "" {
		return Identity{}, apperr.Authentication(apperr.CodeInvalidToken, "Could not validate credentials.")
	}
	return Identity{UserID: id, DisplayName: name}, nil
}

type fakeRooms struct {
	ids map[string]bool
	err error
}

func (r *fakeRooms) Exists(_ context.Context, roomID string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return r.ids[roomID], nil
}

func (r *fakeRooms) Create(context.Context, string, *string, string) (Room, error) {
	return Room{}, errors.New("not implemented")
}

func (r *fakeRooms) List(context.Context) ([]Room, error) {
	return nil, nil
}

type fakeHistory struct {
	mu        sync.Mutex
	messages  []Message
	appendErr error
	recentErr error
	clock     time.Time
}

func (h *fakeHistory) Append(_ context.Context, roomID, userID, content string) (Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.appendErr != nil {
		return Message{}, h.appendErr
	}
	h.clock = h.clock.Add(time.Second)
	msg := Message{
		ID:        fmt.Sprintf("m%d", len(h.messages)+1),
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		Timestamp: h.clock,
	}
	h.messages = append(h.messages, msg)
	return msg, nil
}

func (h *fakeHistory) Page(context.Context, string, int, int) (Page, error) {
	return Page{}, errors.New("not implemented")
}

func (h *fakeHistory) Recent(_ context.Context, roomID string, limit int) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.recentErr != nil {
		return nil, h.recentErr
	}
	var out []Message
	for i := len(h.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if h.messages[i].RoomID == roomID {
			out = append(out, h.messages[i])
		}
	}
	return out, nil
}

func (h *fakeHistory) seed(roomID, userID, userName string, contents ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range contents {
		h.clock = h.clock.Add(time.Second)
		h.messages = append(h.messages, Message{
			ID:        fmt.Sprintf("m%d", len(h.messages)+1),
			RoomID:    roomID,
			UserID:    userID,
			UserName:  userName,
			Content:   c,
			Timestamp: h.clock,
		})
	}
}

// fakeRelay is an in-process Relay used to exercise the outbound duty.
type fakeRelay struct {
	mu   sync.Mutex
	subs map[string][]*fakeSub
}

type fakeSub struct {
	relay   *fakeRelay
	channel string
	ch      chan []byte
	once    sync.Once
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{subs: make(map[string][]*fakeSub)}
}

func (r *fakeRelay) Publish(_ context.Context, channel string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs[channel] {
		sub.ch <- append([]byte(nil), payload...)
	}
	return nil
}

func (r *fakeRelay) Subscribe(_ context.Context, channel string) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := &fakeSub{relay: r, channel: channel, ch: make(chan []byte, 64)}
	r.subs[channel] = append(r.subs[channel], sub)
	return sub, nil
}

func (r *fakeRelay) subscribers(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[channel])
}

// end terminates every subscription on channel as a broker outage would.
func (r *fakeRelay) end(channel string) {
	r.mu.Lock()
	subs := r.subs[channel]
	r.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
}

func (s *fakeSub) Messages() <-chan []byte { return s.ch }

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		s.relay.mu.Lock()
		subs := s.relay.subs[s.channel]
		for i, sub := range subs {
			if sub == s {
				s.relay.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(s.relay.subs[s.channel]) == 0 {
			delete(s.relay.subs, s.channel)
		}
		close(s.ch)
		s.relay.mu.Unlock()
	})
	return nil
}
