package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Redis relays room events over Redis Pub/Sub.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// DialRedis connects to addr and verifies the server answers.
func DialRedis(ctx context.Context, addr string, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	logger.Info("relay: connected to redis", "addr", addr)
	return NewRedis(client, logger), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, logger: logger}
}

// Publish sends payload to every subscriber of channel on any process.
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel. It returns once Redis has confirmed the
// subscription, so no event published afterwards is missed.
func (r *Redis) Subscribe(ctx context.Context, channel string) (chat.Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	sub := newPumpSubscription(pubsub.Close)
	go func() {
		defer close(sub.out)
		source := pubsub.Channel()
		for {
			select {
			case <-sub.stop:
				return
			case msg, ok := <-source:
				if !ok {
					r.logger.Info("relay: redis subscription ended", "channel", channel)
					return
				}
				if !sub.forward([]byte(msg.Payload)) {
					return
				}
			}
		}
	}()
	return sub, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
