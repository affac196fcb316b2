package pubsub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jw6ventures/esn-calendar/internal/logging"
)

// RedisClient is the subset of redis.UniversalClient used by the global bus.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Ping(ctx context.Context) *redis.StatusCmd
}

// Redis is the global bus shared by every instance of the service.
type Redis struct {
	client RedisClient
	logger logging.Logger
}

func NewRedis(client RedisClient, logger logging.Logger) *Redis {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, topic string, payload any) error {
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Ping checks the connection to the broker.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Subscribe confirms the subscription on topic, then delivers messages to fn
// from a background goroutine until ctx is cancelled.
func (r *Redis) Subscribe(ctx context.Context, topic string, fn Handler) error {
	ps := r.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	go func() {
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.deliver(ctx, topic, fn, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

func (r *Redis) deliver(ctx context.Context, topic string, fn Handler, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("redis pubsub: handler panicked", "topic", topic, "panic", rec)
		}
	}()
	fn(ctx, data)
}
