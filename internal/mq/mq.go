// Package mq exposes broker exchanges to consumers. Exchanges map onto Redis
// pub/sub channels.
package mq

import (
	"context"
	"fmt"

	"github.com/jw6ventures/esn-calendar/internal/logging"
	"github.com/jw6ventures/esn-calendar/internal/pubsub"
)

// Handler consumes one message body.
type Handler = pubsub.Handler

// Client subscribes to and publishes on named exchanges.
type Client interface {
	Subscribe(ctx context.Context, exchange string, handler Handler) error
	Publish(ctx context.Context, exchange string, payload any) error
}

// Provider hands out connected clients.
type Provider interface {
	GetClient(ctx context.Context) (Client, error)
}

// RedisProvider returns clients sharing one Redis connection pool.
type RedisProvider struct {
	bus *pubsub.Redis
}

func NewRedisProvider(client pubsub.RedisClient, logger logging.Logger) *RedisProvider {
	return &RedisProvider{bus: pubsub.NewRedis(client, logger)}
}

// GetClient verifies the broker is reachable before returning a client.
func (p *RedisProvider) GetClient(ctx context.Context) (Client, error) {
	if err := p.bus.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to message queue: %w", err)
	}
	return &redisClient{bus: p.bus}, nil
}

type redisClient struct {
	bus *pubsub.Redis
}

func (c *redisClient) Subscribe(ctx context.Context, exchange string, handler Handler) error {
	return c.bus.Subscribe(ctx, exchange, handler)
}

func (c *redisClient) Publish(ctx context.Context, exchange string, payload any) error {
	return c.bus.Publish(ctx, exchange, payload)
}
