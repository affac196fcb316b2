// Package pubsub carries timeline activities between components. Local
// delivers in-process; Redis publishes to every instance of the service.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jw6ventures/esn-calendar/internal/logging"
)

// TopicMessageActivity carries timeline activities.
const TopicMessageActivity = "message:activity"

// Handler receives one encoded payload.
type Handler func(ctx context.Context, payload []byte)

// Publisher is one addressable channel of the event bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Encode marshals payload to JSON unless it is already raw bytes.
func Encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return data, nil
	}
}

// Local is an in-process bus. Handlers run synchronously in subscription order.
type Local struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   int
	logger   logging.Logger
}

type subscription struct {
	id int
	fn Handler
}

func NewLocal(logger logging.Logger) *Local {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Local{handlers: make(map[string][]subscription), logger: logger}
}

// Subscribe registers fn on topic and returns a function removing it.
func (l *Local) Subscribe(topic string, fn Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.handlers[topic] = append(l.handlers[topic], subscription{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		subs := l.handlers[topic]
		for i, s := range subs {
			if s.id == id {
				l.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (l *Local) Publish(ctx context.Context, topic string, payload any) error {
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	l.mu.RLock()
	subs := append([]subscription(nil), l.handlers[topic]...)
	l.mu.RUnlock()

	for _, s := range subs {
		l.deliver(ctx, topic, s.fn, data)
	}
	return nil
}

func (l *Local) deliver(ctx context.Context, topic string, fn Handler, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("local pubsub: handler panicked", "topic", topic, "panic", r)
		}
	}()
	fn(ctx, data)
}

// Forward publishes payload on the local topic and then on the same topic of global.
func (l *Local) Forward(ctx context.Context, topic string, payload any, global Publisher) error {
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	if err := l.Publish(ctx, topic, data); err != nil {
		return err
	}
	if global == nil {
		return nil
	}
	if err := global.Publish(ctx, topic, data); err != nil {
		return fmt.Errorf("forward %s to global bus: %w", topic, err)
	}
	return nil
}
