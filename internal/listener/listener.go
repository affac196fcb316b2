// Package listener forwards iTIP notifications received by the mail server
// to the DAV server of the recipient.
package listener

import (
	"context"
	"encoding/json"
	"errors"

	"golang.org/x/time/rate"

	"github.com/jw6ventures/esn-calendar/internal/logging"
	"github.com/jw6ventures/esn-calendar/internal/metrics"
	"github.com/jw6ventures/esn-calendar/internal/mq"
	"github.com/jw6ventures/esn-calendar/internal/store"
)

const (
	configModule = "calendar"
	configKey    = "external-event-listener"

	// FallbackExchange is used when no exchange is configured.
	FallbackExchange = "james:events"
)

// ITipClient hands an iTIP message to the DAV server.
type ITipClient interface {
	ITipRequest(ctx context.Context, userID string, message json.RawMessage) error
}

// UserFinder resolves recipients.
type UserFinder interface {
	GetByEmail(ctx context.Context, email string) (*store.User, error)
}

// Config is the stored listener configuration.
type Config struct {
	Exchanges []string `json:"exchanges"`
}

type Listener struct {
	configs  store.ModuleConfigRepository
	users    UserFinder
	provider mq.Provider
	client   ITipClient
	limiter  *rate.Limiter
	logger   logging.Logger
}

// New builds a listener forwarding at most perSecond iTIP requests per second.
// A non-positive perSecond disables throttling.
func New(configs store.ModuleConfigRepository, users UserFinder, provider mq.Provider, client ITipClient, perSecond int, logger logging.Logger) *Listener {
	if logger == nil {
		logger = logging.Discard()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
	return &Listener{
		configs:  configs,
		users:    users,
		provider: provider,
		client:   client,
		limiter:  limiter,
		logger:   logger,
	}
}

// Init subscribes to every configured exchange. Failures are logged and never returned.
func (l *Listener) Init(ctx context.Context) error {
	var cfg Config
	if err := l.configs.Get(ctx, configModule, configKey, &cfg); err != nil && !errors.Is(err, store.ErrNotFound) {
		l.logger.Error("event mail listener: error when initializing the listener", "err", err)
		return nil
	}

	exchanges := cfg.Exchanges
	if len(exchanges) == 0 {
		l.logger.Warn("event mail listener: missing configuration, using fallback exchange", "exchange", FallbackExchange)
		exchanges = []string{FallbackExchange}
	}
	for _, exchange := range exchanges {
		l.subscribe(ctx, exchange)
	}
	return nil
}

func (l *Listener) subscribe(ctx context.Context, exchange string) {
	client, err := l.provider.GetClient(ctx)
	if err != nil {
		l.logger.Error("event mail listener: cannot connect to MQ", "exchange", exchange, "err", err)
		return
	}
	if err := client.Subscribe(ctx, exchange, l.ProcessMessage); err != nil {
		l.logger.Error("event mail listener: cannot subscribe", "exchange", exchange, "err", err)
		return
	}
	l.logger.Info("event mail listener: subscribed", "exchange", exchange)
}

type notification struct {
	Method    string `json:"method"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	UID       string `json:"uid"`
}

func (n notification) valid() bool {
	return n.Method != "" && n.Sender != "" && n.Recipient != "" && n.UID != ""
}

// ProcessMessage handles one queue message. Invalid or unroutable messages are dropped.
func (l *Listener) ProcessMessage(ctx context.Context, payload []byte) {
	ctx = metrics.WithRoute(ctx, "listener")
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil || !n.valid() {
		l.logger.Warn("event mail listener: missing mandatory field, event ignored")
		metrics.IncListenerMessage("invalid")
		return
	}

	user, err := l.users.GetByEmail(ctx, n.Recipient)
	if errors.Is(err, store.ErrNotFound) {
		l.logger.Warn("event mail listener: recipient unknown, event ignored", "recipient", n.Recipient)
		metrics.IncListenerMessage("unknown_user")
		return
	}
	if err != nil {
		l.logger.Error("event mail listener: could not query users, event ignored", "err", err)
		metrics.IncListenerMessage("lookup_error")
		return
	}

	if err := l.limiter.Wait(ctx); err != nil {
		l.logger.Warn("event mail listener: forwarding cancelled", "uid", n.UID, "err", err)
		metrics.IncListenerMessage("forward_error")
		return
	}
	if err := l.client.ITipRequest(ctx, user.ID, json.RawMessage(payload)); err != nil {
		l.logger.Error("event mail listener: iTIP request failed", "user", user.ID, "uid", n.UID, "err", err)
		metrics.IncListenerMessage("forward_error")
		return
	}
	metrics.IncListenerMessage("forwarded")
}
