package listener

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jw6ventures/esn-calendar/internal/mq"
	"github.com/jw6ventures/esn-calendar/internal/store"
)

type fakeConfigs struct {
	doc any
	err error
}

func (f *fakeConfigs) Get(ctx context.Context, module, key string, dest any) error {
	if f.err != nil {
		return f.err
	}
	if f.doc == nil {
		return store.ErrNotFound
	}
	data, _ := json.Marshal(f.doc)
	return json.Unmarshal(data, dest)
}

func (f *fakeConfigs) Set(ctx context.Context, module, key string, value any) error { return nil }

type fakeUsers struct {
	users   map[string]*store.User
	err     error
	lookups int
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

type fakeClient struct {
	subscribed []string
	handlers   []mq.Handler
	err        error
}

func (f *fakeClient) Subscribe(ctx context.Context, exchange string, handler mq.Handler) error {
	if f.err != nil {
		return f.err
	}
	f.subscribed = append(f.subscribed, exchange)
	f.handlers = append(f.handlers, handler)
	return nil
}

func (f *fakeClient) Publish(ctx context.Context, exchange string, payload any) error { return nil }

type fakeProvider struct {
	client *fakeClient
	err    error
	calls  int
}

func (f *fakeProvider) GetClient(ctx context.Context) (mq.Client, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type itipCall struct {
	userID  string
	message string
}

type fakeITip struct {
	calls []itipCall
	err   error
}

func (f *fakeITip) ITipRequest(ctx context.Context, userID string, message json.RawMessage) error {
	f.calls = append(f.calls, itipCall{userID: userID, message: string(message)})
	return f.err
}

func newTestListener(configs *fakeConfigs, provider *fakeProvider, itip *fakeITip) *Listener {
	users := &fakeUsers{users: map[string]*store.User{
		"bob@example.com": {ID: "user-bob", Emails: []string{"bob@example.com"}},
	}}
	return New(configs, users, provider, itip, 0, nil)
}

func TestInitSubscribesConfiguredExchanges(t *testing.T) {
	provider := &fakeProvider{client: &fakeClient{}}
	l := newTestListener(&fakeConfigs{doc: Config{Exchanges: []string{"a", "b"}}}, provider, &fakeITip{})

	if err := l.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	got := provider.client.subscribed
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("subscribed = %v", got)
	}
}

func TestInitFallsBackWhenUnconfigured(t *testing.T) {
	for name, configs := range map[string]*fakeConfigs{
		"missing": {},
		"empty":   {doc: Config{}},
	} {
		t.Run(name, func(t *testing.T) {
			provider := &fakeProvider{client: &fakeClient{}}
			l := newTestListener(configs, provider, &fakeITip{})

			if err := l.Init(context.Background()); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			got := provider.client.subscribed
			if len(got) != 1 || got[0] != FallbackExchange {
				t.Errorf("subscribed = %v", got)
			}
		})
	}
}

func TestInitSwallowsFailures(t *testing.T) {
	provider := &fakeProvider{err: errors.New("broker down")}
	l := newTestListener(&fakeConfigs{doc: Config{Exchanges: []string{"a", "b"}}}, provider, &fakeITip{})
	if err := l.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("GetClient calls = %d, want one per exchange", provider.calls)
	}

	provider = &fakeProvider{client: &fakeClient{err: errors.New("subscribe refused")}}
	l = newTestListener(&fakeConfigs{doc: Config{Exchanges: []string{"a"}}}, provider, &fakeITip{})
	if err := l.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	l = newTestListener(&fakeConfigs{err: errors.New("db down")}, &fakeProvider{client: &fakeClient{}}, &fakeITip{})
	if err := l.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
}

func TestProcessMessageForwardsVerbatim(t *testing.T) {
	itip := &fakeITip{}
	provider := &fakeProvider{client: &fakeClient{}}
	l := newTestListener(&fakeConfigs{}, provider, itip)
	if err := l.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	payload := `{"method":"REQUEST","sender":"alice@example.com","recipient":"bob@example.com","uid":"evt-1","ical":"BEGIN:VCALENDAR"}`
	provider.client.handlers[0](context.Background(), []byte(payload))

	if len(itip.calls) != 1 {
		t.Fatalf("iTIP calls = %d", len(itip.calls))
	}
	if itip.calls[0].userID != "user-bob" || itip.calls[0].message != payload {
		t.Errorf("call = %+v", itip.calls[0])
	}
}

func TestProcessMessageDropsInvalidMessages(t *testing.T) {
	tests := map[string]string{
		"not json":          `{`,
		"missing method":    `{"sender":"a@example.com","recipient":"bob@example.com","uid":"1"}`,
		"missing sender":    `{"method":"REQUEST","recipient":"bob@example.com","uid":"1"}`,
		"missing recipient": `{"method":"REQUEST","sender":"a@example.com","uid":"1"}`,
		"missing uid":       `{"method":"REQUEST","sender":"a@example.com","recipient":"bob@example.com"}`,
		"unknown recipient": `{"method":"REQUEST","sender":"a@example.com","recipient":"carol@example.com","uid":"1"}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			itip := &fakeITip{}
			l := newTestListener(&fakeConfigs{}, &fakeProvider{client: &fakeClient{}}, itip)
			l.ProcessMessage(context.Background(), []byte(payload))
			if len(itip.calls) != 0 {
				t.Errorf("iTIP calls = %d, want 0", len(itip.calls))
			}
		})
	}
}

func TestProcessMessageSkipsLookupWithoutMandatoryFields(t *testing.T) {
	tests := map[string]string{
		"not json":          `{`,
		"empty object":      `{}`,
		"missing method":    `{"sender":"a@example.com","recipient":"bob@example.com","uid":"1"}`,
		"missing sender":    `{"method":"REQUEST","recipient":"bob@example.com","uid":"1"}`,
		"missing recipient": `{"method":"REQUEST","sender":"a@example.com","uid":"1"}`,
		"missing uid":       `{"method":"REQUEST","sender":"a@example.com","recipient":"bob@example.com"}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			users := &fakeUsers{users: map[string]*store.User{"bob@example.com": {ID: "user-bob"}}}
			itip := &fakeITip{}
			l := New(&fakeConfigs{}, users, &fakeProvider{}, itip, 0, nil)
			l.ProcessMessage(context.Background(), []byte(payload))
			if users.lookups != 0 {
				t.Errorf("user lookups = %d, want 0", users.lookups)
			}
			if len(itip.calls) != 0 {
				t.Errorf("iTIP calls = %d, want 0", len(itip.calls))
			}
		})
	}
}

func TestProcessMessageLookupAndForwardErrors(t *testing.T) {
	payload := []byte(`{"method":"REPLY","sender":"a@example.com","recipient":"bob@example.com","uid":"1"}`)

	itip := &fakeITip{}
	l := New(&fakeConfigs{}, &fakeUsers{err: errors.New("db down")}, &fakeProvider{}, itip, 0, nil)
	l.ProcessMessage(context.Background(), payload)
	if len(itip.calls) != 0 {
		t.Error("lookup failure must drop the message")
	}

	itip = &fakeITip{err: errors.New("dav unavailable")}
	l = newTestListener(&fakeConfigs{}, &fakeProvider{}, itip)
	l.ProcessMessage(context.Background(), payload)
	if len(itip.calls) != 1 {
		t.Error("forward should be attempted once")
	}
}

func TestProcessMessageRespectsCancelledContext(t *testing.T) {
	itip := &fakeITip{}
	users := &fakeUsers{users: map[string]*store.User{"bob@example.com": {ID: "user-bob"}}}
	l := New(&fakeConfigs{}, users, &fakeProvider{}, itip, 1, nil)

	payload := []byte(`{"method":"REQUEST","sender":"a@example.com","recipient":"bob@example.com","uid":"1"}`)
	l.ProcessMessage(context.Background(), payload)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.ProcessMessage(ctx, payload)
	if len(itip.calls) != 1 {
		t.Errorf("iTIP calls = %d, want 1", len(itip.calls))
	}
}
