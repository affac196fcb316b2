package calendar

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jw6ventures/esn-calendar/internal/mail"
	"github.com/jw6ventures/esn-calendar/internal/pubsub"
	"github.com/jw6ventures/esn-calendar/internal/store"
)

type fakeUsers struct {
	byID    map[string]*store.User
	byEmail map[string]*store.User
	err     error

	emailLookups atomic.Int32
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*store.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	f.emailLookups.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeUsers) Upsert(ctx context.Context, user store.User) (*store.User, error) {
	return &user, nil
}

type fakeCollaborations struct {
	items    map[string]*store.Collaboration
	canWrite bool
	queried  []string
}

func (f *fakeCollaborations) QueryOne(ctx context.Context, objectType, id string) (*store.Collaboration, error) {
	f.queried = append(f.queried, objectType+"/"+id)
	if c, ok := f.items[objectType+"/"+id]; ok {
		return c, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeCollaborations) CanWrite(ctx context.Context, c *store.Collaboration, userID string) (bool, error) {
	return f.canWrite, nil
}

type fakeMessages struct {
	saved    []store.EventMessage
	existing map[string]*store.EventMessage
}

func (f *fakeMessages) Save(ctx context.Context, msg store.EventMessage) (*store.EventMessage, error) {
	msg.ID = "msg-1"
	msg.CreatedAt = time.Date(2015, 6, 1, 10, 0, 0, 0, time.UTC)
	f.saved = append(f.saved, msg)
	return &msg, nil
}

func (f *fakeMessages) FindByEventID(ctx context.Context, eventID string) (*store.EventMessage, error) {
	if m, ok := f.existing[eventID]; ok {
		return m, nil
	}
	return nil, store.ErrNotFound
}

type fakeConfigs struct {
	docs map[string]any
}

func (f *fakeConfigs) Get(ctx context.Context, module, key string, dest any) error {
	doc, ok := f.docs[module+"/"+key]
	if !ok {
		return store.ErrNotFound
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (f *fakeConfigs) Set(ctx context.Context, module, key string, value any) error {
	if f.docs == nil {
		f.docs = map[string]any{}
	}
	f.docs[module+"/"+key] = value
	return nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

type fakeGlobal struct {
	topics   []string
	payloads [][]byte
}

func (f *fakeGlobal) Publish(ctx context.Context, topic string, payload any) error {
	data, err := pubsub.Encode(payload)
	if err != nil {
		return err
	}
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, data)
	return nil
}

type fixture struct {
	svc      *Service
	users    *fakeUsers
	collabs  *fakeCollaborations
	messages *fakeMessages
	configs  *fakeConfigs
	mailer   *fakeMailer
	global   *fakeGlobal
	local    *pubsub.Local
}

func newFixture() *fixture {
	john := &store.User{ID: "u1", Firstname: "John", Lastname: "Doe", Emails: []string{"johndoe@open-paas.org"}}
	jane := &store.User{ID: "u2", Firstname: "Jane", Lastname: "Doe", Emails: []string{"janedoe@open-paas.org"}}
	f := &fixture{
		users: &fakeUsers{
			byID:    map[string]*store.User{"u1": john, "u2": jane},
			byEmail: map[string]*store.User{"johndoe@open-paas.org": john, "janedoe@open-paas.org": jane},
		},
		collabs: &fakeCollaborations{
			items: map[string]*store.Collaboration{
				"community/c1": {ID: "c1", ObjectType: "community", ActivityStreamUUID: "stream-1"},
			},
			canWrite: true,
		},
		messages: &fakeMessages{existing: map[string]*store.EventMessage{}},
		configs:  &fakeConfigs{docs: map[string]any{}},
		mailer:   &fakeMailer{},
		global:   &fakeGlobal{},
		local:    pubsub.NewLocal(nil),
	}
	f.svc = NewService(Deps{
		Users:          f.users,
		Collaborations: f.collabs,
		EventMessages:  f.messages,
		ModuleConfigs:  f.configs,
		Local:          f.local,
		Global:         f.global,
		Mailer:         f.mailer,
		WebserverPort:  "9090",
	})
	return f
}

// activities captures every activity delivered on the local bus.
func (f *fixture) activities() *[]TimelineActivity {
	var got []TimelineActivity
	f.local.Subscribe(pubsub.TopicMessageActivity, func(ctx context.Context, payload []byte) {
		var a TimelineActivity
		if err := json.Unmarshal(payload, &a); err == nil {
			got = append(got, a)
		}
	})
	return &got
}
