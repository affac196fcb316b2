package calconfig

import (
	"context"
	"errors"
	"sync"

	"github.com/jw6ventures/esn-calendar/internal/caldav"
	"github.com/jw6ventures/esn-calendar/internal/rights"
	"github.com/jw6ventures/esn-calendar/internal/store"
)

type apiCall struct {
	name      string
	homeID    string
	calendar  caldav.Calendar
	privilege string
	newRight  *rights.CalendarRight
	oldRight  *rights.CalendarRight
}

type fakeAPI struct {
	calendar *caldav.Calendar
	right    *rights.CalendarRight
	failOn   string

	calls      []apiCall
	withRights bool
}

func (f *fakeAPI) record(c apiCall) error {
	f.calls = append(f.calls, c)
	if f.failOn == c.name {
		return errors.New(c.name + " failed")
	}
	return nil
}

func (f *fakeAPI) names() []string {
	var out []string
	for _, c := range f.calls {
		out = append(out, c.name)
	}
	return out
}

func (f *fakeAPI) mutations() []string {
	var out []string
	for _, c := range f.calls {
		if c.name != "GetCalendar" && c.name != "GetRight" {
			out = append(out, c.name)
		}
	}
	return out
}

func (f *fakeAPI) GetCalendar(ctx context.Context, homeID, id string, withRights bool) (*caldav.Calendar, error) {
	f.withRights = withRights
	if err := f.record(apiCall{name: "GetCalendar", homeID: homeID}); err != nil {
		return nil, err
	}
	cal := *f.calendar
	return &cal, nil
}

func (f *fakeAPI) CreateCalendar(ctx context.Context, homeID string, cal caldav.Calendar) error {
	return f.record(apiCall{name: "CreateCalendar", homeID: homeID, calendar: cal})
}

func (f *fakeAPI) ModifyCalendar(ctx context.Context, homeID string, cal caldav.Calendar) error {
	return f.record(apiCall{name: "ModifyCalendar", homeID: homeID, calendar: cal})
}

func (f *fakeAPI) GetRight(ctx context.Context, homeID string, cal caldav.Calendar) (*rights.CalendarRight, error) {
	if err := f.record(apiCall{name: "GetRight", homeID: homeID, calendar: cal}); err != nil {
		return nil, err
	}
	return f.right.Clone(), nil
}

func (f *fakeAPI) ModifyRights(ctx context.Context, homeID string, cal caldav.Calendar, newRight, oldRight *rights.CalendarRight) error {
	return f.record(apiCall{name: "ModifyRights", homeID: homeID, calendar: cal, newRight: newRight, oldRight: oldRight})
}

func (f *fakeAPI) ModifyPublicRights(ctx context.Context, homeID, id, privilege string) error {
	return f.record(apiCall{name: "ModifyPublicRights", homeID: homeID, calendar: caldav.Calendar{ID: id}, privilege: privilege})
}

type fakeDirectory struct {
	mu    sync.Mutex
	users map[string]*store.User
	calls int
}

func (f *fakeDirectory) GetByID(ctx context.Context, id string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

type fakeMedia bool

func (m fakeMedia) IsSmallScreen() bool { return bool(m) }

type harness struct {
	api       *fakeAPI
	users     *fakeDirectory
	recorder  *Recorder
	media     fakeMedia
	currentID string
}

const testHomeID = "12345"

func newHarness() *harness {
	right := rights.New("owner")
	right.UpdateSharee("u1", "u1@example.com", rights.ShareeRead)
	right.UpdateSharee("u2", "u2@example.com", rights.ShareeAdmin)
	return &harness{
		api: &fakeAPI{
			calendar: &caldav.Calendar{ID: "events", Href: "/calendars/12345/events.json", Name: "Events", Color: "#ff0000"},
			right:    right,
		},
		users: &fakeDirectory{users: map[string]*store.User{
			"u1": {ID: "u1", Firstname: "Ann", Lastname: "One", Emails: []string{"u1@example.com"}},
			"u2": {ID: "u2", Firstname: "Bob", Lastname: "Two", Emails: []string{"u2@example.com"}},
			"u3": {ID: "u3", Firstname: "Cid", Lastname: "Three", Emails: []string{"u3@example.com"}},
		}},
		recorder:  &Recorder{},
		currentID: "owner",
	}
}

func (h *harness) deps() Deps {
	return Deps{
		API: h.api,
		Homes: HomeFunc(func(ctx context.Context) (string, error) {
			return testHomeID, nil
		}),
		Users:         h.users,
		Notifier:      h.recorder,
		Navigator:     h.recorder,
		Media:         h.media,
		NewID:         func() string { return "00000000-0000-4000-a000-000000000000" },
		CurrentUserID: h.currentID,
	}
}

func (h *harness) controller(t interface{ Fatalf(string, ...any) }, p Params) *Controller {
	c := NewController(h.deps())
	if err := c.Init(context.Background(), p); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return c
}
