package calconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jw6ventures/esn-calendar/internal/caldav"
	"github.com/jw6ventures/esn-calendar/internal/rights"
	"github.com/jw6ventures/esn-calendar/internal/store"
)

// DefaultColor is given to calendars created without one.
const DefaultColor = "#2196f3"

// ErrRightsOnNewCalendar is returned when sharees are added before the calendar exists.
var ErrRightsOnNewCalendar = errors.New("edition of right on new calendar are not implemented yet")

type State int

const (
	StateLoading State = iota
	StateReady
	StateSubmitting
	StateNavigated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSubmitting:
		return "submitting"
	case StateNavigated:
		return "navigated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Target is a view the session navigates to after a submit.
type Target string

const (
	TargetMain Target = "calendar.main"
	TargetList Target = "calendar.list"
)

const (
	TabMain       = "main"
	TabDelegation = "delegation"
)

type HomeService interface {
	GetUserCalendarHomeID(ctx context.Context) (string, error)
}

type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*store.User, error)
}

// Notifier shows a transient notice.
type Notifier interface {
	WeakInfo(title, text string)
}

type Navigator interface {
	Go(target Target)
}

type Media interface {
	IsSmallScreen() bool
}

// Deps groups the collaborators of a Controller. NewID defaults to random UUIDs.
type Deps struct {
	API           CalendarAPI
	Homes         HomeService
	Users         UserDirectory
	Notifier      Notifier
	Navigator     Navigator
	Media         Media
	NewID         func() string
	CurrentUserID string
}

// DelegationState is a pending "add users" edit carried across navigation.
type DelegationState struct {
	NewUsersGroups      []DelegatedUser
	SelectedShareeRight rights.ShareeRight
}

type Params struct {
	CalendarID       string
	ExternalCalendar bool

	AddUsersFromDelegationState *DelegationState
}

// Controller drives one calendar configuration session.
type Controller struct {
	deps Deps

	State       State
	HomeID      string
	Calendar    caldav.Calendar
	OldCalendar CalendarFields
	NewCalendar bool
	IsAdmin     bool

	Rights          *rights.CalendarRight
	Baseline        *rights.CalendarRight
	PublicSelection rights.PublicRight
	OriginalPublic  rights.PublicRight

	NewUsersGroups      []DelegatedUser
	SelectedShareeRight rights.ShareeRight
	SelectedTab         string

	// Operations holds the calls issued by the last edit submit.
	Operations []Operation

	editor DelegationEditor
}

func NewController(d Deps) *Controller {
	if d.NewID == nil {
		d.NewID = func() string { return uuid.NewString() }
	}
	return &Controller{deps: d, State: StateLoading}
}

// Init loads the calendar home and, for an existing calendar, the calendar itself.
func (c *Controller) Init(ctx context.Context, p Params) error {
	homeID, err := c.deps.Homes.GetUserCalendarHomeID(ctx)
	if err != nil {
		return fmt.Errorf("get calendar home: %w", err)
	}
	c.HomeID = homeID

	c.Calendar = caldav.Calendar{}
	if p.CalendarID != "" {
		cal, err := c.deps.API.GetCalendar(ctx, homeID, p.CalendarID, p.ExternalCalendar)
		if err != nil {
			return fmt.Errorf("get calendar %s: %w", p.CalendarID, err)
		}
		c.Calendar = *cal
	}

	if err := c.Activate(ctx); err != nil {
		return err
	}

	if st := p.AddUsersFromDelegationState; st != nil {
		c.NewUsersGroups = st.NewUsersGroups
		c.SelectedShareeRight = st.SelectedShareeRight
		if err := c.AddUserGroup(); err != nil {
			return err
		}
		c.SelectedTab = TabDelegation
	}
	return nil
}

// Activate prepares the editing state from c.Calendar.
func (c *Controller) Activate(ctx context.Context) error {
	c.NewCalendar = c.Calendar.ID == ""
	c.editor = DelegationEditor{}

	if c.NewCalendar {
		c.Calendar.Href = "/calendars/" + c.HomeID + "/" + c.deps.NewID() + ".json"
		if c.Calendar.Color == "" {
			c.Calendar.Color = DefaultColor
		}
		c.Rights = rights.New(c.deps.CurrentUserID)
	} else {
		right, err := c.deps.API.GetRight(ctx, c.HomeID, c.Calendar)
		if err != nil {
			return fmt.Errorf("get calendar rights: %w", err)
		}
		c.Rights = right
		c.OldCalendar = CalendarFields{Name: c.Calendar.Name, Color: c.Calendar.Color, Href: c.Calendar.Href}
	}
	c.Baseline = c.Rights.Clone()
	c.PublicSelection = c.Rights.PublicRight()
	c.OriginalPublic = c.PublicSelection

	c.IsAdmin = c.Rights.OwnerID() == c.deps.CurrentUserID ||
		c.Rights.ShareeRight(c.deps.CurrentUserID) == rights.ShareeAdmin

	if err := c.loadDelegations(ctx); err != nil {
		return err
	}

	c.SelectedTab = TabMain
	c.SelectedShareeRight = rights.ShareeNone
	c.State = StateReady
	return nil
}

var delegationOrder = []rights.ShareeRight{
	rights.ShareeAdmin,
	rights.ShareeReadWrite,
	rights.ShareeRead,
	rights.ShareeFreeBusy,
}

// loadDelegations resolves every sharee and lists them grouped by right.
// Sharees unknown to the directory are left out.
func (c *Controller) loadDelegations(ctx context.Context) error {
	sharees := c.Rights.AllShareeRights()
	users := make([]*store.User, len(sharees))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range sharees {
		g.Go(func() error {
			u, err := c.deps.Users.GetByID(gctx, s.UserID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("get sharee %s: %w", s.UserID, err)
			}
			users[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	groups := make(map[rights.ShareeRight][]DelegatedUser)
	for i, s := range sharees {
		if users[i] == nil {
			continue
		}
		du := delegatedUser(users[i])
		if du.PreferredEmail == "" {
			du.PreferredEmail = s.Email
		}
		groups[s.Right] = append(groups[s.Right], du)
	}
	for _, right := range delegationOrder {
		if len(groups[right]) > 0 {
			c.editor.AddUserGroup(groups[right], right)
		}
	}
	return nil
}

func (c *Controller) Delegations() []Delegation {
	return c.editor.Delegations()
}

// AddUserGroup adds NewUsersGroups with SelectedShareeRight.
func (c *Controller) AddUserGroup() error {
	if c.NewCalendar {
		return ErrRightsOnNewCalendar
	}
	c.editor.AddUserGroup(c.NewUsersGroups, c.SelectedShareeRight)
	c.NewUsersGroups = nil
	c.SelectedShareeRight = rights.ShareeNone
	return nil
}

func (c *Controller) RemoveUserGroup(d Delegation) {
	c.editor.RemoveUserGroup(d)
}

// SetDelegationRight changes the right selected for a listed sharee.
func (c *Controller) SetDelegationRight(userID string, right rights.ShareeRight) bool {
	return c.editor.SetSelection(userID, right)
}

func (c *Controller) CanShowDelegationTab() bool {
	return c.IsAdmin && !c.NewCalendar
}

// Submit persists the session. A blank name makes it a no-op returning "".
// On failure the session returns to StateReady.
func (c *Controller) Submit(ctx context.Context) (Target, error) {
	if strings.TrimSpace(c.Calendar.Name) == "" {
		return "", nil
	}
	c.State = StateSubmitting

	if c.NewCalendar {
		if err := c.deps.API.CreateCalendar(ctx, c.HomeID, c.Calendar); err != nil {
			c.State = StateReady
			return "", fmt.Errorf("create calendar: %w", err)
		}
		c.notify("New calendar - ", c.Calendar.Name+" has been created.")
		return c.navigate(TargetMain), nil
	}

	for _, id := range c.editor.RemovedUserIDs() {
		c.Rights.RemoveShareeRight(id)
	}
	for _, d := range c.editor.Delegations() {
		c.Rights.UpdateSharee(d.User.ID, d.User.PreferredEmail, d.Selection)
	}

	ops := Diff(c.snapshot())
	c.Operations = ops
	if err := Execute(ctx, c.deps.API, ops); err != nil {
		c.State = StateReady
		return "", err
	}
	c.notify("Calendar - ", c.Calendar.Name+" has been modified.")

	target := TargetMain
	if len(ops) == 0 && c.deps.Media != nil && c.deps.Media.IsSmallScreen() {
		target = TargetList
	}
	return c.navigate(target), nil
}

func (c *Controller) snapshot() Snapshot {
	return Snapshot{
		HomeID:         c.HomeID,
		Calendar:       c.Calendar,
		Old:            c.OldCalendar,
		Rights:         c.Rights,
		Baseline:       c.Baseline,
		Public:         c.PublicSelection,
		OriginalPublic: c.OriginalPublic,
	}
}

func (c *Controller) notify(title, text string) {
	if c.deps.Notifier != nil {
		c.deps.Notifier.WeakInfo(title, text)
	}
}

func (c *Controller) navigate(target Target) Target {
	c.State = StateNavigated
	if c.deps.Navigator != nil {
		c.deps.Navigator.Go(target)
	}
	return target
}
