package calconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/jw6ventures/esn-calendar/internal/rights"
)

// ErrNotAdmin is returned when a non-administrator submits delegation changes.
var ErrNotAdmin = errors.New("only calendar administrators can edit delegations")

// Form is a configuration submitted in one request. A nil Delegations leaves
// the sharees untouched.
type Form struct {
	CalendarID       string              `json:"calendarId,omitempty"`
	ExternalCalendar bool                `json:"externalCalendar,omitempty"`
	Name             string              `json:"name"`
	Color            string              `json:"color,omitempty"`
	Description      string              `json:"description,omitempty"`
	PublicRight      *rights.PublicRight `json:"publicRight,omitempty"`
	Delegations      []FormDelegation    `json:"delegations,omitempty"`
	SmallScreen      bool                `json:"smallScreen,omitempty"`
}

type FormDelegation struct {
	UserID string             `json:"userId"`
	Right  rights.ShareeRight `json:"right"`
}

// Result is what a form submission did.
type Result struct {
	Target     Target      `json:"target"`
	Operations []Operation `json:"operations"`
	Notices    []Notice    `json:"notices,omitempty"`
}

type Notice struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Recorder collects notices and the navigation target of a session run
// without a user interface.
type Recorder struct {
	Notices []Notice
	Target  Target
}

func (r *Recorder) WeakInfo(title, text string) {
	r.Notices = append(r.Notices, Notice{Title: title, Text: text})
}

func (r *Recorder) Go(target Target) { r.Target = target }

// StaticMedia reports a fixed screen size.
type StaticMedia bool

func (m StaticMedia) IsSmallScreen() bool { return bool(m) }

// HomeFunc adapts a function to HomeService.
type HomeFunc func(ctx context.Context) (string, error)

func (f HomeFunc) GetUserCalendarHomeID(ctx context.Context) (string, error) { return f(ctx) }

// SubmitForm runs a whole session for f: load, apply the submitted fields, submit.
// deps.Notifier, deps.Navigator and deps.Media are replaced.
func SubmitForm(ctx context.Context, deps Deps, f Form) (Result, error) {
	rec := &Recorder{}
	deps.Notifier = rec
	deps.Navigator = rec
	deps.Media = StaticMedia(f.SmallScreen)

	c := NewController(deps)
	if err := c.Init(ctx, Params{CalendarID: f.CalendarID, ExternalCalendar: f.ExternalCalendar}); err != nil {
		return Result{}, err
	}
	if err := c.apply(ctx, f); err != nil {
		return Result{}, err
	}
	target, err := c.Submit(ctx)
	if err != nil {
		return Result{}, err
	}
	ops := c.Operations
	if ops == nil {
		ops = []Operation{}
	}
	return Result{Target: target, Operations: ops, Notices: rec.Notices}, nil
}

func (c *Controller) apply(ctx context.Context, f Form) error {
	c.Calendar.Name = f.Name
	if f.Color != "" {
		c.Calendar.Color = f.Color
	}
	if f.Description != "" {
		c.Calendar.Description = f.Description
	}
	if f.PublicRight != nil {
		c.PublicSelection = *f.PublicRight
	}
	if f.Delegations == nil {
		return nil
	}
	if !c.CanShowDelegationTab() {
		if c.NewCalendar {
			return ErrRightsOnNewCalendar
		}
		return ErrNotAdmin
	}

	wanted := make(map[string]rights.ShareeRight, len(f.Delegations))
	for _, d := range f.Delegations {
		wanted[d.UserID] = d.Right
	}
	for _, d := range c.Delegations() {
		right, ok := wanted[d.User.ID]
		if !ok || right == rights.ShareeNone {
			c.RemoveUserGroup(d)
			continue
		}
		c.SetDelegationRight(d.User.ID, right)
		delete(wanted, d.User.ID)
	}
	return c.addSubmittedUsers(ctx, f.Delegations, wanted)
}

// addSubmittedUsers adds the users of f not yet delegated, in submission order.
func (c *Controller) addSubmittedUsers(ctx context.Context, submitted []FormDelegation, pending map[string]rights.ShareeRight) error {
	for _, d := range submitted {
		right, ok := pending[d.UserID]
		if !ok || right == rights.ShareeNone {
			continue
		}
		u, err := c.deps.Users.GetByID(ctx, d.UserID)
		if err != nil {
			return fmt.Errorf("get user %s: %w", d.UserID, err)
		}
		c.NewUsersGroups = []DelegatedUser{delegatedUser(u)}
		c.SelectedShareeRight = right
		if err := c.AddUserGroup(); err != nil {
			return err
		}
	}
	return nil
}
