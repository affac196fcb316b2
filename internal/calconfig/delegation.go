package calconfig

import (
	"slices"

	"github.com/jw6ventures/esn-calendar/internal/rights"
	"github.com/jw6ventures/esn-calendar/internal/store"
)

// DelegatedUser is a sharee ready for display.
type DelegatedUser struct {
	ID             string `json:"id"`
	Firstname      string `json:"firstname"`
	Lastname       string `json:"lastname"`
	DisplayName    string `json:"displayName"`
	PreferredEmail string `json:"preferredEmail"`
}

func delegatedUser(u *store.User) DelegatedUser {
	return DelegatedUser{
		ID:             u.ID,
		Firstname:      u.Firstname,
		Lastname:       u.Lastname,
		DisplayName:    u.DisplayName(),
		PreferredEmail: u.PreferredEmail(),
	}
}

// Delegation is one user and the right selected for them.
type Delegation struct {
	User      DelegatedUser      `json:"user"`
	Selection rights.ShareeRight `json:"selection"`
}

// DelegationEditor holds the delegation list edited during one session and
// remembers which users were taken off it.
type DelegationEditor struct {
	delegations []Delegation
	removed     []string
}

// AddUserGroup appends users with right. Users already listed are skipped.
func (e *DelegationEditor) AddUserGroup(users []DelegatedUser, right rights.ShareeRight) []Delegation {
	for _, u := range users {
		if e.index(u.ID) >= 0 {
			continue
		}
		e.delegations = append(e.delegations, Delegation{User: u, Selection: right})
		e.removed = slices.DeleteFunc(e.removed, func(id string) bool { return id == u.ID })
	}
	return e.Delegations()
}

func (e *DelegationEditor) RemoveUserGroup(d Delegation) []Delegation {
	if i := e.index(d.User.ID); i >= 0 {
		e.delegations = slices.Delete(e.delegations, i, i+1)
		if !slices.Contains(e.removed, d.User.ID) {
			e.removed = append(e.removed, d.User.ID)
		}
	}
	return e.Delegations()
}

// SetSelection changes the right of a listed user.
func (e *DelegationEditor) SetSelection(userID string, right rights.ShareeRight) bool {
	i := e.index(userID)
	if i < 0 {
		return false
	}
	e.delegations[i].Selection = right
	return true
}

func (e *DelegationEditor) Delegations() []Delegation {
	return slices.Clone(e.delegations)
}

func (e *DelegationEditor) RemovedUserIDs() []string {
	return slices.Clone(e.removed)
}

func (e *DelegationEditor) index(userID string) int {
	return slices.IndexFunc(e.delegations, func(d Delegation) bool { return d.User.ID == userID })
}
