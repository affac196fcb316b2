// Package rights models the access control of one calendar: its owner, the
// public right, and the rights delegated to sharees.
package rights

import (
	"sort"
	"strings"
)

// ShareeRight is the right delegated to one sharee.
type ShareeRight string

const (
	ShareeNone      ShareeRight = "NONE"
	ShareeRead      ShareeRight = "SHAREE_READ"
	ShareeReadWrite ShareeRight = "SHAREE_READ_WRITE"
	ShareeAdmin     ShareeRight = "SHAREE_ADMIN"
	ShareeFreeBusy  ShareeRight = "SHAREE_FREE_BUSY"
)

// PublicRight is the right granted to every authenticated user.
type PublicRight string

const (
	PublicNone      PublicRight = "NONE"
	PublicRead      PublicRight = "READ"
	PublicReadWrite PublicRight = "READ_WRITE"
	PublicFreeBusy  PublicRight = "FREE_BUSY"
)

// DAV privileges as they appear in ACL entries.
const (
	PrivilegeAll      = "{DAV:}all"
	PrivilegeRead     = "{DAV:}read"
	PrivilegeWrite    = "{DAV:}write"
	PrivilegeFreeBusy = "{urn:ietf:params:xml:ns:caldav}read-free-busy"

	PrincipalAuthenticated = "{DAV:}authenticated"
	userPrincipalPrefix    = "principals/users/"
)

// Sabre invite access levels.
const (
	accessOwner     = 1
	accessRead      = 2
	accessReadWrite = 3
	accessNoAccess  = 4
	accessAdmin     = 5
	accessFreeBusy  = 6
)

// Sharee is one delegated right.
type Sharee struct {
	UserID string
	Email  string
	Right  ShareeRight
}

// CalendarRight is a mutable snapshot of a calendar's access control.
// Take a Clone before editing to keep an untouched baseline.
type CalendarRight struct {
	ownerID string
	public  PublicRight
	sharees map[string]Sharee
}

// New returns an empty right owned by ownerID.
func New(ownerID string) *CalendarRight {
	return &CalendarRight{ownerID: ownerID, public: PublicNone, sharees: make(map[string]Sharee)}
}

func (c *CalendarRight) Clone() *CalendarRight {
	out := &CalendarRight{ownerID: c.ownerID, public: c.public, sharees: make(map[string]Sharee, len(c.sharees))}
	for id, s := range c.sharees {
		out.sharees[id] = s
	}
	return out
}

// Equals compares owner, public right and sharees.
func (c *CalendarRight) Equals(other *CalendarRight) bool {
	if other == nil {
		return false
	}
	return c.ownerID == other.ownerID && c.public == other.public && c.ShareesEqual(other)
}

// ShareesEqual compares only the delegated rights, user id to right. Emails
// are addresses of the sharee and do not make a right differ.
func (c *CalendarRight) ShareesEqual(other *CalendarRight) bool {
	if other == nil || len(c.sharees) != len(other.sharees) {
		return false
	}
	for id, s := range c.sharees {
		if o, ok := other.sharees[id]; !ok || o.Right != s.Right {
			return false
		}
	}
	return true
}

func (c *CalendarRight) OwnerID() string { return c.ownerID }

func (c *CalendarRight) PublicRight() PublicRight { return c.public }

func (c *CalendarRight) UpdatePublic(right PublicRight) {
	if right == "" {
		right = PublicNone
	}
	c.public = right
}

// ShareeRight returns the right of userID, ShareeNone when it has none.
func (c *CalendarRight) ShareeRight(userID string) ShareeRight {
	if s, ok := c.sharees[userID]; ok {
		return s.Right
	}
	return ShareeNone
}

// AllShareeRights lists sharees sorted by user id.
func (c *CalendarRight) AllShareeRights() []Sharee {
	out := make([]Sharee, 0, len(c.sharees))
	for _, s := range c.sharees {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// UpdateSharee sets the right of userID. ShareeNone removes the sharee.
// An existing sharee keeps the email it is already shared with.
func (c *CalendarRight) UpdateSharee(userID, email string, right ShareeRight) {
	if right == ShareeNone || right == "" {
		delete(c.sharees, userID)
		return
	}
	if prev, ok := c.sharees[userID]; ok && prev.Email != "" {
		email = prev.Email
	}
	c.sharees[userID] = Sharee{UserID: userID, Email: email, Right: right}
}

func (c *CalendarRight) RemoveShareeRight(userID string) {
	delete(c.sharees, userID)
}

// ShareUpdate is the body posted to the DAV server to change sharees.
type ShareUpdate struct {
	Share ShareChanges `json:"share"`
}

type ShareChanges struct {
	Set    []map[string]any `json:"set"`
	Remove []map[string]any `json:"remove"`
}

// ToDAVShareRightsUpdate computes the sharee changes from old to c.
func (c *CalendarRight) ToDAVShareRightsUpdate(old *CalendarRight) ShareUpdate {
	if old == nil {
		old = New(c.ownerID)
	}
	update := ShareUpdate{Share: ShareChanges{Set: []map[string]any{}, Remove: []map[string]any{}}}

	for _, s := range c.AllShareeRights() {
		if prev, ok := old.sharees[s.UserID]; ok && prev.Right == s.Right {
			continue
		}
		update.Share.Set = append(update.Share.Set, map[string]any{
			"dav:href":         "mailto:" + s.Email,
			davShareKey(s.Right): true,
		})
	}
	for _, s := range old.AllShareeRights() {
		if _, ok := c.sharees[s.UserID]; ok {
			continue
		}
		update.Share.Remove = append(update.Share.Remove, map[string]any{
			"dav:href": "mailto:" + s.Email,
		})
	}
	return update
}

func davShareKey(right ShareeRight) string {
	switch right {
	case ShareeReadWrite:
		return "dav:read-write"
	case ShareeAdmin:
		return "dav:administration"
	case ShareeFreeBusy:
		return "dav:freebusy"
	default:
		return "dav:read"
	}
}

// ACE is one access control entry reported by the DAV server.
type ACE struct {
	Privilege string `json:"privilege"`
	Principal string `json:"principal"`
	Protected bool   `json:"protected,omitempty"`
}

// Invite is one sharee entry reported by the DAV server.
type Invite struct {
	Href         string `json:"href"`
	Principal    string `json:"principal"`
	Access       int    `json:"access"`
	InviteStatus int    `json:"inviteStatus"`
}

// FromDAV builds a right from the acl and invite properties of a calendar.
func FromDAV(acl []ACE, invite []Invite) *CalendarRight {
	c := New("")
	publicRank := 0
	for _, ace := range acl {
		switch {
		case ace.Principal == PrincipalAuthenticated:
			if rank, right := publicFromPrivilege(ace.Privilege); rank > publicRank {
				publicRank = rank
				c.public = right
			}
		case ace.Privilege == PrivilegeAll && c.ownerID == "":
			c.ownerID = userIDFromPrincipal(ace.Principal)
		}
	}

	for _, inv := range invite {
		userID := userIDFromPrincipal(inv.Principal)
		if userID == "" {
			continue
		}
		if inv.Access == accessOwner {
			c.ownerID = userID
			continue
		}
		right := rightFromAccess(inv.Access)
		if right == ShareeNone {
			continue
		}
		c.sharees[userID] = Sharee{UserID: userID, Email: stripMailto(inv.Href), Right: right}
	}
	return c
}

func publicFromPrivilege(privilege string) (int, PublicRight) {
	switch privilege {
	case PrivilegeWrite, PrivilegeAll:
		return 3, PublicReadWrite
	case PrivilegeRead:
		return 2, PublicRead
	case PrivilegeFreeBusy:
		return 1, PublicFreeBusy
	default:
		return 0, PublicNone
	}
}

func rightFromAccess(access int) ShareeRight {
	switch access {
	case accessRead:
		return ShareeRead
	case accessReadWrite:
		return ShareeReadWrite
	case accessAdmin:
		return ShareeAdmin
	case accessFreeBusy:
		return ShareeFreeBusy
	default:
		return ShareeNone
	}
}

func userIDFromPrincipal(principal string) string {
	p := strings.Trim(principal, "/")
	if !strings.HasPrefix(p, userPrincipalPrefix) {
		return ""
	}
	return strings.TrimPrefix(p, userPrincipalPrefix)
}

func stripMailto(href string) string {
	if len(href) >= 7 && strings.EqualFold(href[:7], "mailto:") {
		return href[7:]
	}
	return href
}
