package store

import "time"

// User is a platform account as seen by the calendar module.
type User struct {
	ID        string
	Firstname string
	Lastname  string
	Emails    []string
	CreatedAt time.Time
}

// DisplayName renders the name used in mail subjects and delegation lists.
func (u *User) DisplayName() string {
	return u.Firstname + " " + u.Lastname
}

// PreferredEmail is the first registered address, or "" when none is known.
func (u *User) PreferredEmail() string {
	if len(u.Emails) == 0 {
		return ""
	}
	return u.Emails[0]
}

// Collaboration is a community or project owning an activity stream.
type Collaboration struct {
	ID                 string
	ObjectType         string
	Title              string
	CreatorID          string
	ActivityStreamUUID string
	CreatedAt          time.Time
}

// Share targets an event message at an activity stream.
type Share struct {
	ObjectType string `json:"objectType"`
	ID         string `json:"id"`
}

// EventMessage links a calendar event to its author and the streams it was shared to.
type EventMessage struct {
	ID        string
	EventID   string
	AuthorID  string
	Shares    []Share
	CreatedAt time.Time
}
