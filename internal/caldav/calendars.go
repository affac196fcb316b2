package caldav

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/jw6ventures/esn-calendar/internal/rights"
)

// Calendar is the shell of one calendar collection.
type Calendar struct {
	ID          string `json:"id"`
	Href        string `json:"href"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
	ReadOnly    bool   `json:"readOnly"`

	// Rights is set when the calendar was fetched with rights.
	Rights *rights.CalendarRight `json:"-"`
}

// davCalendar is the JSON representation used by the DAV server.
type davCalendar struct {
	Links struct {
		Self struct {
			Href string `json:"href"`
		} `json:"self"`
	} `json:"_links"`
	Name        string          `json:"dav:name"`
	Color       string          `json:"apple:color"`
	Description string          `json:"caldav:description"`
	ReadOnly    bool            `json:"readOnly,omitempty"`
	ACL         []rights.ACE    `json:"acl,omitempty"`
	Invite      []rights.Invite `json:"invite,omitempty"`
}

func (d davCalendar) toCalendar(withRights bool) Calendar {
	cal := Calendar{
		ID:          IDFromHref(d.Links.Self.Href),
		Href:        d.Links.Self.Href,
		Name:        d.Name,
		Color:       d.Color,
		Description: d.Description,
		ReadOnly:    d.ReadOnly,
	}
	if withRights {
		cal.Rights = rights.FromDAV(d.ACL, d.Invite)
	}
	return cal
}

type davCalendarList struct {
	Embedded struct {
		Calendars []davCalendar `json:"dav:calendar"`
	} `json:"_embedded"`
}

// IDFromHref extracts the calendar id from /calendars/<home>/<id>.json.
func IDFromHref(href string) string {
	return strings.TrimSuffix(path.Base(href), ".json")
}

func homePath(homeID string) string {
	return "/calendars/" + url.PathEscape(homeID) + ".json"
}

func calendarPath(homeID, calendarID string) string {
	return "/calendars/" + url.PathEscape(homeID) + "/" + url.PathEscape(calendarID) + ".json"
}

func calendarID(cal Calendar) (string, error) {
	id := cal.ID
	if id == "" && cal.Href != "" {
		id = IDFromHref(cal.Href)
	}
	if id == "" {
		return "", errors.New("calendar id is required")
	}
	return id, nil
}

func withRightsQuery(withRights bool) url.Values {
	if !withRights {
		return nil
	}
	return url.Values{"withRights": []string{"true"}}
}

// ListCalendars lists the calendars of a calendar home.
func (c *Client) ListCalendars(ctx context.Context, homeID string, withRights bool) ([]Calendar, error) {
	var list davCalendarList
	if err := c.do(ctx, "GET", homePath(homeID), withRightsQuery(withRights), nil, &list); err != nil {
		return nil, err
	}
	out := make([]Calendar, 0, len(list.Embedded.Calendars))
	for _, d := range list.Embedded.Calendars {
		out = append(out, d.toCalendar(withRights))
	}
	return out, nil
}

func (c *Client) GetCalendar(ctx context.Context, homeID, id string, withRights bool) (*Calendar, error) {
	var d davCalendar
	if err := c.do(ctx, "GET", calendarPath(homeID, id), withRightsQuery(withRights), nil, &d); err != nil {
		return nil, err
	}
	cal := d.toCalendar(withRights)
	if cal.ID == "" {
		cal.ID = id
	}
	return &cal, nil
}

func (c *Client) RemoveCalendar(ctx context.Context, homeID, id string) error {
	return c.do(ctx, "DELETE", calendarPath(homeID, id), nil, nil, nil)
}

// CreateCalendar creates cal in homeID. The id defaults to the last segment of the href.
func (c *Client) CreateCalendar(ctx context.Context, homeID string, cal Calendar) error {
	id, err := calendarID(cal)
	if err != nil {
		return err
	}
	body := map[string]string{
		"id":                 id,
		"dav:name":           cal.Name,
		"apple:color":        cal.Color,
		"caldav:description": cal.Description,
	}
	return c.do(ctx, "POST", homePath(homeID), nil, body, nil)
}

// ModifyCalendar updates name, color and description.
func (c *Client) ModifyCalendar(ctx context.Context, homeID string, cal Calendar) error {
	id, err := calendarID(cal)
	if err != nil {
		return err
	}
	body := map[string]string{
		"dav:name":           cal.Name,
		"apple:color":        cal.Color,
		"caldav:description": cal.Description,
	}
	return c.do(ctx, MethodProppatch, calendarPath(homeID, id), nil, body, nil)
}

type rightsResponse struct {
	ACL    []rights.ACE    `json:"acl"`
	Invite []rights.Invite `json:"invite"`
}

// GetRight reads the acl and sharees of cal.
func (c *Client) GetRight(ctx context.Context, homeID string, cal Calendar) (*rights.CalendarRight, error) {
	id, err := calendarID(cal)
	if err != nil {
		return nil, err
	}
	body := map[string][]string{"prop": {"cs:invite", "acl"}}
	var resp rightsResponse
	if err := c.do(ctx, MethodPropfind, calendarPath(homeID, id), nil, body, &resp); err != nil {
		return nil, err
	}
	return rights.FromDAV(resp.ACL, resp.Invite), nil
}

// ModifyRights posts the sharee changes between oldRight and newRight.
func (c *Client) ModifyRights(ctx context.Context, homeID string, cal Calendar, newRight, oldRight *rights.CalendarRight) error {
	id, err := calendarID(cal)
	if err != nil {
		return err
	}
	if newRight == nil {
		return errors.New("new right is required")
	}
	return c.do(ctx, "POST", calendarPath(homeID, id), nil, newRight.ToDAVShareRightsUpdate(oldRight), nil)
}

// ModifyPublicRights sets the privilege granted to every authenticated user.
func (c *Client) ModifyPublicRights(ctx context.Context, homeID, id, privilege string) error {
	if id == "" {
		return errors.New("calendar id is required")
	}
	body := map[string]string{"public_right": privilege}
	if err := c.do(ctx, MethodACL, calendarPath(homeID, id), nil, body, nil); err != nil {
		return fmt.Errorf("modify public right: %w", err)
	}
	return nil
}

