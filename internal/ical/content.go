package ical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"
)

const (
	dateLayout = "01/02/2006"
	timeLayout = "3:04 PM"
)

// ErrParse reports an ICS payload that is not a readable calendar object.
var ErrParse = errors.New("ical: cannot parse calendar")

// Content is the flat view of an event handed to mail templates.
type Content struct {
	Method      string     `json:"method"`
	Sequence    int        `json:"sequence"`
	Summary     string     `json:"summary"`
	Start       *DateTime  `json:"start"`
	End         *DateTime  `json:"end"`
	Location    string     `json:"location"`
	Description string     `json:"description"`
	Organizer   *Organizer `json:"organizer"`
	Attendees   Attendees  `json:"attendees"`
}

// DateTime is a display-formatted instant. Time is empty for all-day values.
type DateTime struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type Organizer struct {
	CN     string `json:"cn"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

type Attendee struct {
	Email    string `json:"-"`
	CN       string `json:"cn"`
	PartStat string `json:"partstat"`
}

// Attendees keeps attendees in order of appearance and encodes as an object keyed by email.
type Attendees []Attendee

// Get returns the attendee registered under email.
func (a Attendees) Get(email string) (Attendee, bool) {
	for _, att := range a {
		if att.Email == email {
			return att, true
		}
	}
	return Attendee{}, false
}

func (a Attendees) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, att := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(att.Email)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(att)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Parse decodes raw ICS text into a calendar.
func Parse(ics string) (*goical.Calendar, error) {
	cal, err := goical.NewDecoder(strings.NewReader(ics)).Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return cal, nil
}

// ToContent converts the first VEVENT of ics into mail-ready content.
// baseURL is used to derive the organizer avatar link.
func ToContent(ics, baseURL string) (*Content, error) {
	cal, err := Parse(ics)
	if err != nil {
		return nil, err
	}
	vevent := firstEvent(cal)
	if vevent == nil {
		return nil, fmt.Errorf("%w: no VEVENT component", ErrParse)
	}

	content := &Content{
		Method:      propText(cal.Props, goical.PropMethod),
		Summary:     propText(vevent.Props, goical.PropSummary),
		Location:    propText(vevent.Props, goical.PropLocation),
		Description: propText(vevent.Props, goical.PropDescription),
		Attendees:   attendees(vevent.Props),
	}
	if seq := vevent.Props.Get(goical.PropSequence); seq != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seq.Value)); err == nil {
			content.Sequence = n
		}
	}

	start, startProp, err := eventStart(vevent.Props)
	if err != nil {
		return nil, err
	}
	if startProp != nil {
		content.Start = formatDateTime(start, isDate(startProp))
	}
	if end, allDay, ok, err := eventEnd(vevent.Props, start, startProp); err != nil {
		return nil, err
	} else if ok {
		content.End = formatDateTime(end, allDay)
	}

	if org := vevent.Props.Get(goical.PropOrganizer); org != nil {
		email := stripMailto(org.Value)
		content.Organizer = &Organizer{
			CN:     org.Params.Get(goical.ParamCommonName),
			Email:  email,
			Avatar: avatarURL(baseURL, email),
		}
	}

	return content, nil
}

// AttendeesEmails lists attendee addresses of the first VEVENT in order of appearance.
func AttendeesEmails(ics string) ([]string, error) {
	cal, err := Parse(ics)
	if err != nil {
		return nil, err
	}
	emails := []string{}
	vevent := firstEvent(cal)
	if vevent == nil {
		return emails, nil
	}
	for _, att := range attendees(vevent.Props) {
		emails = append(emails, att.Email)
	}
	return emails, nil
}

func firstEvent(cal *goical.Calendar) *goical.Component {
	for _, child := range cal.Children {
		if child.Name == goical.CompEvent {
			return child
		}
	}
	return nil
}

func propText(props goical.Props, name string) string {
	prop := props.Get(name)
	if prop == nil {
		return ""
	}
	text, err := prop.Text()
	if err != nil {
		return prop.Value
	}
	return text
}

func attendees(props goical.Props) Attendees {
	list := Attendees{}
	seen := make(map[string]int)
	for _, prop := range props.Values(goical.PropAttendee) {
		att := Attendee{
			Email:    stripMailto(prop.Value),
			CN:       prop.Params.Get(goical.ParamCommonName),
			PartStat: prop.Params.Get(goical.ParamParticipationStatus),
		}
		// A repeated address keeps its first position and takes the later values.
		if idx, ok := seen[att.Email]; ok {
			list[idx] = att
			continue
		}
		seen[att.Email] = len(list)
		list = append(list, att)
	}
	return list
}

func eventStart(props goical.Props) (time.Time, *goical.Prop, error) {
	prop := props.Get(goical.PropDateTimeStart)
	if prop == nil {
		return time.Time{}, nil, nil
	}
	t, err := propDateTime(prop)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("%w: DTSTART: %v", ErrParse, err)
	}
	return t, prop, nil
}

// eventEnd resolves DTEND, falling back to DTSTART+DURATION. ok is false when neither is set.
func eventEnd(props goical.Props, start time.Time, startProp *goical.Prop) (end time.Time, allDay, ok bool, err error) {
	if prop := props.Get(goical.PropDateTimeEnd); prop != nil {
		t, err := propDateTime(prop)
		if err != nil {
			return time.Time{}, false, false, fmt.Errorf("%w: DTEND: %v", ErrParse, err)
		}
		return t, isDate(prop), true, nil
	}
	if prop := props.Get(goical.PropDuration); prop != nil && startProp != nil {
		d, err := prop.Duration()
		if err != nil {
			return time.Time{}, false, false, fmt.Errorf("%w: DURATION: %v", ErrParse, err)
		}
		return start.Add(d), isDate(startProp), true, nil
	}
	return time.Time{}, false, false, nil
}

// propDateTime reads a DATE or DATE-TIME value. A TZID that is not a known
// zone name (Outlook zones, custom VTIMEZONE ids) is read as floating time.
func propDateTime(prop *goical.Prop) (time.Time, error) {
	t, err := prop.DateTime(time.UTC)
	if err == nil || prop.Params.Get(goical.ParamTimezoneID) == "" {
		return t, err
	}
	if _, locErr := time.LoadLocation(prop.Params.Get(goical.ParamTimezoneID)); locErr == nil {
		return t, err
	}
	floating := *prop
	floating.Params = make(goical.Params, len(prop.Params))
	for k, v := range prop.Params {
		if k != goical.ParamTimezoneID {
			floating.Params[k] = v
		}
	}
	return floating.DateTime(time.UTC)
}

func isDate(prop *goical.Prop) bool {
	if prop.ValueType() == goical.ValueDate {
		return true
	}
	return len(strings.TrimSpace(prop.Value)) == len("20060102")
}

func formatDateTime(t time.Time, allDay bool) *DateTime {
	dt := &DateTime{Date: t.Format(dateLayout)}
	if !allDay {
		dt.Time = t.Format(timeLayout)
	}
	return dt
}

func stripMailto(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= len("mailto:") && strings.EqualFold(value[:len("mailto:")], "mailto:") {
		return value[len("mailto:"):]
	}
	return value
}

func avatarURL(baseURL, email string) string {
	return strings.TrimRight(baseURL, "/") + "/api/avatars?objectType=user&email=" + email
}
