package ical

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func calendar(method string, eventLines ...string) string {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Example//Calendar//EN",
	}
	if method != "" {
		lines = append(lines, "METHOD:"+method)
	}
	lines = append(lines, "BEGIN:VEVENT", "UID:meeting-1", "DTSTAMP:20150601T100000Z")
	lines = append(lines, eventLines...)
	lines = append(lines, "END:VEVENT", "END:VCALENDAR", "")
	return strings.Join(lines, "\r\n")
}

var meetingLines = []string{
	"SEQUENCE:0",
	"SUMMARY:Démo OPENPAAS",
	"DTSTART:20150612T150000",
	"DTEND:20150612T153000",
	"LOCATION:https://hubl.in/openpaas",
	"DESCRIPTION:Présentation de OPENPAAS",
	"ORGANIZER;CN=John Doe:mailto:johndoe@open-paas.org",
	"ATTENDEE;CN=John Doe;PARTSTAT=ACCEPTED:mailto:johndoe@open-paas.org",
	"ATTENDEE;CN=Jane Doe;PARTSTAT=NEEDS-ACTION:MAILTO:janedoe@open-paas.org",
}

func TestToContentMeeting(t *testing.T) {
	content, err := ToContent(calendar("REQUEST", meetingLines...), "http://localhost:8080/")
	if err != nil {
		t.Fatalf("ToContent() error = %v", err)
	}

	got, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"method":"REQUEST","sequence":0,"summary":"Démo OPENPAAS",` +
		`"start":{"date":"06/12/2015","time":"3:00 PM"},` +
		`"end":{"date":"06/12/2015","time":"3:30 PM"},` +
		`"location":"https://hubl.in/openpaas","description":"Présentation de OPENPAAS",` +
		`"organizer":{"cn":"John Doe","email":"johndoe@open-paas.org","avatar":"http://localhost:8080/api/avatars?objectType=user\u0026email=johndoe@open-paas.org"},` +
		`"attendees":{"johndoe@open-paas.org":{"cn":"John Doe","partstat":"ACCEPTED"},"janedoe@open-paas.org":{"cn":"Jane Doe","partstat":"NEEDS-ACTION"}}}`
	if string(got) != want {
		t.Errorf("content JSON mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestToContentWithoutEnd(t *testing.T) {
	lines := []string{
		"SUMMARY:Cancelled",
		"DTSTART:20150612T150000",
		"ORGANIZER;CN=John Doe:mailto:johndoe@open-paas.org",
	}
	content, err := ToContent(calendar("CANCEL", lines...), "http://localhost:8080")
	if err != nil {
		t.Fatalf("ToContent() error = %v", err)
	}
	if content.End != nil {
		t.Errorf("End = %+v, want nil", content.End)
	}
	if content.Start == nil || content.Start.Date != "06/12/2015" || content.Start.Time != "3:00 PM" {
		t.Errorf("Start = %+v", content.Start)
	}

	got, _ := json.Marshal(content)
	if !strings.Contains(string(got), `"end":null`) {
		t.Errorf("expected end:null in %s", got)
	}
}

func TestToContentDuration(t *testing.T) {
	lines := []string{
		"DTSTART:20150612T150000",
		"DURATION:PT1H30M",
	}
	content, err := ToContent(calendar("REQUEST", lines...), "")
	if err != nil {
		t.Fatalf("ToContent() error = %v", err)
	}
	if content.End == nil || content.End.Time != "4:30 PM" {
		t.Errorf("End = %+v", content.End)
	}
}

func TestToContentAllDay(t *testing.T) {
	lines := []string{
		"DTSTART;VALUE=DATE:20150612",
		"DTEND;VALUE=DATE:20150613",
	}
	content, err := ToContent(calendar("REQUEST", lines...), "")
	if err != nil {
		t.Fatalf("ToContent() error = %v", err)
	}
	if *content.Start != (DateTime{Date: "06/12/2015"}) {
		t.Errorf("Start = %+v", content.Start)
	}
	if *content.End != (DateTime{Date: "06/13/2015"}) {
		t.Errorf("End = %+v", content.End)
	}
}

func TestToContentUnknownTimezoneIsFloating(t *testing.T) {
	lines := []string{
		"DTSTART;TZID=Romance Standard Time:20150612T150000",
		"DTEND;TZID=Romance Standard Time:20150612T153000",
	}
	content, err := ToContent(calendar("REQUEST", lines...), "")
	if err != nil {
		t.Fatalf("ToContent() error = %v", err)
	}
	if *content.Start != (DateTime{Date: "06/12/2015", Time: "3:00 PM"}) {
		t.Errorf("Start = %+v", content.Start)
	}
	if *content.End != (DateTime{Date: "06/12/2015", Time: "3:30 PM"}) {
		t.Errorf("End = %+v", content.End)
	}
}

func TestToContentParseError(t *testing.T) {
	_, err := ToContent("this is not a calendar", "http://localhost:8080")
	if !errors.Is(err, ErrParse) {
		t.Fatalf("error = %v, want ErrParse", err)
	}
}

func TestAttendeesGet(t *testing.T) {
	content, err := ToContent(calendar("REQUEST", meetingLines...), "")
	if err != nil {
		t.Fatalf("ToContent() error = %v", err)
	}
	att, ok := content.Attendees.Get("janedoe@open-paas.org")
	if !ok || att.PartStat != "NEEDS-ACTION" {
		t.Errorf("Get() = %+v, %v", att, ok)
	}
	if _, ok := content.Attendees.Get("nobody@open-paas.org"); ok {
		t.Error("expected missing attendee")
	}
}

func TestAttendeesEmails(t *testing.T) {
	emails, err := AttendeesEmails(calendar("REQUEST", meetingLines...))
	if err != nil {
		t.Fatalf("AttendeesEmails() error = %v", err)
	}
	if len(emails) != 2 || emails[0] != "johndoe@open-paas.org" || emails[1] != "janedoe@open-paas.org" {
		t.Errorf("emails = %v", emails)
	}

	emails, err = AttendeesEmails(calendar("", "DTSTART:20150612T150000"))
	if err != nil {
		t.Fatalf("AttendeesEmails() error = %v", err)
	}
	if emails == nil || len(emails) != 0 {
		t.Errorf("emails = %#v, want empty slice", emails)
	}
}

func TestStripMailto(t *testing.T) {
	tests := map[string]string{
		"mailto:a@example.com": "a@example.com",
		"MailTo:b@example.com": "b@example.com",
		"c@example.com":        "c@example.com",
		"":                     "",
	}
	for in, want := range tests {
		if got := stripMailto(in); got != want {
			t.Errorf("stripMailto(%q) = %q, want %q", in, got, want)
		}
	}
}
