package calendar

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jw6ventures/esn-calendar/internal/ical"
	"github.com/jw6ventures/esn-calendar/internal/mail"
	"github.com/jw6ventures/esn-calendar/internal/metrics"
	"github.com/jw6ventures/esn-calendar/internal/store"
)

const invitationTemplate = "event.invitation"

// ErrInvalidInvitation wraps every validation failure of InviteAttendees.
var ErrInvalidInvitation = errors.New("invalid invitation")

// InviteRequest describes one invitation round for an event.
type InviteRequest struct {
	Organizer      *store.User
	AttendeeEmails []string
	Notify         bool
	Method         string
	ICS            string
}

// InvitationContent is the data handed to the invitation template.
type InvitationContent struct {
	BaseURL string
	Event   *ical.Content
}

type webConfig struct {
	BaseURL string `json:"base_url"`
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInvitation, msg)
}

// InviteAttendees mails req.ICS to every attendee known to the user directory.
// Unknown addresses are skipped. All sends run concurrently; the first failure
// is returned once every send has settled.
func (s *Service) InviteAttendees(ctx context.Context, req InviteRequest) error {
	if !req.Notify {
		return nil
	}
	if req.Organizer == nil {
		return invalid("organizer must be a user object")
	}
	if len(req.AttendeeEmails) == 0 {
		return invalid("attendee emails must be an array with at least one email")
	}
	if req.Method == "" {
		return invalid("the method is required")
	}
	if req.ICS == "" {
		return invalid("the ics is required")
	}

	baseURL := s.baseURL(ctx)

	attendees, err := s.resolveAttendees(ctx, req.AttendeeEmails)
	if err != nil {
		return err
	}
	if len(attendees) == 0 {
		return nil
	}

	event, err := ical.ToContent(req.ICS, baseURL)
	if err != nil {
		return fmt.Errorf("format invitation: %w", err)
	}
	subject := invitationSubject(req.Method, req.Organizer)
	from := req.Organizer.PreferredEmail()

	var g errgroup.Group
	for _, attendee := range attendees {
		msg := mail.Message{
			From:     from,
			To:       attendee.PreferredEmail(),
			Subject:  subject,
			Template: invitationTemplate,
			Data:     InvitationContent{BaseURL: baseURL, Event: event},
			Alternatives: []mail.Alternative{{
				ContentType: "text/calendar; charset=UTF-8; method=" + req.Method,
				Content:     req.ICS,
				Base64:      true,
			}},
			Attachments: []mail.Attachment{{
				Filename:    "invite.ics",
				ContentType: "application/ics",
				Content:     req.ICS,
			}},
		}
		g.Go(func() error {
			err := s.mailer.Send(ctx, msg)
			metrics.IncInvitationSent(req.Method, err)
			if err != nil {
				s.logger.Error("calendar invitations: send failed", "to", msg.To, "method", req.Method, "err", err)
			}
			return err
		})
	}
	return g.Wait()
}

// resolveAttendees looks every address up concurrently and keeps the known users in input order.
func (s *Service) resolveAttendees(ctx context.Context, emails []string) ([]*store.User, error) {
	found := make([]*store.User, len(emails))
	var g errgroup.Group
	for i, email := range emails {
		g.Go(func() error {
			user, err := s.users.GetByEmail(ctx, email)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("find attendee %s: %w", email, err)
			}
			found[i] = user
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	users := make([]*store.User, 0, len(found))
	for _, u := range found {
		if u != nil {
			users = append(users, u)
		}
	}
	return users, nil
}

func (s *Service) baseURL(ctx context.Context) string {
	if s.configs != nil {
		var web webConfig
		err := s.configs.Get(ctx, "core", "web", &web)
		if err == nil && web.BaseURL != "" {
			return web.BaseURL
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("calendar invitations: cannot read web configuration", "err", err)
		}
	}
	port := s.webserverPort
	if port == "" {
		port = "8080"
	}
	return "http://localhost:" + port
}

func invitationSubject(method string, organizer *store.User) string {
	switch method {
	case "REQUEST":
		return fmt.Sprintf("New event from %s", organizer.DisplayName())
	case "REPLY":
		return fmt.Sprintf("An event has been updated from %s", organizer.DisplayName())
	case "CANCEL":
		return fmt.Sprintf("An event has been canceled from %s", organizer.DisplayName())
	default:
		return "Unknown method"
	}
}
