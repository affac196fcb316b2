package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jw6ventures/esn-calendar/internal/auth"
	"github.com/jw6ventures/esn-calendar/internal/caldav"
	"github.com/jw6ventures/esn-calendar/internal/calconfig"
	"github.com/jw6ventures/esn-calendar/internal/calendar"
	httperrors "github.com/jw6ventures/esn-calendar/internal/http/errors"
	"github.com/jw6ventures/esn-calendar/internal/logging"
	"github.com/jw6ventures/esn-calendar/internal/store"
)

const maxBodyBytes = 1 << 20

type handler struct {
	calendar    CalendarService
	calendarAPI calconfig.CalendarAPI
	users       calconfig.UserDirectory
	logger      logging.Logger
}

type eventMessageResponse struct {
	ID        string        `json:"_id"`
	EventID   string        `json:"eventId"`
	Author    string        `json:"author"`
	Shares    []store.Share `json:"shares"`
	CreatedAt time.Time     `json:"published"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dest any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(dest)
}

func (h *handler) currentUser(w http.ResponseWriter, r *http.Request) (*store.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
	}
	return user, ok
}

// DispatchEvent records a calendar event on the timeline of a collaboration.
func (h *handler) DispatchEvent(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var event calendar.EventData
	if err := decodeJSON(r, &event); err != nil {
		httperrors.BadRequestError(w, r, h.logger, err, "invalid json body")
		return
	}

	result, err := h.calendar.Dispatch(r.Context(), &calendar.DispatchRequest{
		User:          &calendar.UserRef{User: user},
		Collaboration: &calendar.CollaborationRef{ID: chi.URLParam(r, "collaborationId")},
		ObjectType:    chi.URLParam(r, "objectType"),
		Event:         &event,
	})
	switch {
	case err == nil:
	case errors.Is(err, calendar.ErrInvalidEvent), errors.Is(err, calendar.ErrInvalidType),
		errors.Is(err, calendar.ErrInvalidUser), errors.Is(err, calendar.ErrInvalidCollaboration),
		errors.Is(err, calendar.ErrDataMissing):
		httperrors.BadRequestError(w, r, h.logger, err, err.Error())
		return
	case errors.Is(err, calendar.ErrEventMessageNotFound), errors.Is(err, store.ErrNotFound):
		httperrors.NotFoundError(w, r, h.logger, err, "not found")
		return
	default:
		httperrors.InternalError(w, r, h.logger, err, "dispatch calendar event")
		return
	}

	msg, ok := result.Get()
	if !ok {
		httperrors.ForbiddenError(w, r, h.logger, "you can not write to this collaboration")
		return
	}
	writeJSON(w, http.StatusCreated, eventMessageResponse{
		ID:        msg.ID,
		EventID:   msg.EventID,
		Author:    msg.AuthorID,
		Shares:    msg.Shares,
		CreatedAt: msg.CreatedAt,
	})
}

type inviteBody struct {
	Emails []string `json:"emails"`
	Notify bool     `json:"notify"`
	Method string   `json:"method"`
	Event  string   `json:"event"`
}

// InviteAttendees mails an event to its attendees on behalf of the caller.
func (h *handler) InviteAttendees(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	var body inviteBody
	if err := decodeJSON(r, &body); err != nil {
		httperrors.BadRequestError(w, r, h.logger, err, "invalid json body")
		return
	}

	err := h.calendar.InviteAttendees(r.Context(), calendar.InviteRequest{
		Organizer:      user,
		AttendeeEmails: body.Emails,
		Notify:         body.Notify,
		Method:         body.Method,
		ICS:            body.Event,
	})
	if errors.Is(err, calendar.ErrInvalidInvitation) {
		httperrors.BadRequestError(w, r, h.logger, err, err.Error())
		return
	}
	if err != nil {
		httperrors.InternalError(w, r, h.logger, err, "invite attendees")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SubmitConfiguration applies a calendar configuration form for the caller's home.
func (h *handler) SubmitConfiguration(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	homeID := chi.URLParam(r, "homeId")
	if homeID != user.ID {
		httperrors.ForbiddenError(w, r, h.logger, "calendar home does not belong to you")
		return
	}
	var form calconfig.Form
	if err := decodeJSON(r, &form); err != nil {
		httperrors.BadRequestError(w, r, h.logger, err, "invalid json body")
		return
	}

	res, err := calconfig.SubmitForm(r.Context(), calconfig.Deps{
		API: h.calendarAPI,
		Homes: calconfig.HomeFunc(func(ctx context.Context) (string, error) {
			return homeID, nil
		}),
		Users:         h.users,
		CurrentUserID: user.ID,
	}, form)
	if err != nil {
		h.configurationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) configurationError(w http.ResponseWriter, r *http.Request, err error) {
	var statusErr *caldav.StatusError
	switch {
	case errors.Is(err, calconfig.ErrNotAdmin):
		httperrors.ForbiddenError(w, r, h.logger, err.Error())
	case errors.Is(err, calconfig.ErrRightsOnNewCalendar):
		httperrors.BadRequestError(w, r, h.logger, err, err.Error())
	case errors.Is(err, store.ErrNotFound):
		httperrors.NotFoundError(w, r, h.logger, err, "user not found")
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound:
		httperrors.NotFoundError(w, r, h.logger, err, "calendar not found")
	case errors.As(err, &statusErr):
		httperrors.BadGatewayError(w, r, h.logger, err)
	default:
		httperrors.InternalError(w, r, h.logger, err, "submit calendar configuration")
	}
}
