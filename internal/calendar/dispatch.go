package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"

	"github.com/jw6ventures/esn-calendar/internal/metrics"
	"github.com/jw6ventures/esn-calendar/internal/pubsub"
	"github.com/jw6ventures/esn-calendar/internal/store"
)

const (
	EventCreated = "created"
	EventUpdated = "updated"

	VerbPost   = "post"
	VerbUpdate = "update"

	// DispatchExchange is the queue relaying dispatch requests from other services.
	DispatchExchange = "calendar:events"
)

var (
	ErrInvalidType          = errors.New("invalid type specified")
	ErrEventMessageNotFound = errors.New("could not find matching event message")

	ErrDataMissing          = errors.New("data is missing")
	ErrInvalidUser          = errors.New("invalid user specified")
	ErrInvalidCollaboration = errors.New("invalid collaboration specified")
	ErrInvalidEvent         = errors.New("invalid event specified")
	errMissingCollaboration = errors.New("missing collaboration")
)

// UserRef is either a user id or a resolved user.
type UserRef struct {
	ID   string
	User *store.User
}

type userDoc struct {
	ID        string   `json:"_id"`
	Firstname string   `json:"firstname"`
	Lastname  string   `json:"lastname"`
	Emails    []string `json:"emails"`
}

func (r *UserRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var doc userDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode user: %w", err)
	}
	r.User = &store.User{ID: doc.ID, Firstname: doc.Firstname, Lastname: doc.Lastname, Emails: doc.Emails}
	return nil
}

func (r *UserRef) empty() bool {
	return r == nil || (r.ID == "" && r.User == nil)
}

// CollaborationRef is either a collaboration id or a resolved collaboration.
type CollaborationRef struct {
	ID            string
	Collaboration *store.Collaboration
}

type collaborationDoc struct {
	ID             string `json:"_id"`
	ObjectType     string `json:"objectType"`
	Title          string `json:"title"`
	Creator        string `json:"creator"`
	ActivityStream struct {
		UUID string `json:"uuid"`
	} `json:"activity_stream"`
}

func (r *CollaborationRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var doc collaborationDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode collaboration: %w", err)
	}
	r.Collaboration = &store.Collaboration{
		ID:                 doc.ID,
		ObjectType:         doc.ObjectType,
		Title:              doc.Title,
		CreatorID:          doc.Creator,
		ActivityStreamUUID: doc.ActivityStream.UUID,
	}
	return nil
}

func (r *CollaborationRef) empty() bool {
	return r == nil || (r.ID == "" && r.Collaboration == nil)
}

// EventData identifies the calendar event and what happened to it.
type EventData struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	ICS     string `json:"event,omitempty"`
}

// DispatchRequest is the payload accepted by Dispatch, over HTTP or from the queue.
// ObjectType is required when Collaboration is only an id.
type DispatchRequest struct {
	User          *UserRef          `json:"user"`
	Collaboration *CollaborationRef `json:"collaboration"`
	ObjectType    string            `json:"objectType,omitempty"`
	Event         *EventData        `json:"event"`
}

type ActivityActor struct {
	ObjectType  string `json:"objectType"`
	ID          string `json:"_id"`
	DisplayName string `json:"displayName"`
}

type ActivityObject struct {
	ObjectType string `json:"objectType"`
	ID         string `json:"_id"`
	EventID    string `json:"eventId"`
}

type ActivityTarget struct {
	ObjectType string `json:"objectType"`
	ID         string `json:"_id"`
}

// TimelineActivity is published on pubsub.TopicMessageActivity.
type TimelineActivity struct {
	Verb      string           `json:"verb"`
	Language  string           `json:"language"`
	Published time.Time        `json:"published"`
	Actor     ActivityActor    `json:"actor"`
	Object    ActivityObject   `json:"object"`
	Targets   []ActivityTarget `json:"target"`
}

func newActivity(msg *store.EventMessage, verb string, user *store.User, published time.Time) TimelineActivity {
	targets := make([]ActivityTarget, 0, len(msg.Shares))
	for _, s := range msg.Shares {
		targets = append(targets, ActivityTarget{ObjectType: s.ObjectType, ID: s.ID})
	}
	return TimelineActivity{
		Verb:      verb,
		Language:  "en",
		Published: published,
		Actor:     ActivityActor{ObjectType: "user", ID: user.ID, DisplayName: user.DisplayName()},
		Object:    ActivityObject{ObjectType: "event", ID: msg.ID, EventID: msg.EventID},
		Targets:   targets,
	}
}

// Dispatch validates req, resolves its user and collaboration and applies the
// event. None is returned when the user may not write to the collaboration.
func (s *Service) Dispatch(ctx context.Context, req *DispatchRequest) (mo.Option[*store.EventMessage], error) {
	none := mo.None[*store.EventMessage]()
	if req == nil {
		return none, ErrDataMissing
	}
	if req.User.empty() {
		return none, ErrInvalidUser
	}
	if req.Collaboration.empty() {
		return none, ErrInvalidCollaboration
	}
	if req.Event == nil || req.Event.EventID == "" {
		return none, ErrInvalidEvent
	}

	user, collaboration, err := s.resolve(ctx, req)
	if err != nil {
		metrics.IncDispatch(req.Event.Type, "error")
		return none, fmt.Errorf("error dispatching event: %w", err)
	}

	var (
		result  mo.Option[*store.EventMessage]
		outcome string
	)
	switch req.Event.Type {
	case EventCreated:
		result, err = s.create(ctx, user, collaboration, req.Event)
		outcome = "created"
		if err == nil && result.IsAbsent() {
			outcome = "denied"
		}
	case EventUpdated:
		result, err = s.update(ctx, user, req.Event)
		outcome = "updated"
	default:
		err = ErrInvalidType
	}
	if err != nil {
		metrics.IncDispatch(req.Event.Type, "error")
		return none, err
	}
	metrics.IncDispatch(req.Event.Type, outcome)
	return result, nil
}

func (s *Service) resolve(ctx context.Context, req *DispatchRequest) (*store.User, *store.Collaboration, error) {
	var (
		user          *store.User
		collaboration *store.Collaboration
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if req.User.User != nil {
			user = req.User.User
			return nil
		}
		u, err := s.users.GetByID(gctx, req.User.ID)
		if err != nil {
			return fmt.Errorf("get user %s: %w", req.User.ID, err)
		}
		user = u
		return nil
	})
	g.Go(func() error {
		if req.Collaboration.Collaboration != nil {
			collaboration = req.Collaboration.Collaboration
			return nil
		}
		if req.ObjectType == "" {
			return errMissingCollaboration
		}
		c, err := s.collaborations.QueryOne(gctx, req.ObjectType, req.Collaboration.ID)
		if err != nil {
			return fmt.Errorf("get %s %s: %w", req.ObjectType, req.Collaboration.ID, err)
		}
		collaboration = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return user, collaboration, nil
}

func (s *Service) create(ctx context.Context, user *store.User, collaboration *store.Collaboration, event *EventData) (mo.Option[*store.EventMessage], error) {
	none := mo.None[*store.EventMessage]()
	allowed, err := s.collaborations.CanWrite(ctx, collaboration, user.ID)
	if err != nil {
		return none, fmt.Errorf("check write permission: %w", err)
	}
	if !allowed {
		s.logger.Info("calendar dispatcher: user may not write to collaboration",
			"user", user.ID, "collaboration", collaboration.ID)
		return none, nil
	}

	saved, err := s.messages.Save(ctx, store.EventMessage{
		EventID:  event.EventID,
		AuthorID: user.ID,
		Shares:   []store.Share{{ObjectType: "activitystream", ID: collaboration.ActivityStreamUUID}},
	})
	if err != nil {
		return none, fmt.Errorf("save event message: %w", err)
	}

	published := saved.CreatedAt
	if published.IsZero() {
		published = time.Now().UTC()
	}
	s.publish(ctx, newActivity(saved, VerbPost, user, published))
	return mo.Some(saved), nil
}

func (s *Service) update(ctx context.Context, user *store.User, event *EventData) (mo.Option[*store.EventMessage], error) {
	none := mo.None[*store.EventMessage]()
	msg, err := s.messages.FindByEventID(ctx, event.EventID)
	if errors.Is(err, store.ErrNotFound) {
		return none, ErrEventMessageNotFound
	}
	if err != nil {
		return none, fmt.Errorf("find event message: %w", err)
	}
	s.publish(ctx, newActivity(msg, VerbUpdate, user, time.Now().UTC()))
	return mo.Some(msg), nil
}

// publish never fails the dispatch: the message is already stored.
func (s *Service) publish(ctx context.Context, activity TimelineActivity) {
	if err := s.local.Forward(ctx, pubsub.TopicMessageActivity, activity, s.global); err != nil {
		s.logger.Error("calendar dispatcher: publish timeline activity", "verb", activity.Verb, "err", err)
	}
}

// HandleDispatchMessage consumes one request relayed on DispatchExchange.
func (s *Service) HandleDispatchMessage(ctx context.Context, payload []byte) {
	ctx = metrics.WithRoute(ctx, "dispatch_queue")
	var req DispatchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Warn("calendar dispatcher: undecodable queue message ignored", "err", err)
		return
	}
	result, err := s.Dispatch(ctx, &req)
	if err != nil {
		s.logger.Error("calendar dispatcher: queue message failed", "err", err)
		return
	}
	if msg, ok := result.Get(); ok {
		s.logger.Debug("calendar dispatcher: queue message applied", "event", msg.EventID, "message", msg.ID)
	}
}
