// Package calendar turns calendar events into timeline messages and mails
// invitations to event attendees.
package calendar

import (
	"github.com/jw6ventures/esn-calendar/internal/logging"
	"github.com/jw6ventures/esn-calendar/internal/mail"
	"github.com/jw6ventures/esn-calendar/internal/pubsub"
	"github.com/jw6ventures/esn-calendar/internal/store"
)

// Deps groups the collaborators of Service.
type Deps struct {
	Users          store.UserRepository
	Collaborations store.CollaborationRepository
	EventMessages  store.EventMessageRepository
	ModuleConfigs  store.ModuleConfigRepository

	// Local receives every timeline activity first; Global, when set, gets the
	// same payload afterwards.
	Local  *pubsub.Local
	Global pubsub.Publisher

	Mailer mail.Sender

	// WebserverPort is used to build the base URL when the tenant has none.
	WebserverPort string
	Logger        logging.Logger
}

type Service struct {
	users          store.UserRepository
	collaborations store.CollaborationRepository
	messages       store.EventMessageRepository
	configs        store.ModuleConfigRepository
	local          *pubsub.Local
	global         pubsub.Publisher
	mailer         mail.Sender
	webserverPort  string
	logger         logging.Logger
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	local := d.Local
	if local == nil {
		local = pubsub.NewLocal(logger)
	}
	return &Service{
		users:          d.Users,
		collaborations: d.Collaborations,
		messages:       d.EventMessages,
		configs:        d.ModuleConfigs,
		local:          local,
		global:         d.Global,
		mailer:         d.Mailer,
		webserverPort:  d.WebserverPort,
		logger:         logger,
	}
}
