package mail

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"

	gomail "github.com/wneessen/go-mail"

	"github.com/jw6ventures/esn-calendar/internal/config"
	"github.com/jw6ventures/esn-calendar/internal/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Alternative is an extra representation of the message body.
type Alternative struct {
	ContentType string
	Content     string
	Base64      bool
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     string
}

// Message is one outbound mail. Data is rendered with the named HTML template.
type Message struct {
	From         string
	To           string
	Subject      string
	Template     string
	Data         any
	Alternatives []Alternative
	Attachments  []Attachment
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SMTPSender delivers through an SMTP relay.
type SMTPSender struct {
	client dialer
	logger logging.Logger
}

// NewSMTPSender builds a sender for the relay in cfg.SMTP. Authentication is
// used only when a username is configured.
func NewSMTPSender(cfg *config.Config, logger logging.Logger) (*SMTPSender, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.SMTP.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.SMTP.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.SMTP.Username),
			gomail.WithPassword(cfg.SMTP.Password),
		)
	}
	client, err := gomail.NewClient(cfg.SMTP.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &SMTPSender{client: client, logger: logger}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := buildMsg(msg)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	s.logger.Debug("mail: message sent", "to", msg.To, "template", msg.Template)
	return nil
}

func buildMsg(msg Message) (*gomail.Msg, error) {
	if msg.From == "" || msg.To == "" {
		return nil, errors.New("mail: sender and recipient are required")
	}

	m := gomail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("mail: invalid sender %q: %w", msg.From, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("mail: invalid recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)

	if msg.Template != "" {
		tpl := templates.Lookup(msg.Template)
		if tpl == nil {
			return nil, fmt.Errorf("mail: unknown template %q", msg.Template)
		}
		if err := m.SetBodyHTMLTemplate(tpl, msg.Data); err != nil {
			return nil, fmt.Errorf("mail: render %s: %w", msg.Template, err)
		}
	}

	for _, alt := range msg.Alternatives {
		var opts []gomail.PartOption
		if alt.Base64 {
			opts = append(opts, gomail.WithPartEncoding(gomail.EncodingB64))
		}
		m.AddAlternativeString(gomail.ContentType(alt.ContentType), alt.Content, opts...)
	}

	for _, att := range msg.Attachments {
		var opts []gomail.FileOption
		if att.ContentType != "" {
			opts = append(opts, gomail.WithFileContentType(gomail.ContentType(att.ContentType)))
		}
		if err := m.AttachReader(att.Filename, strings.NewReader(att.Content), opts...); err != nil {
			return nil, fmt.Errorf("mail: attach %s: %w", att.Filename, err)
		}
	}
	return m, nil
}
