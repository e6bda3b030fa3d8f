package notify

import (
	"context"

	"github.com/go-faster/errors"
	mail "github.com/wneessen/go-mail"
)

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// RequireTLS fails instead of falling back to plaintext.
	RequireTLS bool
}

// SMTPSender delivers mail over SMTP.
type SMTPSender struct {
	client *mail.Client
	from   string
}

// NewSMTPSender builds a sender. Authentication is enabled when a username
// is configured.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp: host and from are required")
	}
	policy := mail.TLSOpportunistic
	if cfg.RequireTLS {
		policy = mail.TLSMandatory
	}
	opts := []mail.Option{mail.WithTLSPortPolicy(policy)}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "smtp client")
	}
	return &SMTPSender{client: client, from: cfg.From}, nil
}

// Send implements common.EmailSender.
func (s *SMTPSender) Send(ctx context.Context, to, subject, html string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return errors.Wrap(err, "smtp from")
	}
	if err := msg.To(to); err != nil {
		return errors.Wrap(err, "smtp to")
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, html)
	return s.client.DialAndSendWithContext(ctx, msg)
}
