package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
	"wohnwatch/config"
	"wohnwatch/models"
)

// EmailNotifier sends one mail per batch through an SMTP server.
type EmailNotifier struct {
	cfg     config.SMTPConfig
	timeout time.Duration
}

func NewEmailNotifier(cfg config.SMTPConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, timeout: 30 * time.Second}
}

// BuildMessage assembles the multipart mail without sending it.
func (n *EmailNotifier) BuildMessage(to string, listings []models.Listing) (*mail.Msg, error) {
	html, err := RenderHTML(listings)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}

	m := mail.NewMsg()
	if err := m.From(n.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", n.cfg.From, err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	m.Subject(Subject(len(listings)))
	m.SetBodyString(mail.TypeTextPlain, RenderText(listings))
	m.AddAlternativeString(mail.TypeTextHTML, html)
	return m, nil
}

func (n *EmailNotifier) Notify(ctx context.Context, to string, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	m, err := n.BuildMessage(to, listings)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(n.cfg.Host, n.clientOptions()...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (n *EmailNotifier) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithTimeout(n.timeout),
	}
	if n.cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if n.cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.User),
			mail.WithPassword(n.cfg.Password),
		)
	}
	return opts
}
