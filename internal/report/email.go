package report

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/wneessen/go-mail"
)

type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

// Email sends the summary as a plain-text letter over SMTP.
type Email struct {
	cfg EmailConfig
}

func NewEmail(cfg EmailConfig) *Email {
	return &Email{cfg: cfg}
}

func (e *Email) message(s Summary) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(e.cfg.From); err != nil {
		return nil, fmt.Errorf("email from: %w", err)
	}
	if err := m.To(e.cfg.To); err != nil {
		return nil, fmt.Errorf("email to: %w", err)
	}
	m.Subject(fmt.Sprintf("Отчет о проверке дней рождения %s", s.At.Format("02.01.2006 15:04")))
	m.SetBodyString(mail.TypeTextPlain, FormatSummary(s))
	return m, nil
}

func (e *Email) Report(ctx context.Context, s Summary) error {
	m, err := e.message(s)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(e.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTLSConfig(&tls.Config{ServerName: e.cfg.Host}),
	}
	if e.cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.cfg.User),
			mail.WithPassword(e.cfg.Password),
		)
	}
	client, err := mail.NewClient(e.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client (host=%s port=%d): %w", e.cfg.Host, e.cfg.Port, err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send (host=%s port=%d): %w", e.cfg.Host, e.cfg.Port, err)
	}
	return nil
}
