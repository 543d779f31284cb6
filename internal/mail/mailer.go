package mail

import (
	"github.com/remiv1/parapheur/internal/config"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Mailer dispatches outbound notifications. Callers log failures and carry
// on: mail is best-effort everywhere in the signing flow.
type Mailer interface {
	Send(to, subject, htmlBody string, attachments ...string) error
}

// SMTPMailer sends through the configured SMTP relay.
type SMTPMailer struct {
	cfg    config.MailConfig
	logger *zap.Logger
}

// NewMailer returns the SMTP implementation when mail is enabled, otherwise
// the logging no-op.
func NewMailer(cfg config.MailConfig, logger *zap.Logger) Mailer {
	if !cfg.Enabled {
		return &NopMailer{logger: logger.With(zap.String("mailer", "nop"))}
	}
	return &SMTPMailer{cfg: cfg, logger: logger.With(zap.String("mailer", "smtp"))}
}

func (m *SMTPMailer) Send(to, subject, htmlBody string, attachments ...string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)
	for _, path := range attachments {
		msg.Attach(path)
	}

	dialer := gomail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password)
	if err := dialer.DialAndSend(msg); err != nil {
		return err
	}

	m.logger.Info("Mail dispatched", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// NopMailer logs instead of sending. Used in development and tests.
type NopMailer struct {
	logger *zap.Logger
}

func (m *NopMailer) Send(to, subject, htmlBody string, attachments ...string) error {
	m.logger.Info("Mail suppressed (mail disabled)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("attachments", len(attachments)))
	return nil
}
