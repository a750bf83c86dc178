// Package mailer delivers one-time codes to account email addresses.
package mailer

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"github.com/caarlos0/env/v11"
	apperrors "github.com/olympstage/olympstage/internal/platform/errors"
	"github.com/olympstage/olympstage/internal/services/auth/storage"
)

// ErrNotConfigured indicates no delivery backend is available.
var ErrNotConfigured = apperrors.New(apperrors.CodeEmailServiceNotConfigured,
	"email delivery is not configured")

// Sender delivers a one-time code for the given purpose.
type Sender interface {
	Send(ctx context.Context, to, purpose, code string) error
}

// Config controls SMTP delivery.
type Config struct {
	Host     string `env:"OLYMPSTAGE_SMTP_HOST"`
	Port     int    `env:"OLYMPSTAGE_SMTP_PORT" envDefault:"587"`
	Username string `env:"OLYMPSTAGE_SMTP_USERNAME"`
	Password string `env:"OLYMPSTAGE_SMTP_PASSWORD"`
	From     string `env:"OLYMPSTAGE_SMTP_FROM"`
}

// LoadConfigFromEnv loads SMTP configuration. An empty host means delivery
// falls back to the log sender.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	return cfg
}

// FromEnv returns the sender the environment selects: SMTP when a host is
// configured, otherwise log-only delivery for local development.
func FromEnv() Sender {
	cfg := LoadConfigFromEnv()
	if cfg.Host == "" {
		return LogSender{}
	}
	return &SMTPSender{config: cfg}
}

// SMTPSender delivers codes through a plain SMTP relay.
type SMTPSender struct {
	config Config

	// sendMail is swapped in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender builds a sender for the relay in config.
func NewSMTPSender(config Config) *SMTPSender {
	return &SMTPSender{config: config}
}

func (s *SMTPSender) Send(ctx context.Context, to, purpose, code string) error {
	if s.config.Host == "" || s.config.From == "" {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, intro := purposeCopy(purpose)
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n%s\r\n", intro, code)

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}
	send := s.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	if err := send(addr, auth, s.config.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// LogSender writes codes to the process log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(_ context.Context, to, purpose, code string) error {
	log.Printf("[AUTH] mail to %s purpose=%s code=%s", to, purpose, code)
	return nil
}

func purposeCopy(purpose string) (subject, intro string) {
	switch purpose {
	case storage.OTPPurposeResetPassword:
		return "Reset your password", "Use this code to reset your password:"
	case storage.OTPPurposeChangeEmail:
		return "Confirm your new email", "Use this code to confirm your new email address:"
	default:
		return "Verify your email", "Use this code to verify your email address:"
	}
}
