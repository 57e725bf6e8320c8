package email

import (
	"context"
	"fmt"
	"sync"

	"gopkg.in/gomail.v2"
)

type Service interface {
	SendPasswordChanged(ctx context.Context, email string, username string) error
	SendAccountLocked(ctx context.Context, email string, username string, lockoutMinutes int) error
	SendCustom(ctx context.Context, to string, subject string, content string) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// dialer is satisfied by *gomail.Dialer.
type dialer interface {
	Dial() (gomail.SendCloser, error)
}

type smtpService struct {
	from   string
	dialer dialer
	mu     sync.Mutex
}

func NewSMTPService(cfg Config) Service {
	return &smtpService{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func newServiceWithDialer(from string, d dialer) *smtpService {
	return &smtpService{from: from, dialer: d}
}

func (s *smtpService) SendPasswordChanged(ctx context.Context, email string, username string) error {
	body := fmt.Sprintf(
		"Hello %s,\n\nThe password for your account was just changed.\n"+
			"If this was not you, reset your password and contact support.\n",
		username)
	return s.SendCustom(ctx, email, "Your password was changed", body)
}

func (s *smtpService) SendAccountLocked(ctx context.Context, email string, username string, lockoutMinutes int) error {
	body := fmt.Sprintf(
		"Hello %s,\n\nYour account was locked after too many failed sign-in attempts.\n"+
			"You can try again in %d minutes.\n",
		username, lockoutMinutes)
	return s.SendCustom(ctx, email, "Your account was locked", body)
}

func (s *smtpService) SendCustom(ctx context.Context, to string, subject string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", content)

	s.mu.Lock()
	defer s.mu.Unlock()

	sc, err := s.dialer.Dial()
	if err != nil {
		return fmt.Errorf("failed to connect to smtp server: %w", err)
	}
	defer sc.Close()

	if err := gomail.Send(sc, m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

type nopService struct{}

// NewNopService drops every message. Used when SMTP is disabled.
func NewNopService() Service {
	return nopService{}
}

func (nopService) SendPasswordChanged(context.Context, string, string) error { return nil }

func (nopService) SendAccountLocked(context.Context, string, string, int) error { return nil }

func (nopService) SendCustom(context.Context, string, string, string) error { return nil }
