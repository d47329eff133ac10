// Package mail is the outbound mail capability used by the dispatcher.
package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ignite/phishsim/internal/config"
	"github.com/ignite/phishsim/internal/pkg/logger"
)

// Mailer sends one rendered message. A returned error is a transient,
// per-recipient failure; callers record it and move on.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// ErrNotConfigured is returned by a mailer that lacks credentials.
var ErrNotConfigured = errors.New("mailer not configured")

// New builds the mailer selected by cfg.Provider.
func New(ctx context.Context, cfg config.MailConfig) (Mailer, error) {
	switch cfg.Provider {
	case "ses":
		return NewSESMailer(ctx, cfg)
	case "log", "":
		return NewLogMailer(), nil
	}
	return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
}

// Sent is one message accepted by a LogMailer.
type Sent struct {
	To      string
	Subject string
	HTML    string
}

// LogMailer accepts every message, logs it and keeps it in memory. It is the
// development and test default.
type LogMailer struct {
	mu   sync.Mutex
	sent []Sent
	// Fail, when set, decides per recipient whether the send fails.
	Fail func(to string) error
}

// NewLogMailer creates an empty LogMailer.
func NewLogMailer() *LogMailer { return &LogMailer{} }

func (m *LogMailer) Send(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Fail != nil {
		if err := m.Fail(to); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.sent = append(m.sent, Sent{To: to, Subject: subject, HTML: html})
	m.mu.Unlock()
	logger.Info("mail accepted", "to", to, "subject", subject)
	return nil
}

// Sent returns a copy of every accepted message.
func (m *LogMailer) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}
