// Package mail sends transactional email through Resend.
package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// ErrNotConfigured is returned by Send when no API key is set.
var ErrNotConfigured = errors.New("mail service not configured")

// Message is one outbound HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers messages. Configured reports whether Send can succeed at
// all, letting callers distinguish a missing setup from a delivery failure.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
	Configured() bool
}

// Resend is a Mailer backed by the Resend HTTP API.
type Resend struct {
	client *resend.Client
	from   string
}

// NewResend returns a Resend mailer. An empty apiKey yields a mailer whose
// Send always fails with ErrNotConfigured.
func NewResend(apiKey, from string) *Resend {
	m := &Resend{from: from}
	if apiKey != "" {
		m.client = resend.NewClient(apiKey)
	}
	return m
}

func (m *Resend) Configured() bool { return m.client != nil }

func (m *Resend) Send(ctx context.Context, msg Message) error {
	if m.client == nil {
		return ErrNotConfigured
	}
	req := &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	}
	if _, err := m.client.Emails.SendWithContext(ctx, req); err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}
