// Package messaging delivers activity reminders to participants over SMS.
//
// The Service interface abstracts the delivery channel so handlers and the
// reminder sweep can be tested without a live Twilio account.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex strips everything that is not a digit during canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines the messaging operations the reminder path depends on.
type Service interface {
	// ValidateAndCanonicalizeRecipient normalizes a phone number and rejects
	// ones that cannot receive SMS.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)
	// SendMessage delivers a text message to the recipient.
	SendMessage(ctx context.Context, to string, body string) error
	// Stop shuts the service down; subsequent sends fail with ErrServiceStopped.
	Stop() error
}

// canonicalizeRecipient removes all non-numeric characters and validates the
// result has at least 6 digits.
func canonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if recipient != canonical {
		slog.Debug("messaging canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// ErrNotConfigured is returned by DisabledService sends.
var ErrNotConfigured = errors.New("SMS delivery is not configured")

// DisabledService stands in when no SMS credentials are configured: recipients
// still validate, sends fail.
type DisabledService struct{}

func (DisabledService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

func (DisabledService) SendMessage(ctx context.Context, to string, body string) error {
	return ErrNotConfigured
}

func (DisabledService) Stop() error { return nil }

// MockService records sent messages for tests.
type MockService struct {
	mu   sync.Mutex
	Sent []SentMessage
}

// SentMessage is one message recorded by MockService.
type SentMessage struct {
	To   string
	Body string
}

// NewMockService creates an in-memory messaging service for tests.
func NewMockService() *MockService {
	return &MockService{}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizeRecipient(recipient)
}

func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockService) Stop() error { return nil }
