package email

import (
	"context"
	"errors"
	"fmt"
)

// Sender is the interface that all email transports must implement.
// One call submits one message; implementations never retry.
type Sender interface {
	// Send submits a single message to the provider.
	Send(ctx context.Context, msg Message) error
}

// Message represents an outbound email message.
// To may be empty as long as Bcc carries recipients.
type Message struct {
	From     string   // optional sender override
	To       []string // primary recipients
	Cc       []string // carbon-copy recipients
	Bcc      []string // blind carbon-copy recipients
	Subject  string   // email subject
	HTMLBody string   // HTML email body
	TextBody string   // plain-text fallback body
}

// RecipientCount returns the number of addresses across To, Cc and Bcc.
func (m Message) RecipientCount() int {
	return len(m.To) + len(m.Cc) + len(m.Bcc)
}

// ErrDraftNotFound is returned by draft finders when no draft matches the subject.
var ErrDraftNotFound = errors.New("draft not found")

// TransportError reports a provider rejection or a transport-level failure.
type TransportError struct {
	Provider   string
	StatusCode int    // provider status, 0 when the call never got a response
	Body       string // provider response body, if any
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	default:
		return e.Provider + ": send failed"
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
