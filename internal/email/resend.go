package email

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// ResendSender sends emails via the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

// NewResendSender creates a new ResendSender with the given API key and default from address.
func NewResendSender(apiKey, from string) (*ResendSender, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend: API key is required")
	}
	if from == "" {
		return nil, fmt.Errorf("resend: from address is required")
	}
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
	}, nil
}

// Send sends a single email via Resend.
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	params := s.request(msg)
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return &TransportError{Provider: "resend", Err: err}
	}
	return nil
}

func (s *ResendSender) request(msg Message) *resend.SendEmailRequest {
	from := msg.From
	if from == "" {
		from = s.from
	}

	// Resend rejects an empty "to"; a pure-BCC blast is addressed to the sender.
	to := msg.To
	if len(to) == 0 {
		to = []string{from}
	}

	return &resend.SendEmailRequest{
		From:    from,
		To:      to,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		Subject: msg.Subject,
		Html:    msg.HTMLBody,
		Text:    msg.TextBody,
	}
}
