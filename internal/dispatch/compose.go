package dispatch

import "github.com/draftsend/draftsend/internal/email"

// Compose builds the outbound message for one batch. It has no side effects.
func Compose(draft Draft, directTo, cc string, batch Batch) email.Message {
	msg := email.Message{
		To:       []string{},
		Cc:       []string{},
		Bcc:      make([]string, len(batch.Addresses)),
		Subject:  draft.Subject,
		HTMLBody: draft.BodyHTML,
	}
	if directTo != "" {
		msg.To = append(msg.To, directTo)
	}
	if cc != "" {
		msg.Cc = append(msg.Cc, cc)
	}
	copy(msg.Bcc, batch.Addresses)
	return msg
}
