package email

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailConfig holds the configuration for the Gmail client.
type GmailConfig struct {
	// CredentialsJSON is the service account credentials JSON.
	CredentialsJSON string
	// SenderAddress is the email address emails are sent from.
	SenderAddress string
	// SenderName is the display name for the sender.
	SenderName string
}

// GmailClient sends mail and reads drafts through the Gmail API.
type GmailClient struct {
	service       *gmail.Service
	senderAddress string
	senderName    string
}

var gmailScopes = []string{gmail.GmailSendScope, gmail.GmailReadonlyScope}

// NewGmailClient creates a GmailClient from a service account with
// domain-wide delegation, impersonating the sender mailbox.
func NewGmailClient(ctx context.Context, cfg GmailConfig) (*GmailClient, error) {
	if cfg.CredentialsJSON == "" {
		return nil, fmt.Errorf("gmail: credentials JSON is required")
	}
	if cfg.SenderAddress == "" {
		return nil, fmt.Errorf("gmail: sender address is required")
	}

	jwtConfig, err := google.JWTConfigFromJSON([]byte(cfg.CredentialsJSON), gmailScopes...)
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to parse credentials: %w", err)
	}
	jwtConfig.Subject = cfg.SenderAddress

	return newGmailClient(ctx, cfg.SenderAddress, cfg.SenderName, option.WithHTTPClient(jwtConfig.Client(ctx)))
}

// NewGmailClientWithToken creates a GmailClient for a signed-in user. ts is
// typically a static source built from the login flow's access token.
func NewGmailClientWithToken(ctx context.Context, ts oauth2.TokenSource, senderAddress, senderName string) (*GmailClient, error) {
	return newGmailClient(ctx, senderAddress, senderName, option.WithTokenSource(ts))
}

func newGmailClient(ctx context.Context, senderAddress, senderName string, opts ...option.ClientOption) (*GmailClient, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to create service: %w", err)
	}
	return &GmailClient{
		service:       svc,
		senderAddress: senderAddress,
		senderName:    senderName,
	}, nil
}

// Send sends an email via the Gmail API. Gmail delivers to Bcc recipients
// and strips the header from the delivered copies.
func (g *GmailClient) Send(ctx context.Context, msg Message) error {
	raw := buildMIME(g.from(msg), msg)

	gmailMsg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
	}

	_, err := g.service.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
	if err != nil {
		return gmailError(err)
	}
	return nil
}

func (g *GmailClient) from(msg Message) string {
	addr := msg.From
	if addr == "" {
		addr = g.senderAddress
	}
	if addr == "" {
		return ""
	}
	if g.senderName != "" {
		return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", g.senderName), addr)
	}
	return addr
}

// errDraftFound stops draft paging once the exact subject matched
var errDraftFound = errors.New("draft found")

// FindDraft returns the draft whose Subject header matches subject. The
// search is by word so every result page is checked for an exact match.
func (g *GmailClient) FindDraft(ctx context.Context, subject string) (Draft, error) {
	var (
		found   Draft
		bodyErr error
	)
	err := g.service.Users.Drafts.List("me").Q(draftQuery(subject)).Pages(ctx, func(page *gmail.ListDraftsResponse) error {
		for _, d := range page.Drafts {
			full, err := g.service.Users.Drafts.Get("me", d.Id).Format("full").Context(ctx).Do()
			if err != nil {
				return gmailError(err)
			}
			if full.Message == nil || full.Message.Payload == nil {
				continue
			}
			if !strings.EqualFold(headerValue(full.Message.Payload, "Subject"), subject) {
				continue
			}
			body, err := draftBody(full.Message.Payload)
			if err != nil {
				bodyErr = err
				return err
			}
			found = Draft{Subject: subject, HTMLBody: body}
			return errDraftFound
		}
		return nil
	})
	switch {
	case errors.Is(err, errDraftFound):
		return found, nil
	case bodyErr != nil:
		return Draft{}, bodyErr
	case err != nil:
		var te *TransportError
		if errors.As(err, &te) {
			return Draft{}, err
		}
		return Draft{}, gmailError(err)
	}
	return Draft{}, fmt.Errorf("%w: %q", ErrDraftNotFound, subject)
}

// draftQuery builds a Gmail search for drafts whose subject contains subject
// as a phrase
func draftQuery(subject string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(subject)
	return fmt.Sprintf(`in:drafts subject:"%s"`, escaped)
}

func headerValue(part *gmail.MessagePart, name string) string {
	for _, h := range part.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// draftBody prefers the text/html part and falls back to text/plain.
func draftBody(payload *gmail.MessagePart) (string, error) {
	if p := findPart(payload, "text/html"); p != nil {
		return decodePartData(p.Body.Data)
	}
	if p := findPart(payload, "text/plain"); p != nil {
		text, err := decodePartData(p.Body.Data)
		if err != nil {
			return "", err
		}
		return textToHTML(text), nil
	}
	return "", fmt.Errorf("gmail: draft has no text body")
}

func findPart(part *gmail.MessagePart, mimeType string) *gmail.MessagePart {
	if part == nil {
		return nil
	}
	if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
		return part
	}
	for _, child := range part.Parts {
		if found := findPart(child, mimeType); found != nil {
			return found
		}
	}
	return nil
}

func decodePartData(data string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", fmt.Errorf("gmail: failed to decode body: %w", err)
	}
	return string(decoded), nil
}

func gmailError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &TransportError{Provider: "gmail", StatusCode: gerr.Code, Body: gerr.Message, Err: err}
	}
	return &TransportError{Provider: "gmail", Err: err}
}

// buildMIME renders msg as an RFC 5322 message.
func buildMIME(from string, msg Message) string {
	headers := []string{}
	if from != "" {
		headers = append(headers, "From: "+from)
	}
	if len(msg.To) > 0 {
		headers = append(headers, "To: "+strings.Join(msg.To, ", "))
	}
	if len(msg.Cc) > 0 {
		headers = append(headers, "Cc: "+strings.Join(msg.Cc, ", "))
	}
	if len(msg.Bcc) > 0 {
		headers = append(headers, "Bcc: "+strings.Join(msg.Bcc, ", "))
	}
	headers = append(headers,
		"Subject: "+mime.QEncoding.Encode("utf-8", msg.Subject),
		"MIME-Version: 1.0",
	)

	var body []string
	if msg.HTMLBody != "" && msg.TextBody != "" {
		// Multipart alternative (HTML + text)
		boundary := "boundary_draftsend_email"
		body = []string{
			"Content-Type: multipart/alternative; boundary=" + boundary,
			"",
			"--" + boundary,
			"Content-Type: text/plain; charset=UTF-8",
			"Content-Transfer-Encoding: 8bit",
			"",
			msg.TextBody,
			"",
			"--" + boundary,
			"Content-Type: text/html; charset=UTF-8",
			"Content-Transfer-Encoding: 8bit",
			"",
			msg.HTMLBody,
			"",
			"--" + boundary + "--",
		}
	} else if msg.HTMLBody != "" {
		body = []string{
			"Content-Type: text/html; charset=UTF-8",
			"",
			msg.HTMLBody,
		}
	} else {
		body = []string{
			"Content-Type: text/plain; charset=UTF-8",
			"",
			msg.TextBody,
		}
	}

	return strings.Join(append(headers, body...), "\r\n")
}
