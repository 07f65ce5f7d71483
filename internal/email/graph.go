package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// DefaultGraphBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

const maxErrorBody = 4 << 10

// GraphConfig holds the configuration for the Microsoft Graph client.
type GraphConfig struct {
	// BaseURL defaults to DefaultGraphBaseURL.
	BaseURL string
	// Account sends as users/{Account} instead of the signed-in user.
	Account string
	// SaveToSentItems keeps a copy of every batch in Sent Items.
	SaveToSentItems bool
}

// GraphClient sends mail and searches drafts through Microsoft Graph.
type GraphClient struct {
	http     *http.Client
	mailbox  string
	saveSent bool
}

// NewGraphClient creates a GraphClient authenticating with ts.
func NewGraphClient(ctx context.Context, ts oauth2.TokenSource, cfg GraphConfig) *GraphClient {
	return newGraphClient(oauth2.NewClient(ctx, ts), cfg)
}

func newGraphClient(client *http.Client, cfg GraphConfig) *GraphClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultGraphBaseURL
	}
	mailbox := base + "/me"
	if cfg.Account != "" {
		mailbox = base + "/users/" + url.PathEscape(cfg.Account)
	}
	return &GraphClient{
		http:     client,
		mailbox:  mailbox,
		saveSent: cfg.SaveToSentItems,
	}
}

type graphAddress struct {
	Address string `json:"address"`
}

type graphRecipient struct {
	EmailAddress graphAddress `json:"emailAddress"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphMessage struct {
	Subject       string           `json:"subject"`
	Body          graphBody        `json:"body"`
	ToRecipients  []graphRecipient `json:"toRecipients"`
	CcRecipients  []graphRecipient `json:"ccRecipients"`
	BccRecipients []graphRecipient `json:"bccRecipients"`
}

type graphSendMail struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

func graphRecipients(addrs []string) []graphRecipient {
	out := make([]graphRecipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, graphRecipient{EmailAddress: graphAddress{Address: a}})
	}
	return out
}

// Send posts msg to the sendMail action. Graph answers 202 Accepted on success.
func (g *GraphClient) Send(ctx context.Context, msg Message) error {
	payload := graphSendMail{
		Message: graphMessage{
			Subject:       msg.Subject,
			Body:          graphBody{ContentType: "HTML", Content: msg.HTMLBody},
			ToRecipients:  graphRecipients(msg.To),
			CcRecipients:  graphRecipients(msg.Cc),
			BccRecipients: graphRecipients(msg.Bcc),
		},
		SaveToSentItems: g.saveSent,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("graph: failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.mailbox+"/sendMail", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("graph: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return &TransportError{Provider: "graph", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &TransportError{Provider: "graph", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}

type graphMessageList struct {
	Value []struct {
		Subject string    `json:"subject"`
		Body    graphBody `json:"body"`
	} `json:"value"`
}

// FindDraft searches the mailbox for a draft with exactly this subject.
func (g *GraphClient) FindDraft(ctx context.Context, subject string) (Draft, error) {
	filter := fmt.Sprintf("subject eq '%s' and isDraft eq true", strings.ReplaceAll(subject, "'", "''"))
	endpoint := g.mailbox + "/messages?$filter=" + url.QueryEscape(filter) + "&$select=subject,body&$top=1"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Draft{}, fmt.Errorf("graph: failed to create request: %w", err)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return Draft{}, &TransportError{Provider: "graph", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Draft{}, &TransportError{Provider: "graph", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var list graphMessageList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return Draft{}, fmt.Errorf("graph: failed to decode drafts: %w", err)
	}
	if len(list.Value) == 0 {
		return Draft{}, fmt.Errorf("%w: %q", ErrDraftNotFound, subject)
	}

	found := list.Value[0]
	body := found.Body.Content
	if strings.EqualFold(found.Body.ContentType, "text") {
		body = textToHTML(body)
	}
	return Draft{Subject: found.Subject, HTMLBody: body}, nil
}
