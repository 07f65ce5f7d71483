package email

import (
	"context"
	"fmt"
	"html"
	"os"
	"strings"
)

// Draft is a pre-composed message found in a mailbox or on disk.
type Draft struct {
	Subject  string
	HTMLBody string
}

// DraftFinder locates a draft by its subject.
type DraftFinder interface {
	// FindDraft returns the first draft whose subject matches, or ErrDraftNotFound.
	FindDraft(ctx context.Context, subject string) (Draft, error)
}

// FileDraftSource serves a draft body from a local HTML file. It is used by
// transports that have no mailbox to search (SMTP, Resend, SES).
type FileDraftSource struct {
	Path string
}

// FindDraft reads the body file. The subject is taken as given.
func (f FileDraftSource) FindDraft(ctx context.Context, subject string) (Draft, error) {
	if f.Path == "" {
		return Draft{}, fmt.Errorf("%w: no body file configured", ErrDraftNotFound)
	}
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return Draft{}, fmt.Errorf("%w: %s", ErrDraftNotFound, f.Path)
	}
	if err != nil {
		return Draft{}, fmt.Errorf("failed to read draft body: %w", err)
	}

	body := string(data)
	if !strings.HasSuffix(strings.ToLower(f.Path), ".html") && !strings.HasSuffix(strings.ToLower(f.Path), ".htm") {
		body = textToHTML(body)
	}
	return Draft{Subject: subject, HTMLBody: body}, nil
}

// textToHTML wraps a plain-text body so it survives an HTML content type.
func textToHTML(text string) string {
	return "<pre>" + html.EscapeString(text) + "</pre>"
}
