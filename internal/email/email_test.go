package email

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportError(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	tests := []struct {
		err  *TransportError
		want string
	}{
		{&TransportError{Provider: "graph", StatusCode: 403, Body: "denied"}, "graph: status 403: denied"},
		{&TransportError{Provider: "graph", StatusCode: 500}, "graph: status 500"},
		{&TransportError{Provider: "smtp", Err: base}, "smtp: dial tcp: connection refused"},
		{&TransportError{Provider: "ses"}, "ses: send failed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
	assert.ErrorIs(t, &TransportError{Provider: "smtp", Err: base}, base)
}

func TestMessageRecipientCount(t *testing.T) {
	msg := Message{To: []string{"a"}, Cc: []string{"b"}, Bcc: []string{"c", "d"}}
	assert.Equal(t, 4, msg.RecipientCount())
}

func TestFileDraftSource(t *testing.T) {
	dir := t.TempDir()
	htmlPath := filepath.Join(dir, "body.html")
	textPath := filepath.Join(dir, "body.txt")
	require.NoError(t, os.WriteFile(htmlPath, []byte("<p>hello</p>"), 0o600))
	require.NoError(t, os.WriteFile(textPath, []byte("a & b"), 0o600))

	draft, err := FileDraftSource{Path: htmlPath}.FindDraft(context.Background(), "Subject")
	require.NoError(t, err)
	assert.Equal(t, Draft{Subject: "Subject", HTMLBody: "<p>hello</p>"}, draft)

	draft, err = FileDraftSource{Path: textPath}.FindDraft(context.Background(), "Subject")
	require.NoError(t, err)
	assert.Equal(t, "<pre>a &amp; b</pre>", draft.HTMLBody)

	_, err = FileDraftSource{Path: filepath.Join(dir, "missing.html")}.FindDraft(context.Background(), "s")
	assert.ErrorIs(t, err, ErrDraftNotFound)

	_, err = FileDraftSource{}.FindDraft(context.Background(), "s")
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestResendRequest_PureBCC(t *testing.T) {
	s, err := NewResendSender("re_test", "news@example.com")
	require.NoError(t, err)

	req := s.request(Message{Bcc: []string{"a@example.com"}, Subject: "s", HTMLBody: "b"})
	assert.Equal(t, "news@example.com", req.From)
	assert.Equal(t, []string{"news@example.com"}, req.To)
	assert.Equal(t, []string{"a@example.com"}, req.Bcc)

	_, err = NewResendSender("", "news@example.com")
	assert.Error(t, err)
}

func TestSESInput(t *testing.T) {
	s := &SESSender{from: "news@example.com"}
	in := s.input(Message{
		Cc:       []string{"cc@example.com"},
		Bcc:      []string{"a@example.com", "b@example.com"},
		Subject:  "s",
		HTMLBody: "<p>b</p>",
	})

	assert.Equal(t, "news@example.com", *in.FromEmailAddress)
	assert.Empty(t, in.Destination.ToAddresses)
	assert.Equal(t, []string{"cc@example.com"}, in.Destination.CcAddresses)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, in.Destination.BccAddresses)
	assert.Equal(t, "<p>b</p>", *in.Content.Simple.Body.Html.Data)
	assert.Nil(t, in.Content.Simple.Body.Text)
}

func TestSMTPSender(t *testing.T) {
	_, err := NewSMTPSender(SMTPConfig{From: "a@example.com"})
	assert.Error(t, err)

	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "news@example.com", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, 587, s.cfg.Port)

	_, err = s.buildMsg(Message{Bcc: []string{"a@example.com"}, Subject: "s", HTMLBody: "b"})
	assert.NoError(t, err)

	_, err = s.buildMsg(Message{Bcc: []string{"not an address"}, Subject: "s"})
	assert.Error(t, err)

	assert.NotEmpty(t, s.options())
}
