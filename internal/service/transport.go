package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/draftsend/draftsend/internal/auth"
	"github.com/draftsend/draftsend/internal/config"
	"github.com/draftsend/draftsend/internal/email"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// ErrCredentialRequired is returned when a provider needs a signed-in account
var ErrCredentialRequired = errors.New("provider requires a signed-in credential")

// Transport pairs the sender of a run with the place its draft is read from
type Transport struct {
	Provider string
	Sender   email.Sender
	Drafts   email.DraftFinder
}

// TransportFactory builds the transport for a credential
type TransportFactory func(ctx context.Context, cred *auth.Credential) (*Transport, error)

// NewTransportFactory returns a factory selecting the transport by email.provider
func NewTransportFactory(cfg *config.Config) TransportFactory {
	return func(ctx context.Context, cred *auth.Credential) (*Transport, error) {
		return NewTransport(ctx, cfg, cred)
	}
}

// NeedsCredential reports whether cfg's provider must be given a signed-in
// credential before a run can start
func NeedsCredential(cfg *config.Config) bool {
	switch cfg.Email.Provider {
	case config.ProviderGraph:
		return true
	case config.ProviderGmail:
		return cfg.Email.Gmail.RefreshToken == "" && cfg.Email.Gmail.CredentialsJSON == ""
	case config.ProviderSMTP:
		return cfg.Auth.Flow == auth.FlowAppPassword
	default:
		return false
	}
}

// NewTransport builds the sender and draft source for cfg.Email.Provider.
// Mailbox providers (graph, gmail) read drafts from the mailbox; the others
// read the HTML body from email.body_file.
func NewTransport(ctx context.Context, cfg *config.Config, cred *auth.Credential) (*Transport, error) {
	ec := cfg.Email
	files := email.FileDraftSource{Path: ec.BodyFile}

	switch ec.Provider {
	case config.ProviderGraph:
		if cred == nil || cred.AccessToken == "" {
			return nil, fmt.Errorf("graph: %w", ErrCredentialRequired)
		}
		client := email.NewGraphClient(ctx, cred.TokenSource(), email.GraphConfig{
			BaseURL:         ec.Graph.BaseURL,
			Account:         ec.From,
			SaveToSentItems: ec.Graph.SaveToSentItems,
		})
		return &Transport{Provider: ec.Provider, Sender: client, Drafts: client}, nil

	case config.ProviderGmail:
		client, err := newGmailTransport(ctx, ec, cred)
		if err != nil {
			return nil, err
		}
		return &Transport{Provider: ec.Provider, Sender: client, Drafts: client}, nil

	case config.ProviderSMTP:
		smtpCfg := email.SMTPConfig{
			Host:     ec.SMTP.Host,
			Port:     ec.SMTP.Port,
			From:     ec.From,
			FromName: ec.FromName,
			TLS:      ec.SMTP.TLS != "opportunistic",
			Timeout:  ec.SMTP.Timeout,
		}
		if cred != nil {
			smtpCfg.Username = cred.Username
			smtpCfg.Password = cred.Password
		}
		sender, err := email.NewSMTPSender(smtpCfg)
		if err != nil {
			return nil, err
		}
		return &Transport{Provider: ec.Provider, Sender: sender, Drafts: files}, nil

	case config.ProviderResend:
		sender, err := email.NewResendSender(ec.Resend.APIKey, ec.From)
		if err != nil {
			return nil, err
		}
		return &Transport{Provider: ec.Provider, Sender: sender, Drafts: files}, nil

	case config.ProviderSES:
		sender, err := email.NewSESSender(ctx, email.SESConfig{
			Region:    ec.SES.Region,
			AccessKey: ec.SES.AccessKey,
			SecretKey: ec.SES.SecretKey,
			From:      ec.From,
		})
		if err != nil {
			return nil, err
		}
		return &Transport{Provider: ec.Provider, Sender: sender, Drafts: files}, nil

	default:
		return nil, fmt.Errorf("unknown email provider %q", ec.Provider)
	}
}

// newGmailTransport prefers the signed-in token, then a stored refresh
// token, then a service account.
func newGmailTransport(ctx context.Context, ec config.EmailConfig, cred *auth.Credential) (*email.GmailClient, error) {
	gc := ec.Gmail
	sender := gc.SenderAddress
	if sender == "" {
		sender = ec.From
	}

	switch {
	case cred != nil && cred.AccessToken != "":
		if sender == "" {
			sender = cred.Account
		}
		return email.NewGmailClientWithToken(ctx, cred.TokenSource(), sender, ec.FromName)
	case gc.RefreshToken != "":
		oc := &oauth2.Config{
			ClientID:     gc.ClientID,
			ClientSecret: gc.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmail.GmailSendScope, gmail.GmailReadonlyScope},
		}
		ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: gc.RefreshToken})
		return email.NewGmailClientWithToken(ctx, ts, sender, ec.FromName)
	case gc.CredentialsJSON != "":
		return email.NewGmailClient(ctx, email.GmailConfig{
			CredentialsJSON: gc.CredentialsJSON,
			SenderAddress:   sender,
			SenderName:      ec.FromName,
		})
	default:
		return nil, fmt.Errorf("gmail: %w", ErrCredentialRequired)
	}
}
