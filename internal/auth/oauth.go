package auth

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// Config describes the OAuth application used to sign in.
type Config struct {
	Provider     string
	ClientID     string
	ClientSecret string
	Tenant       string // Microsoft only, defaults to "common"
	RedirectURL  string
	Scopes       []string
	// Endpoint overrides the provider endpoint.
	Endpoint *oauth2.Endpoint
}

// DefaultScopes returns the scopes needed to read drafts and send mail.
func DefaultScopes(provider string) []string {
	switch provider {
	case ProviderGoogle:
		return []string{
			"openid", "email",
			"https://www.googleapis.com/auth/gmail.send",
			"https://www.googleapis.com/auth/gmail.readonly",
		}
	default:
		return []string{"openid", "email", "offline_access", "User.Read", "Mail.Read", "Mail.Send"}
	}
}

// OAuth2 builds the oauth2.Config for the provider.
func (c Config) OAuth2() (*oauth2.Config, error) {
	if c.ClientID == "" {
		return nil, ErrMissingClientID
	}

	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes(c.Provider)
	}

	var endpoint oauth2.Endpoint
	switch {
	case c.Endpoint != nil:
		endpoint = *c.Endpoint
	case c.Provider == ProviderMicrosoft:
		tenant := c.Tenant
		if tenant == "" {
			tenant = "common"
		}
		endpoint = microsoft.AzureADEndpoint(tenant)
		endpoint.DeviceAuthURL = "https://login.microsoftonline.com/" + tenant + "/oauth2/v2.0/devicecode"
	case c.Provider == ProviderGoogle:
		endpoint = google.Endpoint
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider)
	}

	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  c.RedirectURL,
		Scopes:       scopes,
	}, nil
}

// AuthCodeFlow is the browser redirect flow used by the HTTP server.
type AuthCodeFlow struct {
	provider string
	cfg      *oauth2.Config
}

// NewAuthCodeFlow creates a new AuthCodeFlow.
func NewAuthCodeFlow(cfg Config) (*AuthCodeFlow, error) {
	oc, err := cfg.OAuth2()
	if err != nil {
		return nil, err
	}
	if oc.RedirectURL == "" {
		return nil, fmt.Errorf("auth code flow: redirect URL is required")
	}
	return &AuthCodeFlow{provider: cfg.Provider, cfg: oc}, nil
}

// AuthCodeURL returns the provider sign-in URL. verifier is a PKCE verifier
// from oauth2.GenerateVerifier that must be presented again to Exchange.
func (f *AuthCodeFlow) AuthCodeURL(state, verifier string) string {
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if f.provider == ProviderGoogle {
		opts = append(opts, oauth2.AccessTypeOffline)
	}
	return f.cfg.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for a credential.
func (f *AuthCodeFlow) Exchange(ctx context.Context, code, verifier string) (*Credential, error) {
	tok, err := f.cfg.Exchange(ctx, strings.TrimSpace(code), oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return credentialFromToken(f.provider, tok)
}
