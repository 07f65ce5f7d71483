package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/skip2/go-qrcode"
	"golang.org/x/oauth2"
)

// Flow names accepted by NewAuthenticator.
const (
	FlowAuthCode    = "auth_code"
	FlowDeviceCode  = "device_code"
	FlowAppPassword = "app_password"
	FlowStaticToken = "static_token"
)

// Authenticator acquires a credential without a browser redirect.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Credential, error)
}

// DevicePrompt is what the user needs to finish a device-code sign in.
type DevicePrompt struct {
	UserCode        string
	VerificationURL string
	ExpiresAt       time.Time
	QRCode          string // terminal rendering of VerificationURL, may be empty
}

// DeviceCodeFlow signs in by showing a code the user enters on another device.
type DeviceCodeFlow struct {
	provider string
	cfg      *oauth2.Config
	prompt   func(DevicePrompt)
}

// NewDeviceCodeFlow creates a new DeviceCodeFlow. prompt is called once with
// the code to display.
func NewDeviceCodeFlow(cfg Config, prompt func(DevicePrompt)) (*DeviceCodeFlow, error) {
	oc, err := cfg.OAuth2()
	if err != nil {
		return nil, err
	}
	return &DeviceCodeFlow{provider: cfg.Provider, cfg: oc, prompt: prompt}, nil
}

// Authenticate starts the device authorization and polls until the user
// completes it, the code expires or ctx is done.
func (f *DeviceCodeFlow) Authenticate(ctx context.Context) (*Credential, error) {
	da, err := f.cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start device authorization: %w", err)
	}

	if f.prompt != nil {
		url := da.VerificationURIComplete
		if url == "" {
			url = da.VerificationURI
		}
		qr, _ := RenderQR(url)
		f.prompt(DevicePrompt{
			UserCode:        da.UserCode,
			VerificationURL: da.VerificationURI,
			ExpiresAt:       da.Expiry,
			QRCode:          qr,
		})
	}

	tok, err := f.cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("device authorization failed: %w", err)
	}
	return credentialFromToken(f.provider, tok)
}

// RenderQR renders content as a compact terminal QR code.
func RenderQR(content string) (string, error) {
	if content == "" {
		return "", nil
	}
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to render QR code: %w", err)
	}
	return q.ToSmallString(false), nil
}

// AppPassword authenticates SMTP submission with a fixed app password.
type AppPassword struct {
	Username string
	Password string
}

// Authenticate returns the configured password credential.
func (a AppPassword) Authenticate(ctx context.Context) (*Credential, error) {
	if a.Username == "" || a.Password == "" {
		return nil, fmt.Errorf("app password: username and password are required")
	}
	return &Credential{
		Provider: ProviderSMTP,
		Account:  a.Username,
		Username: a.Username,
		Password: a.Password,
	}, nil
}

// StaticToken wraps an access token obtained elsewhere, e.g. by a CI secret.
type StaticToken struct {
	Provider    string
	AccessToken string
	Expiry      time.Time
}

// Authenticate returns the wrapped token.
func (s StaticToken) Authenticate(ctx context.Context) (*Credential, error) {
	if s.AccessToken == "" {
		return nil, ErrNoAccessToken
	}
	return &Credential{
		Provider:    s.Provider,
		AccessToken: s.AccessToken,
		TokenType:   "Bearer",
		Expiry:      s.Expiry,
	}, nil
}

// NewAuthenticator selects the non-interactive-redirect flow by name.
// The auth_code flow needs an HTTP callback and is served by the server.
func NewAuthenticator(flow string, cfg Config, creds AppPassword, token string, prompt func(DevicePrompt)) (Authenticator, error) {
	switch flow {
	case FlowDeviceCode:
		return NewDeviceCodeFlow(cfg, prompt)
	case FlowAppPassword:
		return creds, nil
	case FlowStaticToken:
		return StaticToken{Provider: cfg.Provider, AccessToken: token}, nil
	case FlowAuthCode:
		return nil, fmt.Errorf("%w: %s requires the HTTP server", ErrUnknownFlow, flow)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlow, flow)
	}
}
