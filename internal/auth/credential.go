// Package auth obtains the credential a run sends with. Credentials are
// acquired once, before the run, and never refreshed by the dispatcher.
package auth

import (
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// Supported identity providers.
const (
	ProviderMicrosoft = "microsoft"
	ProviderGoogle    = "google"
	ProviderSMTP      = "smtp"
)

// expiryLeeway treats a token as expired slightly before its deadline.
const expiryLeeway = 10 * time.Second

// Authentication errors
var (
	ErrUnknownProvider = errors.New("unknown identity provider")
	ErrUnknownFlow     = errors.New("unknown authentication flow")
	ErrMissingClientID = errors.New("oauth client id is required")
	ErrNoAccessToken   = errors.New("token response has no access token")
)

// Credential is a ready-to-use session handle.
type Credential struct {
	Provider    string    `json:"provider"`
	Account     string    `json:"account,omitempty"`
	AccessToken string    `json:"accessToken,omitempty"`
	TokenType   string    `json:"tokenType,omitempty"`
	Expiry      time.Time `json:"expiry,omitempty"`
	Username    string    `json:"username,omitempty"`
	Password    string    `json:"-"`
}

// Expired reports whether the credential can no longer be used.
// Password credentials and tokens without an expiry never expire.
func (c *Credential) Expired() bool {
	if c == nil {
		return true
	}
	if c.AccessToken == "" {
		return c.Password == ""
	}
	if c.Expiry.IsZero() {
		return false
	}
	return time.Now().Add(expiryLeeway).After(c.Expiry)
}

// TTL returns the remaining lifetime, or zero for non-expiring credentials.
func (c *Credential) TTL() time.Duration {
	if c == nil || c.Expiry.IsZero() {
		return 0
	}
	return time.Until(c.Expiry)
}

// TokenSource returns a non-refreshing token source for HTTP transports.
func (c *Credential) TokenSource() oauth2.TokenSource {
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: c.AccessToken,
		TokenType:   tokenType,
		Expiry:      c.Expiry,
	})
}

// credentialFromToken converts a token endpoint response.
func credentialFromToken(provider string, tok *oauth2.Token) (*Credential, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, ErrNoAccessToken
	}
	cred := &Credential{
		Provider:    provider,
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
		Expiry:      tok.Expiry,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		cred.Account = AccountFromIDToken(idToken)
	}
	return cred, nil
}
