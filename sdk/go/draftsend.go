// Package draftsend is a client for the draftsend HTTP API.
package draftsend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for the draftsend client.
type Config struct {
	// BaseURL is the root URL of the draftsend server.
	// Examples: "https://mail.example.com" or "https://mail.example.com/api/v1"
	// The "/api/v1" suffix is appended automatically if missing.
	BaseURL string

	// SessionID authenticates requests when the server uses browser sign in.
	// It is sent as a bearer token.
	SessionID string

	// PollInterval is how often WaitRun checks a run.
	// Default: 2 seconds
	PollInterval time.Duration

	// HTTPClient is an optional custom HTTP client.
	// If nil, a default client with 30s timeout is used.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if !strings.HasSuffix(c.BaseURL, "/api/v1") {
		c.BaseURL = c.BaseURL + "/api/v1"
	}
}

// Client is the draftsend API client.
type Client struct {
	cfg Config
}

// NewClient creates a new draftsend client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// CreateRun uploads the recipient list and starts a run. The server resolves
// the draft before answering, so a missing draft is reported here.
func (c *Client) CreateRun(ctx context.Context, req CreateRunRequest) (*CreateRunResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		"subject": req.Subject,
		"to":      req.To,
		"cc":      req.Cc,
	}
	if req.BatchSize > 0 {
		fields["batch_size"] = strconv.Itoa(req.BatchSize)
	}
	if req.Delay != nil {
		fields["delay_seconds"] = strconv.FormatFloat(req.Delay.Seconds(), 'f', -1, 64)
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("draftsend: failed to encode form: %w", err)
		}
	}

	if req.List != nil {
		part, err := mw.CreateFormFile("file", req.ListName)
		if err != nil {
			return nil, fmt.Errorf("draftsend: failed to encode form: %w", err)
		}
		if _, err := io.Copy(part, req.List); err != nil {
			return nil, fmt.Errorf("draftsend: failed to read recipient list: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("draftsend: failed to encode form: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/runs", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var resp CreateRunResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("draftsend: failed to parse run response: %w", err)
	}
	return &resp, nil
}

// GetRun returns the latest snapshot of a run.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	body, err := c.do(ctx, http.MethodGet, "/runs/"+runID, nil, "")
	if err != nil {
		return nil, err
	}

	var run Run
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, fmt.Errorf("draftsend: failed to parse run: %w", err)
	}
	return &run, nil
}

// CancelRun asks the server to stop a run at its next batch boundary.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	_, err := c.do(ctx, http.MethodPost, "/runs/"+runID+"/cancel", nil, "")
	return err
}

// WaitRun polls a run until it completes or aborts.
func (c *Client) WaitRun(ctx context.Context, runID string) (*Run, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Finished() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Me returns the signed-in account.
func (c *Client) Me(ctx context.Context) (*Account, error) {
	body, err := c.do(ctx, http.MethodGet, "/me", nil, "")
	if err != nil {
		return nil, err
	}

	var acct Account
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, fmt.Errorf("draftsend: failed to parse account: %w", err)
	}
	return &acct, nil
}

// do sends a request to the draftsend API.
func (c *Client) do(ctx context.Context, method, path string, payload io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("draftsend: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cfg.SessionID != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.SessionID)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("draftsend: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("draftsend: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	return body, nil
}
