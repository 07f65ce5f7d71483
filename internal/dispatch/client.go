package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/draftsend/draftsend/internal/email"
)

// DefaultSendTimeout bounds a single provider call.
const DefaultSendTimeout = 30 * time.Second

// ClientOptions configures a Client.
type ClientOptions struct {
	// Timeout bounds each Send call. Zero means DefaultSendTimeout.
	Timeout time.Duration
	// Credential, when set, is checked before every call. It is never refreshed here.
	Credential Credential
	// From overrides the sender address on every message.
	From string
}

// Client turns one email.Sender call into a Result.
type Client struct {
	sender  email.Sender
	timeout time.Duration
	cred    Credential
	from    string
	now     func() time.Time
}

// NewClient creates a new Client around sender.
func NewClient(sender email.Sender, opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Client{
		sender:  sender,
		timeout: timeout,
		cred:    opts.Credential,
		from:    opts.From,
		now:     time.Now,
	}
}

// CredentialExpired reports whether the configured credential has expired.
func (c *Client) CredentialExpired() bool {
	return c.cred != nil && c.cred.Expired()
}

// Send submits msg exactly once and reports the outcome.
//
// The call is detached from ctx cancellation so an in-flight send always
// finishes (or times out); callers observe cancellation between batches.
func (c *Client) Send(ctx context.Context, batchIndex int, msg email.Message) (res Result) {
	res = Result{
		BatchIndex:   batchIndex,
		AddressCount: len(msg.Bcc),
	}

	if c.CredentialExpired() {
		res.Detail = ErrCredentialExpired.Error()
		return res
	}
	if c.from != "" && msg.From == "" {
		msg.From = c.from
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	start := c.now()
	defer func() {
		res.Duration = c.now().Sub(start)
		if p := recover(); p != nil {
			res.Succeeded = false
			res.Detail = "transport panic"
		}
	}()

	err := c.sender.Send(sendCtx, msg)
	if err == nil {
		res.Succeeded = true
		return res
	}

	res.Detail = err.Error()
	var terr *email.TransportError
	if errors.As(err, &terr) {
		res.StatusCode = terr.StatusCode
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
		res.Detail = "send timed out after " + c.timeout.String() + ": " + err.Error()
	}
	return res
}
