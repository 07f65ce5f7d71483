package dispatch

import "errors"

// Precondition and configuration errors. A run that hits one of these never
// sends anything.
var (
	ErrNoRecipients      = errors.New("no recipients: neither a direct recipient nor a bulk list was given")
	ErrInvalidBatchSize  = errors.New("batch size must be at least 1")
	ErrInvalidDelay      = errors.New("inter-batch delay must not be negative")
	ErrMissingSubject    = errors.New("draft subject is required")
	ErrDraftMissing      = errors.New("no draft supplied")
	ErrCredentialExpired = errors.New("credential expired")
)

// ErrCanceled is the Outcome reason of a run stopped by its caller.
var ErrCanceled = errors.New("run canceled")
