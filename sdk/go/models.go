package draftsend

import (
	"io"
	"time"
)

// Run states reported by the server.
const (
	StateIdle        = "idle"
	StateValidating  = "validating"
	StateDispatching = "dispatching"
	StatePausing     = "pausing"
	StateCompleted   = "completed"
	StateAborted     = "aborted"
)

// CreateRunRequest describes a run to start.
type CreateRunRequest struct {
	Subject string
	To      string
	Cc      string
	// BatchSize of zero uses the server default.
	BatchSize int
	// Delay of nil uses the server default.
	Delay *time.Duration
	// List is the recipient spreadsheet; ListName carries its extension.
	List     io.Reader
	ListName string
}

// CreateRunResponse is returned when a run has been accepted.
type CreateRunResponse struct {
	RunID         string `json:"runId"`
	Recipients    int    `json:"recipients"`
	SkippedHeader string `json:"skippedHeader,omitempty"`
}

// BatchResult is the outcome of one batch.
type BatchResult struct {
	BatchIndex   int           `json:"batchIndex"`
	Succeeded    bool          `json:"succeeded"`
	StatusCode   int           `json:"statusCode,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	AddressCount int           `json:"addressCount"`
	Duration     time.Duration `json:"duration"`
}

// Run is a snapshot of a run's progress.
type Run struct {
	ID           string        `json:"id"`
	Subject      string        `json:"subject"`
	Provider     string        `json:"provider"`
	State        string        `json:"state"`
	TotalBatches int           `json:"totalBatches"`
	CurrentBatch int           `json:"currentBatch,omitempty"`
	Attempted    int           `json:"attempted"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Reason       string        `json:"reason,omitempty"`
	NextBatchAt  *time.Time    `json:"nextBatchAt,omitempty"`
	Results      []BatchResult `json:"results,omitempty"`
	StartedAt    time.Time     `json:"startedAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	FinishedAt   *time.Time    `json:"finishedAt,omitempty"`
}

// Finished reports whether the run completed or aborted.
func (r *Run) Finished() bool {
	return r.State == StateCompleted || r.State == StateAborted
}

// Account is the signed-in mailbox.
type Account struct {
	Provider  string     `json:"provider"`
	Account   string     `json:"account,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}
