package model

import "time"

// Run represents one dispatch of a draft to a recipient list
type Run struct {
	ID           string     `json:"id"`
	Subject      string     `json:"subject"`
	Provider     string     `json:"provider"`
	Account      *string    `json:"account,omitempty"`
	State        string     `json:"state"`
	TotalBatches int        `json:"totalBatches"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	Reason       *string    `json:"reason,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// BatchAttempt records the single send attempt made for one batch
type BatchAttempt struct {
	RunID        string    `json:"runId"`
	BatchIndex   int       `json:"batchIndex"`
	AddressCount int       `json:"addressCount"`
	Succeeded    bool      `json:"succeeded"`
	StatusCode   *int      `json:"statusCode,omitempty"`
	Detail       *string   `json:"detail,omitempty"`
	DurationMS   int64     `json:"durationMs"`
	CreatedAt    time.Time `json:"createdAt"`
}
