// Package dispatch sends one draft to a recipient list in paced BCC batches.
//
// A run is strictly sequential: partition the list, then for each batch
// compose the message, hand it to the Client and wait the configured delay
// before the next one. Per-batch failures are recorded and never stop the run.
package dispatch

import (
	"fmt"
	"time"
)

// Draft is the template replayed for every batch of a run.
type Draft struct {
	Subject  string `json:"subject"`
	BodyHTML string `json:"bodyHtml"`
}

// Batch is a contiguous slice of the recipient list.
type Batch struct {
	Index     int      `json:"index"` // 1-based
	Total     int      `json:"total"`
	Addresses []string `json:"addresses"`
}

// IsLast reports whether no batch follows this one.
func (b Batch) IsLast() bool {
	return b.Index >= b.Total
}

// Result is the outcome of one send attempt.
type Result struct {
	BatchIndex   int           `json:"batchIndex"`
	Succeeded    bool          `json:"succeeded"`
	StatusCode   int           `json:"statusCode,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	AddressCount int           `json:"addressCount"`
	Duration     time.Duration `json:"duration"`
}

// State is a scheduler state.
type State string

const (
	StateIdle        State = "idle"
	StateValidating  State = "validating"
	StateDispatching State = "dispatching"
	StatePausing     State = "pausing"
	StateCompleted   State = "completed"
	StateAborted     State = "aborted"
)

// IsTerminal reports whether the run has finished.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAborted
}

// Outcome summarises a finished run.
type Outcome struct {
	State        State     `json:"state"`
	TotalBatches int       `json:"totalBatches"`
	Attempted    int       `json:"attempted"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Results      []Result  `json:"results,omitempty"`
	Err          error     `json:"-"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// Reason returns the abort reason, or "" for a completed run.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Dispatched reports whether at least one batch was attempted.
// It separates "ran but some batches failed" from "never ran".
func (o Outcome) Dispatched() bool {
	return o.Attempted > 0
}

// Summary renders the one-line final status shown to users.
func (o Outcome) Summary() string {
	if o.State == StateAborted {
		if o.Attempted > 0 {
			return fmt.Sprintf("aborted after %d/%d batches: %s", o.Attempted, o.TotalBatches, o.Reason())
		}
		return "aborted: " + o.Reason()
	}
	return fmt.Sprintf("completed with %d/%d batches succeeded", o.Succeeded, o.TotalBatches)
}

func (o *Outcome) record(r Result) {
	o.Attempted++
	if r.Succeeded {
		o.Succeeded++
	} else {
		o.Failed++
	}
	o.Results = append(o.Results, r)
}

// EventKind identifies a progress event.
type EventKind string

const (
	EventStateChanged EventKind = "state_changed"
	EventBatchSent    EventKind = "batch_sent"
	EventPausing      EventKind = "pausing"
)

// Event is emitted to the run's Observer as the run progresses.
type Event struct {
	Kind         EventKind     `json:"kind"`
	State        State         `json:"state"`
	BatchIndex   int           `json:"batchIndex,omitempty"`
	TotalBatches int           `json:"totalBatches,omitempty"`
	Succeeded    bool          `json:"succeeded,omitempty"`
	AddressCount int           `json:"addressCount,omitempty"`
	StatusCode   int           `json:"statusCode,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Delay        time.Duration `json:"delay,omitempty"`
	At           time.Time     `json:"at"`
}

// Observer receives progress events. It is called synchronously from the
// run goroutine and must not block for long.
type Observer func(Event)

// Credential is the read-only view of the run's credential.
type Credential interface {
	Expired() bool
}
