package dispatch

import (
	"context"
	"time"
)

// DefaultDelay is the pause between two batches.
const DefaultDelay = 5 * time.Second

// PauseFunc blocks for d or until ctx is done.
type PauseFunc func(ctx context.Context, d time.Duration) error

// Request describes one run.
type Request struct {
	Draft      *Draft
	Recipients []string // already normalized, header row removed
	DirectTo   string
	Cc         string
	BatchSize  int
	Delay      time.Duration
	Observer   Observer
}

// Scheduler drives runs: validate, then dispatch and pause batch by batch.
// A Scheduler holds no per-run state and may serve concurrent runs.
type Scheduler struct {
	client *Client
	pause  PauseFunc
	now    func() time.Time
}

// NewScheduler creates a new Scheduler.
func NewScheduler(client *Client) *Scheduler {
	return &Scheduler{
		client: client,
		pause:  sleep,
		now:    time.Now,
	}
}

// WithPause replaces the inter-batch wait.
func (s *Scheduler) WithPause(fn PauseFunc) *Scheduler {
	cp := *s
	cp.pause = fn
	return &cp
}

// run carries the state of a single execution.
type run struct {
	s   *Scheduler
	req Request
	out Outcome
}

// Run executes req and returns its outcome. It never returns early with an
// error: precondition failures and cancellation end in StateAborted with the
// reason in Outcome.Err.
func (s *Scheduler) Run(ctx context.Context, req Request) Outcome {
	r := &run{s: s, req: req}
	r.out.State = StateIdle
	r.out.StartedAt = s.now()

	r.enter(StateValidating, 0)
	batches, err := r.validate()
	if err != nil {
		return r.abort(err)
	}
	r.out.TotalBatches = len(batches)

	for _, b := range batches {
		if ctx.Err() != nil {
			return r.abort(ErrCanceled)
		}

		r.enter(StateDispatching, b.Index)
		msg := Compose(*req.Draft, req.DirectTo, req.Cc, b)
		res := s.client.Send(ctx, b.Index, msg)
		r.out.record(res)
		r.emit(Event{
			Kind:         EventBatchSent,
			BatchIndex:   b.Index,
			Succeeded:    res.Succeeded,
			AddressCount: res.AddressCount,
			StatusCode:   res.StatusCode,
			Detail:       res.Detail,
			Duration:     res.Duration,
		})

		if b.IsLast() {
			break
		}

		r.enter(StatePausing, b.Index)
		r.emit(Event{Kind: EventPausing, BatchIndex: b.Index, Delay: req.Delay})
		if err := s.pause(ctx, req.Delay); err != nil {
			return r.abort(ErrCanceled)
		}
	}

	r.out.FinishedAt = s.now()
	r.enter(StateCompleted, 0)
	return r.out
}

func (r *run) validate() ([]Batch, error) {
	if r.req.Draft == nil {
		return nil, ErrDraftMissing
	}
	if r.req.Draft.Subject == "" {
		return nil, ErrMissingSubject
	}
	if r.req.Delay < 0 {
		return nil, ErrInvalidDelay
	}
	if r.s.client.CredentialExpired() {
		return nil, ErrCredentialExpired
	}
	return Partition(r.req.Recipients, r.req.BatchSize, r.req.DirectTo)
}

func (r *run) abort(reason error) Outcome {
	r.out.Err = reason
	r.out.FinishedAt = r.s.now()
	r.enter(StateAborted, 0)
	return r.out
}

func (r *run) enter(state State, batchIndex int) {
	r.out.State = state
	ev := Event{Kind: EventStateChanged, BatchIndex: batchIndex}
	if state == StateAborted {
		ev.Detail = r.out.Reason()
	}
	r.emit(ev)
}

func (r *run) emit(ev Event) {
	if r.req.Observer == nil {
		return
	}
	ev.State = r.out.State
	ev.TotalBatches = r.out.TotalBatches
	ev.At = r.s.now()
	r.req.Observer(ev)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
