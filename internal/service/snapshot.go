package service

import (
	"sync"
	"time"

	"github.com/draftsend/draftsend/internal/dispatch"
	"github.com/draftsend/draftsend/internal/model"
)

// RunSnapshot is the latest known state of a run
type RunSnapshot struct {
	ID           string            `json:"id"`
	Subject      string            `json:"subject"`
	Provider     string            `json:"provider"`
	State        dispatch.State    `json:"state"`
	TotalBatches int               `json:"totalBatches"`
	CurrentBatch int               `json:"currentBatch,omitempty"`
	Attempted    int               `json:"attempted"`
	Succeeded    int               `json:"succeeded"`
	Failed       int               `json:"failed"`
	Reason       string            `json:"reason,omitempty"`
	NextBatchAt  *time.Time        `json:"nextBatchAt,omitempty"`
	Results      []dispatch.Result `json:"results,omitempty"`
	StartedAt    time.Time         `json:"startedAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	FinishedAt   *time.Time        `json:"finishedAt,omitempty"`
}

// Apply folds a progress event into the snapshot
func (s *RunSnapshot) Apply(ev dispatch.Event) {
	s.State = ev.State
	if ev.TotalBatches > 0 {
		s.TotalBatches = ev.TotalBatches
	}
	s.UpdatedAt = ev.At

	switch ev.Kind {
	case dispatch.EventStateChanged:
		s.NextBatchAt = nil
		if ev.BatchIndex > 0 {
			s.CurrentBatch = ev.BatchIndex
		}
		if ev.State == dispatch.StateAborted {
			s.Reason = ev.Detail
		}
		if ev.State.IsTerminal() {
			at := ev.At
			s.FinishedAt = &at
		}
	case dispatch.EventBatchSent:
		s.Attempted++
		if ev.Succeeded {
			s.Succeeded++
		} else {
			s.Failed++
		}
		s.Results = append(s.Results, dispatch.Result{
			BatchIndex:   ev.BatchIndex,
			Succeeded:    ev.Succeeded,
			StatusCode:   ev.StatusCode,
			Detail:       ev.Detail,
			AddressCount: ev.AddressCount,
			Duration:     ev.Duration,
		})
	case dispatch.EventPausing:
		next := ev.At.Add(ev.Delay)
		s.NextBatchAt = &next
	}
}

func (s RunSnapshot) clone() RunSnapshot {
	cp := s
	cp.Results = append([]dispatch.Result(nil), s.Results...)
	return cp
}

// snapshotFromHistory rebuilds a snapshot from a persisted run
func snapshotFromHistory(run *model.Run, attempts []model.BatchAttempt) *RunSnapshot {
	snap := &RunSnapshot{
		ID:           run.ID,
		Subject:      run.Subject,
		Provider:     run.Provider,
		State:        dispatch.State(run.State),
		TotalBatches: run.TotalBatches,
		Succeeded:    run.Succeeded,
		Failed:       run.Failed,
		Attempted:    run.Succeeded + run.Failed,
		StartedAt:    run.StartedAt,
		UpdatedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
	if run.Reason != nil {
		snap.Reason = *run.Reason
	}
	if run.FinishedAt != nil {
		snap.UpdatedAt = *run.FinishedAt
	}
	for _, a := range attempts {
		r := dispatch.Result{
			BatchIndex:   a.BatchIndex,
			Succeeded:    a.Succeeded,
			AddressCount: a.AddressCount,
			Duration:     time.Duration(a.DurationMS) * time.Millisecond,
		}
		if a.StatusCode != nil {
			r.StatusCode = *a.StatusCode
		}
		if a.Detail != nil {
			r.Detail = *a.Detail
		}
		snap.Results = append(snap.Results, r)
	}
	return snap
}

// tracker guards the live snapshot of an active run
type tracker struct {
	mu   sync.RWMutex
	snap RunSnapshot
}

func newTracker(snap RunSnapshot) *tracker {
	return &tracker{snap: snap}
}

func (t *tracker) apply(ev dispatch.Event) RunSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Apply(ev)
	return t.snap.clone()
}

func (t *tracker) snapshot() RunSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.clone()
}
