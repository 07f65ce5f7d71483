package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/draftsend/draftsend/internal/auth"
	"github.com/draftsend/draftsend/internal/config"
	"github.com/draftsend/draftsend/internal/dispatch"
	"github.com/draftsend/draftsend/internal/email"
	"github.com/draftsend/draftsend/internal/logger"
	"github.com/draftsend/draftsend/internal/model"
	"github.com/draftsend/draftsend/internal/repository"
	"github.com/google/uuid"
)

// Send service errors
var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunFinished = errors.New("run already finished")
)

// sinkTimeout bounds each progress or history write made from the run goroutine
const sinkTimeout = 5 * time.Second

// SendRequest describes a run before its draft has been resolved
type SendRequest struct {
	Subject    string
	Recipients []string
	DirectTo   string
	Cc         string
	// BatchSize of nil uses dispatch.batch_size
	BatchSize *int
	// Delay of nil uses dispatch.delay
	Delay *time.Duration
}

// RunStore persists run history
type RunStore interface {
	Create(ctx context.Context, run *model.Run) error
	Finish(ctx context.Context, run *model.Run) error
	RecordAttempt(ctx context.Context, attempt *model.BatchAttempt) error
	GetByID(ctx context.Context, id string) (*model.Run, error)
	ListAttempts(ctx context.Context, runID string) ([]model.BatchAttempt, error)
}

// SendService resolves drafts, starts runs and keeps track of them
type SendService struct {
	cfg        *config.Config
	transports TransportFactory
	runs       RunStore
	progress   ProgressSink
	pause      dispatch.PauseFunc
	fallback   *auth.Credential
	log        *logger.Logger

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup
}

type activeRun struct {
	cancel  context.CancelFunc
	tracker *tracker
	done    chan struct{}
}

// preparedRun is a run whose transport and draft are resolved
type preparedRun struct {
	id        string
	account   string
	transport *Transport
	scheduler *dispatch.Scheduler
	request   dispatch.Request
	tracker   *tracker
	log       *logger.Logger
}

// NewSendService creates a new SendService. runs and progress may be nil.
func NewSendService(
	cfg *config.Config,
	transports TransportFactory,
	runs RunStore,
	progress ProgressSink,
	log *logger.Logger,
) *SendService {
	return &SendService{
		cfg:        cfg,
		transports: transports,
		runs:       runs,
		progress:   progress,
		log:        log.WithComponent("send_service"),
		active:     make(map[string]*activeRun),
	}
}

// WithPause replaces the wait between batches of every run
func (s *SendService) WithPause(fn dispatch.PauseFunc) *SendService {
	s.pause = fn
	return s
}

// WithCredential sets the credential used by requests that carry none
func (s *SendService) WithCredential(cred *auth.Credential) *SendService {
	s.fallback = cred
	return s
}

// Credential returns the credential set by WithCredential, if any
func (s *SendService) Credential() *auth.Credential {
	return s.fallback
}

// Run executes a run synchronously. observer, if set, receives every event
// after the service's own sinks. Invalid requests and errors resolving the
// transport or the draft end the run as aborted before any batch is sent.
func (s *SendService) Run(ctx context.Context, cred *auth.Credential, req SendRequest, observer dispatch.Observer) (string, dispatch.Outcome) {
	p, err := s.prepare(ctx, cred, req)
	if err != nil {
		s.log.Warn().Err(err).Str("subject", req.Subject).Msg("run rejected")
		now := time.Now()
		return "", dispatch.Outcome{State: dispatch.StateAborted, Err: err, StartedAt: now, FinishedAt: now}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	run := s.register(p, cancel)
	defer close(run.done)

	return p.id, s.execute(runCtx, p, observer)
}

// Start resolves the draft and launches the run in the background. Only
// preparation errors are returned; the run itself reports through Get.
func (s *SendService) Start(ctx context.Context, cred *auth.Credential, req SendRequest) (string, error) {
	p, err := s.prepare(ctx, cred, req)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := s.register(p, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(run.done)
		defer cancel()
		s.execute(runCtx, p, nil)
	}()

	return p.id, nil
}

// Cancel stops a run at its next batch boundary
func (s *SendService) Cancel(runID string) error {
	s.mu.Lock()
	run, ok := s.active[runID]
	s.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}
	if run.tracker.snapshot().State.IsTerminal() {
		return ErrRunFinished
	}
	run.cancel()
	return nil
}

// Get returns the latest snapshot of a run, looking at active runs, then
// the progress store, then run history.
func (s *SendService) Get(ctx context.Context, runID string) (*RunSnapshot, error) {
	s.mu.Lock()
	run, ok := s.active[runID]
	s.mu.Unlock()
	if ok {
		snap := run.tracker.snapshot()
		return &snap, nil
	}

	if s.progress != nil {
		snap, err := s.progress.Snapshot(ctx, runID)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrRunNotFound) {
			s.log.Warn().Err(err).Str("run_id", runID).Msg("failed to read run snapshot")
		}
	}

	if s.runs != nil {
		rec, err := s.runs.GetByID(ctx, runID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		if err != nil {
			return nil, err
		}
		attempts, err := s.runs.ListAttempts(ctx, runID)
		if err != nil {
			return nil, err
		}
		return snapshotFromHistory(rec, attempts), nil
	}

	return nil, ErrRunNotFound
}

// Wait blocks until the run is no longer executing or ctx is done
func (s *SendService) Wait(ctx context.Context, runID string) error {
	s.mu.Lock()
	run, ok := s.active[runID]
	s.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every running run and waits for them to stop
func (s *SendService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, run := range s.active {
		run.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SendService) prepare(ctx context.Context, cred *auth.Credential, req SendRequest) (*preparedRun, error) {
	if cred == nil {
		cred = s.fallback
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return nil, dispatch.ErrMissingSubject
	}
	if cred != nil && cred.Expired() {
		return nil, dispatch.ErrCredentialExpired
	}

	batchSize := s.cfg.Dispatch.BatchSize
	if req.BatchSize != nil {
		batchSize = *req.BatchSize
	}
	delay := s.cfg.Dispatch.Delay
	if req.Delay != nil {
		delay = *req.Delay
	}
	if delay < 0 {
		return nil, dispatch.ErrInvalidDelay
	}
	directTo := strings.TrimSpace(req.DirectTo)
	if _, err := dispatch.Partition(req.Recipients, batchSize, directTo); err != nil {
		return nil, err
	}

	transport, err := s.transports(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("failed to build transport: %w", err)
	}

	found, err := transport.Drafts.FindDraft(ctx, subject)
	if errors.Is(err, email.ErrDraftNotFound) {
		return nil, fmt.Errorf("%w: %w", dispatch.ErrDraftMissing, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up draft: %w", err)
	}

	opts := dispatch.ClientOptions{Timeout: s.cfg.Dispatch.SendTimeout}
	var account string
	if cred != nil {
		opts.Credential = cred
		account = cred.Account
	}
	scheduler := dispatch.NewScheduler(dispatch.NewClient(transport.Sender, opts))
	if s.pause != nil {
		scheduler = scheduler.WithPause(s.pause)
	}

	id := uuid.NewString()
	now := time.Now()
	return &preparedRun{
		id:        id,
		account:   account,
		transport: transport,
		scheduler: scheduler,
		request: dispatch.Request{
			Draft:      &dispatch.Draft{Subject: found.Subject, BodyHTML: found.HTMLBody},
			Recipients: req.Recipients,
			DirectTo:   directTo,
			Cc:         strings.TrimSpace(req.Cc),
			BatchSize:  batchSize,
			Delay:      delay,
		},
		tracker: newTracker(RunSnapshot{
			ID:        id,
			Subject:   found.Subject,
			Provider:  transport.Provider,
			State:     dispatch.StateIdle,
			StartedAt: now,
			UpdatedAt: now,
		}),
		log: s.log.WithRunID(id),
	}, nil
}

func (s *SendService) register(p *preparedRun, cancel context.CancelFunc) *activeRun {
	run := &activeRun{cancel: cancel, tracker: p.tracker, done: make(chan struct{})}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.active[p.id] = run
	return run
}

// pruneLocked forgets finished runs older than the retention window
func (s *SendService) pruneLocked() {
	cutoff := time.Now().Add(-s.cfg.Dispatch.RunRetention)
	for id, run := range s.active {
		snap := run.tracker.snapshot()
		if snap.FinishedAt != nil && snap.FinishedAt.Before(cutoff) {
			delete(s.active, id)
		}
	}
}

func (s *SendService) execute(ctx context.Context, p *preparedRun, observer dispatch.Observer) dispatch.Outcome {
	p.log.Info().
		Str("subject", p.request.Draft.Subject).
		Str("provider", p.transport.Provider).
		Int("recipients", len(p.request.Recipients)).
		Int("batch_size", p.request.BatchSize).
		Dur("delay", p.request.Delay).
		Msg("run started")

	s.createHistory(p)

	p.request.Observer = func(ev dispatch.Event) {
		snap := p.tracker.apply(ev)
		s.logEvent(p.log, ev, snap)
		s.publish(p, snap, ev)
		s.recordAttempt(p, ev)
		if observer != nil {
			observer(ev)
		}
	}

	out := p.scheduler.Run(ctx, p.request)
	s.finishHistory(p, out)
	return out
}

func (s *SendService) logEvent(log *logger.Logger, ev dispatch.Event, snap RunSnapshot) {
	switch {
	case ev.Kind == dispatch.EventBatchSent:
		log.BatchResult(ev.BatchIndex, ev.TotalBatches, ev.AddressCount, ev.Succeeded, ev.StatusCode, ev.Detail)
	case ev.Kind == dispatch.EventPausing:
		log.Debug().Int("batch", ev.BatchIndex).Dur("delay", ev.Delay).Msg("pausing")
	case ev.State.IsTerminal():
		log.RunFinished(string(ev.State), snap.Attempted, snap.Succeeded, snap.Failed, snap.Reason)
	}
}

func (s *SendService) publish(p *preparedRun, snap RunSnapshot, ev dispatch.Event) {
	if s.progress == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := s.progress.Publish(ctx, snap, ev); err != nil {
		p.log.Warn().Err(err).Msg("failed to publish progress")
	}
}

func (s *SendService) createHistory(p *preparedRun) {
	if s.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	snap := p.tracker.snapshot()
	rec := &model.Run{
		ID:        p.id,
		Subject:   snap.Subject,
		Provider:  snap.Provider,
		State:     string(dispatch.StateValidating),
		StartedAt: snap.StartedAt,
	}
	if p.account != "" {
		rec.Account = &p.account
	}
	if err := s.runs.Create(ctx, rec); err != nil {
		p.log.Warn().Err(err).Msg("failed to record run")
	}
}

func (s *SendService) recordAttempt(p *preparedRun, ev dispatch.Event) {
	if s.runs == nil || ev.Kind != dispatch.EventBatchSent {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	attempt := &model.BatchAttempt{
		RunID:        p.id,
		BatchIndex:   ev.BatchIndex,
		AddressCount: ev.AddressCount,
		Succeeded:    ev.Succeeded,
		DurationMS:   ev.Duration.Milliseconds(),
		CreatedAt:    ev.At,
	}
	if ev.StatusCode != 0 {
		code := ev.StatusCode
		attempt.StatusCode = &code
	}
	if ev.Detail != "" {
		detail := ev.Detail
		attempt.Detail = &detail
	}
	if err := s.runs.RecordAttempt(ctx, attempt); err != nil {
		p.log.Warn().Err(err).Int("batch", ev.BatchIndex).Msg("failed to record batch attempt")
	}
}

func (s *SendService) finishHistory(p *preparedRun, out dispatch.Outcome) {
	if s.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	finished := out.FinishedAt
	rec := &model.Run{
		ID:           p.id,
		State:        string(out.State),
		TotalBatches: out.TotalBatches,
		Succeeded:    out.Succeeded,
		Failed:       out.Failed,
		FinishedAt:   &finished,
	}
	if reason := out.Reason(); reason != "" {
		rec.Reason = &reason
	}
	if err := s.runs.Finish(ctx, rec); err != nil {
		p.log.Warn().Err(err).Msg("failed to record run outcome")
	}
}
