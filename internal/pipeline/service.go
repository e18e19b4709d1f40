package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ytget/mediarelay/internal/download"
	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/model"
	"github.com/ytget/mediarelay/internal/progress"
)

// JobIDPrefix prefixes every generated job id
const JobIDPrefix = "job-"

// DefaultRetainFinished is how many finished jobs stay queryable
const DefaultRetainFinished = 100

var (
	// ErrJobNotFound is returned for an unknown job id
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateSource is returned when the source already has an active job
	ErrDuplicateSource = errors.New("job already exists for source")

	// ErrJobFinished is returned when cancelling a job that is finished or already cancelled
	ErrJobFinished = errors.New("job already finished or cancelled")

	// ErrServiceClosed is returned by Submit after Shutdown
	ErrServiceClosed = errors.New("service is shut down")
)

// Request describes a job to submit. A zero BudgetBytes uses the service default.
type Request struct {
	Source         string
	BudgetBytes    int64
	AllowTranscode bool
}

type entry struct {
	job     *model.TransferJob
	running bool
	done    chan struct{}
	outcome model.Outcome
}

// Service keeps the job registry, runs at most maxParallel jobs at a time and
// queues the rest in submission order.
type Service struct {
	orchestrator  *Orchestrator
	tracker       *progress.Tracker
	defaultBudget int64
	log           *slog.Logger

	jobs        map[string]*entry
	order       []string
	queue       []string
	jobsMutex   sync.RWMutex
	maxParallel int
	activeCount int
	retain      int
	closed      bool
	wg          sync.WaitGroup

	ctx      context.Context
	stop     context.CancelFunc
	onUpdate func(model.JobSnapshot)
}

// NewService creates a job service
func NewService(orchestrator *Orchestrator, maxParallel int, defaultBudget int64, log *slog.Logger) *Service {
	if log == nil {
		log = logging.Discard()
	}
	if maxParallel < 1 {
		maxParallel = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Service{
		orchestrator:  orchestrator,
		tracker:       orchestrator.Tracker(),
		defaultBudget: defaultBudget,
		log:           log,
		jobs:          make(map[string]*entry),
		maxParallel:   maxParallel,
		retain:        DefaultRetainFinished,
		ctx:           ctx,
		stop:          stop,
	}
	orchestrator.SetStageCallback(func(job *model.TransferJob) {
		s.notifyUpdate(job)
	})
	return s
}

// SetUpdateCallback sets the callback called on every job state change
func (s *Service) SetUpdateCallback(callback func(model.JobSnapshot)) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()
	s.onUpdate = callback
}

// SetFinishedRetention sets how many finished jobs are kept for Get and List.
// Older finished jobs are dropped first. Values below 1 are raised to 1.
func (s *Service) SetFinishedRetention(n int) {
	if n < 1 {
		n = 1
	}
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()
	s.retain = n
	s.pruneLocked()
}

// Submit validates the source and queues a new job
func (s *Service) Submit(req Request) (model.JobSnapshot, error) {
	if _, err := download.ValidateSource(req.Source); err != nil {
		return model.JobSnapshot{}, err
	}
	budget := req.BudgetBytes
	if budget <= 0 {
		budget = s.defaultBudget
	}

	s.jobsMutex.Lock()
	if s.closed {
		s.jobsMutex.Unlock()
		return model.JobSnapshot{}, ErrServiceClosed
	}
	for _, e := range s.jobs {
		if e.job.Source == req.Source && !e.job.Stage().IsTerminal() {
			s.jobsMutex.Unlock()
			return model.JobSnapshot{}, fmt.Errorf("%w: %s", ErrDuplicateSource, req.Source)
		}
	}

	job := model.NewTransferJob(generateJobID(), req.Source, budget, req.AllowTranscode)
	s.jobs[job.ID] = &entry{job: job, done: make(chan struct{})}
	s.order = append(s.order, job.ID)
	s.queue = append(s.queue, job.ID)
	s.dispatchLocked()
	s.jobsMutex.Unlock()

	s.log.Info("job submitted",
		slog.String("job_id", job.ID),
		slog.String("source", job.Source),
		slog.Int64("budget", budget),
	)
	s.notifyUpdate(job)
	return job.Snapshot(), nil
}

// Get returns a snapshot of one job
func (s *Service) Get(id string) (model.JobSnapshot, bool) {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()
	e, ok := s.jobs[id]
	if !ok {
		return model.JobSnapshot{}, false
	}
	return e.job.Snapshot(), true
}

// List returns snapshots of every job in submission order
func (s *Service) List() []model.JobSnapshot {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	snaps := make([]model.JobSnapshot, 0, len(s.order))
	for _, id := range s.order {
		snaps = append(snaps, s.jobs[id].job.Snapshot())
	}
	return snaps
}

// Cancel requests cancellation of a job. A queued job is cancelled at once;
// a running job aborts its current stage and is cleaned up.
func (s *Service) Cancel(id string) error {
	s.jobsMutex.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.jobsMutex.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	if !e.running {
		if !e.job.MarkCancelRequested() {
			s.jobsMutex.Unlock()
			return ErrJobFinished
		}
		s.cancelQueuedLocked(e)
		s.jobsMutex.Unlock()
		s.notifyUpdate(e.job)
		return nil
	}
	s.jobsMutex.Unlock()

	err := s.tracker.Cancel(id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, progress.ErrUnknownJob):
		// dispatched but not yet registered; the orchestrator checks the flag on start
		if !e.job.MarkCancelRequested() {
			return ErrJobFinished
		}
		return nil
	default:
		return ErrJobFinished
	}
}

// Wait blocks until the job reaches a terminal stage or ctx is done
func (s *Service) Wait(ctx context.Context, id string) (model.Outcome, error) {
	s.jobsMutex.RLock()
	e, ok := s.jobs[id]
	s.jobsMutex.RUnlock()
	if !ok {
		return model.Outcome{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	select {
	case <-e.done:
		return e.outcome, nil
	case <-ctx.Done():
		return model.Outcome{}, ctx.Err()
	}
}

// Shutdown rejects new jobs, cancels queued and running ones and waits for
// their cleanup to finish or ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.jobsMutex.Lock()
	s.closed = true
	var cancelled []*model.TransferJob
	for _, id := range append([]string(nil), s.queue...) {
		e := s.jobs[id]
		if e.job.MarkCancelRequested() {
			s.cancelQueuedLocked(e)
			cancelled = append(cancelled, e.job)
		}
	}
	s.queue = nil
	s.jobsMutex.Unlock()

	for _, job := range cancelled {
		s.notifyUpdate(job)
	}
	s.stop()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cancelQueuedLocked finishes a job that never started
func (s *Service) cancelQueuedLocked(e *entry) {
	for i, id := range s.queue {
		if id == e.job.ID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	je := model.NewJobError(model.ErrCancelled, model.StageQueued, "", nil)
	e.job.SetError(je.Summary())
	e.job.Transition(model.StageCancelled)
	e.outcome = model.Outcome{JobID: e.job.ID, Stage: model.StageCancelled, Err: je, Message: je.Summary()}
	close(e.done)
	s.pruneLocked()
	s.log.Info("queued job cancelled", slog.String("job_id", e.job.ID))
}

// pruneLocked drops the oldest finished jobs beyond the retention limit
func (s *Service) pruneLocked() {
	finished := 0
	for _, id := range s.order {
		if s.jobs[id].job.Stage().IsTerminal() {
			finished++
		}
	}
	excess := finished - s.retain
	if excess <= 0 {
		return
	}
	kept := make([]string, 0, len(s.order)-excess)
	for _, id := range s.order {
		if excess > 0 && s.jobs[id].job.Stage().IsTerminal() {
			delete(s.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// dispatchLocked starts queued jobs while there is capacity
func (s *Service) dispatchLocked() {
	for s.activeCount < s.maxParallel && len(s.queue) > 0 && !s.closed {
		id := s.queue[0]
		s.queue = s.queue[1:]
		e := s.jobs[id]
		if e.job.Stage().IsTerminal() {
			continue
		}
		e.running = true
		s.activeCount++
		s.wg.Add(1)
		go s.run(e)
	}
}

func (s *Service) run(e *entry) {
	defer s.wg.Done()

	outcome := s.orchestrator.Run(s.ctx, e.job)

	s.jobsMutex.Lock()
	s.activeCount--
	e.outcome = outcome
	close(e.done)
	s.pruneLocked()
	s.dispatchLocked()
	s.jobsMutex.Unlock()
}

// notifyUpdate calls the update callback if set
func (s *Service) notifyUpdate(job *model.TransferJob) {
	s.jobsMutex.RLock()
	callback := s.onUpdate
	s.jobsMutex.RUnlock()
	if callback != nil {
		callback(job.Snapshot())
	}
}

// generateJobID generates a unique, time-ordered job ID
func generateJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return JobIDPrefix + uuid.NewString()
	}
	return JobIDPrefix + id.String()
}
