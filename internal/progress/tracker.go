package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/model"
)

const eventBuffer = 64

var (
	// ErrUnknownJob is returned for a job id that is not registered
	ErrUnknownJob = errors.New("job is not tracked")

	// ErrAlreadyCancelled is returned when cancellation was already requested or the job finished
	ErrAlreadyCancelled = errors.New("job already cancelled or finished")

	// ErrNotModified is returned by renderers when the text did not change since the last render
	ErrNotModified = errors.New("message is not modified")
)

// Renderer turns a snapshot into a user-visible notification
type Renderer interface {
	Render(ctx context.Context, snap Snapshot) error
}

// Forgetter is implemented by renderers that keep per-job state. Forget is
// called once the job is unregistered.
type Forgetter interface {
	Forget(jobID string)
}

// RendererFunc adapts a function to Renderer
type RendererFunc func(ctx context.Context, snap Snapshot) error

// Render calls f
func (f RendererFunc) Render(ctx context.Context, snap Snapshot) error {
	return f(ctx, snap)
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces time.Now, used by tests to drive the rate limit
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker records raw progress per job and emits at most one rendered
// notification per job per interval. It also owns per-job cancellation.
type Tracker struct {
	interval time.Duration
	renderer Renderer
	log      *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	jobs map[string]*Reporter
}

// NewTracker creates a tracker. A nil renderer disables rendering.
func NewTracker(interval time.Duration, renderer Renderer, log *slog.Logger, opts ...Option) *Tracker {
	if log == nil {
		log = logging.Discard()
	}
	t := &Tracker{
		interval: interval,
		renderer: renderer,
		log:      log,
		now:      time.Now,
		jobs:     make(map[string]*Reporter),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register starts tracking job. The returned reporter's Context is cancelled
// when Cancel is called for the job or when parent is done.
func (t *Tracker) Register(parent context.Context, job *model.TransferJob) *Reporter {
	ctx, cancel := context.WithCancelCause(parent)
	r := &Reporter{
		tracker: t,
		job:     job,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan event, eventBuffer),
		stopped: make(chan struct{}),
		stage:   job.Stage(),
		start:   t.now(),
	}

	t.mu.Lock()
	t.jobs[job.ID] = r
	t.mu.Unlock()

	go r.loop()
	return r
}

// Update records raw progress for jobID. It returns model.ErrCancelled once
// the job has been cancelled.
func (t *Tracker) Update(jobID string, done, total int64) error {
	r, ok := t.lookup(jobID)
	if !ok {
		return ErrUnknownJob
	}
	return r.Update(done, total)
}

// Cancel requests cancellation of jobID. It can succeed only once per job.
func (t *Tracker) Cancel(jobID string) error {
	r, ok := t.lookup(jobID)
	if !ok {
		return ErrUnknownJob
	}
	if !r.job.MarkCancelRequested() {
		return ErrAlreadyCancelled
	}
	r.cancel(model.ErrCancelled)
	t.log.Info("cancellation requested", slog.String("job_id", jobID))
	return nil
}

// Unregister stops tracking jobID after draining its pending events
func (t *Tracker) Unregister(jobID string) {
	t.mu.Lock()
	r, ok := t.jobs[jobID]
	delete(t.jobs, jobID)
	t.mu.Unlock()
	if ok {
		r.Close()
	}
	if f, ok := t.renderer.(Forgetter); ok {
		f.Forget(jobID)
	}
}

// Tracked reports the number of registered jobs
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

func (t *Tracker) lookup(jobID string) (*Reporter, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.jobs[jobID]
	return r, ok
}

type eventKind int

const (
	eventProgress eventKind = iota
	eventStage
	eventFlush
)

type event struct {
	kind  eventKind
	stage model.Stage
	data  model.ProgressEvent
	ack   chan struct{}
}

// Reporter is the per-job handle used by stage components. Updates may come
// from any goroutine; they are queued and applied in order by a single
// goroutine that owns the job's rate-limit clock.
type Reporter struct {
	tracker *Tracker
	job     *model.TransferJob
	ctx     context.Context
	cancel  context.CancelCauseFunc

	sendMu  sync.RWMutex
	closed  bool
	events  chan event
	stopped chan struct{}

	// owned by loop
	stage    model.Stage
	start    time.Time
	lastEmit time.Time
	done     int64
	total    int64
}

// Context returns the job context, cancelled on Cancel
func (r *Reporter) Context() context.Context {
	return r.ctx
}

// Err returns model.ErrCancelled after cancellation, the parent's error if it
// ended, or nil.
func (r *Reporter) Err() error {
	if r.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(r.ctx)
	if errors.Is(cause, model.ErrCancelled) || errors.Is(cause, context.Canceled) {
		return model.ErrCancelled
	}
	return cause
}

// Update queues a progress sample. It never blocks past cancellation.
func (r *Reporter) Update(done, total int64) error {
	if err := r.Err(); err != nil {
		return err
	}
	ev := event{kind: eventProgress, data: model.ProgressEvent{BytesDone: done, BytesTotal: total, Timestamp: r.tracker.now()}}
	if !r.send(ev) {
		return r.Err()
	}
	return nil
}

// Func returns Update as a model.ProgressFunc
func (r *Reporter) Func() model.ProgressFunc {
	return r.Update
}

// Begin starts a new stage: counters, the speed clock and the rate limit reset.
// It waits until earlier events of the job have been applied.
func (r *Reporter) Begin(stage model.Stage) {
	r.send(event{kind: eventStage, stage: stage})
	r.Flush()
}

// Flush waits until every queued event has been applied
func (r *Reporter) Flush() {
	ack := make(chan struct{})
	if r.send(event{kind: eventFlush, ack: ack}) {
		<-ack
	}
}

// Close drains the queue and stops the reporter goroutine. It is idempotent.
func (r *Reporter) Close() {
	r.sendMu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.sendMu.Unlock()
	<-r.stopped
	r.cancel(context.Canceled)
}

func (r *Reporter) send(ev event) bool {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closed {
		return false
	}
	if ev.kind != eventProgress {
		r.events <- ev
		return true
	}
	select {
	case r.events <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *Reporter) loop() {
	defer close(r.stopped)
	for ev := range r.events {
		switch ev.kind {
		case eventStage:
			r.stage = ev.stage
			r.start = r.tracker.now()
			r.lastEmit = time.Time{}
			r.done, r.total = 0, 0
			r.job.ResetProgress()
		case eventFlush:
			close(ev.ack)
		case eventProgress:
			r.apply(ev.data)
		}
	}
}

func (r *Reporter) apply(ev model.ProgressEvent) {
	if ev.BytesTotal > 0 {
		r.total = ev.BytesTotal
	}
	done := ev.BytesDone
	if r.total > 0 && done > r.total {
		done = r.total
	}
	if done > r.done {
		r.done = done
	}

	now := r.tracker.now()
	snap := Snapshot{
		JobID:     r.job.ID,
		Stage:     r.stage,
		Done:      r.done,
		Total:     r.total,
		ETA:       -1,
		Timestamp: now,
	}
	if elapsed := now.Sub(r.start).Seconds(); elapsed > 0 {
		snap.Speed = float64(r.done) / elapsed
	}
	if snap.Speed > 0 && r.total > 0 {
		snap.ETA = time.Duration(float64(r.total-r.done) / snap.Speed * float64(time.Second))
	}

	etaSec := -1
	if snap.ETA >= 0 {
		etaSec = int(snap.ETA / time.Second)
	}
	r.job.SetProgress(snap.Done, snap.Total, snap.Speed, etaSec)

	if r.tracker.renderer == nil {
		return
	}
	since := now.Sub(r.lastEmit)
	if since < 0 {
		since = 0
	}
	if !r.lastEmit.IsZero() && since < r.tracker.interval {
		return
	}
	if err := r.tracker.renderer.Render(r.ctx, snap); err != nil {
		r.tracker.log.Debug("progress render skipped",
			slog.String("job_id", r.job.ID),
			logging.Err(err),
		)
		return
	}
	r.lastEmit = now
}
