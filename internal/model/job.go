package model

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// TransferJob is one unit of work: acquire a source, fit it to a size budget, deliver it.
// It is mutated only by the orchestrator and the stage components it invokes.
type TransferJob struct {
	ID              string
	Source          string
	SizeBudgetBytes int64
	AllowTranscode  bool

	mu               sync.RWMutex
	stage            Stage
	bytesTransferred int64
	bytesTotal       int64
	cancelRequested  bool
	startedAt        time.Time
	finishedAt       time.Time
	title            string
	backend          string
	payloadKind      PayloadKind
	lastError        string
	speed            float64
	etaSec           int
}

// NewTransferJob creates a queued job
func NewTransferJob(id, source string, budget int64, allowTranscode bool) *TransferJob {
	return &TransferJob{
		ID:              id,
		Source:          source,
		SizeBudgetBytes: budget,
		AllowTranscode:  allowTranscode,
		stage:           StageQueued,
		startedAt:       time.Now(),
		etaSec:          -1,
	}
}

// Stage returns the current stage
func (j *TransferJob) Stage() Stage {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stage
}

// StartedAt returns the wall-clock start of the job
func (j *TransferJob) StartedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.startedAt
}

// Transition moves the job to the next stage, resetting per-stage byte counters.
func (j *TransferJob) Transition(to Stage) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(to)
}

// Complete moves the job to Done unless cancellation was requested, in which
// case it returns ErrCancelled and leaves the stage unchanged. The check and
// the transition happen under one lock, so a concurrent MarkCancelRequested
// either wins or fails.
func (j *TransferJob) Complete() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelRequested {
		return ErrCancelled
	}
	return j.transitionLocked(StageDone)
}

func (j *TransferJob) transitionLocked(to Stage) error {
	if j.stage == to {
		return nil
	}
	if !CanTransition(j.stage, to) {
		return fmt.Errorf("invalid transition: %s -> %s", j.stage, to)
	}
	j.stage = to
	if to == StageAcquiring {
		j.startedAt = time.Now()
	}
	if to.IsTerminal() {
		j.finishedAt = time.Now()
	} else {
		j.bytesTransferred = 0
		j.bytesTotal = 0
		j.speed = 0
		j.etaSec = -1
	}
	return nil
}

// SetProgress records progress for the current stage. Transferred bytes never go backwards
// within a stage and never exceed a known total.
func (j *TransferJob) SetProgress(done, total int64, speed float64, etaSec int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if total > 0 {
		j.bytesTotal = total
	}
	if j.bytesTotal > 0 && done > j.bytesTotal {
		done = j.bytesTotal
	}
	if done > j.bytesTransferred {
		j.bytesTransferred = done
	}
	j.speed = speed
	j.etaSec = etaSec
}

// ResetProgress clears the stage counters, used when a stage restarts its work
func (j *TransferJob) ResetProgress() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.bytesTransferred = 0
	j.bytesTotal = 0
	j.speed = 0
	j.etaSec = -1
}

// Progress returns the current stage counters
func (j *TransferJob) Progress() (done, total int64) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.bytesTransferred, j.bytesTotal
}

// MarkCancelRequested sets the cancellation flag. It reports false if the flag was already set
// or the job already finished.
func (j *TransferJob) MarkCancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelRequested || j.stage.IsTerminal() {
		return false
	}
	j.cancelRequested = true
	return true
}

// CancelRequested reports whether cancellation was requested
func (j *TransferJob) CancelRequested() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cancelRequested
}

// SetTitle records the media title resolved by the extractor
func (j *TransferJob) SetTitle(title string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.title == "" {
		j.title = title
	}
}

// SetBackend records which acquisition backend served the job
func (j *TransferJob) SetBackend(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.backend = name
}

// SetPayloadKind records the delivered payload shape
func (j *TransferJob) SetPayloadKind(kind PayloadKind) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.payloadKind = kind
}

// SetError records the terminal diagnostic
func (j *TransferJob) SetError(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastError = msg
}

// JobSnapshot is a read-only copy of a job for callers
type JobSnapshot struct {
	ID               string      `json:"id"`
	Source           string      `json:"source"`
	SizeBudgetBytes  int64       `json:"size_budget_bytes"`
	AllowTranscode   bool        `json:"allow_transcode"`
	Stage            Stage       `json:"stage"`
	BytesTransferred int64       `json:"bytes_transferred"`
	BytesTotal       int64       `json:"bytes_total"`
	Percent          int         `json:"percent"`
	Speed            float64     `json:"speed_bps"`
	ETASec           int         `json:"eta_sec"`
	CancelRequested  bool        `json:"cancel_requested"`
	Title            string      `json:"title,omitempty"`
	Backend          string      `json:"backend,omitempty"`
	PayloadKind      PayloadKind `json:"payload_kind,omitempty"`
	LastError        string      `json:"error,omitempty"`
	StartedAt        time.Time   `json:"started_at"`
	FinishedAt       time.Time   `json:"finished_at,omitempty"`
}

// Snapshot returns a consistent copy of the job state
func (j *TransferJob) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	percent := 0
	if j.bytesTotal > 0 {
		percent = int(float64(j.bytesTransferred) / float64(j.bytesTotal) * 100)
	}
	return JobSnapshot{
		ID:               j.ID,
		Source:           j.Source,
		SizeBudgetBytes:  j.SizeBudgetBytes,
		AllowTranscode:   j.AllowTranscode,
		Stage:            j.stage,
		BytesTransferred: j.bytesTransferred,
		BytesTotal:       j.bytesTotal,
		Percent:          percent,
		Speed:            j.speed,
		ETASec:           j.etaSec,
		CancelRequested:  j.cancelRequested,
		Title:            j.title,
		Backend:          j.backend,
		PayloadKind:      j.payloadKind,
		LastError:        j.lastError,
		StartedAt:        j.startedAt,
		FinishedAt:       j.finishedAt,
	}
}

// GetETAString returns ETA formatted as hh:mm:ss, or "—" if unknown
func (s JobSnapshot) GetETAString() string {
	return FormatETA(s.ETASec)
}

// FormatETA formats seconds as mm:ss or hh:mm:ss, or "—" if unknown
func FormatETA(etaSec int) string {
	if etaSec <= 0 {
		return "—"
	}

	hours := etaSec / 3600
	minutes := (etaSec % 3600) / 60
	seconds := etaSec % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// GetDisplayTitle returns the media title, or the last path segment of the source, or the source itself
func (s JobSnapshot) GetDisplayTitle() string {
	if s.Title != "" && !strings.HasPrefix(s.Title, "http") {
		return s.Title
	}

	src := s.Source
	if idx := strings.IndexAny(src, "?#"); idx >= 0 {
		src = src[:idx]
	}
	if idx := strings.Index(src, "://"); idx >= 0 {
		parts := strings.Split(strings.TrimSuffix(src[idx+3:], "/"), "/")
		if len(parts) > 1 && parts[len(parts)-1] != "" {
			return parts[len(parts)-1]
		}
	}
	return s.Source
}

// Outcome is the single terminal result of a job
type Outcome struct {
	JobID   string
	Stage   Stage
	Kind    PayloadKind
	Err     *JobError
	Message string
}

// Succeeded reports whether the job reached Done
func (o Outcome) Succeeded() bool {
	return o.Stage == StageDone
}
