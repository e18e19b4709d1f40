package progress

import (
	"context"
	"log/slog"
	"sync"
)

// LogRenderer writes status text to a logger. A render whose text equals the
// previous one for the same job is rejected with ErrNotModified.
type LogRenderer struct {
	log      *slog.Logger
	messages *Messages

	mu   sync.Mutex
	last map[string]string
}

// NewLogRenderer creates a renderer that logs at info level
func NewLogRenderer(log *slog.Logger, messages *Messages) *LogRenderer {
	return &LogRenderer{
		log:      log,
		messages: messages,
		last:     make(map[string]string),
	}
}

// Render logs the formatted status text of snap
func (r *LogRenderer) Render(_ context.Context, snap Snapshot) error {
	text := FormatText(r.messages, snap)

	r.mu.Lock()
	if r.last[snap.JobID] == text {
		r.mu.Unlock()
		return ErrNotModified
	}
	r.last[snap.JobID] = text
	r.mu.Unlock()

	r.log.Info("progress",
		slog.String("job_id", snap.JobID),
		slog.String("stage", snap.Stage.String()),
		slog.Int64("bytes", snap.Done),
		slog.Int64("total", snap.Total),
		slog.String("text", text),
	)
	return nil
}

// Forget drops the remembered text of jobID
func (r *LogRenderer) Forget(jobID string) {
	r.mu.Lock()
	delete(r.last, jobID)
	r.mu.Unlock()
}

// Multi fans a snapshot out to several renderers and returns the first error.
// Forget reaches every renderer that implements Forgetter.
func Multi(renderers ...Renderer) Renderer {
	return multi(renderers)
}

type multi []Renderer

func (m multi) Render(ctx context.Context, snap Snapshot) error {
	var first error
	for _, r := range m {
		if err := r.Render(ctx, snap); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m multi) Forget(jobID string) {
	for _, r := range m {
		if f, ok := r.(Forgetter); ok {
			f.Forget(jobID)
		}
	}
}
