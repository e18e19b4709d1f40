// Package execx runs external media tools (ffmpeg, ffprobe) with an upper time
// bound, a termination signal on cancellation, and captured output.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/ytget/mediarelay/internal/model"
)

// KillGrace is how long a process gets after SIGTERM before it is killed
const KillGrace = 5 * time.Second

// maxCapturedStderr bounds the stderr kept for diagnostics
const maxCapturedStderr = 64 * 1024

// Result contains captured output of one invocation
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts process execution so stages can be tested without binaries.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner executes commands via os/exec
type ExecRunner struct {
	// Timeout bounds every invocation; zero means no bound beyond ctx
	Timeout time.Duration
}

// NewExecRunner creates a runner with the given per-invocation bound
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

// Run executes one command. Cancellation of ctx sends SIGTERM, then kills after KillGrace.
// Exceeding the timeout returns an error wrapping model.ErrTimeout; cancellation of the
// parent context returns an error wrapping model.ErrCancelled.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = KillGrace

	var stdout bytes.Buffer
	stderr := &tailBuffer{limit: maxCapturedStderr}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err == nil {
		return result, nil
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}

	switch {
	case ctx.Err() != nil:
		return result, fmt.Errorf("%s: %w", name, model.ErrCancelled)
	case runCtx.Err() != nil:
		return result, fmt.Errorf("%s exceeded %v: %w", name, r.Timeout, model.ErrTimeout)
	default:
		return result, fmt.Errorf("%s exited with code %d: %w%s", name, result.ExitCode, err, stderrHint(result.Stderr))
	}
}

// stderrHint returns the last non-empty stderr line for diagnostics
func stderrHint(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return ""
	}
	return " (" + last + ")"
}

// tailBuffer keeps only the last limit bytes written
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
