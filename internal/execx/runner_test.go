package execx

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/mediarelay/internal/model"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunnerCapturesOutput(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(5 * time.Second)

	res, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err 1>&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestExecRunnerNonZeroExit(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(5 * time.Second)

	res, err := r.Run(context.Background(), "sh", "-c", "echo broken input 1>&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "broken input")
	assert.False(t, errors.Is(err, model.ErrTimeout))
}

func TestExecRunnerTimeout(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(100 * time.Millisecond)

	_, err := r.Run(context.Background(), "sh", "-c", "exec sleep 5")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTimeout)
}

func TestExecRunnerCancellation(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(0)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := r.Run(ctx, "sh", "-c", "exec sleep 5")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrCancelled)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	b := &tailBuffer{limit: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "defg", b.String())
}
