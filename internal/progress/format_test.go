package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/model"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in       int64
		expected string
	}{
		{0, "0.00 B"},
		{1023, "1023.00 B"},
		{1024, "1.00 KiB"},
		{1536, "1.50 KiB"},
		{500_000_000, "476.84 MiB"},
		{2 << 30, "2.00 GiB"},
		{3 << 40, "3.00 TiB"},
	}

	for _, test := range tests {
		if result := FormatBytes(test.in); result != test.expected {
			t.Errorf("FormatBytes(%d) = %s, expected %s", test.in, result, test.expected)
		}
	}
}

func TestFormatText(t *testing.T) {
	messages := NewMessages("en")

	withTotal := Snapshot{Stage: model.StageAcquiring, Done: 512, Total: 1024, Speed: 256, ETA: 2 * time.Second}
	assert.Equal(t, "Downloading...\n50.0% (512.00 B of 1.00 KiB)\nSpeed: 256.00 B/s · ETA: 00:02", FormatText(messages, withTotal))

	noTotal := Snapshot{Stage: model.StageAcquiring, Done: 512, ETA: -1}
	assert.Equal(t, "Downloading...\n512.00 B transferred\nSpeed: 0.00 B/s", FormatText(messages, noTotal))
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "en", NewMessages("de").Language())
	assert.Equal(t, "Готово", NewMessages("ru").Stage(model.StageDone))
	assert.Equal(t, "Enviando...", NewMessages("pt").Stage(model.StageDelivering))
	assert.Equal(t, "Custom", NewMessages("en").Stage(model.Stage("Custom")))

	for lang := range AvailableLanguages() {
		msgs := NewMessages(lang)
		assert.Equal(t, lang, msgs.Language())
		assert.NotEqual(t, string(model.StageTranscoding), msgs.Stage(model.StageTranscoding), lang)
	}
}

func TestLogRenderer_NotModified(t *testing.T) {
	r := NewLogRenderer(logging.Discard(), NewMessages("en"))
	snap := Snapshot{JobID: "job-1", Stage: model.StageAcquiring, Done: 10, Total: 100, ETA: -1}

	require.NoError(t, r.Render(context.Background(), snap))
	assert.ErrorIs(t, r.Render(context.Background(), snap), ErrNotModified)

	snap.Done = 20
	assert.NoError(t, r.Render(context.Background(), snap))

	r.Forget("job-1")
	assert.NoError(t, r.Render(context.Background(), snap))
}

func TestMulti(t *testing.T) {
	a := &recordingRenderer{}
	b := &recordingRenderer{fail: 1}
	err := Multi(a, b).Render(context.Background(), Snapshot{JobID: "job-1"})

	assert.ErrorIs(t, err, ErrNotModified)
	assert.Len(t, a.Snapshots(), 1)
}
