package delivery

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/mediarelay/internal/model"
)

func writeTemp(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func readSidecar(t *testing.T, path string) Sidecar {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var sc Sidecar
	require.NoError(t, json.Unmarshal(data, &sc))
	return sc
}

func TestDirectorySink_DeliverVideo(t *testing.T) {
	work := t.TempDir()
	out := filepath.Join(t.TempDir(), "delivered")
	src := writeTemp(t, work, "dl_job-1.mp4", 3<<20+5)
	thumb := writeTemp(t, work, "thumb_job-1.jpg", 10)

	var seen []int64
	progress := func(done, total int64) error {
		assert.Equal(t, int64(3<<20+5), total)
		seen = append(seen, done)
		return nil
	}

	payload := model.Payload{
		JobID: "job-1",
		Path:  src,
		Kind:  model.PayloadVideo,
		Metadata: &model.MediaMetadata{
			DurationSeconds: 12.5, Width: 1280, Height: 720, ThumbnailPath: thumb,
		},
	}
	require.NoError(t, NewDirectorySink(out, nil).Deliver(context.Background(), payload, progress))

	info, err := os.Stat(filepath.Join(out, "job-1.mp4"))
	require.NoError(t, err)
	assert.Equal(t, int64(3<<20+5), info.Size())
	assert.FileExists(t, filepath.Join(out, "job-1.jpg"))
	require.NotEmpty(t, seen)
	assert.Equal(t, int64(3<<20+5), seen[len(seen)-1])

	sc := readSidecar(t, filepath.Join(out, "job-1.json"))
	assert.Equal(t, model.PayloadVideo, sc.Kind)
	assert.Equal(t, "job-1.jpg", sc.Thumbnail)
	require.NotNil(t, sc.Metadata)
	assert.Equal(t, 1280, sc.Metadata.Width)
	assert.Empty(t, sc.Metadata.ThumbnailPath, "local thumbnail path is not published")

	_, err = os.Stat(src)
	assert.NoError(t, err, "the source stays owned by the job")
}

func TestDirectorySink_DeliverDocument(t *testing.T) {
	work := t.TempDir()
	out := t.TempDir()
	src := writeTemp(t, work, "dl_job-2.webm", 100)

	payload := model.Payload{JobID: "job-2", Path: src, Kind: model.PayloadDocument}
	require.NoError(t, NewDirectorySink(out, nil).Deliver(context.Background(), payload, nil))

	assert.FileExists(t, filepath.Join(out, "job-2.webm"))
	assert.NoFileExists(t, filepath.Join(out, "job-2.jpg"))
	sc := readSidecar(t, filepath.Join(out, "job-2.json"))
	assert.Equal(t, model.PayloadDocument, sc.Kind)
	assert.Nil(t, sc.Metadata)
}

func TestDirectorySink_MissingThumbnailIsTolerated(t *testing.T) {
	work := t.TempDir()
	out := t.TempDir()
	src := writeTemp(t, work, "dl_job-3.mp4", 100)

	payload := model.Payload{
		JobID:    "job-3",
		Path:     src,
		Kind:     model.PayloadVideo,
		Metadata: &model.MediaMetadata{DurationSeconds: 1, Width: 2, Height: 2, ThumbnailPath: filepath.Join(work, "gone.jpg")},
	}
	require.NoError(t, NewDirectorySink(out, nil).Deliver(context.Background(), payload, nil))
	assert.Empty(t, readSidecar(t, filepath.Join(out, "job-3.json")).Thumbnail)
}

func TestDirectorySink_CancelledRemovesPartialOutput(t *testing.T) {
	work := t.TempDir()
	out := t.TempDir()
	src := writeTemp(t, work, "dl_job-4.mp4", 4<<20)

	calls := 0
	progress := func(done, total int64) error {
		calls++
		return model.ErrCancelled
	}

	payload := model.Payload{JobID: "job-4", Path: src, Kind: model.PayloadDocument}
	err := NewDirectorySink(out, nil).Deliver(context.Background(), payload, progress)

	require.ErrorIs(t, err, model.ErrCancelled)
	assert.Equal(t, 1, calls)
	assert.NoFileExists(t, filepath.Join(out, "job-4.mp4"))
	assert.NoFileExists(t, filepath.Join(out, "job-4.json"))
}

func TestDirectorySink_MissingSource(t *testing.T) {
	payload := model.Payload{JobID: "job-5", Path: filepath.Join(t.TempDir(), "missing.mp4"), Kind: model.PayloadDocument}
	assert.Error(t, NewDirectorySink(t.TempDir(), nil).Deliver(context.Background(), payload, nil))
}
