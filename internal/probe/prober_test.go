package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/mediarelay/internal/execx"
	"github.com/ytget/mediarelay/internal/model"
)

const sampleMP4 = `{
  "streams": [
    {
      "index": 0,
      "codec_name": "mjpeg",
      "codec_type": "video",
      "width": 600,
      "height": 900,
      "disposition": { "default": 0, "attached_pic": 1 }
    },
    {
      "index": 1,
      "codec_name": "h264",
      "codec_type": "video",
      "width": 1280,
      "height": 720,
      "duration": "95.120000",
      "disposition": { "default": 1, "attached_pic": 0 }
    },
    {
      "index": 2,
      "codec_name": "aac",
      "codec_type": "audio",
      "disposition": { "default": 1 }
    }
  ],
  "format": {
    "filename": "/work/dl_job-1.mp4",
    "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
    "duration": "95.145000",
    "size": "12345678"
  }
}`

type fakeRunner struct {
	probeOut   string
	probeErr   error
	thumbErr   error
	thumbCalls [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (execx.Result, error) {
	switch name {
	case FFprobeCommand:
		return execx.Result{Stdout: f.probeOut}, f.probeErr
	case FFmpegCommand:
		f.thumbCalls = append(f.thumbCalls, args)
		if f.thumbErr != nil {
			return execx.Result{ExitCode: 1}, f.thumbErr
		}
		dest := args[len(args)-1]
		return execx.Result{}, os.WriteFile(dest, []byte("jpeg"), 0o644)
	}
	return execx.Result{}, fmt.Errorf("unexpected command %s", name)
}

func mediaFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dl_job-1.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestParseJSON(t *testing.T) {
	pr, err := ParseJSON([]byte(sampleMP4))
	require.NoError(t, err)

	require.NotNil(t, pr.PrimaryVideo)
	assert.Equal(t, 1, pr.PrimaryVideo.Index, "attached pic is skipped")
	assert.Equal(t, 1280, pr.PrimaryVideo.Width)
	assert.Equal(t, 720, pr.PrimaryVideo.Height)
	assert.Equal(t, 1, pr.AudioStreams)
	assert.InDelta(t, 95.145, pr.Duration(), 0.0001)
	assert.Equal(t, int64(12345678), pr.Format.Size)
}

func TestParseJSON_DurationFallsBackToStream(t *testing.T) {
	pr, err := ParseJSON([]byte(`{"streams":[{"codec_type":"video","width":640,"height":360,"duration":"12.5"}],"format":{}}`))
	require.NoError(t, err)
	assert.InDelta(t, 12.5, pr.Duration(), 0.0001)
}

func TestParseJSON_InvalidJSON(t *testing.T) {
	_, err := ParseJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestProbe(t *testing.T) {
	p := NewProber(Config{}, &fakeRunner{probeOut: sampleMP4}, nil)
	meta, err := p.Probe(context.Background(), mediaFile(t, 10))
	require.NoError(t, err)

	assert.Equal(t, 1280, meta.Width)
	assert.Equal(t, 720, meta.Height)
	assert.InDelta(t, 95.145, meta.DurationSeconds, 0.0001)
	assert.Empty(t, meta.ThumbnailPath)
}

func TestProbe_Failures(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.mp4")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	tests := []struct {
		name   string
		path   string
		runner *fakeRunner
	}{
		{"missing file", filepath.Join(dir, "missing.mp4"), &fakeRunner{probeOut: sampleMP4}},
		{"empty file", empty, &fakeRunner{probeOut: sampleMP4}},
		{"ffprobe error", mediaFile(t, 10), &fakeRunner{probeErr: errors.New("exit status 1")}},
		{"garbage output", mediaFile(t, 10), &fakeRunner{probeOut: "garbage"}},
		{"audio only", mediaFile(t, 10), &fakeRunner{probeOut: `{"streams":[{"codec_type":"audio"}],"format":{"duration":"10"}}`}},
		{"zero dimensions", mediaFile(t, 10), &fakeRunner{probeOut: `{"streams":[{"codec_type":"video"}],"format":{"duration":"10"}}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProber(Config{}, tt.runner, nil).Probe(context.Background(), tt.path)
			assert.ErrorIs(t, err, model.ErrMetadataUnavailable)
		})
	}
}

func TestThumbnailOffset(t *testing.T) {
	tests := []struct {
		duration float64
		expected float64
	}{
		{0, 0},
		{0.5, 0},
		{10, 9},
		{31, 30},
		{3600, 30},
	}

	for _, test := range tests {
		if got := ThumbnailOffset(test.duration); got != test.expected {
			t.Errorf("ThumbnailOffset(%v) = %v, expected %v", test.duration, got, test.expected)
		}
	}
}

func TestInspect(t *testing.T) {
	runner := &fakeRunner{probeOut: sampleMP4}
	p := NewProber(Config{}, runner, nil)
	thumb := filepath.Join(t.TempDir(), "thumb_job-1.jpg")

	meta, err := p.Inspect(context.Background(), mediaFile(t, 10), thumb, false)
	require.NoError(t, err)
	assert.Equal(t, thumb, meta.ThumbnailPath)
	require.Len(t, runner.thumbCalls, 1)
	assert.Equal(t, "30.000", argAfter(runner.thumbCalls[0], "-ss"))

	meta, err = p.Inspect(context.Background(), mediaFile(t, 10), thumb, true)
	require.NoError(t, err)
	assert.Equal(t, "2.000", argAfter(runner.thumbCalls[1], "-ss"))
	assert.NotEmpty(t, meta.ThumbnailPath)
}

func TestInspect_ThumbnailFailureDegrades(t *testing.T) {
	runner := &fakeRunner{probeOut: sampleMP4, thumbErr: errors.New("exit status 1")}
	p := NewProber(Config{}, runner, nil)
	thumb := filepath.Join(t.TempDir(), "thumb_job-1.jpg")

	meta, err := p.Inspect(context.Background(), mediaFile(t, 10), thumb, false)
	require.NoError(t, err)
	assert.True(t, meta.Valid())
	assert.Empty(t, meta.ThumbnailPath)
}

func TestInspect_ThumbnailCancelled(t *testing.T) {
	runner := &fakeRunner{probeOut: sampleMP4, thumbErr: fmt.Errorf("ffmpeg: %w", model.ErrCancelled)}
	p := NewProber(Config{}, runner, nil)

	_, err := p.Inspect(context.Background(), mediaFile(t, 10), filepath.Join(t.TempDir(), "t.jpg"), false)
	assert.ErrorIs(t, err, model.ErrCancelled)
}
