package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/mediarelay/internal/model"
)

type progressStep struct {
	downloaded int64
	total      int64
	title      string
}

type fakeExtractorClient struct {
	mu          sync.Mutex
	resolveErr  error
	failures    int
	ext         string
	size        int
	steps       []progressStep
	downloads   int
	lastOpts    hostOptions
	lastOutput  string
	reportName  bool
	waitForStop bool
}

func (f *fakeExtractorClient) Resolve(_ context.Context, _ string, opts hostOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOpts = opts
	return f.resolveErr
}

func (f *fakeExtractorClient) Download(ctx context.Context, _, outputTemplate string, opts hostOptions, hook progressHook) (string, error) {
	f.mu.Lock()
	f.downloads++
	attempt := f.downloads
	f.lastOpts = opts
	f.lastOutput = outputTemplate
	f.mu.Unlock()

	for _, step := range f.steps {
		hook(step.downloaded, step.total, step.title)
	}
	if f.waitForStop {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if attempt <= f.failures {
		return "", errors.New("HTTP Error 503")
	}

	path := strings.Replace(outputTemplate, "%(ext)s", f.ext, 1)
	if err := os.WriteFile(path, make([]byte, f.size), 0o644); err != nil {
		return "", err
	}
	if f.reportName {
		return path, nil
	}
	return "", nil
}

func testExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Hosts:     []string{"youtube.com", "youtu.be", "xvideos.com"},
		MaxHeight: 720,
		UserAgent: "test-agent",
		Retries:   1,
	}
}

func TestExtractor_Supports(t *testing.T) {
	e := newExtractor(testExtractorConfig(), &fakeExtractorClient{}, nil)

	assert.True(t, e.Supports("https://www.youtube.com/watch?v=1"))
	assert.True(t, e.Supports("https://youtu.be/abc"))
	assert.False(t, e.Supports("https://cdn.example.com/a.mp4"))
	assert.False(t, e.Supports("::not a url"))
}

func TestExtractor_HostOptions(t *testing.T) {
	client := &fakeExtractorClient{}
	e := newExtractor(testExtractorConfig(), client, nil)

	require.NoError(t, e.Resolve(context.Background(), "https://www.xvideos.com/video1"))
	assert.Equal(t, "bestvideo[height<=720][ext=mp4]+bestaudio[ext=m4a]/best[height<=720][ext=mp4]/best", client.lastOpts.Format)
	assert.Contains(t, client.lastOpts.Headers, "User-Agent:test-agent")
	assert.Contains(t, client.lastOpts.Headers, "Referer:https://www.xvideos.com/")

	require.NoError(t, e.Resolve(context.Background(), "https://youtube.com/watch?v=1"))
	assert.NotContains(t, client.lastOpts.Headers, "Referer:https://www.xvideos.com/")
}

func TestExtractor_ResolveFailure(t *testing.T) {
	e := newExtractor(testExtractorConfig(), &fakeExtractorClient{resolveErr: errors.New("unsupported url")}, nil)
	assert.Error(t, e.Resolve(context.Background(), "https://youtube.com/watch?v=1"))
}

func TestExtractor_AcquireAccumulatesSeparateStreams(t *testing.T) {
	dir := t.TempDir()
	client := &fakeExtractorClient{
		ext:  "mp4",
		size: 1500,
		steps: []progressStep{
			{downloaded: 500, total: 1000, title: "Clip"},
			{downloaded: 1000, total: 1000},
			{downloaded: 200, total: 500, title: "Other"},
			{downloaded: 500, total: 500},
		},
	}
	e := newExtractor(testExtractorConfig(), client, nil)

	var seen [][2]int64
	progress := func(done, total int64) error {
		seen = append(seen, [2]int64{done, total})
		return nil
	}

	art, err := e.Acquire(context.Background(), "https://youtube.com/watch?v=1", filepath.Join(dir, "dl_job-1.mp4"), progress)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "dl_job-1.mp4"), art.Path)
	assert.Equal(t, "Clip", art.Title)
	assert.Equal(t, int64(1500), art.Size)
	assert.Equal(t, filepath.Join(dir, "dl_job-1.%(ext)s"), client.lastOutput)

	expected := [][2]int64{{500, 1000}, {1000, 1000}, {1200, 1500}, {1500, 1500}, {1500, 1500}}
	assert.Equal(t, expected, seen)
}

func TestExtractor_AcquireFindsOtherContainer(t *testing.T) {
	dir := t.TempDir()
	client := &fakeExtractorClient{ext: "mkv", size: 10}
	e := newExtractor(testExtractorConfig(), client, nil)

	art, err := e.Acquire(context.Background(), "https://youtube.com/watch?v=1", filepath.Join(dir, "dl_job-1.mp4"), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dl_job-1.mkv"), art.Path)
}

func TestExtractor_AcquireRetriesOnce(t *testing.T) {
	dir := t.TempDir()
	client := &fakeExtractorClient{ext: "mp4", size: 10, failures: 1, reportName: true}
	e := newExtractor(testExtractorConfig(), client, nil)

	_, err := e.Acquire(context.Background(), "https://youtube.com/watch?v=1", filepath.Join(dir, "dl_job-1.mp4"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, client.downloads)

	client = &fakeExtractorClient{ext: "mp4", size: 10, failures: 2}
	e = newExtractor(testExtractorConfig(), client, nil)
	_, err = e.Acquire(context.Background(), "https://youtube.com/watch?v=1", filepath.Join(dir, "dl_job-2.mp4"), nil)
	require.Error(t, err)
	assert.Equal(t, 2, client.downloads, "retries are bounded")
}

func TestExtractor_ProgressCancellationStopsDownload(t *testing.T) {
	client := &fakeExtractorClient{
		waitForStop: true,
		steps:       []progressStep{{downloaded: 10, total: 100}},
	}
	e := newExtractor(testExtractorConfig(), client, nil)

	progress := func(done, total int64) error { return model.ErrCancelled }
	_, err := e.Acquire(context.Background(), "https://youtube.com/watch?v=1", filepath.Join(t.TempDir(), "dl_job-1.mp4"), progress)

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrCancelled)
	assert.Equal(t, 1, client.downloads, "a cancelled download is not retried")
}
