package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/model"
	"github.com/ytget/mediarelay/internal/platform"
)

const (
	// ytdlpProgressInterval is how often go-ytdlp reports download progress
	ytdlpProgressInterval = 500 * time.Millisecond

	mergeFormat = "mp4"
)

// hostReferers lists sites that reject requests without a referer of their own
var hostReferers = map[string]string{
	"xvideos.com": "https://www.xvideos.com/",
}

// ExtractorConfig configures the yt-dlp backend
type ExtractorConfig struct {
	Hosts           []string
	MaxHeight       int
	UserAgent       string
	DryRunTimeout   time.Duration
	DownloadTimeout time.Duration
	Retries         int
	RetryBackoff    time.Duration
}

// hostOptions are the per-source flags handed to yt-dlp
type hostOptions struct {
	Format  string
	Headers []string // "Name:Value"
}

// progressHook receives raw counters of the stream currently being downloaded
type progressHook func(downloaded, total int64, title string)

// extractorClient is the seam between the backend and the yt-dlp process
type extractorClient interface {
	Resolve(ctx context.Context, source string, opts hostOptions) error
	Download(ctx context.Context, source, outputTemplate string, opts hostOptions, hook progressHook) (string, error)
}

// Extractor is the site-specific acquisition backend
type Extractor struct {
	cfg    ExtractorConfig
	client extractorClient
	log    *slog.Logger
}

// NewExtractor creates an extractor backed by the yt-dlp binary
func NewExtractor(cfg ExtractorConfig, log *slog.Logger) *Extractor {
	return newExtractor(cfg, ytdlpClient{}, log)
}

func newExtractor(cfg ExtractorConfig, client extractorClient, log *slog.Logger) *Extractor {
	if log == nil {
		log = logging.Discard()
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = 720
	}
	return &Extractor{cfg: cfg, client: client, log: log}
}

// Supports reports whether source is on a recognized host
func (e *Extractor) Supports(source string) bool {
	host := hostOf(source)
	if host == "" {
		return false
	}
	for _, domain := range e.cfg.Hosts {
		if matchHost(host, domain) {
			return true
		}
	}
	return false
}

// Resolve performs a metadata-only dry run of source
func (e *Extractor) Resolve(ctx context.Context, source string) error {
	if e.cfg.DryRunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.DryRunTimeout)
		defer cancel()
	}
	if err := e.client.Resolve(ctx, source, e.optionsFor(source)); err != nil {
		return classifyContextErr(ctx, fmt.Errorf("dry run: %w", err))
	}
	return nil
}

// Acquire downloads source next to destPath. yt-dlp picks the extension, so
// the returned path may differ from destPath.
func (e *Extractor) Acquire(ctx context.Context, source, destPath string, progress model.ProgressFunc) (Artifact, error) {
	if e.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.DownloadTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	template := strings.TrimSuffix(destPath, filepath.Ext(destPath)) + ".%(ext)s"
	opts := e.optionsFor(source)
	acc := &streamAccumulator{}

	hook := func(downloaded, total int64, title string) {
		acc.setTitle(title)
		done, sum := acc.add(downloaded, total)
		if progress == nil {
			return
		}
		if err := progress(done, sum); err != nil {
			cancel(err)
		}
	}

	var (
		written string
		lastErr error
	)
	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.cfg.RetryBackoff):
			case <-ctx.Done():
				return Artifact{Strategy: StrategyExtractor}, classifyContextErr(ctx, lastErr)
			}
			e.log.Info("retrying extractor download",
				slog.String("source", source),
				slog.Int("attempt", attempt+1),
			)
			acc.reset()
		}

		written, lastErr = e.client.Download(ctx, source, template, opts, hook)
		if lastErr == nil {
			break
		}
		e.log.Warn("extractor download attempt failed",
			slog.String("source", source),
			slog.Int("attempt", attempt+1),
			logging.Err(lastErr),
		)
		if ctx.Err() != nil {
			return Artifact{Strategy: StrategyExtractor}, classifyContextErr(ctx, lastErr)
		}
	}
	if lastErr != nil {
		return Artifact{Strategy: StrategyExtractor}, lastErr
	}

	if written == "" {
		written = destPath
	}
	path, err := platform.FindFileWithFallback(written)
	if err != nil {
		if path, err = platform.FindFileWithFallback(destPath); err != nil {
			return Artifact{Strategy: StrategyExtractor}, fmt.Errorf("locate output: %w", err)
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{Strategy: StrategyExtractor}, err
	}
	if progress != nil {
		if err := progress(info.Size(), info.Size()); err != nil {
			return Artifact{Strategy: StrategyExtractor, Path: path}, err
		}
	}
	return Artifact{Strategy: StrategyExtractor, Path: path, Title: acc.title(), Size: info.Size()}, nil
}

func (e *Extractor) optionsFor(source string) hostOptions {
	h := e.cfg.MaxHeight
	opts := hostOptions{
		Format: fmt.Sprintf("bestvideo[height<=%d][ext=mp4]+bestaudio[ext=m4a]/best[height<=%d][ext=mp4]/best", h, h),
	}
	if e.cfg.UserAgent != "" {
		opts.Headers = append(opts.Headers, "User-Agent:"+e.cfg.UserAgent)
	}
	host := hostOf(source)
	for domain, referer := range hostReferers {
		if matchHost(host, domain) {
			opts.Headers = append(opts.Headers, "Referer:"+referer)
		}
	}
	return opts
}

// streamAccumulator turns per-stream counters into one job-wide sequence.
// yt-dlp restarts its counters when it moves from the video to the audio stream.
type streamAccumulator struct {
	mu         sync.Mutex
	offset     int64
	lastDone   int64
	lastTotal  int64
	mediaTitle string
}

func (a *streamAccumulator) add(downloaded, total int64) (done, sum int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if downloaded < a.lastDone {
		finished := a.lastTotal
		if finished < a.lastDone {
			finished = a.lastDone
		}
		a.offset += finished
	}
	a.lastDone = downloaded
	if total > 0 {
		a.lastTotal = total
	}

	done = a.offset + downloaded
	if a.lastTotal > 0 {
		sum = a.offset + a.lastTotal
	}
	return done, sum
}

func (a *streamAccumulator) reset() {
	a.mu.Lock()
	a.offset, a.lastDone, a.lastTotal = 0, 0, 0
	a.mu.Unlock()
}

func (a *streamAccumulator) setTitle(title string) {
	if title == "" {
		return
	}
	a.mu.Lock()
	if a.mediaTitle == "" {
		a.mediaTitle = title
	}
	a.mu.Unlock()
}

func (a *streamAccumulator) title() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mediaTitle
}

// classifyContextErr maps a finished context onto the error taxonomy
func classifyContextErr(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	switch {
	case cause == nil:
		return err
	case errors.Is(cause, model.ErrCancelled), errors.Is(cause, context.Canceled):
		return fmt.Errorf("%w: %v", model.ErrCancelled, err)
	case errors.Is(cause, context.DeadlineExceeded):
		return errors.Join(model.ErrTimeout, err)
	default:
		return errors.Join(cause, err)
	}
}

// ytdlpClient runs yt-dlp through go-ytdlp
type ytdlpClient struct{}

func (ytdlpClient) Resolve(ctx context.Context, source string, opts hostOptions) error {
	cmd := ytdlp.New().
		Simulate().
		NoPlaylist().
		Format(opts.Format)
	for _, h := range opts.Headers {
		cmd.AddHeaders(h)
	}
	_, err := cmd.Run(ctx, source)
	return err
}

func (ytdlpClient) Download(ctx context.Context, source, outputTemplate string, opts hostOptions, hook progressHook) (string, error) {
	cmd := ytdlp.New().
		ForceOverwrites().
		RestrictFilenames().
		NoPlaylist().
		Format(opts.Format).
		MergeOutputFormat(mergeFormat).
		Output(outputTemplate)
	for _, h := range opts.Headers {
		cmd.AddHeaders(h)
	}

	cmd.ProgressFunc(ytdlpProgressInterval, func(update ytdlp.ProgressUpdate) {
		title := ""
		if update.Info != nil && update.Info.Title != nil {
			title = *update.Info.Title
		}
		hook(int64(update.DownloadedBytes), int64(update.TotalBytes), title)
	})

	result, err := cmd.Run(ctx, source)
	if err != nil {
		return "", err
	}

	if result != nil {
		info, err := result.GetExtractedInfo()
		if err == nil && len(info) > 0 && info[0].Filename != nil {
			return *info[0].Filename, nil
		}
	}
	return "", nil
}

// Install makes sure a yt-dlp binary is available, downloading it if needed
func Install(ctx context.Context) (string, error) {
	resolved, err := ytdlp.Install(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("install yt-dlp: %w", err)
	}
	return resolved.Executable, nil
}

// InstallFFmpeg makes sure ffmpeg and ffprobe are available, downloading them
// into the go-ytdlp cache if they are not on PATH.
func InstallFFmpeg(ctx context.Context) (ffmpeg, ffprobe string, err error) {
	resolved, err := ytdlp.InstallFFmpeg(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("install ffmpeg: %w", err)
	}
	probe, err := ytdlp.InstallFFprobe(ctx, nil)
	if err != nil {
		return resolved.Executable, "", fmt.Errorf("install ffprobe: %w", err)
	}
	return resolved.Executable, probe.Executable, nil
}
