package compress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ytget/mediarelay/internal/execx"
	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/model"
)

// FFmpeg constants for compression settings
const (
	VideoCodec     = "libx264"
	VideoPreset    = "medium"
	PixelFormat    = "yuv420p"
	AudioCodec     = "aac"
	FastStartFlag  = "+faststart"
	FFmpegCommand  = "ffmpeg"
	LogLevelErrors = "error"

	CompressedSuffix   = "-compressed"
	OutputExtensionMP4 = ".mp4"

	DefaultPollInterval = 2 * time.Second
	DefaultHeadroom     = 0.95
)

// Config configures the transcoder
type Config struct {
	FFmpegPath   string
	Preset       string
	Limits       Limits
	Headroom     float64
	PollInterval time.Duration
}

// Result describes the transcoded file
type Result struct {
	Path   string
	Size   int64
	Plan   Plan
	Passes int
}

// Transcoder re-encodes a file to a solved bitrate. If the first pass still
// exceeds the budget it runs exactly one corrective pass at a lower bitrate.
type Transcoder struct {
	cfg    Config
	runner execx.Runner
	log    *slog.Logger
}

// NewTranscoder creates a transcoder that runs ffmpeg through runner
func NewTranscoder(cfg Config, runner execx.Runner, log *slog.Logger) *Transcoder {
	if log == nil {
		log = logging.Discard()
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = FFmpegCommand
	}
	if cfg.Preset == "" {
		cfg.Preset = VideoPreset
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	if cfg.Headroom <= 0 || cfg.Headroom > 1 {
		cfg.Headroom = DefaultHeadroom
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Transcoder{cfg: cfg, runner: runner, log: log}
}

// Compress encodes inputPath into a sibling "-compressed.mp4" file no larger than budgetBytes.
// The bitrate is solved against budget*headroom; the result is checked against the budget itself.
func (t *Transcoder) Compress(ctx context.Context, inputPath string, durationSeconds float64, budgetBytes int64, progress model.ProgressFunc, opts ...Option) (Result, error) {
	var call callOptions
	for _, opt := range opts {
		opt(&call)
	}

	target := int64(float64(budgetBytes) * t.cfg.Headroom)
	plan, err := SolveBitrate(target, durationSeconds, t.cfg.Limits)
	if err != nil {
		return Result{}, model.NewJobError(model.ErrBudgetExceeded, model.StageTranscoding, "", err)
	}

	outputPath := generateOutputPath(inputPath)
	log := t.log.With(slog.String("input", filepath.Base(inputPath)))

	log.Info("transcoding",
		slog.Int("video_kbps", plan.VideoKbps),
		slog.Int("audio_kbps", plan.AudioKbps),
		slog.Float64("duration", durationSeconds),
		slog.Int64("budget", budgetBytes),
	)
	size, err := t.encode(ctx, inputPath, outputPath, plan, budgetBytes, progress)
	if err != nil {
		return Result{Path: outputPath}, err
	}
	if size <= budgetBytes {
		return Result{Path: outputPath, Size: size, Plan: plan, Passes: 1}, nil
	}

	corrected := plan.Corrected()
	log.Warn("output over budget, running corrective pass",
		slog.Int64("bytes", size),
		slog.Int("video_kbps", corrected.VideoKbps),
	)
	if call.passStart != nil {
		call.passStart(2)
	}
	size, err = t.encode(ctx, inputPath, outputPath, corrected, budgetBytes, progress)
	if err != nil {
		return Result{Path: outputPath}, err
	}
	if size > budgetBytes {
		os.Remove(outputPath)
		msg := fmt.Sprintf("%d bytes after corrective pass, budget %d", size, budgetBytes)
		return Result{Path: outputPath, Size: size, Plan: corrected, Passes: 2},
			model.NewJobError(model.ErrTranscodeOverBudget, model.StageTranscoding, msg, nil)
	}
	return Result{Path: outputPath, Size: size, Plan: corrected, Passes: 2}, nil
}

// encode runs one ffmpeg pass and returns the output size. The output size is
// polled and reported as progress against the budget.
func (t *Transcoder) encode(ctx context.Context, inputPath, outputPath string, plan Plan, budgetBytes int64, progress model.ProgressFunc) (int64, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	if progress != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.pollSize(ctx, stop, outputPath, budgetBytes, progress, cancel)
		}()
	}

	_, err := t.runner.Run(ctx, t.cfg.FFmpegPath, t.BuildFFmpegArgs(inputPath, outputPath, plan)...)
	close(stop)
	wg.Wait()

	if err != nil {
		os.Remove(outputPath)
		switch {
		case errors.Is(err, model.ErrCancelled) || errors.Is(context.Cause(ctx), model.ErrCancelled):
			return 0, model.NewJobError(model.ErrCancelled, model.StageTranscoding, "", err)
		case errors.Is(err, model.ErrTimeout):
			return 0, model.NewJobError(model.ErrTranscodeFailed, model.StageTranscoding, "encoder timed out", err)
		default:
			return 0, model.NewJobError(model.ErrTranscodeFailed, model.StageTranscoding, "", err)
		}
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return 0, model.NewJobError(model.ErrTranscodeFailed, model.StageTranscoding, "encoder produced no output", err)
	}
	if progress != nil {
		reported := info.Size()
		if reported > budgetBytes {
			reported = budgetBytes
		}
		if err := progress(reported, budgetBytes); err != nil {
			return 0, model.NewJobError(model.ErrCancelled, model.StageTranscoding, "", err)
		}
	}
	return info.Size(), nil
}

func (t *Transcoder) pollSize(ctx context.Context, stop <-chan struct{}, path string, budgetBytes int64, progress model.ProgressFunc, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if err := progress(info.Size(), budgetBytes); err != nil {
				cancel(err)
				return
			}
		}
	}
}

// BuildFFmpegArgs builds the ffmpeg command arguments for one pass
func (t *Transcoder) BuildFFmpegArgs(inputPath, outputPath string, plan Plan) []string {
	return []string{
		"-hide_banner",
		"-loglevel", LogLevelErrors,
		"-y",            // Overwrite output file
		"-i", inputPath, // Input file
		"-c:v", VideoCodec,
		"-preset", t.cfg.Preset,
		"-b:v", kbps(plan.VideoKbps),
		"-maxrate", kbps(plan.MaxrateKbps),
		"-bufsize", kbps(plan.BufsizeKbps),
		"-pix_fmt", PixelFormat,
		"-c:a", AudioCodec,
		"-b:a", kbps(plan.AudioKbps),
		"-movflags", FastStartFlag, // MP4 optimization
		outputPath,
	}
}

func kbps(v int) string {
	return strconv.Itoa(v) + "k"
}

// generateOutputPath generates the output path for compressed file
func generateOutputPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	baseName := strings.TrimSuffix(inputPath, ext)
	return baseName + CompressedSuffix + OutputExtensionMP4
}
