// Package app wires configuration into the running relay: the stage
// components, the orchestrator, the job service and the crash journal.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ytget/mediarelay/internal/compress"
	"github.com/ytget/mediarelay/internal/config"
	"github.com/ytget/mediarelay/internal/delivery"
	"github.com/ytget/mediarelay/internal/download"
	"github.com/ytget/mediarelay/internal/execx"
	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/pipeline"
	"github.com/ytget/mediarelay/internal/platform"
	"github.com/ytget/mediarelay/internal/probe"
	"github.com/ytget/mediarelay/internal/progress"
	"github.com/ytget/mediarelay/internal/storage"
	"github.com/ytget/mediarelay/internal/workers"
)

// App holds the long-lived parts of a running relay
type App struct {
	Config  *config.Config
	Service *pipeline.Service
	Journal *storage.Journal
	Pool    *workers.Pool
	Sink    *delivery.DirectorySink

	log *slog.Logger
}

// Build prepares directories, purges leftovers of a previous run and
// assembles the pipeline. Extra renderers receive every progress notification
// alongside the log.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, renderers ...progress.Renderer) (*App, error) {
	if log == nil {
		log = logging.Discard()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.WorkDir, cfg.OutputDir} {
		if err := platform.CreateDirectoryIfNotExists(dir); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	journal, err := storage.Open(cfg.JournalPath, log)
	if err != nil {
		return nil, err
	}
	if _, err := pipeline.Recover(ctx, journal, cfg.WorkDir, log); err != nil {
		log.Warn("startup purge incomplete", logging.Err(err))
	}

	var tools installedTools
	if cfg.Extractor.AutoInstall {
		installCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		tools = installTools(installCtx, log)
		cancel()
	}
	ffmpegPath := preferInstalled(cfg.Transcode.FFmpegPath, compress.FFmpegCommand, tools.ffmpeg)
	probeFFmpegPath := preferInstalled(cfg.Probe.FFmpegPath, probe.FFmpegCommand, tools.ffmpeg)
	ffprobePath := preferInstalled(cfg.Probe.FFprobePath, probe.FFprobeCommand, tools.ffprobe)

	messages := progress.NewMessages(cfg.Language)
	renderer := progress.Renderer(progress.NewLogRenderer(log, messages))
	if len(renderers) > 0 {
		renderer = progress.Multi(append([]progress.Renderer{renderer}, renderers...)...)
	}
	tracker := progress.NewTracker(cfg.Progress.Interval, renderer, log)

	extractor := download.NewExtractor(download.ExtractorConfig{
		Hosts:           cfg.Extractor.Hosts,
		MaxHeight:       cfg.Extractor.MaxHeight,
		UserAgent:       cfg.Stream.UserAgent,
		DryRunTimeout:   cfg.Extractor.DryRunTimeout,
		DownloadTimeout: cfg.Extractor.DownloadTimeout,
		Retries:         cfg.Extractor.Retries,
		RetryBackoff:    cfg.Stream.RetryBackoff,
	}, log.With(slog.String("backend", download.StrategyExtractor.String())))
	streamer := download.NewStreamer(download.StreamConfig{
		UserAgent:     cfg.Stream.UserAgent,
		HeaderTimeout: cfg.Stream.HeaderTimeout,
		ReadTimeout:   cfg.Stream.ReadTimeout,
		ChunkSize:     cfg.Stream.ChunkSize,
		Retries:       cfg.Stream.Retries,
		RetryBackoff:  cfg.Stream.RetryBackoff,
	}, log.With(slog.String("backend", download.StrategyStream.String())))

	transcoder := compress.NewTranscoder(compress.Config{
		FFmpegPath: ffmpegPath,
		Preset:     cfg.Transcode.Preset,
		Limits: compress.Limits{
			AudioKbps:    cfg.Transcode.AudioKbps,
			MinVideoKbps: cfg.Transcode.MinVideoKbps,
			MaxVideoKbps: cfg.Transcode.MaxVideoKbps,
		},
		Headroom:     cfg.Transcode.Headroom,
		PollInterval: cfg.Transcode.PollInterval,
	}, execx.NewExecRunner(cfg.Transcode.Timeout), log)

	prober := probe.NewProber(probe.Config{
		FFprobePath: ffprobePath,
		FFmpegPath:  probeFFmpegPath,
	}, execx.NewExecRunner(cfg.Probe.Timeout), log)

	sink := delivery.NewDirectorySink(cfg.OutputDir, log)
	pool := workers.NewPool(cfg.Workers)

	orchestrator := pipeline.NewOrchestrator(pipeline.Components{
		Acquirer:   download.NewAcquirer(extractor, streamer, log),
		Compressor: transcoder,
		Inspector:  prober,
		Sink:       sink,
		Tracker:    tracker,
		Pool:       pool,
		Journal:    journal,
		WorkDir:    cfg.WorkDir,
	}, log)

	service := pipeline.NewService(orchestrator, cfg.MaxParallel, cfg.BudgetBytes, log)
	service.SetFinishedRetention(cfg.RetainFinished)

	return &App{
		Config:  cfg,
		Service: service,
		Journal: journal,
		Pool:    pool,
		Sink:    sink,
		log:     log,
	}, nil
}

type installedTools struct {
	ffmpeg  string
	ffprobe string
}

// installTools fetches yt-dlp, ffmpeg and ffprobe through go-ytdlp. Failures
// are logged and the configured commands are used instead.
func installTools(ctx context.Context, log *slog.Logger) installedTools {
	if path, err := download.Install(ctx); err != nil {
		log.Warn("yt-dlp install failed, relying on PATH", logging.Err(err))
	} else {
		log.Info("yt-dlp ready", slog.String("path", path))
	}

	var tools installedTools
	ffmpeg, ffprobe, err := download.InstallFFmpeg(ctx)
	if err != nil {
		log.Warn("ffmpeg install incomplete, relying on configured paths", logging.Err(err))
	}
	tools.ffmpeg, tools.ffprobe = ffmpeg, ffprobe
	if ffmpeg != "" {
		log.Info("ffmpeg ready", slog.String("path", ffmpeg))
	}
	if ffprobe != "" {
		log.Info("ffprobe ready", slog.String("path", ffprobe))
	}
	return tools
}

// preferInstalled returns installed when configured is still the bare default
// command; an explicitly configured path always wins.
func preferInstalled(configured, defaultCommand, installed string) string {
	if installed != "" && (configured == "" || configured == defaultCommand) {
		return installed
	}
	return configured
}

// Close stops the service, waiting for running jobs to clean up, then
// releases the worker pool and the journal.
func (a *App) Close(ctx context.Context) error {
	err := a.Service.Shutdown(ctx)
	if err != nil {
		a.log.Warn("jobs still running at shutdown", logging.Err(err))
	}
	a.Pool.Close()
	if cerr := a.Journal.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
