package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/ytget/mediarelay/internal/app"
	"github.com/ytget/mediarelay/internal/config"
	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/model"
	"github.com/ytget/mediarelay/internal/pipeline"
	"github.com/ytget/mediarelay/internal/progress"
)

// Exit codes
const (
	ExitDone      = 0
	ExitFailed    = 1
	ExitUsage     = 2
	ExitCancelled = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", config.ConfigPath(), "path to the YAML config file")
	budget := flag.Int64("budget", 0, "size budget in bytes (default from config)")
	noTranscode := flag.Bool("no-transcode", false, "fail instead of transcoding files over budget")
	outDir := flag.String("out", "", "directory to deliver into (default from config)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] URL\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return ExitUsage
	}
	source := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		color.Red("failed to load config: %v", err)
		return ExitFailed
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	cfg.MaxParallel = 1

	log := logging.New(cfg.Env, os.Stderr)
	messages := progress.NewMessages(cfg.Language)
	status := color.New(color.FgCyan)
	terminal := progress.RendererFunc(func(_ context.Context, snap progress.Snapshot) error {
		status.Fprintln(os.Stderr, progress.FormatText(messages, snap))
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, err := app.Build(ctx, cfg, log, terminal)
	if err != nil {
		color.Red("failed to start: %v", err)
		return ExitFailed
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		relay.Close(closeCtx)
	}()

	snap, err := relay.Service.Submit(pipeline.Request{
		Source:         source,
		BudgetBytes:    *budget,
		AllowTranscode: cfg.AllowTranscode && !*noTranscode,
	})
	if err != nil {
		color.Red("%v", err)
		return ExitFailed
	}

	go func() {
		<-ctx.Done()
		relay.Service.Cancel(snap.ID)
	}()

	outcome, err := relay.Service.Wait(context.Background(), snap.ID)
	if err != nil {
		color.Red("%v", err)
		return ExitFailed
	}
	return report(outcome, relay.Sink.Dir())
}

func report(outcome model.Outcome, dir string) int {
	switch outcome.Stage {
	case model.StageDone:
		color.Green("Delivered %s (%s) into %s", outcome.JobID, outcome.Kind, dir)
		return ExitDone
	case model.StageCancelled:
		color.Yellow("Cancelled")
		return ExitCancelled
	default:
		color.Red("Failed: %s", outcome.Message)
		return ExitFailed
	}
}
