// Package logging configures log/slog for the relay. Local runs get a colored
// human-readable handler; debug and prod emit JSON.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/ytget/mediarelay/internal/config"
)

// Setup builds the logger for the given environment and writes to stdout
func Setup(env string) *slog.Logger {
	return New(env, os.Stdout)
}

// New builds the logger for env writing to out
func New(env string, out io.Writer) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvLocal:
		opts := PrettyHandlerOptions{
			SlogOpts: &slog.HandlerOptions{
				Level: slog.LevelDebug,
			},
		}
		log = slog.New(opts.NewPrettyHandler(out))
	case config.EnvDebug:
		log = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		log = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return log
}

// Err is a shorthand attribute for errors
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "")
	}
	return slog.String("err", err.Error())
}

// Discard returns a logger that drops everything, used by tests and library callers
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
