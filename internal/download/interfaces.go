package download

import (
	"context"

	"github.com/ytget/mediarelay/internal/model"
)

// Strategy identifies an acquisition backend
type Strategy int

const (
	// StrategyExtractor resolves the media through yt-dlp
	StrategyExtractor Strategy = iota

	// StrategyStream copies the HTTP response body to disk
	StrategyStream
)

// strategyOrder is the order in which backends are tried
var strategyOrder = [...]Strategy{StrategyExtractor, StrategyStream}

// String returns the backend name used in logs and snapshots
func (s Strategy) String() string {
	switch s {
	case StrategyExtractor:
		return "extractor"
	case StrategyStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Artifact describes a file produced by a backend
type Artifact struct {
	Strategy Strategy
	Path     string
	Title    string
	Size     int64
}

// Backend turns a source locator into a local file. The returned artifact
// path may differ from destPath; the caller moves it into place.
type Backend interface {
	Acquire(ctx context.Context, source, destPath string, progress model.ProgressFunc) (Artifact, error)
}

// Resolver is a backend that can check a source without downloading it
type Resolver interface {
	Backend
	Supports(source string) bool
	Resolve(ctx context.Context, source string) error
}
