package compress

import (
	"context"

	"github.com/ytget/mediarelay/internal/model"
)

// Compressor shrinks a media file so it fits a byte budget
type Compressor interface {
	Compress(ctx context.Context, inputPath string, durationSeconds float64, budgetBytes int64, progress model.ProgressFunc, opts ...Option) (Result, error)
}

// Option adjusts a single Compress call
type Option func(*callOptions)

type callOptions struct {
	passStart func(pass int)
}

// WithPassStart registers fn to run before every encoding pass after the
// first, so the caller can restart progress for the corrective pass.
func WithPassStart(fn func(pass int)) Option {
	return func(o *callOptions) {
		o.passStart = fn
	}
}
