package download

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/model"
)

// Acquirer tries the backends in a fixed order. The extractor is used only for
// recognized hosts that pass a dry run; once its download has started, a
// failure is terminal and the stream backend is not tried.
type Acquirer struct {
	extractor Resolver
	stream    Backend
	log       *slog.Logger
}

// NewAcquirer creates an acquirer. A nil extractor disables that backend.
func NewAcquirer(extractor Resolver, stream Backend, log *slog.Logger) *Acquirer {
	if log == nil {
		log = logging.Discard()
	}
	return &Acquirer{extractor: extractor, stream: stream, log: log}
}

// Acquire downloads source, returning the artifact and the backend that produced it
func (a *Acquirer) Acquire(ctx context.Context, source, destPath string, progress model.ProgressFunc) (Artifact, error) {
	if _, err := ValidateSource(source); err != nil {
		return Artifact{}, model.NewJobError(model.ErrUnsupportedSource, model.StageAcquiring, "", err)
	}

	log := a.log.With(slog.String("source", source))
	for _, strategy := range strategyOrder {
		switch strategy {
		case StrategyExtractor:
			if a.extractor == nil || !a.extractor.Supports(source) {
				continue
			}
			if err := a.extractor.Resolve(ctx, source); err != nil {
				if errors.Is(err, model.ErrCancelled) {
					return Artifact{Strategy: strategy}, acquisitionError(err)
				}
				log.Info("dry run rejected source, falling back", slog.String("backend", strategy.String()), logging.Err(err))
				continue
			}
			log.Debug("dry run accepted source", slog.String("backend", strategy.String()))
			art, err := a.extractor.Acquire(ctx, source, destPath, progress)
			art.Strategy = strategy
			return art, acquisitionError(err)

		case StrategyStream:
			if a.stream == nil {
				continue
			}
			art, err := a.stream.Acquire(ctx, source, destPath, progress)
			art.Strategy = strategy
			return art, acquisitionError(err)
		}
	}
	return Artifact{}, model.NewJobError(model.ErrAcquisitionFailed, model.StageAcquiring, "no backend accepted the source", nil)
}

// acquisitionError wraps backend failures into the job error taxonomy
func acquisitionError(err error) error {
	if err == nil {
		return nil
	}
	var je *model.JobError
	if errors.As(err, &je) {
		return je
	}
	if errors.Is(err, model.ErrCancelled) {
		return model.NewJobError(model.ErrCancelled, model.StageAcquiring, "", err)
	}
	return model.NewJobError(model.ErrAcquisitionFailed, model.StageAcquiring, "", err)
}
