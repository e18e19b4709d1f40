package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ytget/mediarelay/internal/compress"
	"github.com/ytget/mediarelay/internal/delivery"
	"github.com/ytget/mediarelay/internal/download"
	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/model"
	"github.com/ytget/mediarelay/internal/platform"
	"github.com/ytget/mediarelay/internal/progress"
	"github.com/ytget/mediarelay/internal/storage"
	"github.com/ytget/mediarelay/internal/workers"
)

// Temp artifact extensions inside the work directory
const (
	DownloadExtension  = ".mp4"
	ThumbnailExtension = ".jpg"
)

// Acquirer fetches a source into destPath
type Acquirer interface {
	Acquire(ctx context.Context, source, destPath string, progress model.ProgressFunc) (download.Artifact, error)
}

// Inspector reads media metadata. Probe is used to size a transcode, Inspect
// to build the delivered payload.
type Inspector interface {
	Probe(ctx context.Context, path string) (*model.MediaMetadata, error)
	Inspect(ctx context.Context, path, thumbDest string, transcoded bool) (*model.MediaMetadata, error)
}

// Journal records in-flight jobs for crash recovery
type Journal interface {
	Track(rec storage.JobRecord) error
	Forget(id string) error
}

// Components are the stage implementations the orchestrator drives
type Components struct {
	Acquirer   Acquirer
	Compressor compress.Compressor
	Inspector  Inspector
	Sink       delivery.Sink
	Tracker    *progress.Tracker
	Pool       *workers.Pool
	Journal    Journal // optional
	WorkDir    string
}

// Orchestrator runs one TransferJob through its stages:
// Acquiring, Verifying, optional Transcoding, ExtractingMetadata, Delivering.
type Orchestrator struct {
	c       Components
	log     *slog.Logger
	onStage func(job *model.TransferJob)
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(c Components, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = logging.Discard()
	}
	if c.Pool == nil {
		c.Pool = workers.NewPool(1)
	}
	if c.Tracker == nil {
		c.Tracker = progress.NewTracker(0, nil, log)
	}
	return &Orchestrator{c: c, log: log}
}

// SetStageCallback sets a function called after every stage change
func (o *Orchestrator) SetStageCallback(callback func(job *model.TransferJob)) {
	o.onStage = callback
}

// Tracker returns the progress tracker used for the orchestrator's jobs
func (o *Orchestrator) Tracker() *progress.Tracker {
	return o.c.Tracker
}

// artifacts are the job-namespaced temp files in the work directory
type artifacts struct {
	source     string
	compressed string
	thumbnail  string
}

func (o *Orchestrator) artifactsFor(jobID string) artifacts {
	source := filepath.Join(o.c.WorkDir, platform.DownloadPrefix+jobID+DownloadExtension)
	return artifacts{
		source:     source,
		compressed: source[:len(source)-len(DownloadExtension)] + compress.CompressedSuffix + compress.OutputExtensionMP4,
		thumbnail:  filepath.Join(o.c.WorkDir, platform.ThumbnailPrefix+jobID+ThumbnailExtension),
	}
}

func (a artifacts) list() []string {
	return []string{a.source, a.compressed, a.thumbnail}
}

// Run drives job to a terminal stage and returns its outcome. Temp artifacts
// are removed before the terminal stage is recorded, whatever the exit path.
func (o *Orchestrator) Run(ctx context.Context, job *model.TransferJob) model.Outcome {
	log := o.log.With(slog.String("job_id", job.ID))
	files := o.artifactsFor(job.ID)

	rep := o.c.Tracker.Register(ctx, job)
	defer o.c.Tracker.Unregister(job.ID)

	if o.c.Journal != nil {
		err := o.c.Journal.Track(storage.JobRecord{
			ID:        job.ID,
			Source:    job.Source,
			WorkDir:   o.c.WorkDir,
			Artifacts: files.list(),
		})
		if err != nil {
			log.Warn("failed to journal job", logging.Err(err))
		}
	}

	kind, err := o.execute(rep, job, files, log)
	o.cleanup(job.ID, files, log)
	return o.finish(rep, job, kind, err, log)
}

// execute runs the stages. A panic inside a stage is turned into an error so
// that cleanup still runs.
func (o *Orchestrator) execute(rep *progress.Reporter, job *model.TransferJob, files artifacts, log *slog.Logger) (kind model.PayloadKind, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("stage panicked", slog.Any("panic", r))
			stage := job.Stage()
			err = model.NewJobError(failureKind(stage), stage, fmt.Sprintf("internal error: %v", r), nil)
		}
	}()

	ctx := rep.Context()

	// Acquiring
	if err := o.enter(rep, job, model.StageAcquiring, log); err != nil {
		return "", err
	}
	var art download.Artifact
	err = o.c.Pool.Do(ctx, func(ctx context.Context) error {
		var err error
		art, err = o.c.Acquirer.Acquire(ctx, job.Source, files.source, rep.Func())
		return err
	})
	job.SetBackend(art.Strategy.String())
	if art.Title != "" {
		job.SetTitle(art.Title)
	}
	if err != nil {
		return "", stageError(err, model.ErrAcquisitionFailed, model.StageAcquiring)
	}

	// Verifying
	if err := o.enter(rep, job, model.StageVerifying, log); err != nil {
		return "", err
	}
	if art.Path != "" && art.Path != files.source {
		if err := platform.MoveFile(art.Path, files.source); err != nil {
			return "", model.NewJobError(model.ErrAcquisitionFailed, model.StageVerifying, "could not move download into place", err)
		}
	}
	size, err := platform.NonEmptyFileSize(files.source)
	if err != nil {
		return "", model.NewJobError(model.ErrAcquisitionFailed, model.StageVerifying, "downloaded file is missing or empty", err)
	}
	rep.Update(size, size)
	log.Info("download verified", slog.Int64("bytes", size), slog.String("backend", art.Strategy.String()))

	deliverPath := files.source
	transcoded := false
	if size > job.SizeBudgetBytes {
		if !job.AllowTranscode {
			msg := fmt.Sprintf("%d bytes, budget %d", size, job.SizeBudgetBytes)
			return "", model.NewJobError(model.ErrBudgetExceeded, model.StageVerifying, msg, nil)
		}

		// Transcoding
		if err := o.enter(rep, job, model.StageTranscoding, log); err != nil {
			return "", err
		}
		result, err := o.transcode(ctx, rep, job, files.source)
		if err != nil {
			return "", err
		}
		platform.RemoveFiles(files.source)
		deliverPath = result.Path
		transcoded = true
		log.Info("transcoded",
			slog.Int64("bytes", result.Size),
			slog.Int("passes", result.Passes),
			slog.Int("video_kbps", result.Plan.VideoKbps),
		)
	}

	// ExtractingMetadata
	if err := o.enter(rep, job, model.StageExtractingMetadata, log); err != nil {
		return "", err
	}
	var meta *model.MediaMetadata
	err = o.c.Pool.Do(ctx, func(ctx context.Context) error {
		var err error
		meta, err = o.c.Inspector.Inspect(ctx, deliverPath, files.thumbnail, transcoded)
		return err
	})
	kind = model.PayloadVideo
	if err != nil {
		if aborted := abortCause(rep, err); aborted != nil {
			return "", stageError(aborted, model.ErrMetadataUnavailable, model.StageExtractingMetadata)
		}
		log.Warn("metadata unavailable, delivering as document", logging.Err(err))
		kind = model.PayloadDocument
		meta = nil
	}
	job.SetPayloadKind(kind)

	// Delivering
	if err := o.enter(rep, job, model.StageDelivering, log); err != nil {
		return kind, err
	}
	payload := model.Payload{JobID: job.ID, Path: deliverPath, Kind: kind, Metadata: meta}
	if err := o.c.Sink.Deliver(ctx, payload, rep.Func()); err != nil {
		return kind, stageError(err, model.ErrDeliveryFailed, model.StageDelivering)
	}
	rep.Flush()
	return kind, nil
}

func (o *Orchestrator) transcode(ctx context.Context, rep *progress.Reporter, job *model.TransferJob, path string) (compress.Result, error) {
	var meta *model.MediaMetadata
	err := o.c.Pool.Do(ctx, func(ctx context.Context) error {
		var err error
		meta, err = o.c.Inspector.Probe(ctx, path)
		return err
	})
	if err != nil {
		if aborted := abortCause(rep, err); aborted != nil {
			return compress.Result{}, stageError(aborted, model.ErrTranscodeFailed, model.StageTranscoding)
		}
		return compress.Result{}, model.NewJobError(model.ErrBudgetExceeded, model.StageTranscoding, "duration unknown, cannot transcode", err)
	}

	var result compress.Result
	err = o.c.Pool.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = o.c.Compressor.Compress(ctx, path, meta.DurationSeconds, job.SizeBudgetBytes, rep.Func(),
			compress.WithPassStart(func(int) { rep.Begin(model.StageTranscoding) }))
		return err
	})
	if err != nil {
		return result, stageError(err, model.ErrTranscodeFailed, model.StageTranscoding)
	}
	return result, nil
}

// enter moves job to stage unless cancellation was observed
func (o *Orchestrator) enter(rep *progress.Reporter, job *model.TransferJob, stage model.Stage, log *slog.Logger) error {
	if job.CancelRequested() {
		return cancelledError(job.Stage(), nil)
	}
	if err := rep.Err(); err != nil {
		return stageError(err, failureKind(job.Stage()), job.Stage())
	}
	if err := job.Transition(stage); err != nil {
		return model.NewJobError(failureKind(job.Stage()), job.Stage(), "", err)
	}
	rep.Begin(stage)
	log.Debug("stage entered", slog.String("stage", stage.String()))
	o.notify(job)
	return nil
}

// cleanup removes every temp file of the job. It is safe to call repeatedly.
func (o *Orchestrator) cleanup(jobID string, files artifacts, log *slog.Logger) {
	paths := files.list()
	if extra, err := platform.JobTempFiles(o.c.WorkDir, jobID); err == nil {
		paths = append(paths, extra...)
	} else {
		log.Warn("failed to list job artifacts", logging.Err(err))
	}
	removed, err := platform.RemoveFiles(paths...)
	if err != nil {
		log.Warn("failed to remove job artifacts", logging.Err(err))
		return
	}
	if removed > 0 {
		log.Debug("job artifacts removed", slog.Int("files", removed))
	}
	if o.c.Journal != nil {
		if err := o.c.Journal.Forget(jobID); err != nil {
			log.Warn("failed to drop journal record", logging.Err(err))
		}
	}
}

// finish records the terminal stage. Done is never reported once
// cancellation has been observed.
func (o *Orchestrator) finish(rep *progress.Reporter, job *model.TransferJob, kind model.PayloadKind, err error, log *slog.Logger) model.Outcome {
	if err == nil && job.CancelRequested() {
		err = cancelledError(job.Stage(), nil)
	}
	if err == nil && rep.Err() != nil {
		err = stageError(rep.Err(), failureKind(job.Stage()), job.Stage())
	}

	outcome := model.Outcome{JobID: job.ID, Kind: kind}
	if err == nil {
		if cerr := job.Complete(); cerr != nil {
			err = stageError(cerr, failureKind(job.Stage()), job.Stage())
		} else {
			outcome.Stage = model.StageDone
			log.Info("job done", slog.String("payload", string(kind)))
			o.notify(job)
			return outcome
		}
	}

	je := model.AsJobError(err, failureKind(job.Stage()), job.Stage())
	if errors.Is(je, model.ErrCancelled) && je.Kind != model.ErrCancelled {
		je = cancelledError(je.Stage, je)
	}
	outcome.Err = je
	outcome.Message = je.Summary()
	job.SetError(outcome.Message)

	if je.Kind == model.ErrCancelled {
		job.Transition(model.StageCancelled)
		outcome.Stage = model.StageCancelled
		log.Info("job cancelled", slog.String("stage", je.Stage.String()))
	} else {
		job.Transition(model.StageFailed)
		outcome.Stage = model.StageFailed
		log.Error("job failed",
			slog.String("stage", je.Stage.String()),
			logging.Err(je),
		)
	}
	o.notify(job)
	return outcome
}

func (o *Orchestrator) notify(job *model.TransferJob) {
	if o.onStage != nil {
		o.onStage(job)
	}
}

// stageError maps a stage failure onto the taxonomy, keeping cancellation distinct
func stageError(err error, fallback error, stage model.Stage) error {
	if isCancelled(err) {
		var je *model.JobError
		if errors.As(err, &je) && je.Kind == model.ErrCancelled {
			return je
		}
		return cancelledError(stage, err)
	}
	return model.AsJobError(err, fallback, stage)
}

// failureKind is the taxonomy kind for an unclassified failure in stage
func failureKind(stage model.Stage) error {
	switch stage {
	case model.StageTranscoding:
		return model.ErrTranscodeFailed
	case model.StageExtractingMetadata:
		return model.ErrMetadataUnavailable
	case model.StageDelivering:
		return model.ErrDeliveryFailed
	default:
		return model.ErrAcquisitionFailed
	}
}

// abortCause returns the reason a soft stage failure must still end the job:
// cancellation or the end of the job context.
func abortCause(rep *progress.Reporter, err error) error {
	if isCancelled(err) {
		return err
	}
	return rep.Err()
}

func isCancelled(err error) bool {
	return errors.Is(err, model.ErrCancelled) || errors.Is(err, context.Canceled)
}

func cancelledError(stage model.Stage, cause error) *model.JobError {
	if errors.Is(cause, model.ErrCancelled) {
		cause = nil
	}
	return model.NewJobError(model.ErrCancelled, stage, "", cause)
}
