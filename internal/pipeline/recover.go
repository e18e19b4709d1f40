package pipeline

import (
	"context"
	"log/slog"

	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/platform"
	"github.com/ytget/mediarelay/internal/storage"
)

// PendingJournal lists jobs a previous run left unfinished
type PendingJournal interface {
	Journal
	Pending() ([]storage.JobRecord, error)
}

// Recover purges temp files left by a previous run: every prefixed file in
// workDir and every artifact of a journaled job. It returns the number of
// files removed. A nil journal only purges the work directory.
func Recover(ctx context.Context, journal PendingJournal, workDir string, log *slog.Logger) (int, error) {
	if log == nil {
		log = logging.Discard()
	}

	total := 0
	if journal != nil {
		records, err := journal.Pending()
		if err != nil {
			return 0, err
		}
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			paths := rec.Artifacts
			if rec.WorkDir != "" {
				if extra, err := platform.JobTempFiles(rec.WorkDir, rec.ID); err == nil {
					paths = append(paths, extra...)
				}
			}
			removed, err := platform.RemoveFiles(paths...)
			total += removed
			if err != nil {
				log.Warn("failed to purge artifacts of interrupted job",
					slog.String("job_id", rec.ID),
					logging.Err(err))
				continue
			}
			if err := journal.Forget(rec.ID); err != nil {
				log.Warn("failed to drop journal record",
					slog.String("job_id", rec.ID),
					logging.Err(err))
			}
			log.Info("purged interrupted job",
				slog.String("job_id", rec.ID),
				slog.String("source", rec.Source),
				slog.Int("files", removed))
		}
	}

	removed, err := platform.PurgeStale(workDir, platform.DownloadPrefix, platform.ThumbnailPrefix)
	total += removed
	if err != nil {
		return total, err
	}
	if total > 0 {
		log.Info("stale temp files removed", slog.Int("files", total))
	}
	return total, nil
}
