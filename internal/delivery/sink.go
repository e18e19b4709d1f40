// Package delivery defines what the pipeline hands to the outside world once a
// file is ready, and provides a sink that publishes files into a directory.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/model"
	"github.com/ytget/mediarelay/internal/platform"
)

const copyChunkSize = 1 << 20

// Sink receives a finished file. progress reports bytes handed over so far and
// returns model.ErrCancelled when the job was cancelled.
type Sink interface {
	Deliver(ctx context.Context, payload model.Payload, progress model.ProgressFunc) error
}

// Sidecar is the metadata document written next to a delivered file
type Sidecar struct {
	JobID       string               `json:"job_id"`
	Kind        model.PayloadKind    `json:"kind"`
	File        string               `json:"file"`
	Size        int64                `json:"size"`
	Thumbnail   string               `json:"thumbnail,omitempty"`
	Metadata    *model.MediaMetadata `json:"metadata,omitempty"`
	DeliveredAt time.Time            `json:"delivered_at"`
}

// DirectorySink copies payloads into a directory as <job id><ext>, with an
// optional <job id>.jpg thumbnail and a <job id>.json sidecar.
type DirectorySink struct {
	dir string
	log *slog.Logger
}

// NewDirectorySink creates a sink publishing into dir
func NewDirectorySink(dir string, log *slog.Logger) *DirectorySink {
	if log == nil {
		log = logging.Discard()
	}
	return &DirectorySink{dir: dir, log: log}
}

// Dir returns the output directory
func (s *DirectorySink) Dir() string {
	return s.dir
}

// Deliver copies the payload file, thumbnail and sidecar. Partial output is
// removed when any step fails.
func (s *DirectorySink) Deliver(ctx context.Context, payload model.Payload, progress model.ProgressFunc) (err error) {
	if err := platform.CreateDirectoryIfNotExists(s.dir); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ext := filepath.Ext(payload.Path)
	target := filepath.Join(s.dir, payload.JobID+ext)
	thumbTarget := filepath.Join(s.dir, payload.JobID+".jpg")
	sidecarTarget := filepath.Join(s.dir, payload.JobID+".json")

	defer func() {
		if err != nil {
			platform.RemoveFiles(target, thumbTarget, sidecarTarget)
		}
	}()

	size, err := copyWithProgress(ctx, payload.Path, target, progress)
	if err != nil {
		return err
	}

	sidecar := Sidecar{
		JobID:       payload.JobID,
		Kind:        payload.Kind,
		File:        filepath.Base(target),
		Size:        size,
		DeliveredAt: time.Now().UTC(),
	}

	if payload.Kind == model.PayloadVideo && payload.Metadata != nil {
		sidecar.Metadata = payload.Metadata
		if payload.Metadata.ThumbnailPath != "" {
			if _, err := copyWithProgress(ctx, payload.Metadata.ThumbnailPath, thumbTarget, nil); err != nil {
				if errors.Is(err, model.ErrCancelled) {
					return err
				}
				s.log.Warn("thumbnail not delivered",
					slog.String("job_id", payload.JobID),
					logging.Err(err),
				)
			} else {
				sidecar.Thumbnail = filepath.Base(thumbTarget)
			}
		}
	}

	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := os.WriteFile(sidecarTarget, data, platform.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}

	s.log.Info("delivered",
		slog.String("job_id", payload.JobID),
		slog.String("kind", string(payload.Kind)),
		slog.String("file", target),
		slog.Int64("bytes", size),
	)
	return nil
}

// copyWithProgress copies src to dst in fixed-size chunks, checking ctx
// before each write and reporting progress after it.
func copyWithProgress(ctx context.Context, src, dst string, progress model.ProgressFunc) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}
	total := info.Size()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, platform.DefaultFilePermissions)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	buf := make([]byte, copyChunkSize)
	var written int64
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				return written, fmt.Errorf("%w: %v", model.ErrCancelled, context.Cause(ctx))
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write %s: %w", dst, err)
			}
			written += int64(n)
			if progress != nil {
				if err := progress(written, total); err != nil {
					return written, err
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, fmt.Errorf("read %s: %w", src, rerr)
		}
	}
	return written, out.Close()
}
