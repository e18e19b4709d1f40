package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ytget/mediarelay/internal/execx"
	"github.com/ytget/mediarelay/internal/logging"
	"github.com/ytget/mediarelay/internal/model"
	"github.com/ytget/mediarelay/internal/platform"
)

// Executables and thumbnail placement
const (
	FFprobeCommand = "ffprobe"
	FFmpegCommand  = "ffmpeg"

	// MaxThumbnailOffset is the latest point a thumbnail is taken from
	MaxThumbnailOffset = 30.0

	// TranscodedThumbnailOffset is used for re-encoded files, whose first
	// keyframes are reliable
	TranscodedThumbnailOffset = 2.0
)

// Config configures the prober
type Config struct {
	FFprobePath string
	FFmpegPath  string
}

// Prober extracts MediaMetadata from local files
type Prober struct {
	cfg    Config
	runner execx.Runner
	log    *slog.Logger
}

// NewProber creates a prober that runs ffprobe and ffmpeg through runner
func NewProber(cfg Config, runner execx.Runner, log *slog.Logger) *Prober {
	if log == nil {
		log = logging.Discard()
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = FFprobeCommand
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = FFmpegCommand
	}
	return &Prober{cfg: cfg, runner: runner, log: log}
}

// Probe returns duration and primary video dimensions of path. It fails when the
// file is missing or empty, or has no usable video stream.
func (p *Prober) Probe(ctx context.Context, path string) (*model.MediaMetadata, error) {
	if _, err := platform.NonEmptyFileSize(path); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMetadataUnavailable, err)
	}

	res, err := p.runner.Run(ctx, p.cfg.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe %q: %w", model.ErrMetadataUnavailable, path, err)
	}

	pr, err := ParseJSON([]byte(res.Stdout))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrMetadataUnavailable, err)
	}
	if pr.PrimaryVideo == nil {
		return nil, fmt.Errorf("%w: no video stream", model.ErrMetadataUnavailable)
	}

	meta := &model.MediaMetadata{
		DurationSeconds: pr.Duration(),
		Width:           pr.PrimaryVideo.Width,
		Height:          pr.PrimaryVideo.Height,
	}
	if !meta.Valid() {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", model.ErrMetadataUnavailable, meta.Width, meta.Height)
	}
	return meta, nil
}

// Thumbnail captures one frame at offset seconds into dest
func (p *Prober) Thumbnail(ctx context.Context, path string, offset float64, dest string) error {
	_, err := p.runner.Run(ctx, p.cfg.FFmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-q:v", "2",
		dest,
	)
	if err != nil {
		return fmt.Errorf("capture thumbnail: %w", err)
	}
	if _, err := platform.NonEmptyFileSize(dest); err != nil {
		return fmt.Errorf("capture thumbnail: %w", err)
	}
	return nil
}

// Inspect probes path and attaches a thumbnail written to thumbDest. A failed
// thumbnail is logged and left out; a failed probe is returned.
func (p *Prober) Inspect(ctx context.Context, path, thumbDest string, transcoded bool) (*model.MediaMetadata, error) {
	meta, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	offset := ThumbnailOffset(meta.DurationSeconds)
	if transcoded {
		offset = TranscodedThumbnailOffset
		if offset > meta.DurationSeconds {
			offset = ThumbnailOffset(meta.DurationSeconds)
		}
	}

	if err := p.Thumbnail(ctx, path, offset, thumbDest); err != nil {
		if errors.Is(err, model.ErrCancelled) {
			return nil, err
		}
		p.log.Warn("thumbnail unavailable",
			slog.String("file", path),
			logging.Err(err),
		)
		platform.RemoveFiles(thumbDest)
		return meta, nil
	}
	meta.ThumbnailPath = thumbDest
	return meta, nil
}

// ThumbnailOffset returns min(30, duration-1), never negative
func ThumbnailOffset(durationSeconds float64) float64 {
	offset := durationSeconds - 1
	if offset > MaxThumbnailOffset {
		offset = MaxThumbnailOffset
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

// ParseJSON converts raw ffprobe JSON output into a ProbeResult.
// Exported for testing without a real ffprobe binary.
func ParseJSON(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	return buildResult(&raw), nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

type ffprobeStream struct {
	Index       int            `json:"index"`
	CodecName   string         `json:"codec_name"`
	CodecType   string         `json:"codec_type"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	Duration    string         `json:"duration"`
	Disposition map[string]int `json:"disposition"`
}

func buildResult(raw *ffprobeOutput) *ProbeResult {
	pr := &ProbeResult{
		Format: FormatInfo{
			Filename:   raw.Format.Filename,
			FormatName: raw.Format.FormatName,
			Duration:   parseFloat(raw.Format.Duration),
			Size:       parseInt64(raw.Format.Size),
		},
	}

	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			vs := VideoStream{
				Index:         s.Index,
				Codec:         s.CodecName,
				Width:         s.Width,
				Height:        s.Height,
				Duration:      parseFloat(s.Duration),
				IsAttachedPic: s.Disposition["attached_pic"] == 1,
			}
			if !vs.IsAttachedPic && pr.PrimaryVideo == nil {
				pr.PrimaryVideo = &vs
			}
		case "audio":
			pr.AudioStreams++
		}
	}
	return pr
}

// --- Numeric parsing helpers (ffprobe returns numbers as strings) ---

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
