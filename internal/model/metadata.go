package model

import "time"

// MediaMetadata is the presentation metadata extracted from a finished file.
// It is immutable once produced; ThumbnailPath is owned by the job and removed with it.
type MediaMetadata struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	ThumbnailPath   string  `json:"-"`
}

// Valid reports whether the metadata describes a playable video
func (m *MediaMetadata) Valid() bool {
	return m != nil && m.DurationSeconds >= 0 && m.Width > 0 && m.Height > 0
}

// PayloadKind is the shape in which a file is handed to the delivery sink
type PayloadKind string

const (
	// PayloadVideo is a structured video with duration, dimensions and optional thumbnail
	PayloadVideo PayloadKind = "video"

	// PayloadDocument is an untyped attachment without metadata
	PayloadDocument PayloadKind = "document"
)

// Payload is what the orchestrator gives to the delivery sink
type Payload struct {
	JobID    string
	Path     string
	Kind     PayloadKind
	Metadata *MediaMetadata // nil for PayloadDocument
}

// ProgressEvent is a transient progress sample emitted by the active stage
type ProgressEvent struct {
	BytesDone  int64
	BytesTotal int64
	Timestamp  time.Time
}

// ProgressFunc is the progress callback shape shared by every stage.
// A non-nil error means the job was cancelled and the stage must abort.
type ProgressFunc func(done, total int64) error
