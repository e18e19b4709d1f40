package probe

// FormatInfo holds container-level metadata from ffprobe's format section.
type FormatInfo struct {
	Filename   string
	FormatName string
	Duration   float64
	Size       int64
}

// VideoStream holds the parsed properties of a single video stream.
type VideoStream struct {
	Index         int
	Codec         string
	Width         int
	Height        int
	Duration      float64
	IsAttachedPic bool
}

// ProbeResult is the parsed output of one ffprobe call.
// PrimaryVideo is the first non-attached-pic video stream (nil if none).
type ProbeResult struct {
	Format       FormatInfo
	PrimaryVideo *VideoStream
	AudioStreams int
}

// Duration returns the container duration, falling back to the primary
// video stream when the container does not report one.
func (p *ProbeResult) Duration() float64 {
	if p.Format.Duration > 0 {
		return p.Format.Duration
	}
	if p.PrimaryVideo != nil {
		return p.PrimaryVideo.Duration
	}
	return 0
}
