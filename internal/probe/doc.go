package probe

// Package probe reads presentation metadata from a finished media file with a
// single ffprobe JSON call, and captures a still-frame thumbnail with ffmpeg.
