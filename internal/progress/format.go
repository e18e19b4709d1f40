package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/ytget/mediarelay/internal/model"
)

var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB"}

// Snapshot is one rendered view of a job's progress
type Snapshot struct {
	JobID     string
	Stage     model.Stage
	Done      int64
	Total     int64
	Speed     float64       // bytes per second since the stage started
	ETA       time.Duration // negative when unknown
	Timestamp time.Time
}

// Percent returns done/total*100 and false when the total is unknown
func (s Snapshot) Percent() (float64, bool) {
	if s.Total <= 0 {
		return 0, false
	}
	return float64(s.Done) / float64(s.Total) * 100, true
}

// FormatBytes converts a byte count to a 1024-based human readable string
func FormatBytes(n int64) string {
	size := float64(n)
	for _, unit := range byteUnits[:len(byteUnits)-1] {
		if size < 1024 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f %s", size, byteUnits[len(byteUnits)-1])
}

// FormatText renders the status text shown to the user for snap
func FormatText(messages *Messages, snap Snapshot) string {
	var b strings.Builder
	b.WriteString(messages.Stage(snap.Stage))
	b.WriteByte('\n')

	if percent, ok := snap.Percent(); ok {
		fmt.Fprintf(&b, "%.1f%% (%s of %s)", percent, FormatBytes(snap.Done), FormatBytes(snap.Total))
	} else {
		fmt.Fprintf(&b, "%s transferred", FormatBytes(snap.Done))
	}

	b.WriteString("\nSpeed: ")
	b.WriteString(FormatBytes(int64(snap.Speed)))
	b.WriteString("/s")
	if snap.ETA >= 0 && snap.Total > 0 {
		b.WriteString(" · ETA: ")
		b.WriteString(model.FormatETA(int(snap.ETA.Round(time.Second) / time.Second)))
	}
	return b.String()
}
