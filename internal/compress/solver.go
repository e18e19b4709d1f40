package compress

import (
	"fmt"
	"math"

	"github.com/ytget/mediarelay/internal/model"
)

// Rate-control defaults, all bitrates in kbps with kilo = 1000
const (
	DefaultAudioKbps    = 96
	DefaultMinVideoKbps = 500
	DefaultMaxVideoKbps = 8000

	MaxrateFactor    = 1.4
	BufsizeFactor    = 2.0
	CorrectionFactor = 0.8

	// MinDurationSeconds is the shortest duration the solver accepts
	MinDurationSeconds = 0.1
)

// Limits bound the solved video bitrate
type Limits struct {
	AudioKbps    int
	MinVideoKbps int
	MaxVideoKbps int
}

// DefaultLimits returns the stock rate-control bounds
func DefaultLimits() Limits {
	return Limits{
		AudioKbps:    DefaultAudioKbps,
		MinVideoKbps: DefaultMinVideoKbps,
		MaxVideoKbps: DefaultMaxVideoKbps,
	}
}

// Plan holds the encoder rate-control parameters for one pass
type Plan struct {
	VideoKbps   int
	MaxrateKbps int
	BufsizeKbps int
	AudioKbps   int
}

// SolveBitrate computes a plan so that duration seconds of audio and video fit
// into budgetBytes. It fails with model.ErrBudgetExceeded when the duration is
// unusable or audio alone would not fit.
func SolveBitrate(budgetBytes int64, durationSeconds float64, limits Limits) (Plan, error) {
	if math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) || durationSeconds < MinDurationSeconds {
		return Plan{}, fmt.Errorf("%w: unusable duration %.3fs", model.ErrBudgetExceeded, durationSeconds)
	}

	audioBytes := float64(limits.AudioKbps) * 1000 * durationSeconds / 8
	videoBudgetBytes := float64(budgetBytes) - audioBytes
	if videoBudgetBytes <= 0 {
		return Plan{}, fmt.Errorf("%w: source too long for budget", model.ErrBudgetExceeded)
	}

	videoKbps := videoBudgetBytes * 8 / (1000 * durationSeconds)
	videoKbps = math.Max(float64(limits.MinVideoKbps), math.Min(float64(limits.MaxVideoKbps), videoKbps))

	return newPlan(int(videoKbps), limits.AudioKbps), nil
}

// Corrected returns the plan for the single corrective pass: the previous video
// bitrate scaled by CorrectionFactor, with maxrate and bufsize re-derived.
func (p Plan) Corrected() Plan {
	return newPlan(scaleKbps(p.VideoKbps, CorrectionFactor), p.AudioKbps)
}

func newPlan(videoKbps, audioKbps int) Plan {
	return Plan{
		VideoKbps:   videoKbps,
		MaxrateKbps: scaleKbps(videoKbps, MaxrateFactor),
		BufsizeKbps: scaleKbps(videoKbps, BufsizeFactor),
		AudioKbps:   audioKbps,
	}
}

// scaleKbps truncates v*factor; the epsilon absorbs binary rounding of the factor
func scaleKbps(v int, factor float64) int {
	return int(math.Floor(float64(v)*factor + 1e-9))
}

// EstimatedBytes is the expected output size of the plan for durationSeconds
func (p Plan) EstimatedBytes(durationSeconds float64) int64 {
	return int64(float64(p.VideoKbps+p.AudioKbps) * 1000 * durationSeconds / 8)
}
