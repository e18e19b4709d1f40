package compress

import (
	"errors"
	"testing"

	"github.com/ytget/mediarelay/internal/model"
)

func TestSolveBitrate(t *testing.T) {
	tests := []struct {
		name     string
		budget   int64
		duration float64
		expected Plan
	}{
		{
			name:     "two gigabytes over ten minutes is capped",
			budget:   2_000_000_000,
			duration: 600,
			expected: Plan{VideoKbps: 8000, MaxrateKbps: 11200, BufsizeKbps: 16000, AudioKbps: 96},
		},
		{
			name:     "mid range",
			budget:   100_000_000,
			duration: 600,
			expected: Plan{VideoKbps: 1237, MaxrateKbps: 1731, BufsizeKbps: 2474, AudioKbps: 96},
		},
		{
			name:     "floor applies",
			budget:   10_000_000,
			duration: 600,
			expected: Plan{VideoKbps: 500, MaxrateKbps: 700, BufsizeKbps: 1000, AudioKbps: 96},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := SolveBitrate(tt.budget, tt.duration, DefaultLimits())
			if err != nil {
				t.Fatalf("SolveBitrate() error = %v", err)
			}
			if plan != tt.expected {
				t.Errorf("SolveBitrate() = %+v, expected %+v", plan, tt.expected)
			}
			if plan.VideoKbps < DefaultMinVideoKbps || plan.VideoKbps > DefaultMaxVideoKbps {
				t.Errorf("video bitrate %d outside [%d, %d]", plan.VideoKbps, DefaultMinVideoKbps, DefaultMaxVideoKbps)
			}
		})
	}
}

func TestSolveBitrate_BudgetExceeded(t *testing.T) {
	tests := []struct {
		name     string
		budget   int64
		duration float64
	}{
		{"zero duration", 2_000_000_000, 0},
		{"duration approaching zero", 2_000_000_000, 1e-9},
		{"negative duration", 2_000_000_000, -5},
		{"audio alone exceeds budget", 1000, 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SolveBitrate(tt.budget, tt.duration, DefaultLimits())
			if !errors.Is(err, model.ErrBudgetExceeded) {
				t.Errorf("expected ErrBudgetExceeded, got %v", err)
			}
		})
	}
}

func TestPlanCorrected(t *testing.T) {
	plan := Plan{VideoKbps: 1237, MaxrateKbps: 1731, BufsizeKbps: 2474, AudioKbps: 96}
	corrected := plan.Corrected()

	expected := Plan{VideoKbps: 989, MaxrateKbps: 1384, BufsizeKbps: 1978, AudioKbps: 96}
	if corrected != expected {
		t.Errorf("Corrected() = %+v, expected %+v", corrected, expected)
	}

	// The correction is relative to the previous value, not clamped to the floor.
	low := Plan{VideoKbps: 500, AudioKbps: 96}.Corrected()
	if low.VideoKbps != 400 {
		t.Errorf("expected 400 kbps, got %d", low.VideoKbps)
	}
}

func TestPlanEstimatedBytes(t *testing.T) {
	plan := Plan{VideoKbps: 904, AudioKbps: 96}
	if got := plan.EstimatedBytes(8); got != 1_000_000 {
		t.Errorf("EstimatedBytes() = %d, expected 1000000", got)
	}
}
