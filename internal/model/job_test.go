package model

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

func TestFormatETA(t *testing.T) {
	tests := []struct {
		etaSec   int
		expected string
	}{
		{-1, "—"},
		{0, "—"},
		{30, "00:30"},
		{90, "01:30"},
		{3600, "01:00:00"},
		{3661, "01:01:01"},
		{7323, "02:02:03"},
	}

	for _, test := range tests {
		snap := JobSnapshot{ETASec: test.etaSec}
		result := snap.GetETAString()
		if result != test.expected {
			t.Errorf("GetETAString() with ETASec=%d = %s, expected %s", test.etaSec, result, test.expected)
		}
	}
}

func TestJobSnapshot_GetDisplayTitle(t *testing.T) {
	tests := []struct {
		title    string
		source   string
		expected string
	}{
		{"Video Title", "https://youtube.com/watch?v=123", "Video Title"},
		{"", "https://cdn.example.com/media/clip.mp4?sig=abc", "clip.mp4"},
		{"", "https://example.com/", "https://example.com/"},
		{"https://x.y/z", "https://example.com/a/b.mkv", "b.mkv"},
	}

	for _, test := range tests {
		snap := JobSnapshot{Title: test.title, Source: test.source}
		result := snap.GetDisplayTitle()
		if result != test.expected {
			t.Errorf("GetDisplayTitle() with title='%s', source='%s' = '%s', expected '%s'",
				test.title, test.source, result, test.expected)
		}
	}
}

func TestNewTransferJob(t *testing.T) {
	before := time.Now()
	job := NewTransferJob("job-123", "https://example.com/a.mp4", 2_000_000_000, true)

	if job.ID != "job-123" {
		t.Errorf("Expected ID to be 'job-123', got '%s'", job.ID)
	}
	if job.Stage() != StageQueued {
		t.Errorf("Expected stage to be Queued, got %s", job.Stage())
	}
	if job.StartedAt().Before(before) {
		t.Errorf("Expected StartedAt after %v, got %v", before, job.StartedAt())
	}
	if snap := job.Snapshot(); snap.ETASec != -1 {
		t.Errorf("Expected unknown ETA, got %d", snap.ETASec)
	}
}

func TestTransferJob_ProgressIsMonotonicWithinStage(t *testing.T) {
	job := NewTransferJob("job-1", "https://example.com/a.mp4", 100, false)
	if err := job.Transition(StageAcquiring); err != nil {
		t.Fatalf("transition: %v", err)
	}

	job.SetProgress(40, 100, 0, -1)
	job.SetProgress(20, 100, 0, -1)
	done, total := job.Progress()
	if done != 40 || total != 100 {
		t.Fatalf("progress = %d/%d, expected 40/100", done, total)
	}

	job.SetProgress(150, 0, 0, -1)
	done, _ = job.Progress()
	if done != 100 {
		t.Errorf("done should be clamped to total, got %d", done)
	}

	if err := job.Transition(StageVerifying); err != nil {
		t.Fatalf("transition: %v", err)
	}
	done, total = job.Progress()
	if done != 0 || total != 0 {
		t.Errorf("counters should reset at stage boundary, got %d/%d", done, total)
	}
}

func TestTransferJob_InvalidTransition(t *testing.T) {
	job := NewTransferJob("job-1", "https://example.com/a.mp4", 100, false)
	if err := job.Transition(StageDelivering); err == nil {
		t.Error("Expected error for Queued -> Delivering")
	}
	if err := job.Transition(StageCancelled); err != nil {
		t.Fatalf("cancel from queued: %v", err)
	}
	if err := job.Transition(StageDone); err == nil {
		t.Error("Expected error leaving a terminal stage")
	}
	if job.Snapshot().FinishedAt.IsZero() {
		t.Error("FinishedAt should be set on terminal stage")
	}
}

func TestTransferJob_MarkCancelRequestedOnce(t *testing.T) {
	job := NewTransferJob("job-1", "https://example.com/a.mp4", 100, false)
	if !job.MarkCancelRequested() {
		t.Fatal("first cancel request should succeed")
	}
	if job.MarkCancelRequested() {
		t.Error("second cancel request should be rejected")
	}
	if !job.CancelRequested() {
		t.Error("flag should be set")
	}
}

func deliveringJob(t *testing.T, id string) *TransferJob {
	t.Helper()
	job := NewTransferJob(id, "https://example.com/a.mp4", 100, false)
	for _, stage := range []Stage{StageAcquiring, StageVerifying, StageExtractingMetadata, StageDelivering} {
		if err := job.Transition(stage); err != nil {
			t.Fatalf("transition to %s: %v", stage, err)
		}
	}
	return job
}

func TestTransferJob_Complete(t *testing.T) {
	job := deliveringJob(t, "job-1")
	if err := job.Complete(); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if job.Stage() != StageDone {
		t.Errorf("stage = %s, expected Done", job.Stage())
	}
	if job.MarkCancelRequested() {
		t.Error("cancel request after Done should be rejected")
	}

	cancelled := deliveringJob(t, "job-2")
	cancelled.MarkCancelRequested()
	if err := cancelled.Complete(); !errors.Is(err, ErrCancelled) {
		t.Errorf("Complete() error = %v, expected ErrCancelled", err)
	}
	if cancelled.Stage() != StageDelivering {
		t.Errorf("stage = %s, expected Delivering", cancelled.Stage())
	}
}

func TestTransferJob_CompleteRacesCancel(t *testing.T) {
	for i := 0; i < 200; i++ {
		job := deliveringJob(t, "job-race")
		var accepted bool
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			accepted = job.MarkCancelRequested()
		}()
		completeErr := job.Complete()
		wg.Wait()

		if accepted == (completeErr == nil) {
			t.Fatalf("iteration %d: cancel accepted=%v but Complete() error = %v", i, accepted, completeErr)
		}
	}
}

func TestJobError_KindAndCause(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := NewJobError(ErrAcquisitionFailed, StageAcquiring, "stream read stalled", errors.Join(ErrTimeout, cause))

	if !errors.Is(err, ErrAcquisitionFailed) {
		t.Error("expected errors.Is(err, ErrAcquisitionFailed)")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("expected errors.Is(err, ErrTimeout)")
	}
	if errors.Is(err, ErrCancelled) {
		t.Error("did not expect ErrCancelled")
	}

	expected := "acquisition failed: stream read stalled (timed out)"
	if err.Summary() != expected {
		t.Errorf("Summary() = %q, expected %q", err.Summary(), expected)
	}
}

func TestJobError_SummaryIsCapped(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err := NewJobError(ErrDeliveryFailed, StageDelivering, string(long), nil)
	if len(err.Summary()) != MaxSummaryLength {
		t.Errorf("summary length = %d, expected %d", len(err.Summary()), MaxSummaryLength)
	}
}

func TestJobError_SummaryKeepsRunesWhole(t *testing.T) {
	err := NewJobError(ErrDeliveryFailed, StageDelivering, strings.Repeat("ж", 150), nil)
	summary := err.Summary()
	if !utf8.ValidString(summary) {
		t.Errorf("summary is not valid UTF-8: %q", summary)
	}
	if len(summary) > MaxSummaryLength || len(summary) < MaxSummaryLength-utf8.UTFMax {
		t.Errorf("summary length = %d, expected close to %d", len(summary), MaxSummaryLength)
	}
}

func TestAsJobError(t *testing.T) {
	if AsJobError(nil, ErrAcquisitionFailed, StageAcquiring) != nil {
		t.Error("nil error should stay nil")
	}

	plain := errors.New("boom")
	je := AsJobError(plain, ErrDeliveryFailed, StageDelivering)
	if je.Kind != ErrDeliveryFailed || je.Stage != StageDelivering {
		t.Errorf("unexpected wrap: %+v", je)
	}

	orig := NewJobError(ErrBudgetExceeded, StageVerifying, "", nil)
	if got := AsJobError(orig, ErrDeliveryFailed, StageDelivering); got != orig {
		t.Error("existing JobError should be returned as is")
	}
}

func TestMediaMetadata_Valid(t *testing.T) {
	tests := []struct {
		meta     *MediaMetadata
		expected bool
	}{
		{nil, false},
		{&MediaMetadata{DurationSeconds: 10, Width: 1280, Height: 720}, true},
		{&MediaMetadata{DurationSeconds: 10, Width: 0, Height: 720}, false},
		{&MediaMetadata{DurationSeconds: -1, Width: 1280, Height: 720}, false},
	}

	for _, test := range tests {
		if result := test.meta.Valid(); result != test.expected {
			t.Errorf("Valid(%+v) = %v, expected %v", test.meta, result, test.expected)
		}
	}
}
