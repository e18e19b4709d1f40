package model

// Stage represents the phase a transfer job is currently in
type Stage string

const (
	// StageQueued means the job is accepted but waits for a free slot
	StageQueued Stage = "Queued"

	// StageAcquiring means the source is being downloaded
	StageAcquiring Stage = "Acquiring"

	// StageVerifying means the acquired file is checked for presence and size
	StageVerifying Stage = "Verifying"

	// StageTranscoding means the file is re-encoded to fit the size budget
	StageTranscoding Stage = "Transcoding"

	// StageExtractingMetadata means duration, dimensions and thumbnail are extracted
	StageExtractingMetadata Stage = "ExtractingMetadata"

	// StageDelivering means the result is handed to the delivery sink
	StageDelivering Stage = "Delivering"

	// StageDone means the job finished successfully
	StageDone Stage = "Done"

	// StageFailed means the job terminated with an error
	StageFailed Stage = "Failed"

	// StageCancelled means the job was cancelled by the caller
	StageCancelled Stage = "Cancelled"
)

// String returns the string representation of Stage
func (s Stage) String() string {
	return string(s)
}

// IsActive returns true if a stage component is running for the job
func (s Stage) IsActive() bool {
	switch s {
	case StageAcquiring, StageVerifying, StageTranscoding, StageExtractingMetadata, StageDelivering:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the job reached a final state (done, failed, or cancelled)
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed || s == StageCancelled
}

// CanTransition reports whether the job state machine allows moving from one stage to another.
// Failed and Cancelled are reachable from every non-terminal stage.
func CanTransition(from, to Stage) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StageFailed || to == StageCancelled {
		return true
	}

	switch from {
	case StageQueued:
		return to == StageAcquiring
	case StageAcquiring:
		return to == StageVerifying
	case StageVerifying:
		return to == StageTranscoding || to == StageExtractingMetadata
	case StageTranscoding:
		return to == StageExtractingMetadata
	case StageExtractingMetadata:
		return to == StageDelivering
	case StageDelivering:
		return to == StageDone
	default:
		return false
	}
}
