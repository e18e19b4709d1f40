package model

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Error taxonomy for terminal job outcomes. Every JobError carries one of these as its Kind.
var (
	ErrUnsupportedSource   = errors.New("unsupported source")
	ErrAcquisitionFailed   = errors.New("acquisition failed")
	ErrBudgetExceeded      = errors.New("size budget exceeded")
	ErrTranscodeOverBudget = errors.New("transcoded output still over budget")
	ErrTranscodeFailed     = errors.New("transcode failed")
	ErrMetadataUnavailable = errors.New("metadata unavailable")
	ErrCancelled           = errors.New("cancelled")
	ErrTimeout             = errors.New("timed out")
	ErrDeliveryFailed      = errors.New("delivery failed")
)

// MaxSummaryLength caps the diagnostic text shown to callers
const MaxSummaryLength = 200

// JobError is a stage-aware error with a taxonomy kind and optional cause.
type JobError struct {
	Kind    error
	Stage   Stage
	Message string
	Err     error
}

// NewJobError builds a JobError for the given kind and stage.
func NewJobError(kind error, stage Stage, message string, cause error) *JobError {
	return &JobError{Kind: kind, Stage: stage, Message: message, Err: cause}
}

// Error formats job failures for logs.
func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Stage, msg)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *JobError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Summary returns the single short diagnostic reported to the caller.
func (e *JobError) Summary() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	switch {
	case e.Message != "":
		msg += ": " + e.Message
		if errors.Is(e.Err, ErrTimeout) && e.Kind != ErrTimeout {
			msg += " (" + ErrTimeout.Error() + ")"
		}
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return truncate(msg, MaxSummaryLength)
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// AsJobError extracts a *JobError from err, wrapping unknown errors with the fallback kind.
func AsJobError(err error, fallback error, stage Stage) *JobError {
	if err == nil {
		return nil
	}
	var je *JobError
	if errors.As(err, &je) {
		return je
	}
	return NewJobError(fallback, stage, "", err)
}
