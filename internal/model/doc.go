package model

// Package model defines domain data structures shared across the relay: transfer
// jobs with their stage state machine, media metadata, delivery payloads, and the
// error taxonomy for terminal outcomes.
