package pipeline

// Package pipeline drives transfer jobs. Orchestrator walks one job through
// acquisition, verification, the optional size-budget transcode, metadata
// extraction and delivery, and always removes the job's temp files before it
// reports the terminal stage. Service owns the job registry and the parallel job
// limit; Recover purges what a crashed run left behind.
