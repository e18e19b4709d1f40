package platform

// Package platform contains filesystem glue shared by the pipeline stages:
// directory setup, locating files the extractor renamed, moving artifacts
// into place and purging namespaced temp files.
