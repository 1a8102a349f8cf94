package app

import "errors"

var (
	// ErrQueueUnavailable indicates async annotation was requested without a job queue.
	ErrQueueUnavailable = errors.New("annotation queue not configured")
	// ErrUnknownAnnotation indicates an annotation kind other than enhance or autotag.
	ErrUnknownAnnotation = errors.New("unknown annotation kind")
)
