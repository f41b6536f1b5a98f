package domain

import "errors"

// Failure taxonomy for a single turn. Every one of these is turned into a
// user-visible reply by the workflow controller.
var (
	ErrDecisionUnavailable = errors.New("decision unavailable")
	ErrJobStart            = errors.New("image job start failed")
	ErrJobFailed           = errors.New("image job failed")
	ErrPollingTransport    = errors.New("image job polling transport failure")
	ErrMissingTemplate     = errors.New("no template selected")
)
