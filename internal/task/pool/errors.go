package pool

import "errors"

var (
	ErrClosed         = errors.New("worker pool closed")
	ErrBusy           = errors.New("worker pool busy: previous submission still collecting")
	ErrInvalidWorkers = errors.New("worker pool needs at least one worker")
	ErrNilAnalyzer    = errors.New("worker pool analyzer is nil")
	ErrNilResult      = errors.New("analyzer returned neither result nor error")
	ErrPanic          = errors.New("analyzer panicked")
)
