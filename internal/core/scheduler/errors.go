package scheduler

import "errors"

var (
	ErrNoCapture = errors.New("scheduler: capture hook not set")
	ErrNoSave    = errors.New("scheduler: save hook not set")
)
