package scene

import "errors"

var (
	// ErrDisposed is returned by every operation on a scene after Dispose.
	ErrDisposed = errors.New("scene is disposed")
)
