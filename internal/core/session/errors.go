package session

import "errors"

var (
	ErrDetached        = errors.New("session: detached")
	ErrAlreadyAttached = errors.New("session: already attached")
	ErrNotReady        = errors.New("session: not ready")
	ErrEmptySceneID    = errors.New("session: empty scene id")
	ErrNoStore         = errors.New("session: no store")
	ErrNoSurface       = errors.New("session: no surface")
)
