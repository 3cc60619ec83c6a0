package snapshot

import "errors"

var (
	ErrEmptyPayload       = errors.New("snapshot payload is empty")
	ErrMalformed          = errors.New("malformed snapshot")
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)
