package store

import "errors"

var (
	ErrNotFound     = errors.New("store: scene not found")
	ErrClosed       = errors.New("store: closed")
	ErrEmptySceneID = errors.New("store: empty scene id")
	ErrEmptyCanvas  = errors.New("store: empty canvas")
	ErrInvalidJSON  = errors.New("store: canvas is not valid json")
)
