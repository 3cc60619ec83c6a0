package store

import "encoding/json"

// ValidateSave checks the arguments every backend's Save receives.
func ValidateSave(sceneID string, canvas []byte) error {
	if sceneID == "" {
		return ErrEmptySceneID
	}
	if len(canvas) == 0 {
		return ErrEmptyCanvas
	}
	if !json.Valid(canvas) {
		return ErrInvalidJSON
	}
	return nil
}
