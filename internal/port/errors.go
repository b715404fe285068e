package port

import "errors"

var (
	ErrVersionConflict  = errors.New("optimistic lock conflict")
	ErrArtifactNotFound = errors.New("artifact not found")
)
