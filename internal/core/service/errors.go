package service

import "errors"

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrExhaustedPool        = errors.New("pool exhausted")
	ErrAllocationContention = errors.New("allocation contention")
	ErrArtifactWriteFailed  = errors.New("artifact write failed")
	ErrNotFound             = errors.New("not found")
)
