package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rl1809/qr-fulfillment/internal/core/service"
)

// classify maps a service error onto an HTTP status, a stable code shared with
// the gRPC surface, and a message safe to show callers.
func classify(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, service.ErrExhaustedPool):
		return http.StatusConflict, "exhausted", "no codes left for this product"
	case errors.Is(err, service.ErrAllocationContention):
		return http.StatusServiceUnavailable, "contention", "too many concurrent sales, retry"
	case errors.Is(err, service.ErrArtifactWriteFailed):
		return http.StatusBadGateway, "evidence_upload_failed", "evidence upload failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "request timed out"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}
