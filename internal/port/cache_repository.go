package port

import (
	"context"
	"time"
)

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// ClearIdempotency removes a key so the guarded action can run again
	ClearIdempotency(ctx context.Context, key string) error
}
