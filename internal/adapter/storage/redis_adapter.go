package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/qr-fulfillment/internal/core/domain"
	"github.com/rl1809/qr-fulfillment/internal/port"
)

const (
	artifactKeyPrefix    = "artifact:"
	idempotencyKeyPrefix = "idempotency:"
	idempotencyKeyTTL    = 24 * time.Hour

	fieldData        = "data"
	fieldContentType = "content_type"
)

// putArtifactScript replaces the whole hash so a rewrite without a content type
// does not inherit the previous one.
var putArtifactScript = redis.NewScript(`
local key = KEYS[1]
redis.call('DEL', key)
if ARGV[2] == '' then
	redis.call('HSET', key, 'data', ARGV[1])
else
	redis.call('HSET', key, 'data', ARGV[1], 'content_type', ARGV[2])
end
return 1
`)

// RedisAdapter is the artifact store and the idempotency key cache.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) PutArtifact(ctx context.Context, ref string, data []byte, contentType string) error {
	if ref == "" {
		return fmt.Errorf("put artifact: empty ref")
	}
	if err := putArtifactScript.Run(ctx, r.client, []string{artifactKeyPrefix + ref}, data, contentType).Err(); err != nil {
		return fmt.Errorf("put artifact %s: %w", ref, err)
	}
	return nil
}

func (r *RedisAdapter) GetArtifact(ctx context.Context, ref string) (domain.Artifact, error) {
	values, err := r.client.HGetAll(ctx, artifactKeyPrefix+ref).Result()
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("get artifact %s: %w", ref, err)
	}
	data, ok := values[fieldData]
	if !ok {
		return domain.Artifact{}, port.ErrArtifactNotFound
	}
	return domain.Artifact{
		Ref:         ref,
		Data:        []byte(data),
		ContentType: values[fieldContentType],
	}, nil
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = idempotencyKeyTTL
	}
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ClearIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}
