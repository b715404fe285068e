package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/qr-fulfillment/internal/core/domain"
	"github.com/rl1809/qr-fulfillment/internal/port"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestArtifact_PutGet(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	ref := "test/codes/a.png"
	defer client.Del(ctx, artifactKeyPrefix+ref)

	if err := adapter.PutArtifact(ctx, ref, []byte{0x89, 'P', 'N', 'G'}, domain.ContentTypeJPEG); err != nil {
		t.Fatalf("PutArtifact: %v", err)
	}
	got, err := adapter.GetArtifact(ctx, ref)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if string(got.Data) != "\x89PNG" || got.ContentType != domain.ContentTypeJPEG {
		t.Errorf("unexpected artifact %+v", got)
	}

	// rewrite without a declared type drops the old one
	if err := adapter.PutArtifact(ctx, ref, []byte("x"), ""); err != nil {
		t.Fatalf("PutArtifact: %v", err)
	}
	got, _ = adapter.GetArtifact(ctx, ref)
	if got.ContentType != "" || got.ResolvedContentType() != domain.ContentTypePNG {
		t.Errorf("expected suffix-derived type, got %+v", got)
	}
}

func TestArtifact_NotFound(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	_, err := NewRedisAdapter(client).GetArtifact(context.Background(), "test/missing")
	if !errors.Is(err, port.ErrArtifactNotFound) {
		t.Errorf("expected ErrArtifactNotFound, got: %v", err)
	}
}

func TestSetIdempotency(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	key := "test-shipped-key"
	client.Del(ctx, idempotencyKeyPrefix+key)

	ok, err := adapter.SetIdempotency(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first set: ok=%v err=%v", ok, err)
	}
	ok, err = adapter.SetIdempotency(ctx, key, time.Minute)
	if err != nil || ok {
		t.Errorf("second set: ok=%v err=%v", ok, err)
	}

	ttl := client.TTL(ctx, idempotencyKeyPrefix+key).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("unexpected ttl %v", ttl)
	}

	if err := adapter.ClearIdempotency(ctx, key); err != nil {
		t.Fatalf("clear: %v", err)
	}
	ok, err = adapter.SetIdempotency(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Errorf("set after clear: ok=%v err=%v", ok, err)
	}
	client.Del(ctx, idempotencyKeyPrefix+key)
}

func TestSetIdempotency_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	key := "test-concurrent-key"
	client.Del(ctx, idempotencyKeyPrefix+key)
	defer client.Del(ctx, idempotencyKeyPrefix+key)

	var (
		wg      sync.WaitGroup
		success atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := adapter.SetIdempotency(ctx, key, 0); ok {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	if success.Load() != 1 {
		t.Errorf("expected exactly 1 winner, got %d", success.Load())
	}
}
