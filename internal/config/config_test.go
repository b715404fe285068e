package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.Allocation.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Allocation.MaxAttempts)
	}
	if !cfg.Notify.ImageHTTPSOnly {
		t.Error("expected https-only images by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PUBLIC_BASE_URL", "https://example.test/")
	t.Setenv("ALLOCATION_MAX_ATTEMPTS", "3")
	t.Setenv("SALE_TIMEOUT_MS", "2500")
	t.Setenv("IMAGE_HTTPS_ONLY", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.HTTPAddr)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.PublicBaseURL != "https://example.test" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.PublicBaseURL)
	}
	if cfg.Allocation.MaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.Allocation.MaxAttempts)
	}
	if cfg.SaleTimeout != 2500*time.Millisecond {
		t.Errorf("expected 2.5s, got %v", cfg.SaleTimeout)
	}
	if cfg.Notify.ImageHTTPSOnly {
		t.Error("expected https-only disabled")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
http_addr: ":7070"
allocation:
  max_attempts: 4
  batch_size: 20
notify:
  workers: 2
  queue_size: 8
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddr != ":7070" || cfg.Allocation.BatchSize != 20 || cfg.Notify.Workers != 2 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.GRPCAddr != ":50051" {
		t.Errorf("expected default grpc addr kept, got %s", cfg.GRPCAddr)
	}
}

func TestLoad_InvalidAttempts(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("ALLOCATION_MAX_ATTEMPTS", "50")

	if _, err := Load(); err == nil {
		t.Error("expected validation error")
	}
}
