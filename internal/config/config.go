// Package config loads runtime settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ServiceName    = "qr-fulfillment"
	ServiceVersion = "0.1.0"
)

type Config struct {
	HTTPAddr          string        `yaml:"http_addr"`
	GRPCAddr          string        `yaml:"grpc_addr"`
	MySQLDSN          string        `yaml:"mysql_dsn"`
	RedisAddr         string        `yaml:"redis_addr"`
	KafkaBrokers      []string      `yaml:"kafka_brokers"`
	NotificationTopic string        `yaml:"notification_topic"`
	PublicBaseURL     string        `yaml:"public_base_url"`
	OtelEndpoint      string        `yaml:"otel_endpoint"`
	Development       bool          `yaml:"development"`
	Allocation        Allocation    `yaml:"allocation"`
	Notify            Notify        `yaml:"notify"`
	SaleTimeout       time.Duration `yaml:"sale_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type Allocation struct {
	MaxAttempts int `yaml:"max_attempts"`
	BatchSize   int `yaml:"batch_size"`
}

type Notify struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	ImageHTTPSOnly bool          `yaml:"image_https_only"`
	ShippedDedup   time.Duration `yaml:"shipped_dedup"`
}

func defaults() Config {
	return Config{
		HTTPAddr:          ":8080",
		GRPCAddr:          ":50051",
		MySQLDSN:          "root:root@tcp(localhost:3306)/fulfillment?parseTime=true",
		RedisAddr:         "localhost:6379",
		NotificationTopic: "notifications",
		PublicBaseURL:     "http://localhost:8080",
		Allocation:        Allocation{MaxAttempts: 5, BatchSize: 10},
		Notify: Notify{
			Workers:        4,
			QueueSize:      1024,
			ImageHTTPSOnly: true,
			ShippedDedup:   24 * time.Hour,
		},
		SaleTimeout:     10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Load reads CONFIG_FILE when set, then applies environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = getenv("GRPC_ADDR", cfg.GRPCAddr)
	cfg.MySQLDSN = getenv("MYSQL_DSN", cfg.MySQLDSN)
	cfg.RedisAddr = getenv("REDIS_ADDR", cfg.RedisAddr)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	cfg.NotificationTopic = getenv("NOTIFICATION_TOPIC", cfg.NotificationTopic)
	cfg.PublicBaseURL = strings.TrimRight(getenv("PUBLIC_BASE_URL", cfg.PublicBaseURL), "/")
	cfg.OtelEndpoint = getenv("OTEL_ENDPOINT", cfg.OtelEndpoint)
	cfg.Development = boolenv("DEVELOPMENT", cfg.Development)

	cfg.Allocation.MaxAttempts = atoienv("ALLOCATION_MAX_ATTEMPTS", cfg.Allocation.MaxAttempts)
	cfg.Allocation.BatchSize = atoienv("ALLOCATION_BATCH_SIZE", cfg.Allocation.BatchSize)

	cfg.Notify.Workers = atoienv("NOTIFY_WORKERS", cfg.Notify.Workers)
	cfg.Notify.QueueSize = atoienv("NOTIFY_QUEUE_SIZE", cfg.Notify.QueueSize)
	cfg.Notify.ImageHTTPSOnly = boolenv("IMAGE_HTTPS_ONLY", cfg.Notify.ImageHTTPSOnly)
	cfg.Notify.ShippedDedup = durenv("SHIPPED_DEDUP_TTL_S", time.Second, cfg.Notify.ShippedDedup)

	cfg.SaleTimeout = durenv("SALE_TIMEOUT_MS", time.Millisecond, cfg.SaleTimeout)
	cfg.ShutdownTimeout = durenv("SHUTDOWN_TIMEOUT_S", time.Second, cfg.ShutdownTimeout)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Allocation.MaxAttempts < 1 || c.Allocation.MaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("allocation max attempts must be within [1,10], got %d", c.Allocation.MaxAttempts))
	}
	if c.Allocation.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("allocation batch size must be positive, got %d", c.Allocation.BatchSize))
	}
	if c.Notify.Workers < 1 {
		errs = append(errs, fmt.Errorf("notify workers must be positive, got %d", c.Notify.Workers))
	}
	if c.Notify.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("notify queue size must be positive, got %d", c.Notify.QueueSize))
	}
	if c.PublicBaseURL == "" {
		errs = append(errs, errors.New("public base url is required"))
	}
	if c.SaleTimeout <= 0 {
		errs = append(errs, errors.New("sale timeout must be positive"))
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolenv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durenv(key string, unit time.Duration, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * unit
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
