package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/qr-fulfillment/internal/adapter/handler"
	"github.com/rl1809/qr-fulfillment/internal/adapter/messaging"
	"github.com/rl1809/qr-fulfillment/internal/adapter/storage"
	"github.com/rl1809/qr-fulfillment/internal/config"
	"github.com/rl1809/qr-fulfillment/internal/core/service"
	"github.com/rl1809/qr-fulfillment/internal/observability"
	"github.com/rl1809/qr-fulfillment/internal/port"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(config.ServiceName, cfg.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, config.ServiceName, config.ServiceVersion, cfg.OtelEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	mysqlAdapter := storage.NewMySQLAdapter(db)
	if err := mysqlAdapter.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	redisAdapter := storage.NewRedisAdapter(rdb)
	logger.Info("connected to redis")

	messenger, closeMessenger, err := newMessenger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeMessenger()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	pool := service.NewPoolManager(mysqlAdapter, service.PoolOptions{
		MaxAttempts: cfg.Allocation.MaxAttempts,
		BatchSize:   cfg.Allocation.BatchSize,
	}, logger.Named("pool"), metrics)

	dispatcher := service.NewNotificationDispatcher(messenger, service.DispatcherOptions{
		QueueSize:      cfg.Notify.QueueSize,
		ImageHTTPSOnly: cfg.Notify.ImageHTTPSOnly,
	}, logger.Named("notify"), metrics)
	dispatcher.Start(cfg.Notify.Workers)
	logger.Info("started notification workers", zap.Int("workers", cfg.Notify.Workers))

	media := service.NewMediaGateway(mysqlAdapter, redisAdapter, cfg.PublicBaseURL, logger.Named("media"), metrics)
	fulfillment := service.NewFulfillmentService(service.FulfillmentDeps{
		Pool:      pool,
		Sales:     mysqlAdapter,
		Orders:    mysqlAdapter,
		Artifacts: redisAdapter,
		Cache:     redisAdapter,
		Media:     media,
		Notifier:  dispatcher,
		Logger:    logger.Named("fulfillment"),
		Metrics:   metrics,
	}, service.FulfillmentOptions{
		Timeout:         cfg.SaleTimeout,
		ShippedDedupTTL: cfg.Notify.ShippedDedup,
	})
	commands := service.NewCommandService(mysqlAdapter, media, logger.Named("commands"))

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(handler.LoggingInterceptor(logger.Named("grpc"))))
	handler.RegisterFulfillmentServer(grpcServer, handler.NewGRPCHandler(fulfillment, pool))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	// Initialize HTTP server
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	httpHandler := handler.NewHTTPHandler(fulfillment, pool, media, commands, logger.Named("http"))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Router(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		logger.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		// committed sales may still have notifications queued
		dispatcher.Close()
		logger.Info("notification workers stopped")

		return errors.Join(err, shutdownTracing(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("connections closed")
	return nil
}

func newMessenger(cfg *config.Config, logger *zap.Logger) (port.Messenger, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Warn("no kafka brokers configured, notifications go to the log")
		return messaging.NewLogMessenger(logger), func() {}, nil
	}

	writer, err := messaging.NewKafkaWriter(cfg.KafkaBrokers, cfg.NotificationTopic, config.ServiceName, otel.GetTracerProvider())
	if err != nil {
		return nil, nil, err
	}
	m := messaging.NewKafkaMessenger(writer)
	logger.Info("publishing notifications to kafka",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.NotificationTopic),
	)
	return m, func() {
		if err := m.Close(); err != nil {
			logger.Warn("close kafka writer", zap.Error(err))
		}
	}, nil
}
