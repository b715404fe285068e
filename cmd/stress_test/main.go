package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/qr-fulfillment/internal/adapter/handler"
	"github.com/rl1809/qr-fulfillment/internal/adapter/storage"
	"github.com/rl1809/qr-fulfillment/internal/core/domain"
	"github.com/rl1809/qr-fulfillment/internal/core/service"
)

func main() {
	var (
		dsn      = flag.String("mysql", envOr("MYSQL_DSN", "root:root@tcp(localhost:3306)/fulfillment?parseTime=true"), "MySQL DSN")
		grpcAddr = flag.String("grpc", "", "run full sales against a server at this address instead of allocating directly")
		units    = flag.Int("units", 20, "units seeded into the pool")
		requests = flag.Int("requests", 50, "concurrent buyers")
		attempts = flag.Int("attempts", service.DefaultMaxAttempts, "allocation rounds per buyer (direct mode)")
	)
	flag.Parse()

	ctx := context.Background()

	db, err := sql.Open("mysql", *dsn)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}

	store := storage.NewMySQLAdapter(db)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema: %v", err)
	}

	// Fresh product per run so earlier runs never interfere
	productID := "stress-" + uuid.NewString()[:8]
	seed := make([]domain.PoolUnit, *units)
	for i := range seed {
		seed[i] = domain.PoolUnit{
			ProductID:   productID,
			UnitID:      fmt.Sprintf("unit-%04d", i),
			ArtifactRef: fmt.Sprintf("stress/%s/unit-%04d.png", productID, i),
		}
	}
	if _, err := store.InsertUnits(ctx, seed); err != nil {
		log.Fatalf("failed to seed units: %v", err)
	}

	var buy func(ctx context.Context, i int) error
	if *grpcAddr != "" {
		conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			log.Fatalf("failed to dial grpc: %v", err)
		}
		defer conn.Close()
		client := handler.NewFulfillmentClient(conn)
		buy = func(ctx context.Context, i int) error {
			resp, err := client.CreateSale(ctx, &handler.CreateSaleRequest{
				SellerID:     fmt.Sprintf("stress-seller-%d", i),
				ProductID:    productID,
				SiteCode:     string(domain.SiteCodeM),
				ShippingCode: fmt.Sprintf("STRESS-%d", i),
			})
			if err != nil {
				return err
			}
			if !resp.Success {
				return errors.New(resp.Code)
			}
			return nil
		}
	} else {
		pool := service.NewPoolManager(store, service.PoolOptions{MaxAttempts: *attempts}, zap.NewNop(), nil)
		buy = func(ctx context.Context, i int) error {
			_, err := pool.Allocate(ctx, productID)
			return err
		}
	}

	var (
		successCount atomic.Int32
		mu           sync.Mutex
		failures     = make(map[string]int)
	)

	// Spawn concurrent requests
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i := 0; i < *requests; i++ {
		g.Go(func() error {
			if err := buy(gctx, i); err != nil {
				mu.Lock()
				failures[reason(err)]++
				mu.Unlock()
				return nil
			}
			successCount.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	level, err := store.CountUnits(ctx, productID)
	if err != nil {
		log.Fatalf("failed to count units: %v", err)
	}

	success := int(successCount.Load())
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Product:          %s\n", productID)
	fmt.Printf("Seeded Units:     %d\n", *units)
	fmt.Printf("Total Requests:   %d\n", *requests)
	fmt.Printf("Successful:       %d\n", success)
	for r, n := range failures {
		fmt.Printf("Failed (%s): %d\n", r, n)
	}
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Printf("Stock:            available=%d assigned=%d consumed=%d\n", level.Available, level.Assigned, level.Consumed)
	fmt.Println("==========================================")

	if level.Assigned+level.Consumed != success {
		fmt.Printf("FAIL: %d successes but %d units claimed\n", success, level.Assigned+level.Consumed)
		os.Exit(1)
	}
	if success > *units {
		fmt.Printf("FAIL: over-allocated %d > %d\n", success, *units)
		os.Exit(1)
	}
	fmt.Println("PASS: every success holds exactly one unit")
}

func reason(err error) string {
	switch {
	case errors.Is(err, service.ErrExhaustedPool):
		return "exhausted"
	case errors.Is(err, service.ErrAllocationContention):
		return "contention"
	default:
		return err.Error()
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
