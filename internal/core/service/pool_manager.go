package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/qr-fulfillment/internal/core/domain"
	"github.com/rl1809/qr-fulfillment/internal/observability"
	"github.com/rl1809/qr-fulfillment/internal/port"
)

const (
	DefaultMaxAttempts = 5
	DefaultBatchSize   = 10

	retryBaseDelay = 2 * time.Millisecond
)

type PoolOptions struct {
	// MaxAttempts bounds the scan-and-claim rounds of one Allocate call.
	MaxAttempts int
	// BatchSize is how many available candidates one scan returns.
	BatchSize int
}

// PoolManager owns the available -> assigned -> consumed lifecycle of pool units.
// It is the only writer of unit status.
type PoolManager struct {
	repo    port.PoolRepository
	opts    PoolOptions
	logger  *zap.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewPoolManager(repo port.PoolRepository, opts PoolOptions, logger *zap.Logger, metrics *observability.Metrics) *PoolManager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolManager{
		repo:    repo,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("pool-manager"),
		now:     time.Now,
	}
}

// Allocate claims one available unit of productID for the caller.
//
// Each round scans a batch of available units and tries them in random order
// with a conditional write guarded by the version read during the scan. A
// version conflict means another caller won that unit; the next candidate is
// tried. An empty scan yields ErrExhaustedPool. Running out of rounds while
// candidates keep slipping away yields ErrAllocationContention.
func (p *PoolManager) Allocate(ctx context.Context, productID string) (domain.PoolUnit, error) {
	ctx, span := p.tracer.Start(ctx, "pool.Allocate", trace.WithAttributes(attribute.String("product.id", productID)))
	defer span.End()

	if productID == "" {
		return domain.PoolUnit{}, fmt.Errorf("%w: product id is required", ErrInvalidRequest)
	}

	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "deadline")
			return domain.PoolUnit{}, err
		}

		candidates, err := p.repo.ScanAvailable(ctx, productID, p.opts.BatchSize)
		if err != nil {
			p.metrics.Allocation("error")
			span.RecordError(err)
			return domain.PoolUnit{}, fmt.Errorf("scan available units: %w", err)
		}
		if len(candidates) == 0 {
			p.metrics.Allocation("exhausted")
			span.SetAttributes(attribute.Int("pool.attempts", attempt))
			return domain.PoolUnit{}, ErrExhaustedPool
		}

		rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

		for _, candidate := range candidates {
			unit, err := p.claim(ctx, candidate)
			if err == nil {
				p.metrics.Allocation("claimed")
				span.SetAttributes(attribute.String("unit.id", unit.UnitID), attribute.Int("pool.attempts", attempt))
				return unit, nil
			}
			if !errors.Is(err, port.ErrVersionConflict) {
				p.metrics.Allocation("error")
				span.RecordError(err)
				return domain.PoolUnit{}, fmt.Errorf("claim unit %s: %w", candidate.UnitID, err)
			}
			p.metrics.VersionConflict()
		}

		p.logger.Debug("allocation round lost every candidate",
			zap.String("product_id", productID),
			zap.Int("attempt", attempt),
			zap.Int("candidates", len(candidates)),
		)
		if err := p.backoff(ctx, attempt); err != nil {
			return domain.PoolUnit{}, err
		}
	}

	p.metrics.Allocation("contention")
	p.logger.Warn("allocation gave up under contention",
		zap.String("product_id", productID),
		zap.Int("attempts", p.opts.MaxAttempts),
	)
	span.SetStatus(codes.Error, "contention")
	return domain.PoolUnit{}, ErrAllocationContention
}

func (p *PoolManager) claim(ctx context.Context, candidate domain.PoolUnit) (domain.PoolUnit, error) {
	if candidate.Status != domain.UnitStatusAvailable {
		return domain.PoolUnit{}, port.ErrVersionConflict
	}
	next := candidate
	next.Status = domain.UnitStatusAssigned
	next.AssignedSaleID = domain.PendingSaleID
	next.UpdatedAt = p.now()
	return p.repo.UpdateUnit(ctx, next)
}

func (p *PoolManager) backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(attempt)*retryBaseDelay + rand.N(retryBaseDelay)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BindSale records the real sale id on a claimed unit. The write is an
// unconditional merge: safe to retry and safe to lose.
func (p *PoolManager) BindSale(ctx context.Context, unit domain.PoolUnit, saleID string) error {
	if saleID == "" {
		return fmt.Errorf("%w: sale id is required", ErrInvalidRequest)
	}
	return p.repo.MergeUnitSale(ctx, unit.ProductID, unit.UnitID, saleID, p.now())
}

// Release hands a claimed unit back to the pool. It is a compensating action
// for a sale that is known not to exist, not a normal path. The unit must still
// carry the claim placeholder or saleID; the version guard rejects a unit that
// moved on since it was claimed.
func (p *PoolManager) Release(ctx context.Context, unit domain.PoolUnit, saleID string) error {
	if unit.Status != domain.UnitStatusAssigned {
		return fmt.Errorf("%w: only assigned units can be released", ErrInvalidRequest)
	}
	if !heldBy(unit, saleID) {
		return fmt.Errorf("%w: unit %s is held by sale %s", ErrInvalidRequest, unit.UnitID, unit.AssignedSaleID)
	}
	next := unit
	next.Status = domain.UnitStatusAvailable
	next.AssignedSaleID = ""
	next.UpdatedAt = p.now()
	if _, err := p.repo.UpdateUnit(ctx, next); err != nil {
		return fmt.Errorf("release unit %s: %w", unit.UnitID, err)
	}
	p.logger.Warn("released unit back to pool",
		zap.String("product_id", unit.ProductID),
		zap.String("unit_id", unit.UnitID),
		zap.String("sale_id", saleID),
	)
	return nil
}

// Consume marks the unit of a shipped sale as used up. A unit already consumed
// by the same sale is left alone; a unit held by a different sale is refused.
func (p *PoolManager) Consume(ctx context.Context, productID, unitID, saleID string) error {
	for attempt := 0; attempt < 2; attempt++ {
		unit, err := p.repo.GetUnit(ctx, productID, unitID)
		if err != nil {
			return fmt.Errorf("read unit %s: %w", unitID, err)
		}
		if unit == nil {
			return ErrNotFound
		}
		switch unit.Status {
		case domain.UnitStatusConsumed:
			if unit.AssignedSaleID != saleID {
				return fmt.Errorf("%w: unit %s was consumed by sale %s", ErrInvalidRequest, unitID, unit.AssignedSaleID)
			}
			return nil
		case domain.UnitStatusAssigned:
			if !heldBy(*unit, saleID) {
				return fmt.Errorf("%w: unit %s is held by sale %s", ErrInvalidRequest, unitID, unit.AssignedSaleID)
			}
		default:
			return fmt.Errorf("%w: unit %s is %s", ErrInvalidRequest, unitID, unit.Status)
		}

		next := *unit
		next.Status = domain.UnitStatusConsumed
		next.AssignedSaleID = saleID
		next.UpdatedAt = p.now()
		_, err = p.repo.UpdateUnit(ctx, next)
		if err == nil {
			return nil
		}
		if !errors.Is(err, port.ErrVersionConflict) {
			return fmt.Errorf("consume unit %s: %w", unitID, err)
		}
		p.metrics.VersionConflict()
	}
	return fmt.Errorf("consume unit %s: %w", unitID, port.ErrVersionConflict)
}

// heldBy reports whether the unit's holder is saleID or the claim placeholder
// written before the sale id was bound.
func heldBy(unit domain.PoolUnit, saleID string) bool {
	return unit.AssignedSaleID == domain.PendingSaleID || (saleID != "" && unit.AssignedSaleID == saleID)
}

// Stock reports how many units of the product sit in each status.
func (p *PoolManager) Stock(ctx context.Context, productID string) (domain.StockLevel, error) {
	if productID == "" {
		return domain.StockLevel{}, fmt.Errorf("%w: product id is required", ErrInvalidRequest)
	}
	level, err := p.repo.CountUnits(ctx, productID)
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("count units: %w", err)
	}
	level.ProductID = productID
	return level, nil
}
