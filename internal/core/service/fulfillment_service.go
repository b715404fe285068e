package service

import (
	"context"
	"fmt"
	"strings"
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
	DefaultSaleTimeout     = 10 * time.Second
	DefaultShippedDedupTTL = 24 * time.Hour

	projectionAttempts  = 3
	compensationTimeout = 5 * time.Second
)

type CreateSaleRequest struct {
	SellerID     string
	ManagerID    string
	ProductID    string
	SiteCode     domain.SiteCode
	Price        *int64
	ShippingCode string
	Evidence     []byte
}

func (r CreateSaleRequest) Validate() error {
	var missing []string
	if r.SellerID == "" {
		missing = append(missing, "seller id")
	}
	if r.ProductID == "" {
		missing = append(missing, "product id")
	}
	if r.SiteCode == "" {
		missing = append(missing, "site code")
	}
	if r.ShippingCode == "" {
		missing = append(missing, "shipping code")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if !r.SiteCode.Valid() {
		return fmt.Errorf("%w: unknown site code %q", ErrInvalidRequest, r.SiteCode)
	}
	if r.Price != nil && *r.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidRequest)
	}
	return nil
}

// SaleResult separates what CreateSale committed from what it only enriched.
// Committed and Projected define success; the rest is best-effort.
type SaleResult struct {
	SaleID             string
	Sale               domain.Sale
	MediaURL           string
	Committed          bool
	Projected          bool
	UnitBound          bool
	NotificationQueued bool
}

type FulfillmentOptions struct {
	// Timeout is the overall deadline of one CreateSale call.
	Timeout         time.Duration
	ShippedDedupTTL time.Duration
}

type FulfillmentDeps struct {
	Pool      *PoolManager
	Sales     port.SaleRepository
	Orders    port.OrderRepository
	Artifacts port.ArtifactStore
	// Cache suppresses duplicate shipment notifications; optional.
	Cache    port.CacheRepository
	Media    *MediaGateway
	Notifier Notifier
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// FulfillmentService threads a pool allocation through the sale, its order
// projection and the seller notification. Only single-row atomicity is
// assumed: the sale and projection rows define success and are written first,
// everything after them may be lost without breaking an invariant.
type FulfillmentService struct {
	pool      *PoolManager
	sales     port.SaleRepository
	orders    port.OrderRepository
	artifacts port.ArtifactStore
	cache     port.CacheRepository
	media     *MediaGateway
	notifier  Notifier
	opts      FulfillmentOptions
	logger    *zap.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer

	now       func() time.Time
	newSaleID func() string
}

func NewFulfillmentService(deps FulfillmentDeps, opts FulfillmentOptions) *FulfillmentService {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSaleTimeout
	}
	if opts.ShippedDedupTTL <= 0 {
		opts.ShippedDedupTTL = DefaultShippedDedupTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FulfillmentService{
		pool:      deps.Pool,
		sales:     deps.Sales,
		orders:    deps.Orders,
		artifacts: deps.Artifacts,
		cache:     deps.Cache,
		media:     deps.Media,
		notifier:  deps.Notifier,
		opts:      opts,
		logger:    logger,
		metrics:   deps.Metrics,
		tracer:    otel.Tracer("fulfillment"),
		now:       time.Now,
		newSaleID: newSaleID,
	}
}

// CreateSale claims a unit for the request and records the sale.
//
// A non-nil error with a nil result means nothing was committed. A non-nil
// error with a result means the sale row exists but its projection could not be
// written; retrying the projection is safe.
func (s *FulfillmentService) CreateSale(ctx context.Context, req CreateSaleRequest) (*SaleResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "fulfillment.CreateSale", trace.WithAttributes(
		attribute.String("seller.id", req.SellerID),
		attribute.String("product.id", req.ProductID),
	))
	defer span.End()

	var evidenceRef string
	if len(req.Evidence) > 0 {
		ref, contentType := newEvidenceRef(s.now(), req.Evidence)
		if err := s.artifacts.PutArtifact(ctx, ref, req.Evidence, contentType); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "evidence upload failed")
			return nil, fmt.Errorf("%w: %w", ErrArtifactWriteFailed, err)
		}
		evidenceRef = ref
	}

	unit, err := s.pool.Allocate(ctx, req.ProductID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocation failed")
		return nil, err
	}

	now := s.now()
	sale := domain.Sale{
		SaleID:       s.newSaleID(),
		SellerID:     req.SellerID,
		ManagerID:    req.ManagerID,
		ProductID:    req.ProductID,
		SiteCode:     req.SiteCode,
		PriceAtSale:  req.Price,
		ShippingCode: req.ShippingCode,
		EvidenceRef:  evidenceRef,
		UnitID:       unit.UnitID,
		ArtifactRef:  unit.ArtifactRef,
		Status:       domain.SaleStatusSubmitted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	span.SetAttributes(attribute.String("sale.id", sale.SaleID), attribute.String("unit.id", unit.UnitID))

	if err := s.sales.CreateSale(ctx, sale); err != nil {
		// the insert may have landed before the error surfaced, so the unit
		// only goes back once the row is known to be absent
		written, checkErr := s.saleWritten(ctx, sale)
		if checkErr != nil || !written {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sale write failed")
			if checkErr != nil {
				s.logger.Error("CRITICAL: sale write outcome unknown, unit left assigned",
					zap.String("sale_id", sale.SaleID),
					zap.String("product_id", unit.ProductID),
					zap.String("unit_id", unit.UnitID),
					zap.NamedError("write_error", err),
					zap.Error(checkErr),
				)
			} else {
				s.releaseUnit(ctx, unit, sale.SaleID)
			}
			return nil, fmt.Errorf("write sale: %w", err)
		}
		s.logger.Warn("sale write reported an error but the row exists",
			zap.String("sale_id", sale.SaleID),
			zap.Error(err),
		)
	}
	s.metrics.SaleCreated()

	result := &SaleResult{
		SaleID:    sale.SaleID,
		Sale:      sale,
		MediaURL:  s.media.MediaURL(sale.SellerID, sale.SaleID),
		Committed: true,
	}

	if err := s.project(ctx, domain.ProjectSale(sale)); err != nil {
		s.logger.Error("sale committed but order projection failed",
			zap.String("sale_id", sale.SaleID),
			zap.String("seller_id", sale.SellerID),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "projection write failed")
		return result, fmt.Errorf("write order projection for sale %s: %w", sale.SaleID, err)
	}
	result.Projected = true

	if err := s.pool.BindSale(ctx, unit, sale.SaleID); err != nil {
		s.logger.Warn("unit left bound to pending sale",
			zap.String("sale_id", sale.SaleID),
			zap.String("product_id", unit.ProductID),
			zap.String("unit_id", unit.UnitID),
			zap.Error(err),
		)
	} else {
		result.UnitBound = true
	}

	result.NotificationQueued = s.notifier.Enqueue(sale.SellerID, domain.Notification{
		ImageURL:     result.MediaURL,
		FallbackText: fmt.Sprintf("Sale %s registered. Your code is available at %s", sale.SaleID, result.MediaURL),
	})

	s.logger.Info("sale created",
		zap.String("sale_id", sale.SaleID),
		zap.String("seller_id", sale.SellerID),
		zap.String("product_id", sale.ProductID),
		zap.String("unit_id", unit.UnitID),
		zap.Bool("unit_bound", result.UnitBound),
		zap.Bool("notification_queued", result.NotificationQueued),
	)
	return result, nil
}

// project upserts the projection row. The merge is idempotent so a few
// retries are safe.
func (s *FulfillmentService) project(ctx context.Context, order domain.OrderProjection) error {
	var err error
	for attempt := 1; attempt <= projectionAttempts; attempt++ {
		if err = s.orders.UpsertOrder(ctx, order); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		s.logger.Warn("order projection write failed",
			zap.String("order_id", order.OrderID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return err
}

// saleWritten re-reads the sale after a failed write. It runs detached from
// the request so an expired deadline does not turn "absent" into "unknown".
func (s *FulfillmentService) saleWritten(ctx context.Context, sale domain.Sale) (bool, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	stored, err := s.sales.GetSale(ctx, sale.SellerID, sale.SaleID)
	if err != nil {
		return false, fmt.Errorf("re-read sale %s: %w", sale.SaleID, err)
	}
	return stored != nil, nil
}

func (s *FulfillmentService) releaseUnit(ctx context.Context, unit domain.PoolUnit, saleID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := s.pool.Release(ctx, unit, saleID); err != nil {
		s.logger.Error("CRITICAL: failed to release unit after sale write failure",
			zap.String("sale_id", saleID),
			zap.String("product_id", unit.ProductID),
			zap.String("unit_id", unit.UnitID),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("rolled back unit claim", zap.String("sale_id", saleID), zap.String("unit_id", unit.UnitID))
}

// MarkShipped advances a sale and its projection to shipped, consumes the bound
// unit and tells the seller. Repeating it leaves the same final state.
func (s *FulfillmentService) MarkShipped(ctx context.Context, sellerID, saleID string) error {
	if sellerID == "" || saleID == "" {
		return fmt.Errorf("%w: seller id and sale id are required", ErrInvalidRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "fulfillment.MarkShipped", trace.WithAttributes(
		attribute.String("seller.id", sellerID),
		attribute.String("sale.id", saleID),
	))
	defer span.End()

	sale, err := s.sales.GetSale(ctx, sellerID, saleID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("read sale: %w", err)
	}
	order, err := s.orders.GetOrder(ctx, sellerID, saleID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("read order: %w", err)
	}
	if sale == nil && order == nil {
		return ErrNotFound
	}

	now := s.now()
	if sale != nil {
		if err := s.sales.MergeSaleStatus(ctx, sellerID, saleID, domain.SaleStatusShipped, now); err != nil {
			span.RecordError(err)
			return fmt.Errorf("merge sale status: %w", err)
		}
	}
	err = s.orders.UpsertOrder(ctx, domain.OrderProjection{
		OwnerID:   sellerID,
		OrderID:   saleID,
		Status:    domain.SaleStatusShipped,
		UpdatedAt: now,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("merge order status: %w", err)
	}

	if sale != nil && sale.UnitID != "" {
		if err := s.pool.Consume(ctx, sale.ProductID, sale.UnitID, saleID); err != nil {
			s.logger.Warn("could not mark unit consumed",
				zap.String("sale_id", saleID),
				zap.String("unit_id", sale.UnitID),
				zap.Error(err),
			)
		}
	}

	s.notifyShipped(ctx, sellerID, saleID)
	return nil
}

func (s *FulfillmentService) notifyShipped(ctx context.Context, sellerID, saleID string) {
	key := fmt.Sprintf("shipped:%s:%s", sellerID, saleID)
	marked := false
	if s.cache != nil {
		first, err := s.cache.SetIdempotency(ctx, key, s.opts.ShippedDedupTTL)
		if err != nil {
			s.logger.Warn("shipment dedup check failed, notifying anyway", zap.String("sale_id", saleID), zap.Error(err))
		} else if !first {
			s.logger.Debug("shipment already notified", zap.String("sale_id", saleID))
			return
		}
		marked = err == nil
	}
	queued := s.notifier.Enqueue(sellerID, domain.Notification{
		Text: fmt.Sprintf("Order %s has been marked as shipped. Thank you!", saleID),
	})
	if queued || !marked {
		return
	}
	// nothing went out, so a retried MarkShipped must be allowed to notify
	if err := s.cache.ClearIdempotency(ctx, key); err != nil {
		s.logger.Warn("shipment notification dropped and dedup key kept",
			zap.String("sale_id", saleID),
			zap.Error(err),
		)
	}
}
