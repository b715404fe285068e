package service

import (
	"context"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/qr-fulfillment/internal/core/domain"
	"github.com/rl1809/qr-fulfillment/internal/observability"
	"github.com/rl1809/qr-fulfillment/internal/port"
)

// MediaRoutePrefix is where the HTTP layer serves Resolve.
const MediaRoutePrefix = "/api/img"

// MediaGateway resolves an owner's order to the artifact bound to it.
type MediaGateway struct {
	orders    port.OrderRepository
	artifacts port.ArtifactStore
	baseURL   string
	logger    *zap.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
}

func NewMediaGateway(orders port.OrderRepository, artifacts port.ArtifactStore, baseURL string, logger *zap.Logger, metrics *observability.Metrics) *MediaGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaGateway{
		orders:    orders,
		artifacts: artifacts,
		baseURL:   baseURL,
		logger:    logger,
		metrics:   metrics,
		tracer:    otel.Tracer("media-gateway"),
	}
}

// Resolve returns the artifact of (ownerID, orderID) with its content type
// settled. Every failure, backend errors included, is reported as ErrNotFound.
func (g *MediaGateway) Resolve(ctx context.Context, ownerID, orderID string) (domain.Artifact, error) {
	ctx, span := g.tracer.Start(ctx, "media.Resolve", trace.WithAttributes(
		attribute.String("owner.id", ownerID),
		attribute.String("order.id", orderID),
	))
	defer span.End()

	if ownerID == "" || orderID == "" {
		g.metrics.MediaResolution("miss")
		return domain.Artifact{}, ErrNotFound
	}

	order, err := g.orders.GetOrder(ctx, ownerID, orderID)
	if err != nil {
		g.logger.Warn("order lookup failed", zap.String("owner_id", ownerID), zap.String("order_id", orderID), zap.Error(err))
		span.RecordError(err)
		g.metrics.MediaResolution("miss")
		return domain.Artifact{}, ErrNotFound
	}
	if order == nil || order.ArtifactRef == "" {
		g.metrics.MediaResolution("miss")
		return domain.Artifact{}, ErrNotFound
	}

	artifact, err := g.artifacts.GetArtifact(ctx, order.ArtifactRef)
	if err != nil {
		g.logger.Warn("artifact read failed", zap.String("artifact_ref", order.ArtifactRef), zap.Error(err))
		span.RecordError(err)
		g.metrics.MediaResolution("miss")
		return domain.Artifact{}, ErrNotFound
	}

	artifact.Ref = order.ArtifactRef
	artifact.ContentType = artifact.ResolvedContentType()
	g.metrics.MediaResolution("hit")
	return artifact, nil
}

// MediaURL is the public address a recipient fetches the order's artifact from.
func (g *MediaGateway) MediaURL(ownerID, orderID string) string {
	return g.baseURL + MediaRoutePrefix + "/" + url.PathEscape(ownerID) + "/" + url.PathEscape(orderID)
}
