package port

import (
	"context"
	"time"

	"github.com/rl1809/qr-fulfillment/internal/core/domain"
)

type SaleRepository interface {
	// CreateSale inserts a new sale row
	CreateSale(ctx context.Context, sale domain.Sale) error

	// GetSale reads a sale by seller and id, nil if absent
	GetSale(ctx context.Context, sellerID, saleID string) (*domain.Sale, error)

	// MergeSaleStatus advances the stored status; it never moves it backwards
	MergeSaleStatus(ctx context.Context, sellerID, saleID string, status domain.SaleStatus, at time.Time) error
}

type OrderRepository interface {
	// UpsertOrder merges the projection row; repeating the same input is a no-op
	UpsertOrder(ctx context.Context, order domain.OrderProjection) error

	// GetOrder reads the projection for an owner's order, nil if absent
	GetOrder(ctx context.Context, ownerID, orderID string) (*domain.OrderProjection, error)
}
