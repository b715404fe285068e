package port

import (
	"context"
	"time"

	"github.com/rl1809/qr-fulfillment/internal/core/domain"
)

type PoolRepository interface {
	// GetUnit reads one unit with its current version, nil if absent
	GetUnit(ctx context.Context, productID, unitID string) (*domain.PoolUnit, error)

	// ScanAvailable returns up to limit units of the product in available status
	ScanAvailable(ctx context.Context, productID string, limit int) ([]domain.PoolUnit, error)

	// UpdateUnit writes status and sale binding only if unit.Version still matches,
	// otherwise returns ErrVersionConflict
	UpdateUnit(ctx context.Context, unit domain.PoolUnit) (domain.PoolUnit, error)

	// MergeUnitSale unconditionally records the owning sale id on a unit
	MergeUnitSale(ctx context.Context, productID, unitID, saleID string, at time.Time) error

	// CountUnits groups the product's units by status
	CountUnits(ctx context.Context, productID string) (domain.StockLevel, error)
}
