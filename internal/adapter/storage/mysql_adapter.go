package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/qr-fulfillment/internal/core/domain"
	"github.com/rl1809/qr-fulfillment/internal/port"
)

// Status ranks for merge writes: a stored status is only replaced by one that
// ranks at least as high.
const statusRank = `FIELD(%s, 'submitted', 'shipped')`

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pool_units (
		product_id       VARCHAR(64)  NOT NULL,
		unit_id          VARCHAR(64)  NOT NULL,
		status           VARCHAR(16)  NOT NULL DEFAULT 'available',
		assigned_sale_id VARCHAR(64)  NOT NULL DEFAULT '',
		artifact_ref     VARCHAR(255) NOT NULL DEFAULT '',
		version          BIGINT       NOT NULL DEFAULT 1,
		updated_at       DATETIME(6)  NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		PRIMARY KEY (product_id, unit_id),
		KEY idx_pool_units_status (product_id, status)
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		seller_id     VARCHAR(64)  NOT NULL,
		sale_id       VARCHAR(64)  NOT NULL,
		manager_id    VARCHAR(64)  NOT NULL DEFAULT '',
		product_id    VARCHAR(64)  NOT NULL,
		site_code     CHAR(1)      NOT NULL,
		price_at_sale BIGINT       NULL,
		shipping_code VARCHAR(128) NOT NULL,
		evidence_ref  VARCHAR(255) NOT NULL DEFAULT '',
		unit_id       VARCHAR(64)  NOT NULL DEFAULT '',
		artifact_ref  VARCHAR(255) NOT NULL DEFAULT '',
		status        VARCHAR(16)  NOT NULL,
		created_at    DATETIME(6)  NOT NULL,
		updated_at    DATETIME(6)  NOT NULL,
		PRIMARY KEY (seller_id, sale_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		owner_id     VARCHAR(64)  NOT NULL,
		order_id     VARCHAR(64)  NOT NULL,
		status       VARCHAR(16)  NOT NULL DEFAULT '',
		artifact_ref VARCHAR(255) NOT NULL DEFAULT '',
		updated_at   DATETIME(6)  NULL,
		PRIMARY KEY (owner_id, order_id)
	)`,
}

// MySQLAdapter is the row store. Each row is a unit of atomicity; no method
// spans more than one row except seeding.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InsertUnits seeds available units. Units that already exist are left as they are.
func (m *MySQLAdapter) InsertUnits(ctx context.Context, units []domain.PoolUnit) (int64, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT IGNORE INTO pool_units (product_id, unit_id, status, assigned_sale_id, artifact_ref, version, updated_at)
		VALUES (?, ?, 'available', '', ?, 1, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert unit: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var inserted int64
	for _, u := range units {
		result, err := stmt.ExecContext(ctx, u.ProductID, u.UnitID, u.ArtifactRef, now)
		if err != nil {
			return 0, fmt.Errorf("insert unit %s: %w", u.UnitID, err)
		}
		n, _ := result.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit units: %w", err)
	}
	return inserted, nil
}

func (m *MySQLAdapter) GetUnit(ctx context.Context, productID, unitID string) (*domain.PoolUnit, error) {
	var u domain.PoolUnit
	err := m.db.QueryRowContext(ctx, `
		SELECT product_id, unit_id, status, assigned_sale_id, artifact_ref, version, updated_at
		FROM pool_units WHERE product_id = ? AND unit_id = ?`, productID, unitID,
	).Scan(&u.ProductID, &u.UnitID, &u.Status, &u.AssignedSaleID, &u.ArtifactRef, &u.Version, &u.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query unit: %w", err)
	}
	return &u, nil
}

func (m *MySQLAdapter) ScanAvailable(ctx context.Context, productID string, limit int) ([]domain.PoolUnit, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT product_id, unit_id, status, assigned_sale_id, artifact_ref, version, updated_at
		FROM pool_units WHERE product_id = ? AND status = 'available'
		LIMIT ?`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("scan available units: %w", err)
	}
	defer rows.Close()

	var units []domain.PoolUnit
	for rows.Next() {
		var u domain.PoolUnit
		if err := rows.Scan(&u.ProductID, &u.UnitID, &u.Status, &u.AssignedSaleID, &u.ArtifactRef, &u.Version, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan unit row: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// UpdateUnit writes the unit's status and binding if the stored version still
// equals unit.Version. The returned unit carries the new version.
func (m *MySQLAdapter) UpdateUnit(ctx context.Context, unit domain.PoolUnit) (domain.PoolUnit, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE pool_units
		SET status = ?, assigned_sale_id = ?, version = version + 1, updated_at = ?
		WHERE product_id = ? AND unit_id = ? AND version = ?`,
		unit.Status, unit.AssignedSaleID, unit.UpdatedAt,
		unit.ProductID, unit.UnitID, unit.Version,
	)
	if err != nil {
		return domain.PoolUnit{}, fmt.Errorf("update unit: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.PoolUnit{}, port.ErrVersionConflict
	}

	unit.Version++
	return unit, nil
}

// MergeUnitSale leaves status and version alone, so it never invalidates a
// concurrent conditional write.
func (m *MySQLAdapter) MergeUnitSale(ctx context.Context, productID, unitID, saleID string, at time.Time) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE pool_units SET assigned_sale_id = ?, updated_at = ?
		WHERE product_id = ? AND unit_id = ?`,
		saleID, at, productID, unitID,
	)
	if err != nil {
		return fmt.Errorf("merge unit sale: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) CountUnits(ctx context.Context, productID string) (domain.StockLevel, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM pool_units
		WHERE product_id = ? GROUP BY status`, productID)
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("count units: %w", err)
	}
	defer rows.Close()

	level := domain.StockLevel{ProductID: productID}
	for rows.Next() {
		var (
			status domain.UnitStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return domain.StockLevel{}, fmt.Errorf("scan count row: %w", err)
		}
		switch status {
		case domain.UnitStatusAvailable:
			level.Available = n
		case domain.UnitStatusAssigned:
			level.Assigned = n
		case domain.UnitStatusConsumed:
			level.Consumed = n
		}
	}
	return level, rows.Err()
}

func (m *MySQLAdapter) CreateSale(ctx context.Context, sale domain.Sale) error {
	var price sql.NullInt64
	if sale.PriceAtSale != nil {
		price = sql.NullInt64{Int64: *sale.PriceAtSale, Valid: true}
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO sales (seller_id, sale_id, manager_id, product_id, site_code, price_at_sale,
			shipping_code, evidence_ref, unit_id, artifact_ref, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.SellerID, sale.SaleID, sale.ManagerID, sale.ProductID, sale.SiteCode, price,
		sale.ShippingCode, sale.EvidenceRef, sale.UnitID, sale.ArtifactRef, sale.Status,
		sale.CreatedAt, sale.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetSale(ctx context.Context, sellerID, saleID string) (*domain.Sale, error) {
	var (
		s     domain.Sale
		price sql.NullInt64
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT seller_id, sale_id, manager_id, product_id, site_code, price_at_sale,
			shipping_code, evidence_ref, unit_id, artifact_ref, status, created_at, updated_at
		FROM sales WHERE seller_id = ? AND sale_id = ?`, sellerID, saleID,
	).Scan(&s.SellerID, &s.SaleID, &s.ManagerID, &s.ProductID, &s.SiteCode, &price,
		&s.ShippingCode, &s.EvidenceRef, &s.UnitID, &s.ArtifactRef, &s.Status,
		&s.CreatedAt, &s.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sale: %w", err)
	}
	if price.Valid {
		s.PriceAtSale = &price.Int64
	}
	return &s, nil
}

func (m *MySQLAdapter) MergeSaleStatus(ctx context.Context, sellerID, saleID string, status domain.SaleStatus, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE sales
		SET status = IF(%s >= %s, ?, status), updated_at = ?
		WHERE seller_id = ? AND sale_id = ?`,
		fmt.Sprintf(statusRank, "?"), fmt.Sprintf(statusRank, "status"))

	_, err := m.db.ExecContext(ctx, query, status, status, at, sellerID, saleID)
	if err != nil {
		return fmt.Errorf("merge sale status: %w", err)
	}
	return nil
}

// UpsertOrder merges the projection: an empty artifact ref or a lower-ranked
// status never overwrites what is stored.
func (m *MySQLAdapter) UpsertOrder(ctx context.Context, order domain.OrderProjection) error {
	query := fmt.Sprintf(`
		INSERT INTO orders (owner_id, order_id, status, artifact_ref, updated_at)
		VALUES (?, ?, ?, ?, ?) AS incoming
		ON DUPLICATE KEY UPDATE
			status = IF(%s >= %s, incoming.status, orders.status),
			artifact_ref = IF(incoming.artifact_ref = '', orders.artifact_ref, incoming.artifact_ref),
			updated_at = COALESCE(incoming.updated_at, orders.updated_at)`,
		fmt.Sprintf(statusRank, "incoming.status"), fmt.Sprintf(statusRank, "orders.status"))

	var updatedAt sql.NullTime
	if !order.UpdatedAt.IsZero() {
		updatedAt = sql.NullTime{Time: order.UpdatedAt, Valid: true}
	}
	_, err := m.db.ExecContext(ctx, query,
		order.OwnerID, order.OrderID, order.Status, order.ArtifactRef, updatedAt)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, ownerID, orderID string) (*domain.OrderProjection, error) {
	var (
		o         domain.OrderProjection
		updatedAt sql.NullTime
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT owner_id, order_id, status, artifact_ref, updated_at
		FROM orders WHERE owner_id = ? AND order_id = ?`, ownerID, orderID,
	).Scan(&o.OwnerID, &o.OrderID, &o.Status, &o.ArtifactRef, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	o.UpdatedAt = updatedAt.Time
	return &o, nil
}
