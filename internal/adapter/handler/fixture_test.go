package handler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/qr-fulfillment/internal/core/domain"
	"github.com/rl1809/qr-fulfillment/internal/core/service"
	"github.com/rl1809/qr-fulfillment/internal/port"
)

// memStore backs every storage port with maps.
type memStore struct {
	mu        sync.Mutex
	units     map[string]domain.PoolUnit
	sales     map[string]domain.Sale
	orders    map[string]domain.OrderProjection
	artifacts map[string]domain.Artifact
	keys      map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		units:     make(map[string]domain.PoolUnit),
		sales:     make(map[string]domain.Sale),
		orders:    make(map[string]domain.OrderProjection),
		artifacts: make(map[string]domain.Artifact),
		keys:      make(map[string]bool),
	}
}

func (m *memStore) addUnit(productID, unitID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := "codes/" + unitID + ".png"
	m.units[productID+"/"+unitID] = domain.PoolUnit{
		ProductID: productID, UnitID: unitID, Status: domain.UnitStatusAvailable, ArtifactRef: ref, Version: 1,
	}
	m.artifacts[ref] = domain.Artifact{Ref: ref, Data: data}
}

func (m *memStore) GetUnit(ctx context.Context, productID, unitID string) (*domain.PoolUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[productID+"/"+unitID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *memStore) ScanAvailable(ctx context.Context, productID string, limit int) ([]domain.PoolUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PoolUnit
	for _, u := range m.units {
		if u.ProductID == productID && u.Status == domain.UnitStatusAvailable && len(out) < limit {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) UpdateUnit(ctx context.Context, unit domain.PoolUnit) (domain.PoolUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := unit.ProductID + "/" + unit.UnitID
	if cur, ok := m.units[key]; !ok || cur.Version != unit.Version {
		return domain.PoolUnit{}, port.ErrVersionConflict
	}
	unit.Version++
	m.units[key] = unit
	return unit, nil
}

func (m *memStore) MergeUnitSale(ctx context.Context, productID, unitID, saleID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.units[productID+"/"+unitID]
	u.AssignedSaleID = saleID
	m.units[productID+"/"+unitID] = u
	return nil
}

func (m *memStore) CountUnits(ctx context.Context, productID string) (domain.StockLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var level domain.StockLevel
	for _, u := range m.units {
		if u.ProductID != productID {
			continue
		}
		switch u.Status {
		case domain.UnitStatusAvailable:
			level.Available++
		case domain.UnitStatusAssigned:
			level.Assigned++
		case domain.UnitStatusConsumed:
			level.Consumed++
		}
	}
	return level, nil
}

func (m *memStore) CreateSale(ctx context.Context, sale domain.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales[sale.SellerID+"/"+sale.SaleID] = sale
	return nil
}

func (m *memStore) GetSale(ctx context.Context, sellerID, saleID string) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[sellerID+"/"+saleID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) MergeSaleStatus(ctx context.Context, sellerID, saleID string, status domain.SaleStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sales[sellerID+"/"+saleID]
	if status.Rank() >= s.Status.Rank() {
		s.Status = status
	}
	m.sales[sellerID+"/"+saleID] = s
	return nil
}

func (m *memStore) UpsertOrder(ctx context.Context, order domain.OrderProjection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := order.OwnerID + "/" + order.OrderID
	m.orders[key] = m.orders[key].Merge(order)
	return nil
}

func (m *memStore) GetOrder(ctx context.Context, ownerID, orderID string) (*domain.OrderProjection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ownerID+"/"+orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *memStore) PutArtifact(ctx context.Context, ref string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[ref] = domain.Artifact{Ref: ref, Data: data, ContentType: contentType}
	return nil
}

func (m *memStore) GetArtifact(ctx context.Context, ref string) (domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[ref]
	if !ok {
		return domain.Artifact{}, port.ErrArtifactNotFound
	}
	return a, nil
}

func (m *memStore) SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memStore) ClearIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Enqueue(string, domain.Notification) bool { return true }

type fixture struct {
	store       *memStore
	pool        *service.PoolManager
	fulfillment *service.FulfillmentService
	media       *service.MediaGateway
	commands    *service.CommandService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	store := newMemStore()
	pool := service.NewPoolManager(store, service.PoolOptions{}, logger, nil)
	media := service.NewMediaGateway(store, store, "https://qr.example.com", logger, nil)
	fulfillment := service.NewFulfillmentService(service.FulfillmentDeps{
		Pool:      pool,
		Sales:     store,
		Orders:    store,
		Artifacts: store,
		Cache:     store,
		Media:     media,
		Notifier:  nopNotifier{},
		Logger:    logger,
	}, service.FulfillmentOptions{})

	return &fixture{
		store:       store,
		pool:        pool,
		fulfillment: fulfillment,
		media:       media,
		commands:    service.NewCommandService(store, media, logger),
	}
}
