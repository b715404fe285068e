package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/qr-fulfillment/internal/core/domain"
	"github.com/rl1809/qr-fulfillment/internal/port"
)

var errStoreDown = errors.New("store unavailable")

// Mock PoolRepository with versioned rows
type mockPoolRepo struct {
	mu    sync.Mutex
	units map[string]domain.PoolUnit

	alwaysConflict bool
	scanErr        error
	mergeErr       error
	updates        int
}

func newMockPoolRepo(productID string, unitIDs ...string) *mockPoolRepo {
	m := &mockPoolRepo{units: make(map[string]domain.PoolUnit)}
	for _, id := range unitIDs {
		m.units[productID+"/"+id] = domain.PoolUnit{
			ProductID:   productID,
			UnitID:      id,
			Status:      domain.UnitStatusAvailable,
			ArtifactRef: "codes/" + id + ".png",
			Version:     1,
		}
	}
	return m
}

func (m *mockPoolRepo) GetUnit(ctx context.Context, productID, unitID string) (*domain.PoolUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[productID+"/"+unitID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *mockPoolRepo) ScanAvailable(ctx context.Context, productID string, limit int) ([]domain.PoolUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	var out []domain.PoolUnit
	for _, u := range m.units {
		if u.ProductID == productID && u.Status == domain.UnitStatusAvailable {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockPoolRepo) UpdateUnit(ctx context.Context, unit domain.PoolUnit) (domain.PoolUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	key := unit.ProductID + "/" + unit.UnitID
	cur, ok := m.units[key]
	if m.alwaysConflict || !ok || cur.Version != unit.Version {
		return domain.PoolUnit{}, port.ErrVersionConflict
	}
	unit.Version++
	m.units[key] = unit
	return unit, nil
}

func (m *mockPoolRepo) MergeUnitSale(ctx context.Context, productID, unitID, saleID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mergeErr != nil {
		return m.mergeErr
	}
	key := productID + "/" + unitID
	u, ok := m.units[key]
	if !ok {
		return nil
	}
	u.AssignedSaleID = saleID
	u.UpdatedAt = at
	m.units[key] = u
	return nil
}

func (m *mockPoolRepo) CountUnits(ctx context.Context, productID string) (domain.StockLevel, error) {
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

func (m *mockPoolRepo) unit(productID, unitID string) domain.PoolUnit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.units[productID+"/"+unitID]
}

// Mock SaleRepository
type mockSaleRepo struct {
	mu        sync.Mutex
	sales     map[string]domain.Sale
	createErr error
	// lostAck stores the row and still reports this error, once
	lostAck error
	getErr  error
}

func newMockSaleRepo() *mockSaleRepo {
	return &mockSaleRepo{sales: make(map[string]domain.Sale)}
}

func (m *mockSaleRepo) CreateSale(ctx context.Context, sale domain.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.sales[sale.SellerID+"/"+sale.SaleID] = sale
	if err := m.lostAck; err != nil {
		m.lostAck = nil
		return err
	}
	return nil
}

func (m *mockSaleRepo) GetSale(ctx context.Context, sellerID, saleID string) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.sales[sellerID+"/"+saleID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *mockSaleRepo) MergeSaleStatus(ctx context.Context, sellerID, saleID string, status domain.SaleStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sellerID + "/" + saleID
	s, ok := m.sales[key]
	if !ok {
		return nil
	}
	if status.Rank() >= s.Status.Rank() {
		s.Status = status
	}
	s.UpdatedAt = at
	m.sales[key] = s
	return nil
}

func (m *mockSaleRepo) holding(unitID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sales {
		if s.UnitID == unitID {
			n++
		}
	}
	return n
}

func (m *mockSaleRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sales)
}

// Mock OrderRepository
type mockOrderRepo struct {
	mu         sync.Mutex
	orders     map[string]domain.OrderProjection
	upsertErr  error
	failUpsert int
	getErr     error
	upserts    int
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[string]domain.OrderProjection)}
}

func (m *mockOrderRepo) UpsertOrder(ctx context.Context, order domain.OrderProjection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if m.failUpsert > 0 {
		m.failUpsert--
		return errStoreDown
	}
	key := order.OwnerID + "/" + order.OrderID
	m.orders[key] = m.orders[key].Merge(order)
	return nil
}

func (m *mockOrderRepo) GetOrder(ctx context.Context, ownerID, orderID string) (*domain.OrderProjection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.orders[ownerID+"/"+orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *mockOrderRepo) put(o domain.OrderProjection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OwnerID+"/"+o.OrderID] = o
}

// Mock ArtifactStore
type mockArtifactStore struct {
	mu        sync.Mutex
	artifacts map[string]domain.Artifact
	putErr    error
	getErr    error
}

func newMockArtifactStore() *mockArtifactStore {
	return &mockArtifactStore{artifacts: make(map[string]domain.Artifact)}
}

func (m *mockArtifactStore) PutArtifact(ctx context.Context, ref string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.artifacts[ref] = domain.Artifact{Ref: ref, Data: data, ContentType: contentType}
	return nil
}

func (m *mockArtifactStore) GetArtifact(ctx context.Context, ref string) (domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.Artifact{}, m.getErr
	}
	a, ok := m.artifacts[ref]
	if !ok {
		return domain.Artifact{}, port.ErrArtifactNotFound
	}
	return a, nil
}

// Mock CacheRepository
type mockCacheRepo struct {
	mu             sync.Mutex
	idempotencySet map[string]bool
	err            error
	clears         int
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{idempotencySet: make(map[string]bool)}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ClearIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	delete(m.idempotencySet, key)
	return nil
}

// Mock Messenger
type pushed struct {
	to, kind, body string
}

type mockMessenger struct {
	mu       sync.Mutex
	sent     []pushed
	textErr  error
	imageErr error
}

func (m *mockMessenger) PushText(ctx context.Context, to, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.textErr != nil {
		return m.textErr
	}
	m.sent = append(m.sent, pushed{to: to, kind: "text", body: text})
	return nil
}

func (m *mockMessenger) PushImage(ctx context.Context, to, imageURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.imageErr != nil {
		return m.imageErr
	}
	m.sent = append(m.sent, pushed{to: to, kind: "image", body: imageURL})
	return nil
}

func (m *mockMessenger) messages() []pushed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pushed(nil), m.sent...)
}

// Notifier that records instead of delivering
type recordingNotifier struct {
	mu     sync.Mutex
	jobs   []domain.Notification
	to     []string
	reject bool
}

func (r *recordingNotifier) Enqueue(recipientID string, n domain.Notification) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject {
		return false
	}
	r.to = append(r.to, recipientID)
	r.jobs = append(r.jobs, n)
	return true
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
