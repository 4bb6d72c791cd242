package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"order-fulfillment-service/internal/apperr"
	"order-fulfillment-service/internal/model"
)

// MemoryStore is the in-memory backend used by tests and STOCK_BACKEND=memory runs.
// Every operation holds the store mutex, so conditional updates are atomic.
type MemoryStore struct {
	mu           sync.RWMutex
	products     map[string]model.Product
	orders       map[string]*model.Order
	orderNumbers map[string]string
	reservations map[string]*model.Reservation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]model.Product),
		orders:       make(map[string]*model.Order),
		orderNumbers: make(map[string]string),
		reservations: make(map[string]*model.Reservation),
	}
}

// SeedProduct inserts or overwrites a catalog record.
func (m *MemoryStore) SeedProduct(p model.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// ProductLister yields a full catalog snapshot.
type ProductLister interface {
	ListProducts(ctx context.Context) ([]model.Product, error)
}

// SeedFrom copies every product, stock counter included, from src and returns how many were loaded.
func (m *MemoryStore) SeedFrom(ctx context.Context, src ProductLister) (int, error) {
	products, err := src.ListProducts(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range products {
		m.SeedProduct(p)
	}
	return len(products), nil
}

func (m *MemoryStore) GetProduct(_ context.Context, ref string) (*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[ref]
	if !ok {
		return nil, apperr.NotFound("product", ref)
	}
	cp := p
	return &cp, nil
}

func (m *MemoryStore) GetStock(_ context.Context, ref string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[ref]
	if !ok {
		return 0, apperr.NotFound("product", ref)
	}
	return p.Stock, nil
}

func (m *MemoryStore) DecrementStock(_ context.Context, ref string, qty int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[ref]
	if !ok || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	m.products[ref] = p
	return true, nil
}

func (m *MemoryStore) IncrementStock(_ context.Context, ref string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[ref]
	if !ok {
		return apperr.NotFound("product", ref)
	}
	p.Stock += qty
	m.products[ref] = p
	return nil
}

// OrderRepository implementation on wrapper type
type MemoryOrders struct{ store *MemoryStore }

func NewMemoryOrders(store *MemoryStore) *MemoryOrders { return &MemoryOrders{store: store} }

func (mo *MemoryOrders) Insert(_ context.Context, o *model.Order) error {
	s := mo.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.orderNumbers[o.OrderNumber]; taken {
		return ErrDuplicateOrderNumber
	}
	s.orders[o.ID] = o.Clone()
	s.orderNumbers[o.OrderNumber] = o.ID
	return nil
}

func (mo *MemoryOrders) FindByID(_ context.Context, id string) (*model.Order, error) {
	s := mo.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	return o.Clone(), nil
}

func (mo *MemoryOrders) FindByTxRef(_ context.Context, txRef string) (*model.Order, error) {
	s := mo.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.HoldsTxRef(txRef) {
			return o.Clone(), nil
		}
	}
	return nil, apperr.NotFound("payment reference", txRef)
}

func (mo *MemoryOrders) Replace(_ context.Context, o *model.Order, expectedVersion int64) error {
	s := mo.store
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return apperr.NotFound("order", o.ID)
	}
	if cur.Version != expectedVersion {
		return &apperr.ConcurrentModificationError{OrderID: o.ID, ExpectedVersion: expectedVersion}
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (mo *MemoryOrders) FindByUserID(_ context.Context, userID string) ([]*model.Order, error) {
	s := mo.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.Order{}
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (mo *MemoryOrders) Find(_ context.Context, f OrderFilter) ([]*model.Order, int64, error) {
	f = f.Normalized()
	s := mo.store
	s.mu.RLock()
	matched := []*model.Order{}
	for _, o := range s.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(o.OrderNumber), strings.ToLower(f.Search)) {
			continue
		}
		matched = append(matched, o.Clone())
	}
	s.mu.RUnlock()

	sortNewestFirst(matched)
	total := int64(len(matched))
	start := (f.Page - 1) * f.Limit
	if start >= len(matched) {
		return []*model.Order{}, total, nil
	}
	end := start + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func sortNewestFirst(orders []*model.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}

// ReservationRepository implementation on wrapper type
type MemoryReservations struct{ store *MemoryStore }

func NewMemoryReservations(store *MemoryStore) *MemoryReservations {
	return &MemoryReservations{store: store}
}

func (mr *MemoryReservations) Create(_ context.Context, r *model.Reservation) error {
	s := mr.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.ID] = r.Clone()
	return nil
}

func (mr *MemoryReservations) FindByID(_ context.Context, id string) (*model.Reservation, error) {
	s := mr.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, apperr.NotFound("reservation", id)
	}
	return r.Clone(), nil
}

func (mr *MemoryReservations) MarkReleased(_ context.Context, id string, at time.Time) (bool, error) {
	s := mr.store
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return false, apperr.NotFound("reservation", id)
	}
	if r.Released {
		return false, nil
	}
	at = at.UTC()
	r.Released = true
	r.ReleasedAt = &at
	return true, nil
}
