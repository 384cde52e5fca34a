package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesim/exchange-engine/internal/model"
)

type holdingKey struct {
	userID  int64
	assetID int64
}

// MemoryStore implements Store with in-memory maps. Used for testing and
// DB-less development runs. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	txMu      sync.Mutex
	assets    []model.Asset
	users     map[int64]*model.User
	holdings  map[holdingKey]*model.Holding
	orders    map[string]*model.Order
	trades    []model.Trade
	snapshots []model.PriceSnapshot
	nextID    int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]*model.User),
		holdings: make(map[holdingKey]*model.Holding),
		orders:   make(map[string]*model.Order),
	}
}

// InTx serializes fn against all other transactions. The memory store does
// not roll back; settlement preconditions are checked before any mutation,
// so a failed fn has made no writes.
func (s *MemoryStore) InTx(_ context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}

func (s *MemoryStore) CreateAsset(_ context.Context, a *model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		s.nextID++
		a.ID = s.nextID
	}
	s.assets = append(s.assets, *a)
	return nil
}

func (s *MemoryStore) ListAssets(_ context.Context) ([]model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assets := make([]model.Asset, len(s.assets))
	copy(assets, s.assets)
	return assets, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		s.nextID++
		u.ID = s.nextID
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) UpdateUserBalance(_ context.Context, id int64, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Balance = balance
	return nil
}

func (s *MemoryStore) GetHolding(_ context.Context, userID, assetID int64) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holdings[holdingKey{userID, assetID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) SetHoldingAmount(_ context.Context, userID, assetID int64, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := holdingKey{userID, assetID}
	if h, ok := s.holdings[key]; ok {
		h.Amount = amount
		return nil
	}
	s.nextID++
	s.holdings[key] = &model.Holding{
		ID:      s.nextID,
		UserID:  userID,
		AssetID: assetID,
		Amount:  amount,
	}
	return nil
}

func (s *MemoryStore) TotalHeld(_ context.Context, assetID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for key, h := range s.holdings {
		if key.assetID == assetID {
			total = total.Add(h.Amount)
		}
	}
	return total, nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, id, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	return nil
}

func (s *MemoryStore) PendingOrderAmount(_ context.Context, assetID int64, side string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, o := range s.orders {
		if o.AssetID == assetID && o.Type == side && o.Status == model.OrderPending {
			total = total.Add(o.Amount)
		}
	}
	return total, nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) TradeVolumeSince(_ context.Context, assetID int64, side string, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, t := range s.trades {
		if t.AssetID == assetID && t.Type == side && !t.CreatedAt.Before(since) {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

func (s *MemoryStore) InsertSnapshots(_ context.Context, snapshots []model.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snapshots {
		s.nextID++
		snap.ID = s.nextID
		s.snapshots = append(s.snapshots, snap)
	}
	return nil
}

func (s *MemoryStore) LatestSnapshot(_ context.Context, assetID int64) (*model.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.PriceSnapshot
	for i := range s.snapshots {
		snap := &s.snapshots[i]
		if snap.AssetID != assetID {
			continue
		}
		if latest == nil || snap.CreatedAt.After(latest.CreatedAt) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

// TradesByUser returns the ledger rows for one user. Test helper.
func (s *MemoryStore) TradesByUser(userID int64) []model.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// Snapshots returns all snapshot rows. Test helper.
func (s *MemoryStore) Snapshots() []model.PriceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PriceSnapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}
