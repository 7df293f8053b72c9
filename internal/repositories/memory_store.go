package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stockledger/internal/common"
	"stockledger/internal/models"

	"github.com/google/uuid"
)

// MemoryStore keeps every entity in process. Transactions are serialized and
// rolled back from a snapshot on error, which gives the same per-product
// exclusivity the Postgres store gets from row locks.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   memState
}

type memState struct {
	stocks       map[uuid.UUID]*models.StockRecord
	movements    []*models.MovementRecord
	reservations map[uuid.UUID]*models.Reservation
	alerts       map[uuid.UUID]*models.StockAlert
	alertSeq     map[uuid.UUID]int
	configs      map[uuid.UUID]*models.AlertConfiguration
	suggestions  map[uuid.UUID]*models.ReorderSuggestion
	requests     map[uuid.UUID]*models.ReorderRequest
	history      map[uuid.UUID][]models.RequestHistoryEntry
	suppliers    map[uuid.UUID]*models.Supplier
	products     map[uuid.UUID]*models.ProductInfo
	seq          int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: memState{
		stocks:       map[uuid.UUID]*models.StockRecord{},
		reservations: map[uuid.UUID]*models.Reservation{},
		alerts:       map[uuid.UUID]*models.StockAlert{},
		alertSeq:     map[uuid.UUID]int{},
		configs:      map[uuid.UUID]*models.AlertConfiguration{},
		suggestions:  map[uuid.UUID]*models.ReorderSuggestion{},
		requests:     map[uuid.UUID]*models.ReorderRequest{},
		history:      map[uuid.UUID][]models.RequestHistoryEntry{},
		suppliers:    map[uuid.UUID]*models.Supplier{},
		products:     map[uuid.UUID]*models.ProductInfo{},
	}}
}

// snapshot copies the maps. Stored values are replaced, never mutated, so a
// shallow copy is enough to roll back.
func (s memState) snapshot() memState {
	c := s
	c.stocks = copyMap(s.stocks)
	c.movements = append([]*models.MovementRecord(nil), s.movements...)
	c.reservations = copyMap(s.reservations)
	c.alerts = copyMap(s.alerts)
	c.alertSeq = copyMap(s.alertSeq)
	c.configs = copyMap(s.configs)
	c.suggestions = copyMap(s.suggestions)
	c.requests = copyMap(s.requests)
	c.history = copyMap(s.history)
	c.suppliers = copyMap(s.suppliers)
	c.products = copyMap(s.products)
	return c
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type memTxKey struct{}

func inMemTx(ctx context.Context) bool {
	_, ok := ctx.Value(memTxKey{}).(bool)
	return ok
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemTx(ctx) {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	saved := m.st.snapshot()
	m.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.st = saved
		m.mu.Unlock()
		return err
	}
	return nil
}

// write runs fn under the data lock. Outside a transaction it also takes the
// transaction lock so a concurrent rollback cannot discard the write.
func (m *MemoryStore) write(ctx context.Context, fn func(st *memState) error) error {
	if !inMemTx(ctx) {
		m.txMu.Lock()
		defer m.txMu.Unlock()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&m.st)
}

func (m *MemoryStore) read(fn func(st *memState) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&m.st)
}

func (m *MemoryStore) TxManager() TxManager { return m }
func (m *MemoryStore) Stock() StockRepository { return memStock{m} }
func (m *MemoryStore) Reservations() ReservationRepository { return memReservations{m} }
func (m *MemoryStore) Alerts() AlertRepository { return memAlerts{m} }
func (m *MemoryStore) Reorders() ReorderRepository { return memReorders{m} }
func (m *MemoryStore) Suppliers() SupplierRepository { return memSuppliers{m} }
func (m *MemoryStore) Products() ProductRepository { return memProducts{m} }

// PutProduct seeds the catalog view.
func (m *MemoryStore) PutProduct(p *models.ProductInfo) {
	c := *p
	_ = m.write(context.Background(), func(st *memState) error {
		st.products[p.ID] = &c
		return nil
	})
}

// ---- stock ----

type memStock struct{ m *MemoryStore }

func (r memStock) GetByProductID(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error) {
	var out *models.StockRecord
	err := r.m.read(func(st *memState) error {
		rec, ok := st.stocks[productID]
		if !ok {
			return common.NewNotFound("stock record", productID)
		}
		out = rec.Clone()
		return nil
	})
	return out, err
}

func (r memStock) GetOrCreateForUpdate(ctx context.Context, defaults *models.StockRecord) (*models.StockRecord, error) {
	var out *models.StockRecord
	err := r.m.write(ctx, func(st *memState) error {
		rec, ok := st.stocks[defaults.ProductID]
		if !ok {
			rec = defaults.Clone()
			rec.QuantityOnHand = 0
			rec.ReservedQuantity = 0
			rec.Version = 0
			st.stocks[rec.ProductID] = rec
		}
		out = rec.Clone()
		return nil
	})
	return out, err
}

func (r memStock) Update(ctx context.Context, rec *models.StockRecord) error {
	return r.m.write(ctx, func(st *memState) error {
		current, ok := st.stocks[rec.ProductID]
		if !ok {
			return common.NewNotFound("stock record", rec.ProductID)
		}
		if current.Version != rec.Version {
			return fmt.Errorf("stock record %s: %w", rec.ProductID, common.ErrConflict)
		}
		rec.Version++
		st.stocks[rec.ProductID] = rec.Clone()
		return nil
	})
}

func (r memStock) ListTracked(ctx context.Context, limit, offset int) ([]*models.StockRecord, error) {
	return r.list(func(rec *models.StockRecord) bool { return rec.TrackInventory }, limit, offset)
}

func (r memStock) ListLowStock(ctx context.Context) ([]*models.StockRecord, error) {
	records, err := r.list(func(rec *models.StockRecord) bool {
		return rec.TrackInventory && rec.QuantityOnHand <= rec.LowStockThreshold
	}, 0, 0)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].QuantityOnHand < records[j].QuantityOnHand })
	return records, nil
}

func (r memStock) list(keep func(*models.StockRecord) bool, limit, offset int) ([]*models.StockRecord, error) {
	var out []*models.StockRecord
	_ = r.m.read(func(st *memState) error {
		for _, rec := range st.stocks {
			if keep(rec) {
				out = append(out, rec.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID.String() < out[j].ProductID.String() })
	return paginate(out, limit, offset), nil
}

func (r memStock) InsertMovement(ctx context.Context, mv *models.MovementRecord) error {
	c := *mv
	return r.m.write(ctx, func(st *memState) error {
		st.movements = append(st.movements, &c)
		return nil
	})
}

func (r memStock) ListMovements(ctx context.Context, productID uuid.UUID, filter models.MovementFilter) ([]*models.MovementRecord, error) {
	limit, offset, err := common.ValidatePaginationParams(filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	types := map[models.MovementType]bool{}
	for _, t := range filter.Types {
		types[t] = true
	}

	var out []*models.MovementRecord
	_ = r.m.read(func(st *memState) error {
		for i := len(st.movements) - 1; i >= 0; i-- {
			mv := st.movements[i]
			if mv.ProductID != productID {
				continue
			}
			if len(types) > 0 && !types[mv.Type] {
				continue
			}
			if filter.Since != nil && mv.CreatedAt.Before(*filter.Since) {
				continue
			}
			if filter.Until != nil && !mv.CreatedAt.Before(*filter.Until) {
				continue
			}
			c := *mv
			out = append(out, &c)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func (r memStock) SumMovements(ctx context.Context, productID uuid.UUID) (int, int, error) {
	var sum, count int
	_ = r.m.read(func(st *memState) error {
		for _, mv := range st.movements {
			if mv.ProductID == productID {
				sum += mv.QuantityDelta
				count++
			}
		}
		return nil
	})
	return sum, count, nil
}

func (r memStock) SalesSince(ctx context.Context, productID uuid.UUID, since time.Time) (int, error) {
	var sold int
	_ = r.m.read(func(st *memState) error {
		for _, mv := range st.movements {
			if mv.ProductID == productID && mv.Type == models.MovementSale && !mv.CreatedAt.Before(since) {
				sold -= mv.QuantityDelta
			}
		}
		return nil
	})
	return sold, nil
}

// ---- reservations ----

type memReservations struct{ m *MemoryStore }

func cloneReservation(r *models.Reservation) *models.Reservation {
	c := *r
	if r.ReleasedAt != nil {
		t := *r.ReleasedAt
		c.ReleasedAt = &t
	}
	return &c
}

func (r memReservations) Create(ctx context.Context, res *models.Reservation) error {
	return r.m.write(ctx, func(st *memState) error {
		st.reservations[res.ID] = cloneReservation(res)
		return nil
	})
}

func (r memReservations) GetByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	var out *models.Reservation
	err := r.m.read(func(st *memState) error {
		res, ok := st.reservations[id]
		if !ok {
			return common.NewNotFound("reservation", id)
		}
		out = cloneReservation(res)
		return nil
	})
	return out, err
}

func (r memReservations) MarkReleased(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	released := false
	err := r.m.write(ctx, func(st *memState) error {
		res, ok := st.reservations[id]
		if !ok {
			return common.NewNotFound("reservation", id)
		}
		if res.IsReleased {
			return nil
		}
		c := cloneReservation(res)
		c.IsReleased = true
		c.ReleasedAt = &at
		st.reservations[id] = c
		released = true
		return nil
	})
	return released, err
}

func (r memReservations) ListActiveByHolder(ctx context.Context, holder models.HolderRef) ([]*models.Reservation, error) {
	return r.filter(func(res *models.Reservation) bool {
		if res.IsReleased {
			return false
		}
		if holder.OrderID != nil && res.Holder.OrderID != nil && *holder.OrderID == *res.Holder.OrderID {
			return true
		}
		return holder.CartID != nil && res.Holder.CartID != nil && *holder.CartID == *res.Holder.CartID
	}, func(a, b *models.Reservation) bool { return a.CreatedAt.Before(b.CreatedAt) }, 0), nil
}

func (r memReservations) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Reservation, error) {
	return r.filter(func(res *models.Reservation) bool { return res.Expired(now) },
		func(a, b *models.Reservation) bool { return a.ExpiresAt.Before(b.ExpiresAt) }, limit), nil
}

func (r memReservations) filter(keep func(*models.Reservation) bool, less func(a, b *models.Reservation) bool, limit int) []*models.Reservation {
	var out []*models.Reservation
	_ = r.m.read(func(st *memState) error {
		for _, res := range st.reservations {
			if keep(res) {
				out = append(out, cloneReservation(res))
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return paginate(out, limit, 0)
}

// ---- alerts ----

type memAlerts struct{ m *MemoryStore }

func cloneAlert(a *models.StockAlert) *models.StockAlert {
	c := *a
	if a.Metadata != nil {
		c.Metadata = copyMap(a.Metadata)
	}
	return &c
}

func (r memAlerts) Create(ctx context.Context, a *models.StockAlert) error {
	return r.m.write(ctx, func(st *memState) error {
		st.seq++
		st.alerts[a.ID] = cloneAlert(a)
		st.alertSeq[a.ID] = st.seq
		return nil
	})
}

func (r memAlerts) GetByID(ctx context.Context, id uuid.UUID) (*models.StockAlert, error) {
	var out *models.StockAlert
	err := r.m.read(func(st *memState) error {
		a, ok := st.alerts[id]
		if !ok {
			return common.NewNotFound("alert", id)
		}
		out = cloneAlert(a)
		return nil
	})
	return out, err
}

func (r memAlerts) FindRecent(ctx context.Context, productID uuid.UUID, alertType models.AlertType, since time.Time) (*models.StockAlert, error) {
	alerts := r.sorted(func(a *models.StockAlert) bool {
		return a.ProductID == productID && a.Type == alertType && !a.CreatedAt.Before(since)
	})
	if len(alerts) == 0 {
		return nil, nil
	}
	return alerts[0], nil
}

func (r memAlerts) UpdateState(ctx context.Context, a *models.StockAlert) error {
	return r.m.write(ctx, func(st *memState) error {
		if _, ok := st.alerts[a.ID]; !ok {
			return common.NewNotFound("alert", a.ID)
		}
		st.alerts[a.ID] = cloneAlert(a)
		return nil
	})
}

func (r memAlerts) List(ctx context.Context, filter models.AlertFilter) ([]*models.StockAlert, error) {
	limit, offset, err := common.ValidatePaginationParams(filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	types := map[models.AlertType]bool{}
	for _, t := range filter.Types {
		types[t] = true
	}
	alerts := r.sorted(func(a *models.StockAlert) bool {
		switch {
		case filter.ProductID != nil && a.ProductID != *filter.ProductID:
			return false
		case len(types) > 0 && !types[a.Type]:
			return false
		case filter.MinSeverity != nil && !a.Severity.AtLeast(*filter.MinSeverity):
			return false
		case !filter.IncludeDismissed && a.IsDismissed:
			return false
		case filter.UnreadOnly && a.IsRead:
			return false
		}
		return true
	})
	return paginate(alerts, limit, offset), nil
}

// sorted returns matching alerts newest first.
func (r memAlerts) sorted(keep func(*models.StockAlert) bool) []*models.StockAlert {
	var out []*models.StockAlert
	seq := map[uuid.UUID]int{}
	_ = r.m.read(func(st *memState) error {
		for id, a := range st.alerts {
			if keep(a) {
				out = append(out, cloneAlert(a))
				seq[id] = st.alertSeq[id]
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return seq[out[i].ID] > seq[out[j].ID]
	})
	return out
}

func (r memAlerts) SaveConfiguration(ctx context.Context, cfg *models.AlertConfiguration) error {
	c := *cfg
	return r.m.write(ctx, func(st *memState) error {
		st.configs[cfg.ID] = &c
		return nil
	})
}

func (r memAlerts) GetConfiguration(ctx context.Context, id uuid.UUID) (*models.AlertConfiguration, error) {
	var out *models.AlertConfiguration
	err := r.m.read(func(st *memState) error {
		c, ok := st.configs[id]
		if !ok {
			return common.NewNotFound("alert configuration", id)
		}
		cc := *c
		out = &cc
		return nil
	})
	return out, err
}

func (r memAlerts) ListActiveConfigurations(ctx context.Context) ([]*models.AlertConfiguration, error) {
	var out []*models.AlertConfiguration
	_ = r.m.read(func(st *memState) error {
		for _, c := range st.configs {
			if c.IsActive {
				cc := *c
				out = append(out, &cc)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- reorder ----

type memReorders struct{ m *MemoryStore }

func (r memReorders) CreateSuggestion(ctx context.Context, s *models.ReorderSuggestion) error {
	c := *s
	return r.m.write(ctx, func(st *memState) error {
		st.suggestions[s.ID] = &c
		return nil
	})
}

func (r memReorders) UpdateSuggestion(ctx context.Context, s *models.ReorderSuggestion) error {
	c := *s
	return r.m.write(ctx, func(st *memState) error {
		if _, ok := st.suggestions[s.ID]; !ok {
			return common.NewNotFound("reorder suggestion", s.ID)
		}
		st.suggestions[s.ID] = &c
		return nil
	})
}

func (r memReorders) GetSuggestion(ctx context.Context, id uuid.UUID) (*models.ReorderSuggestion, error) {
	var out *models.ReorderSuggestion
	err := r.m.read(func(st *memState) error {
		s, ok := st.suggestions[id]
		if !ok {
			return common.NewNotFound("reorder suggestion", id)
		}
		c := *s
		out = &c
		return nil
	})
	return out, err
}

func (r memReorders) FindActiveSuggestion(ctx context.Context, productID uuid.UUID) (*models.ReorderSuggestion, error) {
	list := r.suggestionsWhere(func(s *models.ReorderSuggestion) bool {
		return s.ProductID == productID && s.Status == models.SuggestionActive
	})
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (r memReorders) ListSuggestions(ctx context.Context, status models.SuggestionStatus, limit, offset int) ([]*models.ReorderSuggestion, error) {
	list := r.suggestionsWhere(func(s *models.ReorderSuggestion) bool { return s.Status == status })
	return paginate(list, limit, offset), nil
}

func (r memReorders) suggestionsWhere(keep func(*models.ReorderSuggestion) bool) []*models.ReorderSuggestion {
	var out []*models.ReorderSuggestion
	_ = r.m.read(func(st *memState) error {
		for _, s := range st.suggestions {
			if keep(s) {
				c := *s
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r memReorders) CreateRequest(ctx context.Context, req *models.ReorderRequest) error {
	c := *req
	c.History = nil
	return r.m.write(ctx, func(st *memState) error {
		st.requests[req.ID] = &c
		return nil
	})
}

func (r memReorders) GetRequest(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.ReorderRequest, error) {
	var out *models.ReorderRequest
	err := r.m.read(func(st *memState) error {
		req, ok := st.requests[id]
		if !ok {
			return common.NewNotFound("reorder request", id)
		}
		c := *req
		c.History = append([]models.RequestHistoryEntry(nil), st.history[id]...)
		out = &c
		return nil
	})
	return out, err
}

func (r memReorders) UpdateRequest(ctx context.Context, req *models.ReorderRequest) error {
	c := *req
	c.History = nil
	return r.m.write(ctx, func(st *memState) error {
		if _, ok := st.requests[req.ID]; !ok {
			return common.NewNotFound("reorder request", req.ID)
		}
		st.requests[req.ID] = &c
		return nil
	})
}

func (r memReorders) AppendHistory(ctx context.Context, h *models.RequestHistoryEntry) error {
	return r.m.write(ctx, func(st *memState) error {
		entries := append([]models.RequestHistoryEntry(nil), st.history[h.RequestID]...)
		st.history[h.RequestID] = append(entries, *h)
		return nil
	})
}

func (r memReorders) ListRequests(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.ReorderRequest, error) {
	var out []*models.ReorderRequest
	_ = r.m.read(func(st *memState) error {
		for _, req := range st.requests {
			if req.Status == status {
				c := *req
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

// ---- reference data ----

type memSuppliers struct{ m *MemoryStore }

func (r memSuppliers) Create(ctx context.Context, s *models.Supplier) error {
	c := *s
	return r.m.write(ctx, func(st *memState) error {
		st.suppliers[s.ID] = &c
		return nil
	})
}

func (r memSuppliers) GetByID(ctx context.Context, id uuid.UUID) (*models.Supplier, error) {
	var out *models.Supplier
	err := r.m.read(func(st *memState) error {
		s, ok := st.suppliers[id]
		if !ok {
			return common.NewNotFound("supplier", id)
		}
		c := *s
		out = &c
		return nil
	})
	return out, err
}

func (r memSuppliers) ListActive(ctx context.Context) ([]*models.Supplier, error) {
	var out []*models.Supplier
	_ = r.m.read(func(st *memState) error {
		for _, s := range st.suppliers {
			if s.IsActive {
				c := *s
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].LeadTimeDays != out[j].LeadTimeDays {
			return out[i].LeadTimeDays < out[j].LeadTimeDays
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

type memProducts struct{ m *MemoryStore }

func (r memProducts) GetByID(ctx context.Context, id uuid.UUID) (*models.ProductInfo, error) {
	var out *models.ProductInfo
	err := r.m.read(func(st *memState) error {
		p, ok := st.products[id]
		if !ok {
			return common.NewNotFound("product", id)
		}
		c := *p
		out = &c
		return nil
	})
	return out, err
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		if offset == 0 {
			return items
		}
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
