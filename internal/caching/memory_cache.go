package caching

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"stockledger/internal/common"
	"stockledger/internal/models"

	"github.com/google/uuid"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// memoryCacheService is the in-process CacheService used with the memory
// store driver and in tests. Values round-trip through JSON so callers never
// share pointers with the cache.
type memoryCacheService struct {
	mu      sync.Mutex
	clock   common.Clock
	entries map[string]memoryEntry
}

func NewMemoryCacheService(clock common.Clock) CacheService {
	if clock == nil {
		clock = common.SystemClock()
	}
	return &memoryCacheService{clock: clock, entries: map[string]memoryEntry{}}
}

func (m *memoryCacheService) get(key string, dest interface{}) (bool, error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok && !entry.expiresAt.IsZero() && !m.clock.Now().Before(entry.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(entry.data, dest)
}

func (m *memoryCacheService) set(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = m.clock.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *memoryCacheService) del(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *memoryCacheService) GetStockRecord(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error) {
	var record models.StockRecord
	found, err := m.get(stockKey(productID), &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

func (m *memoryCacheService) SetStockRecord(ctx context.Context, record *models.StockRecord, ttl time.Duration) error {
	return m.set(stockKey(record.ProductID), record, ttl)
}

func (m *memoryCacheService) DeleteStockRecord(ctx context.Context, productID uuid.UUID) error {
	m.del(stockKey(productID))
	return nil
}

func (m *memoryCacheService) GetLowStockAlerts(ctx context.Context) ([]*models.StockAlert, bool, error) {
	var alerts []*models.StockAlert
	found, err := m.get(lowStockKey(), &alerts)
	return alerts, found, err
}

func (m *memoryCacheService) SetLowStockAlerts(ctx context.Context, alerts []*models.StockAlert, ttl time.Duration) error {
	if alerts == nil {
		alerts = []*models.StockAlert{}
	}
	return m.set(lowStockKey(), alerts, ttl)
}

func (m *memoryCacheService) InvalidateLowStockAlerts(ctx context.Context) error {
	m.del(lowStockKey())
	return nil
}

func (m *memoryCacheService) GetProduct(ctx context.Context, productID uuid.UUID) (*models.ProductInfo, error) {
	var product models.ProductInfo
	found, err := m.get(productKey(productID), &product)
	if err != nil || !found {
		return nil, err
	}
	return &product, nil
}

func (m *memoryCacheService) SetProduct(ctx context.Context, product *models.ProductInfo, ttl time.Duration) error {
	return m.set(productKey(product.ID), product, ttl)
}

func (m *memoryCacheService) GetSupplier(ctx context.Context, supplierID uuid.UUID) (*models.Supplier, error) {
	var supplier models.Supplier
	found, err := m.get(supplierKey(supplierID), &supplier)
	if err != nil || !found {
		return nil, err
	}
	return &supplier, nil
}

func (m *memoryCacheService) SetSupplier(ctx context.Context, supplier *models.Supplier, ttl time.Duration) error {
	return m.set(supplierKey(supplier.ID), supplier, ttl)
}

func (m *memoryCacheService) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	cacheKey := keyPrefix + ":counter:" + key
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var count int64
	entry, ok := m.entries[cacheKey]
	if ok && (entry.expiresAt.IsZero() || now.Before(entry.expiresAt)) {
		if err := json.Unmarshal(entry.data, &count); err != nil {
			return 0, err
		}
	} else {
		entry = memoryEntry{}
		if window > 0 {
			entry.expiresAt = now.Add(window)
		}
	}
	count++
	data, _ := json.Marshal(count)
	entry.data = data
	m.entries[cacheKey] = entry
	return count, nil
}

func (m *memoryCacheService) DecrementCounter(ctx context.Context, key string) error {
	cacheKey := keyPrefix + ":counter:" + key
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[cacheKey]
	if !ok || (!entry.expiresAt.IsZero() && !m.clock.Now().Before(entry.expiresAt)) {
		return nil
	}
	var count int64
	if err := json.Unmarshal(entry.data, &count); err != nil {
		return err
	}
	if count > 0 {
		count--
	}
	data, _ := json.Marshal(count)
	entry.data = data
	m.entries[cacheKey] = entry
	return nil
}

func (m *memoryCacheService) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	lockKey := keyPrefix + ":lock:" + key
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if entry, ok := m.entries[lockKey]; ok && (entry.expiresAt.IsZero() || now.Before(entry.expiresAt)) {
		return false, nil
	}
	entry := memoryEntry{data: []byte(value)}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	m.entries[lockKey] = entry
	return true, nil
}

func (m *memoryCacheService) ReleaseLock(ctx context.Context, key, value string) error {
	lockKey := keyPrefix + ":lock:" + key
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[lockKey]; ok && string(entry.data) == value {
		delete(m.entries, lockKey)
	}
	return nil
}

func (m *memoryCacheService) InvalidateAllCache(ctx context.Context) error {
	m.mu.Lock()
	m.entries = map[string]memoryEntry{}
	m.mu.Unlock()
	return nil
}

func (m *memoryCacheService) Ping(ctx context.Context) error {
	return nil
}
