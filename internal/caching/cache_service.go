package caching

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stockledger/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "stockledger"

type CacheService interface {
	// Stock record caching
	GetStockRecord(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error)
	SetStockRecord(ctx context.Context, record *models.StockRecord, ttl time.Duration) error
	DeleteStockRecord(ctx context.Context, productID uuid.UUID) error

	// Active low-stock alert list
	GetLowStockAlerts(ctx context.Context) ([]*models.StockAlert, bool, error)
	SetLowStockAlerts(ctx context.Context, alerts []*models.StockAlert, ttl time.Duration) error
	InvalidateLowStockAlerts(ctx context.Context) error

	// Catalog and supplier reference data
	GetProduct(ctx context.Context, productID uuid.UUID) (*models.ProductInfo, error)
	SetProduct(ctx context.Context, product *models.ProductInfo, ttl time.Duration) error
	GetSupplier(ctx context.Context, supplierID uuid.UUID) (*models.Supplier, error)
	SetSupplier(ctx context.Context, supplier *models.Supplier, ttl time.Duration) error

	// Windowed counters for dispatch caps
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)
	DecrementCounter(ctx context.Context, key string) error

	// Locks
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, value string) error

	InvalidateAllCache(ctx context.Context) error
	Ping(ctx context.Context) error
}

type redisCacheService struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisClient accepts host:port or a redis:// / rediss:// address.
func NewRedisClient(addr, password string, db int) *redis.Client {
	parsedAddr := addr
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsedAddr = strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://")
	}
	return redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})
}

func NewRedisCacheService(client *redis.Client, logger *zap.Logger) CacheService {
	logger = logger.Named("cache")
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("redis ping failed on initialization", zap.String("addr", client.Options().Addr), zap.Error(err))
	} else {
		logger.Debug("redis connection established", zap.String("addr", client.Options().Addr))
	}
	return &redisCacheService{client: client, logger: logger}
}

func stockKey(productID uuid.UUID) string {
	return fmt.Sprintf("%s:stock:%s", keyPrefix, productID.String())
}

func lowStockKey() string {
	return keyPrefix + ":alerts:low_stock"
}

func productKey(productID uuid.UUID) string {
	return fmt.Sprintf("%s:product:%s", keyPrefix, productID.String())
}

func supplierKey(supplierID uuid.UUID) string {
	return fmt.Sprintf("%s:supplier:%s", keyPrefix, supplierID.String())
}

func (r *redisCacheService) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil // cache miss
		}
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (r *redisCacheService) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *redisCacheService) GetStockRecord(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error) {
	var record models.StockRecord
	found, err := r.getJSON(ctx, stockKey(productID), &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

func (r *redisCacheService) SetStockRecord(ctx context.Context, record *models.StockRecord, ttl time.Duration) error {
	return r.setJSON(ctx, stockKey(record.ProductID), record, ttl)
}

func (r *redisCacheService) DeleteStockRecord(ctx context.Context, productID uuid.UUID) error {
	return r.client.Del(ctx, stockKey(productID)).Err()
}

func (r *redisCacheService) GetLowStockAlerts(ctx context.Context) ([]*models.StockAlert, bool, error) {
	var alerts []*models.StockAlert
	found, err := r.getJSON(ctx, lowStockKey(), &alerts)
	return alerts, found, err
}

func (r *redisCacheService) SetLowStockAlerts(ctx context.Context, alerts []*models.StockAlert, ttl time.Duration) error {
	if alerts == nil {
		alerts = []*models.StockAlert{}
	}
	return r.setJSON(ctx, lowStockKey(), alerts, ttl)
}

func (r *redisCacheService) InvalidateLowStockAlerts(ctx context.Context) error {
	return r.client.Del(ctx, lowStockKey()).Err()
}

func (r *redisCacheService) GetProduct(ctx context.Context, productID uuid.UUID) (*models.ProductInfo, error) {
	var product models.ProductInfo
	found, err := r.getJSON(ctx, productKey(productID), &product)
	if err != nil || !found {
		return nil, err
	}
	return &product, nil
}

func (r *redisCacheService) SetProduct(ctx context.Context, product *models.ProductInfo, ttl time.Duration) error {
	return r.setJSON(ctx, productKey(product.ID), product, ttl)
}

func (r *redisCacheService) GetSupplier(ctx context.Context, supplierID uuid.UUID) (*models.Supplier, error) {
	var supplier models.Supplier
	found, err := r.getJSON(ctx, supplierKey(supplierID), &supplier)
	if err != nil || !found {
		return nil, err
	}
	return &supplier, nil
}

func (r *redisCacheService) SetSupplier(ctx context.Context, supplier *models.Supplier, ttl time.Duration) error {
	return r.setJSON(ctx, supplierKey(supplier.ID), supplier, ttl)
}

func (r *redisCacheService) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	cacheKey := keyPrefix + ":counter:" + key
	count, err := r.client.Incr(ctx, cacheKey).Result()
	if err != nil {
		return 0, err
	}
	// Set expiry on first increment
	if count == 1 {
		r.client.Expire(ctx, cacheKey, window)
	}
	return count, nil
}

// DecrementCounter gives back one unit taken by IncrementCounter.
func (r *redisCacheService) DecrementCounter(ctx context.Context, key string) error {
	return r.client.Decr(ctx, keyPrefix+":counter:"+key).Err()
}

func (r *redisCacheService) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, keyPrefix+":lock:"+key, value, ttl).Result()
}

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReleaseLock deletes the lock only if it still holds value.
func (r *redisCacheService) ReleaseLock(ctx context.Context, key, value string) error {
	return releaseLockScript.Run(ctx, r.client, []string{keyPrefix + ":lock:" + key}, value).Err()
}

func (r *redisCacheService) InvalidateAllCache(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, keyPrefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return r.client.Del(ctx, keys...).Err()
	}
	return nil
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
