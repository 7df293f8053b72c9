package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"stockledger/internal/caching"
	"stockledger/internal/common"
	"stockledger/internal/models"
	"stockledger/internal/repositories"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AlertSettings struct {
	DedupWindow      time.Duration
	DefaultTimezone  string
	FastMovingRate   float64
	OverstockDays    int
	LowStockCacheTTL time.Duration
}

func DefaultAlertSettings() AlertSettings {
	return AlertSettings{
		DedupWindow:      24 * time.Hour,
		DefaultTimezone:  "UTC",
		FastMovingRate:   10,
		OverstockDays:    180,
		LowStockCacheTTL: 10 * time.Minute,
	}
}

const alertLockTTL = 10 * time.Second

var defaultBusinessDays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

var lowStockAlertTypes = []models.AlertType{
	models.AlertTypeLowStock,
	models.AlertTypeCriticalStock,
	models.AlertTypeOutOfStock,
	models.AlertTypeNegativeStock,
}

type AlertService interface {
	StockEvaluator
	ExpiryNotifier

	Evaluate(ctx context.Context, productID uuid.UUID) ([]*models.StockAlert, error)
	EvaluateVelocity(ctx context.Context, velocity models.Velocity) ([]*models.StockAlert, error)
	// Raise persists the candidate unless an alert of the same product and
	// type exists inside the dedup window. It reports whether one was created.
	Raise(ctx context.Context, candidate models.AlertCandidate) (*models.StockAlert, bool, error)

	GetAlert(ctx context.Context, id uuid.UUID) (*models.StockAlert, error)
	Acknowledge(ctx context.Context, id uuid.UUID, actor string) (*models.StockAlert, error)
	Dismiss(ctx context.Context, id uuid.UUID, actor string) (*models.StockAlert, error)
	MarkRead(ctx context.Context, id uuid.UUID, actor string) (*models.StockAlert, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.StockAlert, error)
	ActiveLowStockAlerts(ctx context.Context) ([]*models.StockAlert, error)

	SaveConfiguration(ctx context.Context, cfg *models.AlertConfiguration) (*models.AlertConfiguration, error)
	GetConfiguration(ctx context.Context, id uuid.UUID) (*models.AlertConfiguration, error)

	Subscribe(handler AlertHandler)
	// Wait blocks until background dispatches have finished.
	Wait()
}

type alertService struct {
	alertRepo    repositories.AlertRepository
	stockRepo    repositories.StockRepository
	catalog      CatalogLookup
	dispatcher   Dispatcher
	cacheService caching.CacheService
	clock        common.Clock
	settings     AlertSettings
	logger       *zap.Logger

	mu       sync.RWMutex
	handlers []AlertHandler
	inflight sync.WaitGroup
}

func NewAlertService(alertRepo repositories.AlertRepository, stockRepo repositories.StockRepository, catalog CatalogLookup,
	dispatcher Dispatcher, cacheService caching.CacheService, clock common.Clock, settings AlertSettings, logger *zap.Logger) AlertService {
	if clock == nil {
		clock = common.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.DefaultTimezone == "" {
		settings.DefaultTimezone = "UTC"
	}
	return &alertService{
		alertRepo:    alertRepo,
		stockRepo:    stockRepo,
		catalog:      catalog,
		dispatcher:   dispatcher,
		cacheService: cacheService,
		clock:        clock,
		settings:     settings,
		logger:       logger.Named("alerts"),
	}
}

func (s *alertService) Subscribe(handler AlertHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

func (s *alertService) Evaluate(ctx context.Context, productID uuid.UUID) ([]*models.StockAlert, error) {
	rec, err := s.stockRepo.GetByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	return s.EvaluateStock(ctx, rec)
}

// EvaluateStock raises the stock-level alerts that apply to rec and returns
// the ones newly persisted.
func (s *alertService) EvaluateStock(ctx context.Context, rec *models.StockRecord) ([]*models.StockAlert, error) {
	product := s.lookupProduct(ctx, rec.ProductID)
	return s.raiseAll(ctx, StockCandidates(rec, product), rec)
}

// StockCandidates applies the stock-level precedence to rec. REORDER_NEEDED
// accompanies LOW_STOCK and CRITICAL_STOCK.
func StockCandidates(rec *models.StockRecord, product *models.ProductInfo) []models.AlertCandidate {
	if rec == nil || !rec.TrackInventory {
		return nil
	}

	name := rec.ProductID.String()
	if product != nil {
		name = product.DisplayName()
	}
	q := rec.QuantityOnHand
	threshold := rec.LowStockThreshold
	meta := func() models.JSONB {
		m := models.JSONB{
			"quantity_on_hand":    q,
			"reserved_quantity":   rec.ReservedQuantity,
			"low_stock_threshold": threshold,
			"reorder_point":       rec.ReorderPoint,
		}
		if product != nil {
			m["product_name"] = product.Name
			m["sku"] = product.SKU
		}
		return m
	}
	candidate := func(t models.AlertType, sev models.Severity, msg string) models.AlertCandidate {
		return models.AlertCandidate{ProductID: rec.ProductID, Type: t, Severity: sev, Message: msg, Metadata: meta()}
	}
	reorder := candidate(models.AlertTypeReorderNeeded, models.SeverityHigh,
		fmt.Sprintf("%s has reached its reorder point: %d units on hand", name, q))

	switch {
	case q < 0:
		return []models.AlertCandidate{candidate(models.AlertTypeNegativeStock, models.SeverityCritical,
			fmt.Sprintf("%s has negative stock: %d units", name, q))}
	case q == 0:
		return []models.AlertCandidate{candidate(models.AlertTypeOutOfStock, models.SeverityUrgent,
			fmt.Sprintf("%s is out of stock", name))}
	case q <= threshold/2:
		return []models.AlertCandidate{candidate(models.AlertTypeCriticalStock, models.SeverityCritical,
			fmt.Sprintf("%s is critically low: %d units remaining (threshold %d)", name, q, threshold)), reorder}
	case q <= threshold:
		return []models.AlertCandidate{candidate(models.AlertTypeLowStock, models.SeverityHigh,
			fmt.Sprintf("%s is low on stock: %d units remaining (threshold %d)", name, q, threshold)), reorder}
	}
	return nil
}

func (s *alertService) EvaluateVelocity(ctx context.Context, v models.Velocity) ([]*models.StockAlert, error) {
	product := s.lookupProduct(ctx, v.ProductID)
	name := v.ProductID.String()
	if product != nil {
		name = product.DisplayName()
	}
	meta := func() models.JSONB {
		m := models.JSONB{
			"quantity_on_hand":    v.QuantityOnHand,
			"average_daily_sales": v.AverageDailySales,
			"window_days":         v.WindowDays,
			"total_sold":          v.TotalSold,
		}
		if !v.Unbounded() {
			m["days_of_stock_left"] = v.DaysOfStockLeft
		}
		return m
	}

	var candidates []models.AlertCandidate
	if v.QuantityOnHand > 0 && v.TotalSold == 0 && s.trackedForWindow(v) {
		candidates = append(candidates, models.AlertCandidate{
			ProductID: v.ProductID, Type: models.AlertTypeSlowMoving, Severity: models.SeverityInfo, Metadata: meta(),
			Message: fmt.Sprintf("%s has not sold in the last %d days", name, v.WindowDays),
		})
	}
	if s.settings.FastMovingRate > 0 && v.AverageDailySales >= s.settings.FastMovingRate {
		candidates = append(candidates, models.AlertCandidate{
			ProductID: v.ProductID, Type: models.AlertTypeFastMoving, Severity: models.SeverityInfo, Metadata: meta(),
			Message: fmt.Sprintf("%s is selling %.1f units per day", name, v.AverageDailySales),
		})
	}
	if s.settings.OverstockDays > 0 && !v.Unbounded() && v.DaysOfStockLeft > float64(s.settings.OverstockDays) {
		candidates = append(candidates, models.AlertCandidate{
			ProductID: v.ProductID, Type: models.AlertTypeOverstock, Severity: models.SeverityLow, Metadata: meta(),
			Message: fmt.Sprintf("%s is overstocked: %.0f days of stock on hand", name, v.DaysOfStockLeft),
		})
	}
	return s.raiseAll(ctx, candidates, nil)
}

// trackedForWindow reports whether the record existed for the whole velocity
// window. A product stocked inside the window has not had time to sell.
func (s *alertService) trackedForWindow(v models.Velocity) bool {
	if v.TrackedSince.IsZero() {
		return false
	}
	windowStart := s.clock.Now().Add(-time.Duration(v.WindowDays) * 24 * time.Hour)
	return !v.TrackedSince.After(windowStart)
}

func (s *alertService) ReservationExpired(ctx context.Context, res *models.Reservation) error {
	_, _, err := s.raise(ctx, models.AlertCandidate{
		ProductID: res.ProductID,
		Type:      models.AlertTypeReservationExpired,
		Severity:  models.SeverityInfo,
		Message:   fmt.Sprintf("Reservation of %d units for %s expired", res.Quantity, res.Holder.String()),
		Metadata: models.JSONB{
			"reservation_id": res.ID.String(),
			"holder":         res.Holder.String(),
			"quantity":       res.Quantity,
			"expires_at":     res.ExpiresAt.Format(time.RFC3339),
		},
	}, nil)
	return err
}

func (s *alertService) Raise(ctx context.Context, candidate models.AlertCandidate) (*models.StockAlert, bool, error) {
	if candidate.ProductID == uuid.Nil {
		return nil, false, common.NewValidation("product_id", "is required")
	}
	if candidate.Severity.Rank() < 0 {
		return nil, false, common.NewValidation("severity", "unknown severity %q", candidate.Severity)
	}
	return s.raise(ctx, candidate, nil)
}

func (s *alertService) raiseAll(ctx context.Context, candidates []models.AlertCandidate, rec *models.StockRecord) ([]*models.StockAlert, error) {
	var created []*models.StockAlert
	for _, c := range candidates {
		alert, ok, err := s.raise(ctx, c, rec)
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, alert)
		}
	}
	return created, nil
}

// raise persists the candidate, notifies subscribers and hands the alert to
// dispatch. Dispatch runs in the background and never blocks the caller.
func (s *alertService) raise(ctx context.Context, c models.AlertCandidate, rec *models.StockRecord) (*models.StockAlert, bool, error) {
	alert, created, err := s.persist(ctx, c)
	if err != nil || !created {
		return alert, false, err
	}

	if alert.Type.IsStockLevel() {
		s.invalidateLowStock(ctx)
	}
	s.publish(ctx, alert)
	s.dispatchAsync(ctx, alert, rec)
	return alert, true, nil
}

// persist serializes dedup-check-then-insert per (product, type) with a cache
// lock. The lock is released before the alert is dispatched.
func (s *alertService) persist(ctx context.Context, c models.AlertCandidate) (*models.StockAlert, bool, error) {
	lockKey := fmt.Sprintf("alert:%s:%s", c.ProductID, c.Type)
	token := uuid.NewString()
	acquired, err := s.cacheService.AcquireLock(ctx, lockKey, token, alertLockTTL)
	if err != nil {
		s.logger.Warn("alert lock unavailable, continuing without it", zap.String("key", lockKey), zap.Error(err))
	} else if !acquired {
		s.logger.Debug("alert already being raised", zap.String("key", lockKey))
		return nil, false, nil
	} else {
		defer func() {
			if err := s.cacheService.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
				s.logger.Warn("failed to release alert lock", zap.String("key", lockKey), zap.Error(err))
			}
		}()
	}

	now := s.clock.Now()
	existing, err := s.alertRepo.FindRecent(ctx, c.ProductID, c.Type, now.Add(-s.settings.DedupWindow))
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	metadata := c.Metadata
	if metadata == nil {
		metadata = models.JSONB{}
	}
	alert := &models.StockAlert{
		ID:        uuid.New(),
		ProductID: c.ProductID,
		Type:      c.Type,
		Severity:  c.Severity,
		Message:   c.Message,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.alertRepo.Create(ctx, alert); err != nil {
		return nil, false, fmt.Errorf("persist alert: %w", err)
	}
	s.logger.Info("alert raised",
		zap.String("alert_id", alert.ID.String()),
		zap.String("product_id", alert.ProductID.String()),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)))
	return alert, true, nil
}

func (s *alertService) publish(ctx context.Context, alert *models.StockAlert) {
	s.mu.RLock()
	handlers := append([]AlertHandler(nil), s.handlers...)
	s.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, alert)
	}
}

// dispatchAsync sends the alert on a tracked goroutine. The goroutine keeps
// the caller's values but not its cancellation or open transaction.
func (s *alertService) dispatchAsync(ctx context.Context, alert *models.StockAlert, rec *models.StockRecord) {
	if s.dispatcher == nil {
		return
	}
	sent := *alert
	var snapshot *models.StockRecord
	if rec != nil {
		r := *rec
		snapshot = &r
	}
	bg := repositories.WithoutTx(ctx)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.dispatch(bg, &sent, snapshot)
	}()
}

// Wait blocks until every in-flight dispatch has finished.
func (s *alertService) Wait() {
	s.inflight.Wait()
}

// dispatch sends the alert to every configuration whose gates pass. Gates use
// the alert's creation time. Failures are logged and never returned.
func (s *alertService) dispatch(ctx context.Context, alert *models.StockAlert, rec *models.StockRecord) {
	configs, err := s.alertRepo.ListActiveConfigurations(ctx)
	if err != nil {
		s.logger.Error("failed to load alert configurations", zap.Error(err))
		return
	}

	var product *models.ProductInfo
	productLoaded := false
	for _, cfg := range configs {
		if !typeGate(cfg, alert, rec) {
			continue
		}
		if len(cfg.ProductIDs) > 0 || len(cfg.CategoryIDs) > 0 {
			if !productLoaded {
				product = s.lookupProduct(ctx, alert.ProductID)
				productLoaded = true
			}
			if !scopeMatches(cfg, alert.ProductID, product) {
				continue
			}
		}
		if !IsWithinWindow(alert.CreatedAt, cfg) {
			s.logger.Debug("outside business hours", zap.String("config_id", cfg.ID.String()))
			continue
		}
		if !s.takeDispatchSlot(ctx, cfg, alert.CreatedAt) {
			s.logger.Debug("dispatch cap reached", zap.String("config_id", cfg.ID.String()))
			continue
		}
		s.sendToChannels(ctx, cfg, alert, product)
	}
}

// typeGate checks the enabled type, minimum severity and custom thresholds.
func typeGate(cfg *models.AlertConfiguration, alert *models.StockAlert, rec *models.StockRecord) bool {
	if !cfg.TypeEnabled(alert.Type) {
		return false
	}
	if cfg.MinSeverity != "" && !alert.Severity.AtLeast(cfg.MinSeverity) {
		return false
	}
	if !cfg.UseCustomThresholds || rec == nil {
		return true
	}
	switch alert.Type {
	case models.AlertTypeLowStock, models.AlertTypeReorderNeeded:
		return cfg.LowStockThreshold != nil && rec.QuantityOnHand <= *cfg.LowStockThreshold
	case models.AlertTypeCriticalStock:
		return cfg.CriticalStockThreshold != nil && rec.QuantityOnHand <= *cfg.CriticalStockThreshold
	}
	return true
}

func scopeMatches(cfg *models.AlertConfiguration, productID uuid.UUID, product *models.ProductInfo) bool {
	for _, id := range cfg.ProductIDs {
		if id == productID {
			return true
		}
	}
	if product != nil && product.CategoryID != nil {
		for _, id := range cfg.CategoryIDs {
			if id == *product.CategoryID {
				return true
			}
		}
	}
	return false
}

// IsWithinWindow reports whether now falls inside cfg's business days and
// hours in its timezone. A window whose end precedes its start wraps midnight;
// equal bounds cover the whole day. An unresolvable timezone never matches.
func IsWithinWindow(now time.Time, cfg *models.AlertConfiguration) bool {
	if !cfg.RespectBusinessHours {
		return true
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false
	}
	local := now.In(loc)

	days := cfg.BusinessDays
	if len(days) == 0 {
		days = defaultBusinessDays
	}
	dayOK := false
	for _, d := range days {
		if d == local.Weekday() {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}

	start, err := parseClock(cfg.BusinessHoursStart)
	if err != nil {
		return false
	}
	end, err := parseClock(cfg.BusinessHoursEnd)
	if err != nil {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	switch {
	case start == end:
		return true
	case start < end:
		return minute >= start && minute < end
	default:
		return minute >= start || minute < end
	}
}

// parseClock turns "HH:MM" into minutes after midnight.
func parseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return h*60 + m, nil
}

// takeDispatchSlot enforces the per-hour and per-day caps. Each counter is
// incremented before it is compared, so concurrent raises never share a slot.
// The hourly slot is handed back when the daily cap refuses.
func (s *alertService) takeDispatchSlot(ctx context.Context, cfg *models.AlertConfiguration, at time.Time) bool {
	at = at.UTC()
	hourKey := fmt.Sprintf("dispatch:%s:hour:%s", cfg.ID, at.Format("2006010215"))
	dayKey := fmt.Sprintf("dispatch:%s:day:%s", cfg.ID, at.Format("20060102"))

	hourTaken := false
	if cfg.MaxPerHour > 0 {
		count, err := s.cacheService.IncrementCounter(ctx, hourKey, time.Hour)
		if err != nil {
			s.logger.Warn("failed to increment hourly dispatch counter", zap.Error(err))
		} else if count > int64(cfg.MaxPerHour) {
			return false
		} else {
			hourTaken = true
		}
	}
	if cfg.MaxPerDay > 0 {
		count, err := s.cacheService.IncrementCounter(ctx, dayKey, 24*time.Hour)
		if err != nil {
			s.logger.Warn("failed to increment daily dispatch counter", zap.Error(err))
		} else if count > int64(cfg.MaxPerDay) {
			if hourTaken {
				if err := s.cacheService.DecrementCounter(ctx, hourKey); err != nil {
					s.logger.Warn("failed to return hourly dispatch slot", zap.Error(err))
				}
			}
			return false
		}
	}
	return true
}

func (s *alertService) sendToChannels(ctx context.Context, cfg *models.AlertConfiguration, alert *models.StockAlert, product *models.ProductInfo) {
	name := alert.ProductID.String()
	sku := ""
	if product != nil {
		name = product.DisplayName()
		sku = product.SKU
	}
	vars := map[string]string{
		"alert_id":     alert.ID.String(),
		"alert_type":   string(alert.Type),
		"severity":     string(alert.Severity),
		"message":      alert.Message,
		"product_id":   alert.ProductID.String(),
		"product_name": name,
		"sku":          sku,
		"created_at":   alert.CreatedAt.Format(time.RFC3339),
		"config_name":  cfg.Name,
	}
	if q, ok := alert.Metadata["quantity_on_hand"]; ok {
		vars["quantity_on_hand"] = fmt.Sprint(q)
	}

	for _, ch := range cfg.Channels {
		if !ch.Enabled || ch.Recipient == "" {
			continue
		}
		msg := models.NotificationMessage{
			Channel:   ch.Channel,
			Recipient: ch.Recipient,
			Subject:   fmt.Sprintf("[%s] %s: %s", alert.Severity, alert.Type, name),
			Variables: vars,
		}
		if err := s.dispatcher.Send(ctx, msg); err != nil {
			s.logger.Warn("alert dispatch failed",
				zap.String("alert_id", alert.ID.String()),
				zap.String("config_id", cfg.ID.String()),
				zap.String("channel", string(ch.Channel)),
				zap.Error(err))
		}
	}
}

func (s *alertService) lookupProduct(ctx context.Context, productID uuid.UUID) *models.ProductInfo {
	if s.catalog == nil {
		return nil
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if !common.IsNotFound(err) {
			s.logger.Warn("catalog lookup failed", zap.String("product_id", productID.String()), zap.Error(err))
		}
		return nil
	}
	return product
}

func (s *alertService) invalidateLowStock(ctx context.Context) {
	if err := s.cacheService.InvalidateLowStockAlerts(ctx); err != nil {
		s.logger.Warn("failed to invalidate low stock cache", zap.Error(err))
	}
}

func (s *alertService) GetAlert(ctx context.Context, id uuid.UUID) (*models.StockAlert, error) {
	return s.alertRepo.GetByID(ctx, id)
}

func (s *alertService) Acknowledge(ctx context.Context, id uuid.UUID, actor string) (*models.StockAlert, error) {
	return s.mutate(ctx, id, actor, func(a *models.StockAlert, actor string, now time.Time) (bool, error) {
		if a.IsAcknowledged {
			return false, nil
		}
		if a.IsDismissed {
			return false, common.NewValidation("alert", "%s is dismissed and cannot be acknowledged", a.ID)
		}
		a.IsAcknowledged = true
		a.AcknowledgedBy = &actor
		a.AcknowledgedAt = &now
		return true, nil
	})
}

func (s *alertService) Dismiss(ctx context.Context, id uuid.UUID, actor string) (*models.StockAlert, error) {
	return s.mutate(ctx, id, actor, func(a *models.StockAlert, actor string, now time.Time) (bool, error) {
		if a.IsDismissed {
			return false, nil
		}
		a.IsDismissed = true
		a.DismissedBy = &actor
		a.DismissedAt = &now
		return true, nil
	})
}

func (s *alertService) MarkRead(ctx context.Context, id uuid.UUID, actor string) (*models.StockAlert, error) {
	return s.mutate(ctx, id, actor, func(a *models.StockAlert, actor string, now time.Time) (bool, error) {
		if a.IsRead {
			return false, nil
		}
		a.IsRead = true
		a.ReadBy = &actor
		a.ReadAt = &now
		return true, nil
	})
}

// mutate applies a state change. Repeating a change keeps the first actor and timestamp.
func (s *alertService) mutate(ctx context.Context, id uuid.UUID, actor string,
	apply func(a *models.StockAlert, actor string, now time.Time) (bool, error)) (*models.StockAlert, error) {
	if actor == "" {
		actor = common.ActorFromContext(ctx)
	}
	alert, err := s.alertRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	changed, err := apply(alert, actor, now)
	if err != nil || !changed {
		return alert, err
	}
	alert.UpdatedAt = now
	if err := s.alertRepo.UpdateState(ctx, alert); err != nil {
		return nil, err
	}
	s.invalidateLowStock(ctx)
	return alert, nil
}

func (s *alertService) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.StockAlert, error) {
	limit, offset, err := common.ValidatePaginationParams(filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	filter.Limit, filter.Offset = limit, offset
	if filter.MinSeverity != nil && filter.MinSeverity.Rank() < 0 {
		return nil, common.NewValidation("min_severity", "unknown severity %q", *filter.MinSeverity)
	}
	return s.alertRepo.List(ctx, filter)
}

// ActiveLowStockAlerts lists undismissed stock-level alerts, preferring the cache.
func (s *alertService) ActiveLowStockAlerts(ctx context.Context) ([]*models.StockAlert, error) {
	cached, found, err := s.cacheService.GetLowStockAlerts(ctx)
	if err != nil {
		s.logger.Warn("low stock cache read failed", zap.Error(err))
	} else if found {
		return cached, nil
	}

	alerts, err := s.alertRepo.List(ctx, models.AlertFilter{Types: lowStockAlertTypes, Limit: 1000})
	if err != nil {
		return nil, err
	}
	if err := s.cacheService.SetLowStockAlerts(ctx, alerts, s.settings.LowStockCacheTTL); err != nil {
		s.logger.Warn("low stock cache write failed", zap.Error(err))
	}
	return alerts, nil
}

func (s *alertService) GetConfiguration(ctx context.Context, id uuid.UUID) (*models.AlertConfiguration, error) {
	return s.alertRepo.GetConfiguration(ctx, id)
}

func (s *alertService) SaveConfiguration(ctx context.Context, cfg *models.AlertConfiguration) (*models.AlertConfiguration, error) {
	if err := s.normalizeConfiguration(cfg); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	if err := s.alertRepo.SaveConfiguration(ctx, cfg); err != nil {
		return nil, err
	}
	s.logger.Info("alert configuration saved", zap.String("config_id", cfg.ID.String()), zap.String("owner", cfg.OwnerID))
	return cfg, nil
}

// normalizeConfiguration fills defaults and rejects unusable configurations.
func (s *alertService) normalizeConfiguration(cfg *models.AlertConfiguration) error {
	if err := common.ValidateRequiredString(cfg.OwnerID, "owner_id"); err != nil {
		return err
	}
	if err := common.ValidateRequiredString(cfg.Name, "name"); err != nil {
		return err
	}

	if len(cfg.EnabledTypes) == 0 {
		cfg.EnabledTypes = append([]models.AlertType(nil), models.AllAlertTypes...)
	}
	for _, t := range cfg.EnabledTypes {
		known := false
		for _, k := range models.AllAlertTypes {
			if t == k {
				known = true
				break
			}
		}
		if !known {
			return common.NewConfigurationError("enabled_types", "unknown alert type %q", t)
		}
	}

	if cfg.MinSeverity == "" {
		cfg.MinSeverity = models.SeverityInfo
	}
	if cfg.MinSeverity.Rank() < 0 {
		return common.NewConfigurationError("min_severity", "unknown severity %q", cfg.MinSeverity)
	}

	if cfg.UseCustomThresholds {
		if cfg.LowStockThreshold == nil || cfg.CriticalStockThreshold == nil {
			return common.NewConfigurationError("thresholds", "custom thresholds enabled but low or critical threshold is missing")
		}
		if *cfg.LowStockThreshold < 0 || *cfg.CriticalStockThreshold < 0 {
			return common.NewConfigurationError("thresholds", "thresholds cannot be negative")
		}
		if *cfg.CriticalStockThreshold > *cfg.LowStockThreshold {
			return common.NewConfigurationError("thresholds", "critical threshold %d exceeds low threshold %d",
				*cfg.CriticalStockThreshold, *cfg.LowStockThreshold)
		}
	}

	if cfg.Timezone == "" {
		cfg.Timezone = s.settings.DefaultTimezone
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return common.NewConfigurationError("timezone", "%v", err)
	}
	if cfg.RespectBusinessHours {
		if len(cfg.BusinessDays) == 0 {
			cfg.BusinessDays = append([]time.Weekday(nil), defaultBusinessDays...)
		}
		for _, d := range cfg.BusinessDays {
			if d < time.Sunday || d > time.Saturday {
				return common.NewConfigurationError("business_days", "invalid weekday %d", d)
			}
		}
		if _, err := parseClock(cfg.BusinessHoursStart); err != nil {
			return common.NewConfigurationError("business_hours_start", "%v", err)
		}
		if _, err := parseClock(cfg.BusinessHoursEnd); err != nil {
			return common.NewConfigurationError("business_hours_end", "%v", err)
		}
	}

	if cfg.MaxPerHour < 0 || cfg.MaxPerDay < 0 {
		return common.NewConfigurationError("caps", "send caps cannot be negative")
	}
	for i, ch := range cfg.Channels {
		switch ch.Channel {
		case models.NotificationTypeEmail, models.NotificationTypeSMS, models.NotificationTypeWebhook, models.NotificationTypePush:
		default:
			return common.NewConfigurationError(fmt.Sprintf("channels[%d]", i), "unknown channel %q", ch.Channel)
		}
		if ch.Enabled && strings.TrimSpace(ch.Recipient) == "" {
			return common.NewConfigurationError(fmt.Sprintf("channels[%d]", i), "enabled %s channel has no recipient", ch.Channel)
		}
	}
	return nil
}
