package services

import (
	"context"
	"fmt"
	"time"

	"stockledger/internal/caching"
	"stockledger/internal/common"
	"stockledger/internal/models"
	"stockledger/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxMovementQuantity bounds a single movement or reservation.
const MaxMovementQuantity = 1000000

// LedgerSettings are the ledger defaults taken from configuration.
type LedgerSettings struct {
	DefaultLowStockThreshold int
	DefaultReorderPoint      int
	DefaultReorderQuantity   int
	ConflictRetries          int
	StockCacheTTL            time.Duration
}

func DefaultLedgerSettings() LedgerSettings {
	return LedgerSettings{
		DefaultLowStockThreshold: models.DefaultLowStockThreshold,
		DefaultReorderPoint:      models.DefaultReorderPoint,
		DefaultReorderQuantity:   models.DefaultReorderQuantity,
		ConflictRetries:          common.DefaultConflictAttempts,
		StockCacheTTL:            5 * time.Minute,
	}
}

type LedgerService interface {
	GetOrCreate(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error)
	GetStock(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error)
	ApplyMovement(ctx context.Context, in models.MovementInput) (*models.StockRecord, error)
	ApplyBulk(ctx context.Context, updates []models.StockUpdate, batchReason *string, actor string) (*models.BulkOperationResult, error)
	UpdateSettings(ctx context.Context, productID uuid.UUID, settings models.StockSettings) (*models.StockRecord, error)
	Reconcile(ctx context.Context, productID uuid.UUID) (*models.ReconciliationReport, error)
	ListMovements(ctx context.Context, productID uuid.UUID, filter models.MovementFilter) ([]*models.MovementRecord, error)
	ListLowStock(ctx context.Context) ([]*models.StockRecord, error)

	// Building blocks for callers composing a ledger write into their own
	// transaction. LockForUpdate, SaveLocked and ApplyMovementInTx must run
	// inside TxManager.WithTx; AfterCommit runs once the transaction commits.
	LockForUpdate(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error)
	SaveLocked(ctx context.Context, record *models.StockRecord) error
	ApplyMovementInTx(ctx context.Context, in models.MovementInput) (*models.StockRecord, *models.MovementRecord, error)
	AfterCommit(ctx context.Context, record *models.StockRecord)
}

type ledgerService struct {
	txm          repositories.TxManager
	stockRepo    repositories.StockRepository
	cacheService caching.CacheService
	evaluator    StockEvaluator
	clock        common.Clock
	settings     LedgerSettings
	logger       *zap.Logger
}

func NewLedgerService(txm repositories.TxManager, stockRepo repositories.StockRepository, cacheService caching.CacheService,
	evaluator StockEvaluator, clock common.Clock, settings LedgerSettings, logger *zap.Logger) LedgerService {
	if clock == nil {
		clock = common.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ledgerService{
		txm:          txm,
		stockRepo:    stockRepo,
		cacheService: cacheService,
		evaluator:    evaluator,
		clock:        clock,
		settings:     settings,
		logger:       logger.Named("ledger"),
	}
}

func (s *ledgerService) defaults(productID uuid.UUID) *models.StockRecord {
	rec := models.NewStockRecord(productID, s.clock.Now())
	rec.LowStockThreshold = s.settings.DefaultLowStockThreshold
	rec.ReorderPoint = s.settings.DefaultReorderPoint
	rec.ReorderQuantity = s.settings.DefaultReorderQuantity
	rec.Status = rec.DeriveStatus()
	return rec
}

func (s *ledgerService) GetOrCreate(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error) {
	if productID == uuid.Nil {
		return nil, common.NewValidation("product_id", "is required")
	}
	rec, err := s.stockRepo.GetByProductID(ctx, productID)
	if err == nil {
		return rec, nil
	}
	if !common.IsNotFound(err) {
		return nil, err
	}
	err = s.txm.WithTx(ctx, func(ctx context.Context) error {
		rec, err = s.stockRepo.GetOrCreateForUpdate(ctx, s.defaults(productID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetStock returns the stock record, preferring the cache.
func (s *ledgerService) GetStock(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error) {
	if cached, err := s.cacheService.GetStockRecord(ctx, productID); cached != nil {
		return cached, nil
	} else if err != nil {
		s.logger.Warn("stock cache read failed", zap.String("product_id", productID.String()), zap.Error(err))
	}

	rec, err := s.stockRepo.GetByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := s.cacheService.SetStockRecord(ctx, rec, s.settings.StockCacheTTL); err != nil {
		s.logger.Warn("stock cache write failed", zap.String("product_id", productID.String()), zap.Error(err))
	}
	return rec, nil
}

func (s *ledgerService) ApplyMovement(ctx context.Context, in models.MovementInput) (*models.StockRecord, error) {
	if err := validateMovement(in); err != nil {
		return nil, err
	}

	var rec *models.StockRecord
	var mv *models.MovementRecord
	err := common.RetryOnConflict(ctx, "stock record", in.ProductID.String(), s.settings.ConflictRetries, func(ctx context.Context) error {
		return s.txm.WithTx(ctx, func(ctx context.Context) error {
			var err error
			rec, mv, err = s.ApplyMovementInTx(ctx, in)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("movement applied",
		zap.String("product_id", in.ProductID.String()),
		zap.String("type", string(in.Type)),
		zap.Int("delta", mv.QuantityDelta),
		zap.Int("quantity_on_hand", rec.QuantityOnHand))
	s.AfterCommit(ctx, rec)
	return rec, nil
}

func validateMovement(in models.MovementInput) error {
	if in.ProductID == uuid.Nil {
		return common.NewValidation("product_id", "is required")
	}
	if !in.Type.Valid() {
		return common.NewValidation("type", "unknown movement type %q", in.Type)
	}
	if err := common.ValidatePositiveInteger(in.Quantity, "quantity", MaxMovementQuantity); err != nil {
		return err
	}
	if in.UnitCost != nil && in.UnitCost.IsNegative() {
		return common.NewValidation("unit_cost", "cannot be negative")
	}
	return nil
}

func (s *ledgerService) LockForUpdate(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error) {
	return s.stockRepo.GetOrCreateForUpdate(ctx, s.defaults(productID))
}

func (s *ledgerService) SaveLocked(ctx context.Context, rec *models.StockRecord) error {
	rec.Status = rec.DeriveStatus()
	rec.UpdatedAt = s.clock.Now()
	return s.stockRepo.Update(ctx, rec)
}

func (s *ledgerService) ApplyMovementInTx(ctx context.Context, in models.MovementInput) (*models.StockRecord, *models.MovementRecord, error) {
	if err := validateMovement(in); err != nil {
		return nil, nil, err
	}
	rec, err := s.LockForUpdate(ctx, in.ProductID)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	previous := rec.QuantityOnHand
	delta := in.Type.Sign() * in.Quantity
	next := previous + delta

	if !in.Type.Inbound() && rec.TrackInventory && !rec.AllowBackorder && next-rec.ReservedQuantity < 0 {
		return nil, nil, &common.InsufficientStockError{
			ProductID: in.ProductID,
			Requested: in.Quantity,
			Available: rec.AvailableQuantity(),
		}
	}

	if in.Type.Inbound() && in.UnitCost != nil {
		rec.AverageCost = weightedAverageCost(previous, rec.AverageCost, in.Quantity, *in.UnitCost)
		cost := *in.UnitCost
		rec.LastCost = &cost
	}
	if in.Type.RefreshesRestockTime() {
		rec.LastRestockedAt = &now
	}
	if in.Type == models.MovementSale {
		rec.LastSoldAt = &now
	}
	rec.QuantityOnHand = next
	if err := s.SaveLocked(ctx, rec); err != nil {
		return nil, nil, err
	}

	actor := in.Actor
	if actor == "" {
		actor = common.ActorFromContext(ctx)
	}
	mv := &models.MovementRecord{
		ID:               uuid.New(),
		StockRecordID:    rec.ID,
		ProductID:        rec.ProductID,
		Type:             in.Type,
		QuantityDelta:    delta,
		PreviousQuantity: previous,
		NewQuantity:      next,
		UnitCost:         in.UnitCost,
		Reason:           in.Reason,
		CreatedBy:        actor,
		CreatedAt:        now,
		BatchID:          in.BatchID,
	}
	if in.Reference != nil {
		mv.ReferenceType = common.StringPtr(in.Reference.Type)
		mv.ReferenceID = common.StringPtr(in.Reference.ID)
	}
	if err := s.stockRepo.InsertMovement(ctx, mv); err != nil {
		return nil, nil, fmt.Errorf("record movement: %w", err)
	}
	return rec, mv, nil
}

// weightedAverageCost blends the incoming unit cost into the running average.
// A non-positive starting quantity resets the average to the incoming cost.
func weightedAverageCost(currentQty int, currentAvg decimal.Decimal, movedQty int, unitCost decimal.Decimal) decimal.Decimal {
	if currentQty <= 0 {
		return unitCost.Round(4)
	}
	cur := decimal.NewFromInt(int64(currentQty))
	moved := decimal.NewFromInt(int64(movedQty))
	total := cur.Mul(currentAvg).Add(moved.Mul(unitCost))
	return total.Div(cur.Add(moved)).Round(4)
}

// AfterCommit drops cached views of the record and re-evaluates alerts.
// Failures are logged; the mutation has already committed.
func (s *ledgerService) AfterCommit(ctx context.Context, rec *models.StockRecord) {
	if err := s.cacheService.DeleteStockRecord(ctx, rec.ProductID); err != nil {
		s.logger.Warn("failed to invalidate stock cache", zap.String("product_id", rec.ProductID.String()), zap.Error(err))
	}
	if err := s.cacheService.InvalidateLowStockAlerts(ctx); err != nil {
		s.logger.Warn("failed to invalidate low stock cache", zap.Error(err))
	}
	if s.evaluator == nil {
		return
	}
	if _, err := s.evaluator.EvaluateStock(ctx, rec); err != nil {
		s.logger.Error("alert evaluation failed", zap.String("product_id", rec.ProductID.String()), zap.Error(err))
	}
}

// ApplyBulk applies each update on its own. Successful movements share one batch id.
func (s *ledgerService) ApplyBulk(ctx context.Context, updates []models.StockUpdate, batchReason *string, actor string) (*models.BulkOperationResult, error) {
	if len(updates) == 0 {
		return nil, common.NewValidation("updates", "at least one update is required")
	}

	batchID := uuid.New()
	result := &models.BulkOperationResult{
		OperationID: batchID.String(),
		TotalItems:  len(updates),
		StartTime:   s.clock.Now(),
		Errors:      []models.BulkOperationError{},
		Items:       []models.BulkOperationItem{},
	}

	for i, update := range updates {
		reason := update.Reason
		if reason == nil {
			reason = batchReason
		}
		rec, err := s.ApplyMovement(ctx, models.MovementInput{
			ProductID: update.ProductID,
			Type:      update.Type,
			Quantity:  update.Quantity,
			UnitCost:  update.UnitCost,
			Reason:    reason,
			Reference: update.Reference,
			Actor:     actor,
			BatchID:   &batchID,
		})
		if err != nil {
			errMsg := err.Error()
			result.Errors = append(result.Errors, models.BulkOperationError{
				ItemIndex: i,
				ItemID:    update.ProductID.String(),
				Error:     errMsg,
			})
			result.Items = append(result.Items, models.BulkOperationItem{
				ItemIndex: i,
				ItemID:    update.ProductID.String(),
				Status:    "failed",
				Error:     &errMsg,
			})
			result.FailedItems++
			continue
		}

		result.Items = append(result.Items, models.BulkOperationItem{
			ItemIndex: i,
			ItemID:    update.ProductID.String(),
			Status:    "success",
			Record:    rec,
		})
		result.ProcessedItems++
	}

	result.Finish(s.clock.Now())
	s.logger.Info("bulk movement finished",
		zap.String("batch_id", batchID.String()),
		zap.String("status", result.Status),
		zap.Int("processed", result.ProcessedItems),
		zap.Int("failed", result.FailedItems))
	return result, nil
}

func (s *ledgerService) UpdateSettings(ctx context.Context, productID uuid.UUID, settings models.StockSettings) (*models.StockRecord, error) {
	if productID == uuid.Nil {
		return nil, common.NewValidation("product_id", "is required")
	}
	for field, value := range map[string]*int{
		"low_stock_threshold": settings.LowStockThreshold,
		"reorder_point":       settings.ReorderPoint,
		"reorder_quantity":    settings.ReorderQuantity,
	} {
		if value != nil {
			if err := common.ValidateNonNegative(*value, field); err != nil {
				return nil, err
			}
		}
	}

	var rec *models.StockRecord
	err := common.RetryOnConflict(ctx, "stock record", productID.String(), s.settings.ConflictRetries, func(ctx context.Context) error {
		return s.txm.WithTx(ctx, func(ctx context.Context) error {
			var err error
			rec, err = s.LockForUpdate(ctx, productID)
			if err != nil {
				return err
			}
			if settings.LowStockThreshold != nil {
				rec.LowStockThreshold = *settings.LowStockThreshold
			}
			if settings.ReorderPoint != nil {
				rec.ReorderPoint = *settings.ReorderPoint
			}
			if settings.ReorderQuantity != nil {
				rec.ReorderQuantity = *settings.ReorderQuantity
			}
			if settings.TrackInventory != nil {
				rec.TrackInventory = *settings.TrackInventory
			}
			if settings.AllowBackorder != nil {
				rec.AllowBackorder = *settings.AllowBackorder
			}
			return s.SaveLocked(ctx, rec)
		})
	})
	if err != nil {
		return nil, err
	}
	s.AfterCommit(ctx, rec)
	return rec, nil
}

// Reconcile compares quantity on hand with the sum of recorded movements.
func (s *ledgerService) Reconcile(ctx context.Context, productID uuid.UUID) (*models.ReconciliationReport, error) {
	rec, err := s.stockRepo.GetByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	sum, count, err := s.stockRepo.SumMovements(ctx, productID)
	if err != nil {
		return nil, err
	}
	report := &models.ReconciliationReport{
		ProductID:      productID,
		QuantityOnHand: rec.QuantityOnHand,
		MovementSum:    sum,
		MovementCount:  count,
		Drift:          rec.QuantityOnHand - sum,
	}
	report.Balanced = report.Drift == 0
	if !report.Balanced {
		s.logger.Warn("ledger drift detected",
			zap.String("product_id", productID.String()),
			zap.Int("quantity_on_hand", rec.QuantityOnHand),
			zap.Int("movement_sum", sum))
	}
	return report, nil
}

func (s *ledgerService) ListMovements(ctx context.Context, productID uuid.UUID, filter models.MovementFilter) ([]*models.MovementRecord, error) {
	limit, offset, err := common.ValidatePaginationParams(filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	filter.Limit, filter.Offset = limit, offset
	if filter.Since != nil && filter.Until != nil {
		if err := common.ValidateDateRange(*filter.Since, *filter.Until); err != nil {
			return nil, err
		}
	}
	return s.stockRepo.ListMovements(ctx, productID, filter)
}

func (s *ledgerService) ListLowStock(ctx context.Context) ([]*models.StockRecord, error) {
	return s.stockRepo.ListLowStock(ctx)
}
