package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"stockledger/internal/common"
	"stockledger/internal/models"
	"stockledger/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ReorderSettings struct {
	VelocityWindowDays   int
	SafetyMarginDays     int
	DefaultLeadTimeDays  int
	MinimumOrderQuantity int
	PriceCostRatio       float64
	ConflictRetries      int
}

func DefaultReorderSettings() ReorderSettings {
	return ReorderSettings{
		VelocityWindowDays:   30,
		SafetyMarginDays:     7,
		DefaultLeadTimeDays:  7,
		MinimumOrderQuantity: 1,
		PriceCostRatio:       0.6,
		ConflictRetries:      common.DefaultConflictAttempts,
	}
}

const scanPageSize = 200

// VelocityEvaluator raises movement-rate alerts from a computed velocity.
type VelocityEvaluator interface {
	EvaluateVelocity(ctx context.Context, velocity models.Velocity) ([]*models.StockAlert, error)
}

type ReorderService interface {
	ComputeVelocity(ctx context.Context, productID uuid.UUID, windowDays int) (models.Velocity, error)
	// SuggestReorder returns nil when the product does not need restocking.
	SuggestReorder(ctx context.Context, productID uuid.UUID) (*models.ReorderSuggestion, error)
	ScanAndSuggest(ctx context.Context) (int, error)
	HandleAlert(ctx context.Context, alert *models.StockAlert)
	GetSuggestion(ctx context.Context, id uuid.UUID) (*models.ReorderSuggestion, error)
	ListSuggestions(ctx context.Context, status models.SuggestionStatus, limit, offset int) ([]*models.ReorderSuggestion, error)
	DismissSuggestion(ctx context.Context, id uuid.UUID, actor string) (*models.ReorderSuggestion, error)

	CreateRequest(ctx context.Context, in models.CreateRequestInput) (*models.ReorderRequest, error)
	Transition(ctx context.Context, requestID uuid.UUID, action models.RequestAction, actor string, notes *string) (*models.ReorderRequest, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*models.ReorderRequest, error)
	ListRequests(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.ReorderRequest, error)
}

type reorderService struct {
	txm         repositories.TxManager
	reorderRepo repositories.ReorderRepository
	stockRepo   repositories.StockRepository
	ledger      LedgerService
	catalog     CatalogLookup
	suppliers   SupplierDirectory
	alerts      VelocityEvaluator
	clock       common.Clock
	settings    ReorderSettings
	logger      *zap.Logger
}

func NewReorderService(txm repositories.TxManager, reorderRepo repositories.ReorderRepository, stockRepo repositories.StockRepository,
	ledger LedgerService, catalog CatalogLookup, suppliers SupplierDirectory, alerts VelocityEvaluator, clock common.Clock,
	settings ReorderSettings, logger *zap.Logger) ReorderService {
	if clock == nil {
		clock = common.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.VelocityWindowDays <= 0 {
		settings.VelocityWindowDays = 30
	}
	if settings.MinimumOrderQuantity < 1 {
		settings.MinimumOrderQuantity = 1
	}
	return &reorderService{
		txm:         txm,
		reorderRepo: reorderRepo,
		stockRepo:   stockRepo,
		ledger:      ledger,
		catalog:     catalog,
		suppliers:   suppliers,
		alerts:      alerts,
		clock:       clock,
		settings:    settings,
		logger:      logger.Named("reorder"),
	}
}

func (s *reorderService) ComputeVelocity(ctx context.Context, productID uuid.UUID, windowDays int) (models.Velocity, error) {
	if windowDays <= 0 {
		windowDays = s.settings.VelocityWindowDays
	}
	rec, err := s.stockRepo.GetByProductID(ctx, productID)
	if err != nil {
		return models.Velocity{}, err
	}
	return s.velocityFor(ctx, rec, windowDays)
}

// velocityFor averages SALE quantities over the trailing window.
func (s *reorderService) velocityFor(ctx context.Context, rec *models.StockRecord, windowDays int) (models.Velocity, error) {
	since := s.clock.Now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	sold, err := s.stockRepo.SalesSince(ctx, rec.ProductID, since)
	if err != nil {
		return models.Velocity{}, err
	}
	avg := float64(sold) / float64(windowDays)
	return models.Velocity{
		ProductID:         rec.ProductID,
		WindowDays:        windowDays,
		TotalSold:         sold,
		AverageDailySales: avg,
		DaysOfStockLeft:   DaysOfStockLeft(rec.QuantityOnHand, avg),
		QuantityOnHand:    rec.QuantityOnHand,
		TrackedSince:      rec.CreatedAt,
	}, nil
}

// DaysOfStockLeft is zero when nothing is on hand and +Inf when nothing sells.
func DaysOfStockLeft(quantity int, averageDailySales float64) float64 {
	if quantity <= 0 {
		return 0
	}
	if averageDailySales <= 0 {
		return math.Inf(1)
	}
	return float64(quantity) / averageDailySales
}

// RecommendedQuantity is lead-time demand plus safety stock, bounded below by
// twice the reorder point and the minimum order quantity.
func RecommendedQuantity(averageDailySales float64, leadTimeDays, safetyDays, reorderPoint, minimumOrder int) int {
	demand := int(math.Ceil(averageDailySales * float64(leadTimeDays+safetyDays)))
	qty := demand
	if reorderPoint*2 > qty {
		qty = reorderPoint * 2
	}
	if minimumOrder > qty {
		qty = minimumOrder
	}
	return qty
}

func PriorityFor(quantity int, daysOfStockLeft float64) models.ReorderPriority {
	switch {
	case quantity <= 0:
		return models.PriorityUrgent
	case daysOfStockLeft <= 3:
		return models.PriorityCritical
	case daysOfStockLeft <= 7:
		return models.PriorityHigh
	case daysOfStockLeft <= 14:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// selectSupplier prefers an active local and preferred supplier with the
// shortest lead time. nil means manual sourcing.
func (s *reorderService) selectSupplier(ctx context.Context) *models.Supplier {
	if s.suppliers == nil {
		return nil
	}
	list, err := s.suppliers.ListActiveSuppliers(ctx)
	if err != nil {
		s.logger.Warn("supplier lookup failed", zap.Error(err))
		return nil
	}
	var best *models.Supplier
	for _, sup := range list {
		if !sup.IsLocal || !sup.IsPreferred {
			continue
		}
		if best == nil || sup.LeadTimeDays < best.LeadTimeDays {
			best = sup
		}
	}
	return best
}

// baseUnitCost uses the catalog cost, else the price scaled by the cost ratio.
func (s *reorderService) baseUnitCost(ctx context.Context, productID uuid.UUID) decimal.Decimal {
	if s.catalog == nil {
		return decimal.Zero
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		s.logger.Warn("catalog lookup failed, costing at zero", zap.String("product_id", productID.String()), zap.Error(err))
		return decimal.Zero
	}
	if product.UnitCost != nil && product.UnitCost.IsPositive() {
		return *product.UnitCost
	}
	return product.UnitPrice.Mul(decimal.NewFromFloat(s.settings.PriceCostRatio))
}

func (s *reorderService) SuggestReorder(ctx context.Context, productID uuid.UUID) (*models.ReorderSuggestion, error) {
	supplier := s.selectSupplier(ctx)
	leadTime := s.settings.DefaultLeadTimeDays
	minimumOrder := s.settings.MinimumOrderQuantity
	discount := decimal.Zero
	var supplierID *uuid.UUID
	if supplier != nil {
		leadTime = supplier.LeadTimeDays
		if supplier.MinimumOrderQuantity > minimumOrder {
			minimumOrder = supplier.MinimumOrderQuantity
		}
		discount = supplier.DiscountRate
		id := supplier.ID
		supplierID = &id
	}
	unitCost := s.baseUnitCost(ctx, productID).Mul(decimal.NewFromInt(1).Sub(discount)).Round(4)

	var out *models.ReorderSuggestion
	err := common.RetryOnConflict(ctx, "reorder suggestion", productID.String(), s.settings.ConflictRetries, func(ctx context.Context) error {
		return s.txm.WithTx(ctx, func(ctx context.Context) error {
			out = nil
			rec, err := s.stockRepo.GetByProductID(ctx, productID)
			if err != nil {
				return err
			}
			if !rec.TrackInventory {
				return nil
			}
			// Serializes suggestion upserts per product.
			if rec, err = s.ledger.LockForUpdate(ctx, productID); err != nil {
				return err
			}
			v, err := s.velocityFor(ctx, rec, s.settings.VelocityWindowDays)
			if err != nil {
				return err
			}

			horizon := leadTime + s.settings.SafetyMarginDays
			byVelocity := v.DaysOfStockLeft <= float64(horizon)
			byReorderPoint := rec.QuantityOnHand <= rec.ReorderPoint
			if !byVelocity && !byReorderPoint {
				return nil
			}

			qty := RecommendedQuantity(v.AverageDailySales, leadTime, s.settings.SafetyMarginDays, rec.ReorderPoint, minimumOrder)
			var reason string
			if byVelocity {
				reason = fmt.Sprintf("%.1f days of stock left, within %d days of lead time plus safety margin", v.DaysOfStockLeft, horizon)
			} else {
				reason = fmt.Sprintf("%d units on hand, at or below reorder point %d", rec.QuantityOnHand, rec.ReorderPoint)
			}

			now := s.clock.Now()
			suggestion, err := s.reorderRepo.FindActiveSuggestion(ctx, productID)
			if err != nil {
				return err
			}
			isNew := suggestion == nil
			if isNew {
				suggestion = &models.ReorderSuggestion{
					ID:        uuid.New(),
					ProductID: productID,
					Status:    models.SuggestionActive,
					CreatedAt: now,
				}
			}
			suggestion.SupplierID = supplierID
			suggestion.Priority = PriorityFor(rec.QuantityOnHand, v.DaysOfStockLeft)
			suggestion.CurrentQuantity = rec.QuantityOnHand
			suggestion.AverageDailySales = v.AverageDailySales
			suggestion.DaysOfStockLeft = nil
			if !v.Unbounded() {
				days := v.DaysOfStockLeft
				suggestion.DaysOfStockLeft = &days
			}
			suggestion.LeadTimeDays = leadTime
			suggestion.SafetyDays = s.settings.SafetyMarginDays
			suggestion.RecommendedQuantity = qty
			suggestion.UnitCost = unitCost
			suggestion.EstimatedCost = unitCost.Mul(decimal.NewFromInt(int64(qty))).Round(4)
			suggestion.Reason = reason
			suggestion.UpdatedAt = now

			if isNew {
				err = s.reorderRepo.CreateSuggestion(ctx, suggestion)
			} else {
				err = s.reorderRepo.UpdateSuggestion(ctx, suggestion)
			}
			if err != nil {
				return err
			}
			out = suggestion
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		s.logger.Info("reorder suggested",
			zap.String("product_id", productID.String()),
			zap.String("priority", string(out.Priority)),
			zap.Int("quantity", out.RecommendedQuantity))
	}
	return out, nil
}

// HandleAlert runs the planner for alerts that signal restocking.
func (s *reorderService) HandleAlert(ctx context.Context, alert *models.StockAlert) {
	switch alert.Type {
	case models.AlertTypeReorderNeeded, models.AlertTypeCriticalStock, models.AlertTypeOutOfStock:
	default:
		return
	}
	if _, err := s.SuggestReorder(ctx, alert.ProductID); err != nil {
		s.logger.Error("alert-triggered reorder failed",
			zap.String("alert_id", alert.ID.String()),
			zap.String("product_id", alert.ProductID.String()),
			zap.Error(err))
	}
}

// ScanAndSuggest evaluates velocity alerts and suggestions for every tracked
// record. Per-product failures are logged and skipped.
func (s *reorderService) ScanAndSuggest(ctx context.Context) (int, error) {
	suggested := 0
	for offset := 0; ; offset += scanPageSize {
		records, err := s.stockRepo.ListTracked(ctx, scanPageSize, offset)
		if err != nil {
			return suggested, err
		}
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return suggested, err
			}
			if s.alerts != nil {
				v, err := s.velocityFor(ctx, rec, s.settings.VelocityWindowDays)
				if err != nil {
					s.logger.Warn("velocity computation failed", zap.String("product_id", rec.ProductID.String()), zap.Error(err))
				} else if _, err := s.alerts.EvaluateVelocity(ctx, v); err != nil {
					s.logger.Warn("velocity alerts failed", zap.String("product_id", rec.ProductID.String()), zap.Error(err))
				}
			}
			suggestion, err := s.SuggestReorder(ctx, rec.ProductID)
			if err != nil {
				s.logger.Warn("reorder suggestion failed", zap.String("product_id", rec.ProductID.String()), zap.Error(err))
				continue
			}
			if suggestion != nil {
				suggested++
			}
		}
		if len(records) < scanPageSize {
			break
		}
	}
	return suggested, nil
}

func (s *reorderService) GetSuggestion(ctx context.Context, id uuid.UUID) (*models.ReorderSuggestion, error) {
	return s.reorderRepo.GetSuggestion(ctx, id)
}

func (s *reorderService) ListSuggestions(ctx context.Context, status models.SuggestionStatus, limit, offset int) ([]*models.ReorderSuggestion, error) {
	limit, offset, err := common.ValidatePaginationParams(limit, offset)
	if err != nil {
		return nil, err
	}
	if status == "" {
		status = models.SuggestionActive
	}
	return s.reorderRepo.ListSuggestions(ctx, status, limit, offset)
}

func (s *reorderService) DismissSuggestion(ctx context.Context, id uuid.UUID, actor string) (*models.ReorderSuggestion, error) {
	var suggestion *models.ReorderSuggestion
	err := s.txm.WithTx(ctx, func(ctx context.Context) error {
		var err error
		suggestion, err = s.reorderRepo.GetSuggestion(ctx, id)
		if err != nil {
			return err
		}
		if suggestion.Status != models.SuggestionActive {
			return common.NewValidation("suggestion", "%s is %s and cannot be dismissed", id, suggestion.Status)
		}
		suggestion.Status = models.SuggestionDismissed
		suggestion.UpdatedAt = s.clock.Now()
		return s.reorderRepo.UpdateSuggestion(ctx, suggestion)
	})
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = common.ActorFromContext(ctx)
	}
	s.logger.Info("reorder suggestion dismissed", zap.String("suggestion_id", id.String()), zap.String("actor", actor))
	return suggestion, nil
}

func (s *reorderService) CreateRequest(ctx context.Context, in models.CreateRequestInput) (*models.ReorderRequest, error) {
	actor := in.Actor
	if actor == "" {
		actor = common.ActorFromContext(ctx)
	}

	var req *models.ReorderRequest
	err := s.txm.WithTx(ctx, func(ctx context.Context) error {
		var suggestion *models.ReorderSuggestion
		if in.SuggestionID != nil {
			var err error
			suggestion, err = s.reorderRepo.GetSuggestion(ctx, *in.SuggestionID)
			if err != nil {
				return err
			}
			if suggestion.Status != models.SuggestionActive {
				return common.NewValidation("suggestion_id", "suggestion %s is %s", suggestion.ID, suggestion.Status)
			}
			if in.ProductID == uuid.Nil {
				in.ProductID = suggestion.ProductID
			} else if in.ProductID != suggestion.ProductID {
				return common.NewValidation("product_id", "does not match suggestion product %s", suggestion.ProductID)
			}
			if in.SupplierID == nil {
				in.SupplierID = suggestion.SupplierID
			}
			if in.Quantity == 0 {
				in.Quantity = suggestion.RecommendedQuantity
			}
			if in.UnitCost.IsZero() {
				in.UnitCost = suggestion.UnitCost
			}
		}

		if in.ProductID == uuid.Nil {
			return common.NewValidation("product_id", "is required")
		}
		if err := common.ValidatePositiveInteger(in.Quantity, "quantity", MaxMovementQuantity); err != nil {
			return err
		}
		if in.UnitCost.IsNegative() {
			return common.NewValidation("unit_cost", "cannot be negative")
		}
		if in.SupplierID != nil {
			if err := s.validateSupplier(ctx, *in.SupplierID); err != nil {
				return err
			}
		}

		now := s.clock.Now()
		req = &models.ReorderRequest{
			ID:           uuid.New(),
			SuggestionID: in.SuggestionID,
			ProductID:    in.ProductID,
			SupplierID:   in.SupplierID,
			Quantity:     in.Quantity,
			UnitCost:     in.UnitCost,
			TotalCost:    in.UnitCost.Mul(decimal.NewFromInt(int64(in.Quantity))).Round(4),
			Status:       models.RequestPendingApproval,
			RequestedBy:  actor,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.reorderRepo.CreateRequest(ctx, req); err != nil {
			return err
		}
		entry := models.RequestHistoryEntry{
			ID:         uuid.New(),
			RequestID:  req.ID,
			Action:     "create",
			FromStatus: models.RequestSuggested,
			ToStatus:   models.RequestPendingApproval,
			Actor:      actor,
			CreatedAt:  now,
		}
		if err := s.reorderRepo.AppendHistory(ctx, &entry); err != nil {
			return err
		}
		req.History = []models.RequestHistoryEntry{entry}

		if suggestion != nil {
			suggestion.Status = models.SuggestionConverted
			suggestion.UpdatedAt = now
			return s.reorderRepo.UpdateSuggestion(ctx, suggestion)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("reorder request created",
		zap.String("request_id", req.ID.String()),
		zap.String("product_id", req.ProductID.String()),
		zap.Int("quantity", req.Quantity),
		zap.String("actor", actor))
	return req, nil
}

// validateSupplier requires a known, active supplier with a name and contact.
func (s *reorderService) validateSupplier(ctx context.Context, supplierID uuid.UUID) error {
	if s.suppliers == nil {
		return common.NewNotFound("supplier", supplierID)
	}
	supplier, err := s.suppliers.GetSupplier(ctx, supplierID)
	if err != nil {
		return err
	}
	if supplier.Name == "" {
		return common.NewValidation("supplier", "supplier %s has no name", supplierID)
	}
	if !supplier.HasContact() {
		return common.NewValidation("supplier", "supplier %s has no contact details", supplierID)
	}
	if !supplier.IsActive {
		return common.NewValidation("supplier", "supplier %s is inactive", supplierID)
	}
	return nil
}

// nextStatus validates action against the current status.
func nextStatus(current models.RequestStatus, action models.RequestAction) (models.RequestStatus, error) {
	switch action {
	case models.ActionApprove, models.ActionReject:
		if current != models.RequestPendingApproval {
			return "", common.NewValidation("action", "cannot %s a request in status %s", action, current)
		}
		if action == models.ActionApprove {
			return models.RequestApproved, nil
		}
		return models.RequestRejected, nil
	case models.ActionComplete:
		if current != models.RequestApproved {
			return "", common.NewValidation("action", "cannot complete a request in status %s", current)
		}
		return models.RequestCompleted, nil
	case models.ActionCancel:
		if current.Terminal() {
			return "", common.NewValidation("action", "cannot cancel a request in status %s", current)
		}
		return models.RequestCancelled, nil
	default:
		return "", common.NewValidation("action", "unknown action %q", action)
	}
}

func (s *reorderService) Transition(ctx context.Context, requestID uuid.UUID, action models.RequestAction, actor string, notes *string) (*models.ReorderRequest, error) {
	if actor == "" {
		actor = common.ActorFromContext(ctx)
	}

	var req *models.ReorderRequest
	var restocked *models.StockRecord
	err := common.RetryOnConflict(ctx, "reorder request", requestID.String(), s.settings.ConflictRetries, func(ctx context.Context) error {
		return s.txm.WithTx(ctx, func(ctx context.Context) error {
			var err error
			restocked = nil
			req, err = s.reorderRepo.GetRequest(ctx, requestID, true)
			if err != nil {
				return err
			}
			to, err := nextStatus(req.Status, action)
			if err != nil {
				return err
			}

			if action == models.ActionComplete {
				// An unknown cost leaves the average cost untouched.
				var unitCost *decimal.Decimal
				if !req.UnitCost.IsZero() {
					cost := req.UnitCost
					unitCost = &cost
				}
				var mv *models.MovementRecord
				restocked, mv, err = s.ledger.ApplyMovementInTx(ctx, models.MovementInput{
					ProductID: req.ProductID,
					Type:      models.MovementRestock,
					Quantity:  req.Quantity,
					UnitCost:  unitCost,
					Reason:    common.StringPtr("reorder request completed"),
					Reference: &models.MovementReference{Type: "reorder_request", ID: req.ID.String()},
					Actor:     actor,
				})
				if err != nil {
					return err
				}
				req.MovementID = &mv.ID
			}

			now := s.clock.Now()
			entry := models.RequestHistoryEntry{
				ID:         uuid.New(),
				RequestID:  req.ID,
				Action:     string(action),
				FromStatus: req.Status,
				ToStatus:   to,
				Actor:      actor,
				Notes:      notes,
				CreatedAt:  now,
			}
			req.Status = to
			req.UpdatedAt = now
			if err := s.reorderRepo.UpdateRequest(ctx, req); err != nil {
				return err
			}
			if err := s.reorderRepo.AppendHistory(ctx, &entry); err != nil {
				return err
			}
			req.History = append(req.History, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reorder request transitioned",
		zap.String("request_id", requestID.String()),
		zap.String("action", string(action)),
		zap.String("status", string(req.Status)),
		zap.String("actor", actor))
	if restocked != nil {
		s.ledger.AfterCommit(ctx, restocked)
	}
	return req, nil
}

func (s *reorderService) GetRequest(ctx context.Context, id uuid.UUID) (*models.ReorderRequest, error) {
	return s.reorderRepo.GetRequest(ctx, id, false)
}

func (s *reorderService) ListRequests(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.ReorderRequest, error) {
	limit, offset, err := common.ValidatePaginationParams(limit, offset)
	if err != nil {
		return nil, err
	}
	return s.reorderRepo.ListRequests(ctx, status, limit, offset)
}
