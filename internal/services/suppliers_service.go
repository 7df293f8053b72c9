package services

import (
	"context"
	"time"

	"stockledger/internal/caching"
	"stockledger/internal/common"
	"stockledger/internal/models"
	"stockledger/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SupplierService interface {
	SupplierDirectory
	Create(ctx context.Context, supplier *models.Supplier) error
}

type supplierService struct {
	supplierRepo repositories.SupplierRepository
	cacheService caching.CacheService
	clock        common.Clock
	ttl          time.Duration
	logger       *zap.Logger
}

func NewSupplierService(supplierRepo repositories.SupplierRepository, cacheService caching.CacheService, clock common.Clock,
	ttl time.Duration, logger *zap.Logger) SupplierService {
	if clock == nil {
		clock = common.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &supplierService{
		supplierRepo: supplierRepo,
		cacheService: cacheService,
		clock:        clock,
		ttl:          ttl,
		logger:       logger.Named("suppliers"),
	}
}

func (s *supplierService) Create(ctx context.Context, supplier *models.Supplier) error {
	if err := common.ValidateRequiredString(supplier.Name, "name"); err != nil {
		return err
	}
	if err := common.ValidateNonNegative(supplier.LeadTimeDays, "lead_time_days"); err != nil {
		return err
	}
	if supplier.DiscountRate.IsNegative() || supplier.DiscountRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return common.NewValidation("discount_rate", "must be in [0, 1)")
	}
	if supplier.MinimumOrderQuantity <= 0 {
		supplier.MinimumOrderQuantity = 1
	}

	now := s.clock.Now()
	if supplier.ID == uuid.Nil {
		supplier.ID = uuid.New()
	}
	supplier.CreatedAt = now
	supplier.UpdatedAt = now
	return s.supplierRepo.Create(ctx, supplier)
}

func (s *supplierService) GetSupplier(ctx context.Context, supplierID uuid.UUID) (*models.Supplier, error) {
	if cached, err := s.cacheService.GetSupplier(ctx, supplierID); cached != nil {
		return cached, nil
	} else if err != nil {
		s.logger.Warn("supplier cache read failed", zap.String("supplier_id", supplierID.String()), zap.Error(err))
	}

	supplier, err := s.supplierRepo.GetByID(ctx, supplierID)
	if err != nil {
		return nil, err
	}
	if err := s.cacheService.SetSupplier(ctx, supplier, s.ttl); err != nil {
		s.logger.Warn("supplier cache write failed", zap.String("supplier_id", supplierID.String()), zap.Error(err))
	}
	return supplier, nil
}

func (s *supplierService) ListActiveSuppliers(ctx context.Context) ([]*models.Supplier, error) {
	return s.supplierRepo.ListActive(ctx)
}
