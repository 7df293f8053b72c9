package services

import (
	"context"
	"time"

	"stockledger/internal/caching"
	"stockledger/internal/models"
	"stockledger/internal/repositories"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProductService is the read-only catalog adapter.
type ProductService interface {
	CatalogLookup
}

type productService struct {
	productRepo  repositories.ProductRepository
	cacheService caching.CacheService
	ttl          time.Duration
	logger       *zap.Logger
}

func NewProductService(productRepo repositories.ProductRepository, cacheService caching.CacheService, ttl time.Duration, logger *zap.Logger) ProductService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &productService{
		productRepo:  productRepo,
		cacheService: cacheService,
		ttl:          ttl,
		logger:       logger.Named("catalog"),
	}
}

func (s *productService) GetProduct(ctx context.Context, productID uuid.UUID) (*models.ProductInfo, error) {
	if cached, err := s.cacheService.GetProduct(ctx, productID); cached != nil {
		return cached, nil
	} else if err != nil {
		s.logger.Warn("product cache read failed", zap.String("product_id", productID.String()), zap.Error(err))
	}

	product, err := s.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := s.cacheService.SetProduct(ctx, product, s.ttl); err != nil {
		s.logger.Warn("product cache write failed", zap.String("product_id", productID.String()), zap.Error(err))
	}
	return product, nil
}
