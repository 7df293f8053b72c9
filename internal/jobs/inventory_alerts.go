package jobs

import (
	"context"

	"stockledger/internal/services"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job is a unit of periodic work run by the background scheduler.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// LowStockRecord summarizes one record at or below its threshold.
type LowStockRecord struct {
	ProductID         uuid.UUID
	ProductName       string
	CurrentStock      int
	AvailableQuantity int
	Threshold         int
}

// LowStockScanner re-evaluates alerts for every low-stock record and warms
// the low-stock alert cache. Alerts raised inline by the ledger already cover
// most cases; the scan catches records whose dedup window has lapsed.
type LowStockScanner struct {
	ledger  services.LedgerService
	alerts  services.AlertService
	catalog services.CatalogLookup
	logger  *zap.Logger
}

func NewLowStockScanner(ledger services.LedgerService, alerts services.AlertService, catalog services.CatalogLookup, logger *zap.Logger) *LowStockScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LowStockScanner{
		ledger:  ledger,
		alerts:  alerts,
		catalog: catalog,
		logger:  logger.Named("low-stock-scan"),
	}
}

func (a *LowStockScanner) Name() string { return "low-stock-scan" }

func (a *LowStockScanner) CheckLowStock(ctx context.Context) ([]LowStockRecord, error) {
	records, err := a.ledger.ListLowStock(ctx)
	if err != nil {
		a.logger.Error("failed to list low stock records", zap.Error(err))
		return nil, err
	}

	out := make([]LowStockRecord, 0, len(records))
	for _, rec := range records {
		name := rec.ProductID.String()
		if a.catalog != nil {
			if product, err := a.catalog.GetProduct(ctx, rec.ProductID); err != nil {
				a.logger.Debug("product lookup failed", zap.String("product_id", rec.ProductID.String()), zap.Error(err))
			} else {
				name = product.DisplayName()
			}
		}
		out = append(out, LowStockRecord{
			ProductID:         rec.ProductID,
			ProductName:       name,
			CurrentStock:      rec.QuantityOnHand,
			AvailableQuantity: rec.AvailableQuantity(),
			Threshold:         rec.LowStockThreshold,
		})
	}
	return out, nil
}

func (a *LowStockScanner) Run(ctx context.Context) error {
	records, err := a.ledger.ListLowStock(ctx)
	if err != nil {
		return err
	}

	raised := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		created, err := a.alerts.EvaluateStock(ctx, rec)
		if err != nil {
			a.logger.Warn("alert evaluation failed", zap.String("product_id", rec.ProductID.String()), zap.Error(err))
			continue
		}
		raised += len(created)
	}

	if _, err := a.alerts.ActiveLowStockAlerts(ctx); err != nil {
		a.logger.Warn("failed to warm low stock cache", zap.Error(err))
	}
	a.logger.Info("low stock scan completed", zap.Int("records", len(records)), zap.Int("alerts_raised", raised))
	return nil
}
