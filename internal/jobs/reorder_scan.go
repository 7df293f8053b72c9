package jobs

import (
	"context"

	"stockledger/internal/services"

	"go.uber.org/zap"
)

type ReorderScan struct {
	reorder services.ReorderService
	logger  *zap.Logger
}

func NewReorderScan(reorder services.ReorderService, logger *zap.Logger) *ReorderScan {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReorderScan{reorder: reorder, logger: logger.Named("reorder-scan")}
}

func (j *ReorderScan) Name() string { return "reorder-scan" }

func (j *ReorderScan) Run(ctx context.Context) error {
	suggested, err := j.reorder.ScanAndSuggest(ctx)
	if err != nil {
		j.logger.Error("reorder scan failed", zap.Int("suggested", suggested), zap.Error(err))
		return err
	}
	j.logger.Info("reorder scan completed", zap.Int("suggested", suggested))
	return nil
}
