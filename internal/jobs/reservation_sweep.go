package jobs

import (
	"context"

	"stockledger/internal/services"

	"go.uber.org/zap"
)

// ReservationSweep releases expired reservations. Release is idempotent, so
// overlapping sweeps and manual releases are safe.
type ReservationSweep struct {
	reservations services.ReservationService
	logger       *zap.Logger
}

func NewReservationSweep(reservations services.ReservationService, logger *zap.Logger) *ReservationSweep {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationSweep{reservations: reservations, logger: logger.Named("reservation-sweep")}
}

func (j *ReservationSweep) Name() string { return "reservation-sweep" }

func (j *ReservationSweep) Run(ctx context.Context) error {
	released, err := j.reservations.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("reservation sweep failed", zap.Int("released", released), zap.Error(err))
		return err
	}
	j.logger.Debug("reservation sweep completed", zap.Int("released", released))
	return nil
}
