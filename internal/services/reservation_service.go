package services

import (
	"context"
	"time"

	"stockledger/internal/common"
	"stockledger/internal/models"
	"stockledger/internal/repositories"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ReservationSettings struct {
	DefaultTTL      time.Duration
	SweepBatch      int
	ConflictRetries int
}

func DefaultReservationSettings() ReservationSettings {
	return ReservationSettings{
		DefaultTTL:      15 * time.Minute,
		SweepBatch:      100,
		ConflictRetries: common.DefaultConflictAttempts,
	}
}

type ReservationService interface {
	Reserve(ctx context.Context, in models.ReserveInput) (*models.Reservation, error)
	GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	// Release reports false when the reservation was already released.
	Release(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseByHolder(ctx context.Context, holder models.HolderRef) (int, error)
	// Commit releases the hold and records the matching SALE in one transaction.
	Commit(ctx context.Context, id uuid.UUID, actor string) (*models.MovementRecord, error)
	SweepExpired(ctx context.Context) (int, error)
}

type reservationService struct {
	txm             repositories.TxManager
	reservationRepo repositories.ReservationRepository
	ledger          LedgerService
	notifier        ExpiryNotifier
	clock           common.Clock
	settings        ReservationSettings
	logger          *zap.Logger
}

func NewReservationService(txm repositories.TxManager, reservationRepo repositories.ReservationRepository, ledger LedgerService,
	notifier ExpiryNotifier, clock common.Clock, settings ReservationSettings, logger *zap.Logger) ReservationService {
	if clock == nil {
		clock = common.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.SweepBatch <= 0 {
		settings.SweepBatch = 100
	}
	return &reservationService{
		txm:             txm,
		reservationRepo: reservationRepo,
		ledger:          ledger,
		notifier:        notifier,
		clock:           clock,
		settings:        settings,
		logger:          logger.Named("reservations"),
	}
}

func (s *reservationService) Reserve(ctx context.Context, in models.ReserveInput) (*models.Reservation, error) {
	if in.ProductID == uuid.Nil {
		return nil, common.NewValidation("product_id", "is required")
	}
	if err := common.ValidatePositiveInteger(in.Quantity, "quantity", MaxMovementQuantity); err != nil {
		return nil, err
	}
	if !in.Holder.Valid() {
		return nil, common.NewValidation("holder", "exactly one of order id or cart id must be set")
	}
	if in.TTL < 0 {
		return nil, common.NewValidation("ttl", "cannot be negative")
	}
	ttl := in.TTL
	if ttl == 0 {
		ttl = s.settings.DefaultTTL
	}

	var res *models.Reservation
	var rec *models.StockRecord
	err := common.RetryOnConflict(ctx, "stock record", in.ProductID.String(), s.settings.ConflictRetries, func(ctx context.Context) error {
		return s.txm.WithTx(ctx, func(ctx context.Context) error {
			var err error
			rec, err = s.ledger.LockForUpdate(ctx, in.ProductID)
			if err != nil {
				return err
			}
			if rec.TrackInventory && !rec.AllowBackorder && rec.AvailableQuantity() < in.Quantity {
				return &common.InsufficientStockError{
					ProductID: in.ProductID,
					Requested: in.Quantity,
					Available: rec.AvailableQuantity(),
				}
			}
			rec.ReservedQuantity += in.Quantity
			if err := s.ledger.SaveLocked(ctx, rec); err != nil {
				return err
			}

			now := s.clock.Now()
			res = &models.Reservation{
				ID:            uuid.New(),
				StockRecordID: rec.ID,
				ProductID:     in.ProductID,
				Quantity:      in.Quantity,
				Holder:        in.Holder,
				Reason:        in.Reason,
				CreatedAt:     now,
				ExpiresAt:     now.Add(ttl),
			}
			return s.reservationRepo.Create(ctx, res)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("stock reserved",
		zap.String("reservation_id", res.ID.String()),
		zap.String("product_id", in.ProductID.String()),
		zap.String("holder", in.Holder.String()),
		zap.Int("quantity", in.Quantity))
	s.ledger.AfterCommit(ctx, rec)
	return res, nil
}

func (s *reservationService) GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	return s.reservationRepo.GetByID(ctx, id)
}

func (s *reservationService) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	var released bool
	var rec *models.StockRecord
	err := common.RetryOnConflict(ctx, "reservation", id.String(), s.settings.ConflictRetries, func(ctx context.Context) error {
		return s.txm.WithTx(ctx, func(ctx context.Context) error {
			var err error
			released, rec, err = s.releaseInTx(ctx, id)
			return err
		})
	})
	if err != nil {
		return false, err
	}
	if released {
		s.ledger.AfterCommit(ctx, rec)
	}
	return released, nil
}

// releaseInTx marks the reservation released and returns its quantity to
// available stock. reservedQuantity is floored at zero to absorb drift.
func (s *reservationService) releaseInTx(ctx context.Context, id uuid.UUID) (bool, *models.StockRecord, error) {
	res, err := s.reservationRepo.GetByID(ctx, id)
	if err != nil {
		return false, nil, err
	}
	if res.IsReleased {
		return false, nil, nil
	}

	rec, err := s.ledger.LockForUpdate(ctx, res.ProductID)
	if err != nil {
		return false, nil, err
	}
	ok, err := s.reservationRepo.MarkReleased(ctx, id, s.clock.Now())
	if err != nil || !ok {
		return false, nil, err
	}

	rec.ReservedQuantity -= res.Quantity
	if rec.ReservedQuantity < 0 {
		s.logger.Warn("reserved quantity drift",
			zap.String("product_id", res.ProductID.String()),
			zap.Int("reserved_quantity", rec.ReservedQuantity))
		rec.ReservedQuantity = 0
	}
	if err := s.ledger.SaveLocked(ctx, rec); err != nil {
		return false, nil, err
	}
	return true, rec, nil
}

func (s *reservationService) ReleaseByHolder(ctx context.Context, holder models.HolderRef) (int, error) {
	if !holder.Valid() {
		return 0, common.NewValidation("holder", "exactly one of order id or cart id must be set")
	}
	active, err := s.reservationRepo.ListActiveByHolder(ctx, holder)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, res := range active {
		released, err := s.Release(ctx, res.ID)
		if err != nil {
			return count, err
		}
		if released {
			count++
		}
	}
	return count, nil
}

func (s *reservationService) Commit(ctx context.Context, id uuid.UUID, actor string) (*models.MovementRecord, error) {
	var mv *models.MovementRecord
	var rec *models.StockRecord
	err := common.RetryOnConflict(ctx, "reservation", id.String(), s.settings.ConflictRetries, func(ctx context.Context) error {
		return s.txm.WithTx(ctx, func(ctx context.Context) error {
			res, err := s.reservationRepo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			released, _, err := s.releaseInTx(ctx, id)
			if err != nil {
				return err
			}
			if !released {
				return common.NewValidation("reservation", "%s is already released", id)
			}
			rec, mv, err = s.ledger.ApplyMovementInTx(ctx, models.MovementInput{
				ProductID: res.ProductID,
				Type:      models.MovementSale,
				Quantity:  res.Quantity,
				Reason:    res.Reason,
				Reference: &models.MovementReference{Type: "reservation", ID: res.ID.String()},
				Actor:     actor,
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.ledger.AfterCommit(ctx, rec)
	return mv, nil
}

// SweepExpired releases every reservation whose expiry has passed, in batches.
func (s *reservationService) SweepExpired(ctx context.Context) (int, error) {
	total := 0
	for {
		expired, err := s.reservationRepo.ListExpired(ctx, s.clock.Now(), s.settings.SweepBatch)
		if err != nil {
			return total, err
		}

		releasedInBatch := 0
		for _, res := range expired {
			released, err := s.Release(ctx, res.ID)
			if err != nil {
				s.logger.Error("failed to release expired reservation",
					zap.String("reservation_id", res.ID.String()), zap.Error(err))
				continue
			}
			if !released {
				continue
			}
			releasedInBatch++
			res.IsReleased = true
			if s.notifier != nil {
				if err := s.notifier.ReservationExpired(ctx, res); err != nil {
					s.logger.Warn("expiry notification failed",
						zap.String("reservation_id", res.ID.String()), zap.Error(err))
				}
			}
		}
		total += releasedInBatch

		if len(expired) < s.settings.SweepBatch || releasedInBatch == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}

	if total > 0 {
		s.logger.Info("expired reservations released", zap.Int("count", total))
	}
	return total, nil
}
