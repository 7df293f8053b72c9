package repositories

import (
	"context"
	"time"

	"stockledger/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ReservationRepository interface {
	Create(ctx context.Context, r *models.Reservation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	// MarkReleased flips an active reservation to released. It reports false
	// when the reservation was already released.
	MarkReleased(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListActiveByHolder(ctx context.Context, holder models.HolderRef) ([]*models.Reservation, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Reservation, error)
}

type reservationRepo struct {
	db Database
}

func NewReservationRepo(db Database) ReservationRepository {
	return &reservationRepo{db: db}
}

const reservationColumns = `id, stock_record_id, product_id, quantity, order_id, cart_id, reason, created_at,
		expires_at, released_at, is_released`

func scanReservation(row pgx.Row) (*models.Reservation, error) {
	res := &models.Reservation{}
	err := row.Scan(&res.ID, &res.StockRecordID, &res.ProductID, &res.Quantity, &res.Holder.OrderID,
		&res.Holder.CartID, &res.Reason, &res.CreatedAt, &res.ExpiresAt, &res.ReleasedAt, &res.IsReleased)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *reservationRepo) Create(ctx context.Context, res *models.Reservation) error {
	query := `
		INSERT INTO stock_reservations (id, stock_record_id, product_id, quantity, order_id, cart_id, reason,
			created_at, expires_at, is_released)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)
	`
	_, err := conn(ctx, r.db).Exec(ctx, query, res.ID, res.StockRecordID, res.ProductID, res.Quantity,
		res.Holder.OrderID, res.Holder.CartID, res.Reason, res.CreatedAt, res.ExpiresAt)
	return mapPgError(err)
}

func (r *reservationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM stock_reservations WHERE id = $1`
	res, err := scanReservation(conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "reservation", id)
	}
	return res, nil
}

func (r *reservationRepo) MarkReleased(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE stock_reservations
		SET is_released = TRUE, released_at = $1
		WHERE id = $2 AND is_released = FALSE
	`
	tag, err := conn(ctx, r.db).Exec(ctx, query, at, id)
	if err != nil {
		return false, mapPgError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *reservationRepo) ListActiveByHolder(ctx context.Context, holder models.HolderRef) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM stock_reservations
		WHERE is_released = FALSE AND (order_id = $1 OR cart_id = $2)
		ORDER BY created_at`
	return r.query(ctx, query, holder.OrderID, holder.CartID)
}

func (r *reservationRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM stock_reservations
		WHERE is_released = FALSE AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`
	return r.query(ctx, query, now, limit)
}

func (r *reservationRepo) query(ctx context.Context, query string, args ...interface{}) ([]*models.Reservation, error) {
	rows, err := conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var reservations []*models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, res)
	}
	return reservations, rows.Err()
}
