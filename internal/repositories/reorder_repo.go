package repositories

import (
	"context"
	"errors"

	"stockledger/internal/common"
	"stockledger/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ReorderRepository interface {
	CreateSuggestion(ctx context.Context, s *models.ReorderSuggestion) error
	UpdateSuggestion(ctx context.Context, s *models.ReorderSuggestion) error
	GetSuggestion(ctx context.Context, id uuid.UUID) (*models.ReorderSuggestion, error)
	// FindActiveSuggestion returns the ACTIVE suggestion for productID or nil.
	FindActiveSuggestion(ctx context.Context, productID uuid.UUID) (*models.ReorderSuggestion, error)
	ListSuggestions(ctx context.Context, status models.SuggestionStatus, limit, offset int) ([]*models.ReorderSuggestion, error)

	CreateRequest(ctx context.Context, req *models.ReorderRequest) error
	// GetRequest loads a request with its history. forUpdate locks the row.
	GetRequest(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.ReorderRequest, error)
	UpdateRequest(ctx context.Context, req *models.ReorderRequest) error
	AppendHistory(ctx context.Context, entry *models.RequestHistoryEntry) error
	ListRequests(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.ReorderRequest, error)
}

type reorderRepo struct {
	db Database
}

func NewReorderRepo(db Database) ReorderRepository {
	return &reorderRepo{db: db}
}

const suggestionColumns = `id, product_id, supplier_id, status, priority, current_quantity, average_daily_sales,
		days_of_stock_left, lead_time_days, safety_days, recommended_quantity, unit_cost, estimated_cost, reason,
		created_at, updated_at`

func scanSuggestion(row pgx.Row) (*models.ReorderSuggestion, error) {
	s := &models.ReorderSuggestion{}
	err := row.Scan(&s.ID, &s.ProductID, &s.SupplierID, &s.Status, &s.Priority, &s.CurrentQuantity,
		&s.AverageDailySales, &s.DaysOfStockLeft, &s.LeadTimeDays, &s.SafetyDays, &s.RecommendedQuantity,
		&s.UnitCost, &s.EstimatedCost, &s.Reason, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *reorderRepo) CreateSuggestion(ctx context.Context, s *models.ReorderSuggestion) error {
	query := `
		INSERT INTO reorder_suggestions (` + suggestionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := conn(ctx, r.db).Exec(ctx, query, s.ID, s.ProductID, s.SupplierID, s.Status, s.Priority,
		s.CurrentQuantity, s.AverageDailySales, s.DaysOfStockLeft, s.LeadTimeDays, s.SafetyDays,
		s.RecommendedQuantity, s.UnitCost, s.EstimatedCost, s.Reason, s.CreatedAt, s.UpdatedAt)
	return mapPgError(err)
}

func (r *reorderRepo) UpdateSuggestion(ctx context.Context, s *models.ReorderSuggestion) error {
	query := `
		UPDATE reorder_suggestions
		SET supplier_id = $1, status = $2, priority = $3, current_quantity = $4, average_daily_sales = $5,
			days_of_stock_left = $6, lead_time_days = $7, safety_days = $8, recommended_quantity = $9,
			unit_cost = $10, estimated_cost = $11, reason = $12, updated_at = $13
		WHERE id = $14
	`
	tag, err := conn(ctx, r.db).Exec(ctx, query, s.SupplierID, s.Status, s.Priority, s.CurrentQuantity,
		s.AverageDailySales, s.DaysOfStockLeft, s.LeadTimeDays, s.SafetyDays, s.RecommendedQuantity, s.UnitCost,
		s.EstimatedCost, s.Reason, s.UpdatedAt, s.ID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFound("reorder suggestion", s.ID)
	}
	return nil
}

func (r *reorderRepo) GetSuggestion(ctx context.Context, id uuid.UUID) (*models.ReorderSuggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM reorder_suggestions WHERE id = $1`
	s, err := scanSuggestion(conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "reorder suggestion", id)
	}
	return s, nil
}

func (r *reorderRepo) FindActiveSuggestion(ctx context.Context, productID uuid.UUID) (*models.ReorderSuggestion, error) {
	query := `SELECT ` + suggestionColumns + `
		FROM reorder_suggestions
		WHERE product_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`
	s, err := scanSuggestion(conn(ctx, r.db).QueryRow(ctx, query, productID, models.SuggestionActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapPgError(err)
	}
	return s, nil
}

func (r *reorderRepo) ListSuggestions(ctx context.Context, status models.SuggestionStatus, limit, offset int) ([]*models.ReorderSuggestion, error) {
	query := `SELECT ` + suggestionColumns + `
		FROM reorder_suggestions
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := conn(ctx, r.db).Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var suggestions []*models.ReorderSuggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, s)
	}
	return suggestions, rows.Err()
}

const requestColumns = `id, suggestion_id, product_id, supplier_id, quantity, unit_cost, total_cost, status,
		requested_by, movement_id, created_at, updated_at`

func scanRequest(row pgx.Row) (*models.ReorderRequest, error) {
	req := &models.ReorderRequest{}
	err := row.Scan(&req.ID, &req.SuggestionID, &req.ProductID, &req.SupplierID, &req.Quantity, &req.UnitCost,
		&req.TotalCost, &req.Status, &req.RequestedBy, &req.MovementID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (r *reorderRepo) CreateRequest(ctx context.Context, req *models.ReorderRequest) error {
	query := `
		INSERT INTO reorder_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := conn(ctx, r.db).Exec(ctx, query, req.ID, req.SuggestionID, req.ProductID, req.SupplierID,
		req.Quantity, req.UnitCost, req.TotalCost, req.Status, req.RequestedBy, req.MovementID, req.CreatedAt,
		req.UpdatedAt)
	return mapPgError(err)
}

func (r *reorderRepo) GetRequest(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.ReorderRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM reorder_requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	db := conn(ctx, r.db)
	req, err := scanRequest(db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "reorder request", id)
	}

	rows, err := db.Query(ctx, `
		SELECT id, request_id, action, from_status, to_status, actor, notes, created_at
		FROM reorder_request_history
		WHERE request_id = $1
		ORDER BY created_at, id`, id)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var h models.RequestHistoryEntry
		if err := rows.Scan(&h.ID, &h.RequestID, &h.Action, &h.FromStatus, &h.ToStatus, &h.Actor, &h.Notes,
			&h.CreatedAt); err != nil {
			return nil, err
		}
		req.History = append(req.History, h)
	}
	return req, rows.Err()
}

func (r *reorderRepo) UpdateRequest(ctx context.Context, req *models.ReorderRequest) error {
	query := `
		UPDATE reorder_requests
		SET status = $1, movement_id = $2, updated_at = $3
		WHERE id = $4
	`
	tag, err := conn(ctx, r.db).Exec(ctx, query, req.Status, req.MovementID, req.UpdatedAt, req.ID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFound("reorder request", req.ID)
	}
	return nil
}

func (r *reorderRepo) AppendHistory(ctx context.Context, h *models.RequestHistoryEntry) error {
	query := `
		INSERT INTO reorder_request_history (id, request_id, action, from_status, to_status, actor, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := conn(ctx, r.db).Exec(ctx, query, h.ID, h.RequestID, h.Action, h.FromStatus, h.ToStatus, h.Actor,
		h.Notes, h.CreatedAt)
	return mapPgError(err)
}

func (r *reorderRepo) ListRequests(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.ReorderRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM reorder_requests
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := conn(ctx, r.db).Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var requests []*models.ReorderRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}
