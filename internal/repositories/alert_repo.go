package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockledger/internal/common"
	"stockledger/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type AlertRepository interface {
	Create(ctx context.Context, alert *models.StockAlert) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.StockAlert, error)
	// FindRecent returns the newest alert for (productID, type) created at or
	// after since, or nil when there is none.
	FindRecent(ctx context.Context, productID uuid.UUID, alertType models.AlertType, since time.Time) (*models.StockAlert, error)
	UpdateState(ctx context.Context, alert *models.StockAlert) error
	List(ctx context.Context, filter models.AlertFilter) ([]*models.StockAlert, error)

	SaveConfiguration(ctx context.Context, cfg *models.AlertConfiguration) error
	GetConfiguration(ctx context.Context, id uuid.UUID) (*models.AlertConfiguration, error)
	ListActiveConfigurations(ctx context.Context) ([]*models.AlertConfiguration, error)
}

type alertRepo struct {
	db Database
}

func NewAlertRepo(db Database) AlertRepository {
	return &alertRepo{db: db}
}

const alertColumns = `id, product_id, type, severity, message, is_read, is_acknowledged, is_dismissed, read_by,
		read_at, acknowledged_by, acknowledged_at, dismissed_by, dismissed_at, metadata, created_at, updated_at`

func scanAlert(row pgx.Row) (*models.StockAlert, error) {
	a := &models.StockAlert{}
	err := row.Scan(&a.ID, &a.ProductID, &a.Type, &a.Severity, &a.Message, &a.IsRead, &a.IsAcknowledged,
		&a.IsDismissed, &a.ReadBy, &a.ReadAt, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.DismissedBy,
		&a.DismissedAt, &a.Metadata, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *alertRepo) Create(ctx context.Context, a *models.StockAlert) error {
	query := `
		INSERT INTO stock_alerts (id, product_id, type, severity, message, is_read, is_acknowledged, is_dismissed,
			metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, FALSE, FALSE, $6, $7, $7)
	`
	_, err := conn(ctx, r.db).Exec(ctx, query, a.ID, a.ProductID, a.Type, a.Severity, a.Message, a.Metadata, a.CreatedAt)
	return mapPgError(err)
}

func (r *alertRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.StockAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM stock_alerts WHERE id = $1`
	a, err := scanAlert(conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "alert", id)
	}
	return a, nil
}

func (r *alertRepo) FindRecent(ctx context.Context, productID uuid.UUID, alertType models.AlertType, since time.Time) (*models.StockAlert, error) {
	query := `SELECT ` + alertColumns + `
		FROM stock_alerts
		WHERE product_id = $1 AND type = $2 AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1`
	a, err := scanAlert(conn(ctx, r.db).QueryRow(ctx, query, productID, alertType, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapPgError(err)
	}
	return a, nil
}

func (r *alertRepo) UpdateState(ctx context.Context, a *models.StockAlert) error {
	query := `
		UPDATE stock_alerts
		SET is_read = $1, is_acknowledged = $2, is_dismissed = $3, read_by = $4, read_at = $5,
			acknowledged_by = $6, acknowledged_at = $7, dismissed_by = $8, dismissed_at = $9, updated_at = $10
		WHERE id = $11
	`
	tag, err := conn(ctx, r.db).Exec(ctx, query, a.IsRead, a.IsAcknowledged, a.IsDismissed, a.ReadBy, a.ReadAt,
		a.AcknowledgedBy, a.AcknowledgedAt, a.DismissedBy, a.DismissedAt, a.UpdatedAt, a.ID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFound("alert", a.ID)
	}
	return nil
}

func (r *alertRepo) List(ctx context.Context, filter models.AlertFilter) ([]*models.StockAlert, error) {
	limit, offset, err := common.ValidatePaginationParams(filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}

	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.ProductID != nil {
		conditions = append(conditions, fmt.Sprintf("product_id = $%d", argIndex))
		args = append(args, *filter.ProductID)
		argIndex++
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		conditions = append(conditions, fmt.Sprintf("type = ANY($%d)", argIndex))
		args = append(args, types)
		argIndex++
	}
	if filter.MinSeverity != nil {
		var severities []string
		for _, s := range []models.Severity{models.SeverityInfo, models.SeverityLow, models.SeverityMedium,
			models.SeverityHigh, models.SeverityCritical, models.SeverityUrgent} {
			if s.AtLeast(*filter.MinSeverity) {
				severities = append(severities, string(s))
			}
		}
		conditions = append(conditions, fmt.Sprintf("severity = ANY($%d)", argIndex))
		args = append(args, severities)
		argIndex++
	}
	if !filter.IncludeDismissed {
		conditions = append(conditions, "is_dismissed = FALSE")
	}
	if filter.UnreadOnly {
		conditions = append(conditions, "is_read = FALSE")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(`SELECT %s FROM stock_alerts %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		alertColumns, where, argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var alerts []*models.StockAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

const alertConfigColumns = `id, owner_id, name, enabled_types, min_severity, use_custom_thresholds,
		low_stock_threshold, critical_stock_threshold, channels, respect_business_hours, timezone, business_days,
		business_hours_start, business_hours_end, max_per_hour, max_per_day, product_ids, category_ids, is_active,
		created_at, updated_at`

func (r *alertRepo) SaveConfiguration(ctx context.Context, c *models.AlertConfiguration) error {
	query := `
		INSERT INTO alert_configurations (` + alertConfigColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id, name = EXCLUDED.name, enabled_types = EXCLUDED.enabled_types,
			min_severity = EXCLUDED.min_severity, use_custom_thresholds = EXCLUDED.use_custom_thresholds,
			low_stock_threshold = EXCLUDED.low_stock_threshold,
			critical_stock_threshold = EXCLUDED.critical_stock_threshold, channels = EXCLUDED.channels,
			respect_business_hours = EXCLUDED.respect_business_hours, timezone = EXCLUDED.timezone,
			business_days = EXCLUDED.business_days, business_hours_start = EXCLUDED.business_hours_start,
			business_hours_end = EXCLUDED.business_hours_end, max_per_hour = EXCLUDED.max_per_hour,
			max_per_day = EXCLUDED.max_per_day, product_ids = EXCLUDED.product_ids,
			category_ids = EXCLUDED.category_ids, is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at
	`
	_, err := conn(ctx, r.db).Exec(ctx, query, c.ID, c.OwnerID, c.Name, alertTypeStrings(c.EnabledTypes),
		c.MinSeverity, c.UseCustomThresholds, c.LowStockThreshold, c.CriticalStockThreshold, c.Channels,
		c.RespectBusinessHours, c.Timezone, weekdayInts(c.BusinessDays), c.BusinessHoursStart, c.BusinessHoursEnd,
		c.MaxPerHour, c.MaxPerDay, uuidStrings(c.ProductIDs), uuidStrings(c.CategoryIDs), c.IsActive,
		c.CreatedAt, c.UpdatedAt)
	return mapPgError(err)
}

func scanAlertConfiguration(row pgx.Row) (*models.AlertConfiguration, error) {
	c := &models.AlertConfiguration{}
	var enabledTypes, productIDs, categoryIDs []string
	var businessDays []int32
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &enabledTypes, &c.MinSeverity, &c.UseCustomThresholds,
		&c.LowStockThreshold, &c.CriticalStockThreshold, &c.Channels, &c.RespectBusinessHours, &c.Timezone,
		&businessDays, &c.BusinessHoursStart, &c.BusinessHoursEnd, &c.MaxPerHour, &c.MaxPerDay, &productIDs,
		&categoryIDs, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	for _, t := range enabledTypes {
		c.EnabledTypes = append(c.EnabledTypes, models.AlertType(t))
	}
	for _, d := range businessDays {
		c.BusinessDays = append(c.BusinessDays, time.Weekday(d))
	}
	if c.ProductIDs, err = parseUUIDs(productIDs); err != nil {
		return nil, err
	}
	if c.CategoryIDs, err = parseUUIDs(categoryIDs); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *alertRepo) GetConfiguration(ctx context.Context, id uuid.UUID) (*models.AlertConfiguration, error) {
	query := `SELECT ` + alertConfigColumns + ` FROM alert_configurations WHERE id = $1`
	c, err := scanAlertConfiguration(conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "alert configuration", id)
	}
	return c, nil
}

func (r *alertRepo) ListActiveConfigurations(ctx context.Context) ([]*models.AlertConfiguration, error) {
	query := `SELECT ` + alertConfigColumns + ` FROM alert_configurations WHERE is_active = TRUE ORDER BY created_at`
	rows, err := conn(ctx, r.db).Query(ctx, query)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var configs []*models.AlertConfiguration
	for rows.Next() {
		c, err := scanAlertConfiguration(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func alertTypeStrings(types []models.AlertType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func weekdayInts(days []time.Weekday) []int32 {
	out := make([]int32, len(days))
	for i, d := range days {
		out[i] = int32(d)
	}
	return out
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("parse uuid %q: %w", v, err)
		}
		out = append(out, id)
	}
	return out, nil
}
