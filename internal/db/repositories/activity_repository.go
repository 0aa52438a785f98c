// activity_repository.go implements ActivityRepository, providing database
// queries for writing and listing activity log rows with optional filters.
package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/garage-club/activity-logs/internal/db/models"
)

// ActivityRepository handles activity log database operations. The table
// name is supplied per call because it is configurable.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository creates a new ActivityRepository
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Create inserts record and fills in the database-generated id and created_at
func (r *ActivityRepository) Create(ctx context.Context, table string, record *models.ActivityLog) error {
	record.Normalize()

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, username, action, entity_type, entity_id, details, ip_address)
		VALUES (:user_id, :username, :action, :entity_type, :entity_id, :details, :ip_address)
		RETURNING id, created_at
	`, pq.QuoteIdentifier(table))

	query, args, err := r.db.BindNamed(query, record)
	if err != nil {
		return fmt.Errorf("failed to bind activity log: %w", err)
	}

	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&record.ID, &record.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

// List retrieves activity logs with optional filters and pagination, and the
// total number of rows matching the filters.
func (r *ActivityRepository) List(ctx context.Context, table string, filters models.ActivityFilters) ([]*models.ActivityLog, int, error) {
	var where []string
	args := make([]interface{}, 0)

	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filters.UserID != "" {
		add("user_id = $%d", filters.UserID)
	}
	if filters.Action != "" {
		add("action = $%d", strings.ToUpper(filters.Action))
	}
	if filters.EntityType != "" {
		add("entity_type = $%d", strings.ToUpper(filters.EntityType))
	}
	if filters.EntityID != "" {
		add("entity_id = $%d", filters.EntityID)
	}
	if filters.FromDate != nil {
		add("created_at >= $%d", *filters.FromDate)
	}
	if filters.ToDate != nil {
		add("created_at <= $%d", *filters.ToDate)
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}
	quoted := pq.QuoteIdentifier(table)

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM `+quoted+whereSQL, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count activity logs: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, user_id, username, action, entity_type, entity_id, details, ip_address, created_at FROM %s%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		quoted, whereSQL, len(args)+1, len(args)+2,
	)
	args = append(args, filters.EffectiveLimit(), filters.Offset)

	logs := make([]*models.ActivityLog, 0)
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list activity logs: %w", err)
	}
	return logs, total, nil
}
