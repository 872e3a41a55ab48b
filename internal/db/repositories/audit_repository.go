// audit_repository.go implements AuditRepository, providing database queries for appending
// and retrieving audit entries with support for filtered, paginated reads, timeframe
// aggregation, and retention deletes.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/audit-sentinel/audit-sentinel/internal/db/models"
)

// ErrNotFound is returned when a requested audit entry does not exist.
var ErrNotFound = errors.New("audit entry not found")

// AuditRepository handles audit trail database operations. The trail is
// append-only: there is no update path, and rows leave the table only through
// DeleteBefore (retention cleanup).
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit entries
type AuditFilters struct {
	ActorID    *string
	Action     *models.Action
	TargetID   *string
	DateFrom   *time.Time
	DateTo     *time.Time
	SearchTerm *string
}

// ActionCount is the per-action slice of a stats breakdown.
type ActionCount struct {
	Action models.Action `json:"action"`
	Count  int64         `json:"count"`
}

// AuditStats aggregates the trail over a timeframe.
type AuditStats struct {
	TotalEvents        int64         `json:"total_events"`
	SuspiciousActivity int64         `json:"suspicious_activity"`
	FailedLogins       int64         `json:"failed_logins"`
	BreakdownByAction  []ActionCount `json:"breakdown_by_action"`
}

// Create appends a new audit entry. The entry's ID and CreatedAt are generated
// here when unset so callers cannot accidentally reuse identifiers.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	// Marshal metadata to JSONB
	var metadataJSON []byte
	var err error
	if entry.Metadata != nil {
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_entries (id, actor_id, action, target_id, ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ActorID,
		entry.Action,
		entry.TargetID,
		entry.IPAddress,
		metadataJSON,
		entry.CreatedAt,
	)

	return err
}

// List retrieves audit entries with optional filters and pagination, ordered
// newest-first by created_at. It returns the page, the total number of
// matching entries, and whether more pages follow.
func (r *AuditRepository) List(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditEntry, int, bool, error) {
	countQuery := `SELECT COUNT(*) FROM audit_entries WHERE 1=1`
	query := `
		SELECT id, actor_id, action, target_id, ip_address, metadata, created_at
		FROM audit_entries
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	addFilter := func(clause string, value interface{}) {
		cond := fmt.Sprintf(clause, paramIndex)
		countQuery += cond
		query += cond
		args = append(args, value)
		paramIndex++
	}

	if filters.ActorID != nil {
		addFilter(` AND actor_id = $%d`, *filters.ActorID)
	}
	if filters.Action != nil {
		addFilter(` AND action = $%d`, *filters.Action)
	}
	if filters.TargetID != nil {
		addFilter(` AND target_id = $%d`, *filters.TargetID)
	}
	if filters.DateFrom != nil {
		addFilter(` AND created_at >= $%d`, *filters.DateFrom)
	}
	if filters.DateTo != nil {
		addFilter(` AND created_at <= $%d`, *filters.DateTo)
	}
	if filters.SearchTerm != nil && *filters.SearchTerm != "" {
		pattern := "%" + *filters.SearchTerm + "%"
		cond := fmt.Sprintf(
			` AND (actor_id ILIKE $%d OR action ILIKE $%d OR COALESCE(target_id, '') ILIKE $%d OR COALESCE(metadata::text, '') ILIKE $%d)`,
			paramIndex, paramIndex, paramIndex, paramIndex)
		countQuery += cond
		query += cond
		args = append(args, pattern)
		paramIndex++
	}

	// Get total count
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, false, err
	}

	// Add ordering and pagination
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, false, err
	}
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, false, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, false, err
	}

	hasMore := offset+limit < total
	return entries, total, hasMore, nil
}

// GetByID retrieves a single audit entry, returning ErrNotFound when no row matches.
func (r *AuditRepository) GetByID(ctx context.Context, id string) (*models.AuditEntry, error) {
	query := `
		SELECT id, actor_id, action, target_id, ip_address, metadata, created_at
		FROM audit_entries
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListBefore returns all entries older than cutoff, oldest-first. Used by
// retention cleanup to archive entries before deleting them.
func (r *AuditRepository) ListBefore(ctx context.Context, cutoff time.Time) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, actor_id, action, target_id, ip_address, metadata, created_at
		FROM audit_entries
		WHERE created_at < $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// DeleteBefore removes all entries older than cutoff and reports how many rows
// were deleted. Calling it twice with the same cutoff deletes nothing the
// second time.
func (r *AuditRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Stats aggregates the trail since the given time: total entries, suspicious
// activity count, failed login count, and a per-action breakdown.
func (r *AuditRepository) Stats(ctx context.Context, since time.Time) (*AuditStats, error) {
	stats := &AuditStats{BreakdownByAction: make([]ActionCount, 0)}

	query := `
		SELECT action, COUNT(*) AS count
		FROM audit_entries
		WHERE created_at >= $1
		GROUP BY action
		ORDER BY count DESC
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ac ActionCount
		if err := rows.Scan(&ac.Action, &ac.Count); err != nil {
			return nil, err
		}
		stats.BreakdownByAction = append(stats.BreakdownByAction, ac)
		stats.TotalEvents += ac.Count
		switch ac.Action {
		case models.ActionSuspiciousActivity:
			stats.SuspiciousActivity = ac.Count
		case models.ActionFailedLogin:
			stats.FailedLogins = ac.Count
		}
	}
	return stats, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.AuditEntry, error) {
	entry := &models.AuditEntry{}
	var metadataJSON []byte

	err := row.Scan(
		&entry.ID,
		&entry.ActorID,
		&entry.Action,
		&entry.TargetID,
		&entry.IPAddress,
		&metadataJSON,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if metadataJSON != nil {
		entry.Metadata = &models.Metadata{}
		if err := json.Unmarshal(metadataJSON, entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for entry %s: %w", entry.ID, err)
		}
	}

	return entry, nil
}
