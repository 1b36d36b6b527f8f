package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
)

// OpenAnomaly inserts an unresolved record for (device, kind) if none exists.
// The insert races against the partial unique index rather than a prior
// existence check, so concurrent evaluations of the same device cannot
// produce duplicates. It reports whether a new record was created.
func (r *Repository) OpenAnomaly(ctx context.Context, deviceID uuid.UUID, kind, message string, now time.Time) (*db.AnomalyRecord, bool, error) {
	query := `
		INSERT INTO anomaly_records (device_id, kind, message, opened_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, kind) WHERE NOT resolved DO NOTHING
		RETURNING id, device_id, kind, message, opened_at, resolved, resolved_at, sent
	`

	var record db.AnomalyRecord
	err := r.pool.QueryRow(ctx, query, deviceID, kind, message, now).Scan(
		&record.ID,
		&record.DeviceID,
		&record.Kind,
		&record.Message,
		&record.OpenedAt,
		&record.Resolved,
		&record.ResolvedAt,
		&record.Sent,
	)
	if err == pgx.ErrNoRows {
		// An unresolved record already exists; nothing to do.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to open anomaly record: %w", err)
	}

	return &record, true, nil
}

// ResolveAnomaly closes the open record for (device, kind), if any. It
// reports whether a record was resolved.
func (r *Repository) ResolveAnomaly(ctx context.Context, deviceID uuid.UUID, kind string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE anomaly_records
		SET resolved = TRUE, resolved_at = $3
		WHERE device_id = $1 AND kind = $2 AND NOT resolved`,
		deviceID, kind, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve anomaly record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListAnomalies returns a device's anomaly records, newest first. With
// openOnly set, resolved records are filtered out.
func (r *Repository) ListAnomalies(ctx context.Context, deviceID uuid.UUID, openOnly bool, limit int) ([]db.AnomalyRecord, error) {
	query := `
		SELECT id, device_id, kind, message, opened_at, resolved, resolved_at, sent
		FROM anomaly_records
		WHERE device_id = $1 AND (NOT $2 OR NOT resolved)
		ORDER BY opened_at DESC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, deviceID, openOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomaly records: %w", err)
	}
	defer rows.Close()

	var records []db.AnomalyRecord
	for rows.Next() {
		var record db.AnomalyRecord
		if err := rows.Scan(
			&record.ID,
			&record.DeviceID,
			&record.Kind,
			&record.Message,
			&record.OpenedAt,
			&record.Resolved,
			&record.ResolvedAt,
			&record.Sent,
		); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// MarkAnomalySent flags a record after its notification was handed off.
func (r *Repository) MarkAnomalySent(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE anomaly_records SET sent = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark anomaly record sent: %w", err)
	}
	return nil
}
