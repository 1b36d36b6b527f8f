package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/policy"
)

const controlColumns = `
	device_id, name, is_on, last_confirmed_state,
	auto_schedule, auto_on, auto_off,
	temp_control_enabled, temp_on_threshold, temp_off_threshold,
	control_priority, auto_pause_until, last_seen,
	pending_confirmation, confirmation_deadline, updated_at
`

func scanControl(row pgx.Row) (*db.ControlState, error) {
	var c db.ControlState
	err := row.Scan(
		&c.DeviceID,
		&c.Name,
		&c.IsOn,
		&c.LastConfirmedState,
		&c.AutoSchedule,
		&c.AutoOn,
		&c.AutoOff,
		&c.TempControlEnabled,
		&c.TempOnThreshold,
		&c.TempOffThreshold,
		&c.ControlPriority,
		&c.AutoPauseUntil,
		&c.LastSeen,
		&c.PendingConfirmation,
		&c.ConfirmationDeadline,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetControl retrieves the control state for a device by its external id.
func (r *Repository) GetControl(ctx context.Context, deviceID string) (*db.ControlState, error) {
	query := `
		SELECT ` + controlColumns + `
		FROM control_states
		WHERE device_id = (SELECT id FROM devices WHERE device_id = $1)
	`

	control, err := scanControl(r.pool.QueryRow(ctx, query, deviceID))
	if err == pgx.ErrNoRows {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query control state: %w", err)
	}
	return control, nil
}

// GetControlByID retrieves the control state by the device's internal id.
func (r *Repository) GetControlByID(ctx context.Context, id uuid.UUID) (*db.ControlState, error) {
	query := `SELECT ` + controlColumns + ` FROM control_states WHERE device_id = $1`

	control, err := scanControl(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query control state: %w", err)
	}
	return control, nil
}

// lockControl reads the control row FOR UPDATE inside tx. Every read-modify-
// write of a control state goes through this lock so the ingest consumer, the
// MQTT state listener and the reconciliation loop cannot overwrite each other.
func lockControl(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*db.ControlState, error) {
	query := `SELECT ` + controlColumns + ` FROM control_states WHERE device_id = $1 FOR UPDATE`

	control, err := scanControl(tx.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock control state: %w", err)
	}
	return control, nil
}

func (r *Repository) withControlLock(ctx context.Context, deviceID string, fn func(tx pgx.Tx, control *db.ControlState) error) (*db.ControlState, error) {
	device, err := r.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return r.withControlLockByID(ctx, device.ID, fn)
}

func (r *Repository) withControlLockByID(ctx context.Context, id uuid.UUID, fn func(tx pgx.Tx, control *db.ControlState) error) (*db.ControlState, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	control, err := lockControl(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := fn(tx, control); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return control, nil
}

func saveControl(ctx context.Context, tx pgx.Tx, c *db.ControlState, now time.Time) error {
	c.UpdatedAt = now
	_, err := tx.Exec(ctx, `
		UPDATE control_states
		SET is_on = $2, last_confirmed_state = $3,
		    auto_schedule = $4, auto_on = $5, auto_off = $6,
		    temp_control_enabled = $7, temp_on_threshold = $8, temp_off_threshold = $9,
		    control_priority = $10, auto_pause_until = $11, last_seen = $12,
		    pending_confirmation = $13, confirmation_deadline = $14, updated_at = $15
		WHERE device_id = $1`,
		c.DeviceID, c.IsOn, c.LastConfirmedState,
		c.AutoSchedule, c.AutoOn, c.AutoOff,
		c.TempControlEnabled, c.TempOnThreshold, c.TempOffThreshold,
		c.ControlPriority, c.AutoPauseUntil, c.LastSeen,
		c.PendingConfirmation, c.ConfirmationDeadline, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update control state: %w", err)
	}
	return nil
}

// ApplyStateReport records a device-reported relay state. The report counts
// as an external override: automation is paused for the configured window and
// any pending confirmation is settled by the reported value.
func (r *Repository) ApplyStateReport(ctx context.Context, deviceID string, isOn bool, now time.Time, pause time.Duration) (*db.ControlState, error) {
	return r.withControlLock(ctx, deviceID, func(tx pgx.Tx, c *db.ControlState) error {
		c.IsOn = isOn
		c.LastConfirmedState = isOn
		c.LastSeen = &now
		pauseUntil := now.Add(pause)
		c.AutoPauseUntil = &pauseUntil
		c.PendingConfirmation = false
		c.ConfirmationDeadline = nil
		return saveControl(ctx, tx, c, now)
	})
}

// ApplyManualToggle flips the relay on behalf of an operator and pauses
// automation, sharing the override mechanism with device-originated changes.
func (r *Repository) ApplyManualToggle(ctx context.Context, deviceID string, now time.Time, pause time.Duration) (*db.ControlState, error) {
	return r.withControlLock(ctx, deviceID, func(tx pgx.Tx, c *db.ControlState) error {
		c.IsOn = !c.IsOn
		c.LastConfirmedState = c.IsOn
		pauseUntil := now.Add(pause)
		c.AutoPauseUntil = &pauseUntil
		return saveControl(ctx, tx, c, now)
	})
}

// MarkCommandSent records an automation command publish: the desired state is
// adopted optimistically and the confirmation handshake opens with a deadline.
func (r *Repository) MarkCommandSent(ctx context.Context, id uuid.UUID, desired bool, now time.Time, confirmTimeout time.Duration) (*db.ControlState, error) {
	return r.withControlLockByID(ctx, id, func(tx pgx.Tx, c *db.ControlState) error {
		c.IsOn = desired
		c.PendingConfirmation = true
		deadline := now.Add(confirmTimeout)
		c.ConfirmationDeadline = &deadline
		return saveControl(ctx, tx, c, now)
	})
}

// ExpireControlWindows clears a passed auto-pause window and reverts an
// unconfirmed command whose deadline has passed, so the next sweep can decide
// again from the last confirmed state. It reports which windows expired.
func (r *Repository) ExpireControlWindows(ctx context.Context, id uuid.UUID, now time.Time) (control *db.ControlState, pauseCleared, confirmExpired bool, err error) {
	control, err = r.withControlLockByID(ctx, id, func(tx pgx.Tx, c *db.ControlState) error {
		changed := false
		if c.AutoPauseUntil != nil && !now.Before(*c.AutoPauseUntil) {
			c.AutoPauseUntil = nil
			pauseCleared = true
			changed = true
		}
		if c.PendingConfirmation && c.ConfirmationDeadline != nil && now.After(*c.ConfirmationDeadline) {
			c.PendingConfirmation = false
			c.ConfirmationDeadline = nil
			c.IsOn = c.LastConfirmedState
			confirmExpired = true
			changed = true
		}
		if !changed {
			return nil
		}
		return saveControl(ctx, tx, c, now)
	})
	return control, pauseCleared, confirmExpired, err
}

// ScheduleParams holds the writable auto-schedule fields.
type ScheduleParams struct {
	Enabled bool
	AutoOn  *int
	AutoOff *int
}

// UpdateSchedule replaces the auto-schedule settings of a control.
func (r *Repository) UpdateSchedule(ctx context.Context, deviceID string, p ScheduleParams, now time.Time) (*db.ControlState, error) {
	if p.AutoOn != nil && p.AutoOff != nil && *p.AutoOn > *p.AutoOff {
		return nil, &ValidationError{Field: "auto_on", Reason: "must not be later than auto_off (windows do not wrap past midnight)"}
	}
	return r.withControlLock(ctx, deviceID, func(tx pgx.Tx, c *db.ControlState) error {
		c.AutoSchedule = p.Enabled
		c.AutoOn = p.AutoOn
		c.AutoOff = p.AutoOff
		return saveControl(ctx, tx, c, now)
	})
}

// ThresholdParams holds the writable temperature-control fields.
type ThresholdParams struct {
	Enabled      bool
	OnThreshold  *float64
	OffThreshold *float64
}

// UpdateThresholds replaces the temperature-control settings of a control.
func (r *Repository) UpdateThresholds(ctx context.Context, deviceID string, p ThresholdParams, now time.Time) (*db.ControlState, error) {
	if p.OnThreshold != nil && p.OffThreshold != nil && *p.OnThreshold <= *p.OffThreshold {
		return nil, &ValidationError{Field: "temp_on_threshold", Reason: "must be greater than temp_off_threshold"}
	}
	return r.withControlLock(ctx, deviceID, func(tx pgx.Tx, c *db.ControlState) error {
		c.TempControlEnabled = p.Enabled
		c.TempOnThreshold = p.OnThreshold
		c.TempOffThreshold = p.OffThreshold
		return saveControl(ctx, tx, c, now)
	})
}

// UpdatePrioritySelector sets the single-feature fallback selector.
func (r *Repository) UpdatePrioritySelector(ctx context.Context, deviceID string, selector string, now time.Time) (*db.ControlState, error) {
	if selector != policy.PrioritySchedule && selector != policy.PriorityTemp {
		return nil, &ValidationError{Field: "control_priority", Reason: "must be 'schedule' or 'temp'"}
	}
	return r.withControlLock(ctx, deviceID, func(tx pgx.Tx, c *db.ControlState) error {
		c.ControlPriority = selector
		return saveControl(ctx, tx, c, now)
	})
}

// ListPriorities returns the feature priority list in ascending order.
func (r *Repository) ListPriorities(ctx context.Context, id uuid.UUID) ([]db.FeaturePriority, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT device_id, feature, priority
		FROM feature_priorities
		WHERE device_id = $1
		ORDER BY priority`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature priorities: %w", err)
	}
	defer rows.Close()

	var priorities []db.FeaturePriority
	for rows.Next() {
		var fp db.FeaturePriority
		if err := rows.Scan(&fp.DeviceID, &fp.Feature, &fp.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan feature priority: %w", err)
		}
		priorities = append(priorities, fp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return priorities, nil
}

// ReplacePriorities swaps the entire feature priority list in one
// transaction.
func (r *Repository) ReplacePriorities(ctx context.Context, deviceID string, priorities []db.FeaturePriority) error {
	for _, fp := range priorities {
		if fp.Feature != policy.FeatureTempControl && fp.Feature != policy.FeatureAutoSchedule {
			return &ValidationError{Field: "feature", Reason: fmt.Sprintf("unknown automation feature %q", fp.Feature)}
		}
	}

	device, err := r.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM feature_priorities WHERE device_id = $1`, device.ID); err != nil {
		return fmt.Errorf("failed to clear feature priorities: %w", err)
	}

	for _, fp := range priorities {
		_, err := tx.Exec(ctx, `
			INSERT INTO feature_priorities (device_id, feature, priority)
			VALUES ($1, $2, $3)`,
			device.ID, fp.Feature, fp.Priority,
		)
		if err != nil {
			return fmt.Errorf("failed to insert feature priority: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
