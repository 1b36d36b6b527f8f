package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
)

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// ErrDeviceNotFound is returned when a device id does not resolve to a
// registered device. Callers map it to a NotFound response; no ledger or
// channel side effects happen on this path.
var ErrDeviceNotFound = errors.New("device not found")

// ValidationError rejects an invalid device or control configuration before
// persistence.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const deviceColumns = `
	id, device_id, name, account_id,
	has_temperature_sensor, has_humidity_sensor,
	min_temp, max_temp, min_hum, max_hum,
	temperature, humidity, battery_level, wifi_strength,
	last_update, interval_local, interval_remote, firmware_version, created_at
`

func scanDevice(row pgx.Row) (*db.Device, error) {
	var d db.Device
	err := row.Scan(
		&d.ID,
		&d.DeviceID,
		&d.Name,
		&d.AccountID,
		&d.HasTemperatureSensor,
		&d.HasHumiditySensor,
		&d.MinTemp,
		&d.MaxTemp,
		&d.MinHum,
		&d.MaxHum,
		&d.Temperature,
		&d.Humidity,
		&d.BatteryLevel,
		&d.WifiStrength,
		&d.LastUpdate,
		&d.IntervalLocal,
		&d.IntervalRemote,
		&d.FirmwareVersion,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// NewDeviceParams holds the fields required to register a device.
type NewDeviceParams struct {
	DeviceID             string
	Name                 *string
	AccountID            uuid.UUID
	HasTemperatureSensor bool
	HasHumiditySensor    bool
	MinTemp              *float64
	MaxTemp              *float64
	MinHum               *float64
	MaxHum               *float64
	IntervalLocal        int
	IntervalRemote       int
	FirmwareVersion      string
}

func validateDeviceParams(p NewDeviceParams) error {
	if p.DeviceID == "" {
		return &ValidationError{Field: "device_id", Reason: "must not be empty"}
	}
	if p.IntervalLocal <= 0 || p.IntervalRemote <= 0 {
		return &ValidationError{Field: "interval", Reason: "report intervals must be positive"}
	}
	if p.IntervalRemote < p.IntervalLocal {
		return &ValidationError{Field: "interval_remote", Reason: "must be greater than or equal to interval_local"}
	}
	if p.HasTemperatureSensor && p.MinTemp != nil && p.MaxTemp != nil && *p.MinTemp >= *p.MaxTemp {
		return &ValidationError{Field: "min_temp", Reason: "must be less than max_temp"}
	}
	if p.HasHumiditySensor && p.MinHum != nil && p.MaxHum != nil && *p.MinHum >= *p.MaxHum {
		return &ValidationError{Field: "min_hum", Reason: "must be less than max_hum"}
	}
	return nil
}

// RegisterDevice creates a device together with its control state in a single
// transaction. The control row starts off with the relay off and no
// automation configured.
func (r *Repository) RegisterDevice(ctx context.Context, p NewDeviceParams) (*db.Device, error) {
	if err := validateDeviceParams(p); err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	firmware := p.FirmwareVersion
	if firmware == "" {
		firmware = "1.0.0"
	}

	insertQuery := `
		INSERT INTO devices (
			device_id, name, account_id,
			has_temperature_sensor, has_humidity_sensor,
			min_temp, max_temp, min_hum, max_hum,
			interval_local, interval_remote, firmware_version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + deviceColumns

	device, err := scanDevice(tx.QueryRow(ctx, insertQuery,
		p.DeviceID,
		p.Name,
		p.AccountID,
		p.HasTemperatureSensor,
		p.HasHumiditySensor,
		p.MinTemp,
		p.MaxTemp,
		p.MinHum,
		p.MaxHum,
		p.IntervalLocal,
		p.IntervalRemote,
		firmware,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO control_states (device_id) VALUES ($1)`, device.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create control state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return device, nil
}

// GetDevice retrieves a device by its external device id.
func (r *Repository) GetDevice(ctx context.Context, deviceID string) (*db.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = $1`

	device, err := scanDevice(r.pool.QueryRow(ctx, query, deviceID))
	if err == pgx.ErrNoRows {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return device, nil
}

// ListDevices returns every registered device.
func (r *Repository) ListDevices(ctx context.Context) ([]db.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY device_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []db.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return devices, nil
}

// CalibrationParams holds the writable device configuration fields.
type CalibrationParams struct {
	MinTemp        *float64
	MaxTemp        *float64
	MinHum         *float64
	MaxHum         *float64
	IntervalLocal  int
	IntervalRemote int
}

// UpdateCalibration replaces the calibration bounds and report intervals of a
// device after validating the configuration invariants.
func (r *Repository) UpdateCalibration(ctx context.Context, deviceID string, p CalibrationParams) (*db.Device, error) {
	device, err := r.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	check := NewDeviceParams{
		DeviceID:             device.DeviceID,
		HasTemperatureSensor: device.HasTemperatureSensor,
		HasHumiditySensor:    device.HasHumiditySensor,
		MinTemp:              p.MinTemp,
		MaxTemp:              p.MaxTemp,
		MinHum:               p.MinHum,
		MaxHum:               p.MaxHum,
		IntervalLocal:        p.IntervalLocal,
		IntervalRemote:       p.IntervalRemote,
	}
	if err := validateDeviceParams(check); err != nil {
		return nil, err
	}

	query := `
		UPDATE devices
		SET min_temp = $2, max_temp = $3, min_hum = $4, max_hum = $5,
		    interval_local = $6, interval_remote = $7
		WHERE device_id = $1
		RETURNING ` + deviceColumns

	updated, err := scanDevice(r.pool.QueryRow(ctx, query,
		deviceID, p.MinTemp, p.MaxTemp, p.MinHum, p.MaxHum, p.IntervalLocal, p.IntervalRemote,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to update calibration: %w", err)
	}
	return updated, nil
}

// TelemetryUpdate holds one inbound telemetry report.
type TelemetryUpdate struct {
	Temperature  *float64
	Humidity     *float64
	BatteryLevel *int
	WifiStrength *int
	RecordedAt   time.Time
}

// ApplyTelemetry updates the device's last reported values and appends a raw
// reading row in a single transaction. It returns the refreshed snapshot.
func (r *Repository) ApplyTelemetry(ctx context.Context, deviceID string, update TelemetryUpdate) (*db.Device, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE devices
		SET temperature   = COALESCE($2, temperature),
		    humidity      = COALESCE($3, humidity),
		    battery_level = COALESCE($4, battery_level),
		    wifi_strength = COALESCE($5, wifi_strength),
		    last_update   = $6
		WHERE device_id = $1
		RETURNING ` + deviceColumns

	device, err := scanDevice(tx.QueryRow(ctx, query,
		deviceID,
		update.Temperature,
		update.Humidity,
		update.BatteryLevel,
		update.WifiStrength,
		update.RecordedAt,
	))
	if err == pgx.ErrNoRows {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update telemetry: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO device_readings (device_id, temperature, humidity, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		device.ID, update.Temperature, update.Humidity, update.RecordedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reading: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return device, nil
}

// RecentReadings returns the most recent raw readings for a device, newest
// first.
func (r *Repository) RecentReadings(ctx context.Context, deviceID uuid.UUID, limit int) ([]db.DeviceReading, error) {
	query := `
		SELECT id, device_id, temperature, humidity, recorded_at
		FROM device_readings
		WHERE device_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []db.DeviceReading
	for rows.Next() {
		var reading db.DeviceReading
		if err := rows.Scan(&reading.ID, &reading.DeviceID, &reading.Temperature, &reading.Humidity, &reading.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return readings, nil
}
