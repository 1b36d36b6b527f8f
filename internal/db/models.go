package db

import (
	"time"

	"github.com/google/uuid"
)

// Device represents a registered data-logger device in the database.
type Device struct {
	ID                   uuid.UUID
	DeviceID             string
	Name                 *string
	AccountID            uuid.UUID
	HasTemperatureSensor bool
	HasHumiditySensor    bool
	MinTemp              *float64
	MaxTemp              *float64
	MinHum               *float64
	MaxHum               *float64
	Temperature          *float64
	Humidity             *float64
	BatteryLevel         *int
	WifiStrength         *int
	LastUpdate           *time.Time
	IntervalLocal        int // seconds between local (SD card) reports
	IntervalRemote       int // seconds between network reports, >= IntervalLocal
	FirmwareVersion      string
	CreatedAt            time.Time
}

// ControlState is the one-to-one actuation state for a device relay.
type ControlState struct {
	DeviceID             uuid.UUID
	Name                 string
	IsOn                 bool
	LastConfirmedState   bool
	AutoSchedule         bool
	AutoOn               *int // minutes since midnight
	AutoOff              *int
	TempControlEnabled   bool
	TempOnThreshold      *float64
	TempOffThreshold     *float64
	ControlPriority      string // fallback selector: "schedule" or "temp"
	AutoPauseUntil       *time.Time
	LastSeen             *time.Time
	PendingConfirmation  bool
	ConfirmationDeadline *time.Time
	UpdatedAt            time.Time
}

// FeaturePriority orders the automation features of a control.
// Lower priority values are evaluated first.
type FeaturePriority struct {
	DeviceID uuid.UUID
	Feature  string
	Priority int
}

// AnomalyRecord is one entry in the anomaly ledger. At most one unresolved
// record exists per (device, kind); the partial unique index in the schema
// enforces it.
type AnomalyRecord struct {
	ID         uuid.UUID
	DeviceID   uuid.UUID
	Kind       string
	Message    string
	OpenedAt   time.Time
	Resolved   bool
	ResolvedAt *time.Time
	Sent       bool
}

// DeviceReading is one row of raw telemetry history.
type DeviceReading struct {
	ID          int64
	DeviceID    uuid.UUID
	Temperature *float64
	Humidity    *float64
	RecordedAt  time.Time
}
