// Package events defines the domain events emitted after ledger and control
// mutations. The worker publishes them to the events exchange; the
// notification dispatcher and the live-update broadcaster are external
// consumers of that exchange.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/status"
)

// Kind doubles as the routing key on the events exchange.
type Kind string

const (
	AnomalyOpened   Kind = "anomaly.opened"
	AnomalyResolved Kind = "anomaly.resolved"
	DeviceUpdated   Kind = "device.updated"
	ControlChanged  Kind = "control.changed"
)

// Event is one domain event. GroupKey identifies the subscriber group the
// broadcaster fans out to (the owning account).
type Event struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	GroupKey   string         `json:"group_key"`
	DeviceID   string         `json:"device_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

func newEvent(kind Kind, device *db.Device, occurredAt time.Time, payload map[string]any) Event {
	return Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		GroupKey:   "account." + device.AccountID.String(),
		DeviceID:   device.DeviceID,
		OccurredAt: occurredAt,
		Payload:    payload,
	}
}

// NewAnomalyOpened describes a freshly opened anomaly record. The
// notification dispatcher emails the owning account's recipients for it.
func NewAnomalyOpened(device *db.Device, record db.AnomalyRecord) Event {
	return newEvent(AnomalyOpened, device, record.OpenedAt, map[string]any{
		"record_id": record.ID.String(),
		"condition": record.Kind,
		"message":   record.Message,
	})
}

// NewAnomalyResolved describes a condition clearing. No notification is sent
// for resolutions; subscribers only update their views.
func NewAnomalyResolved(device *db.Device, kind status.Kind, occurredAt time.Time) Event {
	return newEvent(AnomalyResolved, device, occurredAt, map[string]any{
		"condition": string(kind),
	})
}

// NewDeviceUpdated describes a telemetry-driven registry update.
func NewDeviceUpdated(device *db.Device, derived status.Status, occurredAt time.Time) Event {
	payload := map[string]any{
		"status":        string(derived),
		"battery_level": device.BatteryLevel,
	}
	if device.HasTemperatureSensor {
		payload["temperature"] = device.Temperature
	}
	if device.HasHumiditySensor {
		payload["humidity"] = device.Humidity
	}
	return newEvent(DeviceUpdated, device, occurredAt, payload)
}

// NewControlChanged describes a relay state or control settings mutation.
func NewControlChanged(device *db.Device, control *db.ControlState, origin string, occurredAt time.Time) Event {
	return newEvent(ControlChanged, device, occurredAt, map[string]any{
		"is_on":                control.IsOn,
		"last_confirmed_state": control.LastConfirmedState,
		"pending_confirmation": control.PendingConfirmation,
		"origin":               origin,
	})
}
