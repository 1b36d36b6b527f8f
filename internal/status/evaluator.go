package status

import (
	"fmt"
	"time"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
)

// Status is the derived health of a device.
type Status string

const (
	Working Status = "working"
	Error   Status = "error"
	Offline Status = "offline"
)

// Kind names a monitored abnormal condition.
type Kind string

const (
	KindOffline          Kind = "offline"
	KindHighTemperature  Kind = "high_temperature"
	KindLowTemperature   Kind = "low_temperature"
	KindTemperatureFault Kind = "temperature_fault"
	KindHighHumidity     Kind = "high_humidity"
	KindLowHumidity      Kind = "low_humidity"
	KindHumidityFault    Kind = "humidity_fault"
	KindLowBattery       Kind = "low_battery"
)

// Condition is one abnormal observation on a device.
type Condition struct {
	Kind    Kind
	Message string
}

// Sensor fault sentinels reported by the DS18B20 probe firmware.
const (
	tempFaultDisconnected = -127.0
	tempFaultShorted      = 80.0
)

// Evaluator derives device status from a snapshot and the current time.
// It holds only fixed thresholds, so the same (device, now) input always
// produces the same output.
type Evaluator struct {
	offlineGrace        time.Duration
	lowBatteryThreshold int
}

// NewEvaluator creates an evaluator with the given offline grace period and
// low-battery percentage threshold.
func NewEvaluator(offlineGrace time.Duration, lowBatteryThreshold int) *Evaluator {
	return &Evaluator{
		offlineGrace:        offlineGrace,
		lowBatteryThreshold: lowBatteryThreshold,
	}
}

// Evaluate returns the device status at the given instant.
func (e *Evaluator) Evaluate(device *db.Device, now time.Time) Status {
	conditions := e.Conditions(device, now)
	for _, c := range conditions {
		if c.Kind == KindOffline {
			return Offline
		}
	}
	if len(conditions) > 0 {
		return Error
	}
	return Working
}

// Conditions returns every abnormal condition that currently holds for the
// device. Only sensors the device declares are inspected; unset calibration
// bounds disable the corresponding comparison.
func (e *Evaluator) Conditions(device *db.Device, now time.Time) []Condition {
	var conditions []Condition

	if e.isStale(device, now) {
		conditions = append(conditions, Condition{
			Kind:    KindOffline,
			Message: fmt.Sprintf("device %s is offline", device.DeviceID),
		})
	}

	if device.HasTemperatureSensor {
		conditions = append(conditions, e.temperatureConditions(device)...)
	}
	if device.HasHumiditySensor {
		conditions = append(conditions, e.humidityConditions(device)...)
	}

	if device.BatteryLevel == nil {
		conditions = append(conditions, Condition{
			Kind:    KindLowBattery,
			Message: "battery level not reported",
		})
	} else if *device.BatteryLevel < e.lowBatteryThreshold {
		conditions = append(conditions, Condition{
			Kind:    KindLowBattery,
			Message: fmt.Sprintf("battery at %d%%, below %d%%", *device.BatteryLevel, e.lowBatteryThreshold),
		})
	}

	return conditions
}

func (e *Evaluator) isStale(device *db.Device, now time.Time) bool {
	if device.LastUpdate == nil {
		return true
	}
	window := time.Duration(device.IntervalRemote)*time.Second + e.offlineGrace
	return now.Sub(*device.LastUpdate) >= window
}

func (e *Evaluator) temperatureConditions(device *db.Device) []Condition {
	if device.Temperature == nil {
		return []Condition{{
			Kind:    KindTemperatureFault,
			Message: "temperature reading missing",
		}}
	}

	t := *device.Temperature
	if t == tempFaultDisconnected || t == tempFaultShorted {
		return []Condition{{
			Kind:    KindTemperatureFault,
			Message: fmt.Sprintf("temperature sensor fault value %.1f", t),
		}}
	}

	var conditions []Condition
	if device.MaxTemp != nil && t > *device.MaxTemp {
		conditions = append(conditions, Condition{
			Kind:    KindHighTemperature,
			Message: fmt.Sprintf("temperature %.1f above maximum %.1f", t, *device.MaxTemp),
		})
	}
	if device.MinTemp != nil && t < *device.MinTemp {
		conditions = append(conditions, Condition{
			Kind:    KindLowTemperature,
			Message: fmt.Sprintf("temperature %.1f below minimum %.1f", t, *device.MinTemp),
		})
	}
	return conditions
}

func (e *Evaluator) humidityConditions(device *db.Device) []Condition {
	if device.Humidity == nil {
		return []Condition{{
			Kind:    KindHumidityFault,
			Message: "humidity reading missing",
		}}
	}

	h := *device.Humidity
	var conditions []Condition
	if device.MaxHum != nil && h > *device.MaxHum {
		conditions = append(conditions, Condition{
			Kind:    KindHighHumidity,
			Message: fmt.Sprintf("humidity %.1f above maximum %.1f", h, *device.MaxHum),
		})
	}
	if device.MinHum != nil && h < *device.MinHum {
		conditions = append(conditions, Condition{
			Kind:    KindLowHumidity,
			Message: fmt.Sprintf("humidity %.1f below minimum %.1f", h, *device.MinHum),
		})
	}
	return conditions
}

// AllKinds lists every condition kind the ledger tracks. Kinds absent from a
// Conditions result are treated as cleared.
func AllKinds() []Kind {
	return []Kind{
		KindOffline,
		KindHighTemperature,
		KindLowTemperature,
		KindTemperatureFault,
		KindHighHumidity,
		KindLowHumidity,
		KindHumidityFault,
		KindLowBattery,
	}
}
