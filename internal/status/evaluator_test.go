package status_test

import (
	"testing"
	"time"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/status"
)

const (
	testOfflineGrace        = 2 * time.Minute
	testLowBatteryThreshold = 21
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
func timePtr(v time.Time) *time.Time {
	return &v
}

func healthyDevice(now time.Time) *db.Device {
	lastUpdate := now.Add(-30 * time.Second)
	return &db.Device{
		DeviceID:             "dl100-0001",
		HasTemperatureSensor: true,
		HasHumiditySensor:    true,
		MinTemp:              floatPtr(2),
		MaxTemp:              floatPtr(8),
		MinHum:               floatPtr(30),
		MaxHum:               floatPtr(70),
		Temperature:          floatPtr(4.5),
		Humidity:             floatPtr(55),
		BatteryLevel:         intPtr(80),
		LastUpdate:           timePtr(lastUpdate),
		IntervalLocal:        60,
		IntervalRemote:       300,
	}
}

func TestEvaluate_Working(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	evaluator := status.NewEvaluator(testOfflineGrace, testLowBatteryThreshold)

	if got := evaluator.Evaluate(healthyDevice(now), now); got != status.Working {
		t.Errorf("Expected working, got %s", got)
	}
}

func TestEvaluate_OfflineAfterIntervalPlusGrace(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	evaluator := status.NewEvaluator(testOfflineGrace, testLowBatteryThreshold)

	device := healthyDevice(now)
	// interval_remote 300s + 120s grace = 420s window
	device.LastUpdate = timePtr(now.Add(-7 * time.Minute))

	if got := evaluator.Evaluate(device, now); got != status.Offline {
		t.Errorf("Expected offline at exactly interval+grace, got %s", got)
	}

	device.LastUpdate = timePtr(now.Add(-7*time.Minute + time.Second))
	if got := evaluator.Evaluate(device, now); got != status.Working {
		t.Errorf("Expected working just inside the window, got %s", got)
	}
}

func TestEvaluate_NeverReportedIsOffline(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	evaluator := status.NewEvaluator(testOfflineGrace, testLowBatteryThreshold)

	device := healthyDevice(now)
	device.LastUpdate = nil

	if got := evaluator.Evaluate(device, now); got != status.Offline {
		t.Errorf("Expected offline for device that never reported, got %s", got)
	}
}

func TestEvaluate_OfflineWinsOverOtherConditions(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	evaluator := status.NewEvaluator(testOfflineGrace, testLowBatteryThreshold)

	device := healthyDevice(now)
	device.LastUpdate = timePtr(now.Add(-time.Hour))
	device.Temperature = floatPtr(50) // also above max

	if got := evaluator.Evaluate(device, now); got != status.Offline {
		t.Errorf("Expected offline to dominate, got %s", got)
	}
}

func TestConditions_TemperatureBounds(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	evaluator := status.NewEvaluator(testOfflineGrace, testLowBatteryThreshold)

	device := healthyDevice(now)
	device.Temperature = floatPtr(12)

	if !hasKind(evaluator.Conditions(device, now), status.KindHighTemperature) {
		t.Error("Expected high_temperature condition")
	}

	device.Temperature = floatPtr(-5)
	if !hasKind(evaluator.Conditions(device, now), status.KindLowTemperature) {
		t.Error("Expected low_temperature condition")
	}
}

func TestConditions_SensorFaultSentinels(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	evaluator := status.NewEvaluator(testOfflineGrace, testLowBatteryThreshold)

	for _, sentinel := range []float64{-127, 80} {
		device := healthyDevice(now)
		device.Temperature = floatPtr(sentinel)

		conditions := evaluator.Conditions(device, now)
		if !hasKind(conditions, status.KindTemperatureFault) {
			t.Errorf("Expected temperature_fault for sentinel %.0f", sentinel)
		}
		// Sentinels must not double-report as out-of-range readings.
		if hasKind(conditions, status.KindHighTemperature) || hasKind(conditions, status.KindLowTemperature) {
			t.Errorf("Sentinel %.0f must not produce bound conditions", sentinel)
		}
	}
}

func TestConditions_UnsetBoundsDisableComparison(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	evaluator := status.NewEvaluator(testOfflineGrace, testLowBatteryThreshold)

	device := healthyDevice(now)
	device.MaxTemp = nil
	device.Temperature = floatPtr(90.5)

	if hasKind(evaluator.Conditions(device, now), status.KindHighTemperature) {
		t.Error("Expected no high_temperature condition without a max bound")
	}
}

func TestConditions_UndeclaredSensorIgnored(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	evaluator := status.NewEvaluator(testOfflineGrace, testLowBatteryThreshold)

	device := healthyDevice(now)
	device.HasHumiditySensor = false
	device.Humidity = nil

	if hasKind(evaluator.Conditions(device, now), status.KindHumidityFault) {
		t.Error("Expected no humidity conditions for a device without the sensor")
	}
}

func TestConditions_LowBattery(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	evaluator := status.NewEvaluator(testOfflineGrace, testLowBatteryThreshold)

	device := healthyDevice(now)
	device.BatteryLevel = intPtr(20)
	if !hasKind(evaluator.Conditions(device, now), status.KindLowBattery) {
		t.Error("Expected low_battery at 20%")
	}

	device.BatteryLevel = intPtr(21)
	if hasKind(evaluator.Conditions(device, now), status.KindLowBattery) {
		t.Error("Expected no low_battery at the threshold")
	}

	device.BatteryLevel = nil
	if !hasKind(evaluator.Conditions(device, now), status.KindLowBattery) {
		t.Error("Expected low_battery when the level was never reported")
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	evaluator := status.NewEvaluator(testOfflineGrace, testLowBatteryThreshold)
	device := healthyDevice(now)

	first := evaluator.Evaluate(device, now)
	for i := 0; i < 5; i++ {
		if got := evaluator.Evaluate(device, now); got != first {
			t.Fatalf("Evaluate changed output on repeat call: %s != %s", got, first)
		}
	}
}

func hasKind(conditions []status.Condition, kind status.Kind) bool {
	for _, c := range conditions {
		if c.Kind == kind {
			return true
		}
	}
	return false
}
