package validator

import (
	"fmt"
	"time"

	"github.com/OmarWaled21/sw-dl100-data-logger/tools/timeparser"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

// TelemetryData represents a single device report from a gateway batch
type TelemetryData struct {
	DeviceID     string
	Date         string
	Temperature  *float64
	Humidity     *float64
	BatteryLevel *int
	WifiStrength *int
}

// Validator handles telemetry validation with configurable parameters
type Validator struct {
	timestampToleranceMinutes int
}

// NewValidator creates a new validator with the specified tolerance
func NewValidator(timestampToleranceMinutes int) *Validator {
	return &Validator{
		timestampToleranceMinutes: timestampToleranceMinutes,
	}
}

// ValidateTelemetry validates a single telemetry report and returns the
// parsed reading time. Out-of-range sensor readings are NOT rejected here;
// they are real observations and the status evaluator classifies them.
// Rejection is reserved for reports that are structurally unusable.
func (v *Validator) ValidateTelemetry(data TelemetryData, receivedAt time.Time) (time.Time, ValidationResult) {
	result := ValidationResult{IsValid: true}

	if data.DeviceID == "" {
		result.IsValid = false
		result.Reason = "empty device id"
		return time.Time{}, result
	}

	if data.BatteryLevel != nil && (*data.BatteryLevel < 0 || *data.BatteryLevel > 100) {
		result.IsValid = false
		result.Reason = fmt.Sprintf("battery level %d outside 0-100", *data.BatteryLevel)
		return time.Time{}, result
	}

	// A report without a timestamp is stamped with arrival time.
	if data.Date == "" {
		return receivedAt, result
	}

	readingTime, err := timeparser.ParseDeviceTimestamp(data.Date)
	if err != nil {
		result.IsValid = false
		result.Reason = fmt.Sprintf("invalid timestamp format: %v", err)
		return time.Time{}, result
	}

	if !timeparser.IsWithinTolerance(readingTime, receivedAt, v.timestampToleranceMinutes) {
		result.IsValid = false
		result.Reason = fmt.Sprintf("timestamp outside tolerance window (±%d minutes)", v.timestampToleranceMinutes)
		return readingTime, result
	}

	return readingTime, result
}
