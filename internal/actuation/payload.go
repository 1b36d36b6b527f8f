package actuation

import (
	"fmt"
	"strings"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/policy"
)

// EncodeCommand renders the plain on/off command payload the relay firmware
// expects.
func EncodeCommand(on bool) []byte {
	if on {
		return []byte("on")
	}
	return []byte("off")
}

// ParseStateReport parses a device-reported relay state payload.
func ParseStateReport(payload []byte) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected state payload %q", string(payload))
	}
}

// ControlBundle is the structured control message sent back to a device after
// a state report, so the firmware can enforce schedule and thresholds locally
// while the link is down.
type ControlBundle struct {
	DeviceID           string   `json:"device_id"`
	IsOn               bool     `json:"is_on"`
	AutoSchedule       bool     `json:"auto_schedule"`
	AutoOn             *string  `json:"auto_on"`
	AutoOff            *string  `json:"auto_off"`
	TempControlEnabled bool     `json:"temp_control_enabled"`
	TempOnThreshold    *float64 `json:"temp_on_threshold"`
	TempOffThreshold   *float64 `json:"temp_off_threshold"`
}

// BundleFromControl builds the control bundle for a device.
func BundleFromControl(deviceID string, control *db.ControlState) ControlBundle {
	bundle := ControlBundle{
		DeviceID:           deviceID,
		IsOn:               control.IsOn,
		AutoSchedule:       control.AutoSchedule,
		TempControlEnabled: control.TempControlEnabled,
		TempOnThreshold:    control.TempOnThreshold,
		TempOffThreshold:   control.TempOffThreshold,
	}
	if control.AutoOn != nil {
		clock := policy.FormatTimeOfDay(*control.AutoOn)
		bundle.AutoOn = &clock
	}
	if control.AutoOff != nil {
		clock := policy.FormatTimeOfDay(*control.AutoOff)
		bundle.AutoOff = &clock
	}
	return bundle
}
