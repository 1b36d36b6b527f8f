package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
)

// Decision is the outcome of a policy evaluation. Undecided preserves the
// current relay state.
type Decision int

const (
	Undecided Decision = iota
	Off
	On
)

func (d Decision) String() string {
	switch d {
	case On:
		return "on"
	case Off:
		return "off"
	default:
		return "undecided"
	}
}

// Automation feature names as stored in feature_priorities.
const (
	FeatureTempControl  = "temp_control"
	FeatureAutoSchedule = "auto_schedule"
)

// Fallback selector values for ControlState.ControlPriority.
const (
	PriorityTemp     = "temp"
	PrioritySchedule = "schedule"
)

// Decide resolves the desired relay state from the priority-ordered feature
// list, falling back to the single control_priority selector when no listed
// feature fires. The first feature that is enabled and able to decide owns
// the decision slot: a temperature reading inside the hysteresis band yields
// Undecided without consulting lower-priority features.
//
// The schedule window is same-day only; it does not wrap past midnight.
func Decide(control *db.ControlState, priorities []db.FeaturePriority, temperature *float64, now time.Time) Decision {
	ordered := make([]db.FeaturePriority, len(priorities))
	copy(ordered, priorities)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	for _, fp := range ordered {
		switch fp.Feature {
		case FeatureTempControl:
			if tempControlReady(control, temperature) {
				return tempVerdict(control, *temperature)
			}
		case FeatureAutoSchedule:
			if scheduleReady(control) {
				return scheduleVerdict(control, now)
			}
		}
	}

	// No configured feature fired; apply the single fallback selector.
	switch control.ControlPriority {
	case PriorityTemp:
		if tempControlReady(control, temperature) {
			return tempVerdict(control, *temperature)
		}
	case PrioritySchedule:
		if scheduleReady(control) {
			return scheduleVerdict(control, now)
		}
	}

	return Undecided
}

// tempControlReady reports whether temperature control is enabled and has
// enough inputs to ever decide. Unset thresholds or a missing reading make
// the feature skippable in the priority walk.
func tempControlReady(control *db.ControlState, temperature *float64) bool {
	if !control.TempControlEnabled || temperature == nil {
		return false
	}
	return control.TempOnThreshold != nil || control.TempOffThreshold != nil
}

func tempVerdict(control *db.ControlState, temperature float64) Decision {
	if control.TempOnThreshold != nil && temperature >= *control.TempOnThreshold {
		return On
	}
	if control.TempOffThreshold != nil && temperature <= *control.TempOffThreshold {
		return Off
	}
	// Hysteresis band: no verdict, current state is preserved.
	return Undecided
}

func scheduleReady(control *db.ControlState) bool {
	return control.AutoSchedule && control.AutoOn != nil && control.AutoOff != nil
}

func scheduleVerdict(control *db.ControlState, now time.Time) Decision {
	minute := now.Hour()*60 + now.Minute()
	if *control.AutoOn <= minute && minute <= *control.AutoOff {
		return On
	}
	return Off
}

// ParseTimeOfDay converts an "HH:MM" clock string to minutes since midnight.
func ParseTimeOfDay(value string) (int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(value, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", value, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid time of day %q: out of range", value)
	}
	return hour*60 + minute, nil
}

// FormatTimeOfDay converts minutes since midnight to an "HH:MM" clock string.
func FormatTimeOfDay(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
