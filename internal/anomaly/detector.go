// Package anomaly flags implausible jumps in sensor readings. A jump is a
// data-quality hint, not a fleet condition: the reading is still stored and
// evaluated, the detector only marks it as suspect for operators.
package anomaly

import (
	"fmt"
	"math"
)

// Detector handles jump detection with configurable thresholds
type Detector struct {
	maxJump       float64
	minDataPoints int
}

// NewDetector creates a new detector. maxJump is the largest change from the
// rolling average, in sensor units, considered physically plausible between
// consecutive reports.
func NewDetector(maxJump float64, minDataPoints int) *Detector {
	return &Detector{
		maxJump:       maxJump,
		minDataPoints: minDataPoints,
	}
}

// DetectJump checks if the value jumped implausibly far from the rolling
// average of recent readings.
func (d *Detector) DetectJump(value float64, historicalValues []float64) (bool, string) {
	// Need enough historical data for a meaningful average
	if len(historicalValues) < d.minDataPoints {
		return false, ""
	}

	sum := 0.0
	for _, v := range historicalValues {
		sum += v
	}
	average := sum / float64(len(historicalValues))

	if math.Abs(value-average) > d.maxJump {
		return true, fmt.Sprintf("reading %.2f is %.2f away from rolling average %.2f",
			value, math.Abs(value-average), average)
	}

	return false, ""
}
