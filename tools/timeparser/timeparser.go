package timeparser

import (
	"fmt"
	"time"
)

// ParseDeviceTimestamp attempts to parse a device-reported timestamp with
// the formats seen across firmware revisions.
func ParseDeviceTimestamp(dateStr string) (time.Time, error) {
	formats := []string{
		"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
		"2006-01-02 15:04:05", // YYYY-MM-DD HH:mm:ss
		time.RFC3339,          // Standard RFC3339
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// IsWithinTolerance checks if the reported timestamp is within tolerance of
// received time
func IsWithinTolerance(readingTime, receivedTime time.Time, toleranceMinutes int) bool {
	diff := readingTime.Sub(receivedTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(toleranceMinutes)*time.Minute
}
