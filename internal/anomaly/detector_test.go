package anomaly_test

import (
	"testing"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/anomaly"
)

const (
	testMaxJump       = 15.0
	testMinDataPoints = 3
)

func TestDetectJump_SuddenJump(t *testing.T) {
	detector := anomaly.NewDetector(testMaxJump, testMinDataPoints)

	historical := []float64{4.0, 4.5, 3.8, 4.2, 4.1}
	value := 35.0

	jumped, reason := detector.DetectJump(value, historical)
	if !jumped {
		t.Error("Expected jump for value far from rolling average")
	}
	if reason == "" {
		t.Error("Expected reason for detected jump")
	}
}

func TestDetectJump_NormalDrift(t *testing.T) {
	detector := anomaly.NewDetector(testMaxJump, testMinDataPoints)

	historical := []float64{4.0, 4.5, 3.8, 4.2, 4.1}
	value := 6.5

	jumped, reason := detector.DetectJump(value, historical)
	if jumped {
		t.Errorf("Expected no jump, but got: %s", reason)
	}
}

func TestDetectJump_NegativeDirection(t *testing.T) {
	detector := anomaly.NewDetector(testMaxJump, testMinDataPoints)

	historical := []float64{20.0, 21.0, 19.5, 20.5}
	value := -10.0

	jumped, _ := detector.DetectJump(value, historical)
	if !jumped {
		t.Error("Expected jump for a large drop as well as a large rise")
	}
}

func TestDetectJump_InsufficientData(t *testing.T) {
	detector := anomaly.NewDetector(testMaxJump, testMinDataPoints)

	jumped, _ := detector.DetectJump(100.0, []float64{4.0, 4.1})
	if jumped {
		t.Error("Expected no detection with insufficient history")
	}
}
