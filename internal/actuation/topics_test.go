package actuation_test

import (
	"testing"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/actuation"
)

func TestCommandTopic(t *testing.T) {
	if got := actuation.CommandTopic("dl100-0001"); got != "devices/dl100-0001/control" {
		t.Errorf("Unexpected command topic: %s", got)
	}
}

func TestDeviceIDFromStateTopic(t *testing.T) {
	id, err := actuation.DeviceIDFromStateTopic("devices/dl100-0001/state")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if id != "dl100-0001" {
		t.Errorf("Expected dl100-0001, got %s", id)
	}
}

func TestDeviceIDFromStateTopic_Malformed(t *testing.T) {
	bad := []string{
		"devices/dl100-0001/control",
		"devices/state",
		"other/dl100-0001/state",
		"devices//state",
	}
	for _, topic := range bad {
		if _, err := actuation.DeviceIDFromStateTopic(topic); err == nil {
			t.Errorf("Expected error for topic %q", topic)
		}
	}
}

func TestParseStateReport(t *testing.T) {
	on, err := actuation.ParseStateReport([]byte(" ON\n"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !on {
		t.Error("Expected on")
	}

	off, err := actuation.ParseStateReport([]byte("off"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if off {
		t.Error("Expected off")
	}

	if _, err := actuation.ParseStateReport([]byte("dimmed")); err == nil {
		t.Error("Expected error for unknown payload")
	}
}

func TestEncodeCommand(t *testing.T) {
	if string(actuation.EncodeCommand(true)) != "on" {
		t.Error("Expected on payload")
	}
	if string(actuation.EncodeCommand(false)) != "off" {
		t.Error("Expected off payload")
	}
}
