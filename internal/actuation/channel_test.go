package actuation

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type fakeLiveness struct {
	alive bool
}

func (f fakeLiveness) Alive(context.Context, string) bool { return f.alive }

type captured struct {
	topic   string
	payload string
}

func testChannel(alive bool) (*Channel, *[]captured) {
	var sent []captured
	ch := &Channel{
		liveness: fakeLiveness{alive: alive},
		logger:   zap.NewNop(),
	}
	ch.publish = func(topic string, payload []byte) error {
		sent = append(sent, captured{topic: topic, payload: string(payload)})
		return nil
	}
	return ch, &sent
}

func TestPushDesired_TurnOnRequiresLiveness(t *testing.T) {
	ch, sent := testChannel(false)

	delivered, err := ch.PushDesired(context.Background(), "dl100-0001", true)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if delivered {
		t.Error("Expected turn-on to be suppressed for unreachable device")
	}
	if len(*sent) != 0 {
		t.Errorf("Expected no publish, got %v", *sent)
	}
}

func TestPushDesired_TurnOffAlwaysSent(t *testing.T) {
	ch, sent := testChannel(false)

	delivered, err := ch.PushDesired(context.Background(), "dl100-0001", false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !delivered {
		t.Error("Expected turn-off to go through regardless of liveness")
	}
	if len(*sent) != 1 || (*sent)[0].payload != "off" {
		t.Errorf("Expected one off command, got %v", *sent)
	}
}

func TestPushDesired_TurnOnWhenAlive(t *testing.T) {
	ch, sent := testChannel(true)

	delivered, err := ch.PushDesired(context.Background(), "dl100-0001", true)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !delivered {
		t.Error("Expected turn-on to be delivered")
	}
	if len(*sent) != 1 || (*sent)[0].topic != "devices/dl100-0001/control" || (*sent)[0].payload != "on" {
		t.Errorf("Unexpected publishes: %v", *sent)
	}
}

func TestPushDesired_PublishFailure(t *testing.T) {
	ch, _ := testChannel(true)
	ch.publish = func(string, []byte) error {
		return errors.New("broker gone")
	}

	delivered, err := ch.PushDesired(context.Background(), "dl100-0001", true)
	if err == nil {
		t.Fatal("Expected error when the publish fails")
	}
	if delivered {
		t.Error("Expected delivered=false on publish failure")
	}
}

func TestSend_BypassesLivenessGate(t *testing.T) {
	ch, sent := testChannel(false)

	if err := ch.Send(context.Background(), "dl100-0001", true); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(*sent) != 1 || (*sent)[0].payload != "on" {
		t.Errorf("Expected manual on command despite dead heartbeat, got %v", *sent)
	}
}
