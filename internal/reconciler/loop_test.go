package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/events"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/ledger"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/policy"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/status"
)

func floatPtr(v float64) *float64 { return &v }
func timePtr(v time.Time) *time.Time {
	return &v
}

type fakeStore struct {
	devices    []db.Device
	controls   map[uuid.UUID]*db.ControlState
	priorities map[uuid.UUID][]db.FeaturePriority
	anomalies  map[uuid.UUID]map[string]db.AnomalyRecord
	listErr    error
	expireErr  map[uuid.UUID]error
	marked     []uuid.UUID
	notified   []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		controls:   make(map[uuid.UUID]*db.ControlState),
		priorities: make(map[uuid.UUID][]db.FeaturePriority),
		anomalies:  make(map[uuid.UUID]map[string]db.AnomalyRecord),
		expireErr:  make(map[uuid.UUID]error),
	}
}

func (s *fakeStore) ListDevices(context.Context) ([]db.Device, error) {
	return s.devices, s.listErr
}

func (s *fakeStore) ExpireControlWindows(_ context.Context, id uuid.UUID, now time.Time) (*db.ControlState, bool, bool, error) {
	if err := s.expireErr[id]; err != nil {
		return nil, false, false, err
	}
	control := s.controls[id]
	pauseCleared := false
	if control.AutoPauseUntil != nil && !control.AutoPauseUntil.After(now) {
		control.AutoPauseUntil = nil
		pauseCleared = true
	}
	confirmExpired := false
	if control.PendingConfirmation && control.ConfirmationDeadline != nil && !control.ConfirmationDeadline.After(now) {
		control.PendingConfirmation = false
		control.ConfirmationDeadline = nil
		control.IsOn = control.LastConfirmedState
		confirmExpired = true
	}
	return control, pauseCleared, confirmExpired, nil
}

func (s *fakeStore) ListPriorities(_ context.Context, id uuid.UUID) ([]db.FeaturePriority, error) {
	return s.priorities[id], nil
}

func (s *fakeStore) MarkCommandSent(_ context.Context, id uuid.UUID, desired bool, now time.Time, timeout time.Duration) (*db.ControlState, error) {
	control := s.controls[id]
	control.IsOn = desired
	control.PendingConfirmation = true
	control.ConfirmationDeadline = timePtr(now.Add(timeout))
	s.marked = append(s.marked, id)
	return control, nil
}

func (s *fakeStore) OpenAnomaly(_ context.Context, deviceID uuid.UUID, kind, message string, now time.Time) (*db.AnomalyRecord, bool, error) {
	open := s.anomalies[deviceID]
	if open == nil {
		open = make(map[string]db.AnomalyRecord)
		s.anomalies[deviceID] = open
	}
	if record, ok := open[kind]; ok {
		return &record, false, nil
	}
	record := db.AnomalyRecord{ID: uuid.New(), DeviceID: deviceID, Kind: kind, Message: message, OpenedAt: now}
	open[kind] = record
	return &record, true, nil
}

func (s *fakeStore) ResolveAnomaly(_ context.Context, deviceID uuid.UUID, kind string, _ time.Time) (bool, error) {
	open := s.anomalies[deviceID]
	if _, ok := open[kind]; !ok {
		return false, nil
	}
	delete(open, kind)
	return true, nil
}

func (s *fakeStore) MarkAnomalySent(_ context.Context, id uuid.UUID) error {
	s.notified = append(s.notified, id)
	return nil
}

type fakePusher struct {
	deliver  bool
	err      error
	commands []string
}

func (p *fakePusher) PushDesired(_ context.Context, deviceID string, on bool) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	if !p.deliver {
		return false, nil
	}
	cmd := "off"
	if on {
		cmd = "on"
	}
	p.commands = append(p.commands, deviceID+":"+cmd)
	return true, nil
}

type fakePublisher struct {
	published []events.Event
}

func (p *fakePublisher) PublishEvent(_ context.Context, event events.Event) error {
	p.published = append(p.published, event)
	return nil
}

var sweepTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func addDevice(store *fakeStore, control *db.ControlState) db.Device {
	id := uuid.New()
	battery := 80
	device := db.Device{
		ID:             id,
		DeviceID:       "dl100-" + id.String()[:8],
		Temperature:    floatPtr(35),
		BatteryLevel:   &battery,
		LastUpdate:     timePtr(sweepTime.Add(-time.Minute)),
		IntervalRemote: 300,
	}
	control.DeviceID = id
	store.devices = append(store.devices, device)
	store.controls[id] = control
	store.priorities[id] = []db.FeaturePriority{{DeviceID: id, Feature: policy.FeatureTempControl, Priority: 1}}
	return device
}

func coolingControl(isOn bool) *db.ControlState {
	return &db.ControlState{
		IsOn:               isOn,
		LastConfirmedState: isOn,
		TempControlEnabled: true,
		TempOnThreshold:    floatPtr(30),
		TempOffThreshold:   floatPtr(25),
		ControlPriority:    policy.PrioritySchedule,
	}
}

func newTestLoop(store *fakeStore, pusher *fakePusher, publisher *fakePublisher) *Loop {
	evaluator := status.NewEvaluator(2*time.Minute, 21)
	anomalyLedger := ledger.NewLedger(store, zap.NewNop())
	loop := NewLoop(store, pusher, publisher, evaluator, anomalyLedger, time.Second, time.Minute, zap.NewNop())
	loop.now = func() time.Time { return sweepTime }
	return loop
}

func TestSweep_SendsCommandOnDivergence(t *testing.T) {
	store := newFakeStore()
	device := addDevice(store, coolingControl(false)) // temp 35 wants on
	pusher := &fakePusher{deliver: true}
	publisher := &fakePublisher{}

	newTestLoop(store, pusher, publisher).Sweep(context.Background())

	if len(pusher.commands) != 1 || pusher.commands[0] != device.DeviceID+":on" {
		t.Fatalf("Expected one on command, got %v", pusher.commands)
	}
	if len(store.marked) != 1 {
		t.Errorf("Expected command to be marked pending, got %v", store.marked)
	}
	if len(publisher.published) != 1 || publisher.published[0].Kind != events.ControlChanged {
		t.Errorf("Expected a control.changed event, got %v", publisher.published)
	}
}

func TestSweep_NoCommandWhenConverged(t *testing.T) {
	store := newFakeStore()
	addDevice(store, coolingControl(true)) // temp 35 wants on, already on
	pusher := &fakePusher{deliver: true}

	newTestLoop(store, pusher, &fakePublisher{}).Sweep(context.Background())

	if len(pusher.commands) != 0 {
		t.Errorf("Expected no commands, got %v", pusher.commands)
	}
}

func TestSweep_UndecidedPreservesState(t *testing.T) {
	store := newFakeStore()
	device := addDevice(store, coolingControl(true))
	// In-band reading: stay as-is even though relay is on.
	for i := range store.devices {
		if store.devices[i].ID == device.ID {
			store.devices[i].Temperature = floatPtr(27)
		}
	}
	pusher := &fakePusher{deliver: true}

	newTestLoop(store, pusher, &fakePublisher{}).Sweep(context.Background())

	if len(pusher.commands) != 0 {
		t.Errorf("Expected no commands inside hysteresis band, got %v", pusher.commands)
	}
}

func TestSweep_PauseSuppressesAutomation(t *testing.T) {
	store := newFakeStore()
	control := coolingControl(false)
	control.AutoPauseUntil = timePtr(sweepTime.Add(30 * time.Minute))
	addDevice(store, control)
	pusher := &fakePusher{deliver: true}

	newTestLoop(store, pusher, &fakePublisher{}).Sweep(context.Background())

	if len(pusher.commands) != 0 {
		t.Errorf("Expected no commands during manual pause, got %v", pusher.commands)
	}
}

func TestSweep_ExpiredPauseResumesAutomation(t *testing.T) {
	store := newFakeStore()
	control := coolingControl(false)
	control.AutoPauseUntil = timePtr(sweepTime.Add(-time.Minute))
	addDevice(store, control)
	pusher := &fakePusher{deliver: true}

	newTestLoop(store, pusher, &fakePublisher{}).Sweep(context.Background())

	if len(pusher.commands) != 1 {
		t.Errorf("Expected automation to resume after pause expiry, got %v", pusher.commands)
	}
}

func TestSweep_PendingConfirmationBlocksResend(t *testing.T) {
	store := newFakeStore()
	control := coolingControl(false)
	control.PendingConfirmation = true
	control.ConfirmationDeadline = timePtr(sweepTime.Add(time.Minute))
	addDevice(store, control)
	pusher := &fakePusher{deliver: true}

	newTestLoop(store, pusher, &fakePublisher{}).Sweep(context.Background())

	if len(pusher.commands) != 0 {
		t.Errorf("Expected no resend while a command is pending, got %v", pusher.commands)
	}
}

func TestSweep_ExpiredConfirmationRevertsAndResends(t *testing.T) {
	store := newFakeStore()
	control := coolingControl(false)
	control.IsOn = true // optimistic state from the unconfirmed command
	control.LastConfirmedState = false
	control.PendingConfirmation = true
	control.ConfirmationDeadline = timePtr(sweepTime.Add(-time.Second))
	addDevice(store, control)
	pusher := &fakePusher{deliver: true}

	newTestLoop(store, pusher, &fakePublisher{}).Sweep(context.Background())

	// Revert exposed the divergence again, so the command goes back out.
	if len(pusher.commands) != 1 {
		t.Errorf("Expected a resend after confirmation expiry, got %v", pusher.commands)
	}
}

func TestSweep_SuppressedCommandNotMarked(t *testing.T) {
	store := newFakeStore()
	addDevice(store, coolingControl(false))
	pusher := &fakePusher{deliver: false} // liveness gate says no

	newTestLoop(store, pusher, &fakePublisher{}).Sweep(context.Background())

	if len(store.marked) != 0 {
		t.Errorf("Expected no pending mark for a suppressed command, got %v", store.marked)
	}
}

func TestSweep_SkipsDeviceWithoutTelemetry(t *testing.T) {
	store := newFakeStore()
	device := addDevice(store, coolingControl(false))
	for i := range store.devices {
		if store.devices[i].ID == device.ID {
			store.devices[i].LastUpdate = nil
		}
	}
	pusher := &fakePusher{deliver: true}

	newTestLoop(store, pusher, &fakePublisher{}).Sweep(context.Background())

	if len(pusher.commands) != 0 {
		t.Errorf("Expected never-reported device to be skipped, got %v", pusher.commands)
	}
}

func TestSweep_OpensOfflineAnomalyOnce(t *testing.T) {
	store := newFakeStore()
	device := addDevice(store, coolingControl(false))
	for i := range store.devices {
		if store.devices[i].ID == device.ID {
			store.devices[i].LastUpdate = timePtr(sweepTime.Add(-time.Hour))
		}
	}
	publisher := &fakePublisher{}
	loop := newTestLoop(store, &fakePusher{deliver: false}, publisher)

	loop.Sweep(context.Background())

	record, ok := store.anomalies[device.ID]["offline"]
	if !ok {
		t.Fatalf("Expected an open offline record, got %v", store.anomalies[device.ID])
	}
	if len(publisher.published) != 1 || publisher.published[0].Kind != events.AnomalyOpened {
		t.Fatalf("Expected one anomaly.opened event, got %v", publisher.published)
	}
	if len(store.notified) != 1 || store.notified[0] != record.ID {
		t.Errorf("Expected the opened record to be marked sent, got %v", store.notified)
	}

	// The condition still holds on the next sweep; the ledger stays quiet.
	loop.Sweep(context.Background())
	if len(publisher.published) != 1 {
		t.Errorf("Expected no duplicate event on the second sweep, got %v", publisher.published)
	}
}

func TestSweep_DeviceErrorDoesNotStopSweep(t *testing.T) {
	store := newFakeStore()
	broken := addDevice(store, coolingControl(false))
	store.expireErr[broken.ID] = errors.New("row lock timeout")
	healthy := addDevice(store, coolingControl(false))
	pusher := &fakePusher{deliver: true}

	newTestLoop(store, pusher, &fakePublisher{}).Sweep(context.Background())

	if len(pusher.commands) != 1 || pusher.commands[0] != healthy.DeviceID+":on" {
		t.Errorf("Expected the healthy device to still reconcile, got %v", pusher.commands)
	}
}
