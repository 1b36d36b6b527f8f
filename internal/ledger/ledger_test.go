package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/ledger"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/status"
)

// fakeStore keeps open records in memory with the same at-most-one guarantee
// the partial unique index provides.
type fakeStore struct {
	open     map[string]db.AnomalyRecord
	opens    int
	resolves int
}

func newFakeStore() *fakeStore {
	return &fakeStore{open: make(map[string]db.AnomalyRecord)}
}

func (s *fakeStore) key(deviceID uuid.UUID, kind string) string {
	return deviceID.String() + "/" + kind
}

func (s *fakeStore) OpenAnomaly(_ context.Context, deviceID uuid.UUID, kind, message string, now time.Time) (*db.AnomalyRecord, bool, error) {
	key := s.key(deviceID, kind)
	if _, exists := s.open[key]; exists {
		return nil, false, nil
	}
	record := db.AnomalyRecord{
		ID:       uuid.New(),
		DeviceID: deviceID,
		Kind:     kind,
		Message:  message,
		OpenedAt: now,
	}
	s.open[key] = record
	s.opens++
	return &record, true, nil
}

func (s *fakeStore) ResolveAnomaly(_ context.Context, deviceID uuid.UUID, kind string, _ time.Time) (bool, error) {
	key := s.key(deviceID, kind)
	if _, exists := s.open[key]; !exists {
		return false, nil
	}
	delete(s.open, key)
	s.resolves++
	return true, nil
}

func testDevice() *db.Device {
	return &db.Device{ID: uuid.New(), DeviceID: "dl100-0001"}
}

func conditions(kinds ...status.Kind) []status.Condition {
	out := make([]status.Condition, len(kinds))
	for i, k := range kinds {
		out[i] = status.Condition{Kind: k, Message: string(k)}
	}
	return out
}

func TestSync_OpensRecordForNewCondition(t *testing.T) {
	store := newFakeStore()
	l := ledger.NewLedger(store, zap.NewNop())
	device := testDevice()
	now := time.Now().UTC()

	opened, resolved, err := l.Sync(context.Background(), device, conditions(status.KindHighTemperature), now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(opened) != 1 || opened[0].Kind != string(status.KindHighTemperature) {
		t.Fatalf("Expected one opened high_temperature record, got %v", opened)
	}
	if len(resolved) != 0 {
		t.Errorf("Expected no resolutions, got %v", resolved)
	}
}

func TestSync_RepeatedConditionIsIdempotent(t *testing.T) {
	store := newFakeStore()
	l := ledger.NewLedger(store, zap.NewNop())
	device := testDevice()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		opened, _, err := l.Sync(context.Background(), device, conditions(status.KindLowBattery), now)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if i > 0 && len(opened) != 0 {
			t.Errorf("Sync %d reopened an already-open record", i)
		}
	}

	if store.opens != 1 {
		t.Errorf("Expected exactly one open, got %d", store.opens)
	}
}

func TestSync_ResolvesClearedCondition(t *testing.T) {
	store := newFakeStore()
	l := ledger.NewLedger(store, zap.NewNop())
	device := testDevice()
	now := time.Now().UTC()

	if _, _, err := l.Sync(context.Background(), device, conditions(status.KindOffline), now); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	_, resolved, err := l.Sync(context.Background(), device, nil, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(resolved) != 1 || resolved[0] != status.KindOffline {
		t.Fatalf("Expected offline to resolve, got %v", resolved)
	}
	if len(store.open) != 0 {
		t.Errorf("Expected no open records, got %d", len(store.open))
	}
}

func TestSync_ReopensAfterResolution(t *testing.T) {
	store := newFakeStore()
	l := ledger.NewLedger(store, zap.NewNop())
	device := testDevice()
	now := time.Now().UTC()

	l.Sync(context.Background(), device, conditions(status.KindHighHumidity), now)
	l.Sync(context.Background(), device, nil, now.Add(time.Minute))
	opened, _, err := l.Sync(context.Background(), device, conditions(status.KindHighHumidity), now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(opened) != 1 {
		t.Fatalf("Expected a fresh record after resolution, got %v", opened)
	}
	if store.opens != 2 || store.resolves != 1 {
		t.Errorf("Expected 2 opens and 1 resolve, got %d and %d", store.opens, store.resolves)
	}
}

func TestSync_IndependentKinds(t *testing.T) {
	store := newFakeStore()
	l := ledger.NewLedger(store, zap.NewNop())
	device := testDevice()
	now := time.Now().UTC()

	l.Sync(context.Background(), device, conditions(status.KindHighTemperature, status.KindLowBattery), now)

	// Temperature clears, battery stays low.
	opened, resolved, err := l.Sync(context.Background(), device, conditions(status.KindLowBattery), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(opened) != 0 {
		t.Errorf("Expected no new records, got %v", opened)
	}
	if len(resolved) != 1 || resolved[0] != status.KindHighTemperature {
		t.Errorf("Expected only high_temperature to resolve, got %v", resolved)
	}
}
