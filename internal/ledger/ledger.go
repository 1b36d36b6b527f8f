package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/status"
)

// Store is the persistence surface the ledger needs. Repository implements
// it; OpenAnomaly must be atomic under concurrent calls for the same
// (device, kind).
type Store interface {
	OpenAnomaly(ctx context.Context, deviceID uuid.UUID, kind, message string, now time.Time) (*db.AnomalyRecord, bool, error)
	ResolveAnomaly(ctx context.Context, deviceID uuid.UUID, kind string, now time.Time) (bool, error)
}

// Ledger keeps at most one open anomaly record per (device, condition kind)
// and turns condition transitions into ledger mutations: abnormal with no
// open record opens one, normal with an open record resolves it. Repeated
// observations of an unchanged condition mutate nothing.
type Ledger struct {
	store  Store
	logger *zap.Logger
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Sync reconciles the ledger with the device's current conditions. It
// returns the records opened and the kinds resolved by this call, so the
// caller can emit each transition downstream exactly once.
func (l *Ledger) Sync(ctx context.Context, device *db.Device, conditions []status.Condition, now time.Time) ([]db.AnomalyRecord, []status.Kind, error) {
	held := make(map[status.Kind]status.Condition, len(conditions))
	for _, c := range conditions {
		held[c.Kind] = c
	}

	var opened []db.AnomalyRecord
	var resolvedKinds []status.Kind
	for _, kind := range status.AllKinds() {
		condition, holds := held[kind]
		if holds {
			record, created, err := l.store.OpenAnomaly(ctx, device.ID, string(kind), condition.Message, now)
			if err != nil {
				return opened, resolvedKinds, fmt.Errorf("failed to open %s record for device %s: %w", kind, device.DeviceID, err)
			}
			if created {
				l.logger.Info("anomaly opened",
					zap.String("device_id", device.DeviceID),
					zap.String("kind", string(kind)),
					zap.String("message", condition.Message),
				)
				opened = append(opened, *record)
			}
			continue
		}

		resolved, err := l.store.ResolveAnomaly(ctx, device.ID, string(kind), now)
		if err != nil {
			return opened, resolvedKinds, fmt.Errorf("failed to resolve %s record for device %s: %w", kind, device.DeviceID, err)
		}
		if resolved {
			l.logger.Info("anomaly resolved",
				zap.String("device_id", device.DeviceID),
				zap.String("kind", string(kind)),
			)
			resolvedKinds = append(resolvedKinds, kind)
		}
	}

	return opened, resolvedKinds, nil
}
