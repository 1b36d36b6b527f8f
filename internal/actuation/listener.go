package actuation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/events"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/metrics"
)

// ControlStore is the slice of the repository the listener needs.
type ControlStore interface {
	GetDevice(ctx context.Context, deviceID string) (*db.Device, error)
	ApplyStateReport(ctx context.Context, deviceID string, isOn bool, now time.Time, pause time.Duration) (*db.ControlState, error)
}

// Heartbeat records that a device was just heard from.
type Heartbeat interface {
	Touch(ctx context.Context, deviceID string, now time.Time) error
}

// BundleSender replies to a device with its full control configuration.
type BundleSender interface {
	SendBundle(ctx context.Context, deviceID string, bundle ControlBundle) error
}

// EventPublisher pushes domain events to the message broker.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event events.Event) error
}

// StateListener handles device-reported relay state. A report is the
// device's ground truth: it confirms or supersedes whatever command the
// loop last pushed, pauses automation, and gets the full control bundle
// sent back so the firmware stays configured through broker outages.
type StateListener struct {
	store     ControlStore
	heartbeat Heartbeat
	sender    BundleSender
	publisher EventPublisher
	pause     time.Duration
	logger    *zap.Logger
}

func NewStateListener(store ControlStore, heartbeat Heartbeat, sender BundleSender, publisher EventPublisher, pause time.Duration, logger *zap.Logger) *StateListener {
	return &StateListener{
		store:     store,
		heartbeat: heartbeat,
		sender:    sender,
		publisher: publisher,
		pause:     pause,
		logger:    logger,
	}
}

// HandleStateReport processes one state report payload from a device.
func (l *StateListener) HandleStateReport(ctx context.Context, deviceID string, payload []byte) error {
	isOn, err := ParseStateReport(payload)
	if err != nil {
		return err
	}

	device, err := l.store.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	metrics.StateReports.Inc()

	now := time.Now().UTC()
	if err := l.heartbeat.Touch(ctx, deviceID, now); err != nil {
		l.logger.Warn("failed to record heartbeat",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}

	control, err := l.store.ApplyStateReport(ctx, deviceID, isOn, now, l.pause)
	if err != nil {
		return err
	}

	l.logger.Info("state report applied",
		zap.String("device_id", deviceID),
		zap.Bool("is_on", isOn),
	)

	if err := l.sender.SendBundle(ctx, deviceID, BundleFromControl(deviceID, control)); err != nil {
		l.logger.Warn("failed to send control bundle",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}

	event := events.NewControlChanged(device, control, "device", now)
	if err := l.publisher.PublishEvent(ctx, event); err != nil {
		l.logger.Error("failed to publish control change event",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}

	return nil
}
