// Package reconciler runs the periodic sweep that converges every device's
// actual relay state toward the state the control policy wants. It is the
// only writer of relay commands; manual toggles and device reports feed it
// indirectly through the control rows it reads.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/events"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/ledger"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/metrics"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/policy"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/status"
)

// Store is the persistence surface a sweep reads and writes.
type Store interface {
	ListDevices(ctx context.Context) ([]db.Device, error)
	ExpireControlWindows(ctx context.Context, id uuid.UUID, now time.Time) (control *db.ControlState, pauseCleared, confirmExpired bool, err error)
	ListPriorities(ctx context.Context, id uuid.UUID) ([]db.FeaturePriority, error)
	MarkCommandSent(ctx context.Context, id uuid.UUID, desired bool, now time.Time, confirmTimeout time.Duration) (*db.ControlState, error)
	MarkAnomalySent(ctx context.Context, id uuid.UUID) error
}

// Pusher sends relay commands. The returned bool reports whether the
// command actually went out; a suppressed turn-on returns false, nil.
type Pusher interface {
	PushDesired(ctx context.Context, deviceID string, on bool) (bool, error)
}

// Publisher emits domain events for commands the loop sends.
type Publisher interface {
	PublishEvent(ctx context.Context, event events.Event) error
}

// Loop is the reconciliation loop.
type Loop struct {
	store          Store
	pusher         Pusher
	publisher      Publisher
	evaluator      *status.Evaluator
	ledger         *ledger.Ledger
	interval       time.Duration
	confirmTimeout time.Duration
	logger         *zap.Logger

	// now is swappable for tests.
	now func() time.Time

	stop    chan struct{}
	done    chan struct{}
	startMu sync.Mutex
	started bool
}

func NewLoop(store Store, pusher Pusher, publisher Publisher, evaluator *status.Evaluator, anomalyLedger *ledger.Ledger, interval, confirmTimeout time.Duration, logger *zap.Logger) *Loop {
	return &Loop{
		store:          store,
		pusher:         pusher,
		publisher:      publisher,
		evaluator:      evaluator,
		ledger:         anomalyLedger,
		interval:       interval,
		confirmTimeout: confirmTimeout,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start launches the ticker goroutine. Starting an already-started loop is
// a no-op.
func (l *Loop) Start() {
	l.startMu.Lock()
	defer l.startMu.Unlock()
	if l.started {
		return
	}
	l.started = true
	go l.run()
}

// Stop terminates the loop and waits for the in-flight sweep to finish.
func (l *Loop) Stop(ctx context.Context) error {
	l.startMu.Lock()
	defer l.startMu.Unlock()
	if !l.started {
		return nil
	}
	close(l.stop)
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("reconciliation loop started", zap.Duration("interval", l.interval))

	for {
		select {
		case <-l.stop:
			l.logger.Info("reconciliation loop stopped")
			return
		case <-ticker.C:
			l.Sweep(context.Background())
		}
	}
}

// Sweep runs one full pass over the fleet. A failure on one device is
// logged and does not stop the pass.
func (l *Loop) Sweep(ctx context.Context) {
	started := l.now()
	metrics.ReconcileSweeps.Inc()

	devices, err := l.store.ListDevices(ctx)
	if err != nil {
		l.logger.Error("sweep aborted, cannot list devices", zap.Error(err))
		return
	}

	statusCounts := map[status.Status]int{
		status.Working: 0,
		status.Error:   0,
		status.Offline: 0,
	}

	for i := range devices {
		device := &devices[i]
		now := l.now()
		statusCounts[l.evaluator.Evaluate(device, now)]++

		// Offline devices stop sending telemetry, so the sweep is the
		// only place their ledger transitions can happen.
		if err := l.syncAnomalies(ctx, device, now); err != nil {
			l.logger.Error("failed to sync anomaly ledger",
				zap.String("device_id", device.DeviceID),
				zap.Error(err),
			)
		}

		if err := l.reconcileDevice(ctx, device); err != nil {
			l.logger.Error("failed to reconcile device",
				zap.String("device_id", device.DeviceID),
				zap.Error(err),
			)
		}
	}

	for s, count := range statusCounts {
		metrics.DeviceStatus.WithLabelValues(string(s)).Set(float64(count))
	}
	metrics.ReconcileSweepDuration.Observe(l.now().Sub(started).Seconds())
}

func (l *Loop) syncAnomalies(ctx context.Context, device *db.Device, now time.Time) error {
	conditions := l.evaluator.Conditions(device, now)
	opened, resolvedKinds, err := l.ledger.Sync(ctx, device, conditions, now)
	if err != nil {
		return err
	}

	for _, record := range opened {
		metrics.AnomaliesOpened.WithLabelValues(record.Kind).Inc()
		if err := l.publisher.PublishEvent(ctx, events.NewAnomalyOpened(device, record)); err != nil {
			l.logger.Error("failed to publish anomaly opened event",
				zap.String("device_id", device.DeviceID),
				zap.String("kind", record.Kind),
				zap.Error(err),
			)
			continue
		}
		if err := l.store.MarkAnomalySent(ctx, record.ID); err != nil {
			l.logger.Error("failed to mark anomaly notification sent",
				zap.String("device_id", device.DeviceID),
				zap.Error(err),
			)
		}
	}
	for _, kind := range resolvedKinds {
		metrics.AnomaliesResolved.WithLabelValues(string(kind)).Inc()
		if err := l.publisher.PublishEvent(ctx, events.NewAnomalyResolved(device, kind, now)); err != nil {
			l.logger.Error("failed to publish anomaly resolved event",
				zap.String("device_id", device.DeviceID),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (l *Loop) reconcileDevice(ctx context.Context, device *db.Device) error {
	// A device that has never reported gives the policy nothing to act on.
	if device.LastUpdate == nil {
		return nil
	}

	now := l.now()
	control, pauseCleared, confirmExpired, err := l.store.ExpireControlWindows(ctx, device.ID, now)
	if err != nil {
		return err
	}
	if pauseCleared {
		l.logger.Info("automation pause expired", zap.String("device_id", device.DeviceID))
	}
	if confirmExpired {
		l.logger.Warn("command confirmation timed out, reverting to last confirmed state",
			zap.String("device_id", device.DeviceID),
		)
	}

	// A pending command owns the relay until the device confirms or the
	// deadline expires.
	if control.PendingConfirmation {
		return nil
	}
	if control.AutoPauseUntil != nil && control.AutoPauseUntil.After(now) {
		return nil
	}

	priorities, err := l.store.ListPriorities(ctx, device.ID)
	if err != nil {
		return err
	}

	decision := policy.Decide(control, priorities, device.Temperature, now)
	if decision == policy.Undecided {
		return nil
	}

	desired := decision == policy.On
	if desired == control.IsOn {
		return nil
	}

	sent, err := l.pusher.PushDesired(ctx, device.DeviceID, desired)
	if err != nil {
		return err
	}
	if !sent {
		metrics.CommandsSuppressed.Inc()
		return nil
	}

	updated, err := l.store.MarkCommandSent(ctx, device.ID, desired, now, l.confirmTimeout)
	if err != nil {
		return err
	}
	metrics.CommandsSent.WithLabelValues(decision.String()).Inc()
	l.logger.Info("relay command sent",
		zap.String("device_id", device.DeviceID),
		zap.String("command", decision.String()),
	)

	if err := l.publisher.PublishEvent(ctx, events.NewControlChanged(device, updated, "auto", now)); err != nil {
		l.logger.Error("failed to publish control change event",
			zap.String("device_id", device.DeviceID),
			zap.Error(err),
		)
	}

	return nil
}
