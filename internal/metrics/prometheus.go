package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TelemetryProcessed counts telemetry messages by outcome.
	TelemetryProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_messages_total",
			Help: "Total number of telemetry messages processed",
		},
		[]string{"status"},
	)

	// AnomaliesOpened counts anomaly records opened, by kind.
	AnomaliesOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomalies_opened_total",
			Help: "Total number of anomaly records opened",
		},
		[]string{"kind"},
	)

	// AnomaliesResolved counts anomaly records resolved, by kind.
	AnomaliesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomalies_resolved_total",
			Help: "Total number of anomaly records resolved",
		},
		[]string{"kind"},
	)

	// ReconcileSweeps counts reconciliation sweeps.
	ReconcileSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_sweeps_total",
			Help: "Total number of reconciliation sweeps",
		},
	)

	// ReconcileSweepDuration observes full-fleet sweep latency.
	ReconcileSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_sweep_duration_seconds",
			Help:    "Reconciliation sweep duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// CommandsSent counts relay commands pushed to devices.
	CommandsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_commands_sent_total",
			Help: "Total number of relay commands sent to devices",
		},
		[]string{"command"},
	)

	// CommandsSuppressed counts turn-on commands withheld because the
	// target device had no recent heartbeat.
	CommandsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_commands_suppressed_total",
			Help: "Total number of turn-on commands suppressed for unreachable devices",
		},
	)

	// DeviceStatus tracks the count of devices per derived status.
	DeviceStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "device_status",
			Help: "Number of devices per derived status",
		},
		[]string{"status"},
	)

	// StateReports counts device state reports received.
	StateReports = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "state_reports_total",
			Help: "Total number of device state reports received",
		},
	)
)
