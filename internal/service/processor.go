package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/anomaly"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/config"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/events"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/ledger"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/logging"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/metrics"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/repository"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/status"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/validator"
)

// IngestMessage represents the incoming gateway batch from RabbitMQ
type IngestMessage struct {
	RequestID  string        `json:"request_id"`
	GatewayID  string        `json:"gateway_id"`
	ReceivedAt time.Time     `json:"received_at"`
	Readings   []ReadingData `json:"readings"`
}

// ReadingData represents a single device report inside a gateway batch
type ReadingData struct {
	DeviceID     string   `json:"device_id"`
	Date         string   `json:"date"`
	Temperature  *float64 `json:"temperature"`
	Humidity     *float64 `json:"humidity"`
	BatteryLevel *int     `json:"battery_level"`
	WifiStrength *int     `json:"wifi_strength"`
}

// Publisher is the broker surface the ingest path emits events through.
type Publisher interface {
	PublishEvent(ctx context.Context, event events.Event) error
}

// IngestService handles telemetry message processing logic
type IngestService struct {
	repo      *repository.Repository
	publisher Publisher
	evaluator *status.Evaluator
	ledger    *ledger.Ledger
	validator *validator.Validator
	detector  *anomaly.Detector
	cfg       *config.Config
	logger    *zap.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(
	repo *repository.Repository,
	publisher Publisher,
	evaluator *status.Evaluator,
	anomalyLedger *ledger.Ledger,
	telemetryValidator *validator.Validator,
	detector *anomaly.Detector,
	cfg *config.Config,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		repo:      repo,
		publisher: publisher,
		evaluator: evaluator,
		ledger:    anomalyLedger,
		validator: telemetryValidator,
		detector:  detector,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessMessage processes an incoming gateway telemetry batch. Unusable
// readings and readings for unregistered devices are logged and skipped;
// infrastructure failures are returned so the consumer can requeue.
func (s *IngestService) ProcessMessage(ctx context.Context, body []byte) error {
	var msg IngestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	reqLogger := logging.WithRequestID(s.logger, msg.RequestID)
	reqLogger.Info("processing telemetry batch",
		zap.String("gateway_id", msg.GatewayID),
		zap.Int("reading_count", len(msg.Readings)),
	)

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	processed := 0
	for _, reading := range msg.Readings {
		if err := s.processSingleReading(ctx, reading, receivedAt, reqLogger); err != nil {
			reqLogger.Error("failed to process reading",
				zap.Error(err),
				zap.String("device_id", reading.DeviceID),
			)
			return fmt.Errorf("failed to process reading: %w", err)
		}
		processed++
	}

	reqLogger.Info("telemetry batch processed",
		zap.Int("readings_count", processed),
	)

	return nil
}

func (s *IngestService) processSingleReading(
	ctx context.Context,
	reading ReadingData,
	receivedAt time.Time,
	logger *zap.Logger,
) error {
	data := validator.TelemetryData{
		DeviceID:     reading.DeviceID,
		Date:         reading.Date,
		Temperature:  reading.Temperature,
		Humidity:     reading.Humidity,
		BatteryLevel: reading.BatteryLevel,
		WifiStrength: reading.WifiStrength,
	}

	readingTime, validation := s.validator.ValidateTelemetry(data, receivedAt)
	if !validation.IsValid {
		logger.Warn("dropping invalid reading",
			zap.String("device_id", reading.DeviceID),
			zap.String("reason", validation.Reason),
		)
		metrics.TelemetryProcessed.WithLabelValues("invalid").Inc()
		return nil
	}

	device, err := s.repo.ApplyTelemetry(ctx, reading.DeviceID, repository.TelemetryUpdate{
		Temperature:  reading.Temperature,
		Humidity:     reading.Humidity,
		BatteryLevel: reading.BatteryLevel,
		WifiStrength: reading.WifiStrength,
		RecordedAt:   readingTime,
	})
	if errors.Is(err, repository.ErrDeviceNotFound) {
		logger.Warn("dropping reading for unregistered device",
			zap.String("device_id", reading.DeviceID),
		)
		metrics.TelemetryProcessed.WithLabelValues("unknown_device").Inc()
		return nil
	}
	if err != nil {
		return err
	}

	if reading.Temperature != nil {
		s.checkTemperatureJump(ctx, device, *reading.Temperature, logger)
	}

	now := time.Now().UTC()
	conditions := s.evaluator.Conditions(device, now)
	derived := s.evaluator.Evaluate(device, now)

	opened, resolvedKinds, err := s.ledger.Sync(ctx, device, conditions, now)
	// Publish what did get opened or resolved even when the sync stopped
	// early; the ledger itself stays consistent either way.
	s.publishTransitions(ctx, device, opened, resolvedKinds, now, logger)
	if err != nil {
		return err
	}

	if pubErr := s.publisher.PublishEvent(ctx, events.NewDeviceUpdated(device, derived, now)); pubErr != nil {
		logger.Error("failed to publish device update event",
			zap.Error(pubErr),
			zap.String("device_id", device.DeviceID),
		)
	}

	metrics.TelemetryProcessed.WithLabelValues("ok").Inc()
	logger.Debug("reading applied",
		zap.String("device_id", device.DeviceID),
		zap.String("status", string(derived)),
	)

	return nil
}

// checkTemperatureJump flags readings implausibly far from recent history.
// The reading is already stored; a jump only produces a warning for
// operators chasing flaky sensors.
func (s *IngestService) checkTemperatureJump(ctx context.Context, device *db.Device, value float64, logger *zap.Logger) {
	readings, err := s.repo.RecentReadings(ctx, device.ID, 10)
	if err != nil {
		logger.Warn("failed to load reading history for jump detection",
			zap.Error(err),
			zap.String("device_id", device.DeviceID),
		)
		return
	}

	// The newest row is the reading under inspection.
	var history []float64
	for i, r := range readings {
		if i == 0 || r.Temperature == nil {
			continue
		}
		history = append(history, *r.Temperature)
	}

	if jumped, reason := s.detector.DetectJump(value, history); jumped {
		logger.Warn("temperature jump detected",
			zap.String("device_id", device.DeviceID),
			zap.String("reason", reason),
		)
	}
}

func (s *IngestService) publishTransitions(
	ctx context.Context,
	device *db.Device,
	opened []db.AnomalyRecord,
	resolvedKinds []status.Kind,
	now time.Time,
	logger *zap.Logger,
) {
	for _, record := range opened {
		metrics.AnomaliesOpened.WithLabelValues(record.Kind).Inc()
		if err := s.publisher.PublishEvent(ctx, events.NewAnomalyOpened(device, record)); err != nil {
			logger.Error("failed to publish anomaly opened event",
				zap.Error(err),
				zap.String("device_id", device.DeviceID),
				zap.String("kind", record.Kind),
			)
			continue
		}
		if err := s.repo.MarkAnomalySent(ctx, record.ID); err != nil {
			logger.Warn("failed to mark anomaly as sent",
				zap.Error(err),
				zap.String("record_id", record.ID.String()),
			)
		}
	}

	for _, kind := range resolvedKinds {
		metrics.AnomaliesResolved.WithLabelValues(string(kind)).Inc()
		if err := s.publisher.PublishEvent(ctx, events.NewAnomalyResolved(device, kind, now)); err != nil {
			logger.Error("failed to publish anomaly resolved event",
				zap.Error(err),
				zap.String("device_id", device.DeviceID),
				zap.String("kind", string(kind)),
			)
		}
	}
}
