package main

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/actuation"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/anomaly"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/api"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/config"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/heartbeat"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/ledger"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/mq"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/reconciler"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/repository"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/service"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/status"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/validator"
)

func startConsumer(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	ingest *service.IngestService,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Queue:            cfg.RabbitMQ.TelemetryQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		Exchange:         cfg.RabbitMQ.TelemetryExchange,
		RoutingKey:       cfg.RabbitMQ.TelemetryRoutingKey,
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: ingest.ProcessMessage,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	// Register lifecycle hooks
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting telemetry consumer",
				zap.String("queue", cfg.RabbitMQ.TelemetryQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("telemetry consumer stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}

func startStateListener(channel *actuation.Channel, listener *actuation.StateListener, logger *zap.Logger) {
	channel.SubscribeStateReports(func(deviceID string, payload []byte) {
		if err := listener.HandleStateReport(context.Background(), deviceID, payload); err != nil {
			logger.Error("failed to handle state report",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		}
	})
}

func startReconcileLoop(lc fx.Lifecycle, loop *reconciler.Loop) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			loop.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return loop.Stop(ctx)
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, mux *http.ServeMux, cfg *config.Config, logger *zap.Logger) {
	api.NewServer(lc, mux, cfg.ServicePort, logger)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *pgxpool.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideStatusEvaluator creates the status evaluator
func ProvideStatusEvaluator(cfg *config.Config) *status.Evaluator {
	return status.NewEvaluator(cfg.Fleet.OfflineGrace, cfg.Fleet.LowBatteryThreshold)
}

// ProvideLedger creates the anomaly ledger over the repository
func ProvideLedger(repo *repository.Repository, logger *zap.Logger) *ledger.Ledger {
	return ledger.NewLedger(repo, logger)
}

// ProvideAnomalyDetector creates the sensor jump detector
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Anomaly.MaxTempJump, cfg.Anomaly.MinDataPoints)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.TimestampToleranceMinutes)
}

// ProvidePublisher creates a new publisher instance
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
}

// ProvideHeartbeatStore creates the Redis-backed liveness tracker
func ProvideHeartbeatStore(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*heartbeat.Store, error) {
	return heartbeat.NewStore(lc, logger, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Fleet.LivenessWindow)
}

// ProvideActuationChannel creates the MQTT command channel
func ProvideActuationChannel(lc fx.Lifecycle, cfg *config.Config, store *heartbeat.Store, logger *zap.Logger) *actuation.Channel {
	return actuation.NewChannel(lc, cfg.MQTT, store, logger)
}

// ProvideStateListener creates the state report handler
func ProvideStateListener(
	repo *repository.Repository,
	store *heartbeat.Store,
	channel *actuation.Channel,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *actuation.StateListener {
	return actuation.NewStateListener(repo, store, channel, publisher, cfg.Fleet.AutoPauseDuration, logger)
}

// ProvideIngestService creates the telemetry ingest service
func ProvideIngestService(
	repo *repository.Repository,
	publisher *mq.Publisher,
	evaluator *status.Evaluator,
	anomalyLedger *ledger.Ledger,
	telemetryValidator *validator.Validator,
	detector *anomaly.Detector,
	cfg *config.Config,
	logger *zap.Logger,
) *service.IngestService {
	return service.NewIngestService(repo, publisher, evaluator, anomalyLedger, telemetryValidator, detector, cfg, logger)
}

// ProvideReconcileLoop creates the reconciliation loop
func ProvideReconcileLoop(
	repo *repository.Repository,
	channel *actuation.Channel,
	publisher *mq.Publisher,
	evaluator *status.Evaluator,
	anomalyLedger *ledger.Ledger,
	cfg *config.Config,
	logger *zap.Logger,
) *reconciler.Loop {
	return reconciler.NewLoop(repo, channel, publisher, evaluator, anomalyLedger, cfg.Fleet.ReconcileInterval, cfg.Fleet.ConfirmTimeout, logger)
}

// ProvideAPIHandler creates the HTTP handler set
func ProvideAPIHandler(
	repo *repository.Repository,
	evaluator *status.Evaluator,
	channel *actuation.Channel,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *api.Handler {
	return api.NewHandler(repo, evaluator, channel, publisher, cfg.Fleet.AutoPauseDuration, logger)
}

// ProvideRouter wires the HTTP routes
func ProvideRouter(h *api.Handler) *http.ServeMux {
	return api.NewRouter(h)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}
