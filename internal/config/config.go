package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	MQTT        MQTTConfig
	Redis       RedisConfig
	Fleet       FleetConfig
	Validation  ValidationConfig
	Anomaly     AnomalyConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL                 string
	TelemetryExchange   string
	TelemetryQueue      string
	TelemetryRoutingKey string
	EventsExchange      string
	DLQQueue            string
	PrefetchCount       int
}

// MQTTConfig holds MQTT broker settings for the device actuation channel
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       int
}

// RedisConfig holds the heartbeat store settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// FleetConfig holds the device status and control timing parameters
type FleetConfig struct {
	OfflineGrace        time.Duration
	LivenessWindow      time.Duration
	AutoPauseDuration   time.Duration
	ReconcileInterval   time.Duration
	ConfirmTimeout      time.Duration
	LowBatteryThreshold int
}

// ValidationConfig holds telemetry validation settings
type ValidationConfig struct {
	TimestampToleranceMinutes int
}

// AnomalyConfig holds sensor jump detection settings
type AnomalyConfig struct {
	MaxTempJump   float64
	MinDataPoints int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "sw-dl100-fleet-worker"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8081),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                 getEnv("RABBITMQ_URL", ""),
			TelemetryExchange:   getEnv("RABBITMQ_TELEMETRY_EXCHANGE", "sw-dl100.telemetry.exchange"),
			TelemetryQueue:      getEnv("RABBITMQ_TELEMETRY_QUEUE", "sw-dl100.telemetry.queue"),
			TelemetryRoutingKey: getEnv("RABBITMQ_TELEMETRY_ROUTING_KEY", "device.telemetry.raw"),
			EventsExchange:      getEnv("RABBITMQ_EVENTS_EXCHANGE", "sw-dl100.worker.events.exchange"),
			DLQQueue:            getEnv("RABBITMQ_DLQ_QUEUE", "sw-dl100.telemetry.dlq"),
			PrefetchCount:       getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		MQTT: MQTTConfig{
			BrokerURL: getEnv("MQTT_BROKER_URL", ""),
			ClientID:  getEnv("MQTT_CLIENT_ID", "sw-dl100-fleet-worker"),
			Username:  getEnv("MQTT_USERNAME", ""),
			Password:  getEnv("MQTT_PASSWORD", ""),
			QoS:       getEnvAsInt("MQTT_QOS", 1),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Fleet: FleetConfig{
			OfflineGrace:        getEnvAsDuration("FLEET_OFFLINE_GRACE", 2*time.Minute),
			LivenessWindow:      getEnvAsDuration("FLEET_LIVENESS_WINDOW", 30*time.Second),
			AutoPauseDuration:   getEnvAsDuration("FLEET_AUTO_PAUSE", time.Hour),
			ReconcileInterval:   getEnvAsDuration("FLEET_RECONCILE_INTERVAL", 10*time.Second),
			ConfirmTimeout:      getEnvAsDuration("FLEET_CONFIRM_TIMEOUT", time.Minute),
			LowBatteryThreshold: getEnvAsInt("FLEET_LOW_BATTERY_THRESHOLD", 21),
		},
		Validation: ValidationConfig{
			TimestampToleranceMinutes: getEnvAsInt("VALIDATION_TIMESTAMP_TOLERANCE_MINUTES", 10080),
		},
		Anomaly: AnomalyConfig{
			MaxTempJump:   getEnvAsFloat("ANOMALY_MAX_TEMP_JUMP", 15.0),
			MinDataPoints: getEnvAsInt("ANOMALY_MIN_DATA_POINTS", 5),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.MQTT.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT_BROKER_URL is required but not set in environment variables")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
