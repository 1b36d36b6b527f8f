// Package heartbeat tracks per-device liveness in Redis. Each state report
// refreshes a key whose TTL equals the liveness window, so reachability is
// a single EXISTS check on the hot path of the reconciliation loop.
package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Store is the Redis-backed heartbeat tracker.
type Store struct {
	client *redis.Client
	window time.Duration
	logger *zap.Logger
}

// NewStore connects to Redis and registers lifecycle hooks. The window is
// the liveness threshold used for the turn-on safety gate.
func NewStore(lc fx.Lifecycle, logger *zap.Logger, addr, password string, dbNum int, window time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         dbNum,
		MaxRetries: 3,
	})

	store := &Store{
		client: client,
		window: window,
		logger: logger,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("[REDIS CONNECTION FAILED] cannot reach heartbeat store at %s: %w", addr, err)
			}
			logger.Info("heartbeat store connected", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return store, nil
}

func heartbeatKey(deviceID string) string {
	return fmt.Sprintf("heartbeat:%s", deviceID)
}

// Touch records a device heartbeat. The key expires after the liveness
// window, so a silent device goes dead without any cleanup pass.
func (s *Store) Touch(ctx context.Context, deviceID string, now time.Time) error {
	key := heartbeatKey(deviceID)
	if err := s.client.Set(ctx, key, now.Format(time.RFC3339), s.window).Err(); err != nil {
		return fmt.Errorf("failed to record heartbeat for %s: %w", deviceID, err)
	}
	return nil
}

// Alive reports whether the device has a heartbeat inside the liveness
// window. Errors are returned as not-alive: an unreachable store must never
// make an unreachable device look reachable.
func (s *Store) Alive(ctx context.Context, deviceID string) bool {
	n, err := s.client.Exists(ctx, heartbeatKey(deviceID)).Result()
	if err != nil {
		s.logger.Warn("heartbeat lookup failed, treating device as unreachable",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		return false
	}
	return n > 0
}
