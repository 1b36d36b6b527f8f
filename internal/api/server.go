package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}

// NewRouter wires the fleet endpoints onto a ServeMux.
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /devices", h.RegisterDevice)
	mux.HandleFunc("GET /devices", h.ListDevices)
	mux.HandleFunc("GET /devices/{id}", h.GetDevice)
	mux.HandleFunc("PUT /devices/{id}/calibration", h.UpdateCalibration)
	mux.HandleFunc("POST /devices/{id}/toggle", h.Toggle)
	mux.HandleFunc("GET /devices/{id}/control", h.GetControl)
	mux.HandleFunc("PUT /devices/{id}/schedule", h.UpdateSchedule)
	mux.HandleFunc("PUT /devices/{id}/thresholds", h.UpdateThresholds)
	mux.HandleFunc("PUT /devices/{id}/priorities", h.UpdatePriorities)
	mux.HandleFunc("GET /devices/{id}/anomalies", h.ListAnomalies)
	mux.HandleFunc("GET /devices/{id}/readings", h.ListReadings)
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// NewServer starts the HTTP server on the configured port via lifecycle
// hooks.
func NewServer(lc fx.Lifecycle, mux *http.ServeMux, port int, logger *zap.Logger) *http.Server {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info("http server listening", zap.String("addr", server.Addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})

	return server
}
