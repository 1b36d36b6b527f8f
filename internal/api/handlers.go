package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/db"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/events"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/policy"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/repository"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/status"
)

// Commander pushes manual relay commands, bypassing the liveness gate.
type Commander interface {
	Send(ctx context.Context, deviceID string, on bool) error
}

// Publisher emits domain events for control changes made over the API.
type Publisher interface {
	PublishEvent(ctx context.Context, event events.Event) error
}

// Handler serves the fleet management endpoints.
type Handler struct {
	repo      *repository.Repository
	evaluator *status.Evaluator
	commander Commander
	publisher Publisher
	pause     time.Duration
	logger    *zap.Logger
}

func NewHandler(repo *repository.Repository, evaluator *status.Evaluator, commander Commander, publisher Publisher, pause time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		repo:      repo,
		evaluator: evaluator,
		commander: commander,
		publisher: publisher,
		pause:     pause,
		logger:    logger,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var validationErr *repository.ValidationError
	switch {
	case errors.Is(err, repository.ErrDeviceNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
	case errors.As(err, &validationErr):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": validationErr.Error(),
			"field": validationErr.Field,
		})
	default:
		h.logger.Error("request failed", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

type deviceResponse struct {
	DeviceID        string      `json:"device_id"`
	Name            *string     `json:"name"`
	Status          string      `json:"status"`
	Conditions      []string    `json:"conditions"`
	Temperature     *float64    `json:"temperature"`
	Humidity        *float64    `json:"humidity"`
	BatteryLevel    *int        `json:"battery_level"`
	WifiStrength    *int        `json:"wifi_strength"`
	LastUpdate      *time.Time  `json:"last_update"`
	MinTemp         *float64    `json:"min_temp"`
	MaxTemp         *float64    `json:"max_temp"`
	MinHum          *float64    `json:"min_hum"`
	MaxHum          *float64    `json:"max_hum"`
	IntervalLocal   int         `json:"interval_local"`
	IntervalRemote  int         `json:"interval_remote"`
	FirmwareVersion string      `json:"firmware_version"`
}

func (h *Handler) deviceView(device *db.Device, now time.Time) deviceResponse {
	conditions := h.evaluator.Conditions(device, now)
	kinds := make([]string, 0, len(conditions))
	for _, c := range conditions {
		kinds = append(kinds, string(c.Kind))
	}
	return deviceResponse{
		DeviceID:        device.DeviceID,
		Name:            device.Name,
		Status:          string(h.evaluator.Evaluate(device, now)),
		Conditions:      kinds,
		Temperature:     device.Temperature,
		Humidity:        device.Humidity,
		BatteryLevel:    device.BatteryLevel,
		WifiStrength:    device.WifiStrength,
		LastUpdate:      device.LastUpdate,
		MinTemp:         device.MinTemp,
		MaxTemp:         device.MaxTemp,
		MinHum:          device.MinHum,
		MaxHum:          device.MaxHum,
		IntervalLocal:   device.IntervalLocal,
		IntervalRemote:  device.IntervalRemote,
		FirmwareVersion: device.FirmwareVersion,
	}
}

type controlResponse struct {
	DeviceID           string             `json:"device_id"`
	IsOn               bool               `json:"is_on"`
	LastConfirmedState bool               `json:"last_confirmed_state"`
	AutoSchedule       bool               `json:"auto_schedule"`
	AutoOn             *string            `json:"auto_on"`
	AutoOff            *string            `json:"auto_off"`
	TempControlEnabled bool               `json:"temp_control_enabled"`
	TempOnThreshold    *float64           `json:"temp_on_threshold"`
	TempOffThreshold   *float64           `json:"temp_off_threshold"`
	ControlPriority    string             `json:"control_priority"`
	AutoPauseUntil     *time.Time         `json:"auto_pause_until"`
	LastSeen           *time.Time         `json:"last_seen"`
	Pending            bool               `json:"pending_confirmation"`
	Priorities         []priorityResponse `json:"priorities"`
}

type priorityResponse struct {
	Feature  string `json:"feature"`
	Priority int    `json:"priority"`
}

func controlView(deviceID string, control *db.ControlState, priorities []db.FeaturePriority) controlResponse {
	resp := controlResponse{
		DeviceID:           deviceID,
		IsOn:               control.IsOn,
		LastConfirmedState: control.LastConfirmedState,
		AutoSchedule:       control.AutoSchedule,
		TempControlEnabled: control.TempControlEnabled,
		TempOnThreshold:    control.TempOnThreshold,
		TempOffThreshold:   control.TempOffThreshold,
		ControlPriority:    control.ControlPriority,
		AutoPauseUntil:     control.AutoPauseUntil,
		LastSeen:           control.LastSeen,
		Pending:            control.PendingConfirmation,
		Priorities:         make([]priorityResponse, 0, len(priorities)),
	}
	if control.AutoOn != nil {
		clock := policy.FormatTimeOfDay(*control.AutoOn)
		resp.AutoOn = &clock
	}
	if control.AutoOff != nil {
		clock := policy.FormatTimeOfDay(*control.AutoOff)
		resp.AutoOff = &clock
	}
	for _, fp := range priorities {
		resp.Priorities = append(resp.Priorities, priorityResponse{Feature: fp.Feature, Priority: fp.Priority})
	}
	return resp
}

type registerRequest struct {
	DeviceID             string   `json:"device_id"`
	Name                 *string  `json:"name"`
	AccountID            string   `json:"account_id"`
	HasTemperatureSensor bool     `json:"has_temperature_sensor"`
	HasHumiditySensor    bool     `json:"has_humidity_sensor"`
	MinTemp              *float64 `json:"min_temp"`
	MaxTemp              *float64 `json:"max_temp"`
	MinHum               *float64 `json:"min_hum"`
	MaxHum               *float64 `json:"max_hum"`
	IntervalLocal        int      `json:"interval_local"`
	IntervalRemote       int      `json:"interval_remote"`
	FirmwareVersion      string   `json:"firmware_version"`
}

// RegisterDevice handles POST /devices
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	accountID, err := parseUUID(req.AccountID)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid account_id"})
		return
	}

	device, err := h.repo.RegisterDevice(r.Context(), repository.NewDeviceParams{
		DeviceID:             req.DeviceID,
		Name:                 req.Name,
		AccountID:            accountID,
		HasTemperatureSensor: req.HasTemperatureSensor,
		HasHumiditySensor:    req.HasHumiditySensor,
		MinTemp:              req.MinTemp,
		MaxTemp:              req.MaxTemp,
		MinHum:               req.MinHum,
		MaxHum:               req.MaxHum,
		IntervalLocal:        req.IntervalLocal,
		IntervalRemote:       req.IntervalRemote,
		FirmwareVersion:      req.FirmwareVersion,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("device registered", zap.String("device_id", device.DeviceID))
	h.writeJSON(w, http.StatusCreated, h.deviceView(device, time.Now().UTC()))
}

// ListDevices handles GET /devices
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.repo.ListDevices(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	now := time.Now().UTC()
	views := make([]deviceResponse, 0, len(devices))
	for i := range devices {
		views = append(views, h.deviceView(&devices[i], now))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"devices": views})
}

// GetDevice handles GET /devices/{id}
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := h.repo.GetDevice(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.deviceView(device, time.Now().UTC()))
}

type calibrationRequest struct {
	MinTemp        *float64 `json:"min_temp"`
	MaxTemp        *float64 `json:"max_temp"`
	MinHum         *float64 `json:"min_hum"`
	MaxHum         *float64 `json:"max_hum"`
	IntervalLocal  int      `json:"interval_local"`
	IntervalRemote int      `json:"interval_remote"`
}

// UpdateCalibration handles PUT /devices/{id}/calibration
func (h *Handler) UpdateCalibration(w http.ResponseWriter, r *http.Request) {
	var req calibrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	device, err := h.repo.UpdateCalibration(r.Context(), r.PathValue("id"), repository.CalibrationParams{
		MinTemp:        req.MinTemp,
		MaxTemp:        req.MaxTemp,
		MinHum:         req.MinHum,
		MaxHum:         req.MaxHum,
		IntervalLocal:  req.IntervalLocal,
		IntervalRemote: req.IntervalRemote,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.deviceView(device, time.Now().UTC()))
}

// Toggle handles POST /devices/{id}/toggle. A manual toggle flips the relay
// immediately and pauses automation, so the loop does not fight the user.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	device, err := h.repo.GetDevice(r.Context(), deviceID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	now := time.Now().UTC()
	control, err := h.repo.ApplyManualToggle(r.Context(), deviceID, now, h.pause)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.commander.Send(r.Context(), deviceID, control.IsOn); err != nil {
		h.logger.Error("failed to push manual command",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		h.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "command delivery failed"})
		return
	}

	h.logger.Info("manual toggle",
		zap.String("device_id", deviceID),
		zap.Bool("is_on", control.IsOn),
	)

	if err := h.publisher.PublishEvent(r.Context(), events.NewControlChanged(device, control, "manual", now)); err != nil {
		h.logger.Error("failed to publish control change event", zap.Error(err))
	}

	priorities, err := h.repo.ListPriorities(r.Context(), device.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, controlView(deviceID, control, priorities))
}

// GetControl handles GET /devices/{id}/control
func (h *Handler) GetControl(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	device, err := h.repo.GetDevice(r.Context(), deviceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	control, err := h.repo.GetControlByID(r.Context(), device.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	priorities, err := h.repo.ListPriorities(r.Context(), device.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, controlView(deviceID, control, priorities))
}

type scheduleRequest struct {
	Enabled bool    `json:"enabled"`
	AutoOn  *string `json:"auto_on"`
	AutoOff *string `json:"auto_off"`
}

// UpdateSchedule handles PUT /devices/{id}/schedule
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	params := repository.ScheduleParams{Enabled: req.Enabled}
	if req.AutoOn != nil {
		minutes, err := policy.ParseTimeOfDay(*req.AutoOn)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "auto_on must be HH:MM"})
			return
		}
		params.AutoOn = &minutes
	}
	if req.AutoOff != nil {
		minutes, err := policy.ParseTimeOfDay(*req.AutoOff)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "auto_off must be HH:MM"})
			return
		}
		params.AutoOff = &minutes
	}

	h.finishControlUpdate(w, r, func(ctx context.Context, now time.Time) (*db.ControlState, error) {
		return h.repo.UpdateSchedule(ctx, r.PathValue("id"), params, now)
	})
}

type thresholdRequest struct {
	Enabled      bool     `json:"enabled"`
	OnThreshold  *float64 `json:"temp_on_threshold"`
	OffThreshold *float64 `json:"temp_off_threshold"`
}

// UpdateThresholds handles PUT /devices/{id}/thresholds
func (h *Handler) UpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	h.finishControlUpdate(w, r, func(ctx context.Context, now time.Time) (*db.ControlState, error) {
		return h.repo.UpdateThresholds(ctx, r.PathValue("id"), repository.ThresholdParams{
			Enabled:      req.Enabled,
			OnThreshold:  req.OnThreshold,
			OffThreshold: req.OffThreshold,
		}, now)
	})
}

type priorityRequest struct {
	ControlPriority *string            `json:"control_priority"`
	Priorities      []priorityResponse `json:"priorities"`
}

// UpdatePriorities handles PUT /devices/{id}/priorities
func (h *Handler) UpdatePriorities(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	deviceID := r.PathValue("id")
	if len(req.Priorities) > 0 {
		priorities := make([]db.FeaturePriority, 0, len(req.Priorities))
		for _, p := range req.Priorities {
			priorities = append(priorities, db.FeaturePriority{Feature: p.Feature, Priority: p.Priority})
		}
		if err := h.repo.ReplacePriorities(r.Context(), deviceID, priorities); err != nil {
			h.writeError(w, err)
			return
		}
	}

	if req.ControlPriority != nil {
		h.finishControlUpdate(w, r, func(ctx context.Context, now time.Time) (*db.ControlState, error) {
			return h.repo.UpdatePrioritySelector(ctx, deviceID, *req.ControlPriority, now)
		})
		return
	}

	h.GetControl(w, r)
}

func (h *Handler) finishControlUpdate(w http.ResponseWriter, r *http.Request, update func(ctx context.Context, now time.Time) (*db.ControlState, error)) {
	deviceID := r.PathValue("id")

	device, err := h.repo.GetDevice(r.Context(), deviceID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	now := time.Now().UTC()
	control, err := update(r.Context(), now)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.publisher.PublishEvent(r.Context(), events.NewControlChanged(device, control, "manual", now)); err != nil {
		h.logger.Error("failed to publish control change event", zap.Error(err))
	}

	priorities, err := h.repo.ListPriorities(r.Context(), device.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, controlView(deviceID, control, priorities))
}

type anomalyResponse struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Message    string     `json:"message"`
	OpenedAt   time.Time  `json:"opened_at"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at"`
}

// ListAnomalies handles GET /devices/{id}/anomalies
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	device, err := h.repo.GetDevice(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	openOnly := r.URL.Query().Get("open") == "true"
	records, err := h.repo.ListAnomalies(r.Context(), device.ID, openOnly, 100)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]anomalyResponse, 0, len(records))
	for _, record := range records {
		views = append(views, anomalyResponse{
			ID:         record.ID.String(),
			Kind:       record.Kind,
			Message:    record.Message,
			OpenedAt:   record.OpenedAt,
			Resolved:   record.Resolved,
			ResolvedAt: record.ResolvedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"anomalies": views})
}

type readingResponse struct {
	Temperature *float64  `json:"temperature"`
	Humidity    *float64  `json:"humidity"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// ListReadings handles GET /devices/{id}/readings
func (h *Handler) ListReadings(w http.ResponseWriter, r *http.Request) {
	device, err := h.repo.GetDevice(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	readings, err := h.repo.RecentReadings(r.Context(), device.ID, 100)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]readingResponse, 0, len(readings))
	for _, reading := range readings {
		views = append(views, readingResponse{
			Temperature: reading.Temperature,
			Humidity:    reading.Humidity,
			RecordedAt:  reading.RecordedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"readings": views})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}
