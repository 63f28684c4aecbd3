// Package http exposes the ingestion pipeline and the alert console over a
// JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"fleet-monitor/dms/internal/domain"
	"fleet-monitor/dms/internal/normalize"
	"fleet-monitor/dms/internal/pipeline"
)

const (
	maxBatchBytes     = 10 << 20
	maxTelemetryBytes = 64 << 10
	recentEventsLimit = 50
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Ingestor  *pipeline.Ingestor
	Sessions  *pipeline.SessionService
	Alerts    *pipeline.AlertService
	Telemetry *pipeline.TelemetryIntake
	// Health lists the dependencies checked by /health, keyed by name.
	Health map[string]Pinger
	Log    *zap.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidSession),
		errors.Is(err, domain.ErrRejected),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrMalformedID):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.Log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", name, domain.ErrMalformedID)
	}
	return id, nil
}

func queryID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrMalformedID)
	}
	return &id, nil
}

// queryInt falls back to def when the parameter is absent or not a
// non-negative integer.
func queryInt(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (h *Handlers) IngestEvents(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBytes)).Decode(&req); err != nil || req.Events == nil {
		h.Log.Warn("invalid event batch body", zap.Error(err))
		writeError(w, http.StatusBadRequest, `expected {"events": [...]}`)
		return
	}

	res := h.Ingestor.IngestBatch(r.Context(), *req.Events)
	writeJSON(w, http.StatusOK, batchResponse{
		Message:          fmt.Sprintf("batch of %d events processed", res.Received),
		Received:         res.Received,
		ProcessedCount:   res.Stored,
		SkippedCount:     res.Skipped,
		AlertsRaised:     res.AlertsRaised,
		AlertsSuppressed: res.AlertsSuppressed,
	})
}

func (h *Handlers) eventFilter(r *http.Request, defLimit int) (domain.EventFilter, error) {
	f := domain.EventFilter{
		Offset: queryInt(r, "skip", 0),
		Limit:  queryInt(r, "limit", defLimit),
	}
	var err error
	if f.VehicleID, err = queryID(r, "bus_id"); err != nil {
		return f, err
	}
	if f.DriverID, err = queryID(r, "conductor_id"); err != nil {
		return f, err
	}
	if f.SessionID, err = queryID(r, "session_id"); err != nil {
		return f, err
	}
	return f, nil
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	f, err := h.eventFilter(r, 100)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	events, err := h.Ingestor.Events(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(events, toEventJSON))
}

func (h *Handlers) RecentEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Ingestor.Events(r.Context(), domain.EventFilter{Limit: queryInt(r, "limit", recentEventsLimit)})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(events, toEventJSON))
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ev, err := h.Ingestor.Event(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventJSON(ev))
}

func (h *Handlers) UpsertSession(w http.ResponseWriter, r *http.Request) {
	var raw normalize.RawSession
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session body")
		return
	}
	s, err := h.Sessions.Upsert(r.Context(), raw)
	if err != nil {
		h.Log.Warn("session rejected", zap.String("id_sesion_conduccion_jetson", raw.ExternalID), zap.Error(err))
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionJSON(s))
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.Sessions.Get(r.Context(), mux.Vars(r)["external_id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionJSON(s))
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	f := domain.SessionFilter{
		ActiveOnly: r.URL.Query().Get("active") == "true",
		Offset:     queryInt(r, "skip", 0),
		Limit:      queryInt(r, "limit", 100),
	}
	var err error
	if f.VehicleID, err = queryID(r, "bus_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.DriverID, err = queryID(r, "conductor_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	sessions, err := h.Sessions.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(sessions, toSessionJSON))
}

func (h *Handlers) ActiveSessionForVehicle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bus_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.Sessions.ActiveForVehicle(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionJSON(s))
}

func (h *Handlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.AlertFilter{
		Status: q.Get("status"),
		Type:   domain.AlertType(q.Get("type")),
		Offset: queryInt(r, "skip", 0),
		Limit:  queryInt(r, "limit", 100),
	}
	var err error
	if f.VehicleID, err = queryID(r, "bus_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.DriverID, err = queryID(r, "conductor_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	if f.SessionID, err = queryID(r, "session_id"); err != nil {
		h.fail(w, r, err)
		return
	}
	alerts, err := h.Alerts.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(alerts, toAlertJSON))
}

func (h *Handlers) ActiveAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.Alerts.Active(r.Context(), queryInt(r, "skip", 0), queryInt(r, "limit", 100))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(alerts, toAlertJSON))
}

func (h *Handlers) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.Alerts.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertJSON(a))
}

func (h *Handlers) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req alertUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert update body")
		return
	}
	a, err := h.Alerts.UpdateStatus(r.Context(), id, pipeline.AlertChanges{
		Status:     req.Status,
		ActionType: req.ActionType,
		Comments:   req.Comments,
	}, req.ManagedBy)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertJSON(a))
}

// IngestTelemetry queues a device health sample. A device-bound API key may
// only report for its own device.
func (h *Handlers) IngestTelemetry(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTelemetryBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if bound := DeviceFromContext(r.Context()); bound != "" {
		var peek normalize.RawTelemetry
		if json.Unmarshal(body, &peek) == nil {
			if hw := strings.TrimSpace(peek.HardwareID); hw != "" && hw != bound {
				h.Log.Warn("telemetry for a device other than the key's",
					zap.String("key_device", bound),
					zap.String("hardware_id", hw),
				)
				writeError(w, http.StatusForbidden, "API key not issued to this device")
				return
			}
		}
	}

	_, err = h.Telemetry.Accept(r.Context(), body)
	switch {
	case errors.Is(err, normalize.ErrUndecodable), errors.Is(err, normalize.ErrMissingHardwareID):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.Health))
	healthy := true
	for name, p := range h.Health {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}
