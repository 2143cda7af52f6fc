package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"infrasense-backend/internal/pipeline"
	"infrasense-backend/internal/storage"
	"infrasense-backend/internal/sweeper"
)

type Handler struct {
	Gateway          *pipeline.Gateway
	Sweeper          *sweeper.Sweeper
	OfflineThreshold time.Duration
	Timeout          time.Duration
}

type batchRequest struct {
	Items []pipeline.IngestItem `json:"items"`
}

type ackRequest struct {
	Who string `json:"who"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/readings", func(r chi.Router) {
		r.Post("/", h.handleIngestOne)
		r.Post("/batch", h.handleIngestBatch)
		r.Get("/", h.handleListReadings)
	})
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.handleListAlerts)
		r.Post("/{id}/ack", h.handleAcknowledge)
	})
	r.Post("/sweep", h.handleSweep)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
}

func (h *Handler) handleIngestOne(w http.ResponseWriter, r *http.Request) {
	var item pipeline.IngestItem
	if err := decodeJSON(r, &item); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	reading, err := h.Gateway.IngestOne(r.Context(), item)
	if err != nil {
		writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reading)
}

// handleIngestBatch reports only the successfully ingested readings; callers
// detect failures from the count delta and the service logs.
func (h *Handler) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	results := h.Gateway.IngestBatch(r.Context(), req.Items)
	writeJSON(w, http.StatusOK, map[string]any{
		"requested": len(req.Items),
		"ingested":  len(results),
		"readings":  results,
	})
}

func (h *Handler) handleListReadings(w http.ResponseWriter, r *http.Request) {
	sensorID := r.URL.Query().Get("sensorId")
	if sensorID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "sensorId is required"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	readings, err := h.Gateway.ListReadings(ctx, sensorID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list readings"})
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.AlertFilter{
		SensorID: q.Get("sensorId"),
		Kind:     q.Get("kind"),
	}
	if ack := q.Get("acknowledged"); ack != "" {
		parsed, err := strconv.ParseBool(ack)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "acknowledged must be a boolean"})
			return
		}
		filter.Acknowledged = &parsed
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	alerts, err := h.Gateway.ListAlerts(ctx, filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to list alerts"})
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if req.Who == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "who is required"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	alert, err := h.Gateway.Acknowledge(ctx, id, req.Who)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "alert not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to acknowledge alert"})
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	flagged, err := h.Sweeper.Sweep(ctx, h.OfflineThreshold)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "sweep failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flagged": flagged})
}

func writeIngestError(w http.ResponseWriter, err error) {
	var verr *pipeline.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "code": verr.Code, "message": verr.Message})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "sensor not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "ingestion failed"})
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
