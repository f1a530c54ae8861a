// Package httphandler is the HTTP driving adapter that serves the
// diagnostic REST API.
package httphandler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/apconole/pw-ci/internal/application"
	"github.com/apconole/pw-ci/internal/domain/port/driven"
)

// Handler serves the diagnostic API over the monitor's stores.
type Handler struct {
	seriesStore  driven.SeriesStore
	attemptStore driven.AttemptStore
	monitor      *application.MonitorService
	logger       *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	seriesStore driven.SeriesStore,
	attemptStore driven.AttemptStore,
	monitor *application.MonitorService,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		seriesStore:  seriesStore,
		attemptStore: attemptStore,
		monitor:      monitor,
		logger:       logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/series", h.ListSeries)
	mux.HandleFunc("GET /api/v1/series/{id}/attempts", h.ListSeriesAttempts)
	mux.HandleFunc("POST /api/v1/poll", h.TriggerPoll)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery sits inside the access log so panicking requests still get
	// their log line.
	wrapped := withRecovery(logger, mux)
	wrapped = withAccessLog(logger, wrapped)

	return wrapped
}

// ListSeries returns all actively tracked series.
func (h *Handler) ListSeries(w http.ResponseWriter, r *http.Request) {
	series, err := h.seriesStore.ListActive(r.Context())
	if err != nil {
		h.logger.Error("failed to list series", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]SeriesResponse, 0, len(series))
	for _, s := range series {
		resp = append(resp, toSeriesResponse(s))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListSeriesAttempts returns every build attempt recorded for one series,
// with its accumulated run classifications.
func (h *Handler) ListSeriesAttempts(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid series id")
		return
	}

	series, err := h.seriesStore.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get series", "series", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if series == nil {
		writeError(w, http.StatusNotFound, "series not found")
		return
	}

	attempts, err := h.attemptStore.ListBySeries(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list attempts", "series", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]AttemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		runs, err := h.attemptStore.GetRuns(r.Context(), attempt.ID)
		if err != nil {
			h.logger.Error("failed to load runs", "attempt", attempt.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		resp = append(resp, toAttemptResponse(attempt, runs))
	}

	writeJSON(w, http.StatusOK, resp)
}

// TriggerPoll runs one monitor cycle synchronously and reports its outcome.
func (h *Handler) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor not running")
		return
	}

	start := time.Now()
	if err := h.monitor.PollNow(r.Context()); err != nil {
		h.logger.Error("manual poll failed", "error", err)
		writeError(w, http.StatusInternalServerError, "poll cycle failed")
		return
	}

	writeJSON(w, http.StatusOK, PollResponse{
		Status:   "ok",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	})
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
