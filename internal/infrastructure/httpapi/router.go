// Package httpapi exposes the pipeline trigger, run status and metrics over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"DigestCurator/internal/ports"
	"DigestCurator/internal/usecase"
)

const apiKeyHeader = "X-API-Key"

// Trigger starts pipeline cycles in the background.
type Trigger interface {
	Trigger(ctx context.Context, opts usecase.RunOptions) error
}

// Deps wires the handlers to the application.
type Deps struct {
	Trigger          Trigger
	Runs             ports.RunRepository
	Health           ports.HealthChecker
	Secret           string
	TriggerPerMinute int
	Logger           *slog.Logger
}

type handler struct {
	trigger Trigger
	runs    ports.RunRepository
	health  ports.HealthChecker
	secret  []byte
	logger  *slog.Logger
}

// NewRouter builds the chi router.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.TriggerPerMinute <= 0 {
		deps.TriggerPerMinute = 5
	}
	h := &handler{
		trigger: deps.Trigger,
		runs:    deps.Runs,
		health:  deps.Health,
		secret:  []byte(deps.Secret),
		logger:  deps.Logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.accessLog)

	r.With(httprate.LimitByIP(deps.TriggerPerMinute, time.Minute)).Post("/run-digest", h.runDigest)
	r.Get("/pipeline/status", h.pipelineStatus)
	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (h *handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()))
	})
}

func (h *handler) authorized(r *http.Request) bool {
	if len(h.secret) == 0 {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(r.Header.Get(apiKeyHeader)), h.secret) == 1
}

func (h *handler) runDigest(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid API key"})
		return
	}

	force, _ := strconv.ParseBool(r.URL.Query().Get("force_ingest"))
	err := h.trigger.Trigger(r.Context(), usecase.RunOptions{ForceIngest: force})
	switch {
	case errors.Is(err, usecase.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"detail": "Pipeline is already running"})
	case err != nil:
		h.logger.Error("trigger pipeline failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Could not start pipeline"})
	default:
		h.logger.Info("pipeline triggered over http", "force_ingest", force)
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "Pipeline triggered in background"})
	}
}

func (h *handler) pipelineStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := usecase.LatestStatus(r.Context(), h.runs)
	if err != nil {
		h.logger.Error("read pipeline status failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Could not read pipeline status"})
		return
	}
	if snap.Status == usecase.StatusIdle {
		writeJSON(w, http.StatusOK, map[string]string{"status": usecase.StatusIdle})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
