// Package statusapi exposes a watch over HTTP:
//
//	GET  /health       liveness
//	GET  /api/state    stored digest and run counters
//	GET  /api/preview  dry run: items, digest and verdict, no side effects
//	POST /api/run      one detection pass (409 while another is running)
//	GET  /metrics      Prometheus exposition
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/pagewatch/config"
	"github.com/hazyhaar/pagewatch/engine"
	"github.com/hazyhaar/pagewatch/metrics"
	"github.com/hazyhaar/pagewatch/shield"
	"github.com/hazyhaar/pagewatch/watch"
)

// Service is the part of *watch.Service the API needs.
type Service interface {
	Run(ctx context.Context) (*engine.Result, error)
	Preview(ctx context.Context) (*engine.Result, error)
	Status(ctx context.Context) (*watch.Status, error)
	Config() config.Config
	Metrics() *metrics.Metrics
}

// NewRouter builds the chi router for svc.
func NewRouter(svc Service, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.DefaultStack(logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", svc.Metrics().Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.state)
		r.Get("/preview", h.preview)
		r.Post("/run", h.run)
	})
	return r
}

// NewServer wraps the router in an http.Server. WriteTimeout covers a full
// fetch plus notification.
func NewServer(addr string, svc Service, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
}

type handler struct {
	svc    Service
	logger *slog.Logger
}

func (h *handler) state(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		shield.GetLogger(r.Context()).Error("statusapi: status", "error", err)
		writeError(w, http.StatusInternalServerError, err, engine.StageLoad)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) preview(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Preview(r.Context())
	if err != nil {
		stage := engine.StageOf(err)
		writeError(w, statusFor(stage), err, stage)
		return
	}
	cfg := h.svc.Config()
	writeJSON(w, http.StatusOK, watch.NewPreviewResponse(cfg.WatchID, cfg.TargetURL, res))
}

// run outlives the request: a client disconnect must not abort a pass
// between notifying and persisting.
func (h *handler) run(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Run(context.WithoutCancel(r.Context()))
	if errors.Is(err, watch.ErrBusy) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, statusFor(engine.StageOf(err)), watch.NewRunResponse(res, err))
		return
	}
	writeJSON(w, http.StatusOK, watch.NewRunResponse(res, nil))
}

// statusFor maps a failed stage to an HTTP status: upstream failures are
// 502, local ones 500.
func statusFor(stage engine.Stage) int {
	switch stage {
	case engine.StageFetch, engine.StageExtract, engine.StageNotify:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error, stage engine.Stage) {
	body := map[string]string{"error": err.Error()}
	if stage != engine.StageNone {
		body["failed_stage"] = stage.String()
	}
	writeJSON(w, code, body)
}
