// Package server exposes a running flow over HTTP: dispatching actions,
// reading and replacing the context, rule results, the batch journal, a
// websocket event stream and prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/flowrt/internal/engine"
	"github.com/roach88/flowrt/internal/events"
	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/machine"
	"github.com/roach88/flowrt/internal/rules"
	"github.com/roach88/flowrt/internal/store"
)

// Journal reads the batch journal. Implemented by *store.Store.
type Journal interface {
	ReadBatches(ctx context.Context, flowID string) ([]ir.BatchRecord, error)
}

var _ Journal = (*store.Store)(nil)

// Options wires the server to a running flow.
type Options struct {
	FlowID     string
	Machine    *machine.Machine
	Dispatcher *engine.Dispatcher
	Executor   *rules.Executor // defaults to rules.NewExecutor(nil)
	Definition *ir.Definition  // nil disables the element endpoints
	// Elements, if set, serves the current page's element results and
	// pushes every recomputation to websocket clients.
	Elements *rules.ElementWatcher
	Hub      *events.Hub // nil disables the websocket stream
	Journal  Journal     // nil disables the journal endpoint
}

// Server is the HTTP surface of one flow.
type Server struct {
	opts   Options
	router *chi.Mux
}

// New builds the router.
func New(opts Options) (*Server, error) {
	if opts.Machine == nil {
		return nil, errors.New("server: machine is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("server: dispatcher is required")
	}
	if opts.Executor == nil {
		opts.Executor = rules.NewExecutor(nil)
	}
	s := &Server{opts: opts}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/v1/events/ws", s.handleEventStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/api/v1/health", s.handleHealth)

		r.Post("/api/v1/actions", s.handleDispatch)
		r.Post("/api/v1/actions/process", s.handleProcess)

		r.Get("/api/v1/context", s.handleGetContext)
		r.Put("/api/v1/context", s.handlePutContext)
		r.Post("/api/v1/values", s.handleSetValue)

		r.Get("/api/v1/state", s.handleGetState)
		r.Post("/api/v1/events", s.handleSendEvent)

		r.Get("/api/v1/elements", s.handleElements)
		r.Post("/api/v1/rules/evaluate", s.handleEvaluate)

		r.Get("/api/v1/batches", s.handleBatches)
	})

	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs each request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}
