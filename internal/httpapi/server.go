// Package httpapi exposes ingestion, query and advisory endpoints over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"floodwatch/internal/config"
	"floodwatch/internal/logging"
	"floodwatch/internal/metrics"
	"floodwatch/internal/risk"
	"floodwatch/internal/service"
	"floodwatch/internal/storage"
)

// Backend is the service surface the handlers depend on.
type Backend interface {
	Ingest(ctx context.Context, payload storage.ReadingPayload) (service.IngestResult, error)
	Latest(ctx context.Context) (storage.Reading, error)
	Month(ctx context.Context) ([]storage.Reading, error)
	LastHours(ctx context.Context, hours int) ([]storage.Reading, error)
	All(ctx context.Context) ([]storage.Reading, error)
	Assess(ctx context.Context) (risk.Assessment, error)
	Advise(ctx context.Context, question string) (string, risk.Assessment, error)
	Ping(ctx context.Context) error
}

// Options configure the server.
type Options struct {
	HTTP     config.HTTPConfig
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server exposes the API, health, readiness and metrics routes.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     zerolog.Logger
}

// NewServer wires routes and middleware around backend.
func NewServer(backend Backend, opts Options, logger zerolog.Logger) *Server {
	logger = logging.Component(logger, "http")
	h := &apiHandlers{backend: backend, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/", h.hello).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	router.HandleFunc("/readyz", h.readyz).Methods(http.MethodGet)

	router.HandleFunc("/add-water-level", h.ingest).Methods(http.MethodPost)
	router.HandleFunc("/readings", h.ingest).Methods(http.MethodPost)

	router.HandleFunc("/get-water-level", h.latest).Methods(http.MethodGet)
	router.HandleFunc("/waterlevels-month", h.month).Methods(http.MethodGet)
	router.HandleFunc("/waterlevels-last-24-hours", h.last24).Methods(http.MethodGet)
	router.HandleFunc("/waterlevels", h.byHours).Methods(http.MethodGet)

	router.HandleFunc("/assessment", h.assessment).Methods(http.MethodGet)
	for _, path := range []string{"/advisory", "/gemini", "/azureopenai"} {
		router.HandleFunc(path, h.advisory).Methods(http.MethodGet)
	}
	for _, path := range []string{"/advisory/query", "/azureopenai-query"} {
		router.HandleFunc(path, h.query).Methods(http.MethodPost)
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	router.Use(requestID, instrument(opts.Metrics))

	origins := opts.HTTP.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", requestIDHeader}),
	)(router)
	handler = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{logger}))(handler)

	s := &Server{
		handler: handler,
		logger:  logger,
		httpServer: &http.Server{
			Addr:         opts.HTTP.Addr,
			Handler:      handler,
			ReadTimeout:  orDefault(opts.HTTP.ReadTimeout, 10*time.Second),
			WriteTimeout: orDefault(opts.HTTP.WriteTimeout, 60*time.Second),
			IdleTimeout:  orDefault(opts.HTTP.IdleTimeout, 60*time.Second),
		},
	}
	return s
}

// Start begins listening. Returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve accepts connections on l. Returns nil after a graceful shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info().Str("addr", l.Addr().String()).Msg("http server starting")
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the wrapped handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Interface("panic", v).Msg("recovered from handler panic")
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
