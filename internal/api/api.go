package api

import (
	"net/http"
	"time"

	"support-desk-backend/internal/database"
	"support-desk-backend/internal/events"
	"support-desk-backend/internal/identity"
	"support-desk-backend/internal/service/escalation"
	"support-desk-backend/internal/websocket"
	"support-desk-backend/internal/workers"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type RouteRegistrar func(mux *http.ServeMux, s *APIServer)

// Options carries the collaborators the endpoints pull off the server.
type Options struct {
	Logger         *zap.Logger
	Identity       *identity.Provider
	Generator      escalation.Generator
	Events         events.Publisher
	AllowedOrigins []string
	StatsTTL       time.Duration
	VisitorSecret  []byte
}

type APIServer struct {
	listenAddr      string
	pool            *workers.Pool
	db              *database.Database
	routeRegistrars []RouteRegistrar
	handler         *websocket.Handler
	metrics         *metrics
	logger          *zap.Logger
	identity        *identity.Provider
	generator       escalation.Generator
	events          events.Publisher
	allowedOrigins  []string
	statsTTL        time.Duration
	visitorSecret   []byte
}

func NewAPIServer(listenAddr string, pool *workers.Pool, db *database.Database, handler *websocket.Handler, opts Options, registrars ...RouteRegistrar) *APIServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := opts.Events
	if publisher == nil {
		publisher = events.NewFallbackPublisher(logger)
	}

	return &APIServer{
		listenAddr:      listenAddr,
		pool:            pool,
		db:              db,
		handler:         handler,
		routeRegistrars: registrars,
		metrics:         newMetrics(prometheus.DefaultRegisterer, listenAddr, pool),
		logger:          logger,
		identity:        opts.Identity,
		generator:       opts.Generator,
		events:          publisher,
		allowedOrigins:  opts.AllowedOrigins,
		statsTTL:        opts.StatsTTL,
		visitorSecret:   opts.VisitorSecret,
	}
}

func (s *APIServer) Run() {
	mux := http.NewServeMux()

	for _, reg := range s.routeRegistrars {
		reg(mux, s)
	}

	mux.Handle("/metrics", s.metrics.metricsHandler())

	s.logger.Info("server listening", zap.String("addr", s.listenAddr))

	if err := http.ListenAndServe(s.listenAddr, s.metrics.instrument(mux)); err != nil {
		s.logger.Error("server stopped", zap.Error(err))
	}
}

func (s *APIServer) Database() *database.Database {
	return s.db
}

func (s *APIServer) Handler() *websocket.Handler {
	return s.handler
}

func (s *APIServer) Logger() *zap.Logger {
	return s.logger
}

func (s *APIServer) IdentityProvider() *identity.Provider {
	return s.identity
}

func (s *APIServer) Generator() escalation.Generator {
	return s.generator
}

func (s *APIServer) Events() events.Publisher {
	return s.events
}

func (s *APIServer) StatsTTL() time.Duration {
	return s.statsTTL
}

func (s *APIServer) VisitorSecret() []byte {
	return s.visitorSecret
}
