package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ledger/pkg/autotransfer"
	"ledger/pkg/ledger"
	"ledger/pkg/logging"
	"ledger/pkg/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the ledger and auto-transfer registry over HTTP.
type Server struct {
	ledger   *ledger.Service
	registry *autotransfer.Registry
	executor *autotransfer.Executor
	store    storage.Store
	router   *mux.Router
	server   *http.Server
	config   ServerConfig
	logger   *logging.Logger
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds each handler's context
	RequestTimeout time.Duration

	// Registerer receives the HTTP request metrics. Nil disables them.
	Registerer prometheus.Registerer
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        ":8080",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Deps are the services the API fronts. Executor may be nil when the
// scheduler runs elsewhere.
type Deps struct {
	Ledger   *ledger.Service
	Registry *autotransfer.Registry
	Executor *autotransfer.Executor
	Store    storage.Store
}

// NewServer wires routes for deps.
func NewServer(deps Deps, config ServerConfig) (*Server, error) {
	s := &Server{
		ledger:   deps.Ledger,
		registry: deps.Registry,
		executor: deps.Executor,
		store:    deps.Store,
		config:   config,
		logger:   logging.Global().Named("api"),
	}

	r := mux.NewRouter()

	if config.Registerer != nil {
		m, err := newHTTPMetrics(config.Registerer)
		if err != nil {
			return nil, err
		}
		r.Use(m.middleware)
	}
	r.Use(s.timeoutMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if config.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.HandleFunc("/accounts", s.handleCreateAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id:[0-9]+}", s.handleGetAccount).Methods(http.MethodGet)
	r.HandleFunc("/accounts/by-number/{number}", s.handleGetAccountByNumber).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{id:[0-9]+}/deposit", s.handleDeposit).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id:[0-9]+}/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id:[0-9]+}/close", s.handleClose).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id:[0-9]+}/entries", s.handleEntries).Methods(http.MethodGet)

	r.HandleFunc("/transfers", s.handleTransfer).Methods(http.MethodPost)

	r.HandleFunc("/auto-transfers", s.handleCreateSchedule).Methods(http.MethodPost)
	r.HandleFunc("/auto-transfers/run", s.handleRunSchedules).Methods(http.MethodPost)
	r.HandleFunc("/auto-transfers/{id:[0-9]+}", s.handleGetSchedule).Methods(http.MethodGet)
	r.HandleFunc("/auto-transfers/{id:[0-9]+}/deactivate", s.handleDeactivateSchedule).Methods(http.MethodPost)

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s, nil
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("server listening", zap.String("addr", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	if s.config.RequestTimeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleHealth reports whether the store answers a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			response["status"] = "unhealthy"
			response["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
	}

	writeJSON(w, http.StatusOK, response)
}
