// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/metrics"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/models"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/service"
)

// Service interfaces for dependency injection and testing

// UploadServiceInterface stores CSV uploads
type UploadServiceInterface interface {
	Upload(ctx context.Context, in service.UploadInput) (*service.UploadResult, error)
}

// PortfolioServiceInterface serves the aggregated dashboard views
type PortfolioServiceInterface interface {
	Holdings(ctx context.Context) (*service.AggregatedPortfolio, error)
	Summary(ctx context.Context) (*service.Summary, error)
	CashBreakdown(ctx context.Context) ([]service.BreakdownEntry, error)
	AssetBreakdown(ctx context.Context) ([]service.BreakdownEntry, error)
	FundDetail(ctx context.Context, symbol string) (*service.FundDetail, error)
	TopHoldings(ctx context.Context) (*service.TopHoldings, error)
}

// RiskServiceInterface computes risk metrics
type RiskServiceInterface interface {
	Metrics(ctx context.Context) (*service.RiskMetrics, error)
}

// HistoryServiceInterface lists recorded portfolio history
type HistoryServiceInterface interface {
	List(ctx context.Context, from, to time.Time) ([]models.AggregateSnapshot, error)
}

// SettingsServiceInterface reads and updates user settings
type SettingsServiceInterface interface {
	Get(ctx context.Context) (*models.UserSettings, error)
	Update(ctx context.Context, in service.UpdateInput) (*models.UserSettings, error)
}

// AccountLister lists broker accounts
type AccountLister interface {
	List(ctx context.Context) ([]*models.BrokerAccount, error)
}

// SnapshotLookup finds a snapshot by id; nil when absent
type SnapshotLookup interface {
	GetByID(ctx context.Context, id int64) (*models.PortfolioSnapshot, error)
}

// StatusProvider exposes the resolution tracker. Current reports a run in
// another process when this one is idle.
type StatusProvider interface {
	Current(ctx context.Context) models.ResolutionStatus
}

// ResolutionQueue accepts snapshots for background resolution
type ResolutionQueue interface {
	Enqueue(snapshotID int64) (bool, error)
	Pending() int
	Active() int64
}

// Sweeper queues every snapshot with unresolved holdings
type Sweeper interface {
	RunNow(ctx context.Context) (int, error)
}

// Services bundles the server's collaborators
type Services struct {
	Uploads   UploadServiceInterface
	Portfolio PortfolioServiceInterface
	Risk      RiskServiceInterface
	History   HistoryServiceInterface
	Settings  SettingsServiceInterface
	Accounts  AccountLister
	Snapshots SnapshotLookup
	Status    StatusProvider
	Queue     ResolutionQueue
	Sweeper   Sweeper
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   Services
	config     *ServerConfig
	logger     *logging.Logger
	now        func() time.Time
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxUploadSize   int64
	RequestsPerSec  int // per client
	Burst           int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services Services, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.MaxUploadSize <= 0 {
		config.MaxUploadSize = 10 << 20
	}
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec, s.config.Burst)

	// order matters
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/uploads", s.handleUpload).Methods("POST")

	// Holdings endpoints
	api.HandleFunc("/holdings", s.handleGetHoldings).Methods("GET")
	api.HandleFunc("/holdings/summary", s.handleGetSummary).Methods("GET")
	api.HandleFunc("/holdings/cash-breakdown", s.handleGetCashBreakdown).Methods("GET")
	api.HandleFunc("/holdings/asset-breakdown", s.handleGetAssetBreakdown).Methods("GET")
	api.HandleFunc("/holdings/top", s.handleGetTopHoldings).Methods("GET")
	api.HandleFunc("/holdings/{symbol}/underlying", s.handleGetUnderlying).Methods("GET")
	api.HandleFunc("/risk", s.handleGetRisk).Methods("GET")

	// Resolution endpoints
	api.HandleFunc("/resolution/status", s.handleResolutionStatus).Methods("GET")
	api.HandleFunc("/resolution/snapshots/{id:[0-9]+}", s.handleEnqueueSnapshot).Methods("POST")
	api.HandleFunc("/resolution/sweep", s.handleSweep).Methods("POST")

	api.HandleFunc("/accounts", s.handleListAccounts).Methods("GET")
	api.HandleFunc("/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods("PUT")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "portfolio-analyzer",
	})
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
