// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/yield-scanner/internal/logging"
	"github.com/yield-scanner/internal/models"
	"github.com/yield-scanner/internal/service"
	"github.com/yield-scanner/internal/storage"
)

// Service interfaces for dependency injection and testing

// YieldServiceInterface defines the interface for yield attribution operations
type YieldServiceInterface interface {
	GetPortfolioYield(ctx context.Context, userID string, windowDays int) (*service.PortfolioSummary, error)
	GetPositionYield(ctx context.Context, userID, poolID, assetAddress string, windowDays int) (*service.YieldBreakdown, error)
	GetBorrowCost(ctx context.Context, userID string, windowDays int) (*service.PortfolioSummary, error)
}

// UserStoreInterface defines the user persistence operations the API needs
type UserStoreInterface interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// PriceHistoryInterface defines price history reads for the asset endpoint
type PriceHistoryInterface interface {
	GetPriceRange(ctx context.Context, assetAddress string, from, to time.Time) ([]models.PriceSnapshot, error)
}

// EventIngestInterface defines the indexer webhook's write path
type EventIngestInterface interface {
	SaveEvents(ctx context.Context, events []models.PositionEvent) error
}

// RegistryWriterInterface registers positions discovered by the webhook
type RegistryWriterInterface interface {
	Upsert(ctx context.Context, pos *models.TrackedPosition) error
}

// CacheInvalidatorInterface drops stale cached summaries after ingest
type CacheInvalidatorInterface interface {
	InvalidateUser(ctx context.Context, userID string) error
}

// PoolStoreInterface defines pool metadata access for the pools endpoints
type PoolStoreInterface interface {
	List(ctx context.Context) ([]storage.Pool, error)
	GetByPoolID(ctx context.Context, poolID string) (*storage.Pool, error)
	Upsert(ctx context.Context, pool *storage.Pool) error
}

// Server represents the HTTP API server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	yieldService YieldServiceInterface
	userStore    UserStoreInterface
	priceHistory PriceHistoryInterface
	eventIngest  EventIngestInterface
	registry     RegistryWriterInterface
	cache        CacheInvalidatorInterface
	pools        PoolStoreInterface
	config       *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	FreeTierRPS     int // Requests per second for free tier
	PaidTierRPS     int // Requests per second for paid tier
}

// NewServer creates a new API server instance. cache may be nil.
func NewServer(
	config *ServerConfig,
	yieldService YieldServiceInterface,
	userStore UserStoreInterface,
	priceHistory PriceHistoryInterface,
	eventIngest EventIngestInterface,
	registry RegistryWriterInterface,
	cache CacheInvalidatorInterface,
	pools PoolStoreInterface,
) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		yieldService: yieldService,
		userStore:    userStore,
		priceHistory: priceHistory,
		eventIngest:  eventIngest,
		registry:     registry,
		cache:        cache,
		pools:        pools,
		config:       config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.FreeTierRPS, s.config.PaidTierRPS)

	// Middleware order matters: logging wraps everything, recovery catches
	// handler panics, rate limiting runs after CORS preflight handling.
	s.router.Use(LoggingMiddleware)
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

	api := s.router.PathPrefix("/api").Subrouter()

	// User endpoints
	api.HandleFunc("/users", s.handleCreateUser).Methods("POST")
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")

	// Yield attribution endpoints
	api.HandleFunc("/users/{id}/yield", s.handleGetPortfolioYield).Methods("GET")
	api.HandleFunc("/users/{id}/yield/positions/{pool}/{asset}", s.handleGetPositionYield).Methods("GET")
	api.HandleFunc("/users/{id}/borrow-cost", s.handleGetBorrowCost).Methods("GET")

	// Asset price history
	api.HandleFunc("/assets/{asset}/prices", s.handleGetAssetPrices).Methods("GET")

	// Pool metadata
	api.HandleFunc("/pools", s.handleListPools).Methods("GET")
	api.HandleFunc("/pools/{pool}", s.handleGetPool).Methods("GET")
	api.HandleFunc("/pools", s.handleUpsertPool).Methods("PUT")

	// Indexer webhook endpoint (trusted upstream, not user-facing)
	s.router.HandleFunc("/indexer/events", s.handleIndexerEvents).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "yield-scanner",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
