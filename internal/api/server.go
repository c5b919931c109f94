// Package api provides the HTTP and WebSocket server over the workflow
// orchestrator, experiment engine and model registry.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/internal/abtest"
	"github.com/diamond-analytics/betting-backend/internal/orchestrator"
	"github.com/diamond-analytics/betting-backend/internal/registry"
	"github.com/diamond-analytics/betting-backend/internal/validation"
)

// Config holds the HTTP listener settings.
type Config struct {
	Host          string
	Port          int
	WebSocketPath string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// DefaultConfig returns listener settings for local development.
func DefaultConfig() Config {
	return Config{
		Host:          "0.0.0.0",
		Port:          8080,
		WebSocketPath: "/ws",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  30 * time.Second,
	}
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	logger     *zap.Logger
	config     Config
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub

	orch      *orchestrator.Orchestrator
	abEngine  *abtest.Engine
	registry  *registry.Registry
	validator *validation.Engine
	promReg   *prometheus.Registry
}

// NewServer creates a new API server.
func NewServer(
	logger *zap.Logger,
	config Config,
	hub *Hub,
	orch *orchestrator.Orchestrator,
	abEngine *abtest.Engine,
	reg *registry.Registry,
	validator *validation.Engine,
	promReg *prometheus.Registry,
) *Server {
	server := &Server{
		logger:    logger.Named("api"),
		config:    config,
		router:    mux.NewRouter(),
		hub:       hub,
		orch:      orch,
		abEngine:  abEngine,
		registry:  reg,
		validator: validator,
		promReg:   promReg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	// Workflow endpoints
	s.router.HandleFunc("/api/v1/workflows", s.handleCreateWorkflow).Methods("POST")
	s.router.HandleFunc("/api/v1/workflows", s.handleListWorkflows).Methods("GET")
	s.router.HandleFunc("/api/v1/workflows/{id}", s.handleGetWorkflow).Methods("GET")
	s.router.HandleFunc("/api/v1/workflows/{id}/execute", s.handleExecuteStage).Methods("POST")
	s.router.HandleFunc("/api/v1/workflows/{id}/run", s.handleExecuteFullWorkflow).Methods("POST")
	s.router.HandleFunc("/api/v1/workflows/{id}/pause", s.handlePauseWorkflow).Methods("POST")
	s.router.HandleFunc("/api/v1/workflows/{id}/resume", s.handleResumeWorkflow).Methods("POST")

	// Experiment endpoints
	s.router.HandleFunc("/api/v1/experiments", s.handleCreateExperiment).Methods("POST")
	s.router.HandleFunc("/api/v1/experiments", s.handleListExperiments).Methods("GET")
	s.router.HandleFunc("/api/v1/experiments/{id}", s.handleGetExperiment).Methods("GET")
	s.router.HandleFunc("/api/v1/experiments/{id}/allocate", s.handleAllocateTraffic).Methods("POST")
	s.router.HandleFunc("/api/v1/experiments/{id}/outcomes", s.handleRecordOutcome).Methods("POST")
	s.router.HandleFunc("/api/v1/experiments/{id}/analysis", s.handleAnalyzeExperiment).Methods("GET")
	s.router.HandleFunc("/api/v1/experiments/{id}/stop", s.handleStopExperiment).Methods("POST")
	s.router.HandleFunc("/api/v1/experiments/{id}/archive", s.handleGetArchive).Methods("GET")

	// Registry endpoints
	s.router.HandleFunc("/api/v1/models", s.handleRegisterModel).Methods("POST")
	s.router.HandleFunc("/api/v1/models/{name}/promote", s.handlePromoteModel).Methods("POST")
	s.router.HandleFunc("/api/v1/models/champion-challenger", s.handleSetupChampionChallenger).Methods("POST")
	s.router.HandleFunc("/api/v1/models/champion-challenger/{id}/analyze", s.handleAnalyzeChampionChallenger).Methods("POST")

	// Validation endpoints
	s.router.HandleFunc("/api/v1/validation/compare", s.handleCompareStrategies).Methods("POST")
	s.router.HandleFunc("/api/v1/validation/cross-temporal", s.handleCrossTemporalValidation).Methods("POST")

	// Prometheus metrics
	s.router.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	// WebSocket
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleWebSocket upgrades the connection and attaches it to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), s.hub, conn)
	s.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}
