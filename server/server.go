package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/meshwork-ai/a2a-go/knowledge"
)

// Server implements the A2A server: one JSON-RPC endpoint, an agent card
// route, and the engine, hub, and stores behind them.
type Server struct {
	config     Config
	httpServer *http.Server
	engine     *Engine
	hub        *Hub
	cancels    *CancelRegistry
	knowledge  *knowledge.MemoryStore
	validate   *validator.Validate
	logger     *zap.Logger

	listener net.Listener
}

// NewServer creates a new A2A Server instance.
func NewServer(opts ...Option) (*Server, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.AgentCard == nil {
		return nil, fmt.Errorf("agent card configuration is required")
	}
	if cfg.TaskHandler == nil {
		return nil, fmt.Errorf("task handler is required")
	}
	if cfg.AgentCard.Capabilities.KnowledgeGraph && cfg.KnowledgeStore == nil {
		return nil, fmt.Errorf("knowledge store is required when the knowledgeGraph capability is declared")
	}
	if cfg.TaskStore == nil {
		cfg.TaskStore = NewInMemoryTaskStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	logger := cfg.Logger.Named("a2a")
	hub := NewHub(cfg.SubscriberQueueSize, logger)
	cancels := NewCancelRegistry()
	notifier := NewPushNotifier(cfg.TaskStore, &cfg, logger)
	engine := NewEngine(cfg.TaskStore, cfg.TaskHandler, hub, cancels, notifier, logger)

	s := &Server{
		config:    cfg,
		engine:    engine,
		hub:       hub,
		cancels:   cancels,
		knowledge: cfg.KnowledgeStore,
		validate:  validator.New(),
		logger:    logger,
	}

	router := mux.NewRouter()
	router.HandleFunc(cfg.A2APathPrefix, s.handleRPC).Methods(http.MethodPost)
	router.HandleFunc(cfg.AgentCardPath, AgentCardHandler(cfg.AgentCard)).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s, nil
}

// Handler returns the server's HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the A2A server. It blocks until the server is stopped.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	s.listener = listener

	s.logger.Info("starting A2A server",
		zap.String("agent", s.config.AgentCard.Name),
		zap.String("address", s.config.ListenAddress),
		zap.String("rpcPath", s.config.A2APathPrefix))

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server stopped: %w", err)
	}
	return nil
}

// Addr returns the bound listen address, useful when listening on :0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.ListenAddress
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping A2A server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}
