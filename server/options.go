package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/meshwork-ai/a2a-go/a2a"
	"github.com/meshwork-ai/a2a-go/knowledge"
)

// AuthValidator vets an incoming RPC request before dispatch. Returning an
// error rejects the request with 401.
type AuthValidator func(r *http.Request, card *a2a.AgentCard) error

// Config holds the configuration for the A2A server.
type Config struct {
	ListenAddress  string         // Address to listen on (e.g., ":8080")
	A2APathPrefix  string         // Path for the JSON-RPC endpoint (e.g., "/a2a")
	AgentCard      *a2a.AgentCard // The agent card describing this agent
	AgentCardPath  string         // Path to serve the agent card
	TaskStore      TaskStore      // Task persistence
	TaskHandler    TaskHandler    // The application-specific task handler logic
	KnowledgeStore *knowledge.MemoryStore
	AuthValidator  AuthValidator // Optional authentication hook
	Logger         *zap.Logger

	SubscriberQueueSize int           // Per-subscriber SSE event queue bound
	ReadHeaderTimeout   time.Duration // HTTP server read header timeout

	PushRetryInitialInterval time.Duration // First push retry delay
	PushRetryMaxInterval     time.Duration // Retry delay cap
	PushMaxAttempts          int           // Delivery attempts per event
}

// Option is a function that modifies the server configuration.
type Option func(*Config)

// DefaultConfig returns a Config with default values. AgentCard and
// TaskHandler must still be provided.
func DefaultConfig() Config {
	return Config{
		ListenAddress:            ":8080",
		A2APathPrefix:            "/a2a",
		AgentCardPath:            DefaultAgentCardPath,
		SubscriberQueueSize:      DefaultSubscriberQueueSize,
		ReadHeaderTimeout:        10 * time.Second,
		PushRetryInitialInterval: 250 * time.Millisecond,
		PushRetryMaxInterval:     30 * time.Second,
		PushMaxAttempts:          5,
	}
}

// WithListenAddress sets the listen address for the server.
func WithListenAddress(addr string) Option {
	return func(c *Config) {
		c.ListenAddress = addr
	}
}

// WithA2APathPrefix sets the path for the JSON-RPC endpoint.
func WithA2APathPrefix(prefix string) Option {
	return func(c *Config) {
		if prefix != "" && prefix[0] != '/' {
			prefix = "/" + prefix
		}
		c.A2APathPrefix = prefix
	}
}

// WithAgentCard sets the Agent Card for the server.
func WithAgentCard(card *a2a.AgentCard) Option {
	return func(c *Config) {
		c.AgentCard = card
	}
}

// WithTaskStore sets a custom TaskStore implementation.
func WithTaskStore(store TaskStore) Option {
	return func(c *Config) {
		c.TaskStore = store
	}
}

// WithTaskHandler sets the application-specific task handler function.
func WithTaskHandler(handler TaskHandler) Option {
	return func(c *Config) {
		c.TaskHandler = handler
	}
}

// WithKnowledgeStore sets the knowledge store backing the knowledge
// methods. Required when the card declares the knowledgeGraph capability.
func WithKnowledgeStore(store *knowledge.MemoryStore) Option {
	return func(c *Config) {
		c.KnowledgeStore = store
	}
}

// WithAuthValidator sets the authentication hook for the RPC endpoint.
func WithAuthValidator(validator AuthValidator) Option {
	return func(c *Config) {
		c.AuthValidator = validator
	}
}

// WithLogger sets the server's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithSubscriberQueueSize sets the per-subscriber SSE queue bound.
func WithSubscriberQueueSize(n int) Option {
	return func(c *Config) {
		c.SubscriberQueueSize = n
	}
}

// WithPushRetryPolicy sets the push notifier's delivery retry policy.
func WithPushRetryPolicy(initial, max time.Duration, attempts int) Option {
	return func(c *Config) {
		c.PushRetryInitialInterval = initial
		c.PushRetryMaxInterval = max
		c.PushMaxAttempts = attempts
	}
}
