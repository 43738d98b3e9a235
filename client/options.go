package client

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config holds the configuration for the A2A client.
type Config struct {
	BaseURL     string            // Base URL of the A2A server (e.g., "https://agent.example.com")
	RPCPath     string            // Path of the JSON-RPC endpoint
	HTTPClient  *http.Client      // HTTP client to use for requests
	AuthHeaders map[string]string // Headers to include in every request
	Logger      *zap.Logger
}

// Option is a function that modifies the client configuration.
type Option func(*Config)

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		RPCPath: "/a2a",
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		AuthHeaders: make(map[string]string),
	}
}

// WithBaseURL sets the base URL for the client.
func WithBaseURL(baseURL string) Option {
	return func(c *Config) {
		c.BaseURL = baseURL
	}
}

// WithRPCPath sets the JSON-RPC endpoint path.
func WithRPCPath(path string) Option {
	return func(c *Config) {
		if path != "" && path[0] != '/' {
			path = "/" + path
		}
		c.RPCPath = path
	}
}

// WithHTTPClient sets the HTTP client for the client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = httpClient
	}
}

// WithTimeout sets the timeout for non-streaming requests.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if c.HTTPClient != nil {
			c.HTTPClient.Timeout = timeout
		}
	}
}

// WithAuthHeader adds a header to be included in all requests.
func WithAuthHeader(name, value string) Option {
	return func(c *Config) {
		c.AuthHeaders[name] = value
	}
}

// WithBearerToken sets the Authorization header with a Bearer token.
func WithBearerToken(token string) Option {
	return func(c *Config) {
		c.AuthHeaders["Authorization"] = "Bearer " + token
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
