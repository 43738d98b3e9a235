// Package config loads server configuration from YAML or JSON files with
// environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/meshwork-ai/a2a-go/a2a"
)

// ServerConfig represents the configuration for the A2A server.
type ServerConfig struct {
	ListenAddress string          `json:"listenAddress" yaml:"listenAddress" env:"A2A_LISTEN_ADDRESS"`
	AgentCardPath string          `json:"agentCardPath" yaml:"agentCardPath" env:"A2A_AGENT_CARD_PATH"`
	A2APathPrefix string          `json:"a2aPathPrefix" yaml:"a2aPathPrefix" env:"A2A_PATH_PREFIX"`
	LogLevel      string          `json:"logLevel" yaml:"logLevel" env:"A2A_LOG_LEVEL"`
	TaskStoreDir  string          `json:"taskStoreDir,omitempty" yaml:"taskStoreDir,omitempty" env:"A2A_TASK_STORE_DIR"`
	BearerToken   string          `json:"bearerToken,omitempty" yaml:"bearerToken,omitempty" env:"A2A_BEARER_TOKEN"`
	QueueSize     int             `json:"queueSize" yaml:"queueSize" env:"A2A_QUEUE_SIZE"`
	Push          PushConfig      `json:"push" yaml:"push"`
	AgentCard     AgentCardConfig `json:"agentCard" yaml:"agentCard"`
}

// PushConfig tunes the push notifier's delivery retries.
type PushConfig struct {
	RetryInitialInterval time.Duration `json:"retryInitialInterval" yaml:"retryInitialInterval" env:"A2A_PUSH_RETRY_INITIAL"`
	RetryMaxInterval     time.Duration `json:"retryMaxInterval" yaml:"retryMaxInterval" env:"A2A_PUSH_RETRY_MAX"`
	MaxAttempts          int           `json:"maxAttempts" yaml:"maxAttempts" env:"A2A_PUSH_MAX_ATTEMPTS"`
}

// AgentCardConfig represents the configuration for an agent card.
type AgentCardConfig struct {
	Name             string              `json:"name" yaml:"name"`
	Description      string              `json:"description,omitempty" yaml:"description,omitempty"`
	URL              string              `json:"url" yaml:"url"`
	Version          string              `json:"version" yaml:"version"`
	DocumentationURL string              `json:"documentationUrl,omitempty" yaml:"documentationUrl,omitempty"`
	Provider         *ProviderConfig     `json:"provider,omitempty" yaml:"provider,omitempty"`
	Skills           []SkillConfig       `json:"skills" yaml:"skills"`
	Capabilities     *CapabilitiesConfig `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// ProviderConfig represents the configuration for an agent provider.
type ProviderConfig struct {
	Organization string `json:"organization" yaml:"organization"`
	URL          string `json:"url,omitempty" yaml:"url,omitempty"`
}

// SkillConfig represents the configuration for an agent skill.
type SkillConfig struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// CapabilitiesConfig represents the configuration for agent capabilities.
type CapabilitiesConfig struct {
	Streaming                    bool     `json:"streaming" yaml:"streaming"`
	PushNotifications            bool     `json:"pushNotifications" yaml:"pushNotifications"`
	StateTransitionHistory       bool     `json:"stateTransitionHistory" yaml:"stateTransitionHistory"`
	KnowledgeGraph               bool     `json:"knowledgeGraph" yaml:"knowledgeGraph"`
	KnowledgeGraphQueryLanguages []string `json:"knowledgeGraphQueryLanguages,omitempty" yaml:"knowledgeGraphQueryLanguages,omitempty"`
}

// Default returns a ServerConfig with default values.
func Default() ServerConfig {
	return ServerConfig{
		ListenAddress: ":8080",
		AgentCardPath: "/.well-known/agent.json",
		A2APathPrefix: "/a2a",
		LogLevel:      "info",
		QueueSize:     1024,
		Push: PushConfig{
			RetryInitialInterval: 250 * time.Millisecond,
			RetryMaxInterval:     30 * time.Second,
			MaxAttempts:          5,
		},
		AgentCard: AgentCardConfig{
			Name:    "a2a-server",
			URL:     "http://localhost:8080/a2a",
			Version: "0.1.0",
			Skills: []SkillConfig{
				{ID: "echo", Name: "Echo", Description: "Echoes back the input message"},
			},
			Capabilities: &CapabilitiesConfig{
				Streaming:                    true,
				PushNotifications:            true,
				KnowledgeGraph:               true,
				KnowledgeGraphQueryLanguages: []string{"graphql"},
			},
		},
	}
}

// Load reads the config file (JSON or YAML by extension), then applies
// environment variable overrides. An empty path loads defaults plus env.
func Load(path string) (*ServerConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		switch ext := filepath.Ext(path); ext {
		case ".json":
			if err := json.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse JSON config: %w", err)
			}
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse YAML config: %w", err)
			}
		default:
			return nil, fmt.Errorf("unsupported config file format: %s", ext)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to a file in the format its extension implies.
func Save(cfg *ServerConfig, path string) error {
	var data []byte
	var err error
	switch ext := filepath.Ext(path); ext {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// AgentCard converts the card configuration to the wire type.
func (c *AgentCardConfig) AgentCard() *a2a.AgentCard {
	card := &a2a.AgentCard{
		Name:    c.Name,
		URL:     c.URL,
		Version: c.Version,
	}
	if c.Description != "" {
		card.Description = &c.Description
	}
	if c.DocumentationURL != "" {
		card.DocumentationURL = &c.DocumentationURL
	}
	if c.Provider != nil {
		card.Provider = &a2a.AgentProvider{Organization: c.Provider.Organization}
		if c.Provider.URL != "" {
			card.Provider.URL = &c.Provider.URL
		}
	}
	if c.Capabilities != nil {
		card.Capabilities = a2a.AgentCapabilities{
			Streaming:                    c.Capabilities.Streaming,
			PushNotifications:            c.Capabilities.PushNotifications,
			StateTransitionHistory:       c.Capabilities.StateTransitionHistory,
			KnowledgeGraph:               c.Capabilities.KnowledgeGraph,
			KnowledgeGraphQueryLanguages: c.Capabilities.KnowledgeGraphQueryLanguages,
		}
	}
	card.Skills = make([]a2a.AgentSkill, len(c.Skills))
	for i, skill := range c.Skills {
		card.Skills[i] = a2a.AgentSkill{
			ID:   skill.ID,
			Name: skill.Name,
			Tags: skill.Tags,
		}
		if skill.Description != "" {
			desc := skill.Description
			card.Skills[i].Description = &desc
		}
	}
	return card
}
