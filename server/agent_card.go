package server

import (
	"encoding/json"
	"net/http"

	"github.com/meshwork-ai/a2a-go/a2a"
)

// DefaultAgentCardPath is the default path for serving the agent card.
const DefaultAgentCardPath = "/.well-known/agent.json"

// AgentCardHandler returns an HTTP handler that serves the agent card.
func AgentCardHandler(card *a2a.AgentCard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*") // Allow CORS for discovery

		jsonData, err := json.MarshalIndent(card, "", "  ")
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Write(jsonData)
	}
}

// WithAgentCardPath returns an Option that sets the path for serving the
// agent card.
func WithAgentCardPath(cardPath string) Option {
	return func(c *Config) {
		if cardPath != "" && cardPath[0] != '/' {
			cardPath = "/" + cardPath
		}
		c.AgentCardPath = cardPath
	}
}
