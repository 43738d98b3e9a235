// Package client implements an A2A protocol client: JSON-RPC calls for
// every server method plus SSE stream consumers for the subscribe methods.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshwork-ai/a2a-go/a2a"
)

// Client talks to one A2A server.
type Client struct {
	config Config
	logger *zap.Logger
}

// New creates a client. A base URL is required.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{config: cfg, logger: cfg.Logger.Named("a2a-client")}, nil
}

func (c *Client) rpcURL() string {
	return c.config.BaseURL + c.config.RPCPath
}

// call performs one JSON-RPC request and decodes its result.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	resp, err := c.post(ctx, method, params, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope struct {
		JSONRPC string            `json:"jsonrpc"`
		ID      any               `json:"id"`
		Result  json.RawMessage   `json:"result"`
		Error   *a2a.JSONRPCError `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to decode response for %s: %w", method, err)
	}
	if envelope.Error != nil {
		return &a2a.Error{
			Code:    envelope.Error.Code,
			Message: envelope.Error.Message,
			Data:    envelope.Error.Data,
		}
	}
	if result == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	return json.Unmarshal(envelope.Result, result)
}

// post sends the JSON-RPC request and returns the raw HTTP response.
func (c *Client) post(ctx context.Context, method string, params any, accept string) (*http.Response, error) {
	request := a2a.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params: %w", err)
		}
		request.Params = raw
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	for name, value := range c.config.AuthHeaders {
		req.Header.Set(name, value)
	}

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// SendTask calls tasks/send and returns the final task.
func (c *Client) SendTask(ctx context.Context, params *a2a.TaskSendParams) (*a2a.Task, error) {
	var task a2a.Task
	if err := c.call(ctx, "tasks/send", params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask calls tasks/get.
func (c *Client) GetTask(ctx context.Context, params *a2a.TaskQueryParams) (*a2a.Task, error) {
	var task a2a.Task
	if err := c.call(ctx, "tasks/get", params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask calls tasks/cancel.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	var task a2a.Task
	if err := c.call(ctx, "tasks/cancel", &a2a.TaskIdParams{ID: taskID}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SetPushNotification calls tasks/pushNotification/set.
func (c *Client) SetPushNotification(ctx context.Context, config *a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error) {
	var result a2a.TaskPushNotificationConfig
	if err := c.call(ctx, "tasks/pushNotification/set", config, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPushNotification calls tasks/pushNotification/get. Returns nil when
// the task has no registered config.
func (c *Client) GetPushNotification(ctx context.Context, taskID string) (*a2a.TaskPushNotificationConfig, error) {
	var result a2a.TaskPushNotificationConfig
	if err := c.call(ctx, "tasks/pushNotification/get", &a2a.TaskIdParams{ID: taskID}, &result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		return nil, nil
	}
	return &result, nil
}

// KnowledgeQuery calls knowledge/query.
func (c *Client) KnowledgeQuery(ctx context.Context, params *a2a.KnowledgeQueryParams) (*a2a.KnowledgeQueryResult, error) {
	var result a2a.KnowledgeQueryResult
	if err := c.call(ctx, "knowledge/query", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// KnowledgeUpdate calls knowledge/update.
func (c *Client) KnowledgeUpdate(ctx context.Context, params *a2a.KnowledgeUpdateParams) (*a2a.KnowledgeUpdateResult, error) {
	var result a2a.KnowledgeUpdateResult
	if err := c.call(ctx, "knowledge/update", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchAgentCard retrieves the server's agent card.
func (c *Client) FetchAgentCard(ctx context.Context) (*a2a.AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/.well-known/agent.json", nil)
	if err != nil {
		return nil, err
	}
	for name, value := range c.config.AuthHeaders {
		req.Header.Set(name, value)
	}

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent card: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent card request returned status %d", resp.StatusCode)
	}

	var card a2a.AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("failed to decode agent card: %w", err)
	}
	return &card, nil
}
