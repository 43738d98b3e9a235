package a2a

import (
	"encoding/json"
	"time"
)

// --- Enums / Constants ---

// TaskState represents the state of a task.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateFailed        TaskState = "failed"
	TaskStateUnknown       TaskState = "unknown"
)

// IsTerminal reports whether the state ends the task's lifecycle. A new
// user message on a terminal task resets it to submitted.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed:
		return true
	}
	return false
}

// Role represents the role of a message sender.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// --- Core A2A Objects ---

// Task represents an A2A task.
type Task struct {
	ID        string         `json:"id"`
	SessionID *string        `json:"sessionId,omitempty"`
	Status    TaskStatus     `json:"status"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	History   []Message      `json:"history,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskStatus represents the status details of a task. Timestamp is
// server-assigned and never moves backwards for a given task.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Message represents a message exchanged within a task.
type Message struct {
	Role     Role           `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UnmarshalJSON decodes the polymorphic parts list.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role     Role              `json:"role"`
		Parts    []json.RawMessage `json:"parts"`
		Metadata map[string]any    `json:"metadata,omitempty"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	parts, err := unmarshalParts(a.Parts)
	if err != nil {
		return err
	}
	m.Role = a.Role
	m.Parts = parts
	m.Metadata = a.Metadata
	return nil
}

// Artifact represents output produced by a task. Artifacts are identified
// by index, falling back to name; Append merges parts into the existing
// artifact instead of replacing it.
type Artifact struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Index       *int           `json:"index,omitempty"`
	Append      *bool          `json:"append,omitempty"`
	LastChunk   *bool          `json:"lastChunk,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UnmarshalJSON decodes the polymorphic parts list.
func (a *Artifact) UnmarshalJSON(data []byte) error {
	type alias struct {
		Name        *string           `json:"name,omitempty"`
		Description *string           `json:"description,omitempty"`
		Parts       []json.RawMessage `json:"parts"`
		Index       *int              `json:"index,omitempty"`
		Append      *bool             `json:"append,omitempty"`
		LastChunk   *bool             `json:"lastChunk,omitempty"`
		Metadata    map[string]any    `json:"metadata,omitempty"`
	}
	var aa alias
	if err := json.Unmarshal(data, &aa); err != nil {
		return err
	}
	parts, err := unmarshalParts(aa.Parts)
	if err != nil {
		return err
	}
	a.Name = aa.Name
	a.Description = aa.Description
	a.Parts = parts
	a.Index = aa.Index
	a.Append = aa.Append
	a.LastChunk = aa.LastChunk
	a.Metadata = aa.Metadata
	return nil
}

// --- Agent Card ---

// AgentCard describes an A2A agent. Served at /.well-known/agent.json.
type AgentCard struct {
	Name               string               `json:"name"`
	Description        *string              `json:"description,omitempty"`
	URL                string               `json:"url"`
	Provider           *AgentProvider       `json:"provider,omitempty"`
	Version            string               `json:"version"`
	DocumentationURL   *string              `json:"documentationUrl,omitempty"`
	Capabilities       AgentCapabilities    `json:"capabilities"`
	Authentication     *AgentAuthentication `json:"authentication,omitempty"`
	DefaultInputModes  []string             `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string             `json:"defaultOutputModes,omitempty"`
	Skills             []AgentSkill         `json:"skills"`
}

// AgentProvider describes the organisation behind the agent.
type AgentProvider struct {
	Organization string  `json:"organization"`
	URL          *string `json:"url,omitempty"`
}

// AgentCapabilities declares which optional protocol surfaces the agent
// exposes. Methods behind a false capability are not routable.
type AgentCapabilities struct {
	Streaming                    bool     `json:"streaming"`
	PushNotifications            bool     `json:"pushNotifications"`
	StateTransitionHistory       bool     `json:"stateTransitionHistory"`
	KnowledgeGraph               bool     `json:"knowledgeGraph"`
	KnowledgeGraphQueryLanguages []string `json:"knowledgeGraphQueryLanguages,omitempty"`
}

// SupportsQueryLanguage reports whether lang is in the declared set.
func (c AgentCapabilities) SupportsQueryLanguage(lang string) bool {
	for _, l := range c.KnowledgeGraphQueryLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// AgentAuthentication describes authentication schemes accepted by the agent.
type AgentAuthentication struct {
	Schemes     []string `json:"schemes"`
	Credentials *string  `json:"credentials,omitempty"`
}

// AgentSkill describes a capability the agent advertises.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
}

// --- Push Notifications ---

// PushNotificationConfig holds the webhook configuration for a task.
type PushNotificationConfig struct {
	URL            string              `json:"url"`
	Token          *string             `json:"token,omitempty"`
	Authentication *AuthenticationInfo `json:"authentication,omitempty"`
}

// AuthenticationInfo provides credentials for webhook delivery.
type AuthenticationInfo struct {
	Schemes     []string `json:"schemes"`
	Credentials *string  `json:"credentials,omitempty"`
}

// TaskPushNotificationConfig pairs a task ID with its push configuration.
type TaskPushNotificationConfig struct {
	ID                     string                 `json:"id"`
	PushNotificationConfig PushNotificationConfig `json:"pushNotificationConfig"`
}

// --- JSON-RPC Envelope ---

// JSONRPCRequest represents a JSON-RPC 2.0 request. ID may be a string,
// a number, or null.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// NewResponse builds a success response for the given request ID.
func NewResponse(id, result any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse builds an error response for the given request ID.
func NewErrorResponse(id any, rpcErr *JSONRPCError) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
}

// --- Method Params ---

// TaskSendParams represents the parameters for tasks/send and
// tasks/sendSubscribe.
type TaskSendParams struct {
	ID                  string                  `json:"id" validate:"required"`
	SessionID           *string                 `json:"sessionId,omitempty"`
	Message             Message                 `json:"message"`
	AcceptedOutputModes []string                `json:"acceptedOutputModes,omitempty"`
	PushNotification    *PushNotificationConfig `json:"pushNotification,omitempty"`
	HistoryLength       *int                    `json:"historyLength,omitempty" validate:"omitempty,gte=0"`
	Metadata            map[string]any          `json:"metadata,omitempty"`
}

// TaskIdParams represents parameters that carry only a task ID.
type TaskIdParams struct {
	ID       string         `json:"id" validate:"required"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskQueryParams represents the parameters for tasks/get.
type TaskQueryParams struct {
	ID            string         `json:"id" validate:"required"`
	HistoryLength *int           `json:"historyLength,omitempty" validate:"omitempty,gte=0"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// --- Streaming Event Payloads ---

// TaskStatusUpdateEvent is the streamed payload for a status change.
// Final marks the last event of the stream.
type TaskStatusUpdateEvent struct {
	ID       string         `json:"id"`
	Status   TaskStatus     `json:"status"`
	Final    bool           `json:"final"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskArtifactUpdateEvent is the streamed payload for an artifact update.
type TaskArtifactUpdateEvent struct {
	ID       string         `json:"id"`
	Artifact Artifact       `json:"artifact"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
