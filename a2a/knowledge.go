package a2a

import (
	"fmt"
	"time"
)

// --- Knowledge Graph Objects ---

// KGSubject identifies the subject node of a statement.
type KGSubject struct {
	ID   string  `json:"id" validate:"required"`
	Type *string `json:"type,omitempty"`
}

// KGPredicate identifies the relationship of a statement.
type KGPredicate struct {
	ID string `json:"id" validate:"required"`
}

// KGObject is the object of a statement, either a node (ID) or a literal
// (Value). Exactly one of the two must be set.
type KGObject struct {
	ID    *string `json:"id,omitempty"`
	Value any     `json:"value,omitempty"`
	Type  *string `json:"type,omitempty"`
}

// Validate enforces the id/value exclusivity rule.
func (o KGObject) Validate() error {
	if o.ID != nil && o.Value != nil {
		return fmt.Errorf("knowledge object cannot have both id and value")
	}
	if o.ID == nil && o.Value == nil {
		return fmt.Errorf("knowledge object requires either id or value")
	}
	return nil
}

// KGStatement is a single subject-predicate-object assertion, optionally
// scoped to a named graph.
type KGStatement struct {
	Subject    KGSubject      `json:"subject"`
	Predicate  KGPredicate    `json:"predicate"`
	Object     KGObject       `json:"object"`
	Graph      *string        `json:"graph,omitempty"`
	Certainty  *float64       `json:"certainty,omitempty"`
	Provenance map[string]any `json:"provenance,omitempty"`
}

// Validate checks the statement's structural rules.
func (s KGStatement) Validate() error {
	if s.Subject.ID == "" {
		return fmt.Errorf("statement subject requires an id")
	}
	if s.Predicate.ID == "" {
		return fmt.Errorf("statement predicate requires an id")
	}
	return s.Object.Validate()
}

// PatchOperation is the kind of mutation a patch applies.
type PatchOperation string

const (
	PatchOpAdd     PatchOperation = "add"
	PatchOpRemove  PatchOperation = "remove"
	PatchOpReplace PatchOperation = "replace"
)

// KnowledgeGraphPatch is one mutation against the knowledge store.
type KnowledgeGraphPatch struct {
	Op        PatchOperation `json:"op"`
	Statement KGStatement    `json:"statement"`
}

// Validate checks the patch's operation and statement.
func (p KnowledgeGraphPatch) Validate() error {
	switch p.Op {
	case PatchOpAdd, PatchOpRemove, PatchOpReplace:
	default:
		return fmt.Errorf("unknown patch operation %q", p.Op)
	}
	return p.Statement.Validate()
}

// --- Knowledge Method Params ---

// KnowledgeQueryParams represents the parameters for knowledge/query.
type KnowledgeQueryParams struct {
	Query             string         `json:"query" validate:"required"`
	QueryLanguage     string         `json:"queryLanguage"`
	Variables         map[string]any `json:"variables,omitempty"`
	TaskID            *string        `json:"taskId,omitempty"`
	SessionID         *string        `json:"sessionId,omitempty"`
	RequiredCertainty *float64       `json:"requiredCertainty,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxAgeSeconds     *int           `json:"maxAgeSeconds,omitempty" validate:"omitempty,gte=0"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// KnowledgeUpdateParams represents the parameters for knowledge/update.
type KnowledgeUpdateParams struct {
	Mutations     []KnowledgeGraphPatch `json:"mutations" validate:"required,min=1"`
	TaskID        *string               `json:"taskId,omitempty"`
	SessionID     *string               `json:"sessionId,omitempty"`
	SourceAgentID *string               `json:"sourceAgentId,omitempty"`
	Justification *string               `json:"justification,omitempty"`
	Metadata      map[string]any        `json:"metadata,omitempty"`
}

// KnowledgeSubscribeParams represents the parameters for knowledge/subscribe.
type KnowledgeSubscribeParams struct {
	SubscriptionQuery string         `json:"subscriptionQuery" validate:"required"`
	QueryLanguage     string         `json:"queryLanguage"`
	Variables         map[string]any `json:"variables,omitempty"`
	TaskID            *string        `json:"taskId,omitempty"`
	SessionID         *string        `json:"sessionId,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// --- Knowledge Results / Events ---

// KnowledgeQueryResult is the result of knowledge/query.
type KnowledgeQueryResult struct {
	Data          any            `json:"data,omitempty"`
	QueryMetadata map[string]any `json:"queryMetadata,omitempty"`
}

// KnowledgeUpdateResult is the result of knowledge/update.
type KnowledgeUpdateResult struct {
	Success             bool     `json:"success"`
	StatementsAffected  *int     `json:"statementsAffected,omitempty"`
	AffectedIDs         []string `json:"affectedIds,omitempty"`
	VerificationStatus  *string  `json:"verificationStatus,omitempty"`
	VerificationDetails *string  `json:"verificationDetails,omitempty"`
}

// KnowledgeGraphChangeEvent is the streamed payload describing one
// confirmed change to the knowledge store.
type KnowledgeGraphChangeEvent struct {
	Op             PatchOperation `json:"op"`
	Statement      KGStatement    `json:"statement"`
	ChangeID       string         `json:"changeId"`
	Timestamp      time.Time      `json:"timestamp"`
	ChangeMetadata map[string]any `json:"changeMetadata,omitempty"`
}
