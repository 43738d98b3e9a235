// Package knowledge implements the knowledge graph subsystem: a statement
// store with set semantics, verified patch application, query execution,
// and a change feed for subscriptions.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshwork-ai/a2a-go/a2a"
)

// statementKey is the identity of a statement: subject, predicate, object
// (node id or literal value), and named graph.
type statementKey struct {
	subject   string
	predicate string
	object    string
	graph     string
}

func keyOf(s a2a.KGStatement) statementKey {
	var object string
	if s.Object.ID != nil {
		object = "id\x00" + *s.Object.ID
	} else {
		// Literal values compare by canonical JSON encoding.
		b, _ := json.Marshal(s.Object.Value)
		object = "val\x00" + string(b)
	}
	var graph string
	if s.Graph != nil {
		graph = *s.Graph
	}
	return statementKey{
		subject:   s.Subject.ID,
		predicate: s.Predicate.ID,
		object:    object,
		graph:     graph,
	}
}

type entry struct {
	statement a2a.KGStatement
	addedAt   time.Time
}

// Change is one confirmed mutation, published to the change feed after the
// batch it belongs to has committed.
type Change struct {
	Op        a2a.PatchOperation
	Statement a2a.KGStatement
}

// MemoryStore is an in-memory knowledge statement store. All mutations go
// through Update, which verifies and applies a patch batch atomically.
type MemoryStore struct {
	mu         sync.RWMutex
	statements map[statementKey]*entry

	verifier Verifier
	feed     *ChangeFeed
	logger   *zap.Logger
	now      func() time.Time
}

// StoreOption configures a MemoryStore.
type StoreOption func(*MemoryStore)

// WithVerifier sets the verifier consulted before applying updates.
func WithVerifier(v Verifier) StoreOption {
	return func(s *MemoryStore) {
		s.verifier = v
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// WithSubscriberQueueSize sets the per-subscriber event queue bound.
func WithSubscriberQueueSize(n int) StoreOption {
	return func(s *MemoryStore) {
		s.feed = NewChangeFeed(n)
	}
}

// NewMemoryStore creates an empty store with an AcceptAll verifier.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		statements: make(map[statementKey]*entry),
		verifier:   AcceptAll{},
		feed:       NewChangeFeed(DefaultSubscriberQueueSize),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the number of stored statements.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.statements)
}

// Update verifies and applies a patch batch. The batch is atomic: every
// patch is validated and verified before any is applied, and the whole
// batch commits under one lock. Change events are published only after
// commit, one per accepted patch.
func (s *MemoryStore) Update(ctx context.Context, params *a2a.KnowledgeUpdateParams) (*a2a.KnowledgeUpdateResult, error) {
	if len(params.Mutations) == 0 {
		return nil, a2a.ErrInvalidParams("mutations must not be empty")
	}
	for i, patch := range params.Mutations {
		if err := patch.Validate(); err != nil {
			return nil, a2a.ErrInvalidParams(fmt.Sprintf("mutation %d: %v", i, err))
		}
	}

	outcome, err := s.verifier.Verify(ctx, params)
	if err != nil {
		return nil, err
	}

	accepted := params.Mutations
	if len(outcome.Rejected) > 0 {
		rejected := make(map[int]struct{}, len(outcome.Rejected))
		for _, i := range outcome.Rejected {
			rejected[i] = struct{}{}
		}
		accepted = nil
		for i, patch := range params.Mutations {
			if _, ok := rejected[i]; !ok {
				accepted = append(accepted, patch)
			}
		}
	}

	changes, affectedIDs, affected := s.apply(accepted)

	for _, ch := range changes {
		event := a2a.KnowledgeGraphChangeEvent{
			Op:        ch.Op,
			Statement: ch.Statement,
			ChangeID:  uuid.NewString(),
			Timestamp: s.now(),
		}
		if params.SourceAgentID != nil {
			event.ChangeMetadata = map[string]any{"sourceAgentId": *params.SourceAgentID}
		}
		s.feed.Publish(event)
	}

	s.logger.Debug("knowledge update applied",
		zap.Int("mutations", len(params.Mutations)),
		zap.Int("statementsAffected", affected),
		zap.String("verificationStatus", outcome.Status))

	result := &a2a.KnowledgeUpdateResult{
		Success:            len(outcome.Rejected) == 0,
		StatementsAffected: &affected,
		AffectedIDs:        affectedIDs,
	}
	if outcome.Status != "" {
		status := outcome.Status
		result.VerificationStatus = &status
	}
	if outcome.Details != "" {
		details := outcome.Details
		result.VerificationDetails = &details
	}
	return result, nil
}

// apply commits the batch under the write lock and reports the confirmed
// changes. Patches are already validated.
func (s *MemoryStore) apply(patches []a2a.KnowledgeGraphPatch) ([]Change, []string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []Change
	affected := 0
	affectedIDs := make(map[string]struct{})

	for _, patch := range patches {
		stmt := clampCertainty(patch.Statement)
		key := keyOf(stmt)

		switch patch.Op {
		case a2a.PatchOpAdd:
			if existing, ok := s.statements[key]; ok {
				// Duplicate add keeps set semantics but records provenance.
				mergeProvenance(&existing.statement, stmt)
			} else {
				s.statements[key] = &entry{statement: stmt, addedAt: s.now()}
				affected++
			}
			affectedIDs[stmt.Subject.ID] = struct{}{}
			changes = append(changes, Change{Op: a2a.PatchOpAdd, Statement: stmt})

		case a2a.PatchOpRemove:
			if _, ok := s.statements[key]; ok {
				delete(s.statements, key)
				affected++
				affectedIDs[stmt.Subject.ID] = struct{}{}
				changes = append(changes, Change{Op: a2a.PatchOpRemove, Statement: stmt})
			}

		case a2a.PatchOpReplace:
			// Replace removes every statement with the same subject,
			// predicate, and graph, then adds the new one. The feed sees a
			// single replace event carrying the new statement.
			for k := range s.statements {
				if k.subject == key.subject && k.predicate == key.predicate && k.graph == key.graph {
					delete(s.statements, k)
					affected++
				}
			}
			s.statements[key] = &entry{statement: stmt, addedAt: s.now()}
			affected++
			affectedIDs[stmt.Subject.ID] = struct{}{}
			changes = append(changes, Change{Op: a2a.PatchOpReplace, Statement: stmt})
		}
	}

	ids := make([]string, 0, len(affectedIDs))
	for id := range affectedIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return changes, ids, affected
}

// Query compiles and executes a query against the current statement set.
func (s *MemoryStore) Query(params *a2a.KnowledgeQueryParams) (*a2a.KnowledgeQueryResult, error) {
	filter, err := CompileFilter(params.Query, params.Variables)
	if err != nil {
		return nil, a2a.ErrKnowledgeQuery(err)
	}

	start := s.now()
	statements := s.match(filter, params.RequiredCertainty, params.MaxAgeSeconds)
	elapsed := s.now().Sub(start)

	return &a2a.KnowledgeQueryResult{
		Data: map[string]any{"statements": statements},
		QueryMetadata: map[string]any{
			"statementCount": len(statements),
			"elapsedMs":      elapsed.Milliseconds(),
		},
	}, nil
}

func (s *MemoryStore) match(filter *Filter, requiredCertainty *float64, maxAgeSeconds *int) []a2a.KGStatement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cutoff time.Time
	if maxAgeSeconds != nil {
		cutoff = s.now().Add(-time.Duration(*maxAgeSeconds) * time.Second)
	}

	type match struct {
		key  statementKey
		stmt a2a.KGStatement
	}
	var matches []match
	for k, e := range s.statements {
		if !filter.Matches(e.statement) {
			continue
		}
		// An absent certainty is unspecified, not zero; it passes the filter.
		if requiredCertainty != nil && e.statement.Certainty != nil && *e.statement.Certainty < *requiredCertainty {
			continue
		}
		if maxAgeSeconds != nil && statementTime(e).Before(cutoff) {
			continue
		}
		matches = append(matches, match{key: k, stmt: e.statement})
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i].key, matches[j].key
		if a.subject != b.subject {
			return a.subject < b.subject
		}
		if a.predicate != b.predicate {
			return a.predicate < b.predicate
		}
		if a.object != b.object {
			return a.object < b.object
		}
		return a.graph < b.graph
	})

	statements := make([]a2a.KGStatement, len(matches))
	for i, m := range matches {
		statements[i] = m.stmt
	}
	return statements
}

// Subscribe registers a change-feed subscription matching the given query.
func (s *MemoryStore) Subscribe(params *a2a.KnowledgeSubscribeParams) (*Subscription, error) {
	filter, err := CompileFilter(params.SubscriptionQuery, params.Variables)
	if err != nil {
		return nil, a2a.ErrKnowledgeSubscription(err)
	}
	return s.feed.Subscribe(filter), nil
}

// Unsubscribe removes a subscription from the change feed.
func (s *MemoryStore) Unsubscribe(sub *Subscription) {
	s.feed.Unsubscribe(sub)
}

// statementTime is the timestamp age filters compare against: the
// statement's provenance timestamp when one is present and parseable,
// otherwise the time the store recorded it.
func statementTime(e *entry) time.Time {
	raw, ok := e.statement.Provenance["timestamp"]
	if !ok {
		return e.addedAt
	}
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return e.addedAt
}

func clampCertainty(s a2a.KGStatement) a2a.KGStatement {
	if s.Certainty == nil {
		return s
	}
	c := *s.Certainty
	if c < 0 {
		c = 0
	} else if c > 1 {
		c = 1
	}
	s.Certainty = &c
	return s
}

func mergeProvenance(dst *a2a.KGStatement, src a2a.KGStatement) {
	if len(src.Provenance) == 0 {
		return
	}
	if dst.Provenance == nil {
		dst.Provenance = make(map[string]any, len(src.Provenance))
	}
	for k, v := range src.Provenance {
		dst.Provenance[k] = v
	}
}
