package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwork-ai/a2a-go/a2a"
)

func stmt(subject, predicate string, object any) a2a.KGStatement {
	s := a2a.KGStatement{
		Subject:   a2a.KGSubject{ID: subject},
		Predicate: a2a.KGPredicate{ID: predicate},
	}
	if id, ok := object.(string); ok && len(id) > 4 && id[:4] == "urn:" {
		s.Object.ID = &id
	} else {
		s.Object.Value = object
	}
	return s
}

func addPatch(s a2a.KGStatement) a2a.KnowledgeGraphPatch {
	return a2a.KnowledgeGraphPatch{Op: a2a.PatchOpAdd, Statement: s}
}

func update(t *testing.T, store *MemoryStore, patches ...a2a.KnowledgeGraphPatch) *a2a.KnowledgeUpdateResult {
	t.Helper()
	result, err := store.Update(context.Background(), &a2a.KnowledgeUpdateParams{Mutations: patches})
	require.NoError(t, err)
	require.True(t, result.Success)
	return result
}

func TestUpdateAddAndDuplicate(t *testing.T) {
	store := NewMemoryStore()

	result := update(t, store, addPatch(stmt("urn:alice", "urn:knows", "urn:bob")))
	require.NotNil(t, result.StatementsAffected)
	assert.Equal(t, 1, *result.StatementsAffected)
	assert.Equal(t, []string{"urn:alice"}, result.AffectedIDs)
	assert.Equal(t, 1, store.Len())

	// Duplicate add is a set no-op.
	dup := update(t, store, addPatch(stmt("urn:alice", "urn:knows", "urn:bob")))
	assert.Equal(t, 0, *dup.StatementsAffected)
	assert.Equal(t, 1, store.Len())
}

func TestDuplicateAddRecordsProvenance(t *testing.T) {
	store := NewMemoryStore()
	update(t, store, addPatch(stmt("urn:a", "urn:p", "x")))

	with := stmt("urn:a", "urn:p", "x")
	with.Provenance = map[string]any{"source": "agent-2"}
	update(t, store, addPatch(with))

	result, err := store.Query(&a2a.KnowledgeQueryParams{Query: `{ statements(subject: "urn:a") { object } }`})
	require.NoError(t, err)
	statements := result.Data.(map[string]any)["statements"].([]a2a.KGStatement)
	require.Len(t, statements, 1)
	assert.Equal(t, "agent-2", statements[0].Provenance["source"])
}

func TestObjectIdentityDistinguishesNodeFromLiteral(t *testing.T) {
	store := NewMemoryStore()
	node := stmt("urn:a", "urn:p", "urn:node")
	lit := stmt("urn:a", "urn:p", "plain value")
	update(t, store, addPatch(node), addPatch(lit))
	assert.Equal(t, 2, store.Len())
}

func TestGraphScopesIdentity(t *testing.T) {
	store := NewMemoryStore()
	base := stmt("urn:a", "urn:p", "v")
	g := "urn:graph:private"
	scoped := stmt("urn:a", "urn:p", "v")
	scoped.Graph = &g
	update(t, store, addPatch(base), addPatch(scoped))
	assert.Equal(t, 2, store.Len())
}

func TestUpdateRemove(t *testing.T) {
	store := NewMemoryStore()
	update(t, store, addPatch(stmt("urn:a", "urn:p", "v")))

	result := update(t, store, a2a.KnowledgeGraphPatch{Op: a2a.PatchOpRemove, Statement: stmt("urn:a", "urn:p", "v")})
	assert.Equal(t, 1, *result.StatementsAffected)
	assert.Equal(t, 0, store.Len())

	// Removing an absent statement affects nothing.
	again := update(t, store, a2a.KnowledgeGraphPatch{Op: a2a.PatchOpRemove, Statement: stmt("urn:a", "urn:p", "v")})
	assert.Equal(t, 0, *again.StatementsAffected)
}

func TestUpdateReplace(t *testing.T) {
	store := NewMemoryStore()
	update(t, store,
		addPatch(stmt("urn:a", "urn:status", "draft")),
		addPatch(stmt("urn:a", "urn:status", "review")),
		addPatch(stmt("urn:a", "urn:other", "keep")))

	result := update(t, store, a2a.KnowledgeGraphPatch{
		Op:        a2a.PatchOpReplace,
		Statement: stmt("urn:a", "urn:status", "final"),
	})
	// Two removed plus one added.
	assert.Equal(t, 3, *result.StatementsAffected)
	assert.Equal(t, 2, store.Len())

	query, err := store.Query(&a2a.KnowledgeQueryParams{
		Query: `{ statements(subject: "urn:a", predicate: "urn:status") { object } }`,
	})
	require.NoError(t, err)
	statements := query.Data.(map[string]any)["statements"].([]a2a.KGStatement)
	require.Len(t, statements, 1)
	assert.Equal(t, "final", statements[0].Object.Value)
}

func TestReplaceEmitsSingleReplaceEvent(t *testing.T) {
	store := NewMemoryStore()
	update(t, store,
		addPatch(stmt("urn:a", "urn:status", "draft")),
		addPatch(stmt("urn:a", "urn:status", "review")))

	sub, err := store.Subscribe(&a2a.KnowledgeSubscribeParams{
		SubscriptionQuery: `subscription { statements(subject: "urn:a") { object } }`,
	})
	require.NoError(t, err)
	defer store.Unsubscribe(sub)

	update(t, store, a2a.KnowledgeGraphPatch{
		Op:        a2a.PatchOpReplace,
		Statement: stmt("urn:a", "urn:status", "final"),
	})

	select {
	case event := <-sub.Events():
		assert.Equal(t, a2a.PatchOpReplace, event.Op)
		assert.Equal(t, "final", event.Statement.Object.Value)
	case <-time.After(time.Second):
		t.Fatal("expected a change event")
	}

	// Exactly one event for the whole replace, displaced statements included.
	select {
	case event, ok := <-sub.Events():
		require.False(t, ok, "unexpected event: %+v", event)
	default:
	}
}

func TestUpdateValidatesBeforeApplying(t *testing.T) {
	store := NewMemoryStore()
	bad := a2a.KnowledgeGraphPatch{Op: a2a.PatchOpAdd, Statement: a2a.KGStatement{
		Subject:   a2a.KGSubject{ID: "urn:a"},
		Predicate: a2a.KGPredicate{ID: "urn:p"},
	}}

	_, err := store.Update(context.Background(), &a2a.KnowledgeUpdateParams{
		Mutations: []a2a.KnowledgeGraphPatch{addPatch(stmt("urn:ok", "urn:p", "v")), bad},
	})
	require.Error(t, err)
	assert.Equal(t, a2a.CodeInvalidParams, a2a.AsError(err).Code)
	// The valid patch in the same batch was not applied.
	assert.Equal(t, 0, store.Len())
}

func TestUpdateEmptyBatchRejected(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Update(context.Background(), &a2a.KnowledgeUpdateParams{})
	require.Error(t, err)
	assert.Equal(t, a2a.CodeInvalidParams, a2a.AsError(err).Code)
}

func TestUpdateCertaintyClamped(t *testing.T) {
	store := NewMemoryStore()
	over := 1.5
	s := stmt("urn:a", "urn:p", "v")
	s.Certainty = &over
	update(t, store, addPatch(s))

	min := 0.9
	result, err := store.Query(&a2a.KnowledgeQueryParams{
		Query:             `{ statements(subject: "urn:a") { object } }`,
		RequiredCertainty: &min,
	})
	require.NoError(t, err)
	statements := result.Data.(map[string]any)["statements"].([]a2a.KGStatement)
	assert.Len(t, statements, 1)
}

func TestQueryRequiredCertainty(t *testing.T) {
	store := NewMemoryStore()
	low, high := 0.3, 0.9
	weak := stmt("urn:a", "urn:p", "weak")
	weak.Certainty = &low
	strong := stmt("urn:a", "urn:p", "strong")
	strong.Certainty = &high
	update(t, store, addPatch(weak), addPatch(strong), addPatch(stmt("urn:a", "urn:p", "implicit")))

	min := 0.5
	result, err := store.Query(&a2a.KnowledgeQueryParams{
		Query:             `{ statements(subject: "urn:a") { object } }`,
		RequiredCertainty: &min,
	})
	require.NoError(t, err)
	statements := result.Data.(map[string]any)["statements"].([]a2a.KGStatement)
	// Unspecified certainty passes the filter.
	assert.Len(t, statements, 2)
}

func TestQueryMaxAge(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	update(t, store, addPatch(stmt("urn:a", "urn:p", "old")))

	now = now.Add(10 * time.Second)
	update(t, store, addPatch(stmt("urn:a", "urn:p", "fresh")))

	maxAge := 5
	result, err := store.Query(&a2a.KnowledgeQueryParams{
		Query:         `{ statements(subject: "urn:a") { object } }`,
		MaxAgeSeconds: &maxAge,
	})
	require.NoError(t, err)
	statements := result.Data.(map[string]any)["statements"].([]a2a.KGStatement)
	require.Len(t, statements, 1)
	assert.Equal(t, "fresh", statements[0].Object.Value)
}

func TestQueryMaxAgeUsesProvenanceTimestamp(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	// Both statements enter the store now, but provenance says one was
	// observed a minute ago.
	stale := stmt("urn:a", "urn:p", "stale")
	stale.Provenance = map[string]any{"timestamp": now.Add(-time.Minute).Format(time.RFC3339)}
	fresh := stmt("urn:a", "urn:p", "fresh")
	fresh.Provenance = map[string]any{"source": "agent-1"}
	update(t, store, addPatch(stale), addPatch(fresh))

	maxAge := 30
	result, err := store.Query(&a2a.KnowledgeQueryParams{
		Query:         `{ statements(subject: "urn:a") { object } }`,
		MaxAgeSeconds: &maxAge,
	})
	require.NoError(t, err)
	statements := result.Data.(map[string]any)["statements"].([]a2a.KGStatement)
	require.Len(t, statements, 1)
	assert.Equal(t, "fresh", statements[0].Object.Value)
}

func TestQueryMetadata(t *testing.T) {
	store := NewMemoryStore()
	update(t, store, addPatch(stmt("urn:a", "urn:p", "v")))

	result, err := store.Query(&a2a.KnowledgeQueryParams{Query: `{ statements { object } }`})
	require.NoError(t, err)
	assert.Equal(t, 1, result.QueryMetadata["statementCount"])
	assert.Contains(t, result.QueryMetadata, "elapsedMs")
}

func TestSubscriptionReceivesMatchingChanges(t *testing.T) {
	store := NewMemoryStore()
	sub, err := store.Subscribe(&a2a.KnowledgeSubscribeParams{
		SubscriptionQuery: `subscription { statements(subject: "urn:alice") { object } }`,
	})
	require.NoError(t, err)
	defer store.Unsubscribe(sub)

	update(t, store, addPatch(stmt("urn:alice", "urn:knows", "urn:bob")))
	update(t, store, addPatch(stmt("urn:carol", "urn:knows", "urn:dan")))

	select {
	case event := <-sub.Events():
		assert.Equal(t, a2a.PatchOpAdd, event.Op)
		assert.Equal(t, "urn:alice", event.Statement.Subject.ID)
		assert.NotEmpty(t, event.ChangeID)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected a change event")
	}

	// The non-matching change was filtered out.
	select {
	case event, ok := <-sub.Events():
		require.False(t, ok, "unexpected event: %+v", event)
	default:
	}
}

func TestSubscriptionChangeEventsHaveUniqueIDs(t *testing.T) {
	store := NewMemoryStore()
	sub, err := store.Subscribe(&a2a.KnowledgeSubscribeParams{SubscriptionQuery: `{ statements { object } }`})
	require.NoError(t, err)
	defer store.Unsubscribe(sub)

	update(t, store, addPatch(stmt("urn:a", "urn:p", "1")), addPatch(stmt("urn:a", "urn:p", "2")))

	first := <-sub.Events()
	second := <-sub.Events()
	assert.NotEqual(t, first.ChangeID, second.ChangeID)
}

func TestSubscriberOverflowDisconnects(t *testing.T) {
	store := NewMemoryStore(WithSubscriberQueueSize(1))
	sub, err := store.Subscribe(&a2a.KnowledgeSubscribeParams{SubscriptionQuery: `{ statements { object } }`})
	require.NoError(t, err)

	update(t, store, addPatch(stmt("urn:a", "urn:p", "1")), addPatch(stmt("urn:a", "urn:p", "2")))

	// Drain until closed; the second event overflowed the queue.
	for range sub.Events() {
	}
	require.Error(t, sub.Err())
	assert.Equal(t, a2a.CodeKnowledgeSubscriptionError, a2a.AsError(sub.Err()).Code)
	assert.Equal(t, 0, store.feed.SubscriberCount())
}

func TestPolicyVerifierStrictRejectsWholeBatch(t *testing.T) {
	store := NewMemoryStore(WithVerifier(PolicyVerifier{MinCertainty: 0.5, Strict: true}))
	low := 0.2
	weak := stmt("urn:a", "urn:p", "weak")
	weak.Certainty = &low

	_, err := store.Update(context.Background(), &a2a.KnowledgeUpdateParams{
		Mutations: []a2a.KnowledgeGraphPatch{addPatch(stmt("urn:ok", "urn:p", "v")), addPatch(weak)},
	})
	require.Error(t, err)
	assert.Equal(t, a2a.CodeAlignmentViolationError, a2a.AsError(err).Code)
	assert.Equal(t, 0, store.Len())
}

func TestPolicyVerifierPartialRejection(t *testing.T) {
	store := NewMemoryStore(WithVerifier(PolicyVerifier{MinCertainty: 0.5}))
	low := 0.2
	weak := stmt("urn:a", "urn:p", "weak")
	weak.Certainty = &low

	result, err := store.Update(context.Background(), &a2a.KnowledgeUpdateParams{
		Mutations: []a2a.KnowledgeGraphPatch{addPatch(stmt("urn:ok", "urn:p", "v")), addPatch(weak)},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, *result.StatementsAffected)
	require.NotNil(t, result.VerificationDetails)
	assert.Contains(t, *result.VerificationDetails, "mutation 1")
	assert.Equal(t, 1, store.Len())
}

func TestPolicyVerifierProtectedGraph(t *testing.T) {
	store := NewMemoryStore(WithVerifier(PolicyVerifier{ProtectedGraphs: []string{"urn:graph:core"}, Strict: true}))
	g := "urn:graph:core"
	s := stmt("urn:a", "urn:p", "v")
	s.Graph = &g

	_, err := store.Update(context.Background(), &a2a.KnowledgeUpdateParams{
		Mutations: []a2a.KnowledgeGraphPatch{addPatch(s)},
	})
	require.Error(t, err)
	assert.Equal(t, a2a.CodeAlignmentViolationError, a2a.AsError(err).Code)
}

func TestVerificationStatusReported(t *testing.T) {
	store := NewMemoryStore()
	result := update(t, store, addPatch(stmt("urn:a", "urn:p", "v")))
	require.NotNil(t, result.VerificationStatus)
	assert.Equal(t, StatusVerified, *result.VerificationStatus)
}

func TestChangeMetadataCarriesSourceAgent(t *testing.T) {
	store := NewMemoryStore()
	sub, err := store.Subscribe(&a2a.KnowledgeSubscribeParams{SubscriptionQuery: `{ statements { object } }`})
	require.NoError(t, err)
	defer store.Unsubscribe(sub)

	source := "agent-7"
	_, err = store.Update(context.Background(), &a2a.KnowledgeUpdateParams{
		Mutations:     []a2a.KnowledgeGraphPatch{addPatch(stmt("urn:a", "urn:p", "v"))},
		SourceAgentID: &source,
	})
	require.NoError(t, err)

	event := <-sub.Events()
	assert.Equal(t, "agent-7", event.ChangeMetadata["sourceAgentId"])
}
