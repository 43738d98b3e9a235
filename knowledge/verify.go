package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/meshwork-ai/a2a-go/a2a"
)

var errSubscriberOverflow = errors.New("subscriber queue overflow")

// Verification status values reported on update results.
const (
	StatusVerified      = "Verified"
	StatusPendingReview = "Pending Review"
)

// StatusRejected builds the rejection status string for a reason.
func StatusRejected(reason string) string {
	return "Rejected — " + reason
}

// Outcome is a verifier's judgement of an update batch. Rejected lists the
// indices of mutations that must not be applied; an empty list accepts the
// whole batch. Rejecting the batch outright is signalled by returning
// a2a.ErrAlignmentViolation from Verify instead.
type Outcome struct {
	Status   string
	Details  string
	Rejected []int
}

// Verifier inspects a proposed update batch before it is applied.
type Verifier interface {
	Verify(ctx context.Context, params *a2a.KnowledgeUpdateParams) (Outcome, error)
}

// AcceptAll verifies every batch unconditionally.
type AcceptAll struct{}

// Verify implements Verifier.
func (AcceptAll) Verify(ctx context.Context, params *a2a.KnowledgeUpdateParams) (Outcome, error) {
	return Outcome{Status: StatusVerified}, nil
}

// PolicyVerifier enforces a minimum certainty on added statements and
// protects named graphs from mutation. With Strict set, any violation
// rejects the whole batch; otherwise only the offending mutations are
// rejected and the rest apply.
type PolicyVerifier struct {
	// MinCertainty rejects add/replace mutations whose statement certainty
	// falls below it. Statements without a certainty pass.
	MinCertainty float64
	// ProtectedGraphs lists graph URIs no mutation may touch.
	ProtectedGraphs []string
	// RequireJustification rejects batches without a justification text.
	RequireJustification bool
	// Strict escalates any violation to a whole-batch rejection.
	Strict bool
}

// Verify implements Verifier.
func (v PolicyVerifier) Verify(ctx context.Context, params *a2a.KnowledgeUpdateParams) (Outcome, error) {
	if v.RequireJustification && (params.Justification == nil || *params.Justification == "") {
		return Outcome{}, a2a.ErrAlignmentViolation("update requires a justification")
	}

	var rejected []int
	var reasons []string
	for i, patch := range params.Mutations {
		if reason := v.violation(patch); reason != "" {
			if v.Strict {
				return Outcome{}, a2a.ErrAlignmentViolation(fmt.Sprintf("mutation %d: %s", i, reason))
			}
			rejected = append(rejected, i)
			reasons = append(reasons, fmt.Sprintf("mutation %d: %s", i, reason))
		}
	}

	if len(rejected) > 0 {
		details := strings.Join(reasons, "; ")
		return Outcome{
			Status:   StatusRejected(details),
			Details:  details,
			Rejected: rejected,
		}, nil
	}
	return Outcome{Status: StatusVerified}, nil
}

func (v PolicyVerifier) violation(patch a2a.KnowledgeGraphPatch) string {
	if graph := patch.Statement.Graph; graph != nil && v.isProtected(*graph) {
		return fmt.Sprintf("targets protected graph %s", *graph)
	}
	if patch.Op == a2a.PatchOpRemove {
		return ""
	}
	if c := patch.Statement.Certainty; c != nil && *c < v.MinCertainty {
		return fmt.Sprintf("certainty %.2f below required %.2f", *c, v.MinCertainty)
	}
	return ""
}

func (v PolicyVerifier) isProtected(graph string) bool {
	for _, g := range v.ProtectedGraphs {
		if g == graph {
			return true
		}
	}
	return false
}
