// Package issue manages ambiguous person matches held open for operator
// decision. One issue exists per distinct match key; every row
// referencing the same ambiguous person shares the issue and its
// provisional add change, which is progressively filled in as rows
// arrive.
package issue

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/campusops/reconcile/pkg/merge"
	"github.com/campusops/reconcile/pkg/model"
)

// ErrAlreadyResolved is returned when an operator decides an issue twice.
var ErrAlreadyResolved = errors.New("match issue already resolved")

// Decision is the operator's resolution of a match issue.
type Decision struct {
	Action model.IssueResolution
	// LinkedID names the existing person for ResolutionLink.
	LinkedID string
}

// MergeProposed merges a newly seen person mention into the provisional
// person, filling missing fields only. It is a pure function: both inputs
// stay untouched and the merged copy is returned.
func MergeProposed(existing, incoming *model.Person) *model.Person {
	merged := existing.Clone().(*model.Person)

	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
		}
	}

	fill(&merged.ExternalID, incoming.ExternalID)
	fill(&merged.OrgID, incoming.OrgID)
	fill(&merged.Email, incoming.Email)
	fill(&merged.FirstName, incoming.FirstName)
	fill(&merged.MiddleName, incoming.MiddleName)
	fill(&merged.LastName, incoming.LastName)
	fill(&merged.Title, incoming.Title)
	fill(&merged.Phone, incoming.Phone)
	fill(&merged.Office, incoming.Office)

	for _, role := range incoming.Roles {
		found := false
		for _, existing := range merged.Roles {
			if existing == role {
				found = true
				break
			}
		}
		if !found {
			merged.Roles = append(merged.Roles, role)
		}
	}

	return merged
}

// Resolver applies operator decisions to a transaction's match issues.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger.Named("issue-resolver")}
}

// Absorb merges another row's person mention into an open issue and its
// provisional add change.
func (r *Resolver) Absorb(tx *model.ImportTransaction, issue *model.MatchIssue, incoming *model.Person) {
	issue.Proposed = MergeProposed(issue.Proposed, incoming)

	if provisional := tx.FindChange(issue.ProvisionalChangeID); provisional != nil {
		provisional.New = issue.Proposed.Clone()
	}
}

// AbsorbChange merges another row's person mention into a pending add
// change that is not issue-backed.
func (r *Resolver) AbsorbChange(c *model.Change, incoming *model.Person) {
	existing, ok := c.New.(*model.Person)
	if !ok {
		return
	}
	c.New = MergeProposed(existing, incoming)
}

// Resolve applies a decision. For link, dependent changes are rewritten
// to reference the existing person, the provisional add is discarded, and
// a supplementary update backfills fields the existing record lacks
// (existing must be the stored person). For create, the provisional add
// becomes commit-eligible.
func (r *Resolver) Resolve(tx *model.ImportTransaction, issue *model.MatchIssue, decision Decision, existing *model.Person) error {
	if issue.Resolved() {
		return fmt.Errorf("issue %q: %w", issue.IssueID, ErrAlreadyResolved)
	}

	switch decision.Action {
	case model.ResolutionLink:
		if decision.LinkedID == "" {
			return fmt.Errorf("issue %q: link resolution requires an existing person id", issue.IssueID)
		}
		if existing == nil {
			return fmt.Errorf("issue %q: linked person %q not found", issue.IssueID, decision.LinkedID)
		}
		r.link(tx, issue, existing)

	case model.ResolutionCreate:
		r.create(tx, issue)

	default:
		return fmt.Errorf("issue %q: unknown resolution action %q", issue.IssueID, decision.Action)
	}

	issue.Resolution = decision.Action
	issue.LinkedID = decision.LinkedID
	issue.ResolvedAt = tx.UpdatedAt

	r.logger.Info("Match issue resolved",
		zap.String("txId", tx.TxID),
		zap.String("issueId", issue.IssueID),
		zap.String("action", string(decision.Action)),
		zap.String("linkedId", decision.LinkedID),
		zap.Int("dependents", len(issue.DependentChangeIDs)))

	return nil
}

// link rewrites dependents to the existing person and queues a backfill
// update for fields the stored record lacks.
func (r *Resolver) link(tx *model.ImportTransaction, issue *model.MatchIssue, existing *model.Person) {
	provisionalID := ""
	if provisional := tx.FindChange(issue.ProvisionalChangeID); provisional != nil {
		provisionalID = provisional.TargetID()
		removeChange(tx, issue.ProvisionalChangeID)
	}

	for _, changeID := range issue.DependentChangeIDs {
		c := tx.FindChange(changeID)
		if c == nil {
			continue
		}
		rewritePersonRefs(c, provisionalID, existing.ID())
		c.PendingIssueID = ""
	}

	// Backfill fields the existing record is missing from the proposed
	// person assembled during preview.
	proposed := issue.Proposed.Clone().(*model.Person)
	proposed.RecordID = existing.ID()
	backfill := MergeProposed(existing, proposed)
	merged, deltas := merge.DiffPerson(existing, backfill)
	if len(deltas) > 0 {
		supplement := model.NewChange(model.EntityPerson, model.ActionModify)
		supplement.New = merged
		supplement.Original = existing.Clone()
		supplement.Diff = deltas
		supplement.MetadataOnly = merge.MetadataOnly(deltas)
		supplement.GroupKey = "issue:" + issue.IssueID
		tx.AddChange(supplement)
	}
}

// create promotes the provisional add and unblocks dependents.
func (r *Resolver) create(tx *model.ImportTransaction, issue *model.MatchIssue) {
	if provisional := tx.FindChange(issue.ProvisionalChangeID); provisional != nil {
		provisional.New = issue.Proposed.Clone()
		provisional.PendingIssueID = ""
	}
	for _, changeID := range issue.DependentChangeIDs {
		if c := tx.FindChange(changeID); c != nil {
			c.PendingIssueID = ""
		}
	}
}

// rewritePersonRefs swaps a provisional person id for the linked one in a
// dependent change's payload.
func rewritePersonRefs(c *model.Change, from, to string) {
	if from == "" || from == to {
		return
	}

	rewrite := func(e model.Entity) {
		section, ok := e.(*model.Section)
		if !ok {
			return
		}
		for i := range section.Assignments {
			if section.Assignments[i].PersonID == from {
				section.Assignments[i].PersonID = to
			}
		}
	}

	if c.New != nil {
		rewrite(c.New)
	}
	for i := range c.Diff {
		if assignments, ok := c.Diff[i].New.([]model.InstructorAssignment); ok {
			for j := range assignments {
				if assignments[j].PersonID == from {
					assignments[j].PersonID = to
				}
			}
			c.Diff[i].New = assignments
		}
	}
}

// removeChange drops a change from the changeset.
func removeChange(tx *model.ImportTransaction, changeID string) {
	for i, c := range tx.Changes {
		if c.ChangeID == changeID {
			tx.Changes = append(tx.Changes[:i], tx.Changes[i+1:]...)
			return
		}
	}
}
