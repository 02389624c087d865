package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a transaction status change is not
// allowed by the lifecycle state machine.
var ErrInvalidTransition = errors.New("invalid transaction status transition")

// LineageRecord is the per-source-row audit trail: what happened to the
// row during the import and why.
type LineageRecord struct {
	RowIndex int        `json:"rowIndex"`
	RowHash  string     `json:"rowHash"`
	Outcome  RowOutcome `json:"outcome"`
	Reason   string     `json:"reason,omitempty"`
	EntityID string     `json:"entityId,omitempty"`
	ChangeID string     `json:"changeId,omitempty"`
}

// ValidationMessage is one validation error or warning surfaced during
// preview.
type ValidationMessage struct {
	Severity string `json:"severity"` // "error" or "warning"
	RowIndex int    `json:"rowIndex,omitempty"`
	Message  string `json:"message"`
}

// Summary aggregates per-row outcomes for operator display.
type Summary struct {
	RowsSeen     int `json:"rowsSeen"`
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	Unchanged    int `json:"unchanged"`
	MetadataOnly int `json:"metadataOnly"`
	Skipped      int `json:"skipped"`
	OpenIssues   int `json:"openIssues"`
}

// ImportTransaction is the aggregate root of one import: the full
// changeset, open match issues, validation report, summary, and row
// lineage. Created at preview, mutated while changes are approved and
// issues resolved, immutable once committed except for the rollback
// transition.
type ImportTransaction struct {
	TxID      string     `json:"id"`
	Type      ImportType `json:"type"`
	Scope     string     `json:"scope"`
	Status    TxStatus   `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	Changes []*Change     `json:"changes"`
	Issues  []*MatchIssue `json:"issues,omitempty"`

	Validation []ValidationMessage `json:"validation,omitempty"`
	Lineage    []LineageRecord     `json:"lineage"`
	Stats      Summary             `json:"stats"`

	// SelectiveCommit distinguishes a partial status reached by a
	// deliberately narrowed approval from one left behind by a
	// mid-commit failure.
	SelectiveCommit bool `json:"selectiveCommit,omitempty"`
}

// NewImportTransaction creates a transaction in the preview state.
func NewImportTransaction(importType ImportType, scope string) *ImportTransaction {
	now := time.Now().UTC()
	return &ImportTransaction{
		TxID:      uuid.New().String(),
		Type:      importType,
		Scope:     scope,
		Status:    StatusPreview,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the transaction to the next lifecycle state, enforcing
// the preview → committed|partial → rolled_back machine.
func (tx *ImportTransaction) Transition(next TxStatus) error {
	if !tx.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.Status, next)
	}
	tx.Status = next
	tx.UpdatedAt = time.Now().UTC()
	return nil
}

// AddChange appends a change to the changeset.
func (tx *ImportTransaction) AddChange(c *Change) {
	tx.Changes = append(tx.Changes, c)
	tx.UpdatedAt = time.Now().UTC()
}

// FindChange returns the change with the given id, or nil.
func (tx *ImportTransaction) FindChange(changeID string) *Change {
	for _, c := range tx.Changes {
		if c.ChangeID == changeID {
			return c
		}
	}
	return nil
}

// AddIssue appends a match issue.
func (tx *ImportTransaction) AddIssue(issue *MatchIssue) {
	tx.Issues = append(tx.Issues, issue)
	tx.UpdatedAt = time.Now().UTC()
}

// FindIssue returns the issue with the given id, or nil.
func (tx *ImportTransaction) FindIssue(issueID string) *MatchIssue {
	for _, issue := range tx.Issues {
		if issue.IssueID == issueID {
			return issue
		}
	}
	return nil
}

// FindIssueByKey returns the open issue for a match key, or nil. Rows
// referencing the same ambiguous person share one issue.
func (tx *ImportTransaction) FindIssueByKey(matchKey string) *MatchIssue {
	for _, issue := range tx.Issues {
		if issue.MatchKey == matchKey && !issue.Resolved() {
			return issue
		}
	}
	return nil
}

// UnresolvedIssues returns the issues still awaiting an operator decision.
func (tx *ImportTransaction) UnresolvedIssues() []*MatchIssue {
	var open []*MatchIssue
	for _, issue := range tx.Issues {
		if !issue.Resolved() {
			open = append(open, issue)
		}
	}
	return open
}

// AddError records a row-level validation error.
func (tx *ImportTransaction) AddError(rowIndex int, msg string) {
	tx.Validation = append(tx.Validation, ValidationMessage{
		Severity: "error",
		RowIndex: rowIndex,
		Message:  msg,
	})
}

// AddWarning records a validation warning (identity collisions and the
// like); the import proceeds.
func (tx *ImportTransaction) AddWarning(rowIndex int, msg string) {
	tx.Validation = append(tx.Validation, ValidationMessage{
		Severity: "warning",
		RowIndex: rowIndex,
		Message:  msg,
	})
}

// RecordLineage upserts the lineage record for a row hash.
func (tx *ImportTransaction) RecordLineage(rec LineageRecord) {
	for i, existing := range tx.Lineage {
		if existing.RowHash == rec.RowHash && existing.RowIndex == rec.RowIndex {
			tx.Lineage[i] = rec
			tx.UpdatedAt = time.Now().UTC()
			return
		}
	}
	tx.Lineage = append(tx.Lineage, rec)
	tx.UpdatedAt = time.Now().UTC()
}

// RecomputeStats rebuilds the summary from lineage and issues.
func (tx *ImportTransaction) RecomputeStats() {
	stats := Summary{RowsSeen: len(tx.Lineage)}
	for _, rec := range tx.Lineage {
		switch rec.Outcome {
		case OutcomeCreated:
			stats.Created++
		case OutcomeUpdated:
			stats.Updated++
		case OutcomeUnchanged:
			stats.Unchanged++
		case OutcomeMetadataOnly:
			stats.MetadataOnly++
		case OutcomeSkipped:
			stats.Skipped++
		case OutcomePendingIssue:
			// Counted through OpenIssues below.
		}
	}
	stats.OpenIssues = len(tx.UnresolvedIssues())
	tx.Stats = stats
}

// AppliedChanges returns the changes that were written to the store, in
// changeset order. Rollback replays these in reverse.
func (tx *ImportTransaction) AppliedChanges() []*Change {
	var applied []*Change
	for _, c := range tx.Changes {
		if c.Applied {
			applied = append(applied, c)
		}
	}
	return applied
}
