package model

import "fmt"

// EntityType identifies the kind of canonical record a change targets.
type EntityType string

const (
	EntityPerson  EntityType = "person"
	EntityRoom    EntityType = "room"
	EntitySection EntityType = "section"
)

// Valid reports whether the entity type is one of the known kinds.
func (et EntityType) Valid() bool {
	switch et {
	case EntityPerson, EntityRoom, EntitySection:
		return true
	}
	return false
}

// ChangeAction is the kind of mutation a Change proposes.
type ChangeAction int

const (
	ActionAdd ChangeAction = iota
	ActionModify
	ActionDelete
)

// String returns a string representation of the change action.
func (a ChangeAction) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionModify:
		return "modify"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("Unknown(%d)", a)
	}
}

// TxStatus is the lifecycle state of an import transaction.
type TxStatus string

const (
	// StatusPreview is the initial state; changes may still accrue.
	StatusPreview TxStatus = "preview"
	// StatusCommitted is the terminal success state.
	StatusCommitted TxStatus = "committed"
	// StatusPartial marks a transaction that failed mid-commit; applied
	// chunks stay applied and rollback remains available.
	StatusPartial TxStatus = "partial"
	// StatusRolledBack is terminal; no transition leaves it.
	StatusRolledBack TxStatus = "rolled_back"
)

// CanTransition reports whether the status may move to next.
func (s TxStatus) CanTransition(next TxStatus) bool {
	switch s {
	case StatusPreview:
		return next == StatusCommitted || next == StatusPartial
	case StatusCommitted, StatusPartial:
		return next == StatusRolledBack
	case StatusRolledBack:
		return false
	default:
		return false
	}
}

// RowOutcome records what happened to one source row during an import.
type RowOutcome string

const (
	OutcomeCreated      RowOutcome = "created"
	OutcomeUpdated      RowOutcome = "updated"
	OutcomeUnchanged    RowOutcome = "unchanged"
	OutcomeMetadataOnly RowOutcome = "metadata_only"
	OutcomeSkipped      RowOutcome = "skipped"
	OutcomePendingIssue RowOutcome = "pending_issue"
)

// IssueResolution is the operator's decision on a match issue.
type IssueResolution string

const (
	// ResolutionLink attaches the ambiguous rows to an existing person.
	ResolutionLink IssueResolution = "link"
	// ResolutionCreate materializes the provisional new person.
	ResolutionCreate IssueResolution = "create"
)

// ImportType distinguishes the two supported extract kinds.
type ImportType string

const (
	ImportSchedule  ImportType = "schedule"
	ImportDirectory ImportType = "directory"
)
