package model

import (
	"time"

	"github.com/google/uuid"
)

// MatchCandidate is one existing person an ambiguous row might refer to,
// with the score that ranked it.
type MatchCandidate struct {
	PersonID string  `json:"personId"`
	Display  string  `json:"display"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason,omitempty"`
}

// MatchIssue is an ambiguous person match held open for an operator
// decision. One issue exists per distinct match key (normalized name or
// email); all rows referencing the same ambiguous person share it.
type MatchIssue struct {
	IssueID  string `json:"id"`
	MatchKey string `json:"matchKey"`
	Reason   string `json:"reason"`

	// Proposed is the provisional person assembled from the rows seen so
	// far. It is progressively filled in (missing fields only) as more
	// rows referencing the same match key arrive.
	Proposed *Person `json:"proposed"`

	// Candidates are the existing records the rows might refer to,
	// strongest first.
	Candidates []MatchCandidate `json:"candidates,omitempty"`

	// DependentChangeIDs are changes blocked until this issue resolves.
	DependentChangeIDs []string `json:"dependentChangeIds"`

	// ProvisionalChangeID is the shared pending add for the proposed
	// person; resolution either promotes or discards it.
	ProvisionalChangeID string `json:"provisionalChangeId,omitempty"`

	Resolution IssueResolution `json:"resolution,omitempty"`
	LinkedID   string          `json:"linkedId,omitempty"`
	ResolvedAt time.Time       `json:"resolvedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// NewMatchIssue opens an issue for a match key.
func NewMatchIssue(matchKey, reason string, proposed *Person) *MatchIssue {
	return &MatchIssue{
		IssueID:   uuid.New().String(),
		MatchKey:  matchKey,
		Reason:    reason,
		Proposed:  proposed,
		CreatedAt: time.Now().UTC(),
	}
}

// Resolved reports whether the operator has decided the issue.
func (mi *MatchIssue) Resolved() bool {
	return mi.Resolution != ""
}

// AddDependent records a change blocked on this issue.
func (mi *MatchIssue) AddDependent(changeID string) {
	for _, id := range mi.DependentChangeIDs {
		if id == changeID {
			return
		}
	}
	mi.DependentChangeIDs = append(mi.DependentChangeIDs, changeID)
}
