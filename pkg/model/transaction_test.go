package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionLifecycle(t *testing.T) {
	tx := NewImportTransaction(ImportSchedule, "Spring 2026")
	assert.Equal(t, StatusPreview, tx.Status)

	require.NoError(t, tx.Transition(StatusCommitted))
	assert.Equal(t, StatusCommitted, tx.Status)

	require.NoError(t, tx.Transition(StatusRolledBack))

	// Rolled back is terminal.
	err := tx.Transition(StatusCommitted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransactionRejectsSkippedStates(t *testing.T) {
	tx := NewImportTransaction(ImportSchedule, "Spring 2026")

	// Preview cannot jump straight to rolled back.
	assert.ErrorIs(t, tx.Transition(StatusRolledBack), ErrInvalidTransition)

	require.NoError(t, tx.Transition(StatusPartial))
	assert.ErrorIs(t, tx.Transition(StatusCommitted), ErrInvalidTransition)
	require.NoError(t, tx.Transition(StatusRolledBack))
}

func TestRecordLineageUpserts(t *testing.T) {
	tx := NewImportTransaction(ImportSchedule, "Spring 2026")

	tx.RecordLineage(LineageRecord{RowIndex: 0, RowHash: "abc", Outcome: OutcomePendingIssue})
	tx.RecordLineage(LineageRecord{RowIndex: 1, RowHash: "def", Outcome: OutcomeCreated})
	require.Len(t, tx.Lineage, 2)

	// Same row again replaces its record instead of appending.
	tx.RecordLineage(LineageRecord{RowIndex: 0, RowHash: "abc", Outcome: OutcomeCreated})
	require.Len(t, tx.Lineage, 2)
	assert.Equal(t, OutcomeCreated, tx.Lineage[0].Outcome)
}

func TestRecomputeStats(t *testing.T) {
	tx := NewImportTransaction(ImportSchedule, "Spring 2026")
	tx.RecordLineage(LineageRecord{RowIndex: 0, RowHash: "a", Outcome: OutcomeCreated})
	tx.RecordLineage(LineageRecord{RowIndex: 1, RowHash: "b", Outcome: OutcomeUpdated})
	tx.RecordLineage(LineageRecord{RowIndex: 2, RowHash: "c", Outcome: OutcomeUnchanged})
	tx.RecordLineage(LineageRecord{RowIndex: 3, RowHash: "d", Outcome: OutcomeSkipped})
	tx.AddIssue(NewMatchIssue("name:jane doe", "two candidates", &Person{LastName: "Doe"}))

	tx.RecomputeStats()

	assert.Equal(t, 4, tx.Stats.RowsSeen)
	assert.Equal(t, 1, tx.Stats.Created)
	assert.Equal(t, 1, tx.Stats.Updated)
	assert.Equal(t, 1, tx.Stats.Unchanged)
	assert.Equal(t, 1, tx.Stats.Skipped)
	assert.Equal(t, 1, tx.Stats.OpenIssues)
}

func TestFindIssueByKeySkipsResolved(t *testing.T) {
	tx := NewImportTransaction(ImportSchedule, "Spring 2026")
	mi := NewMatchIssue("name:jane doe", "two candidates", &Person{LastName: "Doe"})
	tx.AddIssue(mi)

	assert.Same(t, mi, tx.FindIssueByKey("name:jane doe"))

	mi.Resolution = ResolutionCreate
	assert.Nil(t, tx.FindIssueByKey("name:jane doe"))
}

func TestChangeJSONRoundTrip(t *testing.T) {
	c := NewChange(EntitySection, ActionModify).WithGroup("naturalKey:biol 301:001:Spring2026").WithRow("hash123")
	c.New = &Section{RecordID: "sec_1", Course: "BIOL 301", Assignments: []InstructorAssignment{{PersonID: "per_1", Primary: true, LoadPercent: 100}}}
	c.Original = &Section{RecordID: "sec_1", Course: "BIOL 301"}
	c.Diff = []FieldDelta{{Field: "enrollment", Old: 20, New: 24}}
	c.MarkApplied()

	payload, err := json.Marshal(c)
	require.NoError(t, err)

	var decoded Change
	require.NoError(t, json.Unmarshal(payload, &decoded))

	assert.Equal(t, c.ChangeID, decoded.ChangeID)
	assert.Equal(t, EntitySection, decoded.EntityType)
	assert.Equal(t, ActionModify, decoded.Action)
	assert.True(t, decoded.Applied)

	section, ok := decoded.New.(*Section)
	require.True(t, ok, "payload should decode to its concrete type")
	assert.Equal(t, "sec_1", section.RecordID)
	require.Len(t, section.Assignments, 1)
	assert.Equal(t, "per_1", section.Assignments[0].PersonID)

	original, ok := decoded.Original.(*Section)
	require.True(t, ok)
	assert.Empty(t, original.Assignments)
}
