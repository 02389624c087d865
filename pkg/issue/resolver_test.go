package issue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusops/reconcile/pkg/model"
)

// ambiguousImport builds a transaction holding one open issue: a
// provisional person add plus a section change blocked on the decision.
func ambiguousImport(t *testing.T) (*model.ImportTransaction, *model.MatchIssue, *model.Change, *model.Change) {
	t.Helper()
	tx := model.NewImportTransaction(model.ImportSchedule, "Spring 2026")

	proposed := &model.Person{RecordID: "per_prov", FirstName: "Jane", LastName: "Doe"}
	mi := model.NewMatchIssue("name:jane doe", "two records share the name", proposed)

	provisional := model.NewChange(model.EntityPerson, model.ActionAdd)
	provisional.New = proposed.Clone()
	provisional.PendingIssueID = mi.IssueID
	tx.AddChange(provisional)
	mi.ProvisionalChangeID = provisional.ChangeID

	section := model.NewChange(model.EntitySection, model.ActionAdd)
	section.New = &model.Section{
		RecordID: "sec_1",
		Course:   "BIOL 301",
		Assignments: []model.InstructorAssignment{
			{PersonID: "per_prov", Primary: true, LoadPercent: 100},
		},
	}
	section.PendingIssueID = mi.IssueID
	tx.AddChange(section)
	mi.AddDependent(section.ChangeID)

	tx.AddIssue(mi)
	return tx, mi, provisional, section
}

func TestResolveLink(t *testing.T) {
	tx, mi, provisional, section := ambiguousImport(t)
	r := NewResolver(zap.NewNop())

	existing := &model.Person{RecordID: "per_9", FirstName: "Jane", LastName: "Doe", Email: "jdoe@campus.edu"}
	err := r.Resolve(tx, mi, Decision{Action: model.ResolutionLink, LinkedID: "per_9"}, existing)
	require.NoError(t, err)

	// The provisional add is gone from the changeset.
	assert.Nil(t, tx.FindChange(provisional.ChangeID))

	// The dependent section now references the linked person and is
	// unblocked.
	dep := tx.FindChange(section.ChangeID)
	require.NotNil(t, dep)
	assert.Empty(t, dep.PendingIssueID)
	sec := dep.New.(*model.Section)
	require.Len(t, sec.Assignments, 1)
	assert.Equal(t, "per_9", sec.Assignments[0].PersonID)

	assert.True(t, mi.Resolved())
	assert.Equal(t, "per_9", mi.LinkedID)
}

func TestResolveLinkBackfillsMissingFields(t *testing.T) {
	tx, mi, _, _ := ambiguousImport(t)
	r := NewResolver(zap.NewNop())

	// The issue accumulated a title the stored record lacks.
	mi.Proposed.Title = "Professor"

	existing := &model.Person{RecordID: "per_9", FirstName: "Jane", LastName: "Doe"}
	require.NoError(t, r.Resolve(tx, mi, Decision{Action: model.ResolutionLink, LinkedID: "per_9"}, existing))

	var supplement *model.Change
	for _, c := range tx.Changes {
		if c.EntityType == model.EntityPerson && c.Action == model.ActionModify {
			supplement = c
		}
	}
	require.NotNil(t, supplement, "link should queue a backfill update")
	assert.Equal(t, "issue:"+mi.IssueID, supplement.GroupKey)
	assert.Equal(t, "Professor", supplement.New.(*model.Person).Title)
}

func TestResolveLinkRequiresPerson(t *testing.T) {
	tx, mi, _, _ := ambiguousImport(t)
	r := NewResolver(zap.NewNop())

	err := r.Resolve(tx, mi, Decision{Action: model.ResolutionLink}, nil)
	assert.Error(t, err)
	assert.False(t, mi.Resolved())
}

func TestResolveCreate(t *testing.T) {
	tx, mi, provisional, section := ambiguousImport(t)
	r := NewResolver(zap.NewNop())

	require.NoError(t, r.Resolve(tx, mi, Decision{Action: model.ResolutionCreate}, nil))

	// The provisional add is promoted and every dependent unblocked.
	promoted := tx.FindChange(provisional.ChangeID)
	require.NotNil(t, promoted)
	assert.Empty(t, promoted.PendingIssueID)

	dep := tx.FindChange(section.ChangeID)
	assert.Empty(t, dep.PendingIssueID)
	assert.Equal(t, "per_prov", dep.New.(*model.Section).Assignments[0].PersonID)
}

func TestResolveTwiceFails(t *testing.T) {
	tx, mi, _, _ := ambiguousImport(t)
	r := NewResolver(zap.NewNop())

	require.NoError(t, r.Resolve(tx, mi, Decision{Action: model.ResolutionCreate}, nil))
	err := r.Resolve(tx, mi, Decision{Action: model.ResolutionCreate}, nil)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestAbsorbFillsMissingFieldsOnly(t *testing.T) {
	tx, mi, provisional, _ := ambiguousImport(t)
	r := NewResolver(zap.NewNop())

	r.Absorb(tx, mi, &model.Person{
		FirstName: "Janet", // already set; must not overwrite
		Title:     "Professor",
		Roles:     []string{"instructor"},
	})

	assert.Equal(t, "Jane", mi.Proposed.FirstName)
	assert.Equal(t, "Professor", mi.Proposed.Title)
	assert.Equal(t, []string{"instructor"}, mi.Proposed.Roles)

	// The provisional change payload tracks the merged person.
	assert.Equal(t, "Professor", provisional.New.(*model.Person).Title)
}

func TestMergeProposedIsPure(t *testing.T) {
	a := &model.Person{FirstName: "Jane", Roles: []string{"instructor"}}
	b := &model.Person{LastName: "Doe", Roles: []string{"advisor"}}

	merged := MergeProposed(a, b)
	assert.Equal(t, "Jane", merged.FirstName)
	assert.Equal(t, "Doe", merged.LastName)
	assert.ElementsMatch(t, []string{"instructor", "advisor"}, merged.Roles)

	// Inputs stay untouched.
	assert.Empty(t, a.LastName)
	assert.Equal(t, []string{"instructor"}, a.Roles)
	assert.Equal(t, []string{"advisor"}, b.Roles)
}
