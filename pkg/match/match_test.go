package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusops/reconcile/pkg/model"
	"github.com/campusops/reconcile/pkg/store"
)

func newTestMatcher(t *testing.T, entities ...model.Entity) *Matcher {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()

	batch := st.NewAtomicBatch()
	for _, e := range entities {
		batch.Set(e)
	}
	require.NoError(t, batch.Commit(ctx))

	snap, err := LoadSnapshot(ctx, st, DefaultConfig())
	require.NoError(t, err)
	return NewMatcher(DefaultConfig(), snap, 0.85, zap.NewNop())
}

func TestMatchPersonExternalID(t *testing.T) {
	m := newTestMatcher(t,
		&model.Person{RecordID: "per_1", ExternalID: "123456789", FirstName: "Jane", LastName: "Doe"},
		&model.Person{RecordID: "per_2", FirstName: "Jane", LastName: "Doe"},
	)

	// The external id wins even with an exact-name tie in the store.
	res := m.MatchPerson(PersonQuery{ExternalID: "123456789", FirstName: "Jane", LastName: "Doe"})
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "per_1", res.Person.ID())
	assert.Equal(t, "externalId", res.Strategy)
}

func TestMatchPersonEmailCaseInsensitive(t *testing.T) {
	m := newTestMatcher(t,
		&model.Person{RecordID: "per_1", Email: "jdoe@campus.edu", LastName: "Doe"},
	)

	res := m.MatchPerson(PersonQuery{Email: "JDoe@Campus.EDU"})
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "per_1", res.Person.ID())
}

func TestMatchPersonNormalizedName(t *testing.T) {
	m := newTestMatcher(t,
		&model.Person{RecordID: "per_1", FirstName: "Robert", LastName: "Jones"},
	)

	// Nickname and middle initial both normalize away.
	res := m.MatchPerson(PersonQuery{FirstName: "Bob E.", LastName: "Jones"})
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "per_1", res.Person.ID())
	assert.Equal(t, "exactName", res.Strategy)
}

func TestMatchPersonExactNameTieIsAmbiguous(t *testing.T) {
	m := newTestMatcher(t,
		&model.Person{RecordID: "per_1", FirstName: "Jane", LastName: "Doe", Title: "Professor"},
		&model.Person{RecordID: "per_2", FirstName: "Jane", LastName: "Doe", Title: "Lecturer"},
	)

	res := m.MatchPerson(PersonQuery{FirstName: "Jane", LastName: "Doe"})
	require.Equal(t, StatusAmbiguous, res.Status)
	assert.Len(t, res.Candidates, 2)
	assert.Nil(t, res.Person)
}

func TestMatchPersonFuzzyUnique(t *testing.T) {
	m := newTestMatcher(t,
		&model.Person{RecordID: "per_1", FirstName: "Katherine", LastName: "Johnson"},
		&model.Person{RecordID: "per_2", FirstName: "Samuel", LastName: "Tilden"},
	)

	// One transposition inside a long name clears the 0.85 threshold.
	res := m.MatchPerson(PersonQuery{FirstName: "Katheirne", LastName: "Johnson"})
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "per_1", res.Person.ID())
	assert.Equal(t, "fuzzyName", res.Strategy)
}

func TestMatchPersonUniqueSurname(t *testing.T) {
	m := newTestMatcher(t,
		&model.Person{RecordID: "per_1", FirstName: "Roy", LastName: "Zielinski"},
		&model.Person{RecordID: "per_2", FirstName: "Ann", LastName: "Baker"},
	)

	res := m.MatchPerson(PersonQuery{LastName: "Zielinski"})
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "per_1", res.Person.ID())
	assert.Equal(t, "uniqueSurname", res.Strategy)
}

func TestMatchPersonTitleDisambiguation(t *testing.T) {
	m := newTestMatcher(t,
		&model.Person{RecordID: "per_1", FirstName: "Jane", LastName: "Rivera", Title: "Professor"},
		&model.Person{RecordID: "per_2", FirstName: "Maria", LastName: "Rivera", Title: "Registrar"},
	)

	res := m.MatchPerson(PersonQuery{LastName: "Rivera", FirstName: "J", Title: "Registrar"})
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "per_2", res.Person.ID())
	assert.Equal(t, "surnameTitle", res.Strategy)

	// Without the title the shared surname stays ambiguous.
	res = m.MatchPerson(PersonQuery{LastName: "Rivera", FirstName: "J"})
	assert.Equal(t, StatusAmbiguous, res.Status)
}

func TestMatchPersonNoSignal(t *testing.T) {
	m := newTestMatcher(t,
		&model.Person{RecordID: "per_1", FirstName: "Jane", LastName: "Doe"},
	)

	res := m.MatchPerson(PersonQuery{FirstName: "Zofia", LastName: "Nowak"})
	assert.Equal(t, StatusNone, res.Status)
}

func TestMatchRoom(t *testing.T) {
	m := newTestMatcher(t,
		&model.Room{RecordID: "goebel_building_101", SpaceKey: "goebel_building_101", DisplayName: "Goebel Building 101"},
	)

	assert.NotNil(t, m.MatchRoom("GOEBEL  Building 101"))
	assert.NotNil(t, m.MatchRoomByKey("goebel_building_101"))
	assert.Nil(t, m.MatchRoom("Annex 2"))
}

func TestMatchSectionByAnyHeldKey(t *testing.T) {
	sec := &model.Section{
		RecordID: "sec_1",
		IdentityKeys: []string{
			"referenceNumber:Spring2026:33070",
			"naturalKey:biol 301:001:Spring2026",
		},
		PrimaryKey: "referenceNumber:Spring2026:33070",
	}
	m := newTestMatcher(t, sec)

	// A key the section held previously still resolves it.
	res := m.MatchSection([]string{"naturalKey:biol 301:001:Spring2026"})
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "sec_1", res.Section.ID())

	res = m.MatchSection([]string{"referenceNumber:Spring2026:99999"})
	assert.Equal(t, StatusNone, res.Status)
}

func TestMatchSectionCollisionPrefersNewest(t *testing.T) {
	older := &model.Section{
		RecordID:     "sec_a",
		IdentityKeys: []string{"naturalKey:biol 301:001:Spring2026"},
		UpdatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := &model.Section{
		RecordID:     "sec_b",
		IdentityKeys: []string{"naturalKey:biol 301:001:Spring2026"},
		UpdatedAt:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	m := newTestMatcher(t, older, newer)

	res := m.MatchSection([]string{"naturalKey:biol 301:001:Spring2026"})
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "sec_b", res.Section.ID())
	assert.NotEmpty(t, res.CollisionWarning)
}

func TestMatchSectionCollisionTieBreaksOnID(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &model.Section{RecordID: "sec_a", IdentityKeys: []string{"naturalKey:x:1:T"}, UpdatedAt: at}
	b := &model.Section{RecordID: "sec_b", IdentityKeys: []string{"naturalKey:x:1:T"}, UpdatedAt: at}
	m := newTestMatcher(t, a, b)

	res := m.MatchSection([]string{"naturalKey:x:1:T"})
	require.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "sec_b", res.Section.ID())
}
