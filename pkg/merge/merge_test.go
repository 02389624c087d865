package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/reconcile/pkg/model"
)

func TestDiffPersonEmptyNeverErases(t *testing.T) {
	existing := &model.Person{
		RecordID: "per_1",
		Email:    "jdoe@campus.edu",
		Phone:    "555-0100",
		LastName: "Doe",
	}
	incoming := &model.Person{LastName: "Doe"}

	merged, deltas := DiffPerson(existing, incoming)
	assert.Empty(t, deltas)
	assert.Equal(t, "jdoe@campus.edu", merged.Email)
	assert.Equal(t, "555-0100", merged.Phone)
}

func TestDiffPersonAllowListedClears(t *testing.T) {
	existing := &model.Person{
		RecordID: "per_1",
		Email:    "jdoe@campus.edu",
		Phone:    "555-0100",
		LastName: "Doe",
	}
	incoming := &model.Person{LastName: "Doe", EmailAbsent: true, PhoneAbsent: true}

	merged, deltas := DiffPerson(existing, incoming)
	assert.Empty(t, merged.Email)
	assert.Empty(t, merged.Phone)
	assert.True(t, merged.EmailAbsent)

	fields := deltaFields(deltas)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "phone")
}

func TestDiffPersonOverwrites(t *testing.T) {
	existing := &model.Person{RecordID: "per_1", Office: "Goebel 210", LastName: "Doe"}
	incoming := &model.Person{Office: "Annex 12", LastName: "Doe"}

	merged, deltas := DiffPerson(existing, incoming)
	assert.Equal(t, "Annex 12", merged.Office)
	require.Len(t, deltas, 1)
	assert.Equal(t, "office", deltas[0].Field)
	assert.Equal(t, "Goebel 210", deltas[0].Old)
}

func TestDiffPersonRolesCompareAsSet(t *testing.T) {
	existing := &model.Person{RecordID: "per_1", LastName: "Doe", Roles: []string{"Instructor", "Advisor"}}
	incoming := &model.Person{LastName: "Doe", Roles: []string{"advisor", "instructor"}}

	_, deltas := DiffPerson(existing, incoming)
	assert.Empty(t, deltas)
}

func TestDiffRoomBackfills(t *testing.T) {
	existing := &model.Room{RecordID: "goebel_building_101", SpaceKey: "goebel_building_101", DisplayName: "Goebel Building 101"}
	incoming := &model.Room{Building: "Goebel", SpaceNumber: "101", Capacity: 45}

	merged, deltas := DiffRoom(existing, incoming)
	assert.Equal(t, "Goebel", merged.Building)
	assert.Equal(t, 45, merged.Capacity)
	assert.Len(t, deltas, 3)
}

func TestDiffSectionIdentityKeysUnion(t *testing.T) {
	existing := &model.Section{
		RecordID:     "sec_1",
		Course:       "BIOL 301",
		IdentityKeys: []string{"naturalKey:biol 301:001:Spring2026"},
		PrimaryKey:   "naturalKey:biol 301:001:Spring2026",
	}
	incoming := &model.Section{
		Course: "BIOL 301",
		IdentityKeys: []string{
			"referenceNumber:Spring2026:33070",
			"naturalKey:biol 301:001:Spring2026",
		},
		PrimaryKey: "referenceNumber:Spring2026:33070",
	}

	merged, deltas := DiffSection(existing, incoming)

	// Union keeps the old key and adds the new one.
	assert.ElementsMatch(t, []string{
		"naturalKey:biol 301:001:Spring2026",
		"referenceNumber:Spring2026:33070",
	}, merged.IdentityKeys)

	// The stronger reference-number key takes over as primary.
	assert.Equal(t, "referenceNumber:Spring2026:33070", merged.PrimaryKey)

	fields := deltaFields(deltas)
	assert.Contains(t, fields, "identityKeys")
	assert.Contains(t, fields, "primaryKey")
}

func TestDiffSectionPrimaryKeyNeverDowngrades(t *testing.T) {
	existing := &model.Section{
		RecordID:     "sec_1",
		Course:       "BIOL 301",
		IdentityKeys: []string{"referenceNumber:Spring2026:33070"},
		PrimaryKey:   "referenceNumber:Spring2026:33070",
	}
	incoming := &model.Section{
		Course:       "BIOL 301",
		IdentityKeys: []string{"naturalKey:biol 301:001:Spring2026"},
		PrimaryKey:   "naturalKey:biol 301:001:Spring2026",
	}

	merged, _ := DiffSection(existing, incoming)
	assert.Equal(t, "referenceNumber:Spring2026:33070", merged.PrimaryKey)
	assert.Len(t, merged.IdentityKeys, 2)
}

func TestDiffSectionNoRoomNeededClearsRooms(t *testing.T) {
	existing := &model.Section{
		RecordID:  "sec_1",
		Course:    "BIOL 301",
		RoomIDs:   []string{"goebel_building_101"},
		RoomNames: []string{"Goebel Building 101"},
	}
	incoming := &model.Section{Course: "BIOL 301", NoRoomNeeded: true}

	merged, deltas := DiffSection(existing, incoming)
	assert.Empty(t, merged.RoomIDs)
	assert.Empty(t, merged.RoomNames)
	assert.True(t, merged.NoRoomNeeded)
	assert.Contains(t, deltaFields(deltas), "roomIds")
}

func TestDiffSectionMeetingsCompareAsSet(t *testing.T) {
	existing := &model.Section{
		RecordID: "sec_1",
		Course:   "BIOL 301",
		Meetings: []model.MeetingPattern{
			{Days: []string{"Mon", "Wed"}, StartTime: "0900", EndTime: "0950"},
			{Days: []string{"Tue", "Thu"}, StartTime: "1100", EndTime: "1215"},
		},
	}
	incoming := &model.Section{
		Course: "BIOL 301",
		Meetings: []model.MeetingPattern{
			{Days: []string{"Thu", "Tue"}, StartTime: "1100", EndTime: "1215"},
			{Days: []string{"Wed", "Mon"}, StartTime: "0900", EndTime: "0950"},
		},
	}

	_, deltas := DiffSection(existing, incoming)
	assert.Empty(t, deltas)
}

func TestDiffSectionIdenticalReimportIsPureNoOp(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	existing := &model.Section{
		RecordID:      "sec_1",
		Course:        "BIOL 301",
		SourceRowHash: "hash123",
	}
	incoming := &model.Section{
		Course:         "BIOL 301",
		SourceRowHash:  "hash123",
		LastImportedAt: at,
	}

	_, deltas := DiffSection(existing, incoming)
	assert.Empty(t, deltas, "unchanged row hash with no real change must not produce deltas")
}

func TestDiffSectionChangedHashIsMetadataOnly(t *testing.T) {
	existing := &model.Section{
		RecordID:      "sec_1",
		Course:        "BIOL 301",
		SourceRowHash: "hash123",
	}
	incoming := &model.Section{
		Course:         "BIOL 301",
		SourceRowHash:  "hash456",
		LastImportedAt: time.Now().UTC(),
	}

	_, deltas := DiffSection(existing, incoming)
	require.NotEmpty(t, deltas)
	assert.True(t, MetadataOnly(deltas))
}

func TestMetadataOnly(t *testing.T) {
	assert.False(t, MetadataOnly(nil))
	assert.True(t, MetadataOnly([]model.FieldDelta{
		{Field: "sourceRowHash"},
		{Field: "lastImportedAt"},
		{Field: "identityKeys"},
	}))
	assert.False(t, MetadataOnly([]model.FieldDelta{
		{Field: "sourceRowHash"},
		{Field: "enrollment"},
	}))
}

func TestApplySelected(t *testing.T) {
	original := &model.Section{RecordID: "sec_1", Course: "BIOL 301", Enrollment: 20, Status: "open"}
	merged := &model.Section{RecordID: "sec_1", Course: "BIOL 301", Enrollment: 24, Status: "closed"}

	t.Run("nil selection applies everything", func(t *testing.T) {
		got, err := ApplySelected(original, merged, nil)
		require.NoError(t, err)
		sec := got.(*model.Section)
		assert.Equal(t, 24, sec.Enrollment)
		assert.Equal(t, "closed", sec.Status)
	})

	t.Run("subset keeps unselected fields at their stored values", func(t *testing.T) {
		got, err := ApplySelected(original, merged, []string{"enrollment"})
		require.NoError(t, err)
		sec := got.(*model.Section)
		assert.Equal(t, 24, sec.Enrollment)
		assert.Equal(t, "open", sec.Status)
	})
}

func deltaFields(deltas []model.FieldDelta) []string {
	out := make([]string, len(deltas))
	for i, d := range deltas {
		out[i] = d.Field
	}
	return out
}
