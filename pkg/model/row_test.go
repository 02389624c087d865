package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInstructors(t *testing.T) {
	t.Run("lone unannotated instructor is primary at full load", func(t *testing.T) {
		refs, err := ParseInstructors("Doe, Jane")
		require.NoError(t, err)
		require.Len(t, refs, 1)

		assert.Equal(t, "Doe", refs[0].LastName)
		assert.Equal(t, "Jane", refs[0].FirstName)
		assert.True(t, refs[0].Primary)
		assert.Equal(t, 100.0, refs[0].LoadPercent)
	})

	t.Run("annotated mentions", func(t *testing.T) {
		refs, err := ParseInstructors("Doe, Jane (123456789) [Primary, 60%] / Smith, John [40%]")
		require.NoError(t, err)
		require.Len(t, refs, 2)

		assert.Equal(t, "123456789", refs[0].ExternalID)
		assert.True(t, refs[0].Primary)
		assert.Equal(t, 60.0, refs[0].LoadPercent)

		assert.Equal(t, "Smith", refs[1].LastName)
		assert.Empty(t, refs[1].ExternalID)
		assert.False(t, refs[1].Primary)
		assert.Equal(t, 40.0, refs[1].LoadPercent)
	})

	t.Run("surname only", func(t *testing.T) {
		refs, err := ParseInstructors("Adams")
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, "Adams", refs[0].LastName)
		assert.Empty(t, refs[0].FirstName)
	})

	t.Run("empty field yields no instructors", func(t *testing.T) {
		refs, err := ParseInstructors("")
		require.NoError(t, err)
		assert.Empty(t, refs)
	})

	t.Run("unknown annotation fails", func(t *testing.T) {
		_, err := ParseInstructors("Doe, Jane [Chief]")
		assert.Error(t, err)
	})
}

func TestParseMeetings(t *testing.T) {
	meetings, err := ParseMeetings("MW 0900-0950; TR 1100-1215")
	require.NoError(t, err)
	require.Len(t, meetings, 2)

	assert.Equal(t, []string{"Mon", "Wed"}, meetings[0].Days)
	assert.Equal(t, "0900", meetings[0].StartTime)
	assert.Equal(t, "0950", meetings[0].EndTime)

	assert.Equal(t, []string{"Tue", "Thu"}, meetings[1].Days)

	_, err = ParseMeetings("MW morning")
	assert.Error(t, err)
}

func TestSplitDays(t *testing.T) {
	assert.Equal(t, []string{"Mon", "Wed", "Fri"}, SplitDays("MWF"))
	assert.Equal(t, []string{"Tue", "Thu"}, SplitDays("TR"))
	assert.Equal(t, []string{"Sat", "Sun"}, SplitDays("SaSu"))
}

func TestValidReferenceNumber(t *testing.T) {
	assert.True(t, ValidReferenceNumber("33070"))
	assert.True(t, ValidReferenceNumber("4433"))
	assert.False(t, ValidReferenceNumber("123"))
	assert.False(t, ValidReferenceNumber("1234567"))
	assert.False(t, ValidReferenceNumber("33O70"))
}

func TestExtractSectionRow(t *testing.T) {
	base := map[string]string{
		"course":          "BIOL 301",
		"section":         "001",
		"term":            "Spring 2026",
		"referenceNumber": "33070",
		"instructors":     "Doe, Jane",
		"rooms":           "Goebel Building 101",
		"meetings":        "MW 0900-0950",
		"enrollment":      "24",
		"capacity":        "30",
	}

	t.Run("valid row", func(t *testing.T) {
		sr, err := ExtractSectionRow(ImportRow{Index: 0, Fields: base})
		require.NoError(t, err)

		assert.Equal(t, "BIOL 301", sr.Course)
		assert.Equal(t, "33070", sr.ReferenceNumber)
		assert.Len(t, sr.Instructors, 1)
		assert.Equal(t, []string{"Goebel Building 101"}, sr.RoomNames)
		assert.Equal(t, 24, sr.Enrollment)
		assert.False(t, sr.NoRoomNeeded)
	})

	t.Run("missing course fails", func(t *testing.T) {
		fields := cloneFields(base)
		delete(fields, "course")
		_, err := ExtractSectionRow(ImportRow{Fields: fields})

		var verr *RowValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "course", verr.Field)
	})

	t.Run("malformed reference number fails", func(t *testing.T) {
		fields := cloneFields(base)
		fields["referenceNumber"] = "12"
		_, err := ExtractSectionRow(ImportRow{Fields: fields})
		assert.Error(t, err)
	})

	t.Run("explicit no-room marker", func(t *testing.T) {
		fields := cloneFields(base)
		delete(fields, "rooms")
		fields["roomRequired"] = "none"
		sr, err := ExtractSectionRow(ImportRow{Fields: fields})
		require.NoError(t, err)
		assert.True(t, sr.NoRoomNeeded)
	})
}

func TestExtractPersonRow(t *testing.T) {
	t.Run("valid row lowercases email", func(t *testing.T) {
		pr, err := ExtractPersonRow(ImportRow{Fields: map[string]string{
			"lastName":  "Doe",
			"firstName": "Jane",
			"email":     "JDoe@Campus.edu",
			"roles":     "instructor; advisor",
		}})
		require.NoError(t, err)
		assert.Equal(t, "jdoe@campus.edu", pr.Email)
		assert.Equal(t, []string{"instructor", "advisor"}, pr.Roles)
	})

	t.Run("no identity signal fails", func(t *testing.T) {
		_, err := ExtractPersonRow(ImportRow{Fields: map[string]string{
			"lastName": "Doe",
		}})
		assert.Error(t, err)
	})
}

func cloneFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
