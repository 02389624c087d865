package rowsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMapsAssignsIndexAndHash(t *testing.T) {
	src := FromMaps([]map[string]string{
		{"course": "BIOL 301", "term": "Spring 2026"},
		{"course": "CHEM 110", "term": "Spring 2026"},
	})

	rows, err := src.Rows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 0, rows[0].Index)
	assert.Equal(t, 1, rows[1].Index)
	assert.NotEmpty(t, rows[0].Hash)
	assert.NotEqual(t, rows[0].Hash, rows[1].Hash)
}

func TestCSVSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extract.csv")
	content := "course,term,instructors\n" +
		"BIOL 301,Spring 2026,\"Doe, Jane\"\n" +
		"CHEM 110,Spring 2026,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rows, err := NewCSV(path).Rows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "BIOL 301", rows[0].Fields["course"])
	assert.Equal(t, "Doe, Jane", rows[0].Fields["instructors"])

	// Empty cells stay out of the field map.
	_, ok := rows[1].Fields["instructors"]
	assert.False(t, ok)
}

func TestCSVSourceMissingFile(t *testing.T) {
	_, err := NewCSV("/nonexistent/extract.csv").Rows(context.Background())
	assert.Error(t, err)
}
