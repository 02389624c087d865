package rowsource

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/campusops/reconcile/pkg/identity"
	"github.com/campusops/reconcile/pkg/model"
)

// CSV reads an extract exported to a header-row CSV file.
type CSV struct {
	path string
}

// NewCSV creates a source over a CSV file.
func NewCSV(path string) *CSV {
	return &CSV{path: path}
}

// Rows reads the whole file. Header cells become field names; empty cells
// are omitted from the field map.
func (c *CSV) Rows(_ context.Context) ([]model.ImportRow, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", c.path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s has no header row", c.path)
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}

	rows := make([]model.ImportRow, 0, len(records)-1)
	for i, record := range records[1:] {
		fields := make(map[string]string, len(header))
		for j, cell := range record {
			if j >= len(header) || header[j] == "" {
				continue
			}
			if cell = strings.TrimSpace(cell); cell != "" {
				fields[header[j]] = cell
			}
		}
		rows = append(rows, model.ImportRow{
			Index:  i,
			Hash:   identity.RowContentHash(fields),
			Fields: fields,
		})
	}

	return rows, nil
}
