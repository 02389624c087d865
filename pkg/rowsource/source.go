// Package rowsource feeds ordered, normalized import rows to the preview
// pass. Parsing raw registrar files happens upstream; a source only
// delivers already-flattened field maps with stable ordering and content
// hashes.
package rowsource

import (
	"context"

	"github.com/campusops/reconcile/pkg/identity"
	"github.com/campusops/reconcile/pkg/model"
)

// Source is an ordered feed of import rows.
type Source interface {
	// Rows returns every row of the extract in source order.
	Rows(ctx context.Context) ([]model.ImportRow, error)
}

// Static serves an in-memory row set; tests and ad-hoc imports use it.
type Static struct {
	rows []model.ImportRow
}

// FromMaps builds a static source from raw field maps, assigning row
// indexes and content hashes.
func FromMaps(records []map[string]string) *Static {
	rows := make([]model.ImportRow, len(records))
	for i, fields := range records {
		rows[i] = model.ImportRow{
			Index:  i,
			Hash:   identity.RowContentHash(fields),
			Fields: fields,
		}
	}
	return &Static{rows: rows}
}

// FromRows wraps prepared rows.
func FromRows(rows []model.ImportRow) *Static {
	return &Static{rows: rows}
}

// Rows returns the stored rows.
func (s *Static) Rows(_ context.Context) ([]model.ImportRow, error) {
	return s.rows, nil
}
