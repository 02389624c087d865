// Package store defines the canonical-store surface the reconciliation
// core consumes: point reads, field queries, and bounded atomic batches.
// Two implementations ship: an in-memory store for previews and tests,
// and a Postgres-backed document store for production.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/campusops/reconcile/pkg/model"
)

const (
	// MaxBatchOps bounds one atomic commit; the batch executor partitions
	// changesets into chunks no larger than this.
	MaxBatchOps = 500

	// MaxQueryValues bounds one field-query predicate; larger value sets
	// are chunked internally.
	MaxQueryValues = 10
)

// ErrNotFound is returned by Get when no record exists for the id.
var ErrNotFound = errors.New("record not found")

// ErrBatchTooLarge is returned when a batch exceeds MaxBatchOps.
var ErrBatchTooLarge = fmt.Errorf("atomic batch exceeds %d operations", MaxBatchOps)

// Store is the canonical data store consumed by the reconciliation core.
type Store interface {
	// Get fetches one record; ErrNotFound when absent.
	Get(ctx context.Context, et model.EntityType, id string) (model.Entity, error)

	// List returns every record of a type; the matcher loads these once
	// per transaction as an immutable snapshot.
	List(ctx context.Context, et model.EntityType) ([]model.Entity, error)

	// QueryByField returns records whose field equals any of the values.
	// Implementations chunk the predicate to MaxQueryValues internally.
	QueryByField(ctx context.Context, et model.EntityType, field string, values []string) ([]model.Entity, error)

	// NewAtomicBatch starts a bounded atomic multi-operation commit.
	NewAtomicBatch() Batch
}

// Batch is a bounded atomic write set. Commit applies every queued
// operation or none of them.
type Batch interface {
	// Set creates or overwrites a record.
	Set(e model.Entity)

	// Update overwrites an existing record; Commit fails if it is absent.
	Update(e model.Entity)

	// Delete removes a record; deleting an absent record is a no-op.
	Delete(et model.EntityType, id string)

	// Len returns the number of queued operations.
	Len() int

	// Commit applies the batch atomically.
	Commit(ctx context.Context) error
}

// TransactionStore persists import transactions for audit and resume.
type TransactionStore interface {
	SaveTransaction(ctx context.Context, tx *model.ImportTransaction) error
	GetTransaction(ctx context.Context, id string) (*model.ImportTransaction, error)
}

// chunkValues splits a value set into MaxQueryValues-sized predicates.
func chunkValues(values []string) [][]string {
	var chunks [][]string
	for len(values) > MaxQueryValues {
		chunks = append(chunks, values[:MaxQueryValues])
		values = values[MaxQueryValues:]
	}
	if len(values) > 0 {
		chunks = append(chunks, values)
	}
	return chunks
}
