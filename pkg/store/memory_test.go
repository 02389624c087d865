package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/reconcile/pkg/model"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, model.EntityPerson, "per_1")
	assert.ErrorIs(t, err, ErrNotFound)

	batch := m.NewAtomicBatch()
	batch.Set(&model.Person{RecordID: "per_1", LastName: "Doe"})
	require.NoError(t, batch.Commit(ctx))

	e, err := m.Get(ctx, model.EntityPerson, "per_1")
	require.NoError(t, err)
	assert.Equal(t, "Doe", e.(*model.Person).LastName)
}

func TestMemoryReturnsClones(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	batch := m.NewAtomicBatch()
	batch.Set(&model.Person{RecordID: "per_1", LastName: "Doe"})
	require.NoError(t, batch.Commit(ctx))

	e, err := m.Get(ctx, model.EntityPerson, "per_1")
	require.NoError(t, err)
	e.(*model.Person).LastName = "Mutated"

	again, err := m.Get(ctx, model.EntityPerson, "per_1")
	require.NoError(t, err)
	assert.Equal(t, "Doe", again.(*model.Person).LastName)
}

func TestMemoryBatchAtomicity(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	// An update against a missing record fails the whole batch; the set
	// queued alongside it must not land either.
	batch := m.NewAtomicBatch()
	batch.Set(&model.Person{RecordID: "per_1", LastName: "Doe"})
	batch.Update(&model.Person{RecordID: "per_missing", LastName: "Ghost"})
	err := batch.Commit(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.Get(ctx, model.EntityPerson, "per_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBatchBounds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	batch := m.NewAtomicBatch()
	for i := 0; i <= MaxBatchOps; i++ {
		batch.Set(&model.Person{RecordID: fmt.Sprintf("per_%d", i)})
	}
	assert.ErrorIs(t, batch.Commit(ctx), ErrBatchTooLarge)
}

func TestMemoryDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	batch := m.NewAtomicBatch()
	batch.Delete(model.EntityRoom, "room_missing")
	assert.NoError(t, batch.Commit(ctx))
}

func TestMemoryQueryByField(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	batch := m.NewAtomicBatch()
	for i := 0; i < 25; i++ {
		batch.Set(&model.Person{
			RecordID:   fmt.Sprintf("per_%02d", i),
			ExternalID: fmt.Sprintf("ext_%02d", i),
		})
	}
	require.NoError(t, batch.Commit(ctx))

	// 25 values exceeds the per-query predicate bound; the store chunks
	// internally.
	values := make([]string, 25)
	for i := range values {
		values[i] = fmt.Sprintf("ext_%02d", i)
	}

	got, err := m.QueryByField(ctx, model.EntityPerson, "externalId", values)
	require.NoError(t, err)
	assert.Len(t, got, 25)

	got, err = m.QueryByField(ctx, model.EntityPerson, "externalId", []string{"ext_03", "nope"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryTransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tx := model.NewImportTransaction(model.ImportSchedule, "Spring 2026")
	c := model.NewChange(model.EntitySection, model.ActionAdd)
	c.New = &model.Section{RecordID: "sec_1", Course: "BIOL 301"}
	tx.AddChange(c)

	require.NoError(t, m.SaveTransaction(ctx, tx))

	loaded, err := m.GetTransaction(ctx, tx.TxID)
	require.NoError(t, err)
	assert.Equal(t, tx.TxID, loaded.TxID)
	require.Len(t, loaded.Changes, 1)

	section, ok := loaded.Changes[0].New.(*model.Section)
	require.True(t, ok)
	assert.Equal(t, "BIOL 301", section.Course)
}
