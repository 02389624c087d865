package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/campusops/reconcile/pkg/model"
)

// Memory is an in-process Store and TransactionStore. Records are deep
// copied on the way in and out so callers can never mutate stored state
// through a shared pointer.
type Memory struct {
	mu       sync.RWMutex
	entities map[model.EntityType]map[string]model.Entity
	txs      map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entities: make(map[model.EntityType]map[string]model.Entity),
		txs:      make(map[string][]byte),
	}
}

// Get fetches one record; ErrNotFound when absent.
func (m *Memory) Get(_ context.Context, et model.EntityType, id string) (model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities[et][id]
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", et, id, ErrNotFound)
	}
	return e.Clone(), nil
}

// List returns a cloned snapshot of every record of a type.
func (m *Memory) List(_ context.Context, et model.EntityType) ([]model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Entity, 0, len(m.entities[et]))
	for _, e := range m.entities[et] {
		out = append(out, e.Clone())
	}
	return out, nil
}

// QueryByField returns records whose JSON field equals any of the values.
func (m *Memory) QueryByField(_ context.Context, et model.EntityType, field string, values []string) ([]model.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Entity
	for _, chunk := range chunkValues(values) {
		want := make(map[string]bool, len(chunk))
		for _, v := range chunk {
			want[v] = true
		}
		for _, e := range m.entities[et] {
			v, err := jsonField(e, field)
			if err != nil {
				return nil, err
			}
			if v != "" && want[v] {
				out = append(out, e.Clone())
			}
		}
	}
	return out, nil
}

// NewAtomicBatch starts a batch against this store.
func (m *Memory) NewAtomicBatch() Batch {
	return &memoryBatch{store: m}
}

// SaveTransaction persists the transaction snapshot.
func (m *Memory) SaveTransaction(_ context.Context, tx *model.ImportTransaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.TxID] = payload
	return nil
}

// GetTransaction loads a persisted transaction; ErrNotFound when absent.
func (m *Memory) GetTransaction(_ context.Context, id string) (*model.ImportTransaction, error) {
	m.mu.RLock()
	payload, ok := m.txs[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("transaction %q: %w", id, ErrNotFound)
	}

	var tx model.ImportTransaction
	if err := json.Unmarshal(payload, &tx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return &tx, nil
}

type memoryOp struct {
	kind   string // "set", "update", "delete"
	et     model.EntityType
	id     string
	entity model.Entity
}

type memoryBatch struct {
	store *Memory
	ops   []memoryOp
}

func (b *memoryBatch) Set(e model.Entity) {
	b.ops = append(b.ops, memoryOp{kind: "set", et: e.Type(), id: e.ID(), entity: e.Clone()})
}

func (b *memoryBatch) Update(e model.Entity) {
	b.ops = append(b.ops, memoryOp{kind: "update", et: e.Type(), id: e.ID(), entity: e.Clone()})
}

func (b *memoryBatch) Delete(et model.EntityType, id string) {
	b.ops = append(b.ops, memoryOp{kind: "delete", et: et, id: id})
}

func (b *memoryBatch) Len() int { return len(b.ops) }

// Commit applies the batch atomically: every update target is checked for
// existence before anything is written.
func (b *memoryBatch) Commit(_ context.Context) error {
	if len(b.ops) > MaxBatchOps {
		return ErrBatchTooLarge
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	for _, op := range b.ops {
		if op.kind != "update" {
			continue
		}
		if _, ok := b.store.entities[op.et][op.id]; !ok {
			return fmt.Errorf("update %s %q: %w", op.et, op.id, ErrNotFound)
		}
	}

	for _, op := range b.ops {
		bucket := b.store.entities[op.et]
		if bucket == nil {
			bucket = make(map[string]model.Entity)
			b.store.entities[op.et] = bucket
		}
		switch op.kind {
		case "set", "update":
			bucket[op.id] = op.entity
		case "delete":
			delete(bucket, op.id)
		}
	}

	b.ops = nil
	return nil
}

// jsonField extracts a top-level JSON field of an entity as a string.
func jsonField(e model.Entity, field string) (string, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s %q: %w", e.Type(), e.ID(), err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", err
	}

	raw, ok := m[field]
	if !ok {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Non-string fields are not queryable; treat as no value.
		return "", nil
	}
	return s, nil
}
