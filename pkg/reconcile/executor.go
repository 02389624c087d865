package reconcile

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/campusops/reconcile/pkg/events"
	"github.com/campusops/reconcile/pkg/merge"
	"github.com/campusops/reconcile/pkg/model"
)

// CommitOptions selects what an approval applies.
type CommitOptions struct {
	// SelectedChangeIDs restricts the commit to a subset of the changeset;
	// nil commits every eligible change.
	SelectedChangeIDs []string

	// SelectedFieldsByChangeID restricts a modify to a field subset: the
	// written payload is the stored record plus only the named deltas.
	// Unselected deltas are discarded, not deferred.
	SelectedFieldsByChangeID map[string][]string
}

// Commit applies the approved changeset in chunked atomic batches. It is
// refused while the transaction holds open match issues. Creates land
// before the modifies and deletes that may reference them; the
// transaction is re-persisted after every chunk so a crash leaves an
// accurate applied-set behind.
func (s *Service) Commit(ctx context.Context, txID string, opts CommitOptions) (*model.ImportTransaction, error) {
	tx, err := s.txStore.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != model.StatusPreview {
		return tx, fmt.Errorf("transaction %q: %w", txID, ErrNotPreviewable)
	}
	if open := tx.UnresolvedIssues(); len(open) > 0 {
		return tx, fmt.Errorf("transaction %q has %d open issues: %w", txID, len(open), ErrUnresolvedIssues)
	}

	eligible, err := selectChanges(tx, opts.SelectedChangeIDs)
	if err != nil {
		return tx, err
	}
	orderChanges(eligible)

	s.logger.Info("Starting commit",
		zap.String("txId", tx.TxID),
		zap.Int("changes", len(eligible)),
		zap.Int("chunkSize", s.chunkSize))

	applied := 0
	for start := 0; start < len(eligible); start += s.chunkSize {
		if err := ctx.Err(); err != nil {
			return s.finishPartial(ctx, tx, applied, fmt.Errorf("commit interrupted: %w", err))
		}

		end := start + s.chunkSize
		if end > len(eligible) {
			end = len(eligible)
		}
		chunk := eligible[start:end]

		if err := s.commitChunk(ctx, tx, chunk, opts.SelectedFieldsByChangeID); err != nil {
			return s.finishPartial(ctx, tx, applied, err)
		}
		applied += len(chunk)

		// Persist progress so the applied-set survives a crash mid-commit.
		if err := s.txStore.SaveTransaction(ctx, tx); err != nil {
			return tx, fmt.Errorf("failed to persist commit progress: %w", err)
		}
	}

	status := model.StatusCommitted
	if len(eligible) < committable(tx) {
		// A deliberate subset leaves the rest of the changeset unapplied.
		status = model.StatusPartial
		tx.SelectiveCommit = true
	}
	if err := tx.Transition(status); err != nil {
		return tx, err
	}
	if err := s.txStore.SaveTransaction(ctx, tx); err != nil {
		return tx, err
	}

	s.bus.Publish(events.TransactionCommitted{TxID: tx.TxID, Status: tx.Status})
	s.logger.Info("Commit complete",
		zap.String("txId", tx.TxID),
		zap.String("status", string(tx.Status)),
		zap.Int("applied", applied))

	return tx, nil
}

// commitChunk writes one chunk atomically and marks its changes applied.
func (s *Service) commitChunk(ctx context.Context, tx *model.ImportTransaction, chunk []*model.Change, fieldsByChange map[string][]string) error {
	batch := s.store.NewAtomicBatch()

	for _, c := range chunk {
		switch c.Action {
		case model.ActionAdd:
			batch.Set(c.New)

		case model.ActionModify:
			payload := c.New
			if fields, ok := fieldsByChange[c.ChangeID]; ok {
				rebuilt, err := merge.ApplySelected(c.Original, c.New, fields)
				if err != nil {
					return fmt.Errorf("change %s: %w", c.ChangeID, err)
				}
				payload = rebuilt
				c.New = rebuilt
			}
			batch.Update(payload)

		case model.ActionDelete:
			batch.Delete(c.EntityType, c.TargetID())

		default:
			return fmt.Errorf("change %s: unknown action %s", c.ChangeID, c.Action)
		}
	}

	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("chunk commit failed: %w", err)
	}

	for _, c := range chunk {
		c.MarkApplied()
		s.bus.Publish(events.ChangeApplied{
			TxID:       tx.TxID,
			ChangeID:   c.ChangeID,
			EntityType: c.EntityType,
			Action:     c.Action,
			EntityID:   c.TargetID(),
		})
	}
	return nil
}

// finishPartial records a failed or interrupted commit. Changes from
// chunks that already committed stay applied; the transaction lands in
// the partial state so rollback can clean up.
func (s *Service) finishPartial(ctx context.Context, tx *model.ImportTransaction, applied int, cause error) (*model.ImportTransaction, error) {
	s.logger.Error("Commit failed",
		zap.String("txId", tx.TxID),
		zap.Int("applied", applied),
		zap.Error(cause))

	if err := tx.Transition(model.StatusPartial); err != nil {
		return tx, fmt.Errorf("%v (and status transition failed: %w)", cause, err)
	}
	if err := s.txStore.SaveTransaction(ctx, tx); err != nil {
		return tx, fmt.Errorf("%v (and persisting the partial state failed: %w)", cause, err)
	}

	s.bus.Publish(events.TransactionCommitted{TxID: tx.TxID, Status: tx.Status})
	return tx, cause
}

// selectChanges resolves the commit-eligible subset. A nil selection
// takes every unblocked, unapplied change; an explicit selection must
// name known, unblocked changes.
func selectChanges(tx *model.ImportTransaction, selected []string) ([]*model.Change, error) {
	if selected == nil {
		var out []*model.Change
		for _, c := range tx.Changes {
			if !c.Pending() && !c.Applied {
				out = append(out, c)
			}
		}
		return out, nil
	}

	out := make([]*model.Change, 0, len(selected))
	for _, id := range selected {
		c := tx.FindChange(id)
		if c == nil {
			return nil, fmt.Errorf("selected change %q not found", id)
		}
		if c.Pending() {
			return nil, fmt.Errorf("selected change %q is blocked on issue %q", id, c.PendingIssueID)
		}
		if c.Applied {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// committable counts the changes a full commit would apply.
func committable(tx *model.ImportTransaction) int {
	n := 0
	for _, c := range tx.Changes {
		if !c.Pending() {
			n++
		}
	}
	return n
}

// orderChanges sorts the commit order: creates land first (persons, then
// rooms, then the sections referencing both), then modifies, then
// deletes with sections first so nothing dangles mid-commit. The sort is
// stable so changeset order breaks ties.
func orderChanges(changes []*model.Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		return commitRank(changes[i]) < commitRank(changes[j])
	})
}

func commitRank(c *model.Change) int {
	entity := map[model.EntityType]int{
		model.EntityPerson:  0,
		model.EntityRoom:    1,
		model.EntitySection: 2,
	}[c.EntityType]

	switch c.Action {
	case model.ActionAdd:
		return entity
	case model.ActionModify:
		return 3 + entity
	default:
		return 8 - entity
	}
}
