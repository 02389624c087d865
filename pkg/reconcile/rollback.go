package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/campusops/reconcile/pkg/events"
	"github.com/campusops/reconcile/pkg/model"
)

// RollbackReport summarizes a rollback pass.
type RollbackReport struct {
	// Cleaned counts the applied changes that were reversed.
	Cleaned int `json:"cleaned"`
	// Errors lists per-change failures; the pass continues past them.
	Errors []string `json:"errors,omitempty"`
}

// Rollback reverses every applied change of a committed or partial
// transaction: creates are deleted, modifies and deletes are restored to
// their pre-commit payloads. Changes replay in reverse application order,
// each in its own batch, so one failure never strands the rest. The pass
// runs to completion and reports what it could not clean.
func (s *Service) Rollback(ctx context.Context, txID string) (*model.ImportTransaction, *RollbackReport, error) {
	tx, err := s.txStore.GetTransaction(ctx, txID)
	if err != nil {
		return nil, nil, err
	}
	if !tx.Status.CanTransition(model.StatusRolledBack) {
		return tx, nil, fmt.Errorf("transaction %q in status %s: %w", txID, tx.Status, model.ErrInvalidTransition)
	}

	applied := tx.AppliedChanges()
	report := &RollbackReport{}

	s.logger.Info("Starting rollback",
		zap.String("txId", tx.TxID),
		zap.Int("applied", len(applied)))

	for i := len(applied) - 1; i >= 0; i-- {
		c := applied[i]
		if err := s.reverseChange(ctx, c); err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("change %s (%s %s %s): %v", c.ChangeID, c.Action, c.EntityType, c.TargetID(), err))
			s.logger.Error("Failed to reverse change",
				zap.String("txId", tx.TxID),
				zap.String("changeId", c.ChangeID),
				zap.Error(err))
			continue
		}
		c.Applied = false
		report.Cleaned++
	}

	if err := tx.Transition(model.StatusRolledBack); err != nil {
		return tx, report, err
	}
	if err := s.txStore.SaveTransaction(ctx, tx); err != nil {
		return tx, report, err
	}

	s.bus.Publish(events.TransactionRolledBack{
		TxID:    tx.TxID,
		Cleaned: report.Cleaned,
		Errors:  len(report.Errors),
	})
	s.logger.Info("Rollback complete",
		zap.String("txId", tx.TxID),
		zap.Int("cleaned", report.Cleaned),
		zap.Int("errors", len(report.Errors)))

	return tx, report, nil
}

// reverseChange undoes one applied change in its own atomic batch.
func (s *Service) reverseChange(ctx context.Context, c *model.Change) error {
	batch := s.store.NewAtomicBatch()

	switch c.Action {
	case model.ActionAdd:
		batch.Delete(c.EntityType, c.TargetID())
	case model.ActionModify:
		batch.Update(c.Original)
	case model.ActionDelete:
		batch.Set(c.Original)
	default:
		return fmt.Errorf("unknown action %s", c.Action)
	}

	return batch.Commit(ctx)
}
