package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/campusops/reconcile/pkg/model"
	"github.com/campusops/reconcile/pkg/store"
)

// ChangeDiagnosis is the per-change outcome of a diagnostic pass.
type ChangeDiagnosis struct {
	ChangeID   string             `json:"changeId"`
	EntityType model.EntityType   `json:"entityType"`
	Action     model.ChangeAction `json:"action"`
	EntityID   string             `json:"entityId"`

	ExpectPresent bool   `json:"expectPresent"`
	Present       bool   `json:"present"`
	Healthy       bool   `json:"healthy"`
	Detail        string `json:"detail,omitempty"`
}

// DiagnosisReport is the store-vs-transaction consistency report.
type DiagnosisReport struct {
	TxID      string            `json:"txId"`
	Status    model.TxStatus    `json:"status"`
	Checked   int               `json:"checked"`
	Healthy   int               `json:"healthy"`
	Unhealthy int               `json:"unhealthy"`
	Changes   []ChangeDiagnosis `json:"changes"`
}

// Diagnose audits a transaction against the live store: for every change
// it derives the record presence the transaction's state implies and
// probes the store for it. The pass only reads; it reports drift (a
// crashed commit, an out-of-band mutation, an incomplete rollback)
// without repairing anything.
func (s *Service) Diagnose(ctx context.Context, txID string) (*DiagnosisReport, error) {
	tx, err := s.txStore.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	report := &DiagnosisReport{TxID: tx.TxID, Status: tx.Status}

	for _, c := range tx.Changes {
		d := ChangeDiagnosis{
			ChangeID:      c.ChangeID,
			EntityType:    c.EntityType,
			Action:        c.Action,
			EntityID:      c.TargetID(),
			ExpectPresent: expectPresent(tx.Status, c),
		}

		_, err := s.store.Get(ctx, c.EntityType, d.EntityID)
		switch {
		case err == nil:
			d.Present = true
		case errors.Is(err, store.ErrNotFound):
			d.Present = false
		default:
			d.Detail = fmt.Sprintf("probe failed: %v", err)
			report.Changes = append(report.Changes, d)
			report.Checked++
			report.Unhealthy++
			continue
		}

		d.Healthy = d.Present == d.ExpectPresent
		if !d.Healthy {
			if d.ExpectPresent {
				d.Detail = "record missing from store"
			} else {
				d.Detail = "record present but should be absent"
			}
		}

		report.Changes = append(report.Changes, d)
		report.Checked++
		if d.Healthy {
			report.Healthy++
		} else {
			report.Unhealthy++
		}
	}

	s.logger.Info("Diagnosis complete",
		zap.String("txId", tx.TxID),
		zap.String("status", string(tx.Status)),
		zap.Int("checked", report.Checked),
		zap.Int("unhealthy", report.Unhealthy))

	return report, nil
}

// expectPresent derives the record presence a change implies given the
// transaction's lifecycle state.
func expectPresent(status model.TxStatus, c *model.Change) bool {
	switch status {
	case model.StatusRolledBack:
		// Rollback restores the pre-commit world: creates are gone,
		// modified and deleted records are back.
		return c.Action != model.ActionAdd

	case model.StatusCommitted, model.StatusPartial:
		if c.Applied {
			return c.Action != model.ActionDelete
		}
		return c.Action != model.ActionAdd

	default:
		// Preview: nothing has been written yet.
		return c.Action != model.ActionAdd
	}
}
