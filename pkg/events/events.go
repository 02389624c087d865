// Package events carries the structured domain events the reconciliation
// core emits. Audit persistence subscribes here instead of being
// interleaved with the engine, so it can retry on its own without
// touching core logic.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/campusops/reconcile/pkg/model"
)

// Event is one domain occurrence worth auditing.
type Event interface {
	Name() string
}

// RowSkipped is emitted when a source row is rejected during preview.
type RowSkipped struct {
	TxID     string
	RowIndex int
	RowHash  string
	Reason   string
}

func (RowSkipped) Name() string { return "RowSkipped" }

// ChangeApplied is emitted after a chunk commit marks a change applied.
type ChangeApplied struct {
	TxID       string
	ChangeID   string
	EntityType model.EntityType
	Action     model.ChangeAction
	EntityID   string
}

func (ChangeApplied) Name() string { return "ChangeApplied" }

// IssueResolved is emitted when an operator decides a match issue.
type IssueResolved struct {
	TxID     string
	IssueID  string
	Action   model.IssueResolution
	LinkedID string
}

func (IssueResolved) Name() string { return "IssueResolved" }

// TransactionCommitted is emitted when a commit finishes, fully or
// partially.
type TransactionCommitted struct {
	TxID   string
	Status model.TxStatus
}

func (TransactionCommitted) Name() string { return "TransactionCommitted" }

// TransactionRolledBack is emitted when a rollback pass finishes.
type TransactionRolledBack struct {
	TxID    string
	Cleaned int
	Errors  int
}

func (TransactionRolledBack) Name() string { return "TransactionRolledBack" }

// Handler consumes events.
type Handler func(Event)

// Bus is a synchronous in-process publisher. Subscribers run in
// subscription order; a slow subscriber slows publishing, which is
// acceptable for operator-driven imports.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for every subsequent event.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers an event to every subscriber. A nil bus is a no-op so
// callers can run without auditing wired.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// NewAuditSubscriber returns a handler that writes one structured log
// record per event.
func NewAuditSubscriber(logger *zap.Logger) Handler {
	logger = logger.Named("audit")
	return func(e Event) {
		switch ev := e.(type) {
		case RowSkipped:
			logger.Info("RowSkipped",
				zap.String("txId", ev.TxID),
				zap.Int("rowIndex", ev.RowIndex),
				zap.String("rowHash", ev.RowHash),
				zap.String("reason", ev.Reason))
		case ChangeApplied:
			logger.Info("ChangeApplied",
				zap.String("txId", ev.TxID),
				zap.String("changeId", ev.ChangeID),
				zap.String("entityType", string(ev.EntityType)),
				zap.String("action", ev.Action.String()),
				zap.String("entityId", ev.EntityID))
		case IssueResolved:
			logger.Info("IssueResolved",
				zap.String("txId", ev.TxID),
				zap.String("issueId", ev.IssueID),
				zap.String("action", string(ev.Action)),
				zap.String("linkedId", ev.LinkedID))
		case TransactionCommitted:
			logger.Info("TransactionCommitted",
				zap.String("txId", ev.TxID),
				zap.String("status", string(ev.Status)))
		case TransactionRolledBack:
			logger.Info("TransactionRolledBack",
				zap.String("txId", ev.TxID),
				zap.Int("cleaned", ev.Cleaned),
				zap.Int("errors", ev.Errors))
		default:
			logger.Info(e.Name())
		}
	}
}
