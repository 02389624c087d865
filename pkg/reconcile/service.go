// Package reconcile implements the import transaction lifecycle: a
// preview pass that derives identities, matches entities, and computes a
// minimal changeset; operator resolution of ambiguous matches; a chunked
// atomic commit; reverse-replay rollback; and a post-hoc diagnostic pass.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/campusops/reconcile/pkg/events"
	"github.com/campusops/reconcile/pkg/issue"
	"github.com/campusops/reconcile/pkg/match"
	"github.com/campusops/reconcile/pkg/model"
	"github.com/campusops/reconcile/pkg/store"
)

// ErrUnresolvedIssues is returned by Commit while the transaction still
// holds open match issues. Commit is refused outright; no partial attempt
// is made.
var ErrUnresolvedIssues = errors.New("transaction has unresolved match issues")

// ErrNotPreviewable is returned when an operation requires the preview
// state and the transaction has moved on.
var ErrNotPreviewable = errors.New("transaction is no longer in preview")

// Service is the operator-facing reconciliation surface.
type Service struct {
	store    store.Store
	txStore  store.TransactionStore
	bus      *events.Bus
	resolver *issue.Resolver

	matchCfg  match.Config
	threshold float64
	chunkSize int

	logger *zap.Logger
}

// Options tunes a Service.
type Options struct {
	// MatchConfig is the injected lookup configuration for the matcher.
	MatchConfig match.Config
	// NameMatchThreshold is the fuzzy-name similarity cutoff; zero means
	// the 0.85 default.
	NameMatchThreshold float64
	// ChunkSize bounds one atomic commit chunk; zero means the store
	// limit.
	ChunkSize int
	// Bus receives domain events; nil disables event emission.
	Bus *events.Bus
}

// NewService creates a reconciliation service over a store.
func NewService(st store.Store, txStore store.TransactionStore, logger *zap.Logger, opts Options) *Service {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 || chunkSize > store.MaxBatchOps {
		chunkSize = store.MaxBatchOps
	}
	cfg := opts.MatchConfig
	if cfg.Nicknames == nil {
		cfg = match.DefaultConfig()
	}

	return &Service{
		store:     st,
		txStore:   txStore,
		bus:       opts.Bus,
		resolver:  issue.NewResolver(logger),
		matchCfg:  cfg,
		threshold: opts.NameMatchThreshold,
		chunkSize: chunkSize,
		logger:    logger.Named("reconcile"),
	}
}

// Load fetches a persisted transaction.
func (s *Service) Load(ctx context.Context, txID string) (*model.ImportTransaction, error) {
	return s.txStore.GetTransaction(ctx, txID)
}

// ResolveIssue applies an operator decision to an open match issue and
// re-persists the transaction.
func (s *Service) ResolveIssue(ctx context.Context, txID, issueID string, decision issue.Decision) (*model.ImportTransaction, error) {
	tx, err := s.txStore.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != model.StatusPreview {
		return nil, fmt.Errorf("transaction %q: %w", txID, ErrNotPreviewable)
	}

	mi := tx.FindIssue(issueID)
	if mi == nil {
		return nil, fmt.Errorf("issue %q not found in transaction %q", issueID, txID)
	}

	var existing *model.Person
	if decision.Action == model.ResolutionLink {
		e, err := s.store.Get(ctx, model.EntityPerson, decision.LinkedID)
		if err != nil {
			return nil, fmt.Errorf("failed to load linked person %q: %w", decision.LinkedID, err)
		}
		existing = e.(*model.Person)
	}

	if err := s.resolver.Resolve(tx, mi, decision, existing); err != nil {
		return nil, err
	}

	tx.RecomputeStats()
	if err := s.txStore.SaveTransaction(ctx, tx); err != nil {
		return nil, err
	}

	s.bus.Publish(events.IssueResolved{
		TxID:     tx.TxID,
		IssueID:  mi.IssueID,
		Action:   decision.Action,
		LinkedID: decision.LinkedID,
	})

	return tx, nil
}
