package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/campusops/reconcile/pkg/config"
	"github.com/campusops/reconcile/pkg/model"
)

// Postgres is the production Store and TransactionStore: a document-style
// layout with one JSONB row per entity and per transaction.
type Postgres struct {
	db     *sqlx.DB
	logger *zap.Logger
	cfg    *config.StoreConfig
}

// NewPostgres connects to PostgreSQL, configures the pool, and verifies
// the connection.
func NewPostgres(ctx context.Context, cfg *config.StoreConfig, logger *zap.Logger) (*Postgres, error) {
	logger = logger.Named("postgres-store")

	logger.Info("Connecting to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
		zap.String("user", cfg.User))

	db, err := sqlx.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL connection: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	s := &Postgres{db: db, logger: logger, cfg: cfg}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// ensureSchema creates the document tables if they do not exist.
func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS entities (
			entity_type TEXT NOT NULL,
			id          TEXT NOT NULL,
			payload     JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (entity_type, id)
		);

		CREATE INDEX IF NOT EXISTS entities_payload_idx
			ON entities USING gin (payload);

		CREATE TABLE IF NOT EXISTS import_transactions (
			id         TEXT PRIMARY KEY,
			payload    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create store tables: %w", err)
	}
	return nil
}

// Validate verifies the connection and write permissions.
func (s *Postgres) Validate() error {
	var version string
	if err := s.db.QueryRow("SELECT version()").Scan(&version); err != nil {
		return fmt.Errorf("failed to query PostgreSQL version: %w", err)
	}
	s.logger.Info("Connected to PostgreSQL", zap.String("version", version))
	return nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}

// Get fetches one record; ErrNotFound when absent.
func (s *Postgres) Get(ctx context.Context, et model.EntityType, id string) (model.Entity, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload,
		`SELECT payload FROM entities WHERE entity_type = $1 AND id = $2`, string(et), id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s %q: %w", et, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %q: %w", et, id, err)
	}
	return model.DecodeEntity(et, payload)
}

// List returns every record of a type.
func (s *Postgres) List(ctx context.Context, et model.EntityType) ([]model.Entity, error) {
	var payloads [][]byte
	err := s.db.SelectContext(ctx, &payloads,
		`SELECT payload FROM entities WHERE entity_type = $1`, string(et))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", et, err)
	}

	out := make([]model.Entity, 0, len(payloads))
	for _, p := range payloads {
		e, err := model.DecodeEntity(et, p)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// QueryByField returns records whose top-level JSON field equals any of
// the values, issuing one query per MaxQueryValues-sized chunk.
func (s *Postgres) QueryByField(ctx context.Context, et model.EntityType, field string, values []string) ([]model.Entity, error) {
	var out []model.Entity
	for _, chunk := range chunkValues(values) {
		var payloads [][]byte
		err := s.db.SelectContext(ctx, &payloads,
			`SELECT payload FROM entities WHERE entity_type = $1 AND payload->>$2 = ANY($3)`,
			string(et), field, pq.Array(chunk))
		if err != nil {
			return nil, fmt.Errorf("failed to query %s by %s: %w", et, field, err)
		}
		for _, p := range payloads {
			e, err := model.DecodeEntity(et, p)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// NewAtomicBatch starts a batch backed by one SQL transaction.
func (s *Postgres) NewAtomicBatch() Batch {
	return &pgBatch{store: s}
}

// SaveTransaction upserts the transaction snapshot.
func (s *Postgres) SaveTransaction(ctx context.Context, tx *model.ImportTransaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_transactions (id, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		tx.TxID, payload)
	if err != nil {
		return fmt.Errorf("failed to save transaction %q: %w", tx.TxID, err)
	}
	return nil
}

// GetTransaction loads a persisted transaction; ErrNotFound when absent.
func (s *Postgres) GetTransaction(ctx context.Context, id string) (*model.ImportTransaction, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload,
		`SELECT payload FROM import_transactions WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %q: %w", id, err)
	}

	var tx model.ImportTransaction
	if err := json.Unmarshal(payload, &tx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction %q: %w", id, err)
	}
	return &tx, nil
}

type pgOp struct {
	kind   string
	et     model.EntityType
	id     string
	entity model.Entity
}

type pgBatch struct {
	store *Postgres
	ops   []pgOp
}

func (b *pgBatch) Set(e model.Entity) {
	b.ops = append(b.ops, pgOp{kind: "set", et: e.Type(), id: e.ID(), entity: e.Clone()})
}

func (b *pgBatch) Update(e model.Entity) {
	b.ops = append(b.ops, pgOp{kind: "update", et: e.Type(), id: e.ID(), entity: e.Clone()})
}

func (b *pgBatch) Delete(et model.EntityType, id string) {
	b.ops = append(b.ops, pgOp{kind: "delete", et: et, id: id})
}

func (b *pgBatch) Len() int { return len(b.ops) }

// Commit applies every queued operation inside one SQL transaction.
func (b *pgBatch) Commit(ctx context.Context) error {
	if len(b.ops) > MaxBatchOps {
		return ErrBatchTooLarge
	}

	tx, err := b.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	for _, op := range b.ops {
		switch op.kind {
		case "set":
			payload, err := json.Marshal(op.entity)
			if err != nil {
				return fmt.Errorf("failed to encode %s %q: %w", op.et, op.id, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO entities (entity_type, id, payload, updated_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (entity_type, id) DO UPDATE
					SET payload = EXCLUDED.payload, updated_at = now()`,
				string(op.et), op.id, payload)
			if err != nil {
				return fmt.Errorf("failed to set %s %q: %w", op.et, op.id, err)
			}

		case "update":
			payload, err := json.Marshal(op.entity)
			if err != nil {
				return fmt.Errorf("failed to encode %s %q: %w", op.et, op.id, err)
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE entities SET payload = $3, updated_at = now()
				WHERE entity_type = $1 AND id = $2`,
				string(op.et), op.id, payload)
			if err != nil {
				return fmt.Errorf("failed to update %s %q: %w", op.et, op.id, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				return fmt.Errorf("update %s %q: %w", op.et, op.id, ErrNotFound)
			}

		case "delete":
			_, err := tx.ExecContext(ctx,
				`DELETE FROM entities WHERE entity_type = $1 AND id = $2`,
				string(op.et), op.id)
			if err != nil {
				return fmt.Errorf("failed to delete %s %q: %w", op.et, op.id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	b.ops = nil
	return nil
}
