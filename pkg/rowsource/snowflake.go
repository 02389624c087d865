package rowsource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sf "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/campusops/reconcile/pkg/config"
	"github.com/campusops/reconcile/pkg/identity"
	"github.com/campusops/reconcile/pkg/model"
)

// Snowflake reads normalized staging rows from a warehouse table. The
// staging tables hold already-flattened extracts loaded by the upstream
// pipeline; this source only orders and hashes them.
type Snowflake struct {
	db     *sql.DB
	cfg    *config.WarehouseConfig
	table  string
	logger *zap.Logger
}

// NewSnowflake opens a warehouse connection for one staging table.
func NewSnowflake(ctx context.Context, cfg *config.WarehouseConfig, table string, logger *zap.Logger) (*Snowflake, error) {
	logger = logger.Named("snowflake-source")

	sfConfig := &sf.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  cfg.Password,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Warehouse: cfg.Warehouse,
	}

	logger.Info("Connecting to Snowflake",
		zap.String("account", cfg.Account),
		zap.String("user", cfg.User),
		zap.String("database", cfg.Database),
		zap.String("schema", cfg.Schema),
		zap.String("table", table))

	dsn, err := sf.DSN(sfConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build Snowflake DSN: %w", err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Snowflake connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Snowflake: %w", err)
	}

	return &Snowflake{
		db:     db,
		cfg:    cfg,
		table:  table,
		logger: logger,
	}, nil
}

// stagingFieldNames maps flattened staging columns to the canonical
// camelCase field names the row extractors read. Snowflake reports
// column identifiers uppercase, so the lookup key is the lowercased
// name with underscores stripped.
var stagingFieldNames = map[string]string{
	"externalid":      "externalId",
	"referencenumber": "referenceNumber",
	"roomrequired":    "roomRequired",
	"orgid":           "orgId",
	"firstname":       "firstName",
	"middlename":      "middleName",
	"lastname":        "lastName",
}

// canonicalFieldName folds a staging column name (EXTERNAL_ID,
// ExternalId, externalid) to its canonical field name. Columns with no
// canonical counterpart keep their lowercased name.
func canonicalFieldName(col string) string {
	key := strings.ReplaceAll(strings.ToLower(col), "_", "")
	if name, ok := stagingFieldNames[key]; ok {
		return name
	}
	return strings.ToLower(col)
}

// Rows fetches the full staging table in load order. Column names fold
// to the canonical field names; NULL columns are omitted from the field
// map.
func (s *Snowflake) Rows(ctx context.Context) ([]model.ImportRow, error) {
	queryCtx := ctx
	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}

	query := fmt.Sprintf("SELECT * FROM %s ORDER BY 1", s.table)
	rows, err := s.db.QueryContext(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query staging table %s: %w", s.table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read staging columns: %w", err)
	}

	var out []model.ImportRow
	values := make([]sql.NullString, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan staging row %d: %w", len(out), err)
		}

		fields := make(map[string]string, len(columns))
		for i, col := range columns {
			if values[i].Valid {
				fields[canonicalFieldName(col)] = values[i].String
			}
		}

		out = append(out, model.ImportRow{
			Index:  len(out),
			Hash:   identity.RowContentHash(fields),
			Fields: fields,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating staging rows: %w", err)
	}

	s.logger.Info("Fetched staging rows",
		zap.String("table", s.table),
		zap.Int("rows", len(out)))

	return out, nil
}

// Close closes the warehouse connection.
func (s *Snowflake) Close() error {
	s.logger.Info("Closing Snowflake connection")
	return s.db.Close()
}
