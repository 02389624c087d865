// Command reconcile drives the import lifecycle from the terminal:
// preview an extract, resolve match issues, commit the approved
// changeset, roll a transaction back, and diagnose store drift.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campusops/reconcile/pkg/config"
	"github.com/campusops/reconcile/pkg/events"
	"github.com/campusops/reconcile/pkg/issue"
	"github.com/campusops/reconcile/pkg/model"
	"github.com/campusops/reconcile/pkg/reconcile"
	"github.com/campusops/reconcile/pkg/rowsource"
	"github.com/campusops/reconcile/pkg/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries the wired dependencies shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Postgres
	service *reconcile.Service
}

func newRootCmd() *cobra.Command {
	var a app

	root := &cobra.Command{
		Use:           "reconcile",
		Short:         "Import reconciliation for the campus scheduling store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.teardown()
		},
	}

	root.AddCommand(
		newPreviewCmd(&a),
		newResolveCmd(&a),
		newCommitCmd(&a),
		newRollbackCmd(&a),
		newDiagnoseCmd(&a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	// .env is optional; environment variables win.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	a.logger = logger

	st, err := store.NewPostgres(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	a.store = st

	bus := events.NewBus()
	bus.Subscribe(events.NewAuditSubscriber(logger))

	a.service = reconcile.NewService(st, st, logger, reconcile.Options{
		NameMatchThreshold: cfg.NameMatchThreshold,
		ChunkSize:          cfg.ChunkSize,
		Bus:                bus,
	})
	return nil
}

func (a *app) teardown() {
	if a.store != nil {
		a.store.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func newPreviewCmd(a *app) *cobra.Command {
	var (
		file         string
		stagingTable string
		importType   string
		scope        string
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Run the preview pass over an extract and persist the transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			src, err := a.buildSource(ctx, file, stagingTable)
			if err != nil {
				return err
			}

			rows, err := src.Rows(ctx)
			if err != nil {
				return err
			}

			tx, err := a.service.Preview(ctx, rows, model.ImportType(importType), scope)
			if err != nil {
				return err
			}
			return printJSON(tx)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "CSV extract to preview")
	cmd.Flags().StringVar(&stagingTable, "staging-table", "", "warehouse staging table to preview")
	cmd.Flags().StringVar(&importType, "type", string(model.ImportSchedule), "extract kind: schedule or directory")
	cmd.Flags().StringVar(&scope, "scope", "", "import scope label, e.g. the term")
	return cmd
}

// buildSource picks the row feed: a local CSV file or a warehouse
// staging table.
func (a *app) buildSource(ctx context.Context, file, stagingTable string) (rowsource.Source, error) {
	switch {
	case file != "" && stagingTable != "":
		return nil, fmt.Errorf("--file and --staging-table are mutually exclusive")
	case file != "":
		return rowsource.NewCSV(file), nil
	case stagingTable != "":
		if a.cfg.Warehouse == nil {
			return nil, fmt.Errorf("--staging-table requires SNOWFLAKE_* configuration")
		}
		return rowsource.NewSnowflake(ctx, a.cfg.Warehouse, stagingTable, a.logger)
	default:
		return nil, fmt.Errorf("either --file or --staging-table is required")
	}
}

func newResolveCmd(a *app) *cobra.Command {
	var (
		txID     string
		issueID  string
		action   string
		personID string
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Apply an operator decision to an open match issue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			decision := issue.Decision{
				Action:   model.IssueResolution(action),
				LinkedID: personID,
			}
			tx, err := a.service.ResolveIssue(cmd.Context(), txID, issueID, decision)
			if err != nil {
				return err
			}
			return printJSON(tx)
		},
	}

	cmd.Flags().StringVar(&txID, "tx", "", "transaction id")
	cmd.Flags().StringVar(&issueID, "issue", "", "issue id")
	cmd.Flags().StringVar(&action, "action", "", "resolution: link or create")
	cmd.Flags().StringVar(&personID, "person", "", "existing person id for link")
	_ = cmd.MarkFlagRequired("tx")
	_ = cmd.MarkFlagRequired("issue")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newCommitCmd(a *app) *cobra.Command {
	var (
		txID    string
		changes string
	)

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Apply the approved changeset in chunked atomic batches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := reconcile.CommitOptions{}
			if changes != "" {
				opts.SelectedChangeIDs = strings.Split(changes, ",")
			}
			tx, err := a.service.Commit(cmd.Context(), txID, opts)
			if err != nil {
				return err
			}
			return printJSON(tx)
		},
	}

	cmd.Flags().StringVar(&txID, "tx", "", "transaction id")
	cmd.Flags().StringVar(&changes, "changes", "", "comma-separated change ids to commit; default all")
	_ = cmd.MarkFlagRequired("tx")
	return cmd
}

func newRollbackCmd(a *app) *cobra.Command {
	var txID string

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Reverse every applied change of a committed or partial transaction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, report, err := a.service.Rollback(cmd.Context(), txID)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}

	cmd.Flags().StringVar(&txID, "tx", "", "transaction id")
	_ = cmd.MarkFlagRequired("tx")
	return cmd
}

func newDiagnoseCmd(a *app) *cobra.Command {
	var txID string

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Audit a transaction against the live store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := a.service.Diagnose(cmd.Context(), txID)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}

	cmd.Flags().StringVar(&txID, "tx", "", "transaction id")
	_ = cmd.MarkFlagRequired("tx")
	return cmd
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
