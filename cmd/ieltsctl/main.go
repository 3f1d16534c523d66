// Package main implements ieltsctl, the operator CLI for the pipeline:
// it migrates the schema and kicks off the document and embedding scans
// that feed the worker's queues.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/anhdng/ielts-pipeline/internal/broker"
	"github.com/anhdng/ielts-pipeline/internal/config"
	"github.com/anhdng/ielts-pipeline/internal/embedding"
	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
	"github.com/anhdng/ielts-pipeline/internal/platform/postgres"
	"github.com/anhdng/ielts-pipeline/internal/segment"
	"github.com/anhdng/ielts-pipeline/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ieltsctl",
		Short:         "Operate the reading-practice pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newMigrateCmd(),
		newProcessCmd(),
		newSyncCmd(),
		newRunAllCmd(),
	)
	return root
}

// setup loads configuration and installs the logger on a fresh context.
func setup() (context.Context, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logg, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return logger.WithLogger(context.Background(), logg), cfg, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := setup()
			if err != nil {
				return err
			}

			db, err := sql.Open("pgx", cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			goose.SetBaseFS(migrations.FS)
			if err := goose.SetDialect("postgres"); err != nil {
				return err
			}
			if err := goose.Up(db, "."); err != nil {
				return fmt.Errorf("failed to apply migrations: %w", err)
			}

			cmd.Println("migrations applied")
			return nil
		},
	}
}

func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-pending-documents",
		Short: "Dispatch preprocessing jobs for unprocessed source PDFs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup()
			if err != nil {
				return err
			}
			n, err := dispatchDocuments(ctx, cfg)
			if err != nil {
				return err
			}
			cmd.Printf("dispatched %d preprocessing jobs\n", n)
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-pending-embeddings",
		Short: "Dispatch vector sync jobs for passages awaiting embedding",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup()
			if err != nil {
				return err
			}
			n, err := dispatchEmbeddings(ctx, cfg)
			if err != nil {
				return err
			}
			cmd.Printf("dispatched %d embedding batches\n", n)
			return nil
		},
	}
}

func newRunAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-all",
		Short: "Dispatch both the document and the embedding scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup()
			if err != nil {
				return err
			}

			docs, err := dispatchDocuments(ctx, cfg)
			if err != nil {
				return err
			}
			batches, err := dispatchEmbeddings(ctx, cfg)
			if err != nil {
				return err
			}

			cmd.Printf("dispatched %d preprocessing jobs and %d embedding batches\n", docs, batches)
			return nil
		},
	}
}

func dispatchDocuments(ctx context.Context, cfg *config.Config) (int, error) {
	pool := postgres.NewPool(cfg.Database)
	defer pool.Close(ctx)

	brk, err := broker.Connect(ctx, cfg.NATS)
	if err != nil {
		return 0, err
	}
	defer brk.Close()

	scanner := segment.NewScanner(postgres.NewProcessedFileStore(pool.Querier()), brk)
	return scanner.Scan(ctx, cfg.Pipeline.PDFFolder)
}

func dispatchEmbeddings(ctx context.Context, cfg *config.Config) (int, error) {
	pool := postgres.NewPool(cfg.Database)
	defer pool.Close(ctx)

	brk, err := broker.Connect(ctx, cfg.NATS)
	if err != nil {
		return 0, err
	}
	defer brk.Close()

	scanner := embedding.NewScanner(postgres.NewPassageStore(pool.Querier()), brk,
		cfg.Pipeline.FetchBatchSize, cfg.Pipeline.ProcessBatchSize)
	return scanner.Scan(ctx)
}
