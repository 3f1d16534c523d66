// Package main implements the pipeline worker: it wires the stores,
// clients and queue consumers together and runs one dispatcher per
// queue plus the chat log sweeper until the process is signalled.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/anhdng/ielts-pipeline/internal/broker"
	"github.com/anhdng/ielts-pipeline/internal/chatlog"
	"github.com/anhdng/ielts-pipeline/internal/config"
	"github.com/anhdng/ielts-pipeline/internal/embedding"
	"github.com/anhdng/ielts-pipeline/internal/evaluation"
	"github.com/anhdng/ielts-pipeline/internal/platform/gemini"
	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
	"github.com/anhdng/ielts-pipeline/internal/platform/objectstore"
	"github.com/anhdng/ielts-pipeline/internal/platform/postgres"
	"github.com/anhdng/ielts-pipeline/internal/platform/qdrant"
	"github.com/anhdng/ielts-pipeline/internal/query"
	"github.com/anhdng/ielts-pipeline/internal/segment"
	"github.com/anhdng/ielts-pipeline/internal/task"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logg, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	ctx = logger.WithLogger(ctx, logg)

	pool := postgres.NewPool(cfg.Database)
	defer pool.Close(ctx)

	// Stores bind to the lazy querier, so a database that is down at
	// startup only fails the jobs that touch it until it comes back.
	db := pool.Querier()
	passages := postgres.NewPassageStore(db)
	files := postgres.NewProcessedFileStore(db)

	brk, err := broker.Connect(ctx, cfg.NATS)
	if err != nil {
		return err
	}
	defer brk.Close()

	index, err := qdrant.New(cfg.Qdrant)
	if err != nil {
		return err
	}
	defer index.Close()
	if err := index.Ensure(ctx); err != nil {
		return err
	}

	gem, err := gemini.New(ctx, cfg.Gemini)
	if err != nil {
		return err
	}

	logStore := chatlog.NewRedisStore(cfg.Redis)
	defer logStore.Close()

	objects, err := objectstore.New(ctx, cfg.ObjectStore)
	if err != nil {
		return err
	}

	buffer := chatlog.NewBuffer(logStore, brk, cfg.Pipeline.LogBufferThreshold, cfg.Pipeline.LogBufferTTL)
	flusher := chatlog.NewFlusher(logStore, objects)
	sweeper := chatlog.NewSweeper(logStore, brk, cfg.Pipeline.SweepInterval)

	processor := segment.NewProcessor(pool, passages, files, cfg.Pipeline)
	syncer := embedding.NewSyncer(passages, gem, index, brk, cfg.Pipeline.UpsertBatchSize)
	queries := query.NewService(gem, index, gem, buffer)
	evals := evaluation.NewService(gem, buffer)

	dispatcherCfg := task.DispatcherConfig{
		WorkerCount: cfg.Pipeline.WorkerCount,
		MaxAttempts: uint64(cfg.Pipeline.MaxAttempts),
		Backoff:     task.Backoff{Base: cfg.Pipeline.RetryDelay, Exponential: true},
	}

	handlers := map[task.Queue]task.Handler{
		task.QueuePreprocessing: processor.HandleProcessDocument,
		task.QueueEmbedding:     syncer.HandleSync,
		task.QueueQuery:         queries.HandleQuery,
		task.QueueEvaluation:    evals.HandleEvaluation,
		task.QueueLogging:       flusher.HandleFlush,
	}

	g, gctx := errgroup.WithContext(ctx)
	for queue, handler := range handlers {
		consumer, err := brk.EnsureQueue(ctx, queue, dispatcherCfg.MaxAttempts, cfg.NATS.AckWait)
		if err != nil {
			return err
		}
		dispatcher := task.NewDispatcher(queue, consumer, handler, dispatcherCfg, logg)
		g.Go(func() error {
			dispatcher.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		sweeper.Run(logger.WithLogger(gctx, logg))
		return nil
	})

	logg.Info("worker running", "queues", len(handlers))
	return g.Wait()
}
