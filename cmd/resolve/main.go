// Package main provides a CLI that resolves one snapshot, or every snapshot
// with unresolved holdings, in the foreground.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/RaajeevKalyan/portfolio-analyzer/internal/app"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/config"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/job"
	"github.com/RaajeevKalyan/portfolio-analyzer/internal/logging"
)

func main() {
	var (
		snapshotID = flag.Int64("snapshot", 0, "Snapshot ID to resolve")
		all        = flag.Bool("all", false, "Resolve every snapshot with unresolved holdings")
	)
	flag.Parse()

	if (*snapshotID > 0) == *all {
		fmt.Fprintln(os.Stderr, "usage: resolve -snapshot <id> | -all")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	ctx, stop := signal.NotifyContext(logging.WithLogger(context.Background(), logger), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *snapshotID, *all); err != nil {
		logger.WithError(err).Fatal("Resolution failed")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger, snapshotID int64, all bool) error {
	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	pipeline, err := app.NewPipeline(ctx, cfg, stores, logger)
	if err != nil {
		return err
	}

	ids := []int64{snapshotID}
	if all {
		ids, err = pipeline.Holdings.SnapshotsNeedingResolution(ctx)
		if err != nil {
			return err
		}
		funds, holdings, err := pipeline.Holdings.CountUnresolved(ctx)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"snapshots": len(ids),
			"funds":     funds,
			"holdings":  holdings,
		}).Info("Found unresolved holdings")
	}

	failed := 0
	for _, id := range ids {
		if err := pipeline.Orchestrator.Run(ctx, id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, job.ErrAlreadyRunning) {
				return fmt.Errorf("snapshot %d: %w", id, err)
			}
			logger.WithError(err).WithField("snapshotId", id).Error("Snapshot resolution failed")
			failed++
			continue
		}
		status := pipeline.Tracker.Snapshot()
		logger.WithFields(map[string]interface{}{
			"snapshotId": id,
			"apiCalls":   status.APICalls,
			"cachedHits": status.CachedHits,
			"errors":     len(status.Errors),
		}).Info(status.CompletionMessage)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d snapshots failed", failed, len(ids))
	}
	return nil
}
