// Command schemadriftd runs the schema-drift detection engine: the
// comparison orchestrator, the five background workers, and the
// debounce/processing pipeline wired together against an in-memory
// store. Grounded on cmd/mssqldef/mssqldef.go's flag-parse-then-run
// shape (github.com/jessevdk/go-flags for CLI flags, then a single
// blocking run).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/schemadrift/engine/internal/config"
	"github.com/schemadrift/engine/internal/dbmodel"
	"github.com/schemadrift/engine/internal/filemodel"
	"github.com/schemadrift/engine/internal/model"
	"github.com/schemadrift/engine/internal/obslog"
	"github.com/schemadrift/engine/internal/orchestrator"
	"github.com/schemadrift/engine/internal/pipeline"
	"github.com/schemadrift/engine/internal/realtime"
	"github.com/schemadrift/engine/internal/repo"
	"github.com/schemadrift/engine/internal/workers"
)

var version string

type cliOptions struct {
	ConfigPath string `short:"c" long:"config" description:"Path to the YAML settings file" value-name:"path"`
	Help       bool   `long:"help" description:"Show this help"`
	Version    bool   `long:"version" description:"Show this version"`
}

func parseOptions(args []string) cliOptions {
	var opts cliOptions
	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[options]"
	if _, err := parser.ParseArgs(args); err != nil {
		log.Fatal(err)
	}
	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if opts.Version {
		fmt.Println(version)
		os.Exit(0)
	}
	return opts
}

func main() {
	opts := parseOptions(os.Args[1:])
	obslog.Init()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		log.Fatalf("loading config: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slogShuttingDown()
		cancel()
	}()

	run(ctx, cfg)
}

func slogShuttingDown() {
	obslog.Sub("main").Info("shutdown signal received")
}

// run wires every collaborator together and blocks until ctx is
// cancelled. Split out from main for testability (a test can supply a
// short-lived context instead of waiting on OS signals).
func run(ctx context.Context, cfg config.Config) {
	store := repo.NewInMemory()
	repos := store.Repositories()
	publisher := realtime.NewPublisher()

	orch := &orchestrator.Orchestrator{
		Subscriptions:            repos.Subscriptions,
		Snapshots:                repos.SchemaSnapshots,
		History:                  repos.ComparisonHistory,
		DBBuilder:                dbmodel.NewBuilder(),
		FileBuilder:              filemodel.NewBuilder(),
		Publisher:                publisher,
		MaxConcurrentComparisons: int64(cfg.Monitoring.MaxConcurrentComparisons),
		MaxCachedSnapshots:       cfg.Cache.MaxCachedSnapshotsPerSubscription,
	}

	processor := &pipeline.ChangeProcessor{
		Subscriptions: repos.Subscriptions,
		Pending:       repos.PendingChanges,
		Publisher:     publisher,
		Runner:        orch,
	}
	debouncer := pipeline.NewDebouncer(cfg.Monitoring.FileSystemDebounce, func(batch model.PendingChangeBatch) {
		processor.Process(ctx, batch)
	})

	connector := dbmodel.SQLServerConnector{}

	pollingWorker := &workers.PollingWorker{
		Interval:      cfg.Monitoring.DatabasePollInterval,
		Enabled:       cfg.Workers.DatabasePollingEnabled,
		Subscriptions: repos.Subscriptions,
		Connector:     connector,
		Recorder:      debouncer,
		Publisher:     publisher,
	}
	fileWatchWorker := &workers.FileWatchingWorker{
		Enabled:       cfg.Workers.FileWatchingEnabled,
		Subscriptions: repos.Subscriptions,
		Recorder:      debouncer,
		Publisher:     publisher,
	}
	reconciliationWorker := &workers.ReconciliationWorker{
		Interval:                cfg.Monitoring.FullReconciliationInterval,
		Enabled:                 cfg.Workers.ReconciliationEnabled,
		MaxConcurrentReconciles: cfg.Monitoring.MaxConcurrentComparisons,
		Subscriptions:           repos.Subscriptions,
		Pending:                 repos.PendingChanges,
		Runner:                  orch,
	}
	cacheCleanupWorker := &workers.CacheCleanupWorker{
		Interval:                   time.Hour,
		Enabled:                    cfg.Workers.CacheCleanupEnabled,
		SnapshotRetention:          cfg.Cache.SnapshotRetention,
		MaxCachedSnapshotsPerSub:   cfg.Cache.MaxCachedSnapshotsPerSubscription,
		ComparisonHistoryRetention: cfg.Cache.ComparisonHistoryRetention,
		PendingChangeRetention:     cfg.Cache.PendingChangeRetention,
		Subscriptions:              repos.Subscriptions,
		Snapshots:                  repos.SchemaSnapshots,
		History:                    repos.ComparisonHistory,
		Pending:                    repos.PendingChanges,
	}
	healthCheckWorker := &workers.HealthCheckWorker{
		Interval:      cfg.Monitoring.HealthCheckInterval,
		Enabled:       cfg.Workers.HealthCheckEnabled,
		Subscriptions: repos.Subscriptions,
		Connector:     connector,
		Publisher:     publisher,
	}

	go pollingWorker.Run(ctx)
	go fileWatchWorker.Run(ctx)
	go reconciliationWorker.Run(ctx)
	go cacheCleanupWorker.Run(ctx)
	go healthCheckWorker.Run(ctx)

	<-ctx.Done()
	debouncer.Dispose()
	obslog.Sub("main").Info("shutdown complete")
}
