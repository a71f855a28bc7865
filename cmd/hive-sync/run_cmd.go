package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/archive"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/config"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/identity"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/lease"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/network"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/observability"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/retry"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/statesync"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/store"
	"github.com/Mindburn-Labs/hive-statechannel/pkg/store/journal"
)

const version = "0.1.0"

// startSync is a variable to allow mocking in tests
var startSync = runSync

func runSyncCmd(args []string, _, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	cfg, ok := loadConfig(cmd, args, stderr)
	if !ok {
		return 2
	}
	slog.SetDefault(newLogger(cfg.LogLevel, cfg.LogFormat, stderr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := startSync(ctx, cfg); err != nil {
		slog.Error("hive-sync stopped", "error", err)
		return 1
	}
	return 0
}

//nolint:gocognit
func runSync(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default().With("component", "hive-sync")
	n := cfg.Network
	if !n.Enabled {
		logger.InfoContext(ctx, "network disabled, nothing to publish")
		return nil
	}

	if err := ensureParent(n.IdentityPath); err != nil {
		return fmt.Errorf("identity dir: %w", err)
	}
	id, err := identity.Ensure(n.IdentityPath)
	if err != nil {
		return err
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "hive-sync",
		ServiceVersion: version,
		Environment:    getenvDefault("HIVE_ENV", "development"),
		OTLPEndpoint:   n.OTLPEndpoint,
		Insecure:       getenvDefault("OTEL_EXPORTER_OTLP_INSECURE", "true") == "true",
		ExportInterval: 15 * time.Second,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	notifier := statesync.NewNotifier()
	if cfg.Database.Driver == "sqlite" {
		if err := ensureParent(cfg.Database.URL); err != nil {
			return fmt.Errorf("database dir: %w", err)
		}
	}
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL,
		store.WithNotifier(notifier),
		store.WithMaxFingerprints(n.MaxFingerprints),
	)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := ensureParent(n.JournalPath); err != nil {
		return fmt.Errorf("journal dir: %w", err)
	}
	jr, err := journal.Open(ctx, n.JournalPath)
	if err != nil {
		return err
	}
	defer func() { _ = jr.Close() }()

	client := network.New(n.EndpointURL, network.WithTimeout(n.RequestTimeout()))
	if nodes, err := client.ClusterInfo(ctx); err != nil {
		logger.WarnContext(ctx, "cluster not reachable, will retry", "endpoint", n.EndpointURL, "error", err)
	} else {
		logger.InfoContext(ctx, "cluster reachable", "endpoint", n.EndpointURL, "nodes", len(nodes))
	}

	opts := []statesync.Option{
		statesync.WithJournal(jr),
		statesync.WithObservability(obs),
	}
	if n.ArchiveBucket != "" {
		sink, err := openArchive(ctx, n)
		if err != nil {
			return err
		}
		opts = append(opts, statesync.WithArchiver(sink))
		logger.InfoContext(ctx, "archiving accepted envelopes", "backend", n.ArchiveBackend, "bucket", n.ArchiveBucket)
	}

	svc := statesync.New(statesync.Config{
		BusinessName:     cfg.Business.Name,
		Interval:         n.Interval(),
		MinSubmitSpacing: n.MinSubmitSpacing(),
		MaxFingerprints:  n.MaxFingerprints,
		Retry:            retry.DefaultPolicy,
	}, id.Signer(), st, client, notifier, opts...)

	g, gctx := errgroup.WithContext(ctx)

	if n.RedisURL != "" {
		backend, err := lease.NewRedisBackend(n.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = backend.Close() }()

		l := lease.New(backend, id.Address, n.LeaseTTL())
		if err := l.Acquire(ctx); err != nil {
			return err
		}
		g.Go(func() error { return l.Keep(gctx) })
	}

	g.Go(func() error {
		return st.Watch(gctx, max(n.MinSubmitSpacing(), time.Second), notifier)
	})
	g.Go(func() error { return svc.Run(gctx) })

	// A lost lease cancels gctx and stops the scheduler with it.
	return g.Wait()
}

func openArchive(ctx context.Context, n config.NetworkConfig) (archive.Sink, error) {
	switch n.ArchiveBackend {
	case "gcs":
		return archive.NewGCS(ctx, archive.GCSConfig{Bucket: n.ArchiveBucket, Prefix: n.ArchivePrefix})
	default:
		return archive.NewS3(ctx, archive.S3Config{
			Bucket:   n.ArchiveBucket,
			Region:   n.ArchiveRegion,
			Endpoint: n.ArchiveEndpoint,
			Prefix:   n.ArchivePrefix,
		})
	}
}
