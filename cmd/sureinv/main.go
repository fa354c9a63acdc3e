package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AkintolaX/sureinv-financing/internal/config"
	"github.com/AkintolaX/sureinv-financing/internal/core"
	"github.com/AkintolaX/sureinv-financing/internal/event"
	"github.com/AkintolaX/sureinv-financing/internal/ingestion"
	"github.com/AkintolaX/sureinv-financing/internal/ledger"
	"github.com/AkintolaX/sureinv-financing/internal/observability"
	"github.com/AkintolaX/sureinv-financing/internal/persistence"
	"github.com/AkintolaX/sureinv-financing/internal/projection"
	"github.com/AkintolaX/sureinv-financing/internal/query"
	"github.com/AkintolaX/sureinv-financing/internal/server"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "sureinv",
		Short:         "Invoice financing settlement engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $SUREINV_CONFIG_FILE)")

	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token <caller-uuid>",
		Short: "Issue a signed caller token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			caller, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("caller: %w", err)
			}
			tok, err := server.NewAuthenticator(cfg.Server.JWTSecret).IssueToken(caller, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	root.AddCommand(token)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	level := observability.ParseLogLevel(cfg.LogLevel)
	log := observability.NewLoggerWithLevel("main", level)
	log.Info().Msg("sureinv starting")

	if os.Getenv("GOGC") == "" {
		log.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLoggerWithLevel("migrator", level))
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker()

	// --- Channels ---
	// persist blocks (backpressure), projection drops when full
	persistChan := make(chan core.CoreOutput, cfg.Pipeline.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Pipeline.ProjectionChanSize)
	notifyChan := make(chan event.Notification, cfg.Pipeline.PublishChanSize)
	rejectChan := make(chan event.Rejection, cfg.Pipeline.PublishChanSize)

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	snapMgr := persistence.NewSnapshotManager(db)

	settlement := core.NewSettlementCore(core.Config{
		Params:              cfg.Params(),
		IdempotencyCapacity: cfg.Pipeline.IdempotencyLRUCapacity,
		MaxCommitAttempts:   cfg.Pipeline.MaxCommitAttempts,
		DBChecker:           dbChecker,
		Metrics:             metrics,
		Logger:              observability.NewLoggerWithLevel("core", level),
	}, ledger.NewTokenLedger(), persistChan, projectionChan)

	// --- Recovery: snapshot, replay, LRU warm ---
	rec := &recovery{
		core:     settlement,
		snapshot: snapMgr,
		keys:     dbChecker,
		lruSize:  cfg.Pipeline.IdempotencyLRUCapacity,
		log:      observability.NewLoggerWithLevel("recovery", level),
	}
	if err := rec.Run(ctx); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	history := projection.NewHistoryProjection()
	snapshots := &snapshotter{
		core:    settlement,
		mgr:     snapMgr,
		metrics: metrics,
		log:     observability.NewLoggerWithLevel("snapshot", level),
	}

	submitter := ingestion.NewSubmitter(settlement, time.Now)
	auth := server.NewAuthenticator(cfg.Server.JWTSecret)
	svc := server.NewSettlementService(server.ServiceDeps{
		Submitter:   submitter,
		Query:       query.NewQueryService(settlement, db, history),
		Auth:        auth,
		Snapshotter: snapshots,
		Rebuild: func(ctx context.Context) error {
			snap := settlement.CreateSnapshotState()
			return projection.RebuildProjections(ctx, db, snap.Store, snap.Sequence, observability.NewLoggerWithLevel("projection", level))
		},
		Log: observability.NewLoggerWithLevel("server", level),
	})
	srv, err := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, svc, health, metrics,
		observability.NewLoggerWithLevel("server", level))
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	// workers outlive the ingest surfaces so they can drain after shutdown
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	workers, workerCtx := errgroup.WithContext(workerCtx)

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, notifyChan,
		cfg.Pipeline.PersistBatchSize, cfg.Pipeline.PersistFlushTimeout, metrics,
		observability.NewLoggerWithLevel("persistence", level))
	workers.Go(func() error {
		defer close(notifyChan)
		return persistWorker.Run(workerCtx)
	})

	projWorker := projection.NewProjectionWorker(db, projectionChan, history, metrics,
		observability.NewLoggerWithLevel("projection", level))
	workers.Go(func() error { return projWorker.Run(workerCtx) })

	// --- NATS (optional surface) ---
	var subscriber *ingestion.NATSSubscriber
	ingest, ingestCtx := errgroup.WithContext(ctx)

	if cfg.NATS.Enabled {
		natsLog := observability.NewLoggerWithLevel("nats", level)
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLog)
		if err != nil {
			return err
		}
		defer nc.Close()

		if err := ingestion.EnsureStreams(ctx, js, natsLog); err != nil {
			return fmt.Errorf("ensure streams: %w", err)
		}
		if err := ingestion.EnsureOutboundStream(ctx, js, natsLog); err != nil {
			return fmt.Errorf("ensure outbound stream: %w", err)
		}

		rawChan := make(chan ingestion.RawInstruction, cfg.Pipeline.PublishChanSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, natsLog)
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}

		dispatcher := ingestion.NewDispatcher(submitter, auth, rawChan, rejectChan, metrics, natsLog)
		ingest.Go(func() error { return ignoreCanceled(dispatcher.Run(ingestCtx)) })

		publisher := ingestion.NewOutboundPublisher(js, notifyChan, rejectChan, metrics, natsLog)
		workers.Go(func() error { return publisher.Run(workerCtx) })
	} else {
		// nothing downstream; keep the persistence worker from blocking on notify
		workers.Go(func() error {
			for range notifyChan {
			}
			return nil
		})
	}

	ingest.Go(func() error { return srv.StartGRPC(ingestCtx) })
	ingest.Go(func() error { return srv.StartHTTPGateway(ingestCtx) })
	ingest.Go(func() error {
		return runPeriodicSnapshots(ingestCtx, snapshots, cfg.Pipeline.SnapshotInterval)
	})
	ingest.Go(func() error { return serveMetrics(ingestCtx, cfg.Server.MetricsAddr, log) })

	health.SetReady(true)
	log.Info().
		Int64("sequence", settlement.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Bool("nats", cfg.NATS.Enabled).
		Msg("sureinv ready")

	// --- Wait for shutdown ---
	ingestErr := ingest.Wait()
	if ingestErr != nil {
		log.Error().Err(ingestErr).Msg("surface failed, shutting down")
	} else {
		log.Info().Msg("shutdown signal received")
	}
	health.SetReady(false)
	if subscriber != nil {
		subscriber.Stop()
	}

	// no more submissions: drain the pipeline, then take a final snapshot
	close(persistChan)
	close(projectionChan)
	close(rejectChan)

	drained := make(chan error, 1)
	go func() { drained <- workers.Wait() }()

	select {
	case err := <-drained:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("worker failed during drain")
		}
	case <-time.After(cfg.Pipeline.ShutdownTimeout):
		log.Error().Dur("timeout", cfg.Pipeline.ShutdownTimeout).Msg("drain timed out")
		cancelWorkers()
		<-drained
	}

	finalCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownTimeout)
	defer cancel()
	if seq, err := snapshots.TakeSnapshot(finalCtx); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	log.Info().Msg("sureinv shutdown complete")
	return ingestErr
}

func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
