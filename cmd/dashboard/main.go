package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/ticket-dashboard/internal/api/dto"
	httptransport "github.com/spec-kit/ticket-dashboard/internal/api/http"
	"github.com/spec-kit/ticket-dashboard/internal/api/http/handlers"
	"github.com/spec-kit/ticket-dashboard/internal/auth"
	"github.com/spec-kit/ticket-dashboard/internal/cache"
	"github.com/spec-kit/ticket-dashboard/internal/client"
	"github.com/spec-kit/ticket-dashboard/internal/config"
	"github.com/spec-kit/ticket-dashboard/internal/dashboard"
	"github.com/spec-kit/ticket-dashboard/internal/events"
	"github.com/spec-kit/ticket-dashboard/internal/feed"
	"github.com/spec-kit/ticket-dashboard/internal/livesync"
	"github.com/spec-kit/ticket-dashboard/internal/observability"
	"github.com/spec-kit/ticket-dashboard/internal/persistence"
	"github.com/spec-kit/ticket-dashboard/internal/repository"
	"github.com/spec-kit/ticket-dashboard/internal/service"
	"github.com/spec-kit/ticket-dashboard/internal/worker"
	"github.com/spec-kit/ticket-dashboard/migrations"
)

const (
	feedHeartbeat   = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	loc, err := cfg.App.Location()
	if err != nil {
		logger.Fatal("invalid timezone", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()
	validate := validator.New()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations && pg.Enabled() {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), migrations.Files, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	session := auth.NewSession(cfg.Backend.Token, nil)
	if !session.IsAuthenticated() {
		logger.Warn("backend token missing or expired; fetches will fail until it is replaced")
	}
	backend := client.New(cfg.Backend.URL, cfg.Backend.RequestTimeout(), session, loc, logger)

	dispatcher := events.NewInMemoryDispatcher(logger)
	tickets := cache.New(backend.FetchAll,
		cache.WithLocation(loc),
		cache.WithDispatcher(dispatcher),
		cache.WithLogger(logger),
	)
	aggregator := dashboard.NewAggregator(tickets, loc, nil)

	var prefsRepo repository.PreferencesRepository
	if redis.Enabled() {
		prefsRepo = repository.NewPreferencesRepository(redis.Client, cfg.Redis.KeyPrefix)
		if cfg.Sync.SnapshotsEnabled {
			snapshotRepo := repository.NewSnapshotRepository(redis.Client, cfg.Redis.KeyPrefix, cfg.Sync.SnapshotTTL(), loc)
			snapshots := service.NewSnapshotService(dispatcher, tickets, snapshotRepo, logger)
			snapshots.Restore(ctx, tickets.ReplaceAll)
			snapshots.RegisterHandlers()
		}
	}

	var (
		journalRepo repository.EventJournalRepository
		journal     *worker.JournalWorker
		recorder    livesync.Recorder
	)
	if pg.Enabled() {
		journalRepo = repository.NewEventJournalRepository(pg.PoolHandle())
		journal = worker.NewJournalWorker(journalRepo, cfg.Sync.JournalBuffer, metrics, logger)
		recorder = journal
	}

	live := feed.New(feed.Config{
		URL:              cfg.Backend.WSURL,
		ReconnectDelay:   cfg.Feed.ReconnectDelay(),
		HandshakeTimeout: cfg.Feed.HandshakeTimeout(),
		Heartbeat:        feedHeartbeat,
		Token:            session.Token,
	}, logger, metrics)
	defer live.Close()

	decoder := dto.NewEventDecoder(validate, loc)
	listener := livesync.NewListener(live, tickets, decoder, cfg.Backend.TicketsTopic, recorder, metrics, logger)
	details := livesync.NewDetailRegistry(live, backend, decoder, cfg.Backend.TicketsTopic, logger)

	svc := service.NewDashboardService(service.DashboardDependencies{
		Cache:      tickets,
		Aggregator: aggregator,
		Recent:     backend,
		Details:    details,
		Feed:       live,
		Prefs:      prefsRepo,
		Journal:    journalRepo,
		Validate:   validate,
		Metrics:    metrics,
		Logger:     logger,
	})

	scheduler, err := livesync.NewScheduler(cfg.Sync.ResyncSpec, svc, cfg.Backend.RequestTimeout(), loc, logger)
	if err != nil {
		logger.Fatal("failed to create scheduler", zap.Error(err))
	}
	if journal != nil {
		retention := cfg.Sync.JournalRetention()
		err := scheduler.AddJob(cfg.Sync.PruneSpec, "journal-prune", func(ctx context.Context) error {
			return journal.Prune(ctx, retention)
		})
		if err != nil {
			logger.Fatal("failed to schedule journal pruning", zap.Error(err))
		}
	}

	live.OnConnect(func() {
		refreshCtx, cancel := context.WithTimeout(ctx, cfg.Backend.RequestTimeout())
		defer cancel()
		if err := svc.Refresh(refreshCtx); err != nil {
			logger.Warn("resync after connect failed", zap.Error(err))
		}
	})
	listener.Start()
	defer listener.Stop()
	scheduler.Start()

	if cfg.Sync.RefreshOnStart {
		go scheduler.RunOnce()
	}

	app := httptransport.NewApp(httptransport.AppConfig{
		Name:           cfg.App.Name,
		RequestTimeout: cfg.App.RequestTimeout(),
		Logger:         logger,
		Metrics:        metrics,
	})

	authMiddleware := auth.NewAuthMiddleware(auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes))
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, live, metrics),
		Tickets:        handlers.NewTicketsHandler(svc, cfg.Sync.StreamKeepAlive(), ctx.Done(), logger),
		Dashboard:      handlers.NewDashboardHandler(svc),
		Preferences:    handlers.NewPreferencesHandler(svc),
		AuthMiddleware: authMiddleware,
	})

	g, gctx := errgroup.WithContext(ctx)
	if journal != nil {
		g.Go(func() error { return journal.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		waitForShutdown(gctx, logger)
		cancel()

		stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		scheduler.Stop(stopCtx)
		return app.ShutdownWithContext(stopCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("service stopped with error", zap.Error(err))
	}
	logger.Info("service stopped")
}

func waitForShutdown(ctx context.Context, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutting down", zap.Error(context.Cause(ctx)))
	}
}
