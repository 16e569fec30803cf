package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/liquity/bold-ir-management-sub000/internal/alert"
	"github.com/liquity/bold-ir-management-sub000/internal/chain/provider"
	"github.com/liquity/bold-ir-management-sub000/internal/config"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/lock"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline"
	"github.com/liquity/bold-ir-management-sub000/internal/reputation"
	"github.com/liquity/bold-ir-management-sub000/internal/requester"
	"github.com/liquity/bold-ir-management-sub000/internal/signer"
	"github.com/liquity/bold-ir-management-sub000/internal/store"
	badgerstore "github.com/liquity/bold-ir-management-sub000/internal/store/badger"
	"github.com/liquity/bold-ir-management-sub000/internal/store/memjournal"
	"github.com/liquity/bold-ir-management-sub000/internal/store/postgres"
	redisstore "github.com/liquity/bold-ir-management-sub000/internal/store/redis"
)

const poolStatsInterval = 15 * time.Second

type strategyStore interface {
	store.StrategyRepository
	store.LockRepository
}

type journal interface {
	store.Journal
	store.JournalReader
}

// app holds the wired collaborators shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *postgres.DB
	repo    strategyStore
	journal journal
	pool    *provider.Pool
	ledger  *reputation.Ledger
	req     *requester.Requester
	signer  signer.Signer
	health  *pipeline.HealthRegistry
	runner  *pipeline.Runner

	closers []func() error
}

func openPostgres(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		URL:                cfg.DB.URL,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetime:    cfg.DB.ConnMaxLifetime,
		StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
	})
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openJournal(ctx); err != nil {
		return nil, err
	}
	if err := a.openSigner(); err != nil {
		return nil, err
	}

	endpoints := cfg.RPC.Providers
	a.pool = provider.NewPool(endpoints, provider.PoolConfig{
		RPS:              cfg.RPC.RPS,
		Burst:            cfg.RPC.Burst,
		FailureThreshold: cfg.RPC.FailureThreshold,
		OpenTimeout:      cfg.RPC.OpenTimeout,
	}, logger)
	a.ledger = reputation.New(model.ProviderIDs(endpoints), a.journal, logger)
	a.closers = append(a.closers, func() error { a.ledger.Close(); return nil })
	a.req = requester.New(a.pool, a.ledger, requester.Config{
		ConsensusSize:        cfg.RPC.ConsensusSize,
		InitialResponseBytes: cfg.RPC.InitialResponseBytes,
		MaxResponseBytes:     cfg.RPC.MaxResponseBytes,
		MaxRotations:         cfg.RPC.MaxRotations,
	}, logger)

	locks := lock.NewManager(a.repo, logger, lock.WithTimeout(cfg.Scheduler.LockTimeout))
	exec := pipeline.NewExecutor(pipeline.Deps{
		Repo:    a.repo,
		Locks:   locks,
		Chain:   a.req,
		Signer:  a.signer,
		Journal: a.journal,
	}, pipeline.DefaultConfig(cfg.Network.ChainID()), logger)

	a.health = pipeline.NewHealthRegistry()
	a.runner = pipeline.NewRunner(exec, a.health, buildAlerter(cfg.Alert, logger), pipeline.RunnerConfig{
		MaxAttempts: cfg.Scheduler.MaxAttempts,
		Backoff:     cfg.Scheduler.Backoff,
		Network:     cfg.Network.String(),
	}, logger)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case "badger":
		s, err := badgerstore.Open(badgerstore.Config{
			Path:       a.cfg.Badger.Path,
			SyncWrites: a.cfg.Badger.SyncWrites,
			Logger:     a.logger,
		})
		if err != nil {
			return fmt.Errorf("open badger store: %w", err)
		}
		a.repo = s
		a.closers = append(a.closers, s.Close)
		a.logger.Info("using badger store", "path", a.cfg.Badger.Path)
	default:
		db, err := openPostgres(ctx, a.cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
		a.repo = postgres.NewStrategyRepo(db)
		a.closers = append(a.closers, db.Close)
		a.logger.Info("connected to database")
	}
	return nil
}

func (a *app) openJournal(ctx context.Context) error {
	switch a.cfg.Journal.Backend {
	case "redis":
		client, err := redisstore.Connect(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.journal = redisstore.NewJournal(client, a.cfg.Journal.Key)
		a.closers = append(a.closers, client.Close)
	case "postgres":
		if a.db == nil {
			return errors.New("postgres journal requires the postgres store")
		}
		a.journal = postgres.NewJournal(a.db)
	default:
		a.journal = memjournal.New(store.JournalCapacity)
	}
	return nil
}

func (a *app) openSigner() error {
	switch a.cfg.Signer.Mode {
	case "local":
		s, err := signer.NewLocal(a.cfg.Signer.MasterKey)
		if err != nil {
			return fmt.Errorf("local signer: %w", err)
		}
		a.signer = s
		a.logger.Warn("using the local development signer")
	default:
		s, err := signer.NewRemote(signer.RemoteConfig{
			Endpoint: a.cfg.Signer.URL,
			Token:    a.cfg.Signer.Token,
			Retries:  a.cfg.Signer.Retries,
			Logger:   a.logger,
		})
		if err != nil {
			return fmt.Errorf("remote signer: %w", err)
		}
		a.signer = s
	}
	return nil
}

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var senders []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		senders = append(senders, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.GenericWebhookURL != "" {
		senders = append(senders, alert.NewWebhookAlerter(cfg.GenericWebhookURL))
	}
	if len(senders) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, senders...)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close resource", "error", err)
		}
	}
	a.closers = nil
}

// runPoolStats publishes database pool gauges until ctx is done.
func (a *app) runPoolStats(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		a.db.ReportPoolStats()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runAdminServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("admin server shutdown error", "error", err)
		}
	}()

	logger.Info("admin server started", "port", port)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}
