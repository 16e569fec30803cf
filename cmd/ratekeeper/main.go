package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/liquity/bold-ir-management-sub000/internal/admin"
	"github.com/liquity/bold-ir-management-sub000/internal/config"
	"github.com/liquity/bold-ir-management-sub000/internal/scheduler"
	"github.com/liquity/bold-ir-management-sub000/internal/tracing"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	defer memguard.Purge()
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		memguard.Purge()
		os.Exit(1)
	}
}

// env is what every subcommand starts from.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	close  func()
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	var e env
	root := &cobra.Command{
		Use:          "ratekeeper",
		Short:        "Keeps Liquity v2 batch interest rates inside their redemption target band",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, closer := newLogger(cfg.Log, stdout)
			slog.SetDefault(logger)

			shutdownTracing, err := tracing.Init(cmd.Context(), tracing.Config{
				ServiceName: tracing.ServiceName,
				Endpoint:    cfg.Tracing.Endpoint,
				Insecure:    cfg.Tracing.Insecure,
				SampleRatio: cfg.Tracing.SampleRatio,
			})
			if err != nil {
				closer.Close()
				return fmt.Errorf("init tracing: %w", err)
			}
			e = env{cfg: cfg, logger: logger, close: func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Warn("tracing shutdown error", "error", err)
				}
				closer.Close()
			}}
			return nil
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the scheduler and the admin server until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				defer e.close()
				return runService(cmd.Context(), &e)
			},
		},
		&cobra.Command{
			Use:   "execute <strategy-key>",
			Short: "Run one firing of a strategy and exit",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				defer e.close()
				key, err := parseStrategyKey(args[0])
				if err != nil {
					return err
				}
				return executeOnce(cmd.Context(), &e, key)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending PostgreSQL migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				defer e.close()
				return migrate(cmd.Context(), &e)
			},
		},
	)
	return root
}

func parseStrategyKey(raw string) (int64, error) {
	key, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || key < 0 {
		return 0, fmt.Errorf("invalid strategy key %q", raw)
	}
	return key, nil
}

func runService(parent context.Context, e *env) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg, logger := e.cfg, e.logger

	logger.Info("starting ratekeeper",
		"network", cfg.Network,
		"providers", len(cfg.RPC.Providers),
		"store", cfg.Store.Backend,
		"journal", cfg.Journal.Backend,
		"signer", cfg.Signer.Mode,
		"schedule", cfg.Scheduler.Schedule,
	)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	strategies, err := config.LoadStrategies(cfg.StrategiesFile)
	if err != nil {
		return err
	}
	keys, err := syncStrategies(ctx, a.repo, strategies, logger)
	if err != nil {
		return err
	}

	sched := scheduler.New(a.runner, logger)
	if err := sched.RegisterAll(cfg.Scheduler.Schedule, keys); err != nil {
		return err
	}

	limiter := admin.NewRateLimitMiddleware(logger)
	defer limiter.Stop()
	srv := admin.NewServer(a.repo, a.health, logger,
		admin.WithProviders(a.ledger, a.pool),
		admin.WithJournal(a.journal),
		admin.WithTrigger(ctx, a.runner),
		admin.WithAuthToken(cfg.Server.AdminToken),
		admin.WithRateLimit(limiter),
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runAdminServer(gCtx, cfg.Server.AdminPort, srv.Handler(), logger)
	})
	g.Go(func() error {
		return a.runPoolStats(gCtx)
	})
	g.Go(func() error {
		sched.Start()
		if cfg.Scheduler.RunOnStart {
			sched.RunAllNow()
		}
		<-gCtx.Done()
		sched.Stop()
		return nil
	})

	err = g.Wait()
	logger.Info("ratekeeper stopped")
	return err
}

func executeOnce(parent context.Context, e *env, key int64) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	strategies, err := config.LoadStrategies(e.cfg.StrategiesFile)
	if err != nil {
		return err
	}
	if _, err := syncStrategies(ctx, a.repo, strategies, e.logger); err != nil {
		return err
	}
	return a.runner.Run(ctx, key)
}

func migrate(ctx context.Context, e *env) error {
	if e.cfg.Store.Backend != "postgres" {
		e.logger.Info("nothing to migrate", "store", e.cfg.Store.Backend)
		return nil
	}
	db, err := openPostgres(ctx, e.cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	if err := db.RunMigrations(ctx, e.cfg.DB.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	e.logger.Info("migrations applied", "dir", e.cfg.DB.MigrationsDir)
	return nil
}
