package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/liquity/bold-ir-management-sub000/internal/alert"
	"github.com/liquity/bold-ir-management-sub000/internal/metrics"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
)

// Executable runs the pipeline once. *Executor implements it.
type Executable interface {
	Execute(ctx context.Context, key int64) (Result, error)
}

type RunnerConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	Network     string
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{MaxAttempts: 3, Backoff: 5 * time.Second}
}

// Runner is the scheduler-facing entry point. Each firing retries the whole
// pipeline, lock included, up to MaxAttempts times.
type Runner struct {
	exec    Executable
	health  *HealthRegistry
	alerter alert.Alerter
	cfg     RunnerConfig
	logger  *slog.Logger
}

func NewRunner(exec Executable, health *HealthRegistry, alerter alert.Alerter, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRunnerConfig().MaxAttempts
	}
	if health == nil {
		health = NewHealthRegistry()
	}
	if alerter == nil {
		alerter = &alert.NoopAlerter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		exec:    exec,
		health:  health,
		alerter: alerter,
		cfg:     cfg,
		logger:  logger.With("component", "runner"),
	}
}

// Run executes one scheduled firing for key.
func (r *Runner) Run(ctx context.Context, key int64) error {
	label := strategyLabel(key)
	h := r.health.For(key)
	started := time.Now()

	var (
		lastErr  error
		decision retry.Decision
		attempts int
	)
	defer func() {
		metrics.RunnerAttempts.WithLabelValues(label).Observe(float64(min(attempts, r.cfg.MaxAttempts)))
	}()
	for attempts = 1; attempts <= r.cfg.MaxAttempts; attempts++ {
		res, err := r.exec.Execute(ctx, key)
		if err == nil {
			h.RecordLatency(time.Since(started))
			if h.RecordSuccess() {
				r.send(ctx, alert.Alert{
					Type:     alert.AlertTypeRecovery,
					Strategy: key,
					Title:    "Strategy recovered",
					Message:  fmt.Sprintf("run %s completed after earlier failures", res.RunID),
				})
			}
			if res.Submitted {
				r.send(ctx, alert.Alert{
					Type:     alert.AlertTypeRateChange,
					Strategy: key,
					Title:    "Interest rate updated",
					Message:  res.Decision.Reason,
					Fields: map[string]string{
						"direction": string(res.Decision.Direction),
						"rate":      res.Decision.NewRate.String(),
						"block":     strconv.FormatUint(res.Block, 10),
					},
				})
			}
			return nil
		}

		lastErr = err
		decision = retry.Classify(err)
		r.logger.Warn("strategy run failed",
			"strategy", key,
			"attempt", attempts,
			"kind", decision.Kind,
			"class", decision.Class,
			"error", err,
		)
		if !decision.IsTransient() {
			break
		}
		if attempts < r.cfg.MaxAttempts && !sleep(ctx, r.cfg.Backoff) {
			lastErr = errors.Join(lastErr, ctx.Err())
			break
		}
	}
	attempts = min(attempts, r.cfg.MaxAttempts)

	// Another run holding the lock is not a failure of this strategy.
	if decision.Kind == retry.KindLocked {
		r.logger.Info("strategy busy, skipping firing", "strategy", key)
		return fmt.Errorf("strategy %d: %w", key, lastErr)
	}

	if h.RecordFailure(lastErr) {
		r.send(ctx, alert.Alert{
			Type:     alert.AlertTypeUnhealthy,
			Strategy: key,
			Title:    "Strategy unhealthy",
			Message:  lastErr.Error(),
		})
	}
	alertType := alert.AlertTypeExhausted
	if decision.Kind == retry.KindUnauthorized {
		alertType = alert.AlertTypeUnauthorized
	}
	r.send(ctx, alert.Alert{
		Type:     alertType,
		Strategy: key,
		Title:    "Strategy run failed",
		Message:  lastErr.Error(),
		Fields: map[string]string{
			"attempts": strconv.Itoa(attempts),
			"kind":     string(decision.Kind),
		},
	})
	return fmt.Errorf("strategy %d after %d attempts: %w", key, attempts, lastErr)
}

func (r *Runner) send(ctx context.Context, a alert.Alert) {
	a.Network = r.cfg.Network
	if err := r.alerter.Send(context.WithoutCancel(ctx), a); err != nil {
		r.logger.Warn("alert failed", "type", a.Type, "strategy", a.Strategy, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
