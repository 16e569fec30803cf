package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/lock"
	"github.com/liquity/bold-ir-management-sub000/internal/metrics"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
	"github.com/liquity/bold-ir-management-sub000/internal/signer"
	"github.com/liquity/bold-ir-management-sub000/internal/store"
	"github.com/liquity/bold-ir-management-sub000/internal/store/memjournal"
	"github.com/liquity/bold-ir-management-sub000/internal/tracing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	ChainID             *big.Int
	PageSize            uint64
	MaxPages            int
	ToleranceDown       decimal.Decimal
	ToleranceUp         decimal.Decimal
	UpfrontFeeBufferPct int64
	GasHeadroomPct      uint64
	// PersistAttempts bounds saves of the runtime after an accepted
	// broadcast.
	PersistAttempts int
	PersistBackoff  time.Duration
}

func DefaultConfig(chainID *big.Int) Config {
	return Config{
		ChainID:             chainID,
		PageSize:            DefaultPageSize,
		MaxPages:            DefaultMaxPages,
		ToleranceDown:       DefaultToleranceDown,
		ToleranceUp:         DefaultToleranceUp,
		UpfrontFeeBufferPct: 1,
		GasHeadroomPct:      20,
		PersistAttempts:     3,
		PersistBackoff:      250 * time.Millisecond,
	}
}

// Deps are the collaborators of an Executor.
type Deps struct {
	Repo    store.StrategyRepository
	Locks   *lock.Manager
	Chain   Chain
	Signer  signer.Signer
	Journal store.Journal
}

type Option func(*Executor)

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// Executor runs the read/decide/write pipeline for one strategy at a time
// per key. It is safe for concurrent use across keys.
type Executor struct {
	repo    store.StrategyRepository
	locks   *lock.Manager
	chain   Chain
	signer  signer.Signer
	journal store.Journal
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	tracer  trace.Tracer
}

func NewExecutor(deps Deps, cfg Config, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = 1
	}
	if deps.Journal == nil {
		deps.Journal = memjournal.New(store.JournalCapacity)
	}
	e := &Executor{
		repo:    deps.Repo,
		locks:   deps.Locks,
		chain:   deps.Chain,
		signer:  deps.Signer,
		journal: deps.Journal,
		cfg:     cfg,
		logger:  logger.With("component", "executor"),
		now:     time.Now,
		tracer:  tracing.Tracer("pipeline"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Result describes one completed run.
type Result struct {
	RunID     string
	Strategy  int64
	Block     uint64
	Decision  Decision
	Submitted bool
}

// Execute runs the pipeline once for key. The strategy lock is taken first
// and released on every return path, including panics.
func (e *Executor) Execute(ctx context.Context, key int64) (res Result, err error) {
	res = Result{RunID: uuid.NewString(), Strategy: key}
	label := strategyLabel(key)
	ctx, span := e.tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.Int64("strategy", key),
		attribute.String("run_id", res.RunID),
	))
	started := time.Now()
	defer func() {
		metrics.PipelineRunsTotal.WithLabelValues(label, runOutcome(res, err)).Inc()
		metrics.PipelineRunLatency.WithLabelValues(label).Observe(time.Since(started).Seconds())
		tracing.End(span, err)
	}()

	guard, err := e.locks.TryLock(ctx, key)
	if err != nil {
		if errors.Is(err, retry.ErrLocked) {
			metrics.PipelineLockContention.WithLabelValues(label).Inc()
		}
		return res, err
	}
	defer func() {
		if rerr := guard.Release(ctx); rerr != nil && err == nil {
			err = rerr
		}
	}()

	logger := e.logger.With("strategy", key, "run_id", res.RunID)
	if err = e.run(ctx, logger, &res); err != nil {
		e.note(ctx, key, "run %s failed at block %d: %v", res.RunID, res.Block, err)
		return res, err
	}
	return res, nil
}

func (e *Executor) run(ctx context.Context, logger *slog.Logger, res *Result) error {
	key := res.Strategy
	s, err := e.repo.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load strategy %d: %w", key, err)
	}
	cfg := s.Config
	if !cfg.BatchManagerBound() {
		return fmt.Errorf("%w: strategy %d has no batch manager", retry.ErrMissingValue, key)
	}
	eoa, err := signer.Address(cfg.PublicKey)
	if err != nil {
		return fmt.Errorf("strategy %d: %w", key, err)
	}
	markets, err := e.markets(ctx)
	if err != nil {
		return err
	}

	block, err := e.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("reference block: %w", err)
	}
	res.Block = block

	snap, err := e.collect(ctx, cfg, markets, block)
	if err != nil {
		return err
	}
	maxRedeemable, err := MaxRedeemable(redeemableUnbacked(snap.Own), snap.SystemDebt, snap.TotalUnbacked)
	if err != nil {
		return err
	}
	targetPct, err := TargetPercentage(cfg.TargetMin, snap.RedemptionRate)
	if err != nil {
		return err
	}
	targetDebt := TargetDebt(targetPct, maxRedeemable)
	scan := ScanBuckets(snap.Buckets, cfg.Contracts.BatchManager, targetDebt)

	logger.Debug("market snapshot",
		"block", block,
		"system_debt", snap.SystemDebt,
		"total_unbacked", snap.TotalUnbacked,
		"redemption_rate", snap.RedemptionRate,
		"buckets", len(snap.Buckets),
		"target_debt", targetDebt,
	)

	if !scan.OwnFound() {
		res.Decision = Decision{Direction: DirectionNone, Reason: "own batch not in the sorted list"}
		e.note(ctx, key, "block %d: batch %s not found among %d buckets, no action", block, cfg.Contracts.BatchManager.Hex(), len(snap.Buckets))
		return e.complete(ctx, s.Runtime, key)
	}

	decision, err := Decide(DecisionInput{
		TargetDebt:    targetDebt,
		DebtInFront:   scan.DebtInFront,
		Candidate:     scan.Candidate,
		LatestRate:    s.Runtime.LatestRate,
		Elapsed:       e.now().Sub(s.Runtime.LastRateChangeAt),
		FeePeriod:     cfg.UpfrontFeePeriod,
		ToleranceDown: e.cfg.ToleranceDown,
		ToleranceUp:   e.cfg.ToleranceUp,
	}, func() (*big.Int, error) {
		return e.predictFee(ctx, cfg, block, scan.Candidate)
	})
	if err != nil {
		return err
	}
	res.Decision = decision
	e.note(ctx, key, "block %d: target debt %s, debt in front %s, candidate %s, latest %s: %s (%s)",
		block, targetDebt, scan.DebtInFront, scan.Candidate, rateString(s.Runtime.LatestRate), decision.Direction, decision.Reason)

	if decision.Direction == DirectionNone {
		logger.Info("no rate change", "block", block, "reason", decision.Reason)
		return e.complete(ctx, s.Runtime, key)
	}

	state, err := e.submit(ctx, submission{strategy: s, eoa: eoa, block: block, decision: decision})
	if err != nil {
		return err
	}
	res.Submitted = true
	metrics.PipelineRateUpdates.WithLabelValues(strategyLabel(key), string(decision.Direction)).Inc()
	metrics.PipelineLatestRate.WithLabelValues(strategyLabel(key)).Set(rateFloat(decision.NewRate))
	e.note(ctx, key, "block %d: submitted %s to %s with nonce %d", block, decision.Direction, decision.NewRate, state.Nonce-1)

	if err := e.persistAccepted(ctx, logger, state, key); err != nil {
		logger.Error("rate update accepted but state not persisted", "nonce", state.Nonce-1, "error", err)
		return err
	}
	return nil
}

// markets returns the distinct trove managers of every registered strategy.
func (e *Executor) markets(ctx context.Context) ([]common.Address, error) {
	keys, err := e.repo.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	seen := make(map[common.Address]struct{}, len(keys))
	out := make([]common.Address, 0, len(keys))
	for _, k := range keys {
		s, err := e.repo.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("load strategy %d: %w", k, err)
		}
		tm := s.Config.Contracts.TroveManager
		if _, ok := seen[tm]; ok {
			continue
		}
		seen[tm] = struct{}{}
		out = append(out, tm)
	}
	return out, nil
}

func (e *Executor) complete(ctx context.Context, state model.StrategyRuntimeState, key int64) error {
	state.LastCompletedAt = e.now()
	if err := e.repo.SaveRuntime(ctx, key, state); err != nil {
		return fmt.Errorf("persist runtime %d: %w", key, err)
	}
	return nil
}

// persistAccepted saves the runtime of an accepted broadcast. Cancellation
// of ctx is ignored. A failure is terminal: retrying the run from the stored
// state would send a second rate update.
func (e *Executor) persistAccepted(ctx context.Context, logger *slog.Logger, state model.StrategyRuntimeState, key int64) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= e.cfg.PersistAttempts; attempt++ {
		if err = e.complete(ctx, state, key); err == nil {
			return nil
		}
		logger.Warn("persist accepted rate update failed", "attempt", attempt, "error", err)
		if attempt < e.cfg.PersistAttempts {
			sleep(ctx, e.cfg.PersistBackoff)
		}
	}
	return retry.Terminal(fmt.Errorf("rate update sent with nonce %d: %w", state.Nonce-1, err))
}

// note appends to the journal. Failures are logged and never fail a run.
func (e *Executor) note(ctx context.Context, key int64, format string, args ...any) {
	entry := store.TruncateEntry(fmt.Sprintf("strategy %d: ", key) + fmt.Sprintf(format, args...))
	if err := e.journal.Append(ctx, entry); err != nil {
		metrics.JournalAppendErrors.Inc()
		e.logger.Warn("journal append failed", "strategy", key, "error", err)
	}
}

func runOutcome(res Result, err error) string {
	switch {
	case err != nil:
		return string(retry.KindOf(err))
	case res.Submitted:
		return "submitted"
	default:
		return "no_action"
	}
}

func strategyLabel(key int64) string {
	return strconv.FormatInt(key, 10)
}

func rateString(r *big.Int) string {
	if r == nil {
		return "unset"
	}
	return r.String()
}

func rateFloat(r *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(r), new(big.Float).SetInt(Scale)).Float64()
	return f
}
