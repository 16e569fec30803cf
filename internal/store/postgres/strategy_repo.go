package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/store"
)

// StrategyRepo stores strategies, their runtime state and their lock in a
// single row per key.
type StrategyRepo struct {
	db *sql.DB
}

func NewStrategyRepo(db *DB) *StrategyRepo {
	return &StrategyRepo{db: db.DB}
}

var (
	_ store.StrategyRepository = (*StrategyRepo)(nil)
	_ store.LockRepository     = (*StrategyRepo)(nil)
)

const selectStrategy = `
	SELECT strategy_key, batch_manager, trove_manager, borrower_operations, hint_helpers,
	       multi_trove_getter, collateral_registry, bold_token, collateral_index,
	       derivation_path, target_min, upfront_fee_period_seconds, public_key,
	       latest_rate, last_rate_change_at, nonce, last_completed_at, locked, locked_at
	FROM strategies
	WHERE strategy_key = $1`

func (r *StrategyRepo) ListKeys(ctx context.Context) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT strategy_key FROM strategies ORDER BY strategy_key`)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()

	var keys []int64
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan strategy key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *StrategyRepo) Create(ctx context.Context, cfg model.StrategyConfig) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	batchManager := ""
	if cfg.BatchManagerBound() {
		batchManager = cfg.Contracts.BatchManager.Hex()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO strategies (
			strategy_key, batch_manager, trove_manager, borrower_operations, hint_helpers,
			multi_trove_getter, collateral_registry, bold_token, collateral_index,
			derivation_path, target_min, upfront_fee_period_seconds, public_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (strategy_key) DO NOTHING`,
		cfg.Key, batchManager,
		cfg.Contracts.TroveManager.Hex(), cfg.Contracts.BorrowerOperations.Hex(), cfg.Contracts.HintHelpers.Hex(),
		cfg.Contracts.MultiTroveGetter.Hex(), cfg.Contracts.CollateralRegistry.Hex(), cfg.Contracts.BoldToken.Hex(),
		int64(cfg.CollateralIndex), cfg.DerivationPath, bigString(cfg.TargetMin),
		int64(cfg.UpfrontFeePeriod/time.Second), cfg.PublicKey,
	)
	if err != nil {
		return fmt.Errorf("insert strategy %d: %w", cfg.Key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("strategy %d: %w", cfg.Key, store.ErrAlreadyExists)
	}
	return nil
}

func (r *StrategyRepo) Get(ctx context.Context, key int64) (*model.Strategy, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var (
		s                                               model.Strategy
		batchManager, troveManager, borrowerOps, hints  string
		multiTroveGetter, collateralRegistry, boldToken string
		collateralIndex, upfrontSeconds, nonce          int64
		targetMin, latestRate                           string
		lastRateChangeAt, lastCompletedAt, lockedAt     sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, selectStrategy, key).Scan(
		&s.Config.Key, &batchManager, &troveManager, &borrowerOps, &hints,
		&multiTroveGetter, &collateralRegistry, &boldToken, &collateralIndex,
		&s.Config.DerivationPath, &targetMin, &upfrontSeconds, &s.Config.PublicKey,
		&latestRate, &lastRateChangeAt, &nonce, &lastCompletedAt, &s.Lock.Locked, &lockedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("strategy %d: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy %d: %w", key, err)
	}

	s.Config.Contracts = model.MarketContracts{
		TroveManager:       common.HexToAddress(troveManager),
		BorrowerOperations: common.HexToAddress(borrowerOps),
		HintHelpers:        common.HexToAddress(hints),
		MultiTroveGetter:   common.HexToAddress(multiTroveGetter),
		CollateralRegistry: common.HexToAddress(collateralRegistry),
		BoldToken:          common.HexToAddress(boldToken),
	}
	if batchManager != "" {
		s.Config.Contracts.BatchManager = common.HexToAddress(batchManager)
	}
	s.Config.CollateralIndex = uint64(collateralIndex)
	s.Config.UpfrontFeePeriod = time.Duration(upfrontSeconds) * time.Second
	if s.Config.TargetMin, err = parseBig(targetMin); err != nil {
		return nil, fmt.Errorf("strategy %d target_min: %w", key, err)
	}
	if s.Runtime.LatestRate, err = parseBig(latestRate); err != nil {
		return nil, fmt.Errorf("strategy %d latest_rate: %w", key, err)
	}
	s.Runtime.Nonce = uint64(nonce)
	s.Runtime.LastRateChangeAt = nullTime(lastRateChangeAt)
	s.Runtime.LastCompletedAt = nullTime(lastCompletedAt)
	if s.Lock.Locked {
		s.Lock.LockedAt = nullTime(lockedAt)
	}
	return &s, nil
}

// BindBatchManager sets the batch manager once; later calls fail.
func (r *StrategyRepo) BindBatchManager(ctx context.Context, key int64, addr common.Address) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE strategies SET batch_manager = $2, updated_at = now()
		WHERE strategy_key = $1 AND batch_manager = ''`, key, addr.Hex())
	if err != nil {
		return fmt.Errorf("bind batch manager %d: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if err := r.exists(ctx, key); err != nil {
		return err
	}
	return fmt.Errorf("strategy %d: %w", key, store.ErrAlreadyBound)
}

func (r *StrategyRepo) SaveRuntime(ctx context.Context, key int64, state model.StrategyRuntimeState) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE strategies
		SET latest_rate = $2, last_rate_change_at = $3, nonce = $4, last_completed_at = $5, updated_at = now()
		WHERE strategy_key = $1`,
		key, bigString(state.LatestRate), toNullTime(state.LastRateChangeAt), int64(state.Nonce), toNullTime(state.LastCompletedAt))
	if err != nil {
		return fmt.Errorf("save runtime %d: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("strategy %d: %w", key, store.ErrNotFound)
	}
	return nil
}

func (r *StrategyRepo) GetLock(ctx context.Context, key int64) (model.LockState, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var (
		state    model.LockState
		lockedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `SELECT locked, locked_at FROM strategies WHERE strategy_key = $1`, key).
		Scan(&state.Locked, &lockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LockState{}, fmt.Errorf("strategy %d: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return model.LockState{}, fmt.Errorf("get lock %d: %w", key, err)
	}
	if state.Locked {
		state.LockedAt = nullTime(lockedAt)
	}
	return state, nil
}

// CompareAndSwapLock is a single conditional UPDATE, atomic under any
// isolation level.
func (r *StrategyRepo) CompareAndSwapLock(ctx context.Context, key int64, expected, next model.LockState) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var nextAt sql.NullTime
	if next.Locked {
		nextAt = toNullTime(next.LockedAt)
	}

	var (
		res sql.Result
		err error
	)
	if expected.Locked {
		res, err = r.db.ExecContext(ctx, `
			UPDATE strategies SET locked = $2, locked_at = $3, updated_at = now()
			WHERE strategy_key = $1 AND locked = true AND locked_at = $4`,
			key, next.Locked, nextAt, expected.LockedAt.UTC())
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE strategies SET locked = $2, locked_at = $3, updated_at = now()
			WHERE strategy_key = $1 AND locked = false`,
			key, next.Locked, nextAt)
	}
	if err != nil {
		return false, fmt.Errorf("swap lock %d: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swap lock %d rows: %w", key, err)
	}
	return n == 1, nil
}

func (r *StrategyRepo) exists(ctx context.Context, key int64) error {
	var ok bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM strategies WHERE strategy_key = $1)`, key).Scan(&ok); err != nil {
		return fmt.Errorf("check strategy %d: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("strategy %d: %w", key, store.ErrNotFound)
	}
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s)
	}
	return v, nil
}

func nullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
