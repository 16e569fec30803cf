// Package badger is an embedded strategy store for single-host deployments.
// Each strategy (config, runtime state and lock) lives under one key, so
// every update is a single-key transaction.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/store"
)

const strategyPrefix = "strategy/"

type Config struct {
	// Path is ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {}

type Store struct {
	db *badger.DB
}

var (
	_ store.StrategyRepository = (*Store)(nil)
	_ store.LockRepository     = (*Store)(nil)
)

func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// record is the persisted form of model.Strategy.
type record struct {
	Key                int64     `json:"key"`
	BatchManager       string    `json:"batch_manager,omitempty"`
	TroveManager       string    `json:"trove_manager"`
	BorrowerOperations string    `json:"borrower_operations"`
	HintHelpers        string    `json:"hint_helpers"`
	MultiTroveGetter   string    `json:"multi_trove_getter"`
	CollateralRegistry string    `json:"collateral_registry"`
	BoldToken          string    `json:"bold_token"`
	CollateralIndex    uint64    `json:"collateral_index"`
	DerivationPath     string    `json:"derivation_path"`
	TargetMin          string    `json:"target_min"`
	UpfrontFeePeriod   int64     `json:"upfront_fee_period_seconds"`
	PublicKey          []byte    `json:"public_key"`
	LatestRate         string    `json:"latest_rate"`
	LastRateChangeAt   time.Time `json:"last_rate_change_at"`
	Nonce              uint64    `json:"nonce"`
	LastCompletedAt    time.Time `json:"last_completed_at"`
	Locked             bool      `json:"locked"`
	LockedAt           time.Time `json:"locked_at"`
}

func toRecord(s model.Strategy) record {
	r := record{
		Key:                s.Config.Key,
		TroveManager:       s.Config.Contracts.TroveManager.Hex(),
		BorrowerOperations: s.Config.Contracts.BorrowerOperations.Hex(),
		HintHelpers:        s.Config.Contracts.HintHelpers.Hex(),
		MultiTroveGetter:   s.Config.Contracts.MultiTroveGetter.Hex(),
		CollateralRegistry: s.Config.Contracts.CollateralRegistry.Hex(),
		BoldToken:          s.Config.Contracts.BoldToken.Hex(),
		CollateralIndex:    s.Config.CollateralIndex,
		DerivationPath:     s.Config.DerivationPath,
		TargetMin:          bigString(s.Config.TargetMin),
		UpfrontFeePeriod:   int64(s.Config.UpfrontFeePeriod / time.Second),
		PublicKey:          s.Config.PublicKey,
		LatestRate:         bigString(s.Runtime.LatestRate),
		LastRateChangeAt:   s.Runtime.LastRateChangeAt.UTC(),
		Nonce:              s.Runtime.Nonce,
		LastCompletedAt:    s.Runtime.LastCompletedAt.UTC(),
		Locked:             s.Lock.Locked,
		LockedAt:           s.Lock.LockedAt.UTC(),
	}
	if s.Config.BatchManagerBound() {
		r.BatchManager = s.Config.Contracts.BatchManager.Hex()
	}
	return r
}

func (r record) toModel() (*model.Strategy, error) {
	targetMin, ok := new(big.Int).SetString(r.TargetMin, 10)
	if !ok {
		return nil, fmt.Errorf("strategy %d: invalid target_min %q", r.Key, r.TargetMin)
	}
	latestRate, ok := new(big.Int).SetString(r.LatestRate, 10)
	if !ok {
		return nil, fmt.Errorf("strategy %d: invalid latest_rate %q", r.Key, r.LatestRate)
	}
	s := &model.Strategy{
		Config: model.StrategyConfig{
			Key: r.Key,
			Contracts: model.MarketContracts{
				TroveManager:       common.HexToAddress(r.TroveManager),
				BorrowerOperations: common.HexToAddress(r.BorrowerOperations),
				HintHelpers:        common.HexToAddress(r.HintHelpers),
				MultiTroveGetter:   common.HexToAddress(r.MultiTroveGetter),
				CollateralRegistry: common.HexToAddress(r.CollateralRegistry),
				BoldToken:          common.HexToAddress(r.BoldToken),
			},
			CollateralIndex:  r.CollateralIndex,
			DerivationPath:   r.DerivationPath,
			TargetMin:        targetMin,
			UpfrontFeePeriod: time.Duration(r.UpfrontFeePeriod) * time.Second,
			PublicKey:        r.PublicKey,
		},
		Runtime: model.StrategyRuntimeState{
			LatestRate:       latestRate,
			LastRateChangeAt: r.LastRateChangeAt,
			Nonce:            r.Nonce,
			LastCompletedAt:  r.LastCompletedAt,
		},
		Lock: model.LockState{Locked: r.Locked},
	}
	if r.BatchManager != "" {
		s.Config.Contracts.BatchManager = common.HexToAddress(r.BatchManager)
	}
	if r.Locked {
		s.Lock.LockedAt = r.LockedAt
	}
	return s, nil
}

func strategyKey(key int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", strategyPrefix, key))
}

func (s *Store) ListKeys(_ context.Context) ([]int64, error) {
	var keys []int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(strategyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			raw := strings.TrimPrefix(string(it.Item().Key()), strategyPrefix)
			k, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("parse key %q: %w", raw, err)
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	return keys, nil
}

func (s *Store) Create(_ context.Context, cfg model.StrategyConfig) error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(strategyKey(cfg.Key))
		if err == nil {
			return fmt.Errorf("strategy %d: %w", cfg.Key, store.ErrAlreadyExists)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get strategy %d: %w", cfg.Key, err)
		}
		return put(txn, toRecord(model.Strategy{Config: cfg, Runtime: model.StrategyRuntimeState{LatestRate: new(big.Int)}}))
	})
}

func (s *Store) Get(_ context.Context, key int64) (*model.Strategy, error) {
	var out *model.Strategy
	err := s.db.View(func(txn *badger.Txn) error {
		r, err := get(txn, key)
		if err != nil {
			return err
		}
		out, err = r.toModel()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) BindBatchManager(_ context.Context, key int64, addr common.Address) error {
	return s.update(key, func(r *record) error {
		if r.BatchManager != "" {
			return fmt.Errorf("strategy %d: %w", key, store.ErrAlreadyBound)
		}
		r.BatchManager = addr.Hex()
		return nil
	})
}

func (s *Store) SaveRuntime(_ context.Context, key int64, state model.StrategyRuntimeState) error {
	return s.update(key, func(r *record) error {
		r.LatestRate = bigString(state.LatestRate)
		r.LastRateChangeAt = state.LastRateChangeAt.UTC()
		r.Nonce = state.Nonce
		r.LastCompletedAt = state.LastCompletedAt.UTC()
		return nil
	})
}

func (s *Store) GetLock(ctx context.Context, key int64) (model.LockState, error) {
	st, err := s.Get(ctx, key)
	if err != nil {
		return model.LockState{}, err
	}
	return st.Lock, nil
}

// CompareAndSwapLock reports false both on a mismatch and when a concurrent
// transaction committed first.
func (s *Store) CompareAndSwapLock(_ context.Context, key int64, expected, next model.LockState) (bool, error) {
	swapped := false
	err := s.db.Update(func(txn *badger.Txn) error {
		r, err := get(txn, key)
		if err != nil {
			return err
		}
		cur := model.LockState{Locked: r.Locked}
		if r.Locked {
			cur.LockedAt = r.LockedAt
		}
		if !cur.Equal(expected) {
			return nil
		}
		r.Locked = next.Locked
		r.LockedAt = time.Time{}
		if next.Locked {
			r.LockedAt = next.LockedAt.UTC()
		}
		if err := put(txn, r); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("swap lock %d: %w", key, err)
	}
	return swapped, nil
}

func (s *Store) update(key int64, fn func(*record) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		r, err := get(txn, key)
		if err != nil {
			return err
		}
		if err := fn(&r); err != nil {
			return err
		}
		return put(txn, r)
	})
}

func get(txn *badger.Txn, key int64) (record, error) {
	item, err := txn.Get(strategyKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record{}, fmt.Errorf("strategy %d: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return record{}, fmt.Errorf("get strategy %d: %w", key, err)
	}
	var r record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	}); err != nil {
		return record{}, fmt.Errorf("decode strategy %d: %w", key, err)
	}
	return r, nil
}

func put(txn *badger.Txn, r record) error {
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode strategy %d: %w", r.Key, err)
	}
	return txn.Set(strategyKey(r.Key), val)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
