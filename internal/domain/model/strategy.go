package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketContracts holds the contract addresses a strategy reads from and
// writes to.
type MarketContracts struct {
	BatchManager       common.Address
	TroveManager       common.Address
	BorrowerOperations common.Address
	HintHelpers        common.Address
	MultiTroveGetter   common.Address
	CollateralRegistry common.Address
	BoldToken          common.Address
}

// StrategyConfig is immutable after registration. The batch manager address
// is the single exception and may be bound exactly once.
type StrategyConfig struct {
	Key              int64
	Contracts        MarketContracts
	CollateralIndex  uint64
	DerivationPath   string
	TargetMin        *big.Int // 1e18 = 100%
	UpfrontFeePeriod time.Duration
	PublicKey        []byte // uncompressed secp256k1
}

// BatchManagerBound reports whether the batch manager address has been set.
func (c StrategyConfig) BatchManagerBound() bool {
	return c.Contracts.BatchManager != (common.Address{})
}

// StrategyRuntimeState is the mutable part of a strategy.
type StrategyRuntimeState struct {
	LatestRate       *big.Int
	LastRateChangeAt time.Time
	Nonce            uint64
	LastCompletedAt  time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s StrategyRuntimeState) Clone() StrategyRuntimeState {
	out := s
	if s.LatestRate != nil {
		out.LatestRate = new(big.Int).Set(s.LatestRate)
	}
	return out
}

// LockState is Unlocked when Locked is false, otherwise Locked(LockedAt).
type LockState struct {
	Locked   bool
	LockedAt time.Time
}

// Equal compares two lock states; timestamps are compared with time.Equal.
func (l LockState) Equal(o LockState) bool {
	if l.Locked != o.Locked {
		return false
	}
	if !l.Locked {
		return true
	}
	return l.LockedAt.Equal(o.LockedAt)
}

// Strategy is the per-key record held by the store.
type Strategy struct {
	Config  StrategyConfig
	Runtime StrategyRuntimeState
	Lock    LockState
}
