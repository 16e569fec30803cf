package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DebtBucket is the aggregated debt at one interest rate owned by one batch
// manager (or by an individual trove when BatchManager is zero).
type DebtBucket struct {
	BatchManager common.Address
	Rate         *big.Int
	Debt         *big.Int
}

// IsSentinel reports whether the bucket marks the end of the ordered list.
func (b DebtBucket) IsSentinel() bool {
	return (b.Debt == nil || b.Debt.Sign() == 0) && (b.Rate == nil || b.Rate.Sign() == 0)
}

// UnbackedPortion is one market's redemption-relevant figure.
type UnbackedPortion struct {
	Market     common.Address
	Unbacked   *big.Int
	Redeemable bool
}

// MarketSnapshot is fetched fresh on every execution and never persisted.
type MarketSnapshot struct {
	BlockNumber    uint64
	SystemDebt     *big.Int
	Own            UnbackedPortion
	TotalUnbacked  *big.Int
	RedemptionRate *big.Int
	Buckets        []DebtBucket
}
