package pipeline

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/liquity/bold-ir-management-sub000/internal/contracts"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
)

const (
	DefaultPageSize = 1000
	DefaultMaxPages = 200
)

// collect reads everything the decision needs at one block. markets lists
// the trove managers of every configured strategy.
func (e *Executor) collect(ctx context.Context, cfg model.StrategyConfig, markets []common.Address, block uint64) (model.MarketSnapshot, error) {
	snap := model.MarketSnapshot{BlockNumber: block}

	out, err := e.chain.CallContract(ctx, cfg.Contracts.BoldToken, contracts.PackTotalSupply(), block)
	if err != nil {
		return snap, fmt.Errorf("system debt: %w", err)
	}
	if snap.SystemDebt, err = contracts.UnpackTotalSupply(out); err != nil {
		return snap, fmt.Errorf("system debt: %w", err)
	}

	if snap.Own, err = e.unbacked(ctx, cfg.Contracts.TroveManager, block); err != nil {
		return snap, err
	}
	snap.TotalUnbacked = new(big.Int).Set(redeemableUnbacked(snap.Own))
	for _, market := range markets {
		if market == cfg.Contracts.TroveManager {
			continue
		}
		portion, err := e.unbacked(ctx, market, block)
		if err != nil {
			return snap, err
		}
		snap.TotalUnbacked.Add(snap.TotalUnbacked, redeemableUnbacked(portion))
	}

	out, err = e.chain.CallContract(ctx, cfg.Contracts.CollateralRegistry, contracts.PackRedemptionRate(), block)
	if err != nil {
		return snap, fmt.Errorf("redemption rate: %w", err)
	}
	if snap.RedemptionRate, err = contracts.UnpackRedemptionRate(out); err != nil {
		return snap, fmt.Errorf("redemption rate: %w", err)
	}

	if snap.Buckets, err = e.buckets(ctx, cfg, block); err != nil {
		return snap, err
	}
	return snap, nil
}

func (e *Executor) unbacked(ctx context.Context, troveManager common.Address, block uint64) (model.UnbackedPortion, error) {
	out, err := e.chain.CallContract(ctx, troveManager, contracts.PackUnbackedPortion(), block)
	if err != nil {
		return model.UnbackedPortion{}, fmt.Errorf("unbacked portion of %s: %w", troveManager.Hex(), err)
	}
	amount, redeemable, err := contracts.UnpackUnbackedPortion(out)
	if err != nil {
		return model.UnbackedPortion{}, fmt.Errorf("unbacked portion of %s: %w", troveManager.Hex(), err)
	}
	return model.UnbackedPortion{Market: troveManager, Unbacked: amount, Redeemable: redeemable}, nil
}

// Branches that cannot be redeemed against take no share of redemptions.
func redeemableUnbacked(p model.UnbackedPortion) *big.Int {
	if !p.Redeemable || p.Unbacked == nil {
		return new(big.Int)
	}
	return p.Unbacked
}

// buckets pages through the branch's sorted list until a page ends with the
// empty sentinel entry. Sentinels are not returned.
func (e *Executor) buckets(ctx context.Context, cfg model.StrategyConfig, block uint64) ([]model.DebtBucket, error) {
	var (
		all   []model.DebtBucket
		start = new(big.Int)
	)
	for page := 0; page < e.cfg.MaxPages; page++ {
		data, err := contracts.PackDebtPerInterestRateAscending(cfg.CollateralIndex, start, e.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("debt buckets: %w", err)
		}
		out, err := e.chain.CallContract(ctx, cfg.Contracts.MultiTroveGetter, data, block)
		if err != nil {
			return nil, fmt.Errorf("debt buckets page %d: %w", page, err)
		}
		rows, next, err := contracts.UnpackDebtPerInterestRateAscending(out)
		if err != nil {
			return nil, fmt.Errorf("debt buckets page %d: %w", page, err)
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("%w: debt buckets page %d is empty", retry.ErrMissingValue, page)
		}
		for _, row := range rows {
			if !row.IsSentinel() {
				all = append(all, row)
			}
		}
		if rows[len(rows)-1].IsSentinel() || next.Sign() == 0 {
			return all, nil
		}
		start = next
	}
	return nil, fmt.Errorf("%w: debt buckets did not end within %d pages", retry.ErrMissingValue, e.cfg.MaxPages)
}
