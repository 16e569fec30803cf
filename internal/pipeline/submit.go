package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/liquity/bold-ir-management-sub000/internal/chain/rpc"
	"github.com/liquity/bold-ir-management-sub000/internal/contracts"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/metrics"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
	"github.com/liquity/bold-ir-management-sub000/internal/signer"
)

// MaxSendAttempts bounds broadcasts per submission, the first included.
const MaxSendAttempts = 2

var (
	ErrInsufficientFunds = errors.New("insufficient funds for rate update")
	ErrNonceRetries      = errors.New("nonce still rejected after resend")
)

// submission is the signed-transaction context of one rate update.
type submission struct {
	strategy *model.Strategy
	eoa      common.Address
	block    uint64
	decision Decision
}

// submit builds, signs and broadcasts the rate update. It returns the
// runtime state to persist on success. The nonce is persisted before every
// resend.
func (e *Executor) submit(ctx context.Context, sub submission) (model.StrategyRuntimeState, error) {
	cfg := sub.strategy.Config
	state := sub.strategy.Runtime.Clone()
	key := cfg.Key

	if err := signer.VerifyAddress(ctx, e.signer, cfg.DerivationPath, sub.eoa); err != nil {
		return state, err
	}

	fee := sub.decision.PredictedFee
	if fee == nil {
		var err error
		if fee, err = e.predictFee(ctx, cfg, sub.block, sub.decision.NewRate); err != nil {
			return state, err
		}
	}
	// The fee can move between the prediction and inclusion.
	maxFee := new(big.Int).Mul(fee, big.NewInt(100+e.cfg.UpfrontFeeBufferPct))
	maxFee.Quo(maxFee, big.NewInt(100))

	data, err := contracts.PackSetNewRate(sub.decision.NewRate, maxFee)
	if err != nil {
		return state, fmt.Errorf("%w: %w", retry.ErrArithmetic, err)
	}
	to := cfg.Contracts.BatchManager

	tip, err := e.chain.MaxPriorityFeePerGas(ctx)
	if err != nil {
		return state, fmt.Errorf("priority fee: %w", err)
	}
	baseFee, err := e.chain.LatestBaseFee(ctx)
	if err != nil {
		return state, fmt.Errorf("base fee: %w", err)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	gas, err := e.chain.EstimateGas(ctx, sub.eoa, to, data)
	if err != nil {
		return state, fmt.Errorf("estimate gas: %w", err)
	}
	gas = gas * uint64(100+e.cfg.GasHeadroomPct) / 100

	for attempt := 1; attempt <= MaxSendAttempts; attempt++ {
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   e.cfg.ChainID,
			Nonce:     state.Nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Data:      data,
		})
		signed, err := signer.SignTx(ctx, e.signer, tx, e.cfg.ChainID, cfg.DerivationPath)
		if err != nil {
			return state, err
		}
		raw, err := signed.MarshalBinary()
		if err != nil {
			return state, fmt.Errorf("%w: encode transaction: %w", retry.ErrDecoding, err)
		}

		status, err := e.chain.Broadcast(ctx, raw)
		switch status {
		case rpc.SendStatusOK:
			if err != nil {
				return state, err
			}
			e.logger.Info("rate update accepted",
				"strategy", key, "tx", signed.Hash().Hex(), "nonce", state.Nonce, "rate", sub.decision.NewRate)
			state.Nonce++
			state.LatestRate = new(big.Int).Set(sub.decision.NewRate)
			state.LastRateChangeAt = e.now()
			return state, nil

		case rpc.SendStatusNonceTooLow, rpc.SendStatusNonceTooHigh:
			if attempt == MaxSendAttempts {
				return state, fmt.Errorf("%w: %s at nonce %d: %w", retry.ErrProvider, status, state.Nonce, ErrNonceRetries)
			}
			nonce, nerr := e.chain.PendingNonce(ctx, sub.eoa)
			if nerr != nil {
				return state, fmt.Errorf("refetch nonce: %w", nerr)
			}
			e.logger.Warn("nonce rejected, resending",
				"strategy", key, "status", status, "stale_nonce", state.Nonce, "nonce", nonce)
			metrics.PipelineNonceResends.WithLabelValues(strategyLabel(key)).Inc()
			state.Nonce = nonce
			if perr := e.repo.SaveRuntime(ctx, key, state); perr != nil {
				return state, fmt.Errorf("persist nonce: %w", perr)
			}

		case rpc.SendStatusInsufficientFunds:
			return state, fmt.Errorf("%w: %s: %w", retry.ErrProvider, sub.eoa.Hex(), ErrInsufficientFunds)

		default:
			if err == nil {
				err = fmt.Errorf("%w: broadcast status %s", retry.ErrProvider, status)
			}
			return state, err
		}
	}
	return state, fmt.Errorf("%w: %w", retry.ErrProvider, ErrNonceRetries)
}

func (e *Executor) predictFee(ctx context.Context, cfg model.StrategyConfig, block uint64, rate *big.Int) (*big.Int, error) {
	data, err := contracts.PackPredictUpfrontFee(cfg.CollateralIndex, cfg.Contracts.BatchManager, rate)
	if err != nil {
		return nil, fmt.Errorf("predict upfront fee: %w", err)
	}
	out, err := e.chain.CallContract(ctx, cfg.Contracts.HintHelpers, data, block)
	if err != nil {
		return nil, fmt.Errorf("predict upfront fee: %w", err)
	}
	return contracts.UnpackPredictUpfrontFee(out)
}
