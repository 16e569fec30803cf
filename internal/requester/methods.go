package requester

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/liquity/bold-ir-management-sub000/internal/chain/rpc"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
)

// CallContract performs eth_call against the consensus set at the given block
// and returns the decoded return data.
func (r *Requester) CallContract(ctx context.Context, to common.Address, data []byte, blockNumber uint64) ([]byte, error) {
	args := rpc.CallArgs{To: to.Hex(), Data: encodeHex(data)}
	result, err := r.Consensus(ctx, rpc.NewRequest("eth_call", args, rpc.FormatHexUint64(blockNumber)))
	if err != nil {
		return nil, err
	}
	s, err := rpc.DecodeHexString(result)
	if err != nil {
		return nil, fmt.Errorf("eth_call %s: %w: %w", to.Hex(), retry.ErrDecoding, err)
	}
	out, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("eth_call %s: %w: %w", to.Hex(), retry.ErrDecoding, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("eth_call %s: %w: empty return data", to.Hex(), retry.ErrMissingValue)
	}
	return out, nil
}

func (r *Requester) BlockNumber(ctx context.Context) (uint64, error) {
	result, err := r.Request(ctx, rpc.NewRequest("eth_blockNumber"))
	if err != nil {
		return 0, err
	}
	return decodeUint64("eth_blockNumber", result)
}

// PendingNonce returns the account's transaction count including pending
// transactions.
func (r *Requester) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	result, err := r.Request(ctx, rpc.NewRequest("eth_getTransactionCount", account.Hex(), "pending"))
	if err != nil {
		return 0, err
	}
	return decodeUint64("eth_getTransactionCount", result)
}

func (r *Requester) MaxPriorityFeePerGas(ctx context.Context) (*big.Int, error) {
	result, err := r.Request(ctx, rpc.NewRequest("eth_maxPriorityFeePerGas"))
	if err != nil {
		return nil, err
	}
	return decodeBig("eth_maxPriorityFeePerGas", result)
}

// LatestBaseFee returns the base fee of the latest block.
func (r *Requester) LatestBaseFee(ctx context.Context) (*big.Int, error) {
	result, err := r.Request(ctx, rpc.NewRequest("eth_getBlockByNumber", "latest", false))
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, fmt.Errorf("eth_getBlockByNumber: %w: latest block", retry.ErrMissingValue)
	}
	var block rpc.Block
	if err := json.Unmarshal(result, &block); err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber: %w: %w", retry.ErrDecoding, err)
	}
	if block.BaseFeePerGas == "" {
		return nil, fmt.Errorf("eth_getBlockByNumber: %w: baseFeePerGas", retry.ErrMissingValue)
	}
	fee, err := rpc.ParseHexBig(block.BaseFeePerGas)
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber: %w: %w", retry.ErrDecoding, err)
	}
	return fee, nil
}

func (r *Requester) EstimateGas(ctx context.Context, from, to common.Address, data []byte) (uint64, error) {
	args := rpc.CallArgs{From: from.Hex(), To: to.Hex(), Data: encodeHex(data)}
	result, err := r.Request(ctx, rpc.NewRequest("eth_estimateGas", args))
	if err != nil {
		return 0, err
	}
	return decodeUint64("eth_estimateGas", result)
}

func decodeUint64(method string, result json.RawMessage) (uint64, error) {
	s, err := rpc.DecodeHexString(result)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", method, retry.ErrDecoding, err)
	}
	v, err := rpc.ParseHexUint64(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", method, retry.ErrDecoding, err)
	}
	return v, nil
}

func decodeBig(method string, result json.RawMessage) (*big.Int, error) {
	s, err := rpc.DecodeHexString(result)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", method, retry.ErrDecoding, err)
	}
	v, err := rpc.ParseHexBig(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", method, retry.ErrDecoding, err)
	}
	return v, nil
}

func encodeHex(b []byte) string {
	return hexutil.Encode(b)
}
