package pipeline

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/liquity/bold-ir-management-sub000/internal/chain/rpc"
	"github.com/liquity/bold-ir-management-sub000/internal/requester"
)

//go:generate mockgen -destination=mocks/mock_chain.go -package=mocks . Chain

// Chain is every ledger interaction the pipeline performs. The requester
// satisfies it.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, to common.Address, data []byte, blockNumber uint64) ([]byte, error)
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	MaxPriorityFeePerGas(ctx context.Context) (*big.Int, error)
	LatestBaseFee(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, from, to common.Address, data []byte) (uint64, error)
	Broadcast(ctx context.Context, rawTx []byte) (rpc.SendStatus, error)
}

var _ Chain = (*requester.Requester)(nil)
