// Package contracts encodes calls to, and decodes results from, the Liquity
// v2 contracts a strategy talks to.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
)

const agentABI = `[
  {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getUnbackedPortionPriceAndRedeemability","stateMutability":"nonpayable","inputs":[],
   "outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"},{"name":"","type":"bool"}]},
  {"type":"function","name":"getRedemptionRateWithDecay","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getDebtPerInterestRateAscending","stateMutability":"view",
   "inputs":[{"name":"_collIndex","type":"uint256"},{"name":"_startId","type":"uint256"},{"name":"_maxIterations","type":"uint256"}],
   "outputs":[
     {"name":"data","type":"tuple[]","components":[
       {"name":"interestBatchManager","type":"address"},
       {"name":"interestRate","type":"uint256"},
       {"name":"debt","type":"uint256"}]},
     {"name":"currId","type":"uint256"}]},
  {"type":"function","name":"predictAdjustBatchInterestRateUpfrontFee","stateMutability":"view",
   "inputs":[{"name":"_collIndex","type":"uint256"},{"name":"_batchAddress","type":"address"},{"name":"_newInterestRate","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"setNewRate","stateMutability":"nonpayable",
   "inputs":[{"name":"_newAnnualInterestRate","type":"uint128"},{"name":"_upperHint","type":"uint256"},{"name":"_lowerHint","type":"uint256"},{"name":"_maxUpfrontFee","type":"uint256"}],
   "outputs":[]}
]`

var parsed abi.ABI

func init() {
	var err error
	parsed, err = abi.JSON(strings.NewReader(agentABI))
	if err != nil {
		panic(fmt.Sprintf("parse contract ABI: %v", err))
	}
}

type debtPerInterestRate struct {
	InterestBatchManager common.Address
	InterestRate         *big.Int
	Debt                 *big.Int
}

func pack(method string, args ...interface{}) ([]byte, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}

func unpack(method string, data []byte, want int) ([]interface{}, error) {
	out, err := parsed.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %w", retry.ErrDecoding, method, err)
	}
	if len(out) != want {
		return nil, fmt.Errorf("%w: %s returned %d values, want %d", retry.ErrMissingValue, method, len(out), want)
	}
	return out, nil
}

func bigOut(method string, v interface{}) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return nil, fmt.Errorf("%w: %s: unexpected %T", retry.ErrDecoding, method, v)
	}
	return n, nil
}

// TotalSupply is called on the BOLD token; its supply is the system debt.
func PackTotalSupply() []byte {
	data, _ := pack("totalSupply")
	return data
}

func UnpackTotalSupply(data []byte) (*big.Int, error) {
	out, err := unpack("totalSupply", data, 1)
	if err != nil {
		return nil, err
	}
	return bigOut("totalSupply", out[0])
}

func PackUnbackedPortion() []byte {
	data, _ := pack("getUnbackedPortionPriceAndRedeemability")
	return data
}

// UnpackUnbackedPortion returns the branch's unbacked portion and whether the
// branch can currently be redeemed against. The price is dropped.
func UnpackUnbackedPortion(data []byte) (*big.Int, bool, error) {
	const method = "getUnbackedPortionPriceAndRedeemability"
	out, err := unpack(method, data, 3)
	if err != nil {
		return nil, false, err
	}
	unbacked, err := bigOut(method, out[0])
	if err != nil {
		return nil, false, err
	}
	redeemable, ok := out[2].(bool)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s: unexpected %T", retry.ErrDecoding, method, out[2])
	}
	return unbacked, redeemable, nil
}

func PackRedemptionRate() []byte {
	data, _ := pack("getRedemptionRateWithDecay")
	return data
}

func UnpackRedemptionRate(data []byte) (*big.Int, error) {
	out, err := unpack("getRedemptionRateWithDecay", data, 1)
	if err != nil {
		return nil, err
	}
	return bigOut("getRedemptionRateWithDecay", out[0])
}

func PackDebtPerInterestRateAscending(collIndex uint64, startID *big.Int, maxIterations uint64) ([]byte, error) {
	return pack("getDebtPerInterestRateAscending",
		new(big.Int).SetUint64(collIndex), startID, new(big.Int).SetUint64(maxIterations))
}

// UnpackDebtPerInterestRateAscending returns one page of buckets and the
// trove id to continue from (zero when the list is exhausted).
func UnpackDebtPerInterestRateAscending(data []byte) ([]model.DebtBucket, *big.Int, error) {
	const method = "getDebtPerInterestRateAscending"
	out, err := unpack(method, data, 2)
	if err != nil {
		return nil, nil, err
	}
	var rows []debtPerInterestRate
	if err := convert(out[0], &rows); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", retry.ErrDecoding, method, err)
	}
	next, err := bigOut(method, out[1])
	if err != nil {
		return nil, nil, err
	}
	buckets := make([]model.DebtBucket, 0, len(rows))
	for _, row := range rows {
		buckets = append(buckets, model.DebtBucket{
			BatchManager: row.InterestBatchManager,
			Rate:         nonNil(row.InterestRate),
			Debt:         nonNil(row.Debt),
		})
	}
	return buckets, next, nil
}

func PackPredictUpfrontFee(collIndex uint64, batch common.Address, newRate *big.Int) ([]byte, error) {
	return pack("predictAdjustBatchInterestRateUpfrontFee", new(big.Int).SetUint64(collIndex), batch, newRate)
}

func UnpackPredictUpfrontFee(data []byte) (*big.Int, error) {
	out, err := unpack("predictAdjustBatchInterestRateUpfrontFee", data, 1)
	if err != nil {
		return nil, err
	}
	return bigOut("predictAdjustBatchInterestRateUpfrontFee", out[0])
}

// PackSetNewRate encodes the batch manager's rate update. Hints are left at
// zero, which makes the contract search the sorted list itself.
func PackSetNewRate(newRate, maxUpfrontFee *big.Int) ([]byte, error) {
	return pack("setNewRate", newRate, big.NewInt(0), big.NewInt(0), maxUpfrontFee)
}

// convert copies a go-ethereum decoded value into dst by field name.
func convert(src interface{}, dst *[]debtPerInterestRate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("convert %T: %v", src, r)
		}
	}()
	converted, ok := abi.ConvertType(src, dst).(*[]debtPerInterestRate)
	if !ok {
		return fmt.Errorf("convert %T", src)
	}
	*dst = *converted
	return nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
