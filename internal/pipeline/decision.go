package pipeline

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
	"github.com/shopspring/decimal"
)

// Rates and ratios use 18 decimals: Scale is 100%.
var (
	Scale = big.NewInt(1_000_000_000_000_000_000)
	// RateStep is one basis point.
	RateStep = big.NewInt(100_000_000_000_000)
	// RedemptionRateOffset is the C in 2 * targetMin * r / (r + C).
	RedemptionRateOffset = big.NewInt(5_000_000_000_000_000)

	MinRate = big.NewInt(5_000_000_000_000_000)
	MaxRate = big.NewInt(2_500_000_000_000_000_000)
)

// Tolerances around the target debt before a move is made.
var (
	DefaultToleranceDown = decimal.RequireFromString("0.15")
	DefaultToleranceUp   = decimal.RequireFromString("0.15")
)

// Direction is the outcome of a decision.
type Direction string

const (
	DirectionNone     Direction = "none"
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
)

// MaxRedeemable is this branch's share of redeemable system debt:
// unbacked * systemDebt / totalUnbacked.
func MaxRedeemable(unbacked, systemDebt, totalUnbacked *big.Int) (*big.Int, error) {
	if totalUnbacked == nil || totalUnbacked.Sign() == 0 {
		return nil, fmt.Errorf("%w: total unbacked is zero", retry.ErrArithmetic)
	}
	out := new(big.Int).Mul(unbacked, systemDebt)
	return out.Quo(out, totalUnbacked), nil
}

// TargetPercentage is 2 * targetMin * redemptionRate / (redemptionRate + C).
func TargetPercentage(targetMin, redemptionRate *big.Int) (*big.Int, error) {
	den := new(big.Int).Add(redemptionRate, RedemptionRateOffset)
	if den.Sign() == 0 {
		return nil, fmt.Errorf("%w: redemption rate denominator is zero", retry.ErrArithmetic)
	}
	out := new(big.Int).Mul(big.NewInt(2), targetMin)
	out.Mul(out, redemptionRate)
	return out.Quo(out, den), nil
}

// TargetDebt is targetPct * maxRedeemable / Scale.
func TargetDebt(targetPct, maxRedeemable *big.Int) *big.Int {
	out := new(big.Int).Mul(targetPct, maxRedeemable)
	return out.Quo(out, Scale)
}

// Scan is the result of walking the ordered buckets once.
type Scan struct {
	// DebtInFront is nil when the strategy's own bucket was not found.
	DebtInFront *big.Int
	Candidate   *big.Int
	// Crossed is false when the target was never exceeded and the
	// candidate fell back to the last scanned rate.
	Crossed bool
}

func (s Scan) OwnFound() bool {
	return s.DebtInFront != nil
}

// ScanBuckets accumulates debt of every bucket other than own, in list
// order, until it exceeds targetDebt. The candidate is the crossing bucket's
// rate plus one step, clamped to [MinRate, MaxRate].
func ScanBuckets(buckets []model.DebtBucket, own common.Address, targetDebt *big.Int) Scan {
	var (
		scan       Scan
		cumulative = new(big.Int)
		lastRate   *big.Int
	)
	for _, b := range buckets {
		if b.IsSentinel() {
			continue
		}
		if b.BatchManager == own {
			if scan.DebtInFront == nil {
				scan.DebtInFront = new(big.Int).Set(cumulative)
			}
			continue
		}
		if b.Debt != nil {
			cumulative.Add(cumulative, b.Debt)
		}
		if b.Rate != nil {
			lastRate = b.Rate
		}
		if !scan.Crossed && cumulative.Cmp(targetDebt) > 0 {
			scan.Crossed = true
			scan.Candidate = stepAbove(lastRate)
		}
	}
	if !scan.Crossed {
		scan.Candidate = stepAbove(lastRate)
	}
	return scan
}

func stepAbove(rate *big.Int) *big.Int {
	if rate == nil {
		return new(big.Int).Set(MinRate)
	}
	return clampRate(new(big.Int).Add(rate, RateStep))
}

func clampRate(r *big.Int) *big.Int {
	switch {
	case r.Cmp(MinRate) < 0:
		return new(big.Int).Set(MinRate)
	case r.Cmp(MaxRate) > 0:
		return new(big.Int).Set(MaxRate)
	default:
		return r
	}
}

// DecisionInput carries everything the rule needs apart from the upfront fee.
type DecisionInput struct {
	TargetDebt    *big.Int
	DebtInFront   *big.Int
	Candidate     *big.Int
	LatestRate    *big.Int
	Elapsed       time.Duration
	FeePeriod     time.Duration
	ToleranceDown decimal.Decimal
	ToleranceUp   decimal.Decimal
}

// Decision is what the pipeline acts on and what it journals.
type Decision struct {
	Direction    Direction
	NewRate      *big.Int
	PredictedFee *big.Int
	Reason       string
}

// FeeFunc predicts the upfront fee of moving to the candidate rate.
type FeeFunc func() (*big.Int, error)

// Decide applies the increase/decrease rule. The fee is only fetched once the
// decrease threshold is exceeded.
func Decide(in DecisionInput, fee FeeFunc) (Decision, error) {
	if in.FeePeriod <= 0 {
		return Decision{}, fmt.Errorf("%w: upfront fee period must be positive", retry.ErrArithmetic)
	}
	target := decimal.NewFromBigInt(in.TargetDebt, 0)
	inFront := decimal.NewFromBigInt(in.DebtInFront, 0)
	latest := latestOrZero(in.LatestRate)

	lower := target.Mul(decimal.NewFromInt(1).Sub(in.ToleranceDown))
	upper := target.Mul(decimal.NewFromInt(1).Add(in.ToleranceUp))

	switch {
	case inFront.LessThan(lower):
		return noOpIfUnchanged(Decision{
			Direction: DirectionIncrease,
			NewRate:   in.Candidate,
			Reason:    fmt.Sprintf("debt in front %s below %s", inFront, lower.StringFixed(0)),
		}, latest), nil

	case inFront.GreaterThan(upper):
		predicted, err := fee()
		if err != nil {
			return Decision{}, fmt.Errorf("predict upfront fee: %w", err)
		}
		if in.Elapsed > in.FeePeriod {
			return noOpIfUnchanged(Decision{
				Direction:    DirectionDecrease,
				NewRate:      in.Candidate,
				PredictedFee: predicted,
				Reason:       fmt.Sprintf("debt in front %s above %s, fee period elapsed", inFront, upper.StringFixed(0)),
			}, latest), nil
		}
		remaining := decimal.NewFromInt(1).Sub(
			decimal.NewFromInt(int64(in.Elapsed)).Div(decimal.NewFromInt(int64(in.FeePeriod))))
		saving := remaining.Mul(decimal.NewFromBigInt(new(big.Int).Sub(latest, in.Candidate), 0))
		if saving.GreaterThan(decimal.NewFromBigInt(predicted, 0)) {
			return noOpIfUnchanged(Decision{
				Direction:    DirectionDecrease,
				NewRate:      in.Candidate,
				PredictedFee: predicted,
				Reason:       fmt.Sprintf("debt in front %s above %s, saving %s exceeds fee %s", inFront, upper.StringFixed(0), saving.StringFixed(0), predicted),
			}, latest), nil
		}
		return Decision{
			Direction:    DirectionNone,
			PredictedFee: predicted,
			Reason:       fmt.Sprintf("saving %s does not cover fee %s", saving.StringFixed(0), predicted),
		}, nil
	}
	return Decision{
		Direction: DirectionNone,
		Reason:    fmt.Sprintf("debt in front %s within [%s, %s]", inFront, lower.StringFixed(0), upper.StringFixed(0)),
	}, nil
}

func noOpIfUnchanged(d Decision, latest *big.Int) Decision {
	if d.NewRate != nil && d.NewRate.Cmp(latest) == 0 {
		return Decision{
			Direction:    DirectionNone,
			PredictedFee: d.PredictedFee,
			Reason:       fmt.Sprintf("candidate equals current rate %s", latest),
		}
	}
	return d
}

func latestOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
