// Package gasestimator computes EIP-1559 fee parameters from recent fee
// history, with a configurable safety margin and a small per-call-shape gas
// limit table.
package gasestimator

import (
	"context"
	"math/big"
	"time"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/ethereum/go-ethereum/ethclient"
)

// DefaultMinPriorityFeeWei is the floor applied to the computed priority
// fee so low-congestion windows never quote an unrealistically thin tip.
var DefaultMinPriorityFeeWei = big.NewInt(1_000_000_000) // 1 gwei

// CallKind selects the gas-limit table entry for the transaction shape
// being estimated. The bridge today only ever settles plain native-asset
// transfers, but the table is kept open for calldata-carrying settlement
// paths so the estimator isn't hard-coded to one shape.
type CallKind int

const (
	CallKindPlainTransfer CallKind = iota
	CallKindContractCall
)

var gasLimits = map[CallKind]uint64{
	CallKindPlainTransfer: 21000,
	CallKindContractCall:  120000,
}

// FeeHistorySource is the subset of rpcclient.Client the estimator needs.
type FeeHistorySource interface {
	FeeHistory(ctx context.Context, blockCount uint64, rewardPercentiles []float64) (*ethclient.FeeHistory, error)
}

// Estimate is a computed EIP-1559 fee quote.
type Estimate struct {
	BaseFeePerGas  *big.Int
	PriorityFee    *big.Int
	MaxFeePerGas   *big.Int
	GasLimit       uint64
	TotalWei       *big.Int // MaxFeePerGas * GasLimit, the worst-case sponsorship cost
	ComputedAt     time.Time
}

// Estimator computes EIP-1559 fee parameters for a chain's RPC source.
type Estimator struct {
	rpc               FeeHistorySource
	safetyMarginPct   float64
}

// New builds an Estimator over rpc, applying safetyMarginPct (e.g. 20 for
// +20%) to the computed gas budget.
func New(rpc FeeHistorySource, safetyMarginPct float64) *Estimator {
	return &Estimator{rpc: rpc, safetyMarginPct: safetyMarginPct}
}

// Estimate queries FeeHistory(20) and derives base fee, priority fee and
// max fee per spec.md's formulas, applying the estimator's safety margin to
// the resulting gas budget.
func (e *Estimator) Estimate(ctx context.Context, kind CallKind) (Estimate, error) {
	fh, err := e.rpc.FeeHistory(ctx, 20, []float64{60})
	if err != nil {
		return Estimate{}, err
	}
	if len(fh.BaseFee) == 0 {
		return Estimate{}, gaslessbridge.RPCBadResponseError("fee history returned no base fee entries")
	}

	latestBaseFee := fh.BaseFee[len(fh.BaseFee)-1]
	baseFee := new(big.Int).Mul(latestBaseFee, big.NewInt(5))
	baseFee.Div(baseFee, big.NewInt(4)) // *1.25

	priorityFee := new(big.Int).Set(DefaultMinPriorityFeeWei)
	if len(fh.Reward) > 0 {
		sum := new(big.Int)
		count := 0
		for _, block := range fh.Reward {
			if len(block) == 0 {
				continue
			}
			sum.Add(sum, block[0])
			count++
		}
		if count > 0 {
			avg := new(big.Int).Div(sum, big.NewInt(int64(count)))
			if avg.Cmp(priorityFee) > 0 {
				priorityFee = avg
			}
		}
	}

	maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFee.Add(maxFee, priorityFee)

	gasLimit := gasLimits[kind]
	budgeted := applyMargin(gasLimit, e.safetyMarginPct)

	total := new(big.Int).Mul(maxFee, new(big.Int).SetUint64(budgeted))

	return Estimate{
		BaseFeePerGas: baseFee,
		PriorityFee:   priorityFee,
		MaxFeePerGas:  maxFee,
		GasLimit:      budgeted,
		TotalWei:      total,
		ComputedAt:    time.Now(),
	}, nil
}

func applyMargin(gasLimit uint64, marginPct float64) uint64 {
	if marginPct <= 0 {
		return gasLimit
	}
	margined := float64(gasLimit) * (1 + marginPct/100)
	return uint64(margined) + 1
}

// StaleAfter reports the duration after which a cached Estimate should be
// recomputed, per spec.md §4.3: one third of the quote validity window.
func StaleAfter(quoteValidity time.Duration) time.Duration {
	return quoteValidity / 3
}
