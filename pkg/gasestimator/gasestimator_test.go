package gasestimator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/require"
)

type fakeFeeHistory struct {
	fh  *ethclient.FeeHistory
	err error
}

func (f *fakeFeeHistory) FeeHistory(ctx context.Context, blockCount uint64, rewardPercentiles []float64) (*ethclient.FeeHistory, error) {
	return f.fh, f.err
}

func TestEstimateComputesFeesFromHistory(t *testing.T) {
	src := &fakeFeeHistory{fh: &ethclient.FeeHistory{
		BaseFee: []*big.Int{big.NewInt(100), big.NewInt(200)},
		Reward:  [][]*big.Int{{big.NewInt(10)}, {big.NewInt(20)}},
	}}
	e := New(src, 20)
	est, err := e.Estimate(context.Background(), CallKindPlainTransfer)
	require.NoError(t, err)

	require.Equal(t, big.NewInt(250), est.BaseFeePerGas) // 200 * 1.25
	require.Equal(t, big.NewInt(15), est.PriorityFee)    // avg(10,20)
	expectedMax := new(big.Int).Add(new(big.Int).Mul(big.NewInt(250), big.NewInt(2)), big.NewInt(15))
	require.Equal(t, expectedMax, est.MaxFeePerGas)
	require.Equal(t, uint64(25201), est.GasLimit) // 21000 * 1.2 + 1
}

func TestEstimatePriorityFeeFloorsAtMinimum(t *testing.T) {
	src := &fakeFeeHistory{fh: &ethclient.FeeHistory{
		BaseFee: []*big.Int{big.NewInt(100)},
		Reward:  [][]*big.Int{{big.NewInt(1)}},
	}}
	e := New(src, 0)
	est, err := e.Estimate(context.Background(), CallKindPlainTransfer)
	require.NoError(t, err)
	require.Equal(t, DefaultMinPriorityFeeWei, est.PriorityFee)
}

func TestEstimateErrorsOnEmptyBaseFee(t *testing.T) {
	src := &fakeFeeHistory{fh: &ethclient.FeeHistory{}}
	e := New(src, 20)
	_, err := e.Estimate(context.Background(), CallKindPlainTransfer)
	require.Error(t, err)
}

func TestStaleAfterIsOneThirdOfValidity(t *testing.T) {
	require.Equal(t, 5*time.Minute, StaleAfter(15*time.Minute))
}
