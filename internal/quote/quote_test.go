package quote

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/ChoSanghyuk/gaslessbridge/internal/reserve"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/gasestimator"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/pricefeed"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	quotes map[string]*gaslessbridge.Quote
}

func newMemStore() *memStore { return &memStore{quotes: map[string]*gaslessbridge.Quote{}} }

func (m *memStore) SaveQuote(actor string, q *gaslessbridge.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *q
	m.quotes[q.ID] = &cp
	return nil
}

func (m *memStore) GetQuote(id string) (*gaslessbridge.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok {
		return nil, gaslessbridge.QuoteNotFoundError(id)
	}
	cp := *q
	return &cp, nil
}

func (m *memStore) QuotesByUser(user string) ([]*gaslessbridge.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*gaslessbridge.Quote
	for _, q := range m.quotes {
		if q.UserAddress == user {
			cp := *q
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ActiveQuotesPastExpiry(now time.Time) ([]*gaslessbridge.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*gaslessbridge.Quote
	for _, q := range m.quotes {
		if q.Status == gaslessbridge.QuoteStatusActive && now.After(q.ExpiresAt) {
			cp := *q
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeFeeHistory struct{}

func (fakeFeeHistory) FeeHistory(ctx context.Context, blockCount uint64, rewardPercentiles []float64) (*ethclient.FeeHistory, error) {
	return &ethclient.FeeHistory{
		BaseFee: []*big.Int{big.NewInt(30_000_000_000)},
		Reward:  [][]*big.Int{{big.NewInt(1_000_000_000)}},
	}, nil
}

type fakePriceSource struct {
	asset string
	usd   float64
}

func (f fakePriceSource) Name() string { return f.asset }
func (f fakePriceSource) FetchPrice(ctx context.Context, asset string) (gaslessbridge.PriceSample, error) {
	if asset != f.asset {
		return gaslessbridge.PriceSample{}, gaslessbridge.PriceUnavailableError("%s does not quote %s", f.asset, asset)
	}
	return gaslessbridge.PriceSample{Asset: asset, PriceUSD: f.usd, Source: f.asset, Confidence: 1, FetchedAt: time.Now()}, nil
}

func testEngine(t *testing.T) (*Engine, *reserve.Manager) {
	t.Helper()
	store := newMemStore()
	reserves := reserve.New()
	reserves.Topup(84532, "ETH", big.NewInt(0).Mul(big.NewInt(10), big.NewInt(1e18)))

	prices := pricefeed.New([]pricefeed.Source{
		fakePriceSource{asset: "ETH", usd: 3000},
		fakePriceSource{asset: "USDC", usd: 1},
	}, nil)

	gasEst := map[int64]*gasestimator.Estimator{
		84532: gasestimator.New(fakeFeeHistory{}, 0),
	}
	cfg := gaslessbridge.BridgeConfig{
		MinQuoteAmountUSD:  1,
		MaxQuoteAmountUSD:  1_000_000,
		QuoteValidityMins:  15,
		GasSafetyMarginPct: 20,
		SupportedChains: []gaslessbridge.ChainConfig{
			{ChainID: 84532, Name: "Base Sepolia"},
		},
	}
	nativeAsset := map[int64]string{84532: "ETH"}

	e := New(store, reserves, prices, gasEst, nativeAsset, cfg)
	return e, reserves
}

func TestRequestQuoteLocksReserveAndPersistsActiveQuote(t *testing.T) {
	e, reserves := testEngine(t)
	amountOut := new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18))

	q, err := e.RequestQuote(context.Background(), "0xuser", amountOut, "0x000000000000000000000000000000000000aa", 84532, "USDC", 1)
	require.NoError(t, err)
	require.Equal(t, gaslessbridge.QuoteStatusActive, q.Status)

	st := reserves.Status(84532, "ETH")
	require.True(t, st.Locked.Sign() > 0)
}

func TestRequestQuoteRejectsInvalidAddress(t *testing.T) {
	e, _ := testEngine(t)
	_, err := e.RequestQuote(context.Background(), "0xuser", big.NewInt(1), "not-an-address", 84532, "USDC", 1)
	require.Error(t, err)
}

func TestRequestQuoteRejectsUnsupportedChain(t *testing.T) {
	e, _ := testEngine(t)
	_, err := e.RequestQuote(context.Background(), "0xuser", big.NewInt(1), "0x000000000000000000000000000000000000aa", 999, "USDC", 1)
	require.Error(t, err)
}

func TestRequestQuoteFailsWhenReserveInsufficient(t *testing.T) {
	e, reserves := testEngine(t)
	_ = reserves
	// 20 ETH (~60,000 USD) is inside the USD bounds but above the 10 ETH reserve.
	huge := new(big.Int).Mul(big.NewInt(20), big.NewInt(1e18))
	_, err := e.RequestQuote(context.Background(), "0xuser", huge, "0x000000000000000000000000000000000000aa", 84532, "USDC", 1)
	require.Error(t, err)
	var be *gaslessbridge.BridgeError
	require.ErrorAs(t, err, &be)
	require.Equal(t, gaslessbridge.ReasonInsufficient, be.Reason)
}

func TestUpdateConfigRejectsAmountOutsidePreviouslyValidBounds(t *testing.T) {
	e, _ := testEngine(t)
	e.UpdateConfig(gaslessbridge.BridgeConfig{
		MinQuoteAmountUSD: 1, MaxQuoteAmountUSD: 100, QuoteValidityMins: 15, GasSafetyMarginPct: 20,
		SupportedChains: []gaslessbridge.ChainConfig{{ChainID: 84532, Name: "Base Sepolia"}},
	})

	amountOut := new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18)) // ~3000 USD at the test feed's price
	_, err := e.RequestQuote(context.Background(), "0xuser", amountOut, "0x000000000000000000000000000000000000aa", 84532, "USDC", 1)
	require.Error(t, err)
}

func TestCheckExpiryReleasesReserveLock(t *testing.T) {
	e, reserves := testEngine(t)
	amountOut := new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18))

	q, err := e.RequestQuote(context.Background(), "0xuser", amountOut, "0x000000000000000000000000000000000000aa", 84532, "USDC", 1)
	require.NoError(t, err)

	stored, _ := e.store.GetQuote(q.ID)
	stored.ExpiresAt = time.Now().Add(-time.Hour)
	e.store.SaveQuote("system", stored)

	got, err := e.CheckExpiry(q.ID)
	require.NoError(t, err)
	require.Equal(t, gaslessbridge.QuoteStatusExpired, got.Status)

	before := reserves.Status(84532, "ETH").Locked
	require.Equal(t, 0, before.Sign())
}
