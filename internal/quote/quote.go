// Package quote implements the quote engine (C5): validates a requested
// bridge transfer, prices it against the current gas estimate and price
// feed, locks reserve headroom, and persists a time-bounded Quote.
package quote

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/ChoSanghyuk/gaslessbridge/internal/reserve"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/gasestimator"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/pricefeed"
	"github.com/ethereum/go-ethereum/common"
)

// Store is the persistence seam the engine needs, satisfied by internal/db.Store.
type Store interface {
	SaveQuote(actor string, q *gaslessbridge.Quote) error
	GetQuote(id string) (*gaslessbridge.Quote, error)
	QuotesByUser(userAddress string) ([]*gaslessbridge.Quote, error)
	ActiveQuotesPastExpiry(now time.Time) ([]*gaslessbridge.Quote, error)
}

// Engine is the quote engine (C5).
type Engine struct {
	store     Store
	reserves  *reserve.Manager
	prices    *pricefeed.Feed
	gas       map[int64]*gasestimator.Estimator // per destination chain
	cfgMu     sync.RWMutex
	cfg       gaslessbridge.BridgeConfig
	nativeAsset map[int64]string // native gas asset per chain, e.g. "ETH"

	userLocksMu sync.Mutex
	userLocks   map[string]*sync.Mutex
}

// New builds a quote Engine. gasEstimators and nativeAsset are keyed by
// destination chain id.
func New(store Store, reserves *reserve.Manager, prices *pricefeed.Feed, gasEstimators map[int64]*gasestimator.Estimator, nativeAsset map[int64]string, cfg gaslessbridge.BridgeConfig) *Engine {
	return &Engine{
		store:       store,
		reserves:    reserves,
		prices:      prices,
		gas:         gasEstimators,
		cfg:         cfg,
		nativeAsset: nativeAsset,
		userLocks:   make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(user string) *sync.Mutex {
	e.userLocksMu.Lock()
	defer e.userLocksMu.Unlock()
	l, ok := e.userLocks[user]
	if !ok {
		l = &sync.Mutex{}
		e.userLocks[user] = l
	}
	return l
}

func (e *Engine) supportedChain(cfg gaslessbridge.BridgeConfig, chainID int64) *gaslessbridge.ChainConfig {
	for i := range cfg.SupportedChains {
		if cfg.SupportedChains[i].ChainID == chainID {
			return &cfg.SupportedChains[i]
		}
	}
	return nil
}

// Config returns the live bridge configuration this engine prices quotes
// against.
func (e *Engine) Config() gaslessbridge.BridgeConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// UpdateConfig replaces the bridge configuration this engine prices
// against, applied by the update_config admin operation.
func (e *Engine) UpdateConfig(cfg gaslessbridge.BridgeConfig) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.cfg = cfg
}

// RequestQuote implements spec.md §4.5's request_quote: validate, price,
// lock reserve, persist. Same-user requests are serialized by a per-user
// mutex so two concurrent requests from one caller never race on reserve
// headroom checks.
func (e *Engine) RequestQuote(ctx context.Context, user string, amountOut *big.Int, destAddr string, destChainID int64, sourceAsset string, sourceChainID int64) (*gaslessbridge.Quote, error) {
	lock := e.lockFor(user)
	lock.Lock()
	defer lock.Unlock()

	if err := e.SweepExpired(); err != nil {
		return nil, err
	}

	cfg := e.Config()

	if !common.IsHexAddress(destAddr) {
		return nil, gaslessbridge.ValidationError("invalid destination address %q", destAddr)
	}
	chain := e.supportedChain(cfg, destChainID)
	if chain == nil {
		return nil, gaslessbridge.ValidationError("destination chain %d is not supported", destChainID)
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, gaslessbridge.ValidationError("amount_out must be positive")
	}

	destAsset := e.nativeAsset[destChainID]

	// A stale last-good sample means no source has produced a fresh price
	// within maxSampleAge, which spec.md scenario F treats the same as no
	// sample at all: PriceError.Unavailable, not a merely-stale quote.
	destSample, destStale, err := e.prices.GetPrice(ctx, destAsset)
	if err != nil {
		return nil, err
	}
	if destStale {
		return nil, gaslessbridge.PriceUnavailableError("no fresh price sample for %s", destAsset)
	}
	sourceSample, sourceStale, err := e.prices.GetPrice(ctx, sourceAsset)
	if err != nil {
		return nil, err
	}
	if sourceStale {
		return nil, gaslessbridge.PriceUnavailableError("no fresh price sample for %s", sourceAsset)
	}

	estimator, ok := e.gas[destChainID]
	if !ok {
		return nil, gaslessbridge.ConfigError("no gas estimator configured for chain %d", destChainID)
	}
	estimate, err := estimator.Estimate(ctx, 0)
	if err != nil {
		return nil, err
	}

	gasBudget := new(big.Int).Mul(estimate.MaxFeePerGas, new(big.Int).SetUint64(estimate.GasLimit))
	lockAmount := new(big.Int).Add(amountOut, gasBudget)

	amountWithGasUSD := new(big.Float).Mul(
		new(big.Float).SetInt(lockAmount),
		big.NewFloat(destSample.PriceUSD),
	)
	usdPerSourceUnit := big.NewFloat(sourceSample.PriceUSD)
	totalCostFloat := new(big.Float).Quo(amountWithGasUSD, usdPerSourceUnit)
	margin := big.NewFloat(1 + cfg.GasSafetyMarginPct/100)
	totalCostFloat.Mul(totalCostFloat, margin)
	totalCostSource, _ := totalCostFloat.Int(nil)
	totalCostSource.Add(totalCostSource, big.NewInt(1)) // ceiling

	// lockAmount is in wei (18 decimals); the bounds are in whole USD.
	amountWithGasWholeUSD := new(big.Float).Quo(amountWithGasUSD, big.NewFloat(1e18))
	minUSD := big.NewFloat(cfg.MinQuoteAmountUSD)
	maxUSD := big.NewFloat(cfg.MaxQuoteAmountUSD)
	if amountWithGasWholeUSD.Cmp(minUSD) < 0 || amountWithGasWholeUSD.Cmp(maxUSD) > 0 {
		return nil, gaslessbridge.ValidationError("requested amount is outside configured quote bounds")
	}

	if err := e.reserves.Lock(destChainID, destAsset, lockAmount); err != nil {
		return nil, err
	}

	now := time.Now()
	exchangeRate := sourceSample.PriceUSD / destSample.PriceUSD
	q := &gaslessbridge.Quote{
		ID:              gaslessbridge.NewID(),
		UserAddress:     user,
		SourceChainID:   sourceChainID,
		DestChainID:     destChainID,
		SourceAsset:     sourceAsset,
		DestAsset:       destAsset,
		SourceAmount:    totalCostSource,
		DestAmount:      amountOut,
		ExchangeRate:    exchangeRate,
		EstimatedGasFee: gasBudget,
		Status:          gaslessbridge.QuoteStatusActive,
		CreatedAt:       now,
		ExpiresAt:       now.Add(time.Duration(cfg.QuoteValidityMins) * time.Minute),
	}

	if err := e.store.SaveQuote(user, q); err != nil {
		e.reserves.Unlock(destChainID, destAsset, lockAmount)
		return nil, err
	}
	return q, nil
}

// CheckExpiry implements spec.md §4.5's check_expiry: if id is Active and
// past expiry, mark Expired and release its reserve lock.
func (e *Engine) CheckExpiry(id string) (*gaslessbridge.Quote, error) {
	q, err := e.store.GetQuote(id)
	if err != nil {
		return nil, err
	}
	if q.Status == gaslessbridge.QuoteStatusActive && q.IsExpired(time.Now()) {
		e.expireQuote(q)
	}
	return q, nil
}

func (e *Engine) expireQuote(q *gaslessbridge.Quote) {
	lockAmount := new(big.Int).Add(q.DestAmount, q.EstimatedGasFee)
	e.reserves.Unlock(q.DestChainID, q.DestAsset, lockAmount)
	q.Status = gaslessbridge.QuoteStatusExpired
	e.store.SaveQuote("system", q)
}

// SweepExpired opportunistically expires every Active quote past its
// expiry. RequestQuote calls it first, and internal/api runs it before
// every request.
func (e *Engine) SweepExpired() error {
	now := time.Now()
	stale, err := e.store.ActiveQuotesPastExpiry(now)
	if err != nil {
		return err
	}
	for _, q := range stale {
		e.expireQuote(q)
	}
	return nil
}

// Get returns a quote by id.
func (e *Engine) Get(id string) (*gaslessbridge.Quote, error) {
	return e.store.GetQuote(id)
}

// ByUser returns every quote a user has requested.
func (e *Engine) ByUser(userAddress string) ([]*gaslessbridge.Quote, error) {
	return e.store.QuotesByUser(userAddress)
}

// MarkConsumed transitions a quote to Consumed once a Settlement has been
// created for it (called by the settlement engine, never directly by a
// caller).
func (e *Engine) MarkConsumed(q *gaslessbridge.Quote) error {
	q.Status = gaslessbridge.QuoteStatusConsumed
	return e.store.SaveQuote("system", q)
}
