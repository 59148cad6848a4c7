// Package rpcclient wraps one or more EVM JSON-RPC endpoints per chain
// behind a single failover-aware client, with a read-through cache for the
// methods spec.md names as cacheable.
package rpcclient

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/cache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	defaultCooldownBase = time.Second
	defaultCooldownCap  = 2 * time.Minute

	feeHistoryTTL = 15 * time.Second
	nonceTTL      = 2 * time.Second
)

// endpoint wraps one dialed *ethclient.Client with health bookkeeping.
type endpoint struct {
	url          string
	priority     int
	client       *ethclient.Client
	mu           sync.Mutex
	healthy      bool
	failureCount int
	cooldownUntil time.Time
	lastLatency  time.Duration
}

// Client multiplexes calls across the endpoints configured for one chain,
// failing over to the next healthy endpoint and classifying every error
// into the gaslessbridge RPC error taxonomy.
type Client struct {
	chainID   int64
	endpoints []*endpoint
	cache     *cache.Cache

	hits   atomic.Int64
	misses atomic.Int64

	mu              sync.Mutex
	highestBlockSeen uint64
}

// Dial connects to every url for chainID, returning a Client that sends each
// call to the best-ranked endpoint and fails over to the next on error, with
// earlier urls ranked higher. At least one successful dial is
// required; the rest may fail and are marked down rather than aborting
// startup, so a transient outage on one provider doesn't block boot.
func Dial(ctx context.Context, chainID int64, urls []string, c *cache.Cache) (*Client, error) {
	if len(urls) == 0 {
		return nil, gaslessbridge.ConfigError("no rpc endpoints configured for chain %d", chainID)
	}
	cl := &Client{chainID: chainID, cache: c}
	var lastErr error
	for i, u := range urls {
		ec, err := ethclient.DialContext(ctx, u)
		if err != nil {
			lastErr = err
			cl.endpoints = append(cl.endpoints, &endpoint{url: u, priority: len(urls) - i, healthy: false})
			continue
		}
		cl.endpoints = append(cl.endpoints, &endpoint{url: u, priority: len(urls) - i, client: ec, healthy: true})
	}
	if !cl.anyHealthy() {
		return nil, gaslessbridge.RPCAllEndpointsDownError("all endpoints for chain %d failed to dial: %v", chainID, lastErr)
	}
	return cl, nil
}

func (c *Client) anyHealthy() bool {
	for _, e := range c.endpoints {
		if e.healthy {
			return true
		}
	}
	return false
}

// pick returns endpoints ordered by (healthy && past cooldown) first, then
// priority descending, then lowest observed latency.
func (c *Client) pick() []*endpoint {
	now := time.Now()
	ranked := make([]*endpoint, len(c.endpoints))
	copy(ranked, c.endpoints)
	sort.SliceStable(ranked, func(i, j int) bool {
		ei, ej := ranked[i], ranked[j]
		availI := ei.healthy && now.After(ei.cooldownUntil)
		availJ := ej.healthy && now.After(ej.cooldownUntil)
		if availI != availJ {
			return availI
		}
		if ei.priority != ej.priority {
			return ei.priority > ej.priority
		}
		return ei.lastLatency < ej.lastLatency
	})
	return ranked
}

func (e *endpoint) recordSuccess(latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = true
	e.failureCount = 0
	e.cooldownUntil = time.Time{}
	e.lastLatency = latency
}

func (e *endpoint) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failureCount++
	backoff := defaultCooldownBase * time.Duration(1<<uint(e.failureCount))
	if backoff > defaultCooldownCap {
		backoff = defaultCooldownCap
	}
	e.cooldownUntil = time.Now().Add(backoff)
	if e.failureCount >= 5 {
		e.healthy = false
	}
}

// dispatch runs fn against endpoints in priority order, stopping at the
// first success and classifying the final error if every endpoint fails.
func (c *Client) dispatch(ctx context.Context, fn func(context.Context, *ethclient.Client) error) error {
	ranked := c.pick()
	var lastErr error
	tried := 0
	for _, e := range ranked {
		if e.client == nil {
			continue
		}
		tried++
		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := fn(callCtx, e.client)
		cancel()
		if err == nil {
			e.recordSuccess(time.Since(start))
			return nil
		}
		e.recordFailure()
		lastErr = err
	}
	if tried == 0 {
		return gaslessbridge.RPCAllEndpointsDownError("chain %d: no endpoints available", c.chainID)
	}
	if ctx.Err() != nil {
		return gaslessbridge.RPCTimeoutError("chain %d: %v", c.chainID, ctx.Err())
	}
	return gaslessbridge.RPCAllEndpointsDownError("chain %d: all endpoints failed, last error: %v", c.chainID, lastErr)
}

// ChainID returns the configured chain id, cached indefinitely.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	key := fmt.Sprintf("rpc:%d:chainid", c.chainID)
	var cached string
	if c.cache != nil && c.cache.Get(ctx, key, &cached) {
		c.hits.Add(1)
		id, ok := new(big.Int).SetString(cached, 10)
		if ok {
			return id, nil
		}
	}
	c.misses.Add(1)
	var result *big.Int
	err := c.dispatch(ctx, func(ctx context.Context, ec *ethclient.Client) error {
		id, err := ec.ChainID(ctx)
		if err != nil {
			return err
		}
		result = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Set(ctx, key, result.String(), 0)
	}
	return result, nil
}

// FeeHistory returns the last blockCount blocks' base fees and priority fee
// percentiles, cached for feeHistoryTTL.
func (c *Client) FeeHistory(ctx context.Context, blockCount uint64, rewardPercentiles []float64) (*ethclient.FeeHistory, error) {
	key := fmt.Sprintf("rpc:%d:feehistory:%d", c.chainID, blockCount)
	var cached ethclient.FeeHistory
	if c.cache != nil && c.cache.Get(ctx, key, &cached) {
		c.hits.Add(1)
		return &cached, nil
	}
	c.misses.Add(1)
	var result *ethclient.FeeHistory
	err := c.dispatch(ctx, func(ctx context.Context, ec *ethclient.Client) error {
		fh, err := ec.FeeHistory(ctx, blockCount, nil, rewardPercentiles)
		if err != nil {
			return err
		}
		result = fh
		return nil
	})
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Set(ctx, key, result, feeHistoryTTL)
	}
	return result, nil
}

// Nonce returns the next pending nonce for addr, cached briefly since it
// changes with every broadcast transaction.
func (c *Client) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	key := fmt.Sprintf("rpc:%d:nonce:%s", c.chainID, addr.Hex())
	var cached uint64
	if c.cache != nil && c.cache.Get(ctx, key, &cached) {
		c.hits.Add(1)
		return cached, nil
	}
	c.misses.Add(1)
	var result uint64
	err := c.dispatch(ctx, func(ctx context.Context, ec *ethclient.Client) error {
		n, err := ec.PendingNonceAt(ctx, addr)
		if err != nil {
			return err
		}
		result = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	if c.cache != nil {
		c.cache.Set(ctx, key, result, nonceTTL)
	}
	return result, nil
}

// GetBalance returns addr's native balance at the latest block.
func (c *Client) GetBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var result *big.Int
	err := c.dispatch(ctx, func(ctx context.Context, ec *ethclient.Client) error {
		bal, err := ec.BalanceAt(ctx, addr, nil)
		if err != nil {
			return err
		}
		result = bal
		return nil
	})
	return result, err
}

// SendRaw broadcasts a signed transaction. Never cached per spec.
func (c *Client) SendRaw(ctx context.Context, tx *types.Transaction) error {
	return c.dispatch(ctx, func(ctx context.Context, ec *ethclient.Client) error {
		return ec.SendTransaction(ctx, tx)
	})
}

// Receipt looks up the receipt for txHash, caching only terminal (mined)
// results since a pending lookup's "not found" must never be cached.
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	key := fmt.Sprintf("rpc:%d:receipt:%s", c.chainID, txHash.Hex())
	var cached types.Receipt
	if c.cache != nil && c.cache.Get(ctx, key, &cached) {
		c.hits.Add(1)
		return &cached, nil
	}
	c.misses.Add(1)
	var result *types.Receipt
	err := c.dispatch(ctx, func(ctx context.Context, ec *ethclient.Client) error {
		r, err := ec.TransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		result = r
		if result.BlockNumber != nil {
			c.mu.Lock()
			if result.BlockNumber.Uint64() > c.highestBlockSeen {
				c.highestBlockSeen = result.BlockNumber.Uint64()
			}
			c.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Set(ctx, key, result, 0)
	}
	return result, nil
}

// GasPrice returns the network's legacy suggested gas price, used as a
// floor sanity check alongside the EIP-1559 estimator.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var result *big.Int
	err := c.dispatch(ctx, func(ctx context.Context, ec *ethclient.Client) error {
		gp, err := ec.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		result = gp
		return nil
	})
	return result, err
}

// Stats is a point-in-time snapshot of this client's cache and endpoint
// health, returned by the get_rpc_cache_stats API operation.
type Stats struct {
	ChainID          int64
	CacheHits        int64
	CacheMisses      int64
	HighestBlockSeen uint64
	Endpoints        []EndpointStatus
}

// EndpointStatus reports one configured endpoint's current health.
type EndpointStatus struct {
	URL          string
	Healthy      bool
	FailureCount int
	CooldownUntil time.Time
}

// ClearCache purges the in-process tier of this client's cache, used by the
// clear_rpc_cache API operation when an operator suspects stale data. When
// the cache is shared between chains, every chain's local entries go; the
// Redis tier is left as it is.
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// Stats reports the current cache hit ratio and per-endpoint health.
func (c *Client) Stats() Stats {
	s := Stats{
		ChainID:     c.chainID,
		CacheHits:   c.hits.Load(),
		CacheMisses: c.misses.Load(),
	}
	c.mu.Lock()
	s.HighestBlockSeen = c.highestBlockSeen
	c.mu.Unlock()
	for _, e := range c.endpoints {
		e.mu.Lock()
		s.Endpoints = append(s.Endpoints, EndpointStatus{
			URL:           e.url,
			Healthy:       e.healthy && time.Now().After(e.cooldownUntil),
			FailureCount:  e.failureCount,
			CooldownUntil: e.cooldownUntil,
		})
		e.mu.Unlock()
	}
	return s
}
