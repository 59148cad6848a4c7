// Package settlement implements the settlement engine (C9): drives a
// Settlement through Pending -> Executing -> {Completed, Failed}, managing
// per-destination-chain nonce issuance, EIP-1559 replacement bumps on
// transient failure, and receipt polling with backoff.
package settlement

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/ChoSanghyuk/gaslessbridge/internal/payment"
	"github.com/ChoSanghyuk/gaslessbridge/internal/quote"
	"github.com/ChoSanghyuk/gaslessbridge/internal/reserve"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/gasestimator"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/signer"
	"github.com/ChoSanghyuk/gaslessbridge/pkg/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const defaultMaxRetries = 3

// RpcSource is the subset of pkg/rpcclient.Client the engine needs, kept
// as an interface so tests can fake broadcast/receipt behavior.
type RpcSource interface {
	Nonce(ctx context.Context, addr common.Address) (uint64, error)
	SendRaw(ctx context.Context, tx *types.Transaction) error
	Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Store is the persistence seam, satisfied by internal/db.Store.
type Store interface {
	SaveSettlement(actor string, s *gaslessbridge.Settlement) error
	GetSettlement(id string) (*gaslessbridge.Settlement, error)
	SettlementByPaymentProof(proof string) (*gaslessbridge.Settlement, bool, error)
	SettlementsByUser(userAddress string) ([]*gaslessbridge.Settlement, error)
	SaveUserTransaction(actor string, t *gaslessbridge.UserTransaction) error
}

// userTransactionFor builds the UserTransaction row for q/s at status,
// rebuilt fresh from q and s on every status transition so each write
// carries the latest settlement fields (tx hash, gas spend) without the
// engine having to thread a separate UserTransaction value through
// execute/complete/fail.
func userTransactionFor(q *gaslessbridge.Quote, s *gaslessbridge.Settlement, status gaslessbridge.UserTransactionStatus) *gaslessbridge.UserTransaction {
	return &gaslessbridge.UserTransaction{
		QuoteID:         q.ID,
		SettlementID:    s.ID,
		PaymentProof:    s.PaymentProof,
		UserAddress:     q.UserAddress,
		SourceChainID:   q.SourceChainID,
		DestChainID:     q.DestChainID,
		SourceAmount:    q.SourceAmount,
		DestAmount:      q.DestAmount,
		GasSponsoredWei: s.GasSponsoredWei,
		Status:          status,
		CreatedAt:       s.CreatedAt,
	}
}

// nonceTracker issues monotonic nonces per destination chain, refetching
// from the RPC client the first time a chain is seen, following the
// nextNonce-counter-guarded-by-mutex shape used for destination chain
// nonce bookkeeping elsewhere in the corpus.
type nonceTracker struct {
	mu        sync.Mutex
	next      map[int64]uint64
	initialized map[int64]bool
}

func newNonceTracker() *nonceTracker {
	return &nonceTracker{next: map[int64]uint64{}, initialized: map[int64]bool{}}
}

func (n *nonceTracker) issue(ctx context.Context, chainID int64, addr common.Address, rpc RpcSource) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.initialized[chainID] {
		fresh, err := rpc.Nonce(ctx, addr)
		if err != nil {
			return 0, err
		}
		n.next[chainID] = fresh
		n.initialized[chainID] = true
	}
	nonce := n.next[chainID]
	n.next[chainID]++
	return nonce, nil
}

func (n *nonceTracker) resync(ctx context.Context, chainID int64, addr common.Address, rpc RpcSource) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fresh, err := rpc.Nonce(ctx, addr)
	if err != nil {
		return 0, err
	}
	n.next[chainID] = fresh + 1
	n.initialized[chainID] = true
	return fresh, nil
}

// Engine is the settlement engine (C9).
type Engine struct {
	store      Store
	reserves   *reserve.Manager
	quotes     *quote.Engine
	verifier   *payment.Verifier
	signer     signer.ThresholdSigner
	bridgeAddr common.Address

	rpc map[int64]RpcSource
	gas map[int64]*gasestimator.Estimator

	nonces     *nonceTracker
	maxRetries int
}

// New builds a settlement Engine. rpc and gas are keyed by destination
// chain id.
func New(store Store, reserves *reserve.Manager, quotes *quote.Engine, verifier *payment.Verifier, sgnr signer.ThresholdSigner, bridgeAddr common.Address, rpc map[int64]RpcSource, gas map[int64]*gasestimator.Estimator, maxRetries int) *Engine {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Engine{
		store:      store,
		reserves:   reserves,
		quotes:     quotes,
		verifier:   verifier,
		signer:     sgnr,
		bridgeAddr: bridgeAddr,
		rpc:        rpc,
		gas:        gas,
		nonces:     newNonceTracker(),
		maxRetries: maxRetries,
	}
}

// SettleQuote drives quoteID's settlement given paymentProof, implementing
// the Pending -> Executing -> {Completed, Failed} machine inline. A
// repeated paymentProof returns the existing Settlement without
// re-broadcasting (Testable Property 3).
func (e *Engine) SettleQuote(ctx context.Context, quoteID, paymentProof string) (*gaslessbridge.Settlement, error) {
	if existing, used, err := e.store.SettlementByPaymentProof(paymentProof); err != nil {
		return nil, err
	} else if used {
		return existing, nil
	}

	q, err := e.quotes.Get(quoteID)
	if err != nil {
		return nil, err
	}
	if q.Status == gaslessbridge.QuoteStatusExpired {
		return nil, gaslessbridge.QuoteExpiredError(quoteID)
	}
	if q.Status == gaslessbridge.QuoteStatusConsumed {
		return nil, gaslessbridge.QuoteAlreadySettledError(quoteID)
	}
	if q.IsExpired(time.Now()) {
		return nil, gaslessbridge.QuoteExpiredError(quoteID)
	}

	s := &gaslessbridge.Settlement{
		ID:           gaslessbridge.NewID(),
		QuoteID:      quoteID,
		PaymentProof: paymentProof,
		Status:       gaslessbridge.SettlementPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := e.verifier.Verify(ctx, paymentProof, q.SourceAmount, q.UserAddress); err != nil {
		s.Status = gaslessbridge.SettlementFailed
		s.LastError = err.Error()
		s.UpdatedAt = time.Now()
		e.store.SaveSettlement("system", s)
		e.reserves.Unlock(q.DestChainID, q.DestAsset, new(big.Int).Add(q.DestAmount, q.EstimatedGasFee))
		e.store.SaveUserTransaction("system", userTransactionFor(q, s, gaslessbridge.UserTransactionRefunded))
		return nil, err
	}

	if err := e.store.SaveSettlement("system", s); err != nil {
		return nil, err
	}
	e.store.SaveUserTransaction("system", userTransactionFor(q, s, gaslessbridge.UserTransactionPending))

	if err := e.quotes.MarkConsumed(q); err != nil {
		return nil, err
	}

	return e.execute(ctx, s, q)
}

func (e *Engine) execute(ctx context.Context, s *gaslessbridge.Settlement, q *gaslessbridge.Quote) (*gaslessbridge.Settlement, error) {
	s.Status = gaslessbridge.SettlementExecuting
	s.UpdatedAt = time.Now()
	e.store.SaveSettlement("system", s)
	e.store.SaveUserTransaction("system", userTransactionFor(q, s, gaslessbridge.UserTransactionProcessing))

	rpc, ok := e.rpc[q.DestChainID]
	if !ok {
		return e.fail(s, q, gaslessbridge.ConfigError("no rpc client configured for chain %d", q.DestChainID))
	}
	gasEst, ok := e.gas[q.DestChainID]
	if !ok {
		return e.fail(s, q, gaslessbridge.ConfigError("no gas estimator configured for chain %d", q.DestChainID))
	}
	destAddr := common.HexToAddress(q.UserAddress)
	chainID := big.NewInt(q.DestChainID)

	var txHash common.Hash
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			s.RetryCount = attempt
		}

		nonce := s.Nonce
		if attempt == 0 {
			n, err := e.nonces.issue(ctx, q.DestChainID, e.bridgeAddr, rpc)
			if err != nil {
				lastErr = err
				continue
			}
			nonce = n
			s.Nonce = nonce
		}

		estimate, err := gasEst.Estimate(ctx, 0)
		if err != nil {
			lastErr = err
			continue
		}
		priorityFee, maxFee := estimate.PriorityFee, estimate.MaxFeePerGas
		if attempt > 0 {
			priorityFee, maxFee = bumpFees(priorityFee, maxFee)
		}

		tx := txbuilder.Build(chainID, nonce, priorityFee, maxFee, estimate.GasLimit, destAddr, q.DestAmount)
		signed, err := txbuilder.Sign(ctx, chainID, tx, e.signer)
		if err != nil {
			lastErr = err
			if !gaslessbridge.IsRetryable(err) {
				return e.fail(s, q, err)
			}
			continue
		}

		if err := rpc.SendRaw(ctx, signed); err != nil {
			lastErr = err
			if isNonceTooLow(err) {
				refreshed, rerr := e.nonces.resync(ctx, q.DestChainID, e.bridgeAddr, rpc)
				if rerr != nil {
					lastErr = rerr
					continue
				}
				s.Nonce = refreshed
				continue
			}
			if !gaslessbridge.IsRetryable(err) {
				return e.fail(s, q, err)
			}
			continue
		}

		txHash = signed.Hash()
		s.DestTxHash = txHash.Hex()
		s.UpdatedAt = time.Now()
		e.store.SaveSettlement("system", s)

		receipt, err := e.pollReceipt(ctx, rpc, txHash)
		if err != nil {
			lastErr = err
			continue
		}
		if receipt.Status == types.ReceiptStatusSuccessful {
			return e.complete(s, q, receipt)
		}
		return e.fail(s, q, gaslessbridge.RPCUpstreamRevertError("destination transaction reverted"))
	}

	if lastErr == nil {
		lastErr = gaslessbridge.RPCTimeoutError("settlement exhausted retries")
	}
	return e.fail(s, q, lastErr)
}

// pollReceipt polls for txHash's receipt with the spec's backoff schedule
// (1s -> 2s -> 5s -> 10s, capped, total <= 5 min).
func (e *Engine) pollReceipt(ctx context.Context, rpc RpcSource, txHash common.Hash) (*types.Receipt, error) {
	backoffs := []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	deadline := time.Now().Add(5 * time.Minute)
	i := 0
	for {
		receipt, err := rpc.Receipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, gaslessbridge.RPCTimeoutError("receipt polling for %s exceeded 5 minutes", txHash.Hex())
		}
		wait := backoffs[min(i, len(backoffs)-1)]
		select {
		case <-ctx.Done():
			return nil, gaslessbridge.RPCTimeoutError("context cancelled while polling receipt")
		case <-time.After(wait):
		}
		i++
	}
}

// complete commits the settlement's actual spend (DestAmount +
// GasSponsoredWei) and unlocks whatever remains of the quote's original
// reservation (DestAmount + EstimatedGasFee) beyond that spend, so an
// overestimated gas budget doesn't stay locked against the reserve
// forever.
func (e *Engine) complete(s *gaslessbridge.Settlement, q *gaslessbridge.Quote, receipt *types.Receipt) (*gaslessbridge.Settlement, error) {
	now := time.Now()
	s.Status = gaslessbridge.SettlementCompleted
	s.GasUsed = new(big.Int).SetUint64(receipt.GasUsed)
	s.GasSponsoredWei = new(big.Int).Mul(s.GasUsed, receipt.EffectiveGasPrice)
	s.UpdatedAt = now
	s.CompletedAt = &now
	e.store.SaveSettlement("system", s)

	committed := new(big.Int).Add(q.DestAmount, s.GasSponsoredWei)
	e.reserves.Commit(q.DestChainID, q.DestAsset, committed)

	locked := new(big.Int).Add(q.DestAmount, q.EstimatedGasFee)
	residual := new(big.Int).Sub(locked, committed)
	if residual.Sign() > 0 {
		e.reserves.Unlock(q.DestChainID, q.DestAsset, residual)
	}

	e.store.SaveUserTransaction("system", userTransactionFor(q, s, gaslessbridge.UserTransactionCompleted))
	return s, nil
}

// fail marks the settlement Failed, releases the quote's full reservation
// (DestAmount + EstimatedGasFee) back to the reserve since a failed
// settlement spends nothing on-chain, and marks the user's transaction
// Refunded to reflect that release.
func (e *Engine) fail(s *gaslessbridge.Settlement, q *gaslessbridge.Quote, err error) (*gaslessbridge.Settlement, error) {
	s.Status = gaslessbridge.SettlementFailed
	s.LastError = err.Error()
	s.UpdatedAt = time.Now()
	e.store.SaveSettlement("system", s)
	e.reserves.Unlock(q.DestChainID, q.DestAsset, new(big.Int).Add(q.DestAmount, q.EstimatedGasFee))
	e.store.SaveUserTransaction("system", userTransactionFor(q, s, gaslessbridge.UserTransactionRefunded))
	return s, err
}

// bumpFees applies the EIP-1559 12.5%-minimum replacement bump.
func bumpFees(priorityFee, maxFee *big.Int) (*big.Int, *big.Int) {
	bump := func(v *big.Int) *big.Int {
		bumped := new(big.Int).Mul(v, big.NewInt(1125))
		bumped.Div(bumped, big.NewInt(1000))
		return bumped
	}
	return bump(priorityFee), bump(maxFee)
}

func isNonceTooLow(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

// Get returns a settlement by id.
func (e *Engine) Get(id string) (*gaslessbridge.Settlement, error) {
	return e.store.GetSettlement(id)
}

// ByUser returns every settlement a user is party to.
func (e *Engine) ByUser(userAddress string) ([]*gaslessbridge.Settlement, error) {
	return e.store.SettlementsByUser(userAddress)
}
