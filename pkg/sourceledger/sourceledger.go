// Package sourceledger implements a minimal payment.SourceLedger: proof IDs
// are source-chain transaction hashes, and a transfer "counts" once its
// receipt is mined and its value/recipient match what the quote demands.
// spec.md §1 scopes the source-chain ledger as an external collaborator;
// this is the thin default integration the bridge ships with, not a
// general-purpose indexer.
package sourceledger

import (
	"context"
	"math/big"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EvmLedger verifies native-asset transfer proofs against one source
// chain's RPC endpoint.
type EvmLedger struct {
	client *ethclient.Client
}

// NewEvmLedger wraps an already-dialed client for a single source chain.
func NewEvmLedger(client *ethclient.Client) *EvmLedger {
	return &EvmLedger{client: client}
}

// VerifyTransfer reports whether proofID names a mined transaction sending
// at least minAmount of native asset from from to to.
func (l *EvmLedger) VerifyTransfer(ctx context.Context, proofID string, minAmount *big.Int, from, to string) (bool, error) {
	if !common.IsHexHash(proofID) {
		return false, gaslessbridge.PaymentNotFoundError("proof %s is not a transaction hash", proofID)
	}
	hash := common.HexToHash(proofID)

	tx, isPending, err := l.client.TransactionByHash(ctx, hash)
	if err != nil {
		return false, gaslessbridge.PaymentNotFoundError("transaction %s not found: %v", proofID, err)
	}
	if isPending {
		return false, nil
	}

	receipt, err := l.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return false, gaslessbridge.PaymentNotFoundError("receipt for %s not found: %v", proofID, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return false, gaslessbridge.PaymentAmountMismatchError("transaction %s reverted", proofID)
	}

	chainID, err := l.client.ChainID(ctx)
	if err != nil {
		return false, err
	}
	signer := types.LatestSignerForChainID(chainID)
	sender, err := types.Sender(signer, tx)
	if err != nil {
		return false, err
	}
	if !sameAddress(sender.Hex(), from) {
		return false, gaslessbridge.PaymentAmountMismatchError("transaction %s sender %s does not match %s", proofID, sender.Hex(), from)
	}
	if tx.To() == nil || !sameAddress(tx.To().Hex(), to) {
		return false, gaslessbridge.PaymentAmountMismatchError("transaction %s recipient does not match bridge collection address", proofID)
	}
	if tx.Value().Cmp(minAmount) < 0 {
		return false, gaslessbridge.PaymentAmountMismatchError("transaction %s value %s below required %s", proofID, tx.Value(), minAmount)
	}

	return true, nil
}

func sameAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}

// MultiChainLedger dispatches VerifyTransfer across every configured source
// chain client, since a bare proof id carries no chain tag of its own. It
// returns the first client's answer that recognizes the transaction hash.
type MultiChainLedger struct {
	chains map[int64]*EvmLedger
}

// NewMultiChainLedger wraps one EvmLedger per source chain client.
func NewMultiChainLedger(clients map[int64]*ethclient.Client) *MultiChainLedger {
	chains := make(map[int64]*EvmLedger, len(clients))
	for chainID, c := range clients {
		chains[chainID] = NewEvmLedger(c)
	}
	return &MultiChainLedger{chains: chains}
}

func (m *MultiChainLedger) VerifyTransfer(ctx context.Context, proofID string, minAmount *big.Int, from, to string) (bool, error) {
	var lastErr error
	for _, l := range m.chains {
		finalized, err := l.VerifyTransfer(ctx, proofID, minAmount, from, to)
		if err == nil {
			return finalized, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = gaslessbridge.PaymentNotFoundError("no source chain ledger configured")
	}
	return false, lastErr
}
