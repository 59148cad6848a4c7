// Package txbuilder constructs and finalizes EIP-1559 typed transactions
// for the settlement engine, using go-ethereum's own signer for the
// preimage hash and signature reassembly rather than a hand-rolled RLP
// encoder.
package txbuilder

import (
	"context"
	"math/big"

	"github.com/ChoSanghyuk/gaslessbridge/pkg/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Build assembles an unsigned EIP-1559 transaction for a plain native-asset
// transfer: no calldata, no access list.
func Build(chainID *big.Int, nonce uint64, priorityFee, maxFee *big.Int, gasLimit uint64, to common.Address, value *big.Int) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: priorityFee,
		GasFeeCap: maxFee,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      nil,
	})
}

// Sign hashes tx with the EIP-1559 London signer, asks s for a signature
// over that preimage, and reassembles the signed transaction.
func Sign(ctx context.Context, chainID *big.Int, tx *types.Transaction, s signer.ThresholdSigner) (*types.Transaction, error) {
	londonSigner := types.NewLondonSigner(chainID)
	hash := londonSigner.Hash(tx)

	r, sVal, recoveryID, err := s.Sign(ctx, hash)
	if err != nil {
		return nil, err
	}

	sig := make([]byte, 65)
	r.FillBytes(sig[0:32])
	sVal.FillBytes(sig[32:64])
	sig[64] = recoveryID

	return tx.WithSignature(londonSigner, sig)
}
