// Package signer abstracts the bridge's settlement signing key behind a
// ThresholdSigner interface, so a real threshold-ECDSA custody backend can
// be swapped in without touching the settlement engine.
package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ThresholdSigner produces ECDSA signatures over pre-hashed EIP-1559
// transaction preimages without exposing the underlying private material.
// A production deployment backs this with a real threshold-signing
// service; SingleKeySigner below is the in-process deterministic
// implementation used for development and tests.
type ThresholdSigner interface {
	PublicKey(ctx context.Context) (*ecdsa.PublicKey, error)
	Address(ctx context.Context) (common.Address, error)
	Sign(ctx context.Context, preimage [32]byte) (r, s *big.Int, recoveryID byte, err error)
}

// SingleKeySigner signs with one in-process private key. go-ethereum's
// crypto.Sign already returns low-s signatures, so no separate
// normalization step is needed.
type SingleKeySigner struct {
	key *ecdsa.PrivateKey
}

// NewSingleKeySigner wraps key as a ThresholdSigner.
func NewSingleKeySigner(key *ecdsa.PrivateKey) *SingleKeySigner {
	return &SingleKeySigner{key: key}
}

func (s *SingleKeySigner) PublicKey(ctx context.Context) (*ecdsa.PublicKey, error) {
	return &s.key.PublicKey, nil
}

func (s *SingleKeySigner) Address(ctx context.Context) (common.Address, error) {
	return crypto.PubkeyToAddress(s.key.PublicKey), nil
}

func (s *SingleKeySigner) Sign(ctx context.Context, preimage [32]byte) (*big.Int, *big.Int, byte, error) {
	sig, err := crypto.Sign(preimage[:], s.key)
	if err != nil {
		return nil, nil, 0, gaslessbridge.SignerUnavailableError("sign failed: %v", err)
	}
	r := new(big.Int).SetBytes(sig[:32])
	sVal := new(big.Int).SetBytes(sig[32:64])
	recoveryID := sig[64]
	return r, sVal, recoveryID, nil
}
