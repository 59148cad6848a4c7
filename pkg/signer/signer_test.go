package signer

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestSingleKeySignerSignRecoversSamePublicKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := NewSingleKeySigner(key)

	var preimage [32]byte
	copy(preimage[:], sha256.New().Sum([]byte("hello")))

	r, sVal, v, err := s.Sign(context.Background(), preimage)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.NotNil(t, sVal)

	sig := make([]byte, 65)
	copy(sig[0:32], leftPad(r.Bytes()))
	copy(sig[32:64], leftPad(sVal.Bytes()))
	sig[64] = v

	pub, err := crypto.SigToPub(preimage[:], sig)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(*pub))
}

func TestSingleKeySignerAddressMatchesKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := NewSingleKeySigner(key)
	addr, err := s.Address(context.Background())
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)
}

func leftPad(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
