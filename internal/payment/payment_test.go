package payment

import (
	"context"
	"math/big"
	"testing"

	"github.com/ChoSanghyuk/gaslessbridge"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	finalized bool
	err       error
}

func (f fakeLedger) VerifyTransfer(ctx context.Context, proofID string, minAmount *big.Int, from, to string) (bool, error) {
	return f.finalized, f.err
}

type fakeIndex struct {
	existing *gaslessbridge.Settlement
	used     bool
}

func (f fakeIndex) SettlementByPaymentProof(proof string) (*gaslessbridge.Settlement, bool, error) {
	return f.existing, f.used, nil
}

func TestVerifyAcceptsFinalizedUnusedProof(t *testing.T) {
	v := New(fakeLedger{finalized: true}, fakeIndex{}, "0xbridge")
	err := v.Verify(context.Background(), "proof-1", big.NewInt(100), "0xuser")
	require.NoError(t, err)
}

func TestVerifyRejectsAlreadyUsedCompletedProof(t *testing.T) {
	v := New(fakeLedger{finalized: true}, fakeIndex{
		existing: &gaslessbridge.Settlement{Status: gaslessbridge.SettlementCompleted},
		used:     true,
	}, "0xbridge")
	err := v.Verify(context.Background(), "proof-1", big.NewInt(100), "0xuser")
	require.Error(t, err)
}

func TestVerifyRejectsNotFinalTransfer(t *testing.T) {
	v := New(fakeLedger{finalized: false}, fakeIndex{}, "0xbridge")
	err := v.Verify(context.Background(), "proof-1", big.NewInt(100), "0xuser")
	require.Error(t, err)
}

func TestVerifyRejectsEmptyProof(t *testing.T) {
	v := New(fakeLedger{finalized: true}, fakeIndex{}, "0xbridge")
	err := v.Verify(context.Background(), "", big.NewInt(100), "0xuser")
	require.Error(t, err)
}
