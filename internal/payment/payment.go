// Package payment implements the payment verifier (C6): confirms a
// source-chain payment proof covers a quote's total cost and has not
// already been consumed by an earlier settlement.
package payment

import (
	"context"
	"math/big"

	"github.com/ChoSanghyuk/gaslessbridge"
)

// SourceLedger is the external source-chain collaborator this module
// verifies against. The concrete ledger integration lives outside this
// module, per spec.md §1's scope line treating the source chain as a
// collaborator rather than something this bridge implements.
type SourceLedger interface {
	VerifyTransfer(ctx context.Context, proofID string, minAmount *big.Int, from, to string) (finalized bool, err error)
}

// ProofIndex tracks which payment proofs have already been consumed by a
// settlement, backed durably by internal/db so AlreadyUsed detection
// survives a process restart.
type ProofIndex interface {
	SettlementByPaymentProof(proof string) (*gaslessbridge.Settlement, bool, error)
}

// Verifier implements C6.
type Verifier struct {
	ledger      SourceLedger
	index       ProofIndex
	bridgeAddr  string
}

// New builds a Verifier over ledger, using index for duplicate-proof
// detection and bridgeAddr as the collection account transfers must land on.
func New(ledger SourceLedger, index ProofIndex, bridgeAddr string) *Verifier {
	return &Verifier{ledger: ledger, index: index, bridgeAddr: bridgeAddr}
}

// Verify checks that proofID is a finalized transfer of at least
// minAmount from user to the bridge's collection account, and that no
// earlier settlement has already consumed it.
func (v *Verifier) Verify(ctx context.Context, proofID string, minAmount *big.Int, user string) error {
	if proofID == "" {
		return gaslessbridge.PaymentNotFoundError("payment proof is empty")
	}

	if existing, used, err := v.index.SettlementByPaymentProof(proofID); err != nil {
		return err
	} else if used && !existing.Terminal() {
		return gaslessbridge.PaymentAlreadyUsedError(proofID)
	} else if used && existing.Status == gaslessbridge.SettlementCompleted {
		return gaslessbridge.PaymentAlreadyUsedError(proofID)
	}

	finalized, err := v.ledger.VerifyTransfer(ctx, proofID, minAmount, user, v.bridgeAddr)
	if err != nil {
		return gaslessbridge.PaymentNotFoundError("failed to verify transfer %s: %v", proofID, err)
	}
	if !finalized {
		return gaslessbridge.PaymentNotFinalError("transfer %s is not yet finalized", proofID)
	}
	return nil
}
