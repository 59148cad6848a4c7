package gaslessbridge

import "fmt"

// Code is a stable, classified error identifier safe to return to callers.
// Details beyond the code go to the audit log only.
type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeReserve         Code = "RESERVE_ERROR"
	CodeQuote           Code = "QUOTE_ERROR"
	CodePayment         Code = "PAYMENT_ERROR"
	CodeRPC             Code = "RPC_ERROR"
	CodeSigner          Code = "SIGNER_ERROR"
	CodePrice           Code = "PRICE_ERROR"
	CodeAdmin           Code = "ADMIN_ERROR"
	CodeConfig          Code = "CONFIG_ERROR"
)

// Reason is the sub-kind within a Code, per spec.md §7's enumeration.
type Reason string

const (
	ReasonInsufficient     Reason = "insufficient"
	ReasonPaused           Reason = "paused"
	ReasonDailyLimit       Reason = "daily_limit_exceeded"
	ReasonNotFound         Reason = "not_found"
	ReasonExpired          Reason = "expired"
	ReasonAlreadySettled   Reason = "already_settled"
	ReasonAmountMismatch   Reason = "amount_mismatch"
	ReasonAlreadyUsed      Reason = "already_used"
	ReasonNotFinal         Reason = "not_final"
	ReasonTimeout          Reason = "timeout"
	ReasonAllEndpointsDown Reason = "all_endpoints_down"
	ReasonBadResponse      Reason = "bad_response"
	ReasonUpstreamRevert   Reason = "upstream_revert"
	ReasonUnavailable      Reason = "unavailable"
	ReasonRejected         Reason = "rejected"
	ReasonStale            Reason = "stale"
	ReasonNotAdmin         Reason = "not_admin"
)

// BridgeError is the stable error shape every component surfaces at its
// boundary. It never carries anything beyond Code/Reason/Message to the
// caller; richer context is logged to the audit trail by the caller.
type BridgeError struct {
	Code    Code
	Reason  Reason
	Message string
}

func (e *BridgeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s.%s: %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newErr(code Code, reason Reason, format string, args ...any) *BridgeError {
	return &BridgeError{Code: code, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func ValidationError(format string, args ...any) *BridgeError {
	return newErr(CodeValidation, "", format, args...)
}

func ReserveInsufficientError(format string, args ...any) *BridgeError {
	return newErr(CodeReserve, ReasonInsufficient, format, args...)
}

func ReservePausedError(format string, args ...any) *BridgeError {
	return newErr(CodeReserve, ReasonPaused, format, args...)
}

func ReserveDailyLimitError(format string, args ...any) *BridgeError {
	return newErr(CodeReserve, ReasonDailyLimit, format, args...)
}

func QuoteNotFoundError(id string) *BridgeError {
	return newErr(CodeQuote, ReasonNotFound, "quote %s not found", id)
}

func QuoteExpiredError(id string) *BridgeError {
	return newErr(CodeQuote, ReasonExpired, "quote %s expired", id)
}

func QuoteAlreadySettledError(id string) *BridgeError {
	return newErr(CodeQuote, ReasonAlreadySettled, "quote %s already has a non-failed settlement", id)
}

func PaymentNotFoundError(format string, args ...any) *BridgeError {
	return newErr(CodePayment, ReasonNotFound, format, args...)
}

func PaymentAmountMismatchError(format string, args ...any) *BridgeError {
	return newErr(CodePayment, ReasonAmountMismatch, format, args...)
}

func PaymentAlreadyUsedError(proof string) *BridgeError {
	return newErr(CodePayment, ReasonAlreadyUsed, "payment proof %s already used", proof)
}

func PaymentNotFinalError(format string, args ...any) *BridgeError {
	return newErr(CodePayment, ReasonNotFinal, format, args...)
}

func RPCTimeoutError(format string, args ...any) *BridgeError {
	return newErr(CodeRPC, ReasonTimeout, format, args...)
}

func RPCAllEndpointsDownError(format string, args ...any) *BridgeError {
	return newErr(CodeRPC, ReasonAllEndpointsDown, format, args...)
}

func RPCBadResponseError(format string, args ...any) *BridgeError {
	return newErr(CodeRPC, ReasonBadResponse, format, args...)
}

func RPCUpstreamRevertError(format string, args ...any) *BridgeError {
	return newErr(CodeRPC, ReasonUpstreamRevert, format, args...)
}

func RPCError(code int, msg string) *BridgeError {
	return newErr(CodeRPC, "", "rpc error %d: %s", code, msg)
}

func SignerUnavailableError(format string, args ...any) *BridgeError {
	return newErr(CodeSigner, ReasonUnavailable, format, args...)
}

func SignerRejectedError(format string, args ...any) *BridgeError {
	return newErr(CodeSigner, ReasonRejected, format, args...)
}

func PriceUnavailableError(format string, args ...any) *BridgeError {
	return newErr(CodePrice, ReasonUnavailable, format, args...)
}

func PriceStaleError(format string, args ...any) *BridgeError {
	return newErr(CodePrice, ReasonStale, format, args...)
}

func AdminNotAdminError(user string) *BridgeError {
	return newErr(CodeAdmin, ReasonNotAdmin, "%s is not an admin", user)
}

func ConfigError(format string, args ...any) *BridgeError {
	return newErr(CodeConfig, "", format, args...)
}

// IsRetryable reports whether the settlement engine should retry the
// operation that produced err, per spec.md §4.9/§7's propagation policy:
// transient RpcError and SignerError are retryable, everything else is
// terminal for that settlement.
func IsRetryable(err error) bool {
	be, ok := err.(*BridgeError)
	if !ok {
		return false
	}
	switch be.Code {
	case CodeRPC:
		return be.Reason == ReasonTimeout || be.Reason == "" || be.Reason == ReasonAllEndpointsDown
	case CodeSigner:
		return be.Reason == ReasonUnavailable
	default:
		return false
	}
}
