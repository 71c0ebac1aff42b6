package settlement

import "errors"

// Sentinel errors for the verification and sweep paths. Callers are expected
// to branch on these with errors.Is; Retryable tells transient failures apart
// from terminal ones.
var (
	// ErrPaymentNotFound indicates no payment exists for the given reference.
	ErrPaymentNotFound = errors.New("settlement: payment not found")

	// ErrUnsupportedChain indicates no deposit factory is deployed on the chain.
	ErrUnsupportedChain = errors.New("settlement: no factory deployed on chain")

	// ErrInvalidChainID indicates a chain identifier that is neither a decimal
	// nor a 0x-prefixed hexadecimal integer.
	ErrInvalidChainID = errors.New("settlement: invalid chain identifier")

	// ErrInvalidTxHash indicates a claimed transaction hash that is empty or
	// not a 32-byte hex value.
	ErrInvalidTxHash = errors.New("settlement: invalid transaction hash")

	// ErrHashMismatch indicates the claimed transaction hash conflicts with the
	// hash already recorded by a successful verification. Never retryable.
	ErrHashMismatch = errors.New("settlement: payment already completed with a different transaction hash")

	// ErrConfirmationPending indicates the transaction has not yet reached the
	// chain's required confirmation count. Callers should re-poll.
	ErrConfirmationPending = errors.New("settlement: transaction below required confirmations")

	// ErrAmountMismatch indicates the reconciled on-chain amounts disagree with
	// the expected fee split beyond tolerance. Requires manual review.
	ErrAmountMismatch = errors.New("settlement: on-chain amount disagrees with expected split")

	// ErrTransactionReverted indicates the claimed transaction executed but
	// reverted, so it cannot settle anything.
	ErrTransactionReverted = errors.New("settlement: transaction reverted on chain")

	// ErrEventNotFound indicates the receipt carries no Swept event from the
	// chain's factory matching the payment's salt.
	ErrEventNotFound = errors.New("settlement: settlement event not found in receipt")

	// ErrChainRPC indicates a transient RPC infrastructure failure.
	ErrChainRPC = errors.New("settlement: chain rpc failure")

	// ErrNumericOverflow indicates an amount conversion would lose precision or
	// exceed the representable range. Always a hard failure.
	ErrNumericOverflow = errors.New("settlement: amount overflows or loses precision")

	// ErrSweepNotSettled indicates a sweep was requested for a payment that has
	// not been verified into an escrow or completed state.
	ErrSweepNotSettled = errors.New("settlement: payment not settled, sweep refused")

	// ErrAlreadySwept indicates the payment's funds have already been released,
	// so there is nothing left at the deposit address to sweep.
	ErrAlreadySwept = errors.New("settlement: payment already swept")

	// ErrRetryNotFailed indicates a retry reset was requested for a payment
	// that is not in the failed state.
	ErrRetryNotFailed = errors.New("settlement: only failed payments can be reset for retry")
)

// Retryable reports whether the error is transient and the same verification
// request may legitimately be re-attempted later.
func Retryable(err error) bool {
	return errors.Is(err, ErrConfirmationPending) || errors.Is(err, ErrChainRPC)
}
