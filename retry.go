package settlement

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// RetryPolicy is the only sanctioned path from failed back to pending. It
// clears the stale transaction linkage so a fresh verification starts clean,
// while amounts and fee fields stay untouched for audit.
type RetryPolicy struct {
	payments PaymentStore
	log      Log
	clk      clock.Clock
}

func NewRetryPolicy(payments PaymentStore, log Log, clk clock.Clock) *RetryPolicy {
	return &RetryPolicy{payments: payments, log: log, clk: clk}
}

// ResetForRetry returns a failed payment to pending with no transaction hash
// and no payer address. Payments in any other status are refused.
func (r *RetryPolicy) ResetForRetry(ctx context.Context, reference string) (*Payment, error) {
	payment, err := r.payments.GetPaymentByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrPaymentNotFound, "reference %s", reference)
		}
		return nil, errors.Wrap(err, "load payment")
	}
	if payment.Status != PaymentStatusFailed {
		return nil, errors.Wrapf(ErrRetryNotFailed, "payment %s is %s", reference, payment.Status)
	}

	now := r.clk.Now().Unix()
	if err := r.payments.ResetPayment(ctx, reference, now); err != nil {
		return nil, errors.Wrapf(err, "reset payment %s", reference)
	}

	payment.TxHash = ""
	payment.PayerAddress = ""
	payment.Status = PaymentStatusPending
	payment.Message = ""
	payment.UpdatedAt = now

	r.log.Info().Str("payment", reference).Msg("failed payment reset for retry")
	return payment, nil
}
