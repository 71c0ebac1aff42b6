package settlement

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetForRetry(t *testing.T) {
	clk := clock.NewMock()
	payment := NewPayment(clk, "ref-1", "order-1001", "merchant-1", "8453",
		common.HexToAddress("0x01"), 6, decimal.NewFromInt(100))
	payment.Status = PaymentStatusFailed
	payment.Message = "amount mismatch"
	payment.TxHash = "0xab00000000000000000000000000000000000000000000000000000000000001"
	payment.PayerAddress = "0x00000000000000000000000000000000000000cc"

	store := newMemStore(payment)
	policy := NewRetryPolicy(store, NewLog(zerolog.Nop()), clk)

	clk.Add(time.Minute)
	reset, err := policy.ResetForRetry(context.Background(), "ref-1")
	require.NoError(t, err)

	assert.Equal(t, PaymentStatusPending, reset.Status)
	assert.Empty(t, reset.TxHash)
	assert.Empty(t, reset.PayerAddress)
	assert.Empty(t, reset.Message)
	// Amounts and fee terms survive the reset for audit.
	assert.True(t, reset.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(DEFAULT_PLATFORM_FEE_BPS), reset.PlatformFeeBps)

	stored := store.get(t, "ref-1")
	assert.Equal(t, PaymentStatusPending, stored.Status)
	assert.Empty(t, stored.TxHash)
	assert.Equal(t, clk.Now().Unix(), stored.UpdatedAt)
}

func TestResetForRetryRefusesNonFailed(t *testing.T) {
	clk := clock.NewMock()
	store := newMemStore()
	for i, status := range []PaymentStatus{
		PaymentStatusPending,
		PaymentStatusProcessing,
		PaymentStatusEscrow,
		PaymentStatusCompleted,
		PaymentStatusReleased,
		PaymentStatusRefunded,
	} {
		p := NewPayment(clk, "ref-"+status.String(), "order-"+status.String(), "merchant-1", "8453",
			common.HexToAddress("0x01"), 6, decimal.NewFromInt(int64(i+1)))
		p.Status = status
		require.NoError(t, store.CreatePayment(context.Background(), p))
	}

	policy := NewRetryPolicy(store, NewLog(zerolog.Nop()), clk)
	for ref := range store.payments {
		_, err := policy.ResetForRetry(context.Background(), ref)
		assert.ErrorIs(t, err, ErrRetryNotFailed, "reference %s", ref)
	}

	_, err := policy.ResetForRetry(context.Background(), "no-such")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

// A failed payment reset for retry goes through a full fresh verification,
// with a new hash allowed to settle it.
func TestResetThenReverify(t *testing.T) {
	f := newVerifierFixture(t)
	policy := NewRetryPolicy(f.store, NewLog(zerolog.Nop()), f.clk)

	// First attempt settles the wrong amount and fails terminally.
	f.mineSwept(t, big.NewInt(90_000_000), big.NewInt(2_700_000))
	_, err := f.verifier.Verify(context.Background(), f.txHash.Hex(), "8453", "merchant-1", "ref-1")
	require.ErrorIs(t, err, ErrAmountMismatch)
	require.Equal(t, PaymentStatusFailed, f.store.get(t, "ref-1").Status)

	_, err = policy.ResetForRetry(context.Background(), "ref-1")
	require.NoError(t, err)

	// A corrected transaction under a new hash settles the payment.
	f.txHash = common.HexToHash("0xab00000000000000000000000000000000000000000000000000000000000002")
	f.mineSwept(t, big.NewInt(100_000_000), big.NewInt(3_000_000))

	result, err := f.verifier.Verify(context.Background(), f.txHash.Hex(), "8453", "merchant-1", "ref-1")
	require.NoError(t, err)
	assert.Equal(t, PaymentStatusCompleted, result.Status)
	assert.Equal(t, f.txHash.Hex(), f.store.get(t, "ref-1").TxHash)
}
