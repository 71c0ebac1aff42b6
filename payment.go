package settlement

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
	"github.com/shopspring/decimal"
)

type (
	// PaymentStore is the ledger collaborator. Implementations own the
	// atomicity of MarkSettled and ResetPayment: both are conditional writes
	// that must fail cleanly when a concurrent caller already moved the
	// record out of the expected prior state.
	PaymentStore interface {
		CreatePayment(ctx context.Context, payment *Payment) error
		GetPaymentByReference(ctx context.Context, reference string) (*Payment, error)
		// MarkSettled records the transaction hash, payer and settled status.
		// Conditional on the payment still being in a pre-settlement state.
		MarkSettled(ctx context.Context, reference string, settled *Payment) error
		// MarkFailed moves a payment to failed with a reason. Conditional on
		// the payment still being verifiable: a payment settled by a
		// concurrent verification is left untouched.
		MarkFailed(ctx context.Context, reference string, message string, updatedAt int64) error
		// RecordPayout writes sweep bookkeeping (payout/fee amounts, sweep tx,
		// released timestamp). It never touches verification state.
		RecordPayout(ctx context.Context, reference string, payout *PayoutRecord) error
		// ResetPayment clears the transaction linkage of a failed payment and
		// returns it to pending. Conditional on status = failed.
		ResetPayment(ctx context.Context, reference string, updatedAt int64) error
	}

	Payment struct {
		Reference  string `json:"reference"`
		ExternalId string `json:"externalId"`
		MerchantId string `json:"merchantId"`

		ChainId       string          `json:"chainId"`
		Token         common.Address  `json:"token"`
		TokenDecimals int32           `json:"tokenDecimals"`
		Amount        decimal.Decimal `json:"amount"`

		PlatformFeeBps    int64           `json:"platformFeeBps"`
		PlatformFeeAmount decimal.Decimal `json:"platformFeeAmount"`
		PayoutAmount      decimal.Decimal `json:"payoutAmount"`

		Status  PaymentStatus `json:"status"`
		Message string        `json:"message"`

		// TxHash is set exactly once, by a successful verification. Empty
		// means no transaction has been accepted for this payment.
		TxHash       string `json:"txHash,omitempty"`
		PayerAddress string `json:"payerAddress,omitempty"`

		ReleaseType ReleaseType  `json:"releaseType"`
		Extra       PaymentExtra `json:"extra,omitempty"`

		EscrowedAt int64 `json:"escrowedAt,omitempty"`
		ReleasedAt int64 `json:"releasedAt,omitempty"`
		CreatedAt  int64 `json:"createdAt"`
		UpdatedAt  int64 `json:"updatedAt"`
	}

	PaymentExtra struct {
		SweepTxHash string `json:"sweepTxHash,omitempty"`
		DisputeId   string `json:"disputeId,omitempty"`
	}

	// PayoutRecord is the sweep bookkeeping written by the SweepCoordinator.
	PayoutRecord struct {
		SweepTxHash       string          `json:"sweepTxHash"`
		PayoutAmount      decimal.Decimal `json:"payoutAmount"`
		PlatformFeeAmount decimal.Decimal `json:"platformFeeAmount"`
		Merchant          common.Address  `json:"merchant"`
		ReleasedAt        int64           `json:"releasedAt"`
	}
)

type PmtOptFunc func(*Payment)

func WithReleaseType(rt ReleaseType) PmtOptFunc {
	return func(p *Payment) { p.ReleaseType = rt }
}

func WithPlatformFeeBps(bps int64) PmtOptFunc {
	return func(p *Payment) {
		p.PlatformFeeBps = bps
		p.PlatformFeeAmount, p.PayoutAmount = SplitAmount(p.Amount, bps)
	}
}

func NewPayment(clk clock.Clock,
	reference string,
	externalId string,
	merchantId string,
	chainId string,
	token common.Address,
	tokenDecimals int32,
	amount decimal.Decimal,
	opts ...PmtOptFunc,
) *Payment {
	payment := &Payment{
		Reference:     reference,
		ExternalId:    externalId,
		MerchantId:    merchantId,
		ChainId:       chainId,
		Token:         token,
		TokenDecimals: tokenDecimals,
		Amount:        amount,
		Status:        PaymentStatusPending,
		ReleaseType:   ReleaseTypeAutomatic,

		CreatedAt: clk.Now().Unix(),
		UpdatedAt: clk.Now().Unix(),
	}
	payment.PlatformFeeBps = DEFAULT_PLATFORM_FEE_BPS
	payment.PlatformFeeAmount, payment.PayoutAmount = SplitAmount(amount, payment.PlatformFeeBps)
	for _, opt := range opts {
		opt(payment)
	}
	return payment
}

// SplitAmount divides a payment amount into platform fee and merchant payout
// using basis points. The fee takes any rounding remainder's complement so
// fee + payout always equals the total.
func SplitAmount(amount decimal.Decimal, feeBps int64) (fee decimal.Decimal, payout decimal.Decimal) {
	fee = amount.Mul(decimal.NewFromInt(feeBps)).Div(BPS_DENOMINATOR_DEC)
	payout = amount.Sub(fee)
	return fee, payout
}

func (p *Payment) UpdateStatus(clk clock.Clock, status PaymentStatus, message string) {
	p.Status = status
	p.Message = message
	p.UpdatedAt = clk.Now().Unix()
}

// MatchesTxHash compares the recorded hash against a claimed one, tolerating
// case and 0x-prefix differences.
func (p *Payment) MatchesTxHash(txHash string) bool {
	if p.TxHash == "" {
		return false
	}
	return common.HexToHash(p.TxHash) == common.HexToHash(txHash)
}

func (j PaymentExtra) Value() (driver.Value, error) {
	valueString, err := json.Marshal(j)
	return string(valueString), err
}

func (j *PaymentExtra) Scan(value any) error {
	if err := json.Unmarshal(value.([]byte), &j); err != nil {
		return err
	}
	return nil
}

type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusInitialized   PaymentStatus = "initialized"
	PaymentStatusEscrow        PaymentStatus = "escrow"
	PaymentStatusProcessing    PaymentStatus = "processing"
	PaymentStatusReleased      PaymentStatus = "released"
	PaymentStatusCompleted     PaymentStatus = "completed"
	PaymentStatusRefunded      PaymentStatus = "refunded"
	PaymentStatusPartialRefund PaymentStatus = "partially_refunded"
	PaymentStatusFailed        PaymentStatus = "failed"
	PaymentStatusDisputed      PaymentStatus = "disputed"
	PaymentStatusCancelled     PaymentStatus = "cancelled"
)

func (p PaymentStatus) String() string {
	return string(p)
}

// Settled reports whether funds have been confirmed on-chain for the payment.
// A settled payment carries an immutable transaction hash.
func (p PaymentStatus) Settled() bool {
	switch p {
	case PaymentStatusEscrow, PaymentStatusReleased, PaymentStatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether the payment can no longer transition.
func (p PaymentStatus) Terminal() bool {
	switch p {
	case PaymentStatusCompleted, PaymentStatusRefunded, PaymentStatusCancelled:
		return true
	}
	return false
}

// Verifiable reports whether a fresh verification may settle the payment.
func (p PaymentStatus) Verifiable() bool {
	switch p {
	case PaymentStatusPending, PaymentStatusInitialized, PaymentStatusProcessing:
		return true
	}
	return false
}

type ReleaseType string

const (
	ReleaseTypeAutomatic         ReleaseType = "automatic"
	ReleaseTypeManual            ReleaseType = "manual"
	ReleaseTypeDisputeResolution ReleaseType = "dispute_resolution"
)

func ParseReleaseType(s string) (ReleaseType, bool) {
	switch ReleaseType(strings.ToLower(s)) {
	case ReleaseTypeAutomatic:
		return ReleaseTypeAutomatic, true
	case ReleaseTypeManual:
		return ReleaseTypeManual, true
	case ReleaseTypeDisputeResolution:
		return ReleaseTypeDisputeResolution, true
	}
	return "", false
}
