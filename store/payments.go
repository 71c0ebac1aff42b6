package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/paylinx/settlement"
)

// Payments is the gorm-backed ledger. Settlement and retry writes are
// conditional updates keyed on the prior status, so two instances racing the
// same payment cannot both win: the second writer's predicate no longer
// matches and it observes the conflict instead of overwriting.
type Payments struct {
	db *gorm.DB
}

func NewPayments(db *gorm.DB) *Payments {
	return &Payments{db: db}
}

type paymentRow struct {
	Reference  string `gorm:"column:reference;primaryKey"`
	ExternalId string `gorm:"column:external_id;index"`
	MerchantId string `gorm:"column:merchant_id;index"`

	ChainId       string          `gorm:"column:chain_id"`
	Token         string          `gorm:"column:token"`
	TokenDecimals int32           `gorm:"column:token_decimals"`
	Amount        decimal.Decimal `gorm:"column:amount"`

	PlatformFeeBps    int64           `gorm:"column:platform_fee_bps"`
	PlatformFeeAmount decimal.Decimal `gorm:"column:platform_fee_amount"`
	PayoutAmount      decimal.Decimal `gorm:"column:payout_amount"`

	Status  string `gorm:"column:status;index"`
	Message string `gorm:"column:message"`

	TxHash       string `gorm:"column:tx_hash;index"`
	PayerAddress string `gorm:"column:payer_address"`

	ReleaseType string                  `gorm:"column:release_type"`
	Extra       settlement.PaymentExtra `gorm:"column:extra;type:json"`

	EscrowedAt int64 `gorm:"column:escrowed_at"`
	ReleasedAt int64 `gorm:"column:released_at"`
	CreatedAt  int64 `gorm:"column:created_at"`
	UpdatedAt  int64 `gorm:"column:updated_at"`
}

func (paymentRow) TableName() string {
	return "payments"
}

var verifiableStatuses = []string{
	settlement.PaymentStatusPending.String(),
	settlement.PaymentStatusInitialized.String(),
	settlement.PaymentStatusProcessing.String(),
}

func (s *Payments) CreatePayment(ctx context.Context, payment *settlement.Payment) error {
	return s.db.WithContext(ctx).Create(toRow(payment)).Error
}

func (s *Payments) GetPaymentByReference(ctx context.Context, reference string) (*settlement.Payment, error) {
	var row paymentRow
	if err := s.db.WithContext(ctx).First(&row, "reference = ?", reference).Error; err != nil {
		return nil, err
	}
	return fromRow(&row), nil
}

// MarkSettled is the compare-and-set settlement write: it succeeds only while
// the payment is still in a pre-settlement status. Losing the race to an
// identical settlement is not an error; losing it to a different transaction
// hash is ErrHashMismatch.
func (s *Payments) MarkSettled(ctx context.Context, reference string, settled *settlement.Payment) error {
	res := s.db.WithContext(ctx).
		Model(&paymentRow{}).
		Where("reference = ? AND status IN ?", reference, verifiableStatuses).
		Updates(map[string]interface{}{
			"status":              settled.Status.String(),
			"message":             settled.Message,
			"tx_hash":             settled.TxHash,
			"payer_address":       settled.PayerAddress,
			"platform_fee_amount": settled.PlatformFeeAmount,
			"payout_amount":       settled.PayoutAmount,
			"escrowed_at":         settled.EscrowedAt,
			"updated_at":          settled.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	current, err := s.GetPaymentByReference(ctx, reference)
	if err != nil {
		return err
	}
	if current.Status.Settled() {
		if current.MatchesTxHash(settled.TxHash) {
			return nil
		}
		return errors.Wrapf(settlement.ErrHashMismatch, "payment %s settled with %s", reference, current.TxHash)
	}
	return errors.Errorf("payment %s in status %s cannot settle", reference, current.Status)
}

// MarkFailed is the compare-and-set failure write, same shape as MarkSettled:
// it only fires while the payment is still verifiable. A racing verification
// that already settled the payment makes this a no-op, so a settled hash can
// never be demoted by a slower caller's terminal evidence.
func (s *Payments) MarkFailed(ctx context.Context, reference string, message string, updatedAt int64) error {
	res := s.db.WithContext(ctx).
		Model(&paymentRow{}).
		Where("reference = ? AND status IN ?", reference, verifiableStatuses).
		Updates(map[string]interface{}{
			"status":     settlement.PaymentStatusFailed.String(),
			"message":    message,
			"updated_at": updatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		_, err := s.GetPaymentByReference(ctx, reference)
		return err
	}
	return nil
}

// RecordPayout writes sweep bookkeeping, conditional on the payment holding
// in a settled, not-yet-released state.
func (s *Payments) RecordPayout(ctx context.Context, reference string, payout *settlement.PayoutRecord) error {
	current, err := s.GetPaymentByReference(ctx, reference)
	if err != nil {
		return err
	}
	extra := current.Extra
	extra.SweepTxHash = payout.SweepTxHash

	res := s.db.WithContext(ctx).
		Model(&paymentRow{}).
		Where("reference = ? AND status IN ?", reference, []string{
			settlement.PaymentStatusEscrow.String(),
			settlement.PaymentStatusCompleted.String(),
		}).
		Updates(map[string]interface{}{
			"status":              settlement.PaymentStatusReleased.String(),
			"payout_amount":       payout.PayoutAmount,
			"platform_fee_amount": payout.PlatformFeeAmount,
			"extra":               extra,
			"released_at":         payout.ReleasedAt,
			"updated_at":          payout.ReleasedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.Errorf("payment %s in status %s cannot record payout", reference, current.Status)
	}
	return nil
}

// ResetPayment clears the transaction linkage of a failed payment and
// returns it to pending, conditional on status = failed.
func (s *Payments) ResetPayment(ctx context.Context, reference string, updatedAt int64) error {
	res := s.db.WithContext(ctx).
		Model(&paymentRow{}).
		Where("reference = ? AND status = ?", reference, settlement.PaymentStatusFailed.String()).
		Updates(map[string]interface{}{
			"status":        settlement.PaymentStatusPending.String(),
			"message":       "",
			"tx_hash":       "",
			"payer_address": "",
			"updated_at":    updatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetPaymentByReference(ctx, reference); err != nil {
			return err
		}
		return errors.Wrapf(settlement.ErrRetryNotFailed, "payment %s", reference)
	}
	return nil
}

func toRow(p *settlement.Payment) *paymentRow {
	return &paymentRow{
		Reference:         p.Reference,
		ExternalId:        p.ExternalId,
		MerchantId:        p.MerchantId,
		ChainId:           p.ChainId,
		Token:             p.Token.Hex(),
		TokenDecimals:     p.TokenDecimals,
		Amount:            p.Amount,
		PlatformFeeBps:    p.PlatformFeeBps,
		PlatformFeeAmount: p.PlatformFeeAmount,
		PayoutAmount:      p.PayoutAmount,
		Status:            p.Status.String(),
		Message:           p.Message,
		TxHash:            p.TxHash,
		PayerAddress:      p.PayerAddress,
		ReleaseType:       string(p.ReleaseType),
		Extra:             p.Extra,
		EscrowedAt:        p.EscrowedAt,
		ReleasedAt:        p.ReleasedAt,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func fromRow(row *paymentRow) *settlement.Payment {
	return &settlement.Payment{
		Reference:         row.Reference,
		ExternalId:        row.ExternalId,
		MerchantId:        row.MerchantId,
		ChainId:           row.ChainId,
		Token:             common.HexToAddress(row.Token),
		TokenDecimals:     row.TokenDecimals,
		Amount:            row.Amount,
		PlatformFeeBps:    row.PlatformFeeBps,
		PlatformFeeAmount: row.PlatformFeeAmount,
		PayoutAmount:      row.PayoutAmount,
		Status:            settlement.PaymentStatus(row.Status),
		Message:           row.Message,
		TxHash:            row.TxHash,
		PayerAddress:      row.PayerAddress,
		ReleaseType:       settlement.ReleaseType(row.ReleaseType),
		Extra:             row.Extra,
		EscrowedAt:        row.EscrowedAt,
		ReleasedAt:        row.ReleasedAt,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
}
