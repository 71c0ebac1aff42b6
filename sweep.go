package settlement

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type (
	// FactoryCaller invokes the deposit factory's fee-splitting withdrawals.
	// Implementations pack calldata and hand it to an external sender; no key
	// material lives in this module.
	FactoryCaller interface {
		Sweep(ctx context.Context, chainId string, salt [32]byte, token, merchant common.Address) (common.Hash, error)
		SweepWithFee(ctx context.Context, chainId string, salt [32]byte, token, merchant common.Address, feeBps uint16) (common.Hash, error)
		BatchSweepWithFees(ctx context.Context, chainId string, salts [][32]byte, tokens, merchants []common.Address, feeBps []uint16) (common.Hash, error)
	}

	// SweepCoordinator moves settled funds from deterministic deposit
	// addresses to the merchant and platform wallets. It reads settlement
	// state and writes payout bookkeeping only; verification status belongs
	// to the Verifier.
	SweepCoordinator struct {
		payments PaymentStore
		registry *ChainRegistry
		factory  FactoryCaller
		log      Log
		clk      clock.Clock
	}

	SweepReceipt struct {
		PaymentReference  string          `json:"paymentReference"`
		SweepTxHash       common.Hash     `json:"sweepTxHash"`
		Merchant          common.Address  `json:"merchant"`
		PayoutAmount      decimal.Decimal `json:"payoutAmount"`
		PlatformFeeAmount decimal.Decimal `json:"platformFeeAmount"`
		ReleasedAt        int64           `json:"releasedAt"`
	}

	SweepItem struct {
		PaymentReference string
		Merchant         common.Address
		// FeeBpsOverride replaces the payment's configured fee for this sweep
		// when non-nil.
		FeeBpsOverride *uint16
	}

	// SweepOutcome reports one batch item. Items fail independently: a bad
	// item never blocks or corrupts its siblings' bookkeeping.
	SweepOutcome struct {
		PaymentReference string
		Receipt          *SweepReceipt
		Err              error
	}
)

func NewSweepCoordinator(payments PaymentStore, registry *ChainRegistry, factory FactoryCaller, log Log, clk clock.Clock) *SweepCoordinator {
	return &SweepCoordinator{
		payments: payments,
		registry: registry,
		factory:  factory,
		log:      log,
		clk:      clk,
	}
}

// Sweep forwards one payment's settled funds to the merchant and platform
// wallets. The payment must already be verified into escrow or completed;
// sweeping an unverified payment is rejected before any chain call.
func (s *SweepCoordinator) Sweep(ctx context.Context, item SweepItem) (*SweepReceipt, error) {
	payment, cfg, salt, feeBps, err := s.prepare(ctx, item)
	if err != nil {
		return nil, err
	}

	var txHash common.Hash
	if item.FeeBpsOverride != nil {
		txHash, err = s.factory.SweepWithFee(ctx, cfg.ChainId, salt, payment.Token, item.Merchant, feeBps)
	} else {
		txHash, err = s.factory.Sweep(ctx, cfg.ChainId, salt, payment.Token, item.Merchant)
	}
	if err != nil {
		return nil, classifyChainErr(err)
	}

	return s.bookkeep(ctx, payment, item.Merchant, feeBps, txHash)
}

// BatchSweep settles multiple deposit addresses. Items are validated
// individually, grouped per chain into one batchSweepWithFees call each, and
// bookkept individually; a failing item or chain is reported in its outcome
// without aborting the rest.
func (s *SweepCoordinator) BatchSweep(ctx context.Context, items []SweepItem) []SweepOutcome {
	outcomes := make([]SweepOutcome, len(items))

	type pending struct {
		idx     int
		payment *Payment
		salt    [32]byte
		feeBps  uint16
	}
	perChain := make(map[string][]pending)

	for i, item := range items {
		outcomes[i].PaymentReference = item.PaymentReference
		payment, cfg, salt, feeBps, err := s.prepare(ctx, item)
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		perChain[cfg.ChainId] = append(perChain[cfg.ChainId], pending{
			idx:     i,
			payment: payment,
			salt:    salt,
			feeBps:  feeBps,
		})
	}

	for chainId, batch := range perChain {
		salts := make([][32]byte, len(batch))
		tokens := make([]common.Address, len(batch))
		merchants := make([]common.Address, len(batch))
		fees := make([]uint16, len(batch))
		for i, p := range batch {
			salts[i] = p.salt
			tokens[i] = p.payment.Token
			merchants[i] = items[p.idx].Merchant
			fees[i] = p.feeBps
		}

		txHash, err := s.factory.BatchSweepWithFees(ctx, chainId, salts, tokens, merchants, fees)
		if err != nil {
			err = classifyChainErr(err)
			for _, p := range batch {
				outcomes[p.idx].Err = err
			}
			continue
		}

		for _, p := range batch {
			receipt, err := s.bookkeep(ctx, p.payment, items[p.idx].Merchant, p.feeBps, txHash)
			if err != nil {
				outcomes[p.idx].Err = err
				continue
			}
			outcomes[p.idx].Receipt = receipt
		}
	}

	return outcomes
}

func (s *SweepCoordinator) prepare(ctx context.Context, item SweepItem) (*Payment, ChainConfig, [32]byte, uint16, error) {
	payment, err := s.payments.GetPaymentByReference(ctx, item.PaymentReference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = errors.Wrapf(ErrPaymentNotFound, "reference %s", item.PaymentReference)
		}
		return nil, ChainConfig{}, [32]byte{}, 0, err
	}

	if !payment.Status.Settled() {
		return nil, ChainConfig{}, [32]byte{}, 0,
			errors.Wrapf(ErrSweepNotSettled, "payment %s is %s", payment.Reference, payment.Status)
	}
	if payment.Status == PaymentStatusReleased || payment.Extra.SweepTxHash != "" {
		return nil, ChainConfig{}, [32]byte{}, 0,
			errors.Wrapf(ErrAlreadySwept, "payment %s", payment.Reference)
	}

	cfg, err := s.registry.Resolve(payment.ChainId)
	if err != nil {
		return nil, ChainConfig{}, [32]byte{}, 0, err
	}

	feeBps := uint16(payment.PlatformFeeBps)
	if item.FeeBpsOverride != nil {
		feeBps = *item.FeeBpsOverride
	}
	return payment, cfg, SaltForPayment(payment.ExternalId), feeBps, nil
}

func (s *SweepCoordinator) bookkeep(ctx context.Context, payment *Payment, merchant common.Address, feeBps uint16, txHash common.Hash) (*SweepReceipt, error) {
	fee, payout := SplitAmount(payment.Amount, int64(feeBps))
	releasedAt := s.clk.Now().Unix()

	record := &PayoutRecord{
		SweepTxHash:       txHash.Hex(),
		PayoutAmount:      payout,
		PlatformFeeAmount: fee,
		Merchant:          merchant,
		ReleasedAt:        releasedAt,
	}
	if err := s.payments.RecordPayout(ctx, payment.Reference, record); err != nil {
		return nil, errors.Wrapf(err, "record payout for %s", payment.Reference)
	}

	s.log.Info().
		Str("payment", payment.Reference).
		Str("chain", payment.ChainId).
		Str("sweepTx", txHash.Hex()).
		Str("merchant", merchant.Hex()).
		Str("payout", payout.String()).
		Str("platformFee", fee.String()).
		Msg("payment swept")

	return &SweepReceipt{
		PaymentReference:  payment.Reference,
		SweepTxHash:       txHash,
		Merchant:          merchant,
		PayoutAmount:      payout,
		PlatformFeeAmount: fee,
		ReleasedAt:        releasedAt,
	}, nil
}
