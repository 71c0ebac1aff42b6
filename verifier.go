package settlement

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type (
	// VerificationResult is what every caller of Verify observes for a given
	// (transaction hash, payment) pair, whether it executed the verification
	// or joined one in flight.
	VerificationResult struct {
		PaymentReference string          `json:"paymentReference"`
		TxHash           common.Hash     `json:"txHash"`
		Status           PaymentStatus   `json:"status"`
		AlreadyCompleted bool            `json:"alreadyCompleted"`
		Amount           decimal.Decimal `json:"amount"`
		PayoutAmount     decimal.Decimal `json:"payoutAmount"`
		PlatformFee      decimal.Decimal `json:"platformFee"`
		Payer            common.Address  `json:"payer"`
		Confirmations    uint64          `json:"confirmations"`
		VerifiedAt       int64           `json:"verifiedAt"`
	}

	// Verifier reconciles claimed transactions against pending payments and
	// transitions their settlement state. It is the only component allowed to
	// move a payment into a settled or failed status.
	Verifier struct {
		payments PaymentStore
		registry *ChainRegistry
		cache    *VerificationCache
		chain    ChainReader
		notifier Notifier
		log      Log
		clk      clock.Clock

		// tolerance is the permitted reconciliation slack in token base
		// units. nil means exact match.
		tolerance *big.Int
	}

	VerifierOption func(*Verifier)
)

// WithAmountTolerance sets the reconciliation tolerance in base units.
func WithAmountTolerance(units *big.Int) VerifierOption {
	return func(v *Verifier) { v.tolerance = units }
}

func NewVerifier(
	payments PaymentStore,
	registry *ChainRegistry,
	cache *VerificationCache,
	chain ChainReader,
	notifier Notifier,
	log Log,
	clk clock.Clock,
	opts ...VerifierOption,
) *Verifier {
	v := &Verifier{
		payments: payments,
		registry: registry,
		cache:    cache,
		chain:    chain,
		notifier: notifier,
		log:      log,
		clk:      clk,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reconciles a claimed transaction hash against a pending payment.
//
// Idempotency contract: re-invoking with the hash already recorded by a
// successful verification returns success with AlreadyCompleted set and does
// not touch the chain or the ledger again. Re-invoking with a different hash
// against a settled payment fails with ErrHashMismatch and never overwrites
// the recorded hash. Concurrent calls for the same (hash, payment) pair share
// a single expensive verification via the cache.
func (v *Verifier) Verify(ctx context.Context, txHash string, chainId string, merchantId string, paymentReference string) (*VerificationResult, error) {
	hash, err := parseTxHash(txHash)
	if err != nil {
		return nil, err
	}

	payment, err := v.payments.GetPaymentByReference(ctx, paymentReference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrPaymentNotFound, "reference %s", paymentReference)
		}
		return nil, errors.Wrap(err, "load payment")
	}
	if merchantId != "" && payment.MerchantId != merchantId {
		return nil, errors.Wrapf(ErrPaymentNotFound, "reference %s", paymentReference)
	}

	if payment.Status.Settled() {
		if payment.MatchesTxHash(txHash) {
			v.log.Debug().
				Str("payment", payment.Reference).
				Str("txHash", hash.Hex()).
				Msg("verification replayed for settled payment")
			return v.settledResult(payment, hash), nil
		}
		return nil, errors.Wrapf(ErrHashMismatch, "payment %s settled with %s, got %s",
			payment.Reference, payment.TxHash, hash.Hex())
	}

	key := VerificationKey(hash, payment.Reference)
	result, isNew, err := v.cache.GetOrJoin(key, func() (*VerificationResult, error) {
		return v.verifyOnChain(ctx, payment, hash, chainId)
	})
	if err != nil {
		return nil, err
	}
	if !isNew {
		v.log.Debug().
			Str("payment", payment.Reference).
			Str("txHash", hash.Hex()).
			Msg("joined in-flight verification")
	}
	return result, nil
}

// verifyOnChain is the expensive path: chain config resolution, receipt
// lookup, confirmation check, event decoding, reconciliation and the ledger
// write. The cache guarantees at most one execution per key at a time.
func (v *Verifier) verifyOnChain(ctx context.Context, payment *Payment, hash common.Hash, chainId string) (*VerificationResult, error) {
	normalized, err := NormalizeChainID(chainId)
	if err != nil {
		return nil, v.reject(ctx, payment, err, false)
	}
	if payment.ChainId != "" {
		expected, chainErr := NormalizeChainID(payment.ChainId)
		if chainErr == nil && expected != normalized {
			err = errors.Wrapf(ErrInvalidChainID, "payment %s expects chain %s, got %s",
				payment.Reference, expected, normalized)
			return nil, v.reject(ctx, payment, err, false)
		}
	}

	cfg, err := v.registry.Resolve(normalized)
	if err != nil {
		return nil, v.reject(ctx, payment, err, false)
	}

	receipt, err := v.chain.TransactionReceipt(ctx, cfg.ChainId, hash)
	if err != nil {
		return nil, v.reject(ctx, payment, classifyChainErr(err), false)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		err = errors.Wrapf(ErrTransactionReverted, "tx %s", hash.Hex())
		return nil, v.reject(ctx, payment, err, true)
	}

	head, err := v.chain.BlockNumber(ctx, cfg.ChainId)
	if err != nil {
		return nil, v.reject(ctx, payment, classifyChainErr(err), false)
	}
	confirmations := uint64(0)
	if head >= receipt.BlockNumber {
		confirmations = head - receipt.BlockNumber + 1
	}
	if confirmations < cfg.RequiredConfirmations {
		err = errors.Wrapf(ErrConfirmationPending, "tx %s has %d of %d confirmations",
			hash.Hex(), confirmations, cfg.RequiredConfirmations)
		return nil, v.reject(ctx, payment, err, false)
	}

	salt := SaltForPayment(payment.ExternalId)
	event, err := ParseSweptEvent(receipt.Logs, cfg.Factory, salt)
	if err != nil {
		return nil, v.reject(ctx, payment, err, true)
	}

	if err := v.reconcile(payment, event, receipt.From); err != nil {
		return nil, v.reject(ctx, payment, err, errors.Is(err, ErrAmountMismatch))
	}

	now := v.clk.Now().Unix()
	settled := *payment
	settled.TxHash = hash.Hex()
	settled.PayerAddress = receipt.From.Hex()
	settled.EscrowedAt = now
	settled.UpdatedAt = now
	settled.Message = "verified on chain"
	settled.PlatformFeeAmount, err = FromBaseUnits(event.PlatformFee, payment.TokenDecimals)
	if err != nil {
		return nil, v.reject(ctx, payment, err, false)
	}
	settled.PayoutAmount, err = FromBaseUnits(new(big.Int).Sub(event.Amount, event.PlatformFee), payment.TokenDecimals)
	if err != nil {
		return nil, v.reject(ctx, payment, err, false)
	}
	// Automatic release settles straight to completed; manual and
	// dispute-resolution payments hold in escrow until swept.
	settled.Status = PaymentStatusEscrow
	if payment.ReleaseType == ReleaseTypeAutomatic {
		settled.Status = PaymentStatusCompleted
	}

	if err := v.payments.MarkSettled(ctx, payment.Reference, &settled); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = errors.Wrapf(ErrPaymentNotFound, "reference %s", payment.Reference)
		}
		return nil, v.reject(ctx, payment, err, false)
	}

	v.log.Info().
		Str("payment", settled.Reference).
		Str("chain", cfg.ChainId).
		Str("txHash", hash.Hex()).
		Str("payer", settled.PayerAddress).
		Str("amount", settled.Amount.String()).
		Str("payout", settled.PayoutAmount.String()).
		Str("platformFee", settled.PlatformFeeAmount.String()).
		Uint64("confirmations", confirmations).
		Msg("payment settled")
	v.notifier.NotifySuccess(ctx, &settled, event)

	return &VerificationResult{
		PaymentReference: settled.Reference,
		TxHash:           hash,
		Status:           settled.Status,
		Amount:           settled.Amount,
		PayoutAmount:     settled.PayoutAmount,
		PlatformFee:      settled.PlatformFeeAmount,
		Payer:            receipt.From,
		Confirmations:    confirmations,
		VerifiedAt:       now,
	}, nil
}

// reconcile checks the decoded settlement evidence against the payment's
// expected amounts. All arithmetic happens in integer base units.
func (v *Verifier) reconcile(payment *Payment, event *SweptEvent, payer common.Address) error {
	if event.Token != payment.Token {
		return errors.Wrapf(ErrAmountMismatch, "token %s, expected %s", event.Token, payment.Token)
	}

	expectedTotal, err := ToBaseUnits(payment.Amount, payment.TokenDecimals)
	if err != nil {
		return err
	}
	expectedFee := new(big.Int).Mul(expectedTotal, big.NewInt(payment.PlatformFeeBps))
	expectedFee.Div(expectedFee, big.NewInt(BPS_DENOMINATOR))
	expectedPayout := new(big.Int).Sub(expectedTotal, expectedFee)

	if !WithinTolerance(event.Amount, expectedTotal, v.tolerance) {
		return errors.Wrapf(ErrAmountMismatch, "total %s, expected %s", event.Amount, expectedTotal)
	}
	if !WithinTolerance(event.PlatformFee, expectedFee, v.tolerance) {
		return errors.Wrapf(ErrAmountMismatch, "platform fee %s, expected %s", event.PlatformFee, expectedFee)
	}
	merchantShare := new(big.Int).Sub(event.Amount, event.PlatformFee)
	if !WithinTolerance(merchantShare, expectedPayout, v.tolerance) {
		return errors.Wrapf(ErrAmountMismatch, "merchant share %s, expected %s", merchantShare, expectedPayout)
	}

	if payment.PayerAddress != "" && common.HexToAddress(payment.PayerAddress) != payer {
		return errors.Wrapf(ErrAmountMismatch, "payer %s, expected %s", payer, payment.PayerAddress)
	}
	return nil
}

// reject records a verification failure. Terminal evidence failures move the
// payment to failed; retryable and caller errors leave it untouched. The
// transaction hash is never written on a failure path. The failure write is
// conditional in the store, so a concurrent verification that settled the
// payment under another hash wins over this caller's stale snapshot.
func (v *Verifier) reject(ctx context.Context, payment *Payment, cause error, terminal bool) error {
	if terminal && payment.Status.Verifiable() {
		if err := v.payments.MarkFailed(ctx, payment.Reference, cause.Error(), v.clk.Now().Unix()); err != nil {
			v.log.Error().Err(err).Str("payment", payment.Reference).Msg("failed to mark payment failed")
		}
	}

	v.log.Warn().Err(cause).
		Str("payment", payment.Reference).
		Bool("terminal", terminal).
		Msg("verification rejected")
	v.notifier.NotifyFailure(ctx, payment, cause)
	return cause
}

func (v *Verifier) settledResult(payment *Payment, hash common.Hash) *VerificationResult {
	return &VerificationResult{
		PaymentReference: payment.Reference,
		TxHash:           hash,
		Status:           payment.Status,
		AlreadyCompleted: true,
		Amount:           payment.Amount,
		PayoutAmount:     payment.PayoutAmount,
		PlatformFee:      payment.PlatformFeeAmount,
		Payer:            common.HexToAddress(payment.PayerAddress),
		VerifiedAt:       payment.EscrowedAt,
	}
}

func parseTxHash(raw string) (common.Hash, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	if len(s) != 2+2*common.HashLength {
		return common.Hash{}, errors.Wrapf(ErrInvalidTxHash, "%q", raw)
	}
	hash := common.HexToHash(s)
	if hash == (common.Hash{}) {
		return common.Hash{}, errors.Wrapf(ErrInvalidTxHash, "%q", raw)
	}
	return hash, nil
}

// classifyChainErr folds unclassified RPC errors into ErrChainRPC while
// letting already-typed outcomes (pending confirmations) pass through.
func classifyChainErr(err error) error {
	if errors.Is(err, ErrConfirmationPending) || errors.Is(err, ErrChainRPC) {
		return err
	}
	return errors.Wrap(ErrChainRPC, err.Error())
}
