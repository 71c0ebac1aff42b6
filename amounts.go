package settlement

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// maxTokenDecimals bounds the exponent accepted from configuration. 77 is
// roughly the decimal width of a uint256.
const maxTokenDecimals = 77

// ToBaseUnits converts a human-denominated amount to on-chain integer base
// units. Precision loss is a hard failure: an amount with more fractional
// digits than the token supports cannot be represented on chain and must not
// be silently truncated.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if decimals < 0 || decimals > maxTokenDecimals {
		return nil, errors.Wrapf(ErrNumericOverflow, "token decimals %d", decimals)
	}
	if amount.IsNegative() {
		return nil, errors.Wrapf(ErrNumericOverflow, "negative amount %s", amount)
	}

	shifted := amount.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, errors.Wrapf(ErrNumericOverflow, "amount %s has sub-unit precision at %d decimals", amount, decimals)
	}
	return shifted.BigInt(), nil
}

// FromBaseUnits converts on-chain integer base units back to a decimal
// amount.
func FromBaseUnits(units *big.Int, decimals int32) (decimal.Decimal, error) {
	if units == nil {
		return decimal.Zero, errors.Wrap(ErrNumericOverflow, "nil base units")
	}
	if decimals < 0 || decimals > maxTokenDecimals {
		return decimal.Zero, errors.Wrapf(ErrNumericOverflow, "token decimals %d", decimals)
	}
	return decimal.NewFromBigInt(units, 0).Shift(-decimals), nil
}

// WithinTolerance reports whether |got - want| <= tolerance, in base units.
// A nil tolerance means exact match.
func WithinTolerance(got, want, tolerance *big.Int) bool {
	diff := new(big.Int).Sub(got, want)
	diff.Abs(diff)
	if tolerance == nil {
		return diff.Sign() == 0
	}
	return diff.Cmp(tolerance) <= 0
}
