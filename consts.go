package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DEFAULT_REQUIRED_CONFIRMATIONS applies to chains with no explicit
	// registry entry. Conservative on purpose; fast-finality chains should
	// always carry their own value.
	DEFAULT_REQUIRED_CONFIRMATIONS = 20

	BPS_DENOMINATOR = 10_000

	DEFAULT_PLATFORM_FEE_BPS = 300

	// Verification cache windows. Failures expire faster so a payment held up
	// by a transient RPC fault can be re-checked without manual intervention.
	DEFAULT_SUCCESS_CACHE_TTL = 10 * time.Minute
	DEFAULT_FAILURE_CACHE_TTL = 2 * time.Minute
)

var BPS_DENOMINATOR_DEC = decimal.NewFromInt(BPS_DENOMINATOR)
