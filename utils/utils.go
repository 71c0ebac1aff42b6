package utils

import (
	"crypto/sha256"
	"strings"

	"github.com/gofrs/uuid"
)

// PaymentReference derives a stable UUID-shaped reference from ordered
// identifier parts (merchant id, external order id, chain id). Retried
// create calls for the same order map to the same payment reference.
func PaymentReference(parts ...string) string {
	if len(parts) == 0 {
		parts = append(parts, uuid.Nil.String())
	}

	joined := strings.Join(parts, "\x1f")
	return uuidFromHash([]byte(joined))
}

func uuidFromHash(b []byte) string {
	sum := sha256.Sum256(b)
	out := sum[:16]
	out[6] = (out[6] & 0x0f) | 0x40
	out[8] = (out[8] & 0x3f) | 0x80
	return uuid.FromBytesOrNil(out).String()
}
