// Package idgen generates identifiers for orders, escrows, ledger rows and
// provider references.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix + 32 lowercase hex chars, e.g. "ord_3f2a...".
// The result is safe to use as a Paystack transaction reference.
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether id looks like something WithPrefix(prefix) produced.
func Valid(prefix, id string) bool {
	if !strings.HasPrefix(id, prefix) {
		return false
	}
	rest := id[len(prefix):]
	if len(rest) != 32 {
		return false
	}
	for _, r := range rest {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
