package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SagaKey derives a deterministic transaction id from the content of a
// saga request. Requests that arrive without an explicit transaction id
// (and their at-least-once redeliveries) hash to the same id, so the saga
// entity's own idempotence collapses the duplicates.
//
// The key is a SHA-256 over the ordered postings, e.g.
// "deposit:A1:10.00|withdraw:A2:10.00|".
func SagaKey(deposits, withdrawals [][2]string) string {
	var b strings.Builder
	for _, p := range deposits {
		b.WriteString("deposit:")
		b.WriteString(p[0])
		b.WriteString(":")
		b.WriteString(p[1])
		b.WriteString("|")
	}
	for _, p := range withdrawals {
		b.WriteString("withdraw:")
		b.WriteString(p[0])
		b.WriteString(":")
		b.WriteString(p[1])
		b.WriteString("|")
	}

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}
