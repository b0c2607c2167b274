package util

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// NormalizePayerPayeeID canonicalises an external payer or payee identifier
// to [A-Z0-9_]+: uppercase, dashes/dots/spaces become underscores, anything
// else outside the set is stripped, runs of underscores collapse, and
// leading/trailing underscores are trimmed. Idempotent and never fails;
// the result is empty only when the input had no alphanumerics.
func NormalizePayerPayeeID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		switch {
		case r == '-' || r == '.' || r == ' ':
			b.WriteByte('_')
		case r == '_' || unicode.IsDigit(r) || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		}
	}
	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	return strings.Trim(out, "_")
}

// GenerateIsaSenderID derives the 15-char alphanumeric ISA sender id for a
// payer: normalized id with underscores dropped, truncated to 15. An input
// with no alphanumerics falls back to a PAYER#### placeholder.
func GenerateIsaSenderID(payerID string) string {
	id := strings.ReplaceAll(NormalizePayerPayeeID(payerID), "_", "")
	if id == "" {
		return fmt.Sprintf("PAYER%d", time.Now().UnixMilli()%10000)
	}
	if len(id) > 15 {
		id = id[:15]
	}
	return id
}

// GenerateGsApplicationSenderID is an alias for GenerateIsaSenderID; the GS
// envelope reuses the interchange sender id.
func GenerateGsApplicationSenderID(payerID string) string {
	return GenerateIsaSenderID(payerID)
}
