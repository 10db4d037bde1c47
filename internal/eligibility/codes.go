package eligibility

import (
	"slices"
	"strings"
)

// Normalized rejection codes with dedicated handling.
const (
	CodeAccountClosed = "AM04_ACCOUNT_CLOSED"
	CodeIBANInvalid   = "AC01_IBAN_INVALID"
)

var hardDenyCodes = []string{
	CodeIBANInvalid,
	"AC13_DEBTOR_ACCOUNT_TYPE",
	"CNOR_CREDITOR_NOT_ON_WHITELIST",
	"DNOR_DEBTOR_NOT_ON_WHITELIST",
	"FF05_DUPLICATE_ENTRY",
	"FOCR_FOLLOWING_CANCELLATION",
}

var defaultRetryableCodes = []string{
	CodeAccountClosed,
	"AC04_ACCOUNT_CLOSED",
	"AC06_ACCOUNT_BLOCKED",
	"AG01_TRANSACTION_FORBIDDEN",
	"MS02_NOT_SPECIFIED_REASON",
	"MS03_AGENT_REASON",
}

// HardDenyCodes returns the codes that are never retried, whatever the
// policy says.
func HardDenyCodes() []string { return slices.Clone(hardDenyCodes) }

// DefaultRetryableCodes returns the allow-list seeded into new policies.
func DefaultRetryableCodes() []string { return slices.Clone(defaultRetryableCodes) }

// NormalizeRejectionCode maps a raw network code onto the engine's code
// vocabulary. Unknown codes are returned trimmed and upper-cased. AC04 keeps
// its own code even though its label mentions a closed account.
func NormalizeRejectionCode(raw string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case code == "":
		return ""
	case code == "AM04" || (strings.Contains(code, "CLOSED") && !strings.HasPrefix(code, "AC04")):
		return CodeAccountClosed
	case code == "AC01" || strings.Contains(code, "IBAN_INVALID") || strings.Contains(code, "INCORRECT_IBAN"):
		return CodeIBANInvalid
	}
	return code
}

// IsAccountClosedClass reports whether code belongs to the "no mandate /
// account closed" class governed by RetryPolicy.RetryOnAM04.
func IsAccountClosedClass(code string) bool {
	return code == CodeAccountClosed
}

func containsCode(list []string, code string) bool {
	return slices.ContainsFunc(list, func(c string) bool {
		return strings.EqualFold(strings.TrimSpace(c), code)
	})
}
