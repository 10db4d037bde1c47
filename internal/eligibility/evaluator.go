// Package eligibility decides whether a rejected payment may be retried
// under a given retry policy. Evaluation is pure: it performs no I/O and
// reads no clock.
package eligibility

import (
	"fmt"

	"payretry/internal/types"
)

// Input is the part of a rejection the evaluator looks at. RejectionCode
// must already be normalized.
type Input struct {
	RejectionCode     string
	PaymentSettled    bool
	ContractCancelled bool
	MandateRevoked    bool
	ClientBlocked     bool
}

// InputFromEvent builds an Input from an ingress rejection event. The event's
// normalized code wins over its raw code when both are present.
func InputFromEvent(evt types.RejectionEvent) Input {
	code := evt.RejectionCode
	if code == "" {
		code = evt.RawRejectionCode
	}
	return Input{
		RejectionCode:     NormalizeRejectionCode(code),
		PaymentSettled:    evt.PaymentSettled,
		ContractCancelled: evt.ContractCancelled,
		MandateRevoked:    evt.MandateRevoked,
		ClientBlocked:     evt.ClientBlocked,
	}
}

// Decision is the evaluator's verdict.
type Decision struct {
	Eligibility types.Eligibility
	Reason      string
}

// Eligible reports whether the decision allows another attempt.
func (d Decision) Eligible() bool {
	return d.Eligibility == types.EligibilityEligible
}

// Evaluate classifies in under p. Checks run in a fixed order and the first
// match wins:
//  1. stop conditions enabled on the policy and reported by the event
//  2. blocked client
//  3. policy deny-list and the built-in hard-deny list
//  4. account-closed class when the policy disables retry on it
//  5. non-empty allow-list that does not contain the code
func Evaluate(in Input, p *types.RetryPolicy) Decision {
	switch {
	case p.StopOnPaymentSettled && in.PaymentSettled:
		return Decision{types.EligibilityNotEligiblePaymentSettled, "payment already settled"}
	case p.StopOnContractCancelled && in.ContractCancelled:
		return Decision{types.EligibilityNotEligibleContract, "contract cancelled"}
	case p.StopOnMandateRevoked && in.MandateRevoked:
		return Decision{types.EligibilityNotEligibleMandateRevoked, "mandate revoked"}
	}

	if in.ClientBlocked {
		return Decision{types.EligibilityNotEligibleClientBlocked, "client is blocked"}
	}

	code := in.RejectionCode
	if containsCode(p.NonRetryableCodes, code) || containsCode(hardDenyCodes, code) {
		return Decision{types.EligibilityNotEligibleReasonCode, fmt.Sprintf("rejection code %s is not retryable", code)}
	}

	if IsAccountClosedClass(code) && !p.RetryOnAM04 {
		return Decision{types.EligibilityNotEligibleReasonCode, fmt.Sprintf("policy disables retry on %s", code)}
	}

	if len(p.RetryableCodes) > 0 && !containsCode(p.RetryableCodes, code) {
		return Decision{types.EligibilityNotEligibleReasonCode, fmt.Sprintf("rejection code %s is not in the retryable list", code)}
	}

	return Decision{Eligibility: types.EligibilityEligible}
}
