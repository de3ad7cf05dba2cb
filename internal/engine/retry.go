package engine

import (
	"context"
	"errors"
	"math"
	"net"
	"strings"

	"github.com/weftlabs/weft/pkg/schema"
)

// budgetEscalationFactor multiplies a step's token budget on each tier
// escalation.
const budgetEscalationFactor = 1.5

// IsRetryableError classifies whether a step failure warrants a retry
// at the next tier. Timeouts, rate limits, and transient provider
// errors qualify; validation and reference errors never do. Unknown
// errors are treated as terminal.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// A step-level deadline is retryable; a cancelled run is not.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var werr *schema.WeftError
	if errors.As(err, &werr) {
		return werr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"too many requests",
		"overloaded",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Escalate moves a routing decision one tier up and grows the budget by
// the escalation factor. It reports false when the decision is already
// at the top tier and the failure is terminal.
func Escalate(decision *schema.RoutingDecision, budget *schema.TokenBudget) bool {
	next := decision.Tier.Next()
	if next == decision.Tier {
		return false
	}
	decision.Tier = next
	budget.Allocated = int(math.Ceil(float64(budget.Allocated) * budgetEscalationFactor))
	return true
}
