package agent

import (
	"math"

	"github.com/pulsefit/retain/pkg/session"
)

// PriceFunc converts per-turn token usage into a dollar cost for the model.
// Pricing tables live with the caller; the engine only accumulates.
type PriceFunc func(inputTokens, outputTokens int, model string) float64

// accrue adds this turn's cost to the session, rounded up to whole cents.
// Cost is monotonically non-decreasing: negative prices are ignored.
func accrue(sess *session.Session, usage Usage, price PriceFunc) {
	if price == nil {
		return
	}
	dollars := price(usage.InputTokens, usage.OutputTokens, sess.Model)
	if dollars <= 0 {
		return
	}
	sess.CostCents += int64(math.Ceil(dollars * 100))
}
