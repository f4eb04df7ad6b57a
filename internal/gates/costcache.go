package gates

import (
	"context"
	"fmt"

	"github.com/taibuivan/storyforge/internal/storytypes"
)

// CostCacheGate enforces session and daily budget ceilings. Unlike the
// other gates it is also consulted before an LLM call is made at all
// (CanProceed), since the point of a cost gate is to avoid spending money
// on a call that would blow the budget, not just to flag it afterward.
type CostCacheGate struct {
	// CostPerOutputToken gives a rough per-model-agnostic USD estimate for
	// CanProceed's pre-call projection, applied to every estimated token.
	// CostPerInputToken is carried alongside it but CanProceed does not use it.
	CostPerInputToken  float64
	CostPerOutputToken float64
}

func NewCostCacheGate() *CostCacheGate {
	return &CostCacheGate{CostPerInputToken: 0.000003, CostPerOutputToken: 0.000015}
}

func (g *CostCacheGate) Name() string           { return "cost_cache" }
func (g *CostCacheGate) Dependencies() []string { return nil }

// ProceedDecision is the result of a pre-call budget check.
type ProceedDecision struct {
	Allowed bool
	Reason  string
}

// CanProceed estimates the USD cost of a call with estTokens total tokens
// and reports whether the session/daily budgets can absorb it.
func (g *CostCacheGate) CanProceed(ec EvalContext, estTokens int, task storytypes.CostTaskKind) ProceedDecision {
	estCost := float64(estTokens) * g.CostPerOutputToken
	if ec.SessionBudget > 0 && ec.SessionCostUSD+estCost > ec.SessionBudget {
		return ProceedDecision{Allowed: false, Reason: "budget_exhausted"}
	}
	if ec.DailyBudget > 0 && ec.DailyCostUSD+estCost > ec.DailyBudget {
		return ProceedDecision{Allowed: false, Reason: "budget_exhausted"}
	}
	return ProceedDecision{Allowed: true}
}

// Evaluate re-checks the already-incurred session/daily totals after a
// draft has been produced, short-circuiting further auto-rewrite attempts
// once the running total (not just the estimate) crosses either ceiling.
func (g *CostCacheGate) Evaluate(ctx context.Context, draft Draft, ec EvalContext) (storytypes.GateResult, error) {
	decision := g.CanProceed(ec, 0, storytypes.CostTaskWriting)
	if decision.Allowed {
		return storytypes.GateResult{GateName: g.Name(), Passed: true, Score: 10, Action: storytypes.ActionAccept}, nil
	}
	return storytypes.GateResult{
		GateName:    g.Name(),
		Passed:      false,
		Score:       0,
		Diagnostics: []string{fmt.Sprintf("reason=%s session=%.2f/%.2f daily=%.2f/%.2f", decision.Reason, ec.SessionCostUSD, ec.SessionBudget, ec.DailyCostUSD, ec.DailyBudget)},
		Action:      storytypes.ActionHumanReview,
	}, nil
}
