package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/taibuivan/storyforge/internal/storytypes"
)

// CanonGate compares facts implied by the draft against the active canon
// snapshot: a dead character reappearing without a resurrection event, or
// a realm regression, are hard failures.
type CanonGate struct{}

func NewCanonGate() *CanonGate { return &CanonGate{} }

func (g *CanonGate) Name() string           { return "canon_resolver" }
func (g *CanonGate) Dependencies() []string { return nil }

func (g *CanonGate) Evaluate(ctx context.Context, draft Draft, ec EvalContext) (storytypes.GateResult, error) {
	var diagnostics []string
	action := storytypes.ActionAccept
	body := strings.ToLower(draft.Body)

	dead := make(map[string]storytypes.CanonFact)
	realms := make(map[string]storytypes.CanonFact)
	for _, f := range ec.CanonSnapshot {
		if f.Status != storytypes.CanonActive {
			continue
		}
		switch f.Predicate {
		case "alive":
			if f.Object == "false" {
				dead[strings.ToLower(f.Subject)] = f
			}
		case "realm":
			realms[strings.ToLower(f.Subject)] = f
		}
	}

	for subject, fact := range dead {
		if !strings.Contains(body, subject) {
			continue
		}
		if strings.Contains(body, "resurrect") || strings.Contains(body, "brought back to life") || strings.Contains(body, "revived") {
			continue
		}
		diagnostics = append(diagnostics, fmt.Sprintf("%s is marked dead as of chapter %d but reappears without a resurrection event", fact.Subject, fact.LastConfirmedChapter))
		action = storytypes.ActionAutoRewrite
	}

	for subject, fact := range realms {
		ps, ok := ec.PowerStates[strings.ToLower(subject)]
		if !ok {
			continue
		}
		if strings.Contains(body, subject) && ps.Realm != fact.Object && ps.RealmIndex < realmRankOf(fact.Object, ec) {
			diagnostics = append(diagnostics, fmt.Sprintf("%s appears to regress from realm %q to an earlier tier", fact.Subject, fact.Object))
			action = storytypes.ActionAutoRewrite
		}
	}

	return storytypes.GateResult{
		GateName:    g.Name(),
		Passed:      action == storytypes.ActionAccept,
		Score:       scoreFor(action),
		Diagnostics: diagnostics,
		Action:      action,
	}, nil
}

func realmRankOf(realm string, ec EvalContext) int {
	for _, ps := range ec.PowerStates {
		if ps.Realm == realm {
			return ps.RealmIndex
		}
	}
	return 0
}

func scoreFor(action storytypes.GateAction) float64 {
	switch action {
	case storytypes.ActionAccept:
		return 10
	case storytypes.ActionAutoRewrite:
		return 5
	case storytypes.ActionHumanReview:
		return 3
	default:
		return 0
	}
}
