package storytypes

// GateAction is the remediation a gate requests for a draft. Actions form
// a total order by severity; when multiple gates run in parallel over the
// same draft, the aggregate action is the most severe one returned (see
// DESIGN NOTES §9 and internal/gates.Aggregate).
type GateAction string

const (
	ActionAccept      GateAction = "accept"
	ActionAutoRewrite GateAction = "auto_rewrite"
	ActionHumanReview GateAction = "human_review"
	ActionReject      GateAction = "reject"
)

var actionSeverity = map[GateAction]int{
	ActionAccept:      0,
	ActionAutoRewrite: 1,
	ActionHumanReview: 2,
	ActionReject:      3,
}

// MoreSevere reports whether a is strictly more severe than b.
func (a GateAction) MoreSevere(b GateAction) bool {
	return actionSeverity[a] > actionSeverity[b]
}

// GateResult is the verdict a single gate returns for one draft.
type GateResult struct {
	GateName    string
	Passed      bool
	Score       float64
	Diagnostics []string
	Action      GateAction
}

// Aggregate folds a set of gate results down to a single action: the most
// severe action among them, defaulting to accept when results is empty.
func Aggregate(results []GateResult) GateAction {
	worst := ActionAccept
	for _, r := range results {
		if r.Action.MoreSevere(worst) {
			worst = r.Action
		}
	}
	return worst
}
