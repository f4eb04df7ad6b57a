// Package gates implements the Gate Evaluators (C4): pure functions of
// (draft, context, persistent state) that each return a GateResult, run in
// parallel and aggregated into one overall GateAction.
package gates

import (
	"context"

	"github.com/taibuivan/storyforge/internal/storytypes"
)

// Draft is the candidate chapter text under evaluation, before it has been
// persisted anywhere.
type Draft struct {
	ProjectID     string
	ChapterNumber int
	Title         string
	Body          string
}

// EvalContext is everything a gate may need to judge a Draft, assembled
// by the Context Loader (C2) and the Production Worker before gates run.
type EvalContext struct {
	Project         storytypes.Project
	Outline         storytypes.Outline
	RecentSummaries []storytypes.ChapterSummary
	CanonSnapshot   []storytypes.CanonFact
	RecentBeats     []storytypes.BeatLedgerEntry
	PowerStates     map[string]storytypes.PowerState
	SessionCostUSD  float64
	DailyCostUSD    float64
	SessionBudget   float64
	DailyBudget     float64
}

// Gate evaluates one dimension of a Draft. Implementations must be safe to
// call concurrently with other gates over the same EvalContext.
type Gate interface {
	Name() string
	Dependencies() []string
	Evaluate(ctx context.Context, draft Draft, ec EvalContext) (storytypes.GateResult, error)
}
