package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/taibuivan/storyforge/internal/gates/genredata"
	"github.com/taibuivan/storyforge/internal/storytypes"
)

// PowerTrackerGate detects breakthroughs and skill acquisitions in a
// draft and validates the implied realm is either the character's current
// realm or exactly one step up the genre's ordered realm list.
type PowerTrackerGate struct{}

func NewPowerTrackerGate() *PowerTrackerGate { return &PowerTrackerGate{} }

func (g *PowerTrackerGate) Name() string           { return "power_tracker" }
func (g *PowerTrackerGate) Dependencies() []string { return nil }

func (g *PowerTrackerGate) Evaluate(ctx context.Context, draft Draft, ec EvalContext) (storytypes.GateResult, error) {
	table, err := genredata.For(ec.Project.Genre)
	if err != nil {
		return storytypes.GateResult{}, fmt.Errorf("power tracker gate: %w", err)
	}

	lower := strings.ToLower(draft.Body)
	var diagnostics []string
	action := storytypes.ActionAccept

	breakthroughKeywords := table.BeatKeywords[string(storytypes.BeatBreakthrough)]
	mentionsBreakthrough := false
	for _, k := range breakthroughKeywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			mentionsBreakthrough = true
			break
		}
	}
	if !mentionsBreakthrough {
		return storytypes.GateResult{GateName: g.Name(), Passed: true, Score: 8, Action: storytypes.ActionAccept}, nil
	}

	for name, state := range ec.PowerStates {
		if !strings.Contains(lower, strings.ToLower(name)) {
			continue
		}
		claimedIdx := claimedRealmIndex(lower, table)
		if claimedIdx < 0 {
			continue
		}
		if claimedIdx != state.RealmIndex && claimedIdx != state.RealmIndex+1 {
			diagnostics = append(diagnostics, fmt.Sprintf(
				"%s's breakthrough jumps from realm index %d to %d, more than one step", name, state.RealmIndex, claimedIdx))
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

// claimedRealmIndex finds the highest realm-ladder index whose name is
// mentioned in the draft body.
func claimedRealmIndex(lowerBody string, table genredata.Table) int {
	best := -1
	for i, realm := range table.RealmLadder {
		if strings.Contains(lowerBody, strings.ToLower(realm)) && i > best {
			best = i
		}
	}
	return best
}
