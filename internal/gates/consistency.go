package gates

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/taibuivan/storyforge/internal/storytypes"
)

var chapterTitlePattern = regexp.MustCompile(`^Ch(?:ương|apter) (\d+)\s*[:\-]`)

// ConsistencyGate runs global structural checks: the title matches the
// expected "Chương N: ..." pattern, the chapter number is not already
// used by a persisted chapter, and character life/death mentions do not
// contradict canon.
type ConsistencyGate struct{}

func NewConsistencyGate() *ConsistencyGate { return &ConsistencyGate{} }

func (g *ConsistencyGate) Name() string           { return "consistency_checker" }
func (g *ConsistencyGate) Dependencies() []string { return nil }

func (g *ConsistencyGate) Evaluate(ctx context.Context, draft Draft, ec EvalContext) (storytypes.GateResult, error) {
	var diagnostics []string
	action := storytypes.ActionAccept

	m := chapterTitlePattern.FindStringSubmatch(draft.Title)
	if m == nil {
		diagnostics = append(diagnostics, fmt.Sprintf("title %q does not match the expected chapter heading pattern", draft.Title))
		action = storytypes.ActionAutoRewrite
	} else if m[1] != fmt.Sprintf("%d", draft.ChapterNumber) {
		diagnostics = append(diagnostics, fmt.Sprintf("title claims chapter %s but draft is for chapter %d", m[1], draft.ChapterNumber))
		action = storytypes.ActionAutoRewrite
	}

	for _, s := range ec.RecentSummaries {
		if s.ChapterNumber == draft.ChapterNumber {
			diagnostics = append(diagnostics, fmt.Sprintf("chapter %d already exists in the persisted store", draft.ChapterNumber))
			action = storytypes.ActionReject
		}
	}

	lower := strings.ToLower(draft.Body)
	for _, f := range ec.CanonSnapshot {
		if f.Predicate != "alive" || f.Status != storytypes.CanonActive {
			continue
		}
		if f.Object == "false" && strings.Contains(lower, strings.ToLower(f.Subject)+" said") {
			diagnostics = append(diagnostics, fmt.Sprintf("%s is dead in canon but speaks in this draft (soft)", f.Subject))
			if action == storytypes.ActionAccept {
				action = storytypes.ActionHumanReview
			}
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
