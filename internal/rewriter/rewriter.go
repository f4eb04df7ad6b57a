// Package rewriter implements the Auto-Rewriter (C5): it re-drives the
// Chapter Writer against the prioritised diagnostics from a failed gate
// run, generalizing the teacher's retry/resume loop in
// internal/jobs/common_structure/job.go (handleClassifyComplete's
// RetryCount < MaxRetries pattern) from "retry a work unit" to
// "retry a full write+evaluate cycle".
package rewriter

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/taibuivan/storyforge/internal/gates"
	"github.com/taibuivan/storyforge/internal/storytypes"
	"github.com/taibuivan/storyforge/internal/writer"
)

const (
	defaultMaxAttempts = 3
	defaultTargetScore = 6.5 // 0..10 scale; equivalent to 65 on a 0..100 scale
)

var titlePattern = regexp.MustCompile(`(?i)^\s*ch[uư][ơo]ng\s+(\d+)\s*[:.\-–]\s*(.+)$`)

// Attempt records one write+evaluate cycle inside a rewrite loop.
type Attempt struct {
	Draft       writer.Draft
	GateResults []storytypes.GateResult
	Action      storytypes.GateAction
	Score       float64
}

// RewriteOutcome is the result of driving up to maxAttempts write+evaluate
// cycles. BestAttempt is always populated on a non-empty attempt set, even
// when Success is false, so the caller can persist a best-effort draft for
// human review.
type RewriteOutcome struct {
	Success          bool
	NeedsHumanReview bool
	Reason           string // "" | "budget" | "exhausted"
	BestAttempt      Attempt
	Attempts         []Attempt
}

// Params configures one RewriteUntilPass call.
type Params struct {
	MaxAttempts int     // default 3
	TargetScore float64 // default 6.5 on a 0..10 scale
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

func (p Params) maxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return defaultMaxAttempts
}

func (p Params) targetScore() float64 {
	if p.TargetScore > 0 {
		return p.TargetScore
	}
	return defaultTargetScore
}

// RewriteUntilPass re-drives gen and the gate registry starting from the
// original failing draft and gate results, until an attempt's aggregate
// action is accept, its composite score reaches params.TargetScore, or
// maxAttempts is exhausted. Every attempt first checks the cost cache
// gate's CanProceed so a tightening budget can terminate the loop early.
func RewriteUntilPass(
	ctx context.Context,
	gen writer.Generator,
	reg *gates.Registry,
	systemMsg string,
	originalDraft gates.Draft,
	originalResults []storytypes.GateResult,
	ec gates.EvalContext,
	params Params,
) (RewriteOutcome, error) {
	cc, _ := reg.Get("cost_cache")
	costCache, _ := cc.(*gates.CostCacheGate)

	attempts := make([]Attempt, 0, params.maxAttempts())
	diagnostics := diagnosticsOf(originalResults)
	current := originalDraft

	for n := 1; n <= params.maxAttempts(); n++ {
		if costCache != nil {
			decision := costCache.CanProceed(ec, estimateRewriteTokens(params), storytypes.CostTaskRewrite)
			if !decision.Allowed {
				return finish(attempts, false, true, "budget"), nil
			}
		}

		userMsg := buildRevisePrompt(current, diagnostics)
		genParams := writer.GenerateParams{
			Model: params.Model, Temperature: params.Temperature, MaxTokens: params.MaxTokens, Timeout: params.Timeout,
			ProjectID: current.ProjectID, ChapterNumber: current.ChapterNumber, PromptKey: "rewrite_chapter",
		}

		result, err := gen.Generate(ctx, systemMsg, userMsg, genParams)
		if err != nil {
			// A writer failure on a rewrite pass is recorded as a zero-score
			// attempt; the loop still moves on to the next attempt.
			attempts = append(attempts, Attempt{Action: storytypes.ActionHumanReview})
			continue
		}

		draft := parseRevised(result, current.Title)
		gd := gates.Draft{ProjectID: originalDraft.ProjectID, ChapterNumber: originalDraft.ChapterNumber, Title: draft.Title, Body: draft.Body}
		results, action, err := gates.RunAll(ctx, reg, gd, ec)
		if err != nil {
			return RewriteOutcome{}, fmt.Errorf("rewriter: gate run failed on attempt %d: %w", n, err)
		}

		attempt := Attempt{Draft: draft, GateResults: results, Action: action, Score: compositeScore(results)}
		attempts = append(attempts, attempt)
		diagnostics = diagnosticsOf(results)
		current = gd

		if action == storytypes.ActionAccept || attempt.Score >= params.targetScore() {
			return finish(attempts, true, false, ""), nil
		}
	}

	return finish(attempts, false, true, "exhausted"), nil
}

func finish(attempts []Attempt, success, needsReview bool, reason string) RewriteOutcome {
	out := RewriteOutcome{Success: success, NeedsHumanReview: needsReview, Reason: reason, Attempts: attempts}
	if len(attempts) > 0 {
		out.BestAttempt = bestOf(attempts)
	}
	return out
}

func bestOf(attempts []Attempt) Attempt {
	best := attempts[0]
	for _, a := range attempts[1:] {
		if a.Score > best.Score {
			best = a
		}
	}
	return best
}

// compositeScore picks the quality gate's composite score, since it is the
// only gate whose Score is a continuous 0..10 prose-quality measure; the
// other gates report pass/fail style scores used only for Action severity.
func compositeScore(results []storytypes.GateResult) float64 {
	for _, r := range results {
		if r.GateName == "quality" {
			return r.Score
		}
	}
	return 0
}

func diagnosticsOf(results []storytypes.GateResult) []string {
	var all []string
	for _, r := range results {
		all = append(all, r.Diagnostics...)
	}
	sort.Strings(all)
	return all
}

func estimateRewriteTokens(p Params) int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	return 4000
}

// parseRevised strips a residual "Chương N: title" line from a revise
// response the same way the writer does, falling back to the previous
// title if the model dropped the line entirely.
func parseRevised(result writer.GenerateResult, fallbackTitle string) writer.Draft {
	text := strings.TrimSpace(result.Text)
	title := fallbackTitle
	body := text

	if m := titlePattern.FindStringSubmatch(firstLine(text)); m != nil {
		title = strings.TrimSpace(m[2])
		if idx := strings.IndexByte(text, '\n'); idx >= 0 {
			body = strings.TrimSpace(text[idx+1:])
		} else {
			body = ""
		}
	}

	return writer.Draft{
		Title:        title,
		Body:         body,
		WordCount:    len(strings.Fields(body)),
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// buildRevisePrompt assembles the revise prompt from the original draft
// and the diagnostics a gate run flagged against it, plus explicit
// continuity directives.
func buildRevisePrompt(draft gates.Draft, diagnostics []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Original draft for chapter %d (needs revision)\n", draft.ChapterNumber)
	fmt.Fprintf(&b, "Chương %d: %s\n%s\n\n", draft.ChapterNumber, draft.Title, draft.Body)

	b.WriteString("## Issues to fix\n")
	if len(diagnostics) == 0 {
		b.WriteString("- Overall quality score was too low.\n")
	}
	for _, d := range diagnostics {
		fmt.Fprintf(&b, "- %s\n", d)
	}

	b.WriteString("\n## Directives\n" +
		"- Keep plot continuity with the original draft.\n" +
		"- Do not rename characters.\n" +
		"- Preserve chapter-level events; only fix the issues listed above.\n" +
		"- Do not use markdown formatting in the chapter body.\n" +
		"- Start the response with the title line in the exact form: \"Chương N: <title>\".\n")
	return b.String()
}
