// Package worker implements the Production Worker (C6): the per-chapter
// state machine that drives one work item from claim through persistence.
// Grounded on the teacher's internal/jobs/common_structure/job.go
// Start/OnComplete/phase-transition structure (transitionToClassify ->
// transitionToPolish -> transitionToFinalize), generalized to
// LOAD_CTX -> WRITE -> EVALUATE -> [REWRITE] -> PERSIST -> INDEX.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	storycontext "github.com/taibuivan/storyforge/internal/context"
	"github.com/taibuivan/storyforge/internal/costquery"
	"github.com/taibuivan/storyforge/internal/gates"
	"github.com/taibuivan/storyforge/internal/gates/genredata"
	"github.com/taibuivan/storyforge/internal/rewriter"
	"github.com/taibuivan/storyforge/internal/store"
	"github.com/taibuivan/storyforge/internal/storytypes"
	"github.com/taibuivan/storyforge/internal/writer"
)

// Phase is a state in the per-chapter production state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseLoadingCtx Phase = "loading_ctx"
	PhaseWriting    Phase = "writing"
	PhaseEvaluating Phase = "evaluating"
	PhaseRewriting  Phase = "rewriting"
	PhasePersisting Phase = "persisting"
	PhaseIndexing   Phase = "indexing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

const (
	defaultInterChapterDelay = time.Second
	maxWriteAttempts         = 2
)

// SemanticIndex is the post-commit RAG index the Worker best-effort
// updates after a successful persist. A nil Index simply skips indexing.
type SemanticIndex interface {
	Upsert(ctx context.Context, projectID string, chapterNumber int, sections []string) error
}

// Result is what one ProcessChapter call reports back to the Scheduler.
type Result struct {
	ChapterNumber    int
	Success          bool
	NeedsHumanReview bool
	QCScore          float64
	RewriteAttempts  int
	Error            string
	FinalPhase       Phase
}

// Worker drives one chapter at a time through the production state
// machine. A Worker is not safe for concurrent use by multiple goroutines
// on the same chapter; the Scheduler's per-project single-writer
// invariant is what keeps that true in practice.
type Worker struct {
	Name              string
	Gateway           store.Gateway
	ContextLoader     *storycontext.Loader
	Generator         writer.Generator
	Gates             *gates.Registry
	Index             SemanticIndex
	Logger            *slog.Logger
	InterChapterDelay time.Duration
	RewriteParams     rewriter.Params
	WriteParams       writer.WriteParams

	// CostQuery, SessionBudgetUSD, and DailyBudgetUSD feed the cost cache
	// gate's running-total check. CostQuery may be nil, in which case
	// budgets are not enforced (useful for tests and for projects with no
	// configured ceiling).
	CostQuery       *costquery.Query
	SessionBudgetUSD float64
	DailyBudgetUSD   float64
}

// New constructs a Worker. logger may be nil, in which case slog.Default()
// is used.
func New(name string, gw store.Gateway, loader *storycontext.Loader, gen writer.Generator, reg *gates.Registry, index SemanticIndex, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		Name:              name,
		Gateway:           gw,
		ContextLoader:     loader,
		Generator:         gen,
		Gates:             reg,
		Index:             index,
		Logger:            logger,
		InterChapterDelay: defaultInterChapterDelay,
	}
}

// ProcessChapter drives item through LOAD_CTX -> WRITE -> EVALUATE ->
// [REWRITE] -> PERSIST -> INDEX, marking item complete on the Gateway
// queue regardless of outcome (success, human review, or failure are all
// terminal dispositions for the claimed item).
func (w *Worker) ProcessChapter(ctx context.Context, item storytypes.WorkItem, sessionStart time.Time) Result {
	phase := PhaseLoadingCtx
	log := w.Logger.With("worker", w.Name, "project_id", item.ProjectID, "chapter", item.ChapterNumber)

	bundle, err := w.ContextLoader.LoadContext(ctx, item.ProjectID, item.ChapterNumber)
	if err != nil {
		return w.fail(ctx, item, phase, fmt.Errorf("load context: %w", err))
	}

	phase = PhaseWriting
	draft, err := w.writeWithRetry(ctx, item.ChapterNumber, bundle)
	if err != nil {
		return w.fail(ctx, item, phase, fmt.Errorf("write chapter: %w", err))
	}

	phase = PhaseEvaluating
	ec := w.evalContextFrom(ctx, bundle, item.ProjectID, sessionStart, log)
	gd := gates.Draft{ProjectID: item.ProjectID, ChapterNumber: item.ChapterNumber, Title: draft.Title, Body: draft.Body}
	results, action, err := gates.RunAll(ctx, w.Gates, gd, ec)
	if err != nil {
		return w.fail(ctx, item, phase, fmt.Errorf("evaluate: %w", err))
	}

	rewriteAttempts := 0
	needsHumanReview := false
	finalDraft := gd
	finalScore := compositeScore(results)

	switch action {
	case storytypes.ActionReject:
		return w.fail(ctx, item, PhaseEvaluating, fmt.Errorf("draft rejected: %v", diagnosticsOf(results)))

	case storytypes.ActionAutoRewrite:
		phase = PhaseRewriting
		outcome, err := rewriter.RewriteUntilPass(ctx, w.Generator, w.Gates, writer.SystemPrompt(bundle.Project.Genre), gd, results, ec, w.RewriteParams)
		if err != nil {
			return w.fail(ctx, item, phase, fmt.Errorf("rewrite: %w", err))
		}
		rewriteAttempts = len(outcome.Attempts)
		if outcome.Success {
			finalDraft = gates.Draft{ProjectID: item.ProjectID, ChapterNumber: item.ChapterNumber, Title: outcome.BestAttempt.Draft.Title, Body: outcome.BestAttempt.Draft.Body}
			finalScore = outcome.BestAttempt.Score
			draft.Title, draft.Body = outcome.BestAttempt.Draft.Title, outcome.BestAttempt.Draft.Body
			draft.WordCount = outcome.BestAttempt.Draft.WordCount
		} else {
			needsHumanReview = true
			if outcome.BestAttempt.Draft.Body != "" {
				finalDraft = gates.Draft{ProjectID: item.ProjectID, ChapterNumber: item.ChapterNumber, Title: outcome.BestAttempt.Draft.Title, Body: outcome.BestAttempt.Draft.Body}
				finalScore = outcome.BestAttempt.Score
				draft.Title, draft.Body = outcome.BestAttempt.Draft.Title, outcome.BestAttempt.Draft.Body
			}
		}

	case storytypes.ActionHumanReview:
		needsHumanReview = true
	}

	phase = PhasePersisting
	if err := w.persist(ctx, item, draft, finalDraft, ec, bundle.Project.Genre, needsHumanReview); err != nil {
		return w.fail(ctx, item, phase, fmt.Errorf("persist: %w", err))
	}

	if err := w.Gateway.CompleteWriteItem(ctx, item.ID, true); err != nil {
		log.Warn("failed to mark work item complete", "error", err)
	}

	if !needsHumanReview {
		phase = PhaseIndexing
		if w.Index != nil {
			if err := w.Index.Upsert(ctx, item.ProjectID, item.ChapterNumber, []string{draft.Body}); err != nil {
				log.Warn("semantic index upsert failed", "error", err)
			}
		}
	}

	w.sleepInterChapter(ctx)

	return Result{
		ChapterNumber:    item.ChapterNumber,
		Success:          !needsHumanReview,
		NeedsHumanReview: needsHumanReview,
		QCScore:          finalScore,
		RewriteAttempts:  rewriteAttempts,
		FinalPhase:       PhaseDone,
	}
}

// writeWithRetry retries a writer.WriteChapter call up to maxWriteAttempts
// times on failure; WriteChapter already retries transient upstream
// errors internally, so this outer loop only covers the small number of
// whole-call retries spec.md §4.6 calls for on a Writer error.
func (w *Worker) writeWithRetry(ctx context.Context, chapterNumber int, bundle storycontext.ContextBundle) (writer.Draft, error) {
	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		draft, err := writer.WriteChapter(ctx, w.Generator, chapterNumber, bundle, w.WriteParams)
		if err == nil {
			return draft, nil
		}
		lastErr = err
		if attempt < maxWriteAttempts {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
	}
	return writer.Draft{}, lastErr
}

// persist commits the accepted (or human-review) draft. A draft still
// pending human review is saved via UpsertChapter alone so the project's
// currentChapter is left untouched, per spec.md §4.6's
// EVALUATING->PERSISTING(needsHumanReview) transition.
func (w *Worker) persist(ctx context.Context, item storytypes.WorkItem, draft writer.Draft, gd gates.Draft, ec gates.EvalContext, genre storytypes.Genre, needsHumanReview bool) error {
	now := time.Now()
	chapter := storytypes.Chapter{
		ID:            uuid.NewString(),
		NovelID:       ec.Project.NovelID,
		ChapterNumber: item.ChapterNumber,
		Title:         draft.Title,
		Content:       draft.Body,
		WordCount:     draft.WordCount,
		Status:        storytypes.ChapterDraft,
		NeedsReview:   needsHumanReview,
		CreatedAt:     now,
	}

	cost := storytypes.CostRecord{
		ProjectID:     item.ProjectID,
		ChapterNumber: item.ChapterNumber,
		Task:          storytypes.CostTaskWriting,
		InputTokens:   draft.InputTokens,
		OutputTokens:  draft.OutputTokens,
		At:            now,
	}

	if needsHumanReview {
		if err := w.Gateway.UpsertChapter(ctx, chapter); err != nil {
			return store.Transient("persist.human_review", err)
		}
		if err := w.Gateway.RecordCost(ctx, cost); err != nil {
			w.Logger.Warn("record cost failed on human-review persist", "error", err)
		}
		return nil
	}

	table, err := genredata.For(genre)
	if err != nil {
		w.Logger.Warn("genre data unavailable for extraction, persisting without beat/power deltas", "error", err)
		table = genredata.Table{}
	}

	power := extractPowerDelta(draft.Body, table, ec.PowerStates)

	return w.Gateway.PersistChapter(ctx, store.PersistChapterInput{
		Chapter:     chapter,
		Summary:     storytypes.ChapterSummary{ProjectID: item.ProjectID, ChapterNumber: item.ChapterNumber, Title: draft.Title, Summary: summarize(draft.Body)},
		CanonDeltas: extractCanonDeltas(item.ProjectID, item.ChapterNumber, power),
		Beats:       extractBeats(item.ProjectID, item.ChapterNumber, draft.Body, table),
		Power:       power,
		Cost:        cost,
	})
}

func (w *Worker) fail(ctx context.Context, item storytypes.WorkItem, phase Phase, err error) Result {
	w.Logger.Error("chapter production failed", "worker", w.Name, "project_id", item.ProjectID, "chapter", item.ChapterNumber, "phase", phase, "error", err)
	if cerr := w.Gateway.CompleteWriteItem(ctx, item.ID, false); cerr != nil {
		w.Logger.Warn("failed to mark work item failed", "error", cerr)
	}
	return Result{ChapterNumber: item.ChapterNumber, Success: false, Error: err.Error(), FinalPhase: PhaseFailed}
}

func (w *Worker) sleepInterChapter(ctx context.Context) {
	delay := w.InterChapterDelay
	if delay <= 0 {
		delay = defaultInterChapterDelay
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// evalContextFrom assembles the EvalContext gates need beyond what the
// writer's context bundle already carries: the actual recent-beats window
// (bundle only has under-used beat recommendations) and the running
// session/daily cost totals the cost cache gate checks against. Power
// states are left empty: the Gateway has no read path for them (only
// RecordPowerEvent), so the canon/power gates degrade to "no known state"
// rather than failing the chapter outright.
func (w *Worker) evalContextFrom(ctx context.Context, bundle storycontext.ContextBundle, projectID string, sessionStart time.Time, log *slog.Logger) gates.EvalContext {
	ec := gates.EvalContext{
		Project:         bundle.Project,
		RecentSummaries: bundle.RecentSummaries,
		CanonSnapshot:   bundle.CanonSnapshot,
		SessionBudget:   w.SessionBudgetUSD,
		DailyBudget:     w.DailyBudgetUSD,
	}

	if beats, err := w.Gateway.ListRecentBeats(ctx, projectID, 20); err != nil {
		log.Warn("recent beats unavailable for gate evaluation", "error", err)
	} else {
		ec.RecentBeats = beats
	}

	if w.CostQuery != nil {
		if sc, err := w.CostQuery.SessionCost(ctx, projectID, sessionStart); err != nil {
			log.Warn("session cost unavailable", "error", err)
		} else {
			ec.SessionCostUSD = sc
		}
		if dc, err := w.CostQuery.DailyCost(ctx, projectID, time.Now()); err != nil {
			log.Warn("daily cost unavailable", "error", err)
		} else {
			ec.DailyCostUSD = dc
		}
	}

	return ec
}

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
	return all
}

// summarize produces a compact chapter summary for future context
// loading. A full summarization pass would call the LLM again; this
// cheap truncation to the first 400 characters (plus "...") avoids an
// extra billed call per chapter and is good enough for the "previous
// chapters" prompt block.
func summarize(body string) string {
	const maxChars = 400
	runes := []rune(body)
	if len(runes) <= maxChars {
		return body
	}
	return string(runes[:maxChars]) + "..."
}
