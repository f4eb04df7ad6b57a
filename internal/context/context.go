// Package context implements the Context Loader (C2): it assembles
// everything the Chapter Writer needs to draft a chapter, gathering from
// several sub-sources that each may fail independently. A sub-source
// failure never aborts the load — context is best-effort additive.
package context

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/taibuivan/storyforge/internal/gates"
	"github.com/taibuivan/storyforge/internal/gates/genredata"
	"github.com/taibuivan/storyforge/internal/store"
	"github.com/taibuivan/storyforge/internal/storytypes"
)

// ContextBundle is everything the Chapter Writer needs to draft one
// chapter. Every section is a plain struct field, never a sparse map, so
// callers cannot typo a key and silently get an empty section.
type ContextBundle struct {
	Project          storytypes.Project
	Arc              storytypes.ArcOutline
	ChapterOutline   storytypes.ChapterOutline
	RecentSummaries  []storytypes.ChapterSummary
	CanonSnapshot    []storytypes.CanonFact
	BeatRecommendations []storytypes.BeatType
	StyleHints       string
	RAGExcerpts      []string
}

const (
	defaultRecentSummaries = 3
	defaultCanonTopK       = 50
	defaultRAGTopM         = 5
	defaultRAGCharBudget   = 3000
	defaultTotalCharBudget = 12000
	beatWindow             = 20
)

// RAGSearcher performs semantic search over prior chapter bodies. It is
// optional: a nil Searcher simply yields no excerpts.
type RAGSearcher interface {
	Search(ctx context.Context, projectID string, query string, topM int) ([]string, error)
}

// Loader assembles ContextBundle values from a Gateway and an optional
// RAG searcher.
type Loader struct {
	Gateway store.Gateway
	RAG     RAGSearcher
	Logger  *slog.Logger
}

// NewLoader constructs a Loader. logger may be nil, in which case
// slog.Default() is used.
func NewLoader(gw store.Gateway, rag RAGSearcher, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{Gateway: gw, RAG: rag, Logger: logger}
}

// LoadContext assembles the context bundle for the next chapter of
// projectID. Sub-source failures are logged and skipped; only a failure
// to load the Project itself (required for genre lookup and identity) is
// fatal.
func (l *Loader) LoadContext(ctx context.Context, projectID string, nextChapterNumber int) (ContextBundle, error) {
	project, err := l.Gateway.GetProject(ctx, projectID)
	if err != nil {
		return ContextBundle{}, err
	}

	bundle := ContextBundle{Project: project}

	outline, err := l.Gateway.GetOutline(ctx, projectID)
	if err != nil {
		l.Logger.Warn("context loader: outline unavailable", "project_id", projectID, "error", err)
	} else {
		if arc, ok := outline.ArcFor(nextChapterNumber); ok {
			bundle.Arc = arc
		}
		if co, ok := outline.ChapterOutlineFor(nextChapterNumber); ok {
			bundle.ChapterOutline = co
		}
	}

	summaries, err := l.Gateway.GetRecentChapterSummaries(ctx, projectID, defaultRecentSummaries)
	if err != nil {
		l.Logger.Warn("context loader: recent summaries unavailable", "project_id", projectID, "error", err)
	} else {
		bundle.RecentSummaries = summaries
	}

	canon, err := l.loadCanonSnapshot(ctx, projectID, bundle.ChapterOutline)
	if err != nil {
		l.Logger.Warn("context loader: canon snapshot unavailable", "project_id", projectID, "error", err)
	} else {
		bundle.CanonSnapshot = canon
	}

	beats, err := l.beatRecommendations(ctx, projectID)
	if err != nil {
		l.Logger.Warn("context loader: beat recommendations unavailable", "project_id", projectID, "error", err)
	} else {
		bundle.BeatRecommendations = beats
	}

	table, err := genredata.For(project.Genre)
	if err != nil {
		l.Logger.Warn("context loader: genre data unavailable", "genre", project.Genre, "error", err)
	} else {
		bundle.StyleHints = table.StyleHintFor(sceneTypeFor(bundle.ChapterOutline))
	}

	if l.RAG != nil {
		excerpts, err := l.RAG.Search(ctx, projectID, bundle.ChapterOutline.Summary, defaultRAGTopM)
		if err != nil {
			l.Logger.Warn("context loader: RAG search failed", "project_id", projectID, "error", err)
		} else {
			bundle.RAGExcerpts = truncateExcerpts(excerpts, defaultRAGCharBudget)
		}
	}

	bundle.truncateToBudget(defaultTotalCharBudget)
	return bundle, nil
}

// loadCanonSnapshot selects up to defaultCanonTopK facts most relevant to
// the chapter outline's character list, ranked by subject overlap.
func (l *Loader) loadCanonSnapshot(ctx context.Context, projectID string, co storytypes.ChapterOutline) ([]storytypes.CanonFact, error) {
	allFacts, err := l.Gateway.ListCanonFacts(ctx, projectID)
	if err != nil {
		return nil, err
	}

	relevant := make(map[string]bool, len(co.KeyPoints))
	for _, k := range co.KeyPoints {
		relevant[strings.ToLower(k)] = true
	}

	sort.Slice(allFacts, func(i, j int) bool {
		iRel := matchesAny(allFacts[i].Subject, relevant)
		jRel := matchesAny(allFacts[j].Subject, relevant)
		if iRel != jRel {
			return iRel
		}
		return allFacts[i].LastConfirmedChapter > allFacts[j].LastConfirmedChapter
	})

	if len(allFacts) > defaultCanonTopK {
		allFacts = allFacts[:defaultCanonTopK]
	}
	return allFacts, nil
}

// beatRecommendations returns beats that are under-used within the
// sliding window, so the writer can be steered away from overused beats
// before a gate has to reject for it.
func (l *Loader) beatRecommendations(ctx context.Context, projectID string) ([]storytypes.BeatType, error) {
	recent, err := l.Gateway.ListRecentBeats(ctx, projectID, beatWindow)
	if err != nil {
		return nil, err
	}

	used := make(map[storytypes.BeatType]int)
	for _, b := range recent {
		used[b.Beat]++
	}

	var underused []storytypes.BeatType
	for _, bt := range storytypes.AllBeatTypes {
		if used[bt] < gates.NewBeatLedgerGate().SoftRepeatAt {
			underused = append(underused, bt)
		}
	}
	return underused, nil
}

func matchesAny(subject string, set map[string]bool) bool {
	return set[strings.ToLower(subject)]
}

func sceneTypeFor(co storytypes.ChapterOutline) string {
	if co.DopamineType != "" {
		return co.DopamineType
	}
	return "action"
}

func truncateExcerpts(excerpts []string, budget int) []string {
	var out []string
	total := 0
	for _, e := range excerpts {
		if total+len(e) > budget {
			remaining := budget - total
			if remaining > 0 {
				out = append(out, e[:remaining])
			}
			break
		}
		out = append(out, e)
		total += len(e)
	}
	return out
}

// truncateToBudget drops the oldest recent summaries first, then the
// least-recent canon facts, to keep the bundle's combined text payload
// under budget. The chapter outline is never truncated.
func (b *ContextBundle) truncateToBudget(budget int) {
	for b.totalChars() > budget && len(b.RecentSummaries) > 0 {
		b.RecentSummaries = b.RecentSummaries[1:]
	}
	for b.totalChars() > budget && len(b.CanonSnapshot) > 0 {
		oldest := 0
		for i, f := range b.CanonSnapshot {
			if f.LastConfirmedChapter < b.CanonSnapshot[oldest].LastConfirmedChapter {
				oldest = i
			}
		}
		b.CanonSnapshot = append(b.CanonSnapshot[:oldest], b.CanonSnapshot[oldest+1:]...)
	}
}

func (b ContextBundle) totalChars() int {
	n := len(b.StyleHints) + len(b.ChapterOutline.Summary) + len(b.Arc.Theme)
	for _, s := range b.RecentSummaries {
		n += len(s.Summary)
	}
	for _, f := range b.CanonSnapshot {
		n += len(f.Subject) + len(f.Predicate) + len(f.Object)
	}
	for _, e := range b.RAGExcerpts {
		n += len(e)
	}
	return n
}
