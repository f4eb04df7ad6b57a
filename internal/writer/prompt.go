package writer

import (
	"fmt"
	"strings"

	storycontext "github.com/taibuivan/storyforge/internal/context"
	"github.com/taibuivan/storyforge/internal/storytypes"
)

// WriteParams carries the explicit directives the prompt must encode:
// target length, language, and formatting constraints.
type WriteParams struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	TimeoutSeconds  int
	WordCountTarget int
	Language        string // e.g. "Vietnamese"; defaults to Vietnamese, the genre table's native tongue
	MaxPromptChars  int    // 0 disables prompt-level re-truncation
}

func (p WriteParams) language() string {
	if p.Language != "" {
		return p.Language
	}
	return "Vietnamese"
}

func (p WriteParams) wordCountTarget() int {
	if p.WordCountTarget > 0 {
		return p.WordCountTarget
	}
	return 2000
}

// SystemPrompt is fixed by genre: it sets the voice and hard formatting
// rules that hold across every chapter of a project. Exported so the
// Auto-Rewriter can reuse the identical voice instructions on revise
// passes.
func SystemPrompt(genre storytypes.Genre) string {
	return systemPrompt(genre)
}

func systemPrompt(genre storytypes.Genre) string {
	return fmt.Sprintf(`You are a professional web novel author writing a %s-genre serialized novel.
Write immersive, commercially paced prose chapters for a Vietnamese web fiction audience.
Always follow the formatting and length directives given in the user message exactly.
Never break character, never explain your writing choices, never add author notes.`, genre)
}

// buildUserPrompt assembles the writing prompt from every section of
// bundle plus this chapter's explicit directives. Oldest summaries and
// least-recently-confirmed canon facts are dropped first if the assembled
// prompt would exceed params.MaxPromptChars; the chapter outline itself is
// never truncated.
func buildUserPrompt(number int, bundle storycontext.ContextBundle, params WriteParams) string {
	if params.MaxPromptChars > 0 {
		bundle = truncateForPrompt(bundle, params.MaxPromptChars)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "## World\n%s\n\n", bundle.Project.NovelID)
	if bundle.Arc.Title != "" {
		fmt.Fprintf(&b, "## Current Arc: %s\n%s\nClimax: %s\n\n", bundle.Arc.Title, bundle.Arc.Theme, bundle.Arc.Climax)
	}
	if bundle.StyleHints != "" {
		fmt.Fprintf(&b, "## Style\n%s\n\n", bundle.StyleHints)
	}

	if len(bundle.RecentSummaries) > 0 {
		b.WriteString("## Recent chapters\n")
		for _, s := range bundle.RecentSummaries {
			fmt.Fprintf(&b, "- Chapter %d (%s): %s\n", s.ChapterNumber, s.Title, s.Summary)
		}
		b.WriteString("\n")
	}

	if len(bundle.CanonSnapshot) > 0 {
		b.WriteString("## Established canon (do not contradict)\n")
		for _, f := range bundle.CanonSnapshot {
			fmt.Fprintf(&b, "- %s %s %s\n", f.Subject, f.Predicate, f.Object)
		}
		b.WriteString("\n")
	}

	if len(bundle.BeatRecommendations) > 0 {
		b.WriteString("## Consider weaving in one of these under-used beats\n")
		for _, bt := range bundle.BeatRecommendations {
			fmt.Fprintf(&b, "- %s\n", bt)
		}
		b.WriteString("\n")
	}

	co := bundle.ChapterOutline
	fmt.Fprintf(&b, "## Chapter %d outline\n", number)
	if co.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", co.Title)
	}
	if co.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", co.Summary)
	}
	if len(co.KeyPoints) > 0 {
		fmt.Fprintf(&b, "Key points: %s\n", strings.Join(co.KeyPoints, "; "))
	}
	if co.TensionTarget > 0 {
		fmt.Fprintf(&b, "Tension target: %d/100\n", co.TensionTarget)
	}
	b.WriteString("\n")

	if len(bundle.RAGExcerpts) > 0 {
		b.WriteString("## Relevant prior excerpts\n")
		for _, e := range bundle.RAGExcerpts {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Directives\n"+
		"- Write chapter %d in %s.\n"+
		"- Target roughly %d words.\n"+
		"- Do not use markdown formatting (no headers, bold, or bullet lists) in the chapter body.\n"+
		"- Start the response with the title line in the exact form: \"Chương %d: <title>\".\n"+
		"- End on a cliffhanger that pulls the reader into the next chapter.\n",
		number, params.language(), params.wordCountTarget(), number)

	return b.String()
}

// truncateForPrompt drops the oldest recent summaries, then the
// least-recently-confirmed canon facts, until the assembled section text
// fits budget. The chapter outline is left untouched.
func truncateForPrompt(bundle storycontext.ContextBundle, budget int) storycontext.ContextBundle {
	size := func() int {
		n := len(bundle.StyleHints) + len(bundle.ChapterOutline.Summary) + len(bundle.Arc.Theme)
		for _, s := range bundle.RecentSummaries {
			n += len(s.Summary)
		}
		for _, f := range bundle.CanonSnapshot {
			n += len(f.Subject) + len(f.Predicate) + len(f.Object)
		}
		for _, e := range bundle.RAGExcerpts {
			n += len(e)
		}
		return n
	}

	for size() > budget && len(bundle.RecentSummaries) > 0 {
		bundle.RecentSummaries = bundle.RecentSummaries[1:]
	}
	for size() > budget && len(bundle.CanonSnapshot) > 0 {
		oldest := 0
		for i, f := range bundle.CanonSnapshot {
			if f.LastConfirmedChapter < bundle.CanonSnapshot[oldest].LastConfirmedChapter {
				oldest = i
			}
		}
		bundle.CanonSnapshot = append(bundle.CanonSnapshot[:oldest], bundle.CanonSnapshot[oldest+1:]...)
	}
	return bundle
}
