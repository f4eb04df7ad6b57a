package gates

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/taibuivan/storyforge/internal/gates/genredata"
	"github.com/taibuivan/storyforge/internal/storytypes"
)

// QualityGate scores a draft's prose quality across several dimensions
// using language-agnostic keyword/regex-free heuristics, weighted into a
// single composite on 0..10.
type QualityGate struct {
	MinWordCount  int
	MaxWordCount  int
	AcceptThreshold float64 // default 7
}

func NewQualityGate(minWC, maxWC int) *QualityGate {
	return &QualityGate{MinWordCount: minWC, MaxWordCount: maxWC, AcceptThreshold: 7}
}

func (g *QualityGate) Name() string           { return "quality" }
func (g *QualityGate) Dependencies() []string { return nil }

func (g *QualityGate) Evaluate(ctx context.Context, draft Draft, ec EvalContext) (storytypes.GateResult, error) {
	table, err := genredata.For(ec.Project.Genre)
	if err != nil {
		return storytypes.GateResult{}, fmt.Errorf("quality gate: %w", err)
	}

	words := strings.Fields(draft.Body)
	wc := len(words)

	var diagnostics []string
	wcOK := wc >= g.MinWordCount && wc <= g.MaxWordCount
	if !wcOK {
		diagnostics = append(diagnostics, fmt.Sprintf("word count %d outside band [%d,%d]", wc, g.MinWordCount, g.MaxWordCount))
	}

	dialogueRatio := dialogueRatio(draft.Body)
	actionRatio := keywordDensity(draft.Body, []string{"ran", "struck", "dodged", "slashed", "leapt", "grabbed"})
	innerThoughtRatio := keywordDensity(draft.Body, []string{"thought", "wondered", "realized", "felt that"})
	sentenceVariance := sentenceLengthVariance(draft.Body)
	repetition := repetitionScore(words)
	openingHook := keywordPresence(firstWords(draft.Body, 100), table.OpeningHookWords)
	cliffhanger := keywordPresence(lastWords(draft.Body, 100), table.CliffhangerWords)
	dopamineCount := countOccurrences(draft.Body, table.DopamineSignals)

	writing := scoreBand(dialogueRatio, 0.15, 0.45) * 0.3
	writing += scoreBand(1-repetition, 0.6, 1.0) * 0.4
	writing += scoreBand(sentenceVariance, 0.2, 0.8) * 0.3
	if !wcOK {
		writing -= 2
	}
	writing = clamp(writing*10, 0, 10)

	plot := clamp(float64(dopamineCount)*2, 0, 10)
	character := clamp(innerThoughtRatio*20, 0, 10)
	pacing := clamp(actionRatio*20, 0, 10)
	engagement := clamp(openingHook*10, 0, 10)
	dopamine := clamp(float64(dopamineCount)*2.5, 0, 10)
	if cliffhanger > 0 {
		dopamine = clamp(dopamine+1, 0, 10)
	}

	composite := 0.25*writing + 0.15*(plot+character+pacing+engagement+dopamine)

	action := storytypes.ActionAccept
	switch {
	case composite >= g.AcceptThreshold:
		action = storytypes.ActionAccept
	case composite >= g.AcceptThreshold-2:
		action = storytypes.ActionAutoRewrite
	default:
		action = storytypes.ActionHumanReview
	}
	if !wcOK && action == storytypes.ActionAccept {
		action = storytypes.ActionAutoRewrite
	}

	return storytypes.GateResult{
		GateName:    g.Name(),
		Passed:      action == storytypes.ActionAccept,
		Score:       composite,
		Diagnostics: diagnostics,
		Action:      action,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func scoreBand(v, lo, hi float64) float64 {
	if v < lo {
		return v / lo
	}
	if v > hi {
		return 1
	}
	return 1
}

func dialogueRatio(body string) float64 {
	lines := strings.Split(body, "\n")
	if len(lines) == 0 {
		return 0
	}
	quoted := 0
	for _, l := range lines {
		if strings.Contains(l, "\"") {
			quoted++
		}
	}
	return float64(quoted) / float64(len(lines))
}

func keywordDensity(body string, keywords []string) float64 {
	words := strings.Fields(strings.ToLower(body))
	if len(words) == 0 {
		return 0
	}
	count := countOccurrences(strings.ToLower(body), keywords)
	return float64(count) / float64(len(words))
}

func keywordPresence(text string, keywords []string) float64 {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return 1
		}
	}
	return 0
}

func countOccurrences(body string, keywords []string) int {
	lower := strings.ToLower(body)
	count := 0
	for _, k := range keywords {
		count += strings.Count(lower, strings.ToLower(k))
	}
	return count
}

func firstWords(body string, n int) string {
	words := strings.Fields(body)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func lastWords(body string, n int) string {
	words := strings.Fields(body)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}

func sentenceLengthVariance(body string) float64 {
	sentences := strings.FieldsFunc(body, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	if len(sentences) < 2 {
		return 0
	}
	lengths := make([]float64, 0, len(sentences))
	var sum float64
	for _, s := range sentences {
		n := float64(len(strings.Fields(s)))
		lengths = append(lengths, n)
		sum += n
	}
	mean := sum / float64(len(lengths))
	var variance float64
	for _, n := range lengths {
		variance += (n - mean) * (n - mean)
	}
	variance /= float64(len(lengths))
	// Normalize to a rough 0..1 band; real prose tends to sit around
	// variance 10..40 in word-count-per-sentence terms.
	return clamp(variance/40, 0, 1)
}

func repetitionScore(words []string) float64 {
	if len(words) < 4 {
		return 0
	}
	seen := make(map[string]int, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) }))
		if w == "" {
			continue
		}
		seen[w]++
	}
	var repeated int
	for _, c := range seen {
		if c > 1 {
			repeated += c - 1
		}
	}
	return clamp(float64(repeated)/float64(len(words)), 0, 1)
}
