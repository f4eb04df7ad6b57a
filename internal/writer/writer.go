package writer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	storycontext "github.com/taibuivan/storyforge/internal/context"
)

// ErrorKind classifies a ContentInvalid failure the Writer itself detects
// (as opposed to an upstream transport/provider failure).
type ErrorKind string

const (
	ErrKindEmpty     ErrorKind = "empty"
	ErrKindTruncated ErrorKind = "truncated"
	ErrKindUpstream  ErrorKind = "upstream"
)

// WriterError is returned by WriteChapter for every failure; Kind tells an
// exhausted upstream retry apart from a content problem (empty or
// truncated response). The Production Worker treats all kinds alike: it
// retries the whole WriteChapter call and then fails the chapter. Content
// problems are not handed to the Auto-Rewriter.
type WriterError struct {
	Kind ErrorKind
	Err  error
}

func (e *WriterError) Error() string { return fmt.Sprintf("writer: %s: %v", e.Kind, e.Err) }
func (e *WriterError) Unwrap() error { return e.Err }

// Draft is the Writer's structured output: a parsed title and cleaned
// body, plus the token accounting the caller needs to record cost.
type Draft struct {
	Title        string
	Body         string
	WordCount    int
	InputTokens  int
	OutputTokens int
}

const maxUpstreamAttempts = 3

var titlePattern = regexp.MustCompile(`(?i)^\s*ch[uư][ơo]ng\s+(\d+)\s*[:.\-–]\s*(.+)$`)

// WriteChapter drafts chapterNumber from bundle, calling gen for the raw
// text. Transient upstream failures (timeout, 5xx, rate limit) are retried
// with jittered backoff up to maxUpstreamAttempts; content problems (empty
// response, apparent truncation) are returned as a *WriterError without
// retrying here.
func WriteChapter(ctx context.Context, gen Generator, chapterNumber int, bundle storycontext.ContextBundle, params WriteParams) (Draft, error) {
	systemMsg := systemPrompt(bundle.Project.Genre)
	userMsg := buildUserPrompt(chapterNumber, bundle, params)

	genParams := GenerateParams{
		Model:       params.Model,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Timeout:     time.Duration(params.TimeoutSeconds) * time.Second,

		ProjectID:     bundle.Project.ID,
		ChapterNumber: chapterNumber,
		PromptKey:     "write_chapter",
	}

	result, err := retry.DoWithData(
		func() (GenerateResult, error) {
			return gen.Generate(ctx, systemMsg, userMsg, genParams)
		},
		retry.Context(ctx),
		retry.Attempts(maxUpstreamAttempts),
		retry.RetryIf(IsTransient),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(500*time.Millisecond),
		retry.MaxJitter(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return Draft{}, &WriterError{Kind: ErrKindUpstream, Err: err}
	}

	if strings.TrimSpace(result.Text) == "" {
		return Draft{}, &WriterError{Kind: ErrKindEmpty, Err: fmt.Errorf("model returned an empty response")}
	}

	title, body := extractTitle(result.Text, chapterNumber)
	body = cleanMarkdown(body)
	wordCount := len(strings.Fields(body))

	if looksTruncated(body, wordCount, params.wordCountTarget()) {
		return Draft{}, &WriterError{Kind: ErrKindTruncated, Err: fmt.Errorf("draft appears truncated at %d words", wordCount)}
	}

	return Draft{
		Title:        title,
		Body:         body,
		WordCount:    wordCount,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
	}, nil
}

// extractTitle pulls the "Chương N: <title>" line off the front of raw
// and strips it from the body. If the title line can't be parsed, a
// default title is used and the whole response becomes the body — an
// unparsable title is a cosmetic loss, not a content failure worth
// escalating through the WriterError taxonomy.
func extractTitle(raw string, chapterNumber int) (title, body string) {
	lines := strings.SplitN(strings.TrimSpace(raw), "\n", 2)
	first := strings.TrimSpace(lines[0])

	if m := titlePattern.FindStringSubmatch(first); m != nil {
		title = strings.TrimSpace(m[2])
		if len(lines) > 1 {
			body = strings.TrimSpace(lines[1])
		}
		return title, body
	}

	return fmt.Sprintf("Chương %d", chapterNumber), strings.TrimSpace(raw)
}

var (
	markdownHeader = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	markdownBold   = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	markdownItalic = regexp.MustCompile(`(^|[^*])\*([^*]+)\*([^*]|$)`)
	markdownBullet = regexp.MustCompile(`(?m)^[\-\*]\s+`)
)

// cleanMarkdown strips the handful of markdown artefacts models tend to
// emit even when told not to (headers, bold/italic asterisks, bullets).
func cleanMarkdown(body string) string {
	body = markdownHeader.ReplaceAllString(body, "")
	body = markdownBold.ReplaceAllString(body, "$1")
	body = markdownItalic.ReplaceAllString(body, "$1$2$3")
	body = markdownBullet.ReplaceAllString(body, "")
	return strings.TrimSpace(body)
}

// looksTruncated applies a cheap heuristic since Generator doesn't expose
// a finish-reason: a draft well short of its target that doesn't end on
// sentence-ending punctuation is very likely a cut-off response.
func looksTruncated(body string, wordCount, target int) bool {
	if wordCount == 0 {
		return false // empty is handled separately
	}
	trimmed := strings.TrimSpace(body)
	last := trimmed[len(trimmed)-1]
	endsClean := last == '.' || last == '!' || last == '?' || last == '"' || last == '”'
	if endsClean {
		return false
	}
	return wordCount < target/2
}
