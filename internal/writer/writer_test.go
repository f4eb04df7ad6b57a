package writer

import (
	"context"
	"errors"
	"strings"
	"testing"

	storycontext "github.com/taibuivan/storyforge/internal/context"
	"github.com/taibuivan/storyforge/internal/storytypes"
)

type stubGenerator struct {
	results []GenerateResult
	errs    []error
	calls   int
}

func (s *stubGenerator) Generate(ctx context.Context, systemMsg, userMsg string, params GenerateParams) (GenerateResult, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return GenerateResult{}, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return s.results[len(s.results)-1], nil
}

func testBundle() storycontext.ContextBundle {
	return storycontext.ContextBundle{
		Project:        storytypes.Project{ID: "p1", NovelID: "novel-1", Genre: storytypes.GenreCultivation},
		ChapterOutline: storytypes.ChapterOutline{ChapterNumber: 5, Title: "The Breakthrough", Summary: "Hero breaks through"},
	}
}

func TestWriteChapter_Success(t *testing.T) {
	gen := &stubGenerator{results: []GenerateResult{{
		Text:         "Chương 5: Đột Phá\nMột đoạn văn dài kết thúc bằng dấu chấm.",
		InputTokens:  100,
		OutputTokens: 50,
	}}}

	draft, err := WriteChapter(context.Background(), gen, 5, testBundle(), WriteParams{WordCountTarget: 1})
	if err != nil {
		t.Fatalf("WriteChapter() error = %v", err)
	}
	if draft.Title != "Đột Phá" {
		t.Errorf("Title = %q, want %q", draft.Title, "Đột Phá")
	}
	if !strings.Contains(draft.Body, "Một đoạn văn") {
		t.Errorf("Body missing expected content: %q", draft.Body)
	}
	if draft.InputTokens != 100 || draft.OutputTokens != 50 {
		t.Errorf("token accounting = %d/%d, want 100/50", draft.InputTokens, draft.OutputTokens)
	}
}

func TestWriteChapter_EmptyResponse(t *testing.T) {
	gen := &stubGenerator{results: []GenerateResult{{Text: "   "}}}

	_, err := WriteChapter(context.Background(), gen, 1, testBundle(), WriteParams{})
	var we *WriterError
	if !errors.As(err, &we) {
		t.Fatalf("expected *WriterError, got %v", err)
	}
	if we.Kind != ErrKindEmpty {
		t.Errorf("Kind = %v, want %v", we.Kind, ErrKindEmpty)
	}
}

func TestWriteChapter_TitleUnparsable_FallsBackInsteadOfErroring(t *testing.T) {
	gen := &stubGenerator{results: []GenerateResult{{Text: "No title line here, just body text that ends cleanly."}}}

	draft, err := WriteChapter(context.Background(), gen, 7, testBundle(), WriteParams{WordCountTarget: 1})
	if err != nil {
		t.Fatalf("WriteChapter() error = %v", err)
	}
	if draft.Title != "Chương 7" {
		t.Errorf("Title = %q, want fallback %q", draft.Title, "Chương 7")
	}
}

func TestWriteChapter_TruncatedDraft(t *testing.T) {
	gen := &stubGenerator{results: []GenerateResult{{
		Text: "Chương 1: Mở Đầu\nmột hai ba bốn năm sáu",
	}}}

	_, err := WriteChapter(context.Background(), gen, 1, testBundle(), WriteParams{WordCountTarget: 100})
	var we *WriterError
	if !errors.As(err, &we) {
		t.Fatalf("expected *WriterError, got %v", err)
	}
	if we.Kind != ErrKindTruncated {
		t.Errorf("Kind = %v, want %v", we.Kind, ErrKindTruncated)
	}
}

func TestWriteChapter_RetriesTransientThenSucceeds(t *testing.T) {
	gen := &stubGenerator{
		errs:    []error{Transient("chat", errors.New("status 503")), nil},
		results: []GenerateResult{{}, {Text: "Chương 2: Hồi Sinh\nMột câu chuyện dài kết thúc tốt đẹp."}},
	}

	draft, err := WriteChapter(context.Background(), gen, 2, testBundle(), WriteParams{WordCountTarget: 1})
	if err != nil {
		t.Fatalf("WriteChapter() error = %v", err)
	}
	if gen.calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", gen.calls)
	}
	if draft.Title != "Hồi Sinh" {
		t.Errorf("Title = %q, want %q", draft.Title, "Hồi Sinh")
	}
}

func TestWriteChapter_TerminalUpstreamDoesNotRetry(t *testing.T) {
	gen := &stubGenerator{errs: []error{Terminal("chat", errors.New("invalid api key"))}}

	_, err := WriteChapter(context.Background(), gen, 1, testBundle(), WriteParams{})
	var we *WriterError
	if !errors.As(err, &we) {
		t.Fatalf("expected *WriterError, got %v", err)
	}
	if we.Kind != ErrKindUpstream {
		t.Errorf("Kind = %v, want %v", we.Kind, ErrKindUpstream)
	}
	if gen.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on terminal error)", gen.calls)
	}
}

func TestCleanMarkdown(t *testing.T) {
	in := "## Header\n**bold** and *italic* text\n- bullet one\n- bullet two"
	out := cleanMarkdown(in)
	if strings.Contains(out, "#") || strings.Contains(out, "*") || strings.Contains(out, "- ") {
		t.Errorf("cleanMarkdown left artefacts: %q", out)
	}
}
