package worker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	storycontext "github.com/taibuivan/storyforge/internal/context"
	"github.com/taibuivan/storyforge/internal/gates"
	"github.com/taibuivan/storyforge/internal/store"
	"github.com/taibuivan/storyforge/internal/storytypes"
	"github.com/taibuivan/storyforge/internal/writer"
)

type fakeGateway struct {
	project          storytypes.Project
	persistCalls     int
	upsertCalls      int
	completeCalls    []bool
	advanceCalled    bool
	lastPersistInput store.PersistChapterInput
}

func (f *fakeGateway) GetProject(ctx context.Context, projectID string) (storytypes.Project, error) {
	return f.project, nil
}
func (f *fakeGateway) GetOutline(ctx context.Context, projectID string) (storytypes.Outline, error) {
	return storytypes.Outline{}, nil
}
func (f *fakeGateway) GetArcs(ctx context.Context, projectID string) ([]storytypes.ArcOutline, error) {
	return nil, nil
}
func (f *fakeGateway) GetRecentChapterSummaries(ctx context.Context, projectID string, k int) ([]storytypes.ChapterSummary, error) {
	return nil, nil
}
func (f *fakeGateway) UpsertChapter(ctx context.Context, ch storytypes.Chapter) error {
	f.upsertCalls++
	return nil
}
func (f *fakeGateway) AdvanceProjectChapter(ctx context.Context, projectID string, chapterNumber int) error {
	f.advanceCalled = true
	return nil
}
func (f *fakeGateway) UpsertCanonFact(ctx context.Context, fact storytypes.CanonFact) error { return nil }
func (f *fakeGateway) ListCanonFacts(ctx context.Context, projectID string) ([]storytypes.CanonFact, error) {
	return nil, nil
}
func (f *fakeGateway) RecordBeat(ctx context.Context, entry storytypes.BeatLedgerEntry) error { return nil }
func (f *fakeGateway) ListRecentBeats(ctx context.Context, projectID string, window int) ([]storytypes.BeatLedgerEntry, error) {
	return nil, nil
}
func (f *fakeGateway) RecordPowerEvent(ctx context.Context, state storytypes.PowerState) error { return nil }
func (f *fakeGateway) RecordCost(ctx context.Context, rec storytypes.CostRecord) error          { return nil }
func (f *fakeGateway) EnqueueWrite(ctx context.Context, item storytypes.WorkItem) error          { return nil }
func (f *fakeGateway) ClaimWriteItem(ctx context.Context, worker string, leaseFor time.Duration) (storytypes.WorkItem, error) {
	return storytypes.WorkItem{}, store.ErrNoClaimable
}
func (f *fakeGateway) CompleteWriteItem(ctx context.Context, itemID string, success bool) error {
	f.completeCalls = append(f.completeCalls, success)
	return nil
}
func (f *fakeGateway) EnqueuePublish(ctx context.Context, item storytypes.PublishItem) error { return nil }
func (f *fakeGateway) ClaimDuePublishes(ctx context.Context, now time.Time, limit int) ([]storytypes.PublishItem, error) {
	return nil, nil
}
func (f *fakeGateway) PersistChapter(ctx context.Context, in store.PersistChapterInput) error {
	f.persistCalls++
	f.lastPersistInput = in
	f.advanceCalled = true
	return nil
}

type stubGenerator struct {
	text string
}

func (s *stubGenerator) Generate(ctx context.Context, systemMsg, userMsg string, params writer.GenerateParams) (writer.GenerateResult, error) {
	return writer.GenerateResult{Text: s.text, InputTokens: 100, OutputTokens: 200}, nil
}

// stubGate returns a fixed GateResult regardless of the draft, so
// ProcessChapter tests can drive a specific aggregate action
// deterministically instead of depending on the real heuristic scoring
// in gates.QualityGate.
type stubGate struct {
	name   string
	result storytypes.GateResult
}

func (g *stubGate) Name() string           { return g.name }
func (g *stubGate) Dependencies() []string { return nil }
func (g *stubGate) Evaluate(ctx context.Context, draft gates.Draft, ec gates.EvalContext) (storytypes.GateResult, error) {
	return g.result, nil
}

func newTestWorker(t *testing.T, gw store.Gateway, gen writer.Generator, action storytypes.GateAction) *Worker {
	t.Helper()
	reg := gates.NewRegistry()
	if err := reg.Register(&stubGate{name: "quality", result: storytypes.GateResult{GateName: "quality", Score: 8, Action: action, Passed: action == storytypes.ActionAccept}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(gates.NewCostCacheGate()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	loader := storycontext.NewLoader(gw, nil, slog.Default())
	w := New("test-worker", gw, loader, gen, reg, nil, slog.Default())
	w.InterChapterDelay = time.Millisecond
	w.WriteParams = writer.WriteParams{WordCountTarget: 1}
	return w
}

func TestProcessChapter_AcceptedDraftAdvancesProject(t *testing.T) {
	gw := &fakeGateway{project: storytypes.Project{ID: "p1", NovelID: "novel-1", Genre: storytypes.GenreCultivation, CurrentChapter: 4}}
	gen := &stubGenerator{text: "Chương 5: Bước Tiến\nMột đoạn văn dài kết thúc tốt đẹp."}
	w := newTestWorker(t, gw, gen, storytypes.ActionAccept)

	result := w.ProcessChapter(context.Background(), storytypes.WorkItem{ID: "wi1", ProjectID: "p1", ChapterNumber: 5}, time.Now())

	if !result.Success {
		t.Fatalf("Success = false, want true (error=%q)", result.Error)
	}
	if result.NeedsHumanReview {
		t.Errorf("NeedsHumanReview = true, want false")
	}
	if gw.persistCalls != 1 {
		t.Errorf("persistCalls = %d, want 1", gw.persistCalls)
	}
	if gw.upsertCalls != 0 {
		t.Errorf("upsertCalls = %d, want 0 (accepted path uses PersistChapter, not bare UpsertChapter)", gw.upsertCalls)
	}
	if len(gw.completeCalls) != 1 || !gw.completeCalls[0] {
		t.Errorf("completeCalls = %v, want [true]", gw.completeCalls)
	}
}

func TestProcessChapter_EmptyResponseFailsChapter(t *testing.T) {
	gw := &fakeGateway{project: storytypes.Project{ID: "p1", NovelID: "novel-1", Genre: storytypes.GenreCultivation}}
	gen := &stubGenerator{text: "   "}
	w := newTestWorker(t, gw, gen, storytypes.ActionAccept)

	result := w.ProcessChapter(context.Background(), storytypes.WorkItem{ID: "wi1", ProjectID: "p1", ChapterNumber: 1}, time.Now())

	if result.Success {
		t.Errorf("Success = true, want false")
	}
	if result.FinalPhase != PhaseFailed {
		t.Errorf("FinalPhase = %v, want %v", result.FinalPhase, PhaseFailed)
	}
	if len(gw.completeCalls) != 1 || gw.completeCalls[0] {
		t.Errorf("completeCalls = %v, want [false]", gw.completeCalls)
	}
	if gw.persistCalls != 0 {
		t.Errorf("persistCalls = %d, want 0", gw.persistCalls)
	}
}

func TestProcessChapter_HumanReviewDoesNotAdvanceProject(t *testing.T) {
	gw := &fakeGateway{project: storytypes.Project{ID: "p1", NovelID: "novel-1", Genre: storytypes.GenreCultivation, CurrentChapter: 4}}
	gen := &stubGenerator{text: "Chương 5: Bản Nháp\nMột đoạn văn."}
	w := newTestWorker(t, gw, gen, storytypes.ActionHumanReview)

	result := w.ProcessChapter(context.Background(), storytypes.WorkItem{ID: "wi1", ProjectID: "p1", ChapterNumber: 5}, time.Now())

	if result.Success {
		t.Errorf("Success = true, want false")
	}
	if !result.NeedsHumanReview {
		t.Errorf("NeedsHumanReview = false, want true")
	}
	if gw.upsertCalls != 1 {
		t.Errorf("upsertCalls = %d, want 1 (human-review path persists via UpsertChapter only)", gw.upsertCalls)
	}
	if gw.persistCalls != 0 {
		t.Errorf("persistCalls = %d, want 0 (human-review path must not advance currentChapter)", gw.persistCalls)
	}
	if gw.advanceCalled {
		t.Errorf("advanceCalled = true, want false")
	}
	if len(gw.completeCalls) != 1 || !gw.completeCalls[0] {
		t.Errorf("completeCalls = %v, want [true] (item is still marked done, just flagged for review)", gw.completeCalls)
	}
}
