package scheduler

import (
	"context"
	"testing"
	"time"

	storycontext "github.com/taibuivan/storyforge/internal/context"
	"github.com/taibuivan/storyforge/internal/gates"
	"github.com/taibuivan/storyforge/internal/store"
	"github.com/taibuivan/storyforge/internal/storytypes"
	"github.com/taibuivan/storyforge/internal/worker"
	"github.com/taibuivan/storyforge/internal/writer"
)

type fakeGateway struct {
	project       storytypes.Project
	advanceCalled int
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
func (f *fakeGateway) UpsertChapter(ctx context.Context, ch storytypes.Chapter) error { return nil }
func (f *fakeGateway) AdvanceProjectChapter(ctx context.Context, projectID string, chapterNumber int) error {
	f.advanceCalled++
	f.project.CurrentChapter = chapterNumber
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
func (f *fakeGateway) CompleteWriteItem(ctx context.Context, itemID string, success bool) error { return nil }
func (f *fakeGateway) EnqueuePublish(ctx context.Context, item storytypes.PublishItem) error    { return nil }
func (f *fakeGateway) ClaimDuePublishes(ctx context.Context, now time.Time, limit int) ([]storytypes.PublishItem, error) {
	return nil, nil
}
func (f *fakeGateway) PersistChapter(ctx context.Context, in store.PersistChapterInput) error {
	f.advanceCalled++
	f.project.CurrentChapter = in.Chapter.ChapterNumber
	return nil
}

type stubGenerator struct{ text string }

func (s *stubGenerator) Generate(ctx context.Context, systemMsg, userMsg string, params writer.GenerateParams) (writer.GenerateResult, error) {
	return writer.GenerateResult{Text: s.text, InputTokens: 10, OutputTokens: 20}, nil
}

type stubGate struct {
	name   string
	action storytypes.GateAction
}

func (g *stubGate) Name() string           { return g.name }
func (g *stubGate) Dependencies() []string { return nil }
func (g *stubGate) Evaluate(ctx context.Context, draft gates.Draft, ec gates.EvalContext) (storytypes.GateResult, error) {
	return storytypes.GateResult{GateName: g.name, Score: 8, Action: g.action, Passed: g.action == storytypes.ActionAccept}, nil
}

func newTestScheduler(t *testing.T, gw store.Gateway, gen writer.Generator) *Scheduler {
	t.Helper()
	reg := gates.NewRegistry()
	if err := reg.Register(&stubGate{name: "quality", action: storytypes.ActionAccept}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(gates.NewCostCacheGate()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	loader := storycontext.NewLoader(gw, nil, nil)
	w := worker.New("test-worker", gw, loader, gen, reg, nil, nil)
	w.InterChapterDelay = time.Millisecond
	w.WriteParams = writer.WriteParams{WordCountTarget: 1}
	return New(w, nil)
}

func TestStartRun_WritesRequestedChapters(t *testing.T) {
	gw := &fakeGateway{project: storytypes.Project{ID: "p1", NovelID: "novel-1", Genre: storytypes.GenreCultivation, CurrentChapter: 0, TotalPlannedChapters: 10}}
	gen := &stubGenerator{text: "Chương 1: Khởi Đầu\nMột đoạn văn dài kết thúc tốt đẹp."}
	sch := newTestScheduler(t, gw, gen)

	summary, err := sch.StartRun(context.Background(), "p1", 3)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if summary.ChaptersWritten != 3 {
		t.Errorf("ChaptersWritten = %d, want 3", summary.ChaptersWritten)
	}
	if summary.StoppedEarly {
		t.Errorf("StoppedEarly = true, want false")
	}
	if len(summary.Chapters) != 3 {
		t.Errorf("len(Chapters) = %d, want 3", len(summary.Chapters))
	}
	if summary.Chapters[0].ChapterNumber != 1 || summary.Chapters[2].ChapterNumber != 3 {
		t.Errorf("chapter numbers = %v, want [1 2 3]", summary.Chapters)
	}
}

func TestStartRun_AlreadyComplete(t *testing.T) {
	gw := &fakeGateway{project: storytypes.Project{ID: "p1", CurrentChapter: 10, TotalPlannedChapters: 10}}
	gen := &stubGenerator{text: "ignored"}
	sch := newTestScheduler(t, gw, gen)

	summary, err := sch.StartRun(context.Background(), "p1", 5)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if !summary.StoppedEarly || summary.StoppedReason != "already_complete" {
		t.Errorf("summary = %+v, want StoppedEarly=true StoppedReason=already_complete", summary)
	}
}

func TestStartRun_CapsAtTotalPlannedChapters(t *testing.T) {
	gw := &fakeGateway{project: storytypes.Project{ID: "p1", NovelID: "novel-1", Genre: storytypes.GenreCultivation, CurrentChapter: 8, TotalPlannedChapters: 10}}
	gen := &stubGenerator{text: "Chương 9: Gần Cuối\nMột đoạn văn dài kết thúc tốt đẹp."}
	sch := newTestScheduler(t, gw, gen)

	summary, err := sch.StartRun(context.Background(), "p1", 5)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if summary.ChaptersWritten != 2 {
		t.Errorf("ChaptersWritten = %d, want 2 (capped at totalPlannedChapters=10)", summary.ChaptersWritten)
	}
}

func TestPauseResumeStop_NoSessionErrors(t *testing.T) {
	gw := &fakeGateway{project: storytypes.Project{ID: "p1", TotalPlannedChapters: 10}}
	sch := newTestScheduler(t, gw, &stubGenerator{})

	if err := sch.Pause("unknown"); err == nil {
		t.Errorf("Pause() on unknown project: error = nil, want error")
	}
	if err := sch.Resume("unknown"); err == nil {
		t.Errorf("Resume() on unknown project: error = nil, want error")
	}
	if err := sch.Stop("unknown"); err == nil {
		t.Errorf("Stop() on unknown project: error = nil, want error")
	}
}

func TestStop_FlipsSessionFlagObservedViaGetStatus(t *testing.T) {
	gw := &fakeGateway{project: storytypes.Project{ID: "p1", TotalPlannedChapters: 10}}
	sch := newTestScheduler(t, gw, &stubGenerator{})

	sch.getOrCreateSession("p1")
	if err := sch.Stop("p1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	status, ok := sch.GetStatus("p1")
	if !ok {
		t.Fatalf("GetStatus() ok = false, want true")
	}
	if !status.ShouldStop {
		t.Errorf("ShouldStop = false, want true")
	}
}
