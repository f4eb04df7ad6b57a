package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taibuivan/storyforge/internal/store"
	"github.com/taibuivan/storyforge/internal/storytypes"
)

type fakeGateway struct {
	due            []storytypes.PublishItem
	claimErr       error
	completeErr    error
	failCompleteOn string // ItemID to fail CompletePublish for, once
	completed      []store.CompletePublishInput
}

func (f *fakeGateway) GetProject(ctx context.Context, projectID string) (storytypes.Project, error) {
	return storytypes.Project{}, nil
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
func (f *fakeGateway) EnqueuePublish(ctx context.Context, item storytypes.PublishItem) error     { return nil }
func (f *fakeGateway) ClaimDuePublishes(ctx context.Context, now time.Time, limit int) ([]storytypes.PublishItem, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.due, nil
}
func (f *fakeGateway) CompletePublish(ctx context.Context, in store.CompletePublishInput) error {
	f.completed = append(f.completed, in)
	if in.ItemID == f.failCompleteOn {
		return f.completeErr
	}
	return nil
}
func (f *fakeGateway) PersistChapter(ctx context.Context, in store.PersistChapterInput) error {
	return nil
}

func TestTickPublisher_PublishesAllDueItems(t *testing.T) {
	gw := &fakeGateway{due: []storytypes.PublishItem{
		{ID: "pub1", ChapterID: "ch1", ProjectID: "p1", ChapterNumber: 1, Status: storytypes.PublishPublishing},
		{ID: "pub2", ChapterID: "ch2", ProjectID: "p1", ChapterNumber: 2, Status: storytypes.PublishPublishing},
	}}
	p := New(gw, nil)

	result, err := p.TickPublisher(context.Background())
	if err != nil {
		t.Fatalf("TickPublisher() error = %v", err)
	}
	if result.Claimed != 2 || result.Published != 2 {
		t.Errorf("result = %+v, want Claimed=2 Published=2", result)
	}
	if len(gw.completed) != 2 {
		t.Fatalf("len(completed) = %d, want 2", len(gw.completed))
	}
	for _, c := range gw.completed {
		if !c.Success {
			t.Errorf("CompletePublish input = %+v, want Success=true", c)
		}
	}
}

func TestTickPublisher_NoClaimableIsNotAnError(t *testing.T) {
	gw := &fakeGateway{claimErr: store.ErrNoClaimable}
	p := New(gw, nil)

	result, err := p.TickPublisher(context.Background())
	if err != nil {
		t.Fatalf("TickPublisher() error = %v", err)
	}
	if result.Claimed != 0 {
		t.Errorf("Claimed = %d, want 0", result.Claimed)
	}
}

func TestTickPublisher_PropagatesClaimError(t *testing.T) {
	wantErr := errors.New("db down")
	gw := &fakeGateway{claimErr: wantErr}
	p := New(gw, nil)

	_, err := p.TickPublisher(context.Background())
	if err != wantErr {
		t.Errorf("TickPublisher() error = %v, want %v", err, wantErr)
	}
}
