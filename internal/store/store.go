// Package store defines the Store Gateway: typed, transactional access to
// every persisted table the factory depends on. internal/store/postgres
// provides the only implementation; this package stays free of any driver
// import so callers depend on the interface, not on pgx.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/taibuivan/storyforge/internal/storytypes"
)

// ErrNotFound is returned when a lookup by ID finds no row.
var ErrNotFound = errors.New("store: not found")

// ErrCASMismatch is returned by AdvanceProjectChapter when the project's
// current chapter is not one less than the requested chapter number, i.e.
// another writer already advanced it or it was never at the expected value.
var ErrCASMismatch = errors.New("store: compare-and-set mismatch")

// ErrNoClaimable is returned by ClaimWriteItem and ClaimDuePublishes when
// nothing is currently eligible to claim. Callers treat this as a normal,
// expected outcome, not a failure.
var ErrNoClaimable = errors.New("store: nothing claimable")

// Error wraps a failure from a Gateway operation with a transient/terminal
// classification, so callers (the Scheduler, the Auto-Rewriter) know
// whether a retry is worth attempting. Grounded on the same
// sentinel-plus-typed-wrapper idiom the teacher uses in internal/jobs,
// with the transient/terminal split adapted from taibuivan-yomira's
// apperr/dberr classification.
type Error struct {
	Op        string
	Err       error
	Transient bool
}

func (e *Error) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retriable store error.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err, Transient: true}
}

// Terminal wraps err as a non-retriable store error.
func Terminal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err, Transient: false}
}

// IsTransient reports whether err (or any error in its chain) was marked
// retriable by the Gateway.
func IsTransient(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}

// Gateway is the Store Gateway (C1): the only component allowed to touch
// persisted rows. Every mutating method commits atomically; callers never
// see a partially applied write.
type Gateway interface {
	GetProject(ctx context.Context, projectID string) (storytypes.Project, error)
	GetOutline(ctx context.Context, projectID string) (storytypes.Outline, error)
	GetArcs(ctx context.Context, projectID string) ([]storytypes.ArcOutline, error)
	GetRecentChapterSummaries(ctx context.Context, projectID string, k int) ([]storytypes.ChapterSummary, error)

	// UpsertChapter alone is idempotent by (NovelID, ChapterNumber); use
	// PersistChapter when the chapter-number advance and summary write
	// must land in the same transaction.
	UpsertChapter(ctx context.Context, ch storytypes.Chapter) error

	// AdvanceProjectChapter is the sole CAS primitive coordinating
	// concurrent writers: it succeeds only if the project's current
	// chapter equals chapterNumber-1, returning ErrCASMismatch otherwise.
	AdvanceProjectChapter(ctx context.Context, projectID string, chapterNumber int) error

	UpsertCanonFact(ctx context.Context, fact storytypes.CanonFact) error
	// ListCanonFacts returns every active or retracted fact recorded for
	// projectID, for the Context Loader's canon-snapshot selection and the
	// Canon Resolver gate's contradiction checks.
	ListCanonFacts(ctx context.Context, projectID string) ([]storytypes.CanonFact, error)
	RecordBeat(ctx context.Context, entry storytypes.BeatLedgerEntry) error
	// ListRecentBeats returns the last window beat-ledger entries for
	// projectID in chapter order, for the Beat Ledger gate's repetition
	// window and the Context Loader's beat recommendations.
	ListRecentBeats(ctx context.Context, projectID string, window int) ([]storytypes.BeatLedgerEntry, error)
	RecordPowerEvent(ctx context.Context, state storytypes.PowerState) error
	RecordCost(ctx context.Context, rec storytypes.CostRecord) error

	EnqueueWrite(ctx context.Context, item storytypes.WorkItem) error
	// ClaimWriteItem atomically selects the earliest-scheduled item that is
	// pending (or whose writing lease has expired), marks it claimed with a
	// lease expiring after leaseFor, and returns it. Returns ErrNoClaimable when the queue is
	// empty of eligible items.
	ClaimWriteItem(ctx context.Context, worker string, leaseFor time.Duration) (storytypes.WorkItem, error)
	CompleteWriteItem(ctx context.Context, itemID string, success bool) error

	EnqueuePublish(ctx context.Context, item storytypes.PublishItem) error
	ClaimDuePublishes(ctx context.Context, now time.Time, limit int) ([]storytypes.PublishItem, error)
	// CompletePublish transitions a claimed (publishing) item either to
	// published - stamping the chapter's published_at and the parent
	// novel's updated_at - or, on failure, back to scheduled at
	// in.NextAttempt with retries incremented (if in.Retryable) or to a
	// terminal failed status (if retries are exhausted). Idempotent:
	// completing an already-published item is a no-op.
	CompletePublish(ctx context.Context, in CompletePublishInput) error

	// PersistChapter commits the chapter row, canon-fact deltas, beat
	// rows, a power-state row (if non-nil), a cost row, and the CAS
	// chapter advance as a single transaction. This is the correctness
	// core: partial commit across any of these must be impossible.
	PersistChapter(ctx context.Context, in PersistChapterInput) error
}

// CompletePublishInput is what the Publisher reports back after attempting
// to release one claimed PublishItem.
type CompletePublishInput struct {
	ItemID      string
	ChapterID   string
	NovelID     string
	Success     bool
	Retryable   bool      // only consulted when Success is false
	NextAttempt time.Time // new ScheduledAt when Retryable
	ErrMsg      string
}

// PersistChapterInput bundles everything a successful chapter production
// cycle must commit atomically.
type PersistChapterInput struct {
	Chapter     storytypes.Chapter
	Summary     storytypes.ChapterSummary
	CanonDeltas []storytypes.CanonFact
	Beats       []storytypes.BeatLedgerEntry
	Power       *storytypes.PowerState
	Cost        storytypes.CostRecord
	Publish     *storytypes.PublishItem
}
