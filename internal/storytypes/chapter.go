package storytypes

import "time"

// ChapterStatus is the lifecycle state of a produced Chapter.
type ChapterStatus string

const (
	ChapterDraft     ChapterStatus = "draft"
	ChapterPublished ChapterStatus = "published"
	ChapterFailed    ChapterStatus = "failed"
)

// Chapter is the produced artifact. Unique by (NovelID, ChapterNumber).
// Chapters are never silently deleted.
type Chapter struct {
	ID            string
	NovelID       string
	ChapterNumber int
	Title         string
	Content       string
	WordCount     int
	Status        ChapterStatus
	NeedsReview   bool
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// ChapterSummary is a condensed, persisted record of a chapter used to
// build future chapters' writing context without re-reading full bodies.
type ChapterSummary struct {
	ProjectID     string
	ChapterNumber int
	Title         string
	Summary       string
}
