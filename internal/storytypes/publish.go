package storytypes

import "time"

// PublishStatus is the lifecycle of a queued release. Published items are
// terminal: nothing transitions a PublishItem out of PublishPublished.
type PublishStatus string

const (
	PublishScheduled  PublishStatus = "scheduled"
	PublishPublishing PublishStatus = "publishing"
	PublishPublished  PublishStatus = "published"
	PublishFailed     PublishStatus = "failed"
)

// PublishItem is a chapter queued for release at a specific time, decoupling
// when a chapter is written from when it is made visible to readers.
//
// Invariant: publish never runs before ScheduledAt.
type PublishItem struct {
	ID            string
	ChapterID     string
	ProjectID     string
	ChapterNumber int
	ScheduledAt   time.Time
	Status        PublishStatus
	Retries       int
	LastError     string
}

// Due reports whether the item should be released as of now.
func (p PublishItem) Due(now time.Time) bool {
	return p.Status == PublishScheduled && !now.Before(p.ScheduledAt)
}
