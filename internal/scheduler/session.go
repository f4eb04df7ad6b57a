// Package scheduler implements the Scheduler (C7): the per-project run
// loop and the cross-project fleet orchestration that feeds work items to
// Production Workers. Grounded on the teacher's internal/jobs.Scheduler
// (a mutex-protected registry over live work plus a bounded worker pool),
// generalized from "route classify/polish/finalize jobs to provider
// workers" to "route chapters to a single writer-per-project".
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taibuivan/storyforge/internal/storytypes"
	"github.com/taibuivan/storyforge/internal/worker"
)

const pausePollInterval = 500 * time.Millisecond

// ChapterResult is one chapter's outcome inside a RunSummary.
type ChapterResult struct {
	ChapterNumber    int
	Success          bool
	NeedsHumanReview bool
	QCScore          float64
	RewriteAttempts  int
	Error            string
}

// RunSummary aggregates everything a per-run StartRun call reports back.
type RunSummary struct {
	ProjectID          string
	ChaptersWritten    int
	ChaptersFailed     int
	HumanReviewFlagged int
	Chapters           []ChapterResult
	StoppedEarly       bool
	StoppedReason      string // "" | "already_complete" | "manual_stop" | "human_review" | "worker_failed"
}

// session is the in-memory run state for one project. A project has at
// most one live session; StartRun on a project with an existing session
// replaces it (the teacher's scheduler does the same on RegisterWorker:
// last registration wins).
type session struct {
	mu         sync.Mutex
	projectID  string
	status     storytypes.SessionStatus
	shouldStop bool
	isPaused   bool
	startChap  int
	endChap    int
	written    int
}

func (s *session) snapshot() storytypes.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return storytypes.Session{
		ProjectID:                  s.projectID,
		Status:                     s.status,
		ShouldStop:                 s.shouldStop,
		ChaptersWrittenThisSession: s.written,
		StartChapter:               s.startChap,
		EndChapter:                 s.endChap,
	}
}

// Scheduler owns every project's live Session and the fleet worker pool.
// Its ProjectWorker field is the Production Worker (C6) invoked once per
// claimed chapter; one Scheduler typically wraps one Worker, since the
// single-writer-per-project invariant means there is nothing for a second
// worker instance to do that claim serialization doesn't already prevent.
type Scheduler struct {
	mu       sync.RWMutex
	sessions map[string]*session

	ProjectWorker *worker.Worker
	Logger        *slog.Logger
}

// New constructs a Scheduler wrapping w. logger may be nil, in which case
// slog.Default() is used.
func New(w *worker.Worker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sessions:      make(map[string]*session),
		ProjectWorker: w,
		Logger:        logger,
	}
}

func (sch *Scheduler) getOrCreateSession(projectID string) *session {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	s, ok := sch.sessions[projectID]
	if !ok {
		s = &session{projectID: projectID}
		sch.sessions[projectID] = s
	}
	return s
}

// StartRun drives chaptersToWrite chapters for projectID, one at a time,
// through sch.ProjectWorker.ProcessChapter. It blocks for the duration of
// the run; callers that want an async run should invoke it in its own
// goroutine and poll GetStatus.
func (sch *Scheduler) StartRun(ctx context.Context, projectID string, chaptersToWrite int) (RunSummary, error) {
	project, err := sch.ProjectWorker.Gateway.GetProject(ctx, projectID)
	if err != nil {
		return RunSummary{}, fmt.Errorf("scheduler: load project: %w", err)
	}

	startChapter := project.CurrentChapter + 1
	if startChapter > project.TotalPlannedChapters {
		return RunSummary{ProjectID: projectID, StoppedEarly: true, StoppedReason: "already_complete"}, nil
	}
	endChapter := startChapter + chaptersToWrite - 1
	if endChapter > project.TotalPlannedChapters {
		endChapter = project.TotalPlannedChapters
	}

	s := sch.getOrCreateSession(projectID)
	s.mu.Lock()
	s.status = storytypes.SessionRunning
	s.shouldStop = false
	s.isPaused = false
	s.startChap = startChapter
	s.endChap = endChapter
	s.written = 0
	s.mu.Unlock()

	summary := RunSummary{ProjectID: projectID}
	sessionStart := time.Now()

chapterLoop:
	for chapterNum := startChapter; chapterNum <= endChapter; chapterNum++ {
		s.mu.Lock()
		stop := s.shouldStop
		s.mu.Unlock()
		if stop {
			summary.StoppedEarly = true
			summary.StoppedReason = "manual_stop"
			break
		}

		if !sch.waitWhilePaused(ctx, s) {
			summary.StoppedEarly = true
			summary.StoppedReason = "manual_stop"
			break
		}

		item := storytypes.WorkItem{ProjectID: projectID, ChapterNumber: chapterNum}
		res := sch.ProjectWorker.ProcessChapter(ctx, item, sessionStart)

		cr := ChapterResult{
			ChapterNumber:    res.ChapterNumber,
			Success:          res.Success,
			NeedsHumanReview: res.NeedsHumanReview,
			QCScore:          res.QCScore,
			RewriteAttempts:  res.RewriteAttempts,
			Error:            res.Error,
		}
		summary.Chapters = append(summary.Chapters, cr)

		switch {
		case res.NeedsHumanReview:
			summary.HumanReviewFlagged++
			// A chapter flagged for human review does not advance
			// currentChapter, so a run that hits one stops here by
			// construction: the next iteration would try to claim the
			// same chapter number again.
			summary.StoppedEarly = true
			summary.StoppedReason = "human_review"
			s.mu.Lock()
			s.written++
			s.mu.Unlock()
			break chapterLoop
		case res.Success:
			summary.ChaptersWritten++
			s.mu.Lock()
			s.written++
			s.mu.Unlock()
		default:
			summary.ChaptersFailed++
			summary.StoppedEarly = true
			summary.StoppedReason = "worker_failed"
			break chapterLoop
		}
	}

	s.mu.Lock()
	s.status = storytypes.SessionStopped
	s.mu.Unlock()
	return summary, nil
}

// waitWhilePaused cooperatively sleeps while the session is paused,
// polling every 500ms, and returns false if the context is cancelled or
// Stop is requested during the wait.
func (sch *Scheduler) waitWhilePaused(ctx context.Context, s *session) bool {
	for {
		s.mu.Lock()
		paused := s.isPaused
		stop := s.shouldStop
		s.mu.Unlock()
		if stop {
			return false
		}
		if !paused {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pausePollInterval):
		}
	}
}

// Pause marks projectID's session paused; observable at the next chapter
// boundary or during an in-progress wait poll.
func (sch *Scheduler) Pause(projectID string) error {
	s, ok := sch.lookupSession(projectID)
	if !ok {
		return fmt.Errorf("scheduler: no active session for project %s", projectID)
	}
	s.mu.Lock()
	s.isPaused = true
	s.status = storytypes.SessionPaused
	s.mu.Unlock()
	return nil
}

// Resume clears the pause flag on projectID's session.
func (sch *Scheduler) Resume(projectID string) error {
	s, ok := sch.lookupSession(projectID)
	if !ok {
		return fmt.Errorf("scheduler: no active session for project %s", projectID)
	}
	s.mu.Lock()
	s.isPaused = false
	s.status = storytypes.SessionRunning
	s.mu.Unlock()
	return nil
}

// Stop requests projectID's session stop; the in-flight chapter (if any)
// completes or fails naturally and is never forcibly cancelled mid-call.
func (sch *Scheduler) Stop(projectID string) error {
	s, ok := sch.lookupSession(projectID)
	if !ok {
		return fmt.Errorf("scheduler: no active session for project %s", projectID)
	}
	s.mu.Lock()
	s.shouldStop = true
	s.mu.Unlock()
	return nil
}

// GetStatus returns a snapshot of projectID's session.
func (sch *Scheduler) GetStatus(projectID string) (storytypes.Session, bool) {
	s, ok := sch.lookupSession(projectID)
	if !ok {
		return storytypes.Session{}, false
	}
	return s.snapshot(), true
}

func (sch *Scheduler) lookupSession(projectID string) (*session, bool) {
	sch.mu.RLock()
	defer sch.mu.RUnlock()
	s, ok := sch.sessions[projectID]
	return s, ok
}
