package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/taibuivan/storyforge/internal/ratelease"
	"github.com/taibuivan/storyforge/internal/store"
	"github.com/taibuivan/storyforge/internal/storytypes"
)

// FleetConfig configures the cross-project claim-and-process loop.
type FleetConfig struct {
	// MaxWorkers bounds how many chapters are processed concurrently
	// across all projects. Default 10.
	MaxWorkers int
	// ClaimLease is how long a claimed work item is held before its lease
	// expires and it becomes claimable again. Default 10 minutes, wide
	// enough to cover a Writer call plus rewrite attempts.
	ClaimLease time.Duration
	// PollInterval is how often an idle fleet loop retries ClaimWriteItem
	// after finding nothing claimable. Default 5s.
	PollInterval time.Duration
	// Leases, if set, is an additional Redis-backed heartbeat lease
	// renewed for the duration of each claimed item's processing. The
	// Store Gateway's Postgres lease already fixes a claim's expiry at
	// claim time; Leases lets a slower-than-expected chapter (a stacked
	// rewrite loop, a throttled provider) keep proving liveness to any
	// other fleet process without re-claiming in Postgres.
	Leases *ratelease.Store
}

func (c FleetConfig) maxWorkers() int64 {
	if c.MaxWorkers > 0 {
		return int64(c.MaxWorkers)
	}
	return 10
}

func (c FleetConfig) claimLease() time.Duration {
	if c.ClaimLease > 0 {
		return c.ClaimLease
	}
	return 10 * time.Minute
}

func (c FleetConfig) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 5 * time.Second
}

// RunFleet continuously claims work items from the Store Gateway's shared
// queue and dispatches each to sch.ProjectWorker.ProcessChapter, bounded
// by a semaphore of size cfg.MaxWorkers. This is the "many projects in
// parallel" half of the Scheduler; StartRun is the "one project, admin
// initiated" half. The CAS on project.currentChapter (inside
// ProcessChapter's persist step) is what keeps two claims of the same
// project's next chapter from racing: whichever worker's
// AdvanceProjectChapter lands first wins and the other's persist rolls back
// as a benign duplicate. ClaimWriteItem orders only by scheduled time and
// does not check chapter order, so a chapter claimed before its
// predecessor has been persisted fails the same CAS.
//
// RunFleet blocks until ctx is cancelled. It is grounded on the teacher's
// internal/jobs.Scheduler claim-and-dispatch loop, generalized from a
// worker-pool-per-provider fan-out to a single shared claim queue bounded
// by one global semaphore.
func RunFleet(ctx context.Context, name string, gw store.Gateway, sch *Scheduler, cfg FleetConfig, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	sem := semaphore.NewWeighted(cfg.maxWorkers())
	sessionStart := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return // ctx cancelled while waiting for a slot
		}

		item, err := gw.ClaimWriteItem(ctx, name, cfg.claimLease())
		if err != nil {
			sem.Release(1)
			if err != store.ErrNoClaimable {
				logger.Warn("claim write item failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.pollInterval()):
			}
			continue
		}

		go func(item storytypes.WorkItem) {
			defer sem.Release(1)
			stopHeartbeat := sch.holdLease(ctx, cfg.Leases, name, item, cfg.claimLease())
			defer stopHeartbeat()
			res := sch.ProjectWorker.ProcessChapter(ctx, item, sessionStart)
			if !res.Success && !res.NeedsHumanReview {
				logger.Warn("fleet chapter failed", "project_id", item.ProjectID, "chapter", item.ChapterNumber, "error", res.Error)
			}
		}(item)
	}
}

// holdLease acquires a Redis heartbeat lease for item (if leases is
// non-nil) and renews it on a ticker until the returned stop func is
// called. A nil leases, or an initial acquire failure, is a no-op: the
// Postgres claim lease is still the binding guarantee, this is only an
// extra liveness signal.
func (sch *Scheduler) holdLease(ctx context.Context, leases *ratelease.Store, worker string, item storytypes.WorkItem, ttl time.Duration) func() {
	if leases == nil {
		return func() {}
	}
	if err := leases.Acquire(ctx, item.ID, worker, ttl); err != nil {
		sch.Logger.Warn("ratelease acquire failed", "work_item_id", item.ID, "error", err)
		return func() {}
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := leases.Renew(ctx, item.ID, worker, ttl); err != nil {
					sch.Logger.Warn("ratelease renew failed", "work_item_id", item.ID, "error", err)
				}
			}
		}
	}()
	return func() {
		close(stop)
		if err := leases.Release(ctx, item.ID); err != nil {
			sch.Logger.Warn("ratelease release failed", "work_item_id", item.ID, "error", err)
		}
	}
}

// DailySlots computes the three scheduled-at times a project's daily
// batch is spread across (morning, afternoon, evening), each offset by a
// random number of minutes within its slot window, so a fleet of projects
// sharing the same day's cadence does not all claim at once. Grounded on
// spec.md's slot distribution requirement; the slot windows themselves
// (08-11, 13-17, 19-22) are arbitrary but fixed so repeated calls for the
// same day land in the same three windows.
func DailySlots(day time.Time, loc *time.Location) []SlotTime {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := day.In(loc).Date()
	windows := []struct {
		slot        storytypes.Slot
		startHour   int
		spanMinutes int
	}{
		{storytypes.SlotMorning, 8, 3 * 60},
		{storytypes.SlotAfternoon, 13, 4 * 60},
		{storytypes.SlotEvening, 19, 3 * 60},
	}
	out := make([]SlotTime, 0, len(windows))
	for _, w := range windows {
		offset := time.Duration(rand.Intn(w.spanMinutes)) * time.Minute
		out = append(out, SlotTime{
			Slot: w.slot,
			At:   time.Date(y, m, d, w.startHour, 0, 0, 0, loc).Add(offset),
		})
	}
	return out
}

// SlotTime pairs a production slot with its randomised scheduled-at time
// for one day's batch.
type SlotTime struct {
	Slot storytypes.Slot
	At   time.Time
}
