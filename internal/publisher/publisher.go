// Package publisher implements the Publisher (C8): a ticker-driven sweep
// that releases due chapters. Grounded on the teacher's
// internal/jobs.TimerJob ticker-and-deadline pattern, generalized from
// "wait out a fixed duration" to "repeatedly sweep for due publish items".
package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/taibuivan/storyforge/internal/store"
	"github.com/taibuivan/storyforge/internal/storytypes"
)

const (
	defaultTick        = 2 * time.Minute
	defaultClaimLimit  = 25
	defaultMaxRetries  = 5
	defaultBaseBackoff = time.Minute
)

// TickResult summarises one TickPublisher sweep.
type TickResult struct {
	Claimed   int
	Published int
	Failed    int
	Requeued  int
}

// Publisher sweeps the Store Gateway's publish queue on a timer.
type Publisher struct {
	Gateway     store.Gateway
	Logger      *slog.Logger
	Tick        time.Duration
	ClaimLimit  int
	MaxRetries  int
	BaseBackoff time.Duration
}

// New constructs a Publisher with the teacher's zero-value-friendly
// defaults (mirrors writer.WriteParams / rewriter.Params default methods).
func New(gw store.Gateway, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{Gateway: gw, Logger: logger}
}

func (p *Publisher) tick() time.Duration {
	if p.Tick > 0 {
		return p.Tick
	}
	return defaultTick
}

func (p *Publisher) claimLimit() int {
	if p.ClaimLimit > 0 {
		return p.ClaimLimit
	}
	return defaultClaimLimit
}

func (p *Publisher) maxRetries() int {
	if p.MaxRetries > 0 {
		return p.MaxRetries
	}
	return defaultMaxRetries
}

func (p *Publisher) baseBackoff() time.Duration {
	if p.BaseBackoff > 0 {
		return p.BaseBackoff
	}
	return defaultBaseBackoff
}

// Run blocks, calling TickPublisher every p.tick() until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.TickPublisher(ctx); err != nil {
				p.Logger.Warn("publisher tick failed", "error", err)
			}
		}
	}
}

// TickPublisher claims every due publish item (up to p.claimLimit()) and
// attempts to release each. A claim commit is attempted through a small
// bounded retry (up to 3 attempts on a transient store error), since the
// publish transaction is idempotent, before falling back to the item's
// retry/backoff bookkeeping.
func (p *Publisher) TickPublisher(ctx context.Context) (TickResult, error) {
	items, err := p.Gateway.ClaimDuePublishes(ctx, time.Now(), p.claimLimit())
	if err != nil {
		if err == store.ErrNoClaimable {
			return TickResult{}, nil
		}
		return TickResult{}, err
	}

	var result TickResult
	result.Claimed = len(items)

	for _, item := range items {
		if err := p.release(ctx, item); err != nil {
			p.Logger.Warn("release failed", "project_id", item.ProjectID, "chapter", item.ChapterNumber, "error", err)
			if item.Retries+1 >= p.maxRetries() {
				result.Failed++
			} else {
				result.Requeued++
			}
			continue
		}
		result.Published++
	}
	return result, nil
}

// release commits one item's publish transition, retrying a transient
// store failure a small bounded number of times before giving up and
// letting the caller's retry/backoff bookkeeping take over.
func (p *Publisher) release(ctx context.Context, item storytypes.PublishItem) error {
	err := retry.Do(
		func() error {
			return p.Gateway.CompletePublish(ctx, store.CompletePublishInput{
				ItemID:    item.ID,
				ChapterID: item.ChapterID,
				NovelID:   item.ProjectID,
				Success:   true,
			})
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.RetryIf(func(err error) bool { return store.IsTransient(err) }),
	)
	if err == nil {
		return nil
	}

	retryable := item.Retries+1 < p.maxRetries()
	nextAttempt := time.Now().Add(backoff(p.baseBackoff(), item.Retries))
	completeErr := p.Gateway.CompletePublish(ctx, store.CompletePublishInput{
		ItemID:      item.ID,
		ChapterID:   item.ChapterID,
		NovelID:     item.ProjectID,
		Success:     false,
		Retryable:   retryable,
		NextAttempt: nextAttempt,
		ErrMsg:      err.Error(),
	})
	if completeErr != nil {
		return completeErr
	}
	return err
}

// backoff is the exponential schedule for a failed release's next
// attempt: baseBackoff * 2^retries, uncapped (the maxRetries ceiling is
// what actually bounds how long an item keeps retrying).
func backoff(base time.Duration, retries int) time.Duration {
	d := base
	for i := 0; i < retries; i++ {
		d *= 2
	}
	return d
}
