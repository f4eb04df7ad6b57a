package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/storyforge/internal/store"
	"github.com/taibuivan/storyforge/internal/storytypes"
)

// gateway implements store.Gateway using pgx/v5.
type gateway struct {
	pool *pgxpool.Pool
}

// New constructs a PostgreSQL-backed store.Gateway.
func New(pool *pgxpool.Pool) store.Gateway {
	return &gateway{pool: pool}
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Terminal(op, store.ErrNotFound)
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		// Connection-level failures surface through pgconn.PgError's
		// SQLState too, but class 08 (connection exception) and 40001
		// (serialization failure) are the ones worth retrying.
		switch pgErr.SQLState() {
		case "08000", "08003", "08006", "40001":
			return store.Transient(op, err)
		}
	}
	return store.Terminal(op, err)
}

// # Project / Outline reads

func (g *gateway) GetProject(ctx context.Context, projectID string) (storytypes.Project, error) {
	row := g.pool.QueryRow(ctx, `
		SELECT id, novel_id, genre, target_chapter_length, total_planned_chapters,
		       current_chapter, status, model_preference, updated_at
		FROM projects WHERE id = $1`, projectID)

	var p storytypes.Project
	err := row.Scan(&p.ID, &p.NovelID, &p.Genre, &p.TargetChapterLength, &p.TotalPlannedChapters,
		&p.CurrentChapter, &p.Status, &p.ModelPreference, &p.UpdatedAt)
	if err != nil {
		return storytypes.Project{}, wrapErr("GetProject", err)
	}
	return p, nil
}

func (g *gateway) GetOutline(ctx context.Context, projectID string) (storytypes.Outline, error) {
	row := g.pool.QueryRow(ctx, `
		SELECT project_id, tagline, world_description, power_system,
		       main_character_name, main_character_motivation
		FROM outlines WHERE project_id = $1`, projectID)

	var o storytypes.Outline
	if err := row.Scan(&o.ProjectID, &o.Tagline, &o.WorldDescription, &o.PowerSystem,
		&o.MainCharacterName, &o.MainCharacterMotivation); err != nil {
		return storytypes.Outline{}, wrapErr("GetOutline", err)
	}

	arcs, err := g.GetArcs(ctx, projectID)
	if err != nil {
		return storytypes.Outline{}, err
	}
	o.Arcs = arcs

	rows, err := g.pool.Query(ctx, `
		SELECT chapter_number, title, summary, key_points, tension_target, dopamine_type
		FROM chapter_outlines WHERE project_id = $1 ORDER BY chapter_number`, projectID)
	if err != nil {
		return storytypes.Outline{}, wrapErr("GetOutline", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c storytypes.ChapterOutline
		if err := rows.Scan(&c.ChapterNumber, &c.Title, &c.Summary, &c.KeyPoints,
			&c.TensionTarget, &c.DopamineType); err != nil {
			return storytypes.Outline{}, wrapErr("GetOutline", err)
		}
		o.Chapters = append(o.Chapters, c)
	}
	if err := rows.Err(); err != nil {
		return storytypes.Outline{}, wrapErr("GetOutline", err)
	}
	return o, nil
}

func (g *gateway) GetArcs(ctx context.Context, projectID string) ([]storytypes.ArcOutline, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT arc_number, title, start_chapter, end_chapter, theme, key_events, climax
		FROM arc_outlines WHERE project_id = $1 ORDER BY arc_number`, projectID)
	if err != nil {
		return nil, wrapErr("GetArcs", err)
	}
	defer rows.Close()

	var arcs []storytypes.ArcOutline
	for rows.Next() {
		var a storytypes.ArcOutline
		if err := rows.Scan(&a.ArcNumber, &a.Title, &a.StartChapter, &a.EndChapter,
			&a.Theme, &a.KeyEvents, &a.Climax); err != nil {
			return nil, wrapErr("GetArcs", err)
		}
		arcs = append(arcs, a)
	}
	return arcs, wrapErr("GetArcs", rows.Err())
}

func (g *gateway) GetRecentChapterSummaries(ctx context.Context, projectID string, k int) ([]storytypes.ChapterSummary, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT project_id, chapter_number, title, summary
		FROM chapter_summaries WHERE project_id = $1
		ORDER BY chapter_number DESC LIMIT $2`, projectID, k)
	if err != nil {
		return nil, wrapErr("GetRecentChapterSummaries", err)
	}
	defer rows.Close()

	var out []storytypes.ChapterSummary
	for rows.Next() {
		var s storytypes.ChapterSummary
		if err := rows.Scan(&s.ProjectID, &s.ChapterNumber, &s.Title, &s.Summary); err != nil {
			return nil, wrapErr("GetRecentChapterSummaries", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("GetRecentChapterSummaries", err)
	}
	// rows came back newest-first; callers expect chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// # Single-row upserts (idempotent by natural key)

func (g *gateway) UpsertChapter(ctx context.Context, ch storytypes.Chapter) error {
	_, err := g.pool.Exec(ctx, `
		INSERT INTO chapters (id, novel_id, chapter_number, title, content, word_count,
		                       status, needs_review, created_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (novel_id, chapter_number) DO UPDATE SET
			title = EXCLUDED.title, content = EXCLUDED.content, word_count = EXCLUDED.word_count,
			status = EXCLUDED.status, needs_review = EXCLUDED.needs_review,
			published_at = EXCLUDED.published_at`,
		ch.ID, ch.NovelID, ch.ChapterNumber, ch.Title, ch.Content, ch.WordCount,
		ch.Status, ch.NeedsReview, ch.CreatedAt, ch.PublishedAt)
	return wrapErr("UpsertChapter", err)
}

// AdvanceProjectChapter is the sole CAS primitive: it only updates the row
// when current_chapter equals chapterNumber-1, returning ErrCASMismatch
// when another writer already advanced it or the precondition does not hold.
func (g *gateway) AdvanceProjectChapter(ctx context.Context, projectID string, chapterNumber int) error {
	return advanceProjectChapter(ctx, g.pool, projectID, chapterNumber)
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx, so the CAS logic
// is shared between the standalone call and the PersistChapter transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func advanceProjectChapter(ctx context.Context, e execer, projectID string, chapterNumber int) error {
	tag, err := e.Exec(ctx, `
		UPDATE projects SET current_chapter = $1, updated_at = now()
		WHERE id = $2 AND current_chapter = $3`,
		chapterNumber, projectID, chapterNumber-1)
	if err != nil {
		return wrapErr("AdvanceProjectChapter", err)
	}
	if tag.RowsAffected() == 0 {
		return store.Terminal("AdvanceProjectChapter", store.ErrCASMismatch)
	}
	return nil
}

func (g *gateway) UpsertCanonFact(ctx context.Context, fact storytypes.CanonFact) error {
	return upsertCanonFact(ctx, g.pool, fact)
}

func upsertCanonFact(ctx context.Context, e execer, fact storytypes.CanonFact) error {
	_, err := e.Exec(ctx, `
		INSERT INTO canon_facts (project_id, subject, predicate, object, first_chapter,
		                          last_confirmed_chapter, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, subject, predicate) DO UPDATE SET
			object = EXCLUDED.object,
			last_confirmed_chapter = EXCLUDED.last_confirmed_chapter,
			status = EXCLUDED.status`,
		fact.ProjectID, fact.Subject, fact.Predicate, fact.Object,
		fact.FirstChapter, fact.LastConfirmedChapter, fact.Status)
	return wrapErr("UpsertCanonFact", err)
}

func (g *gateway) ListCanonFacts(ctx context.Context, projectID string) ([]storytypes.CanonFact, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT project_id, subject, predicate, object, first_chapter,
		       last_confirmed_chapter, status
		FROM canon_facts WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, wrapErr("ListCanonFacts", err)
	}
	defer rows.Close()

	var out []storytypes.CanonFact
	for rows.Next() {
		var f storytypes.CanonFact
		if err := rows.Scan(&f.ProjectID, &f.Subject, &f.Predicate, &f.Object,
			&f.FirstChapter, &f.LastConfirmedChapter, &f.Status); err != nil {
			return nil, wrapErr("ListCanonFacts", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("ListCanonFacts", err)
	}
	return out, nil
}

func (g *gateway) RecordBeat(ctx context.Context, entry storytypes.BeatLedgerEntry) error {
	return recordBeat(ctx, g.pool, entry)
}

func recordBeat(ctx context.Context, e execer, entry storytypes.BeatLedgerEntry) error {
	_, err := e.Exec(ctx, `
		INSERT INTO beat_ledger (project_id, chapter_number, beat, category, intensity)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ProjectID, entry.ChapterNumber, entry.Beat, entry.Category, entry.Intensity)
	return wrapErr("RecordBeat", err)
}

func (g *gateway) ListRecentBeats(ctx context.Context, projectID string, window int) ([]storytypes.BeatLedgerEntry, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT project_id, chapter_number, beat, category, intensity
		FROM beat_ledger WHERE project_id = $1
		ORDER BY chapter_number DESC LIMIT $2`, projectID, window)
	if err != nil {
		return nil, wrapErr("ListRecentBeats", err)
	}
	defer rows.Close()

	var out []storytypes.BeatLedgerEntry
	for rows.Next() {
		var b storytypes.BeatLedgerEntry
		if err := rows.Scan(&b.ProjectID, &b.ChapterNumber, &b.Beat, &b.Category, &b.Intensity); err != nil {
			return nil, wrapErr("ListRecentBeats", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("ListRecentBeats", err)
	}
	// rows came back newest-first; callers expect chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (g *gateway) RecordPowerEvent(ctx context.Context, state storytypes.PowerState) error {
	return recordPowerEvent(ctx, g.pool, state)
}

func recordPowerEvent(ctx context.Context, e execer, state storytypes.PowerState) error {
	_, err := e.Exec(ctx, `
		INSERT INTO power_states (project_id, character_name, realm, realm_index, level,
		                           abilities, items, total_breakthroughs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, character_name) DO UPDATE SET
			realm = EXCLUDED.realm, realm_index = EXCLUDED.realm_index, level = EXCLUDED.level,
			abilities = EXCLUDED.abilities, items = EXCLUDED.items,
			total_breakthroughs = EXCLUDED.total_breakthroughs`,
		state.ProjectID, state.CharacterName, state.Realm, state.RealmIndex, state.Level,
		state.Abilities, state.Items, state.TotalBreakthroughs)
	return wrapErr("RecordPowerEvent", err)
}

func (g *gateway) RecordCost(ctx context.Context, rec storytypes.CostRecord) error {
	return recordCost(ctx, g.pool, rec)
}

func recordCost(ctx context.Context, e execer, rec storytypes.CostRecord) error {
	_, err := e.Exec(ctx, `
		INSERT INTO cost_records (project_id, chapter_number, task, provider, model,
		                           input_tokens, output_tokens, cost_usd, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ProjectID, rec.ChapterNumber, rec.Task, rec.Provider, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.At)
	return wrapErr("RecordCost", err)
}

// # Write queue

func (g *gateway) EnqueueWrite(ctx context.Context, item storytypes.WorkItem) error {
	_, err := g.pool.Exec(ctx, `
		INSERT INTO work_items (id, project_id, chapter_number, scheduled_at, slot,
		                         attempts, status, last_error, claimed_by, lease_expires)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (project_id, chapter_number) WHERE status <> 'succeeded' DO NOTHING`,
		item.ID, item.ProjectID, item.ChapterNumber, item.ScheduledAt, item.Slot,
		item.Attempts, item.Status, item.LastError, item.ClaimedBy, item.LeaseExpires)
	return wrapErr("EnqueueWrite", err)
}

// ClaimWriteItem atomically selects the lowest-scheduled pending item (or
// one whose lease has expired) and marks it writing with a new lease.
func (g *gateway) ClaimWriteItem(ctx context.Context, worker string, leaseFor time.Duration) (storytypes.WorkItem, error) {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return storytypes.WorkItem{}, wrapErr("ClaimWriteItem", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	lease := now.Add(leaseFor)

	row := tx.QueryRow(ctx, `
		SELECT id FROM work_items
		WHERE status = 'pending'
		   OR (status = 'writing' AND lease_expires < $1)
		ORDER BY scheduled_at ASC
		LIMIT 1 FOR UPDATE SKIP LOCKED`, now)

	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storytypes.WorkItem{}, store.ErrNoClaimable
		}
		return storytypes.WorkItem{}, wrapErr("ClaimWriteItem", err)
	}

	var item storytypes.WorkItem
	err = tx.QueryRow(ctx, `
		UPDATE work_items SET status = 'writing', claimed_by = $1, lease_expires = $2,
		       attempts = attempts + 1
		WHERE id = $3
		RETURNING id, project_id, chapter_number, scheduled_at, slot, attempts, status,
		          last_error, claimed_by, lease_expires`,
		worker, lease, id).Scan(
		&item.ID, &item.ProjectID, &item.ChapterNumber, &item.ScheduledAt, &item.Slot,
		&item.Attempts, &item.Status, &item.LastError, &item.ClaimedBy, &item.LeaseExpires)
	if err != nil {
		return storytypes.WorkItem{}, wrapErr("ClaimWriteItem", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storytypes.WorkItem{}, wrapErr("ClaimWriteItem", err)
	}
	return item, nil
}

func (g *gateway) CompleteWriteItem(ctx context.Context, itemID string, success bool) error {
	status := "succeeded"
	if !success {
		status = "failed"
	}
	_, err := g.pool.Exec(ctx, `
		UPDATE work_items SET status = $1, lease_expires = NULL WHERE id = $2`, status, itemID)
	return wrapErr("CompleteWriteItem", err)
}

// # Publish queue

func (g *gateway) EnqueuePublish(ctx context.Context, item storytypes.PublishItem) error {
	return enqueuePublish(ctx, g.pool, item)
}

func enqueuePublish(ctx context.Context, e execer, item storytypes.PublishItem) error {
	_, err := e.Exec(ctx, `
		INSERT INTO publish_items (id, chapter_id, project_id, chapter_number, scheduled_at,
		                            status, retries, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.ChapterID, item.ProjectID, item.ChapterNumber, item.ScheduledAt,
		item.Status, item.Retries, item.LastError)
	return wrapErr("EnqueuePublish", err)
}

// ClaimDuePublishes returns up to limit scheduled items whose ScheduledAt
// has passed, marking them publishing so a concurrent sweep does not
// double-release the same chapter.
func (g *gateway) ClaimDuePublishes(ctx context.Context, now time.Time, limit int) ([]storytypes.PublishItem, error) {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr("ClaimDuePublishes", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM publish_items
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC LIMIT $2 FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, wrapErr("ClaimDuePublishes", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, wrapErr("ClaimDuePublishes", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapErr("ClaimDuePublishes", err)
	}
	if len(ids) == 0 {
		return nil, store.ErrNoClaimable
	}

	claimRows, err := tx.Query(ctx, `
		UPDATE publish_items SET status = 'publishing'
		WHERE id = ANY($1)
		RETURNING id, chapter_id, project_id, chapter_number, scheduled_at, status, retries, last_error`,
		ids)
	if err != nil {
		return nil, wrapErr("ClaimDuePublishes", err)
	}
	var out []storytypes.PublishItem
	for claimRows.Next() {
		var p storytypes.PublishItem
		if err := claimRows.Scan(&p.ID, &p.ChapterID, &p.ProjectID, &p.ChapterNumber,
			&p.ScheduledAt, &p.Status, &p.Retries, &p.LastError); err != nil {
			claimRows.Close()
			return nil, wrapErr("ClaimDuePublishes", err)
		}
		out = append(out, p)
	}
	claimRows.Close()
	if err := claimRows.Err(); err != nil {
		return nil, wrapErr("ClaimDuePublishes", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr("ClaimDuePublishes", err)
	}
	return out, nil
}

// CompletePublish lands the outcome of one release attempt. On success it
// stamps the chapter row published and bumps the parent novel's
// updated_at in the same transaction; on failure it requeues the item as
// scheduled with retries incremented and last_error recorded, so the next
// Publisher tick's ClaimDuePublishes sweep can retry it.
func (g *gateway) CompletePublish(ctx context.Context, in store.CompletePublishInput) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return wrapErr("CompletePublish", err)
	}
	defer tx.Rollback(ctx)

	if in.Success {
		now := time.Now()
		if _, err := tx.Exec(ctx, `
			UPDATE chapters SET status = 'published', published_at = $1
			WHERE id = $2 AND status <> 'published'`, now, in.ChapterID); err != nil {
			return wrapErr("CompletePublish", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE publish_items SET status = 'published' WHERE id = $1`, in.ItemID); err != nil {
			return wrapErr("CompletePublish", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE novels SET updated_at = $1 WHERE id = $2`, now, in.NovelID); err != nil {
			return wrapErr("CompletePublish", err)
		}
	} else if in.Retryable {
		if _, err := tx.Exec(ctx, `
			UPDATE publish_items SET status = 'scheduled', retries = retries + 1,
			                          last_error = $1, scheduled_at = $2
			WHERE id = $3`, in.ErrMsg, in.NextAttempt, in.ItemID); err != nil {
			return wrapErr("CompletePublish", err)
		}
	} else {
		if _, err := tx.Exec(ctx, `
			UPDATE publish_items SET status = 'failed', retries = retries + 1, last_error = $1
			WHERE id = $2`, in.ErrMsg, in.ItemID); err != nil {
			return wrapErr("CompletePublish", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapErr("CompletePublish", err)
	}
	return nil
}

// # Correctness core

// PersistChapter commits the chapter row, canon-fact deltas, beat rows, an
// optional power-state row, the cost row, the chapter-summary row, the
// optional publish-queue entry, and the CAS chapter advance inside one
// transaction. Every helper above accepts an execer so the same SQL runs
// here against tx instead of g.pool; only the final tx.Commit makes any
// of it visible, so a crash or error midway leaves nothing partially
// applied.
func (g *gateway) PersistChapter(ctx context.Context, in store.PersistChapterInput) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return wrapErr("PersistChapter", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO chapters (id, novel_id, chapter_number, title, content, word_count,
		                       status, needs_review, created_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (novel_id, chapter_number) DO UPDATE SET
			title = EXCLUDED.title, content = EXCLUDED.content, word_count = EXCLUDED.word_count,
			status = EXCLUDED.status, needs_review = EXCLUDED.needs_review,
			published_at = EXCLUDED.published_at`,
		in.Chapter.ID, in.Chapter.NovelID, in.Chapter.ChapterNumber, in.Chapter.Title,
		in.Chapter.Content, in.Chapter.WordCount, in.Chapter.Status, in.Chapter.NeedsReview,
		in.Chapter.CreatedAt, in.Chapter.PublishedAt); err != nil {
		return wrapErr("PersistChapter.chapter", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO chapter_summaries (project_id, chapter_number, title, summary)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, chapter_number) DO UPDATE SET
			title = EXCLUDED.title, summary = EXCLUDED.summary`,
		in.Summary.ProjectID, in.Summary.ChapterNumber, in.Summary.Title, in.Summary.Summary); err != nil {
		return wrapErr("PersistChapter.summary", err)
	}

	for _, fact := range in.CanonDeltas {
		if err := upsertCanonFact(ctx, tx, fact); err != nil {
			return fmt.Errorf("PersistChapter.canon: %w", err)
		}
	}

	for _, beat := range in.Beats {
		if err := recordBeat(ctx, tx, beat); err != nil {
			return fmt.Errorf("PersistChapter.beat: %w", err)
		}
	}

	if in.Power != nil {
		if err := recordPowerEvent(ctx, tx, *in.Power); err != nil {
			return fmt.Errorf("PersistChapter.power: %w", err)
		}
	}

	if err := recordCost(ctx, tx, in.Cost); err != nil {
		return fmt.Errorf("PersistChapter.cost: %w", err)
	}

	if in.Publish != nil {
		if err := enqueuePublish(ctx, tx, *in.Publish); err != nil {
			return fmt.Errorf("PersistChapter.publish: %w", err)
		}
	}

	if err := advanceProjectChapter(ctx, tx, in.Summary.ProjectID, in.Chapter.ChapterNumber); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapErr("PersistChapter.commit", err)
	}
	return nil
}
