package llmcall

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides read access to recorded LLM calls.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new LLMCall store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// QueryFilter specifies filters for listing LLM calls.
type QueryFilter struct {
	ProjectID     string
	ChapterNumber int
	PromptKey     string
	Provider      string
	Model         string
	After         *time.Time
	Before        *time.Time
	Success       *bool
	Limit         int
	Offset        int
}

const callColumns = `id, timestamp, latency_ms, project_id, chapter_number, work_item_id,
	prompt_key, prompt_cid, provider, model, temperature, input_tokens,
	output_tokens, response, tool_calls, success, error`

// Get retrieves a single LLM call by ID. Returns (nil, nil) if no call
// with the given ID exists.
func (s *Store) Get(ctx context.Context, id string) (*Call, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM llm_calls WHERE id = $1`, id)
	call, err := scanCall(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return call, nil
}

// List retrieves LLM calls matching the filter, newest first.
func (s *Store) List(ctx context.Context, f QueryFilter) ([]Call, error) {
	clause := "WHERE 1=1"
	var args []any
	cond := func(sql string, v any) {
		args = append(args, v)
		clause += " AND " + sql + " = $" + strconv.Itoa(len(args))
	}
	if f.ProjectID != "" {
		cond("project_id", f.ProjectID)
	}
	if f.ChapterNumber != 0 {
		cond("chapter_number", f.ChapterNumber)
	}
	if f.PromptKey != "" {
		cond("prompt_key", f.PromptKey)
	}
	if f.Provider != "" {
		cond("provider", f.Provider)
	}
	if f.Model != "" {
		cond("model", f.Model)
	}
	if f.Success != nil {
		cond("success", *f.Success)
	}
	if f.After != nil {
		args = append(args, *f.After)
		clause += " AND timestamp > $" + strconv.Itoa(len(args))
	}
	if f.Before != nil {
		args = append(args, *f.Before)
		clause += " AND timestamp < $" + strconv.Itoa(len(args))
	}

	query := `SELECT ` + callColumns + ` FROM llm_calls ` + clause + ` ORDER BY timestamp DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *call)
	}
	return calls, rows.Err()
}

// CountByPromptKey returns call counts grouped by prompt key for a project.
func (s *Store) CountByPromptKey(ctx context.Context, projectID string) (map[string]int, error) {
	calls, err := s.List(ctx, QueryFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, c := range calls {
		counts[c.PromptKey]++
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*Call, error) {
	var c Call
	err := row.Scan(&c.ID, &c.Timestamp, &c.LatencyMs, &c.ProjectID, &c.ChapterNumber,
		&c.WorkItemID, &c.PromptKey, &c.PromptCID, &c.Provider, &c.Model, &c.Temperature,
		&c.InputTokens, &c.OutputTokens, &c.Response, &c.ToolCalls, &c.Success, &c.Error)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
