package llmcall

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/storyforge/internal/providers"
)

// Recorder persists LLM calls to Postgres. Unlike the teacher's
// DefraDB-backed Sink, writes here are synchronous: a dropped call record
// would silently break cost traceability, and the write itself is a
// single cheap insert.
type Recorder struct {
	pool *pgxpool.Pool
}

// NewRecorder creates a new LLM call recorder.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// Record builds a Call from result and opts and persists it.
func (r *Recorder) Record(ctx context.Context, result *providers.ChatResult, opts RecordOptions) error {
	return r.RecordCall(ctx, FromChatResult(result, opts))
}

// RecordCall persists an already-constructed Call.
func (r *Recorder) RecordCall(ctx context.Context, call *Call) error {
	if call == nil {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO llm_calls (id, timestamp, latency_ms, project_id, chapter_number,
		                        work_item_id, prompt_key, prompt_cid, provider, model,
		                        temperature, input_tokens, output_tokens, response,
		                        tool_calls, success, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		call.ID, call.Timestamp, call.LatencyMs, call.ProjectID, call.ChapterNumber,
		call.WorkItemID, call.PromptKey, call.PromptCID, call.Provider, call.Model,
		call.Temperature, call.InputTokens, call.OutputTokens, call.Response,
		call.ToolCalls, call.Success, call.Error)
	return err
}
