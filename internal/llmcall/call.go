// Package llmcall provides LLM call recording and querying for
// traceability. Every LLM API call is recorded with its prompt key,
// response, and metrics.
package llmcall

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taibuivan/storyforge/internal/providers"
)

// Call represents a recorded LLM API call.
type Call struct {
	ID string

	Timestamp time.Time
	LatencyMs int

	ProjectID     string
	ChapterNumber int
	WorkItemID    string

	PromptKey string
	PromptCID string // content-addressed ID linking to the exact prompt version used

	Provider    string
	Model       string
	Temperature *float64

	InputTokens  int
	OutputTokens int

	Response  string
	ToolCalls json.RawMessage

	Success bool
	Error   string
}

// RecordOptions provides context for recording an LLM call.
type RecordOptions struct {
	ProjectID     string
	ChapterNumber int
	WorkItemID    string

	PromptKey string
	PromptCID string

	Temperature *float64

	// Logger for non-fatal serialization warnings. Defaults to
	// slog.Default() when nil.
	Logger *slog.Logger
}

// FromChatResult creates a Call from a ChatResult. Returns nil if result
// is nil.
func FromChatResult(result *providers.ChatResult, opts RecordOptions) *Call {
	if result == nil {
		return nil
	}

	call := &Call{
		ID:            uuid.New().String(),
		Timestamp:     time.Now(),
		LatencyMs:     int(result.ExecutionTime.Milliseconds()),
		ProjectID:     opts.ProjectID,
		ChapterNumber: opts.ChapterNumber,
		WorkItemID:    opts.WorkItemID,
		PromptKey:     opts.PromptKey,
		PromptCID:     opts.PromptCID,
		Provider:      result.Provider,
		Model:         result.ModelUsed,
		InputTokens:   result.PromptTokens,
		OutputTokens:  result.CompletionTokens,
		Response:      result.Content,
		Success:       result.Success,
		Temperature:   opts.Temperature,
	}

	if !result.Success {
		call.Error = result.ErrorMessage
	}

	if len(result.ToolCalls) > 0 {
		if data, err := json.Marshal(result.ToolCalls); err != nil {
			logger := opts.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("failed to serialize tool calls for LLM call record",
				"error", err,
				"tool_call_count", len(result.ToolCalls))
		} else {
			call.ToolCalls = data
		}
	}

	return call
}
