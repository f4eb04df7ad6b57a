// Package writer implements the Chapter Writer (C3): it turns a context
// bundle into a prose draft by calling an LLM through the Generator
// interface and parsing the result back into a structured Draft.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/taibuivan/storyforge/internal/llmcall"
	"github.com/taibuivan/storyforge/internal/providers"
)

// GenerateParams carries per-call generation knobs down to the Generator.
// ProjectID, ChapterNumber, and PromptKey carry no weight for the model
// call itself; they exist so an LLMGenerator with a Recorder attached can
// trace the call back to the chapter that triggered it.
type GenerateParams struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	ProjectID     string
	ChapterNumber int
	PromptKey     string
}

// GenerateResult is the raw text and token accounting from one LLM call.
type GenerateResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Generator produces chapter text from a system/user message pair. Errors
// returned by a Generator should be classified with Transient or Terminal
// so WriteChapter knows whether a retry is worth attempting.
type Generator interface {
	Generate(ctx context.Context, systemMsg, userMsg string, params GenerateParams) (GenerateResult, error)
}

// upstreamError wraps a Generator failure with a transient/terminal
// classification, mirroring store.Error's sentinel-plus-typed-wrapper
// idiom so the same retry logic shape is reused across packages.
type upstreamError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *upstreamError) Error() string { return "writer: " + e.Op + ": " + e.Err.Error() }
func (e *upstreamError) Unwrap() error { return e.Err }

// Transient wraps err as a retriable upstream failure (timeout, 5xx, rate
// limit).
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &upstreamError{Op: op, Err: err, Transient: true}
}

// Terminal wraps err as a non-retriable upstream failure.
func Terminal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &upstreamError{Op: op, Err: err, Transient: false}
}

// IsTransient reports whether err was classified as retriable by a
// Generator.
func IsTransient(err error) bool {
	var ue *upstreamError
	if ok := asUpstream(err, &ue); ok {
		return ue.Transient
	}
	return false
}

func asUpstream(err error, target **upstreamError) bool {
	for err != nil {
		if ue, ok := err.(*upstreamError); ok {
			*target = ue
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// LLMGenerator adapts providers.LLMClient to the Generator interface,
// classifying Chat failures the same way the teacher's ProviderWorker
// classifies retriable errors (5xx, rate limit, timeout, connection reset).
type LLMGenerator struct {
	Client providers.LLMClient

	// Recorder, if set, persists every call (success or failure) to the
	// LLM call audit log. Nil skips recording.
	Recorder *llmcall.Recorder
	Logger   *slog.Logger
}

// NewLLMGenerator wraps client as a Generator.
func NewLLMGenerator(client providers.LLMClient) *LLMGenerator {
	return &LLMGenerator{Client: client}
}

func (g *LLMGenerator) Generate(ctx context.Context, systemMsg, userMsg string, params GenerateParams) (GenerateResult, error) {
	req := &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: systemMsg},
			{Role: "user", Content: userMsg},
		},
		Model:       params.Model,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Timeout:     params.Timeout,
	}

	res, err := g.Client.Chat(ctx, req)
	if res != nil {
		g.record(ctx, res, params)
	}
	if err != nil {
		if isRetriableErr(err) {
			return GenerateResult{}, Transient("chat", err)
		}
		return GenerateResult{}, Terminal("chat", err)
	}
	if !res.Success {
		err := fmt.Errorf("%s: %s", res.ErrorType, res.ErrorMessage)
		if isRetriableErrType(res.ErrorType) {
			return GenerateResult{}, Transient("chat", err)
		}
		return GenerateResult{}, Terminal("chat", err)
	}

	return GenerateResult{
		Text:         res.Content,
		InputTokens:  res.PromptTokens,
		OutputTokens: res.CompletionTokens,
	}, nil
}

// record best-effort persists res to the call audit log. A recording
// failure is logged and swallowed: losing an audit row is never worth
// failing the chapter that triggered it.
func (g *LLMGenerator) record(ctx context.Context, res *providers.ChatResult, params GenerateParams) {
	if g.Recorder == nil {
		return
	}
	opts := llmcall.RecordOptions{
		ProjectID:     params.ProjectID,
		ChapterNumber: params.ChapterNumber,
		PromptKey:     params.PromptKey,
		Logger:        g.Logger,
	}
	if params.Temperature != 0 {
		t := params.Temperature
		opts.Temperature = &t
	}
	if err := g.Recorder.Record(ctx, res, opts); err != nil && g.Logger != nil {
		g.Logger.Warn("llm call record failed", "error", err)
	}
}

func isRetriableErr(err error) bool {
	s := strings.ToLower(err.Error())
	for _, marker := range []string{"status 500", "status 502", "status 503", "status 504",
		"status 429", "rate limit", "timeout", "deadline exceeded",
		"connection refused", "connection reset", "eof"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func isRetriableErrType(errType string) bool {
	switch strings.ToLower(errType) {
	case "rate_limit", "server_error", "timeout", "connection_error":
		return true
	}
	return false
}
