package storytypes

import "time"

// CostTaskKind classifies which pipeline step incurred an LLM cost, so the
// Cost Cache gate and costquery aggregation can break spend down by task.
type CostTaskKind string

const (
	CostTaskWriting    CostTaskKind = "writing"
	CostTaskEvaluation CostTaskKind = "evaluation"
	CostTaskSummary    CostTaskKind = "summary"
	CostTaskRewrite    CostTaskKind = "rewrite"
)

// CostRecord is one priced LLM call attributed to a project and, where
// applicable, a chapter. Recorded regardless of whether the call's draft
// ultimately survived the gate pipeline, so spend reflects real usage.
type CostRecord struct {
	ProjectID     string
	ChapterNumber int
	Task          CostTaskKind
	Provider      string
	Model         string
	InputTokens   int
	OutputTokens  int
	CostUSD       float64
	At            time.Time
}
