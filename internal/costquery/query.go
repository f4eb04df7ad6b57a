// Package costquery provides read-side aggregation over persisted cost
// records, for budget checks and per-project/per-task cost reporting.
// Recording a cost is store.Gateway's job (RecordCost / PersistChapter);
// this package only reads the rows back.
package costquery

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/storyforge/internal/storytypes"
)

// Query answers cost/usage questions against the cost_records table.
type Query struct {
	pool *pgxpool.Pool
}

// NewQuery constructs a Query backed by pool.
func NewQuery(pool *pgxpool.Pool) *Query {
	return &Query{pool: pool}
}

// Filter narrows which cost_records rows a query considers. Zero-valued
// fields are unconstrained.
type Filter struct {
	ProjectID string
	Task      storytypes.CostTaskKind
	Provider  string
	Model     string
	After     time.Time
	Before    time.Time
}

func (f Filter) where() (string, []any) {
	clause := "WHERE 1=1"
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		clause += " AND " + cond + " = $" + strconv.Itoa(len(args))
	}
	if f.ProjectID != "" {
		add("project_id", f.ProjectID)
	}
	if f.Task != "" {
		add("task", string(f.Task))
	}
	if f.Provider != "" {
		add("provider", f.Provider)
	}
	if f.Model != "" {
		add("model", f.Model)
	}
	if !f.After.IsZero() {
		args = append(args, f.After)
		clause += " AND at > $" + strconv.Itoa(len(args))
	}
	if !f.Before.IsZero() {
		args = append(args, f.Before)
		clause += " AND at < $" + strconv.Itoa(len(args))
	}
	return clause, args
}

// List returns cost records matching the filter, oldest first.
func (q *Query) List(ctx context.Context, f Filter) ([]storytypes.CostRecord, error) {
	clause, args := f.where()
	rows, err := q.pool.Query(ctx, `
		SELECT project_id, chapter_number, task, provider, model,
		       input_tokens, output_tokens, cost_usd, at
		FROM cost_records `+clause+` ORDER BY at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storytypes.CostRecord
	for rows.Next() {
		var r storytypes.CostRecord
		if err := rows.Scan(&r.ProjectID, &r.ChapterNumber, &r.Task, &r.Provider, &r.Model,
			&r.InputTokens, &r.OutputTokens, &r.CostUSD, &r.At); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TotalCost returns the summed cost_usd for records matching the filter.
func (q *Query) TotalCost(ctx context.Context, f Filter) (float64, error) {
	clause, args := f.where()
	var total *float64
	err := q.pool.QueryRow(ctx, `SELECT SUM(cost_usd) FROM cost_records `+clause, args...).Scan(&total)
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// SessionCost returns the running cost for a project since sessionStart,
// the figure the Cost Cache gate compares against the session budget.
func (q *Query) SessionCost(ctx context.Context, projectID string, sessionStart time.Time) (float64, error) {
	return q.TotalCost(ctx, Filter{ProjectID: projectID, After: sessionStart})
}

// DailyCost returns the running cost for a project over the current UTC
// calendar day, the figure the Cost Cache gate compares against the daily
// budget.
func (q *Query) DailyCost(ctx context.Context, projectID string, now time.Time) (float64, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return q.TotalCost(ctx, Filter{ProjectID: projectID, After: dayStart})
}

// Summary is an aggregate view over a set of cost records.
type Summary struct {
	Count        int
	TotalCostUSD float64
	TotalTokens  int
	AvgCostUSD   float64
}

// GetSummary aggregates records matching the filter into a Summary.
func (q *Query) GetSummary(ctx context.Context, f Filter) (*Summary, error) {
	records, err := q.List(ctx, f)
	if err != nil {
		return nil, err
	}
	s := &Summary{Count: len(records)}
	for _, r := range records {
		s.TotalCostUSD += r.CostUSD
		s.TotalTokens += r.InputTokens + r.OutputTokens
	}
	if s.Count > 0 {
		s.AvgCostUSD = s.TotalCostUSD / float64(s.Count)
	}
	return s, nil
}

// ByTask breaks down cost and token totals per CostTaskKind for a project,
// so a project owner can see how much of their spend went to writing
// versus evaluation versus rewriting.
func (q *Query) ByTask(ctx context.Context, projectID string) (map[storytypes.CostTaskKind]*Summary, error) {
	records, err := q.List(ctx, Filter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}

	byTask := make(map[storytypes.CostTaskKind][]storytypes.CostRecord)
	for _, r := range records {
		byTask[r.Task] = append(byTask[r.Task], r)
	}

	result := make(map[storytypes.CostTaskKind]*Summary, len(byTask))
	for task, recs := range byTask {
		s := &Summary{Count: len(recs)}
		for _, r := range recs {
			s.TotalCostUSD += r.CostUSD
			s.TotalTokens += r.InputTokens + r.OutputTokens
		}
		if s.Count > 0 {
			s.AvgCostUSD = s.TotalCostUSD / float64(s.Count)
		}
		result[task] = s
	}
	return result, nil
}

// CostTrend buckets a project's cost into daily totals over its full
// history, sorted chronologically, for a simple spend-over-time view.
func (q *Query) CostTrend(ctx context.Context, projectID string) ([]DayCost, error) {
	records, err := q.List(ctx, Filter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]float64)
	for _, r := range records {
		key := r.At.Format("2006-01-02")
		byDay[key] += r.CostUSD
	}

	out := make([]DayCost, 0, len(byDay))
	for day, cost := range byDay {
		out = append(out, DayCost{Day: day, CostUSD: cost})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

// DayCost is one day's total spend.
type DayCost struct {
	Day     string
	CostUSD float64
}
