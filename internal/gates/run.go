package gates

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/taibuivan/storyforge/internal/storytypes"
)

// RunAll evaluates every gate in reg concurrently and aggregates the
// results into one overall action (the most severe across all gates).
// Gate dependency order only matters when a gate's Evaluate method reads
// another gate's output out of band (none currently do); dependencies
// exist so a future gate can be added that composes prior verdicts
// without needing a second evaluation pass.
func RunAll(ctx context.Context, reg *Registry, draft Draft, ec EvalContext) ([]storytypes.GateResult, storytypes.GateAction, error) {
	gs := reg.List()
	results := make([]storytypes.GateResult, len(gs))

	g, gctx := errgroup.WithContext(ctx)
	for i, gate := range gs {
		i, gate := i, gate
		g.Go(func() error {
			res, err := gate.Evaluate(gctx, draft, ec)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	return results, storytypes.Aggregate(results), nil
}
