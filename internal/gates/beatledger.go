package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/taibuivan/storyforge/internal/gates/genredata"
	"github.com/taibuivan/storyforge/internal/storytypes"
)

// BeatLedgerGate detects which beats a draft delivers via a closed-enum
// keyword table and measures repetition against a sliding window of
// recently used beats, so the same beat (e.g. face-slap) does not fire in
// every chapter.
type BeatLedgerGate struct {
	WindowSize     int // default 20
	SoftRepeatAt   int // default 3
	HardRepeatAt   int // default 5 (K+2)
}

func NewBeatLedgerGate() *BeatLedgerGate {
	return &BeatLedgerGate{WindowSize: 20, SoftRepeatAt: 3, HardRepeatAt: 5}
}

func (g *BeatLedgerGate) Name() string           { return "beat_ledger" }
func (g *BeatLedgerGate) Dependencies() []string { return nil }

func (g *BeatLedgerGate) Evaluate(ctx context.Context, draft Draft, ec EvalContext) (storytypes.GateResult, error) {
	table, err := genredata.For(ec.Project.Genre)
	if err != nil {
		return storytypes.GateResult{}, fmt.Errorf("beat ledger gate: %w", err)
	}

	primary := detectPrimaryBeat(draft.Body, table)
	if primary == "" {
		return storytypes.GateResult{
			GateName: g.Name(),
			Passed:   true,
			Score:    8,
			Action:   storytypes.ActionAccept,
		}, nil
	}

	window := ec.RecentBeats
	if len(window) > g.WindowSize {
		window = window[len(window)-g.WindowSize:]
	}
	count := 0
	for _, b := range window {
		if b.Beat == primary {
			count++
		}
	}

	var diagnostics []string
	action := storytypes.ActionAccept
	score := 8.0
	switch {
	case count >= g.HardRepeatAt:
		diagnostics = append(diagnostics, fmt.Sprintf("beat %q used %d times in the last %d chapters", primary, count, g.WindowSize))
		action = storytypes.ActionAutoRewrite
		score = 4
	case count >= g.SoftRepeatAt:
		diagnostics = append(diagnostics, fmt.Sprintf("beat %q used %d times in the last %d chapters (soft repetition)", primary, count, g.WindowSize))
		score = 6
	}

	return storytypes.GateResult{
		GateName:    g.Name(),
		Passed:      action == storytypes.ActionAccept,
		Score:       score,
		Diagnostics: diagnostics,
		Action:      action,
	}, nil
}

// detectPrimaryBeat returns the beat type with the most keyword hits in
// the draft, or "" if none matched.
func detectPrimaryBeat(body string, table genredata.Table) storytypes.BeatType {
	lower := strings.ToLower(body)
	var best storytypes.BeatType
	bestCount := 0
	for _, beat := range storytypes.AllBeatTypes {
		keywords := table.BeatKeywords[string(beat)]
		count := 0
		for _, k := range keywords {
			count += strings.Count(lower, strings.ToLower(k))
		}
		if count > bestCount {
			bestCount = count
			best = beat
		}
	}
	return best
}
