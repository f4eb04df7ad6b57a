package worker

import (
	"strings"

	"github.com/taibuivan/storyforge/internal/gates/genredata"
	"github.com/taibuivan/storyforge/internal/storytypes"
)

// extractBeats scans the accepted draft body for beat keyword hits, the
// same way gates.BeatLedgerGate's detectPrimaryBeat does, but records
// every beat that clears a minimal hit count rather than just the
// strongest one, since PERSISTING appends the full ledger for the
// chapter, not just the gate's single diagnostic signal.
func extractBeats(projectID string, chapterNumber int, body string, table genredata.Table) []storytypes.BeatLedgerEntry {
	lower := strings.ToLower(body)
	var entries []storytypes.BeatLedgerEntry
	for _, beat := range storytypes.AllBeatTypes {
		count := 0
		for _, kw := range table.BeatKeywords[string(beat)] {
			count += strings.Count(lower, strings.ToLower(kw))
		}
		if count == 0 {
			continue
		}
		intensity := count
		if intensity > 10 {
			intensity = 10
		}
		entries = append(entries, storytypes.BeatLedgerEntry{
			ProjectID:     projectID,
			ChapterNumber: chapterNumber,
			Beat:          beat,
			Category:      string(beat),
			Intensity:     intensity,
		})
	}
	return entries
}

// extractPowerDelta detects a realm breakthrough for any tracked
// character mentioned in the draft and returns the updated PowerState, or
// nil if no breakthrough is implied. Mirrors gates.PowerTrackerGate's
// claimedRealmIndex detection so a draft the gate already accepted is
// interpreted identically here.
func extractPowerDelta(body string, table genredata.Table, states map[string]storytypes.PowerState) *storytypes.PowerState {
	lower := strings.ToLower(body)

	breakthrough := false
	for _, kw := range table.BeatKeywords[string(storytypes.BeatBreakthrough)] {
		if strings.Contains(lower, strings.ToLower(kw)) {
			breakthrough = true
			break
		}
	}
	if !breakthrough {
		return nil
	}

	claimedIdx := -1
	claimedRealm := ""
	for i, realm := range table.RealmLadder {
		if strings.Contains(lower, strings.ToLower(realm)) && i > claimedIdx {
			claimedIdx = i
			claimedRealm = realm
		}
	}
	if claimedIdx < 0 {
		return nil
	}

	for name, state := range states {
		if !strings.Contains(lower, strings.ToLower(name)) {
			continue
		}
		if claimedIdx <= state.RealmIndex {
			continue
		}
		updated := state
		updated.Realm = claimedRealm
		updated.RealmIndex = claimedIdx
		updated.Level = 1
		updated.TotalBreakthroughs++
		return &updated
	}
	return nil
}

// extractCanonDeltas turns a power breakthrough into the canon-fact
// update PersistChapter needs to keep the realm fact in the active
// snapshot current for the next chapter's Canon Resolver pass.
func extractCanonDeltas(projectID string, chapterNumber int, power *storytypes.PowerState) []storytypes.CanonFact {
	if power == nil {
		return nil
	}
	return []storytypes.CanonFact{{
		ProjectID:            projectID,
		Subject:              power.CharacterName,
		Predicate:            "realm",
		Object:               power.Realm,
		FirstChapter:         chapterNumber,
		LastConfirmedChapter: chapterNumber,
		Status:               storytypes.CanonActive,
	}}
}
