package storytypes

// PowerState is the current position of a character on the genre's
// power-progression ladder (e.g. a cultivation realm or a game-genre level
// tier). The ladder's ordering itself is genre data looked up by Realm,
// not part of this type; RealmIndex is a cached position in that ordered
// list so the Power Tracker gate can compare states without a genre-data
// lookup on every check.
//
// Invariant: for a given (ProjectID, CharacterName), RealmIndex is
// monotonically non-decreasing across chapters; Level resets to 1 on a
// realm advance. The gate rejects drafts that silently regress a
// character's tier without an explicit demotion beat.
type PowerState struct {
	ProjectID         string
	CharacterName     string
	Realm             string
	RealmIndex        int
	Level             int
	Abilities         []string
	Items             []string
	TotalBreakthroughs int
}

// AdvancedRealmSince reports whether the state's realm index has moved
// past idx, i.e. the character has progressed beyond that point on the
// genre's ladder.
func (p PowerState) AdvancedRealmSince(idx int) bool {
	return p.RealmIndex > idx
}
