package storytypes

// BeatType is a closed set of reader-satisfaction beats the Beat Ledger
// gate tracks pacing against. Genre-specific cadence targets (e.g. a
// face-slap every N chapters in a cultivation-genre project) are looked
// up by BeatType in the gate's genre data tables, not stored here.
type BeatType string

const (
	BeatBreakthrough   BeatType = "breakthrough"
	BeatReveal         BeatType = "reveal"
	BeatBetrayal       BeatType = "betrayal"
	BeatRescue         BeatType = "rescue"
	BeatConfrontation  BeatType = "confrontation"
	BeatTraining       BeatType = "training"
	BeatRomance        BeatType = "romance"
	BeatFaceSlap       BeatType = "face-slap"
	BeatWorldExpansion BeatType = "world-expansion"
	BeatTwist          BeatType = "twist"
	BeatCliffhanger    BeatType = "cliffhanger"
	BeatRecovery       BeatType = "recovery"
)

// AllBeatTypes lists every beat type the ledger recognizes.
var AllBeatTypes = []BeatType{
	BeatBreakthrough, BeatReveal, BeatBetrayal, BeatRescue,
	BeatConfrontation, BeatTraining, BeatRomance, BeatFaceSlap,
	BeatWorldExpansion, BeatTwist, BeatCliffhanger, BeatRecovery,
}

// BeatLedgerEntry records that a chapter delivered a beat of a given type.
// A chapter may have 1..k entries. The ledger is append-only; pacing is
// computed by scanning entries within a sliding window (default 20
// chapters) for a project, not by maintaining a running counter (see
// store.Gateway.RecordBeat).
type BeatLedgerEntry struct {
	ProjectID     string
	ChapterNumber int
	Beat          BeatType
	Category      string
	Intensity     int // 1..10, strength of the beat as delivered
}
