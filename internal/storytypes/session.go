package storytypes

// SessionStatus is the lifecycle of a production run started by StartRun.
// Pause/resume/stop transitions are the only operator-visible controls
// over an otherwise autonomous run (see spec §6).
type SessionStatus string

const (
	SessionRunning SessionStatus = "running"
	SessionPaused  SessionStatus = "paused"
	SessionStopped SessionStatus = "stopped"
)

// Session is the in-memory state of a single active run over a project:
// zero or more chapters produced between StartChapter and EndChapter. A
// project may have at most one non-stopped Session at a time. Created
// when a run begins, destroyed when the run ends or the process exits;
// nothing about a session is persisted across restarts.
type Session struct {
	ProjectID                string
	Status                   SessionStatus
	ShouldStop               bool
	ChaptersWrittenThisSession int
	StartChapter             int
	EndChapter               int
	Summary                  string
}

// Done reports whether the session has written every chapter in its range
// or has been asked to stop.
func (s Session) Done() bool {
	return s.ShouldStop || s.StartChapter+s.ChaptersWrittenThisSession > s.EndChapter
}
