package history

import "time"

// Outcome is how a run ended
type Outcome string

const (
	OutcomeRunning  Outcome = "running"
	OutcomeComplete Outcome = "complete"
	OutcomeStopped  Outcome = "stopped"
	OutcomeError    Outcome = "error"
)

// Run is one streaming session as recorded in the history database
type Run struct {
	ID           string     `json:"id"`
	Address      string     `json:"address"`
	TotalBytes   int        `json:"total_bytes"`
	SentBytes    int        `json:"sent_bytes"`
	WrittenBytes int        `json:"written_bytes"`
	Outcome      Outcome    `json:"outcome"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the run took, or has taken so far
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
