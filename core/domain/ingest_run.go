package domain

import "time"

// MessageOutcome is the terminal state of one message in a run.
type MessageOutcome string

const (
	OutcomePersisted MessageOutcome = "persisted"
	OutcomeSkipped   MessageOutcome = "skipped" // already ingested
	OutcomeRejected  MessageOutcome = "rejected"
	OutcomeErrored   MessageOutcome = "errored"
)

// MessageResult records why a message ended in its outcome. Every
// rejection and error carries a human-readable reason; nothing is
// dropped silently.
type MessageResult struct {
	MessageID string         `json:"message_id"`
	Subject   string         `json:"subject,omitempty"`
	Outcome   MessageOutcome `json:"outcome"`
	Reason    string         `json:"reason,omitempty"`
}

// RunSummary aggregates the outcome of one ingestion run.
type RunSummary struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Fetched    int             `json:"fetched"`
	Persisted  int             `json:"persisted"`
	Skipped    int             `json:"skipped"`
	Rejected   int             `json:"rejected"`
	Errors     int             `json:"errors"`
	Aborted    bool            `json:"aborted"`
	AbortCause string          `json:"abort_cause,omitempty"`
	Messages   []MessageResult `json:"messages,omitempty"`
}

// Record appends a per-message result and bumps the matching counter.
func (s *RunSummary) Record(r MessageResult) {
	s.Messages = append(s.Messages, r)
	switch r.Outcome {
	case OutcomePersisted:
		s.Persisted++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeRejected:
		s.Rejected++
	case OutcomeErrored:
		s.Errors++
	}
}
