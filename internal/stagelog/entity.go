package stagelog

import "time"

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeHalted    Outcome = "halted"
)

// Entry is one attempt of one pipeline stage for a request.
type Entry struct {
	ID        string        `yaml:"id" json:"id"`
	RequestID string        `yaml:"request_id" json:"request_id"`
	Stage     string        `yaml:"stage" json:"stage"`
	Attempt   int           `yaml:"attempt" json:"attempt"`
	Outcome   Outcome       `yaml:"outcome" json:"outcome"`
	Message   string        `yaml:"message,omitempty" json:"message,omitempty"`
	Duration  time.Duration `yaml:"duration" json:"duration"`
	CreatedAt time.Time     `yaml:"created_at" json:"created_at"`
}

func (e *Entry) RecordID() string { return e.ID }
