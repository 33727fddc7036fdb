// Package event defines the structured records emitted for every rule
// invocation. Sinks (stdout, webhook, journal, callback) consume these
// types; they are the public contract for anything observing pagekeeper.
package event

import "time"

// Outcome is how a single rule invocation ended.
type Outcome string

const (
	OutcomeApplied Outcome = "applied" // Applies was true and Apply returned nil
	OutcomeSkipped Outcome = "skipped" // Applies was false
	OutcomeFailed  Outcome = "failed"  // Apply returned an error or panicked
	OutcomeDropped Outcome = "dropped" // trigger arrived while the rule was in flight
)

// Run is one rule invocation as seen by the scheduler.
type Run struct {
	ID        string        `json:"id"` // UUIDv7
	RuleID    string        `json:"rule_id"`
	Reason    string        `json:"reason"`
	Epoch     uint64        `json:"epoch"`
	URL       string        `json:"url"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Notice is a message surfaced to the operator on the page itself.
type Notice struct {
	ID     string `json:"id"`
	RuleID string `json:"rule_id,omitempty"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}
