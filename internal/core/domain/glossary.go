package domain

import "time"

// GlossaryEntry is one acronym/term with its expansion, kept in the
// glossary repository and mirrored into the term vector collection.
type GlossaryEntry struct {
	Term        string    `json:"term"`
	Definition  string    `json:"definition"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MemoryFact is one personalization fact for a user, weighted by how often
// it proved useful.
type MemoryFact struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Fact       string    `json:"fact"`
	UsageCount int       `json:"usage_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AnsweredEvent is published after a run reaches a successful terminal state.
type AnsweredEvent struct {
	RunID            string   `json:"run_id"`
	UserID           string   `json:"user_id"`
	Question         string   `json:"question"`
	Intent           string   `json:"intent"`
	CitedSources     []string `json:"cited_sources"`
	ValidationStatus string   `json:"validation_status"`
	LatencyMS        int64    `json:"latency_ms"`
	RetryCount       int      `json:"retry_count"`
}
