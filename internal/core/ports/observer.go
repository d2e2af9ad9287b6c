package ports

import "time"

// PipelineObserver receives pipeline lifecycle notifications. Implementations
// must be cheap and non-blocking; the orchestrator calls them inline.
type PipelineObserver interface {
	StageCompleted(stage string, duration time.Duration)
	DirectAnswer()
	ValidationOutcome(status string)
	Regeneration()
}
