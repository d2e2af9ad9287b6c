package domain

import "time"

type Intent string

const (
	IntentFactual      Intent = "factual"
	IntentProcedural   Intent = "procedural"
	IntentDefinitional Intent = "definitional"
	IntentComparison   Intent = "comparison"
	IntentTeach        Intent = "teach"
)

type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

type ValidationStatus string

const (
	ValidationUnvalidated      ValidationStatus = "unvalidated"
	ValidationValid            ValidationStatus = "valid"
	ValidationInvalidCitations ValidationStatus = "invalid_citations"
	ValidationLowGrounding     ValidationStatus = "low_grounding"
	ValidationRetriesExhausted ValidationStatus = "retries_exhausted"
)

type ValidationAction string

const (
	ActionPass       ValidationAction = "pass"
	ActionRegenerate ValidationAction = "regenerate"
	ActionFailOpen   ValidationAction = "fail_open"
)

// ResolvedTerm is one glossary hit attached to the rewritten query.
type ResolvedTerm struct {
	Term        string `json:"term"`
	Definition  string `json:"definition"`
	Description string `json:"description,omitempty"`
}

// PipelineState is the single record threaded through every pipeline stage.
// It is owned by the orchestrator for the lifetime of one query; stages never
// hold a reference to it past their own Run call.
type PipelineState struct {
	RunID         string
	UserID        string
	OriginalQuery string
	ExpandedQuery string
	ResolvedTerms []ResolvedTerm

	Intent           Intent
	Complexity       Complexity
	SubQueries       []string
	NeedsMemoryFetch bool

	Retrieved []RetrievedDocument

	CompressedContext string
	SelectedSourceIDs []string
	MemoryContext     string
	TokenEstimate     int

	Answer         string
	CitedSourceIDs []string
	Confidence     float64

	AvailableSourceIDs   map[string]struct{}
	ValidationStatus     ValidationStatus
	RetryCount           int
	MaxRetries           int
	ErrorFeedbackHistory []string

	Trace []string
}

func NewPipelineState(runID, userID, query string, maxRetries int) *PipelineState {
	if maxRetries < 0 {
		maxRetries = 2
	}
	return &PipelineState{
		RunID:              runID,
		UserID:             userID,
		OriginalQuery:      query,
		ExpandedQuery:      query,
		AvailableSourceIDs: make(map[string]struct{}),
		ValidationStatus:   ValidationUnvalidated,
		MaxRetries:         maxRetries,
	}
}

// AppendTrace records one stage observation. The trace is append-only.
func (s *PipelineState) AppendTrace(stage string, elapsed time.Duration) {
	s.Trace = append(s.Trace, stage+" "+elapsed.Round(time.Millisecond).String())
}

// ValidationOutcome is produced fresh on every validator call.
type ValidationOutcome struct {
	Status           ValidationStatus
	InvalidCitations []string
	Detail           string
	Action           ValidationAction
}

// QueryOptions are the per-request pipeline toggles. Each defaults to enabled.
type QueryOptions struct {
	UseGlossaryExpansion        bool `json:"use_glossary_expansion"`
	InjectPersonalizationMemory bool `json:"inject_personalization_memory"`
	UseReranking                bool `json:"use_reranking"`
	UseHypotheticalDocument     bool `json:"use_hypothetical_document"`
}

func DefaultQueryOptions() QueryOptions {
	return QueryOptions{
		UseGlossaryExpansion:        true,
		InjectPersonalizationMemory: true,
		UseReranking:                true,
		UseHypotheticalDocument:     true,
	}
}

// FinalResult is the terminal response object built from a finished state.
type FinalResult struct {
	Answer           string           `json:"answer"`
	CitedSources     []string         `json:"cited_sources"`
	Confidence       float64          `json:"confidence"`
	LatencyMS        int64            `json:"latency_ms"`
	Trace            []string         `json:"trace"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	Error            string           `json:"error,omitempty"`
}
