package pipeline

import (
	"context"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

// Stage identifiers used by the orchestrator's routing table.
const (
	stageGlossary     = "glossary"
	stageAnalyzer     = "analyzer"
	stageDirectAnswer = "direct_answer"
	stageRetriever    = "retriever"
	stageContext      = "context"
	stageGenerator    = "generator"
	stageValidator    = "validator"
	stageTerminal     = "terminal"
)

// Stage is one pipeline step. A stage reads the shared state, performs its
// work, and returns a partial update for the orchestrator to merge. Stages
// absorb their own recoverable failures and return a degraded-but-valid
// update; only unrecoverable failures surface as an error.
type Stage interface {
	Name() string
	Run(ctx context.Context, state *domain.PipelineState, opts domain.QueryOptions) (Update, error)
}

// Update is the partial state change produced by one stage run. Nil pointer
// fields are left untouched; slice fields marked append-only accumulate.
type Update struct {
	ExpandedQuery *string
	ResolvedTerms []domain.ResolvedTerm

	Intent           *domain.Intent
	Complexity       *domain.Complexity
	SubQueries       []string
	NeedsMemoryFetch *bool

	// Retrieved is appended to the state's document list.
	Retrieved []domain.RetrievedDocument

	CompressedContext  *string
	SelectedSourceIDs  []string
	MemoryContext      *string
	TokenEstimate      *int
	AvailableSourceIDs []string

	Answer         *string
	CitedSourceIDs []string
	Confidence     *float64

	ValidationStatus *domain.ValidationStatus
	// ErrorFeedback is appended to the state's feedback history.
	ErrorFeedback *string
}

func applyUpdate(state *domain.PipelineState, u Update) {
	if u.ExpandedQuery != nil {
		state.ExpandedQuery = *u.ExpandedQuery
	}
	if len(u.ResolvedTerms) > 0 {
		state.ResolvedTerms = append(state.ResolvedTerms, u.ResolvedTerms...)
	}
	if u.Intent != nil {
		state.Intent = *u.Intent
	}
	if u.Complexity != nil {
		state.Complexity = *u.Complexity
	}
	if len(u.SubQueries) > 0 {
		state.SubQueries = u.SubQueries
	}
	if u.NeedsMemoryFetch != nil {
		state.NeedsMemoryFetch = *u.NeedsMemoryFetch
	}
	if len(u.Retrieved) > 0 {
		state.Retrieved = append(state.Retrieved, u.Retrieved...)
	}
	if u.CompressedContext != nil {
		state.CompressedContext = *u.CompressedContext
	}
	if len(u.SelectedSourceIDs) > 0 {
		state.SelectedSourceIDs = u.SelectedSourceIDs
	}
	if u.MemoryContext != nil {
		state.MemoryContext = *u.MemoryContext
	}
	if u.TokenEstimate != nil {
		state.TokenEstimate = *u.TokenEstimate
	}
	for _, id := range u.AvailableSourceIDs {
		state.AvailableSourceIDs[id] = struct{}{}
	}
	if u.Answer != nil {
		state.Answer = *u.Answer
	}
	if u.CitedSourceIDs != nil {
		state.CitedSourceIDs = u.CitedSourceIDs
	}
	if u.Confidence != nil {
		state.Confidence = *u.Confidence
	}
	if u.ValidationStatus != nil {
		state.ValidationStatus = *u.ValidationStatus
	}
	if u.ErrorFeedback != nil {
		state.ErrorFeedbackHistory = append(state.ErrorFeedbackHistory, *u.ErrorFeedback)
	}
}

// routeAfterAnalyzer picks the definitional fast path only when the query is
// a simple definition lookup and the glossary already resolved a term.
func routeAfterAnalyzer(state *domain.PipelineState) string {
	if state.Intent == domain.IntentDefinitional &&
		len(state.ResolvedTerms) > 0 &&
		state.Complexity == domain.ComplexitySimple {
		return stageDirectAnswer
	}
	return stageRetriever
}

// routeAfterValidator terminates on a settled status and otherwise loops the
// generator while the retry budget allows.
func routeAfterValidator(state *domain.PipelineState) string {
	switch state.ValidationStatus {
	case domain.ValidationValid, domain.ValidationRetriesExhausted:
		return stageTerminal
	}
	if state.RetryCount < state.MaxRetries {
		return stageGenerator
	}
	return stageTerminal
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }

func boolPtr(b bool) *bool { return &b }

func intentPtr(i domain.Intent) *domain.Intent { return &i }

func complexityPtr(c domain.Complexity) *domain.Complexity { return &c }

func statusPtr(s domain.ValidationStatus) *domain.ValidationStatus { return &s }
