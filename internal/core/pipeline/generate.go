package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
	"github.com/kirillkom/shopfloor-assistant/internal/core/ports"
)

const fallbackAnswer = "I could not produce an answer from the available documents. Please rephrase the question or contact your area supervisor."

// GeneratorStage invokes the inference service with the compressed context.
// On regeneration attempts the latest validation feedback is prepended to
// the prompt so the model can correct the specific citations it got wrong.
type GeneratorStage struct {
	generator ports.AnswerGenerator
	logger    *slog.Logger
}

func NewGeneratorStage(generator ports.AnswerGenerator, logger *slog.Logger) *GeneratorStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeneratorStage{generator: generator, logger: logger}
}

func (s *GeneratorStage) Name() string { return stageGenerator }

func (s *GeneratorStage) Run(ctx context.Context, state *domain.PipelineState, _ domain.QueryOptions) (Update, error) {
	prompt := buildAnswerPrompt(state)

	answer, err := s.generator.GenerateFromPrompt(ctx, prompt)
	if err != nil {
		s.logger.Error("answer_generation_failed", "run_id", state.RunID, "retry", state.RetryCount, "error", err)
		return Update{
			Answer:     strPtr(fallbackAnswer),
			Confidence: floatPtr(0),
		}, nil
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = fallbackAnswer
	}

	return Update{
		Answer:     strPtr(answer),
		Confidence: floatPtr(estimateConfidence(state)),
	}, nil
}

func buildAnswerPrompt(state *domain.PipelineState) string {
	var b strings.Builder

	if n := len(state.ErrorFeedbackHistory); n > 0 {
		b.WriteString("IMPORTANT - your previous answer was rejected:\n")
		b.WriteString(state.ErrorFeedbackHistory[n-1])
		b.WriteString("\n\n")
	}

	b.WriteString(`Answer the user question using only the context below.
Cite supporting documents by their source identifier in square brackets, e.g. [PS-06_01].
Only cite identifiers listed in the Sources line. If the context is insufficient, say so directly.

Question:
`)
	b.WriteString(state.OriginalQuery)
	b.WriteString("\n\nContext:\n")
	b.WriteString(state.CompressedContext)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// estimateConfidence blends mean reranked relevance with how much context
// survived compression. The inference service returns text only, so this is
// a calibration-free heuristic, not a probability.
func estimateConfidence(state *domain.PipelineState) float64 {
	if len(state.SelectedSourceIDs) == 0 {
		return 0.2
	}

	sum := 0.0
	counted := 0
	for _, doc := range state.Retrieved {
		if doc.RerankScore == nil {
			continue
		}
		sum += *doc.RerankScore
		counted++
	}

	mean := 0.5
	if counted > 0 {
		mean = sum / float64(counted)
	}
	if mean > 1 {
		mean = 1
	}
	if mean < 0 {
		mean = 0
	}

	confidence := 0.4 + 0.5*mean
	if state.RetryCount > 0 {
		confidence -= 0.1 * float64(state.RetryCount)
	}
	if confidence < 0.1 {
		confidence = 0.1
	}
	return confidence
}

// DirectAnswerStage short-circuits simple definition lookups: the glossary
// already resolved the term, so the answer is composed locally without a
// retrieval or inference round trip.
type DirectAnswerStage struct{}

func NewDirectAnswerStage() *DirectAnswerStage { return &DirectAnswerStage{} }

func (s *DirectAnswerStage) Name() string { return stageDirectAnswer }

func (s *DirectAnswerStage) Run(_ context.Context, state *domain.PipelineState, _ domain.QueryOptions) (Update, error) {
	var b strings.Builder
	for i, term := range state.ResolvedTerms {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(fmt.Sprintf("%s stands for %s.", term.Term, term.Definition))
		if term.Description != "" {
			b.WriteString(" ")
			b.WriteString(term.Description)
		}
	}

	return Update{
		Answer:           strPtr(b.String()),
		Confidence:       floatPtr(0.9),
		ValidationStatus: statusPtr(domain.ValidationValid),
	}, nil
}
