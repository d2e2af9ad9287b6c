package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

func TestGeneratorStageReturnsAnswer(t *testing.T) {
	gen := &fakeGenerator{answers: []string{"Isolate the energy sources first [PS-06_01]."}}
	stage := NewGeneratorStage(gen, discardLogger())

	state := domain.NewPipelineState("run", "user", "what is the lockout procedure", 2)
	state.CompressedContext = "Sources: PS-06_01\n\n[PS-06_01] isolate energy sources"
	state.SelectedSourceIDs = []string{"PS-06_01"}

	update, err := stage.Run(context.Background(), state, domain.DefaultQueryOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *update.Answer != "Isolate the energy sources first [PS-06_01]." {
		t.Fatalf("unexpected answer %q", *update.Answer)
	}
	if *update.Confidence <= 0 {
		t.Fatalf("expected positive confidence")
	}
}

func TestGeneratorStageFallsBackOnFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("inference unavailable")}
	stage := NewGeneratorStage(gen, discardLogger())

	state := domain.NewPipelineState("run", "user", "what is the lockout procedure", 2)

	update, err := stage.Run(context.Background(), state, domain.DefaultQueryOptions())
	if err != nil {
		t.Fatalf("generator failure must not fail the stage: %v", err)
	}
	if *update.Answer != fallbackAnswer {
		t.Fatalf("expected fallback answer, got %q", *update.Answer)
	}
	if *update.Confidence != 0 {
		t.Fatalf("expected zero confidence on failure, got %f", *update.Confidence)
	}
}

func TestGeneratorPromptIncludesLatestFeedback(t *testing.T) {
	gen := &fakeGenerator{answers: []string{"Corrected answer [PS-06_01]."}}
	stage := NewGeneratorStage(gen, discardLogger())

	state := domain.NewPipelineState("run", "user", "what is the lockout procedure", 2)
	state.CompressedContext = "Sources: PS-06_01"
	state.ErrorFeedbackHistory = []string{
		"first rejection",
		"the answer cited sources that are not in the provided context: PS-99_99",
	}

	if _, err := stage.Run(context.Background(), state, domain.DefaultQueryOptions()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prompt := gen.prompts[0]
	if !strings.Contains(prompt, "previous answer was rejected") {
		t.Fatalf("expected rejection notice in prompt")
	}
	if !strings.Contains(prompt, "PS-99_99") {
		t.Fatalf("expected latest feedback in prompt, got %q", prompt)
	}
	if strings.Contains(prompt, "first rejection") {
		t.Fatalf("only the latest feedback entry belongs in the prompt")
	}
}

func TestEstimateConfidence(t *testing.T) {
	state := domain.NewPipelineState("run", "user", "q", 2)
	if got := estimateConfidence(state); got != 0.2 {
		t.Fatalf("no selected sources should score 0.2, got %f", got)
	}

	score := 0.8
	state.SelectedSourceIDs = []string{"PS-06_01"}
	state.Retrieved = []domain.RetrievedDocument{{SourceID: "PS-06_01", RerankScore: &score}}
	got := estimateConfidence(state)
	want := 0.4 + 0.5*0.8
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected %f, got %f", want, got)
	}

	state.RetryCount = 2
	if got := estimateConfidence(state); got >= want {
		t.Fatalf("retries must lower confidence, got %f", got)
	}
}

func TestDirectAnswerComposesDefinitions(t *testing.T) {
	stage := NewDirectAnswerStage()
	state := domain.NewPipelineState("run", "user", "What does WCM stand for?", 2)
	state.ResolvedTerms = []domain.ResolvedTerm{
		{Term: "WCM", Definition: "World Class Manufacturing", Description: "Plant-wide improvement program."},
	}

	update, err := stage.Run(context.Background(), state, domain.DefaultQueryOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(*update.Answer, "WCM stands for World Class Manufacturing.") {
		t.Fatalf("unexpected answer %q", *update.Answer)
	}
	if !strings.Contains(*update.Answer, "Plant-wide improvement program.") {
		t.Fatalf("expected description appended, got %q", *update.Answer)
	}
	if *update.Confidence != 0.9 {
		t.Fatalf("expected direct-answer confidence 0.9, got %f", *update.Confidence)
	}
	if *update.ValidationStatus != domain.ValidationValid {
		t.Fatalf("direct answers are pre-validated, got %s", *update.ValidationStatus)
	}
}
