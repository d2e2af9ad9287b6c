package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

type orchestratorFixture struct {
	glossary     *fakeGlossaryStore
	docIndex     *fakeDocumentIndex
	termIndex    *fakeTermIndex
	reranker     *fakeReranker
	hydeGen      *fakeGenerator
	answerGen    *fakeGenerator
	memory       *fakeMemoryStore
	publisher    *fakePublisher
	observer     *fakeObserver
	orchestrator *Orchestrator
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		glossary:  &fakeGlossaryStore{entries: map[string]domain.GlossaryEntry{}},
		docIndex:  &fakeDocumentIndex{},
		termIndex: &fakeTermIndex{},
		reranker:  &fakeReranker{scores: map[string]float64{}},
		hydeGen:   &fakeGenerator{answers: []string{"A hypothetical excerpt about the topic."}},
		answerGen: &fakeGenerator{},
		memory:    &fakeMemoryStore{},
		publisher: &fakePublisher{},
		observer:  &fakeObserver{},
	}

	logger := discardLogger()
	analyzer := NewAnalyzerStage()
	embedder := &fakeEmbedder{vector: []float32{0.5, 0.5}}
	hyde := NewHydeGenerator(f.hydeGen, 10, time.Minute, logger)
	cascade := NewRerankCascade(f.reranker, CascadeConfig{}, logger)

	f.orchestrator = NewOrchestrator(
		NewGlossaryStage(f.glossary, logger),
		analyzer,
		NewRetrieverStage(embedder, f.docIndex, f.termIndex, hyde, cascade, analyzer, RetrieverConfig{}, logger),
		NewContextStage(f.memory, DefaultPriorityPolicy(), CompressorConfig{}, logger),
		NewGeneratorStage(f.answerGen, logger),
		NewValidatorStage(ValidatorConfig{Enabled: true}),
		f.memory,
		f.publisher,
		OrchestratorConfig{MaxRetries: 2, Observer: f.observer},
		logger,
	)
	return f
}

func TestAnswerQueryDefinitionalFastPath(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.glossary.entries["WCM"] = domain.GlossaryEntry{Term: "WCM", Definition: "World Class Manufacturing"}

	result, err := f.orchestrator.AnswerQuery(context.Background(), "What does WCM stand for?", "user-1", domain.DefaultQueryOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Answer, "WCM stands for World Class Manufacturing.") {
		t.Fatalf("unexpected answer %q", result.Answer)
	}
	if result.ValidationStatus != domain.ValidationValid {
		t.Fatalf("expected valid status, got %s", result.ValidationStatus)
	}
	if f.docIndex.calls != 0 || f.termIndex.calls != 0 {
		t.Fatalf("fast path must not touch the indexes: %d/%d calls", f.docIndex.calls, f.termIndex.calls)
	}
	if f.answerGen.calls != 0 {
		t.Fatalf("fast path must not invoke the answer generator, got %d calls", f.answerGen.calls)
	}
	if len(f.publisher.events) != 1 {
		t.Fatalf("expected one answered event, got %d", len(f.publisher.events))
	}
	if f.publisher.events[0].Intent != string(domain.IntentDefinitional) {
		t.Fatalf("expected definitional intent in event, got %s", f.publisher.events[0].Intent)
	}
}

func TestAnswerQueryFullRetrievalPath(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.docIndex.docs = []domain.RetrievedDocument{
		docWithScore("PS-06_01", "clean the filler nozzles with the approved solvent every shift", 0.9),
		docWithScore("PS-06_02", "record completion on the CILT board", 0.8),
	}
	f.answerGen.answers = []string{"Clean the nozzles with the approved solvent [PS-06_01]."}
	f.memory.contextText = "- works the night shift"

	result, err := f.orchestrator.AnswerQuery(context.Background(), "How do I clean the filler nozzles on line 3?", "user-2", domain.DefaultQueryOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ValidationStatus != domain.ValidationValid {
		t.Fatalf("expected valid status, got %s (%s)", result.ValidationStatus, result.Error)
	}
	if len(result.CitedSources) != 1 || result.CitedSources[0] != "PS-06_01" {
		t.Fatalf("expected cited source PS-06_01, got %v", result.CitedSources)
	}
	if f.docIndex.calls != 1 {
		t.Fatalf("expected one primary index search, got %d", f.docIndex.calls)
	}
	if f.answerGen.calls != 1 {
		t.Fatalf("expected one generation, got %d", f.answerGen.calls)
	}
	if f.memory.recordCalls != 1 || f.memory.recordedUser != "user-2" {
		t.Fatalf("expected memory usage recorded for user-2, got %d/%s", f.memory.recordCalls, f.memory.recordedUser)
	}
	if len(f.publisher.events) != 1 {
		t.Fatalf("expected one answered event, got %d", len(f.publisher.events))
	}
}

func TestAnswerQueryRegeneratesOnInvalidCitation(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.docIndex.docs = []domain.RetrievedDocument{
		docWithScore("PS-06_01", "clean the filler nozzles with the approved solvent", 0.9),
	}
	f.answerGen.answers = []string{
		"According to [PS-99_99] use any solvent.",
		"Clean the nozzles with the approved solvent [PS-06_01].",
	}

	result, err := f.orchestrator.AnswerQuery(context.Background(), "How do I clean the filler nozzles on line 3?", "user-3", domain.DefaultQueryOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ValidationStatus != domain.ValidationValid {
		t.Fatalf("expected corrected answer to validate, got %s", result.ValidationStatus)
	}
	if f.answerGen.calls != 2 {
		t.Fatalf("expected one regeneration, got %d calls", f.answerGen.calls)
	}
	if !strings.Contains(f.answerGen.prompts[1], "PS-99_99") {
		t.Fatalf("regeneration prompt must carry the rejection feedback")
	}
}

func TestAnswerQueryRetryBudgetBoundsGeneratorCalls(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.docIndex.docs = []domain.RetrievedDocument{
		docWithScore("PS-06_01", "clean the filler nozzles with the approved solvent", 0.9),
	}
	f.answerGen.answers = []string{"Always wrong citation [PS-99_99]."}

	result, err := f.orchestrator.AnswerQuery(context.Background(), "How do I clean the filler nozzles on line 3?", "user-4", domain.DefaultQueryOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ValidationStatus != domain.ValidationRetriesExhausted {
		t.Fatalf("expected retries exhausted, got %s", result.ValidationStatus)
	}
	// Initial generation plus MaxRetries regenerations.
	if f.answerGen.calls != 3 {
		t.Fatalf("expected 3 generator calls, got %d", f.answerGen.calls)
	}
	if result.Answer == "" {
		t.Fatalf("fail-open must keep the last answer")
	}
}

func TestAnswerQueryRejectsEmptyQuestion(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orchestrator.AnswerQuery(context.Background(), "   ", "user-5", domain.DefaultQueryOptions())
	if err == nil {
		t.Fatalf("expected error for empty question")
	}
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input kind, got %v", err)
	}
}

func TestAnswerQueryDegradesWhenRetrievalEmpty(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.answerGen.answers = []string{"The available documents do not cover this topic."}

	result, err := f.orchestrator.AnswerQuery(context.Background(), "How do I calibrate the unknown gizmo on line 9?", "user-6", domain.DefaultQueryOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Answer == "" {
		t.Fatalf("expected an answer even with empty retrieval")
	}
	if len(result.CitedSources) != 0 {
		t.Fatalf("expected no citations, got %v", result.CitedSources)
	}
}

func TestAnswerQueryCancelledContextSkipsSideEffects(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.orchestrator.AnswerQuery(ctx, "How do I clean the filler nozzles on line 3?", "user-7", domain.DefaultQueryOptions())
	if err != nil {
		t.Fatalf("cancellation is reported on the result, not as an error: %v", err)
	}
	if result.Error == "" {
		t.Fatalf("expected error field for cancelled run")
	}
	if len(f.publisher.events) != 0 {
		t.Fatalf("cancelled runs must not publish events")
	}
}

func TestAnswerQueryTraceCoversActiveBranch(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.docIndex.docs = []domain.RetrievedDocument{
		docWithScore("PS-06_01", "clean the filler nozzles with the approved solvent", 0.9),
	}
	f.answerGen.answers = []string{"Clean the nozzles [PS-06_01]."}

	result, err := f.orchestrator.AnswerQuery(context.Background(), "How do I clean the filler nozzles on line 3?", "user-8", domain.DefaultQueryOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	joined := strings.Join(result.Trace, " | ")
	for _, stage := range []string{"glossary", "analyzer", "retriever", "context", "generator", "validator"} {
		if !strings.Contains(joined, stage) {
			t.Fatalf("trace missing stage %s: %v", stage, result.Trace)
		}
	}
}

func TestAnswerQueryNotifiesObserver(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.docIndex.docs = []domain.RetrievedDocument{
		docWithScore("PS-06_01", "clean the filler nozzles with the approved solvent", 0.9),
	}
	f.answerGen.answers = []string{
		"According to [PS-99_99] use any solvent.",
		"Clean the nozzles with the approved solvent [PS-06_01].",
	}

	_, err := f.orchestrator.AnswerQuery(context.Background(), "How do I clean the filler nozzles on line 3?", "user-5", domain.DefaultQueryOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.observer.regenerations != 1 {
		t.Fatalf("expected one regeneration notification, got %d", f.observer.regenerations)
	}
	wantValidations := []string{string(domain.ValidationInvalidCitations), string(domain.ValidationValid)}
	if len(f.observer.validations) != len(wantValidations) {
		t.Fatalf("expected %d validation outcomes, got %v", len(wantValidations), f.observer.validations)
	}
	for i, want := range wantValidations {
		if f.observer.validations[i] != want {
			t.Fatalf("validation outcome %d: want %s, got %s", i, want, f.observer.validations[i])
		}
	}
	for _, stage := range []string{"glossary", "analyzer", "retriever", "context", "generator", "validator"} {
		found := false
		for _, seen := range f.observer.stages {
			if seen == stage {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected stage %q reported, saw %v", stage, f.observer.stages)
		}
	}
	if f.observer.directAnswers != 0 {
		t.Fatalf("retrieval path must not count as a direct answer")
	}
}

func TestAnswerQueryDirectPathNotifiesObserver(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.glossary.entries["WCM"] = domain.GlossaryEntry{Term: "WCM", Definition: "World Class Manufacturing"}

	_, err := f.orchestrator.AnswerQuery(context.Background(), "What does WCM stand for?", "user-6", domain.DefaultQueryOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.observer.directAnswers != 1 {
		t.Fatalf("expected one direct answer notification, got %d", f.observer.directAnswers)
	}
	if len(f.observer.validations) != 0 {
		t.Fatalf("direct path skips the validator, got %v", f.observer.validations)
	}
}
