package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGlossaryStore struct {
	entries map[string]domain.GlossaryEntry
	err     error
	calls   int
}

func (f *fakeGlossaryStore) GetDefinition(_ context.Context, term string) (*domain.GlossaryEntry, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	entry, ok := f.entries[term]
	if !ok {
		return nil, domain.WrapError(domain.ErrGlossaryNotFound, "get definition", fmt.Errorf("term %q", term))
	}
	return &entry, nil
}

func (f *fakeGlossaryStore) ListTerms(context.Context) ([]domain.GlossaryEntry, error) {
	out := make([]domain.GlossaryEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int

	// dropLast simulates a backend that silently returns fewer vectors
	// than inputs.
	dropLast bool
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	if f.dropLast && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

type fakeDocumentIndex struct {
	docs  []domain.RetrievedDocument
	err   error
	calls int
}

func (f *fakeDocumentIndex) Search(context.Context, []float32, string, int, domain.SearchFilter) ([]domain.RetrievedDocument, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

type fakeTermIndex struct {
	docs  []domain.RetrievedDocument
	err   error
	calls int
}

func (f *fakeTermIndex) Search(context.Context, []float32, int, float64) ([]domain.RetrievedDocument, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

type fakeReranker struct {
	scores map[string]float64
	err    error
	calls  int
}

func (f *fakeReranker) Score(context.Context, string, []domain.RetrievedDocument) (map[string]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

// fakeGenerator returns answers in sequence, repeating the last one when the
// script runs out. The regeneration loop tests script one bad answer
// followed by a corrected one.
type fakeGenerator struct {
	answers []string
	err     error
	calls   int
	prompts []string
}

func (f *fakeGenerator) GenerateFromPrompt(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.answers) == 0 {
		return "", nil
	}
	idx := f.calls - 1
	if idx >= len(f.answers) {
		idx = len(f.answers) - 1
	}
	return f.answers[idx], nil
}

type fakeMemoryStore struct {
	contextText  string
	err          error
	fetchCalls   int
	recordCalls  int
	recordedUser string
}

func (f *fakeMemoryStore) GetMemoryContext(_ context.Context, _ string, _ int) (string, error) {
	f.fetchCalls++
	if f.err != nil {
		return "", f.err
	}
	return f.contextText, nil
}

func (f *fakeMemoryStore) RecordUsage(_ context.Context, userID string) error {
	f.recordCalls++
	f.recordedUser = userID
	return nil
}

type fakePublisher struct {
	events []domain.AnsweredEvent
	err    error
}

func (f *fakePublisher) PublishAnswered(_ context.Context, event domain.AnsweredEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func docWithScore(sourceID, text string, score float64) domain.RetrievedDocument {
	return domain.RetrievedDocument{
		SourceID:  sourceID,
		Text:      text,
		BaseScore: score,
		Category:  domain.CategoryProcedure,
	}
}

type fakeObserver struct {
	stages        []string
	directAnswers int
	validations   []string
	regenerations int
}

func (f *fakeObserver) StageCompleted(stage string, _ time.Duration) {
	f.stages = append(f.stages, stage)
}

func (f *fakeObserver) DirectAnswer() {
	f.directAnswers++
}

func (f *fakeObserver) ValidationOutcome(status string) {
	f.validations = append(f.validations, status)
}

func (f *fakeObserver) Regeneration() {
	f.regenerations++
}
