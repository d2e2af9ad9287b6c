package ports

import (
	"context"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

// Embedder builds dense vectors for queries and hypothetical documents.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentIndex is the primary vector collection over document chunks.
type DocumentIndex interface {
	Search(ctx context.Context, queryVector []float32, queryText string, limit int, filter domain.SearchFilter) ([]domain.RetrievedDocument, error)
}

// TermIndex is the small vector collection over glossary definitions.
type TermIndex interface {
	Search(ctx context.Context, queryVector []float32, limit int, scoreThreshold float64) ([]domain.RetrievedDocument, error)
}

// Reranker scores candidate passages against a query (cross-encoder style).
type Reranker interface {
	Score(ctx context.Context, query string, passages []domain.RetrievedDocument) (map[string]float64, error)
}

// AnswerGenerator creates answer text and hypothetical documents.
type AnswerGenerator interface {
	GenerateFromPrompt(ctx context.Context, prompt string) (string, error)
}

// GlossaryStore is the key-ordered lookup over acronym definitions.
type GlossaryStore interface {
	GetDefinition(ctx context.Context, term string) (*domain.GlossaryEntry, error)
	ListTerms(ctx context.Context) ([]domain.GlossaryEntry, error)
}

// MemoryStore reads and updates personalization facts. RecordUsage is only
// called after a run reached a successful terminal state.
type MemoryStore interface {
	GetMemoryContext(ctx context.Context, userID string, maxItems int) (string, error)
	RecordUsage(ctx context.Context, userID string) error
}

// EventPublisher hands finished-run events to the analytics surface.
type EventPublisher interface {
	PublishAnswered(ctx context.Context, event domain.AnsweredEvent) error
}
