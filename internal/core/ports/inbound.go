package ports

import (
	"context"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

// QueryAnswerer is the inbound contract for the retrieval-orchestration
// engine: one call per user question, always returning a terminal result.
type QueryAnswerer interface {
	AnswerQuery(ctx context.Context, question, userID string, options domain.QueryOptions) (*domain.FinalResult, error)
}
