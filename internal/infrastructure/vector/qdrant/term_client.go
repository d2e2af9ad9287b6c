package qdrant

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

// TermClient searches the small glossary-term collection of short
// definition texts. Results below the score threshold are cut server-side.
type TermClient struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

func NewTermClient(baseURL, collection string) *TermClient {
	return &TermClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *TermClient) Search(ctx context.Context, queryVector []float32, limit int, scoreThreshold float64) ([]domain.RetrievedDocument, error) {
	if limit <= 0 {
		limit = 5
	}

	reqBody := map[string]any{
		"query":        queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if scoreThreshold > 0 {
		reqBody["score_threshold"] = scoreThreshold
	}

	hits, err := postQuery(ctx, c.httpClient, c.baseURL, c.collection, reqBody, "term query")
	if err != nil {
		return nil, err
	}

	out := make([]domain.RetrievedDocument, 0, len(hits))
	for _, h := range hits {
		text := getStringPayload(h.Payload, "definition")
		if desc := getStringPayload(h.Payload, "description"); desc != "" {
			text += " " + desc
		}
		out = append(out, domain.RetrievedDocument{
			SourceID:  getStringPayload(h.Payload, "source_id"),
			Title:     getStringPayload(h.Payload, "term"),
			Text:      text,
			BaseScore: h.Score,
			Category:  domain.CategoryGlossaryTerm,
			Origin:    domain.OriginTermIndex,
		})
	}
	return out, nil
}
