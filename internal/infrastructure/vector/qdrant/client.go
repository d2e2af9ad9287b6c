package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

// DocumentClient searches the primary chunk collection. Queries are hybrid:
// a dense prefetch and a sparse (hashed BM25-style) prefetch fused by qdrant
// before the final limit is applied.
type DocumentClient struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

func NewDocumentClient(baseURL, collection string) *DocumentClient {
	return &DocumentClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *DocumentClient) Search(
	ctx context.Context,
	queryVector []float32,
	queryText string,
	limit int,
	filter domain.SearchFilter,
) ([]domain.RetrievedDocument, error) {
	if limit <= 0 {
		limit = 40
	}

	densePrefetch := map[string]any{
		"query": queryVector,
		"using": "dense",
		"limit": limit * 2,
	}
	prefetch := []map[string]any{densePrefetch}

	if sparse := encodeSparseQuery(queryText); len(sparse.Indices) > 0 {
		prefetch = append(prefetch, map[string]any{
			"query": map[string]any{
				"indices": sparse.Indices,
				"values":  sparse.Values,
			},
			"using": "sparse",
			"limit": limit * 2,
		})
	}

	reqBody := map[string]any{
		"prefetch":     prefetch,
		"query":        map[string]any{"fusion": "rrf"},
		"limit":        limit,
		"with_payload": true,
	}
	if filter.Category != "" {
		reqBody["filter"] = map[string]any{
			"must": []map[string]any{
				{
					"key": "category",
					"match": map[string]any{
						"value": filter.Category,
					},
				},
			},
		}
	}

	hits, err := postQuery(ctx, c.httpClient, c.baseURL, c.collection, reqBody, "document query")
	if err != nil {
		return nil, err
	}

	out := make([]domain.RetrievedDocument, 0, len(hits))
	for _, h := range hits {
		out = append(out, domain.RetrievedDocument{
			SourceID:  getStringPayload(h.Payload, "source_id"),
			Title:     getStringPayload(h.Payload, "title"),
			Text:      getStringPayload(h.Payload, "text"),
			BaseScore: h.Score,
			Category:  domain.DocumentCategory(getStringPayload(h.Payload, "category")),
			Origin:    domain.OriginPrimaryIndex,
		})
	}
	return out, nil
}

type queryHit struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func postQuery(ctx context.Context, client *http.Client, baseURL, collection string, reqBody map[string]any, operation string) ([]queryHit, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", operation, err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/query", baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(raw)); msg != "" {
			return nil, fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, msg)
		}
		return nil, fmt.Errorf("qdrant %s status: %s", operation, resp.Status)
	}

	var queryResp struct {
		Result struct {
			Points []queryHit `json:"points"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", operation, err)
	}
	return queryResp.Result.Points, nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
