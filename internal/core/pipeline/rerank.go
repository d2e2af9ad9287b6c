package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
	"github.com/kirillkom/shopfloor-assistant/internal/core/ports"
)

type CascadeConfig struct {
	Stage1K      int
	Stage2K      int
	PerSourceCap int
}

func (c CascadeConfig) withDefaults() CascadeConfig {
	if c.Stage1K <= 0 {
		c.Stage1K = 15
	}
	if c.Stage2K <= 0 {
		c.Stage2K = 8
	}
	if c.PerSourceCap <= 0 {
		c.PerSourceCap = 1
	}
	return c
}

// RerankCascade narrows fused candidates in two passes: an expensive
// cross-encoder pass N→stage1K, then a cheap lexical-overlap pass
// stage1K→stage2K, followed by per-source deduplication so one long document
// cannot crowd out the context window.
type RerankCascade struct {
	reranker ports.Reranker
	cfg      CascadeConfig
	logger   *slog.Logger
}

func NewRerankCascade(reranker ports.Reranker, cfg CascadeConfig, logger *slog.Logger) *RerankCascade {
	if logger == nil {
		logger = slog.Default()
	}
	return &RerankCascade{reranker: reranker, cfg: cfg.withDefaults(), logger: logger}
}

func (c *RerankCascade) Rerank(ctx context.Context, query string, candidates []domain.RetrievedDocument, useReranking bool) []domain.RetrievedDocument {
	if len(candidates) == 0 {
		return candidates
	}

	head := c.crossEncoderPass(ctx, query, candidates, useReranking)
	refined := c.lexicalPass(query, head)
	return dedupeBySource(refined, c.cfg.PerSourceCap)
}

// crossEncoderPass keeps the top stage1K candidates by model relevance. When
// the reranking service is unavailable the candidates pass through unscored,
// truncated by original fused rank.
func (c *RerankCascade) crossEncoderPass(ctx context.Context, query string, candidates []domain.RetrievedDocument, useReranking bool) []domain.RetrievedDocument {
	limit := c.cfg.Stage1K
	if limit > len(candidates) {
		limit = len(candidates)
	}

	if !useReranking || c.reranker == nil {
		return clipDocuments(candidates, limit)
	}

	scores, err := c.reranker.Score(ctx, query, candidates)
	if err != nil {
		c.logger.Warn("reranker_unavailable", "error", err)
		return clipDocuments(candidates, limit)
	}

	scored := make([]domain.RetrievedDocument, len(candidates))
	copy(scored, candidates)
	for i := range scored {
		if s, ok := scores[scored[i].SourceID]; ok {
			score := s
			scored[i].RerankScore = &score
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].RelevanceScore() != scored[j].RelevanceScore() {
			return scored[i].RelevanceScore() > scored[j].RelevanceScore()
		}
		return scored[i].SourceID < scored[j].SourceID
	})

	return scored[:limit]
}

// lexicalPass blends the stage-1 score with query token overlap as a cheap
// tie-breaker and safety net, then keeps the top stage2K.
func (c *RerankCascade) lexicalPass(query string, head []domain.RetrievedDocument) []domain.RetrievedDocument {
	if len(head) == 0 {
		return head
	}

	queryTokens := toTokenSet(query)

	minScore := head[0].RelevanceScore()
	maxScore := minScore
	for _, doc := range head[1:] {
		s := doc.RelevanceScore()
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}

	rangeScore := maxScore - minScore
	normalize := func(v float64) float64 {
		if rangeScore <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - minScore) / rangeScore
	}

	out := make([]domain.RetrievedDocument, len(head))
	copy(out, head)
	for i := range out {
		overlap := tokenOverlap(queryTokens, toTokenSet(out[i].Text))
		score := 0.7*normalize(out[i].RelevanceScore()) + 0.3*overlap
		out[i].RerankScore = &score
	}

	sort.SliceStable(out, func(i, j int) bool {
		if *out[i].RerankScore != *out[j].RerankScore {
			return *out[i].RerankScore > *out[j].RerankScore
		}
		return out[i].SourceID < out[j].SourceID
	})

	limit := c.cfg.Stage2K
	if limit > len(out) {
		limit = len(out)
	}
	return out[:limit]
}

// dedupeBySource keeps at most cap chunks per source, preserving the
// highest-scored chunk and the overall ranking order.
func dedupeBySource(docs []domain.RetrievedDocument, perSourceCap int) []domain.RetrievedDocument {
	if perSourceCap <= 0 {
		perSourceCap = 1
	}

	counts := make(map[string]int, len(docs))
	out := make([]domain.RetrievedDocument, 0, len(docs))
	for _, doc := range docs {
		if counts[doc.SourceID] >= perSourceCap {
			continue
		}
		counts[doc.SourceID]++
		out = append(out, doc)
	}
	return out
}

func clipDocuments(docs []domain.RetrievedDocument, limit int) []domain.RetrievedDocument {
	out := make([]domain.RetrievedDocument, limit)
	copy(out, docs[:limit])
	return out
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
