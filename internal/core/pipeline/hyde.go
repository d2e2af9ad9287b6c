package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kirillkom/shopfloor-assistant/internal/core/ports"
)

const minHydeQueryLength = 15

// HydeGenerator produces a hypothetical answer-shaped document for a query.
// Embedding that text shifts the query vector toward the distribution of
// real answer-bearing passages. Results are cached per normalized query in a
// bounded LRU with TTL shared across concurrent runs.
type HydeGenerator struct {
	generator ports.AnswerGenerator
	cache     *expirable.LRU[string, string]
	logger    *slog.Logger
}

func NewHydeGenerator(generator ports.AnswerGenerator, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) *HydeGenerator {
	if cacheSize <= 0 {
		cacheSize = 500
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HydeGenerator{
		generator: generator,
		cache:     expirable.NewLRU[string, string](cacheSize, nil, cacheTTL),
		logger:    logger,
	}
}

// ShouldSkip reports whether hypothetical-document generation is pointless
// for this query: definition lookups and very short queries go straight to
// plain-vector search.
func (h *HydeGenerator) ShouldSkip(query string, definitional bool) bool {
	return definitional || len(strings.TrimSpace(query)) < minHydeQueryLength
}

// Generate returns the hypothetical document for the query, or an empty
// string when generation fails. Failures never surface to the caller; the
// retrieval engine falls back to plain-vector search.
func (h *HydeGenerator) Generate(ctx context.Context, query string) string {
	if h.generator == nil {
		return ""
	}

	key := normalizeCacheKey(query)
	if cached, ok := h.cache.Get(key); ok {
		return cached
	}

	text, err := h.generator.GenerateFromPrompt(ctx, buildHydePrompt(query))
	if err != nil {
		h.logger.Warn("hyde_generation_failed", "error", err)
		return ""
	}

	text = strings.TrimSpace(text)
	if text != "" {
		h.cache.Add(key, text)
	}
	return text
}

func buildHydePrompt(query string) string {
	return fmt.Sprintf(`Write a short excerpt (3-5 sentences) from a plausible factory operations document that would answer the question below.
Write only the excerpt text, no preamble and no commentary.

Question:
%s

Excerpt:`, query)
}

func normalizeCacheKey(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
