package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
	"github.com/kirillkom/shopfloor-assistant/internal/core/ports"
)

// Blend weights for the combined query vector. The hypothetical document
// carries the most weight since it sits closest to answer-bearing passages.
const (
	blendWeightOriginal     = 0.25
	blendWeightExpanded     = 0.35
	blendWeightHypothetical = 0.40
)

var errShortEmbeddingBatch = errors.New("embedding batch size mismatch")

type RetrieverConfig struct {
	PrimaryTopN        int
	TermTopK           int
	TermScoreThreshold float64
	TermBoost          float64
	RRFK               int
}

func (c RetrieverConfig) withDefaults() RetrieverConfig {
	if c.PrimaryTopN <= 0 {
		c.PrimaryTopN = 40
	}
	if c.TermTopK <= 0 {
		c.TermTopK = 5
	}
	if c.TermBoost <= 0 {
		c.TermBoost = 1.5
	}
	if c.RRFK <= 0 {
		c.RRFK = 60
	}
	return c
}

// RetrieverStage issues hybrid search against the primary document index
// and, in parallel, the glossary-term index, then fuses both ranked lists
// with RRF and runs the reranking cascade over the fusion output.
type RetrieverStage struct {
	embedder  ports.Embedder
	docIndex  ports.DocumentIndex
	termIndex ports.TermIndex
	hyde      *HydeGenerator
	cascade   *RerankCascade
	analyzer  *AnalyzerStage
	cfg       RetrieverConfig
	logger    *slog.Logger
}

func NewRetrieverStage(
	embedder ports.Embedder,
	docIndex ports.DocumentIndex,
	termIndex ports.TermIndex,
	hyde *HydeGenerator,
	cascade *RerankCascade,
	analyzer *AnalyzerStage,
	cfg RetrieverConfig,
	logger *slog.Logger,
) *RetrieverStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrieverStage{
		embedder:  embedder,
		docIndex:  docIndex,
		termIndex: termIndex,
		hyde:      hyde,
		cascade:   cascade,
		analyzer:  analyzer,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

func (s *RetrieverStage) Name() string { return stageRetriever }

func (s *RetrieverStage) Run(ctx context.Context, state *domain.PipelineState, opts domain.QueryOptions) (Update, error) {
	definitional := state.Intent == domain.IntentDefinitional || s.analyzer.IsDefinitional(state.OriginalQuery)

	hypothetical := ""
	if opts.UseHypotheticalDocument && s.hyde != nil && !s.hyde.ShouldSkip(state.OriginalQuery, definitional) {
		hypothetical = s.hyde.Generate(ctx, state.OriginalQuery)
	}

	primaryVector, termVector, err := s.buildQueryVectors(ctx, state.OriginalQuery, state.ExpandedQuery, hypothetical)
	if err != nil {
		// No vectors means no retrieval; the compressor and generator
		// degrade over an empty document list.
		s.logger.Warn("query_embedding_failed", "run_id", state.RunID, "error", err)
		return Update{}, nil
	}

	primary, term := s.searchBoth(ctx, state, primaryVector, termVector)

	termWeight := 1.0
	if definitional {
		termWeight = s.cfg.TermBoost
	}
	fused := fuseRRF(primary, term, s.cfg.RRFK, termWeight)

	ranked := s.cascade.Rerank(ctx, state.OriginalQuery, fused, opts.UseReranking)
	return Update{Retrieved: ranked}, nil
}

// buildQueryVectors embeds the query texts in one batch and blends them into
// the combined primary-search vector. The term index always searches with
// the plain original-query vector.
func (s *RetrieverStage) buildQueryVectors(ctx context.Context, original, expanded, hypothetical string) ([]float32, []float32, error) {
	texts := []string{original, expanded}
	if hypothetical != "" {
		texts = append(texts, hypothetical)
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, nil, err
	}
	if len(vectors) != len(texts) {
		return nil, nil, domain.WrapError(domain.ErrTemporary, "embed query batch", errShortEmbeddingBatch)
	}

	termVector := vectors[0]
	if hypothetical == "" {
		// Plain-vector search over the expanded query.
		return vectors[1], termVector, nil
	}

	weighted := [][]float32{vectors[0], vectors[1], vectors[2]}
	weights := []float64{blendWeightOriginal, blendWeightExpanded, blendWeightHypothetical}
	if original == expanded {
		// Expansion added nothing; drop its term and renormalize the rest.
		weighted = [][]float32{vectors[0], vectors[2]}
		weights = []float64{blendWeightOriginal, blendWeightHypothetical}
	}

	return blendVectors(weighted, weights), termVector, nil
}

// searchBoth runs the two index searches concurrently. A failure in either
// branch is isolated: it logs, contributes an empty list, and never cancels
// the other branch.
func (s *RetrieverStage) searchBoth(ctx context.Context, state *domain.PipelineState, primaryVector, termVector []float32) (primary, term []domain.RetrievedDocument) {
	var g errgroup.Group

	g.Go(func() error {
		docs, err := s.docIndex.Search(ctx, primaryVector, state.ExpandedQuery, s.cfg.PrimaryTopN, domain.SearchFilter{})
		if err != nil {
			s.logger.Warn("primary_index_search_failed", "run_id", state.RunID, "error", err)
			return nil
		}
		primary = docs
		return nil
	})

	g.Go(func() error {
		if s.termIndex == nil {
			return nil
		}
		docs, err := s.termIndex.Search(ctx, termVector, s.cfg.TermTopK, s.cfg.TermScoreThreshold)
		if err != nil {
			s.logger.Warn("term_index_search_failed", "run_id", state.RunID, "error", err)
			return nil
		}
		term = docs
		return nil
	})

	_ = g.Wait()
	return primary, term
}

// blendVectors computes the weighted average of the input vectors,
// renormalized so unused weight mass never dilutes the result, and scales
// the blend back to unit length.
func blendVectors(vectors [][]float32, weights []float64) []float32 {
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil
	}

	totalWeight := 0.0
	for _, w := range weights {
		totalWeight += w
	}
	if totalWeight <= 0 {
		return vectors[0]
	}

	dim := len(vectors[0])
	blend := make([]float64, dim)
	for i, vec := range vectors {
		if len(vec) != dim {
			continue
		}
		w := weights[i] / totalWeight
		for j, v := range vec {
			blend[j] += w * float64(v)
		}
	}

	norm := 0.0
	for _, v := range blend {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dim)
	for j, v := range blend {
		if norm > 0 {
			v /= norm
		}
		out[j] = float32(v)
	}
	return out
}
