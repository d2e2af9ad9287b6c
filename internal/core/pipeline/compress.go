package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
	"github.com/kirillkom/shopfloor-assistant/internal/core/ports"
)

type CompressorConfig struct {
	TotalBudgetTokens int
	GlossaryTokens    int
	MemoryTokens      int
	DocCharLimit      int
	DedupePrefixChars int
	MaxDocuments      int
	MemoryMaxItems    int
}

func (c CompressorConfig) withDefaults() CompressorConfig {
	if c.TotalBudgetTokens <= 0 {
		c.TotalBudgetTokens = 1200
	}
	if c.GlossaryTokens <= 0 {
		c.GlossaryTokens = 150
	}
	if c.MemoryTokens <= 0 {
		c.MemoryTokens = 200
	}
	if c.DocCharLimit <= 0 {
		c.DocCharLimit = 600
	}
	if c.DedupePrefixChars <= 0 {
		c.DedupePrefixChars = 80
	}
	if c.MaxDocuments <= 0 {
		c.MaxDocuments = 6
	}
	if c.MemoryMaxItems <= 0 {
		c.MemoryMaxItems = 5
	}
	return c
}

// ContextStage selects and truncates the reranked passages plus glossary and
// personalization context into a token-budgeted prompt context. The header
// it prepends lists exactly which source identifiers made it in; that header
// is the ground truth the citation validator checks against.
type ContextStage struct {
	memory ports.MemoryStore
	policy PriorityPolicy
	cfg    CompressorConfig
	logger *slog.Logger
}

func NewContextStage(memory ports.MemoryStore, policy PriorityPolicy, cfg CompressorConfig, logger *slog.Logger) *ContextStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextStage{memory: memory, policy: policy, cfg: cfg.withDefaults(), logger: logger}
}

func (s *ContextStage) Name() string { return stageContext }

func (s *ContextStage) Run(ctx context.Context, state *domain.PipelineState, opts domain.QueryOptions) (Update, error) {
	memoryCtx := ""
	if state.NeedsMemoryFetch && opts.InjectPersonalizationMemory && s.memory != nil {
		fetched, err := s.memory.GetMemoryContext(ctx, state.UserID, s.cfg.MemoryMaxItems)
		if err != nil {
			s.logger.Warn("memory_fetch_failed", "run_id", state.RunID, "error", err)
		} else {
			memoryCtx = fetched
		}
	}

	glossaryCtx := buildGlossaryContext(state.ResolvedTerms)
	text, selected, tokens := s.compress(state.Retrieved, state.Intent, glossaryCtx, memoryCtx)

	return Update{
		CompressedContext:  strPtr(text),
		SelectedSourceIDs:  selected,
		AvailableSourceIDs: selected,
		MemoryContext:      strPtr(memoryCtx),
		TokenEstimate:      intPtr(tokens),
	}, nil
}

// compress packs documents in priority order until the document budget or
// the per-request document cap runs out.
func (s *ContextStage) compress(docs []domain.RetrievedDocument, intent domain.Intent, glossaryCtx, memoryCtx string) (string, []string, int) {
	glossaryCtx = truncateToTokens(glossaryCtx, s.cfg.GlossaryTokens)
	memoryCtx = truncateToTokens(memoryCtx, s.cfg.MemoryTokens)

	docBudget := s.cfg.TotalBudgetTokens
	docBudget -= estimateTokens(glossaryCtx)
	docBudget -= estimateTokens(memoryCtx)

	ordered := orderByPriority(docs, intent, s.policy)

	var body strings.Builder
	selected := make([]string, 0, s.cfg.MaxDocuments)
	seenPrefixes := make([]string, 0, s.cfg.MaxDocuments)
	spent := 0

	for _, doc := range ordered {
		if len(selected) >= s.cfg.MaxDocuments {
			break
		}
		if doc.Text == "" {
			continue
		}

		prefix := dedupeKey(doc.Text, s.cfg.DedupePrefixChars)
		if containsPrefix(seenPrefixes, prefix) {
			continue
		}

		snippet := headTailTruncate(doc.Text, s.cfg.DocCharLimit)
		entry := fmt.Sprintf("[%s] %s\n\n", doc.SourceID, snippet)
		cost := estimateTokens(entry)
		if spent+cost > docBudget && len(selected) > 0 {
			break
		}

		body.WriteString(entry)
		spent += cost
		selected = append(selected, doc.SourceID)
		seenPrefixes = append(seenPrefixes, prefix)
	}

	var out strings.Builder
	out.WriteString("Sources: ")
	if len(selected) > 0 {
		out.WriteString(strings.Join(selected, ", "))
	} else {
		out.WriteString("(none)")
	}
	out.WriteString("\n\n")

	if glossaryCtx != "" {
		out.WriteString("Glossary:\n")
		out.WriteString(glossaryCtx)
		out.WriteString("\n\n")
	}
	if memoryCtx != "" {
		out.WriteString("User context:\n")
		out.WriteString(memoryCtx)
		out.WriteString("\n\n")
	}
	out.WriteString(body.String())

	text := strings.TrimRight(out.String(), "\n")
	return text, selected, estimateTokens(text)
}

func orderByPriority(docs []domain.RetrievedDocument, intent domain.Intent, policy PriorityPolicy) []domain.RetrievedDocument {
	type prioritized struct {
		doc      domain.RetrievedDocument
		priority float64
	}

	ranked := make([]prioritized, 0, len(docs))
	for _, doc := range docs {
		ranked = append(ranked, prioritized{
			doc:      doc,
			priority: policy.BasePriority(intent, doc.Category) + doc.RelevanceScore(),
		})
	}

	// Insertion sort keeps it stable for equal priorities; lists here are
	// already capped at stage2K.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].priority > ranked[j-1].priority; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	out := make([]domain.RetrievedDocument, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.doc)
	}
	return out
}

// headTailTruncate keeps the first and last half of the allowed slice joined
// with an ellipsis, preserving both the topic sentence and the conclusion.
func headTailTruncate(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}

	half := (limit - 5) / 2
	if half <= 0 {
		return string(runes[:limit])
	}
	return string(runes[:half]) + " ... " + string(runes[len(runes)-half:])
}

func dedupeKey(text string, prefixChars int) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	runes := []rune(normalized)
	if len(runes) > prefixChars {
		runes = runes[:prefixChars]
	}
	return string(runes)
}

func containsPrefix(prefixes []string, prefix string) bool {
	for _, p := range prefixes {
		if p == prefix {
			return true
		}
	}
	return false
}

func buildGlossaryContext(terms []domain.ResolvedTerm) string {
	if len(terms) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range terms {
		b.WriteString(t.Term)
		b.WriteString(": ")
		b.WriteString(t.Definition)
		if t.Description != "" {
			b.WriteString(" - ")
			b.WriteString(t.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// estimateTokens approximates tokens as chars/4, which is close enough for
// budget accounting on English technical text.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

func truncateToTokens(text string, tokens int) string {
	if text == "" || tokens <= 0 {
		return ""
	}
	maxChars := tokens * 4
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}
