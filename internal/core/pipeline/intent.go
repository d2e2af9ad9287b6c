package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

// AnalyzerStage classifies the rewritten query into an intent category and a
// complexity tier, decomposes complex queries into sub-queries, and decides
// whether personalization memory should be fetched. Pure rules, no I/O.
type AnalyzerStage struct {
	definitionalPatterns []*regexp.Regexp
}

var defaultDefinitionalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^what\s+does\s+\S+\s+(mean|stand\s+for)`),
	regexp.MustCompile(`(?i)^(define|definition\s+of)\b`),
	regexp.MustCompile(`(?i)^what\s+is\s+(a\s+|an\s+|the\s+)?[A-Za-z]{2,6}\??$`),
	regexp.MustCompile(`^\s*[A-Z]{2,6}\s*\??\s*$`),
}

func NewAnalyzerStage() *AnalyzerStage {
	return &AnalyzerStage{definitionalPatterns: defaultDefinitionalPatterns}
}

func (s *AnalyzerStage) Name() string { return stageAnalyzer }

func (s *AnalyzerStage) Run(_ context.Context, state *domain.PipelineState, opts domain.QueryOptions) (Update, error) {
	intent := s.classifyIntent(state.OriginalQuery)
	complexity := classifyComplexity(state.OriginalQuery)
	subQueries := decompose(state.OriginalQuery, complexity)

	needsMemory := opts.InjectPersonalizationMemory && intent != domain.IntentDefinitional

	return Update{
		Intent:           intentPtr(intent),
		Complexity:       complexityPtr(complexity),
		SubQueries:       subQueries,
		NeedsMemoryFetch: boolPtr(needsMemory),
	}, nil
}

// IsDefinitional reports whether the raw query matches a definition-lookup
// pattern. The retrieval engine reuses this to boost the term index.
func (s *AnalyzerStage) IsDefinitional(query string) bool {
	for _, p := range s.definitionalPatterns {
		if p.MatchString(strings.TrimSpace(query)) {
			return true
		}
	}
	return false
}

func (s *AnalyzerStage) classifyIntent(query string) domain.Intent {
	q := strings.ToLower(strings.TrimSpace(query))

	if s.IsDefinitional(query) {
		return domain.IntentDefinitional
	}

	switch {
	case strings.HasPrefix(q, "how do i"),
		strings.HasPrefix(q, "how to"),
		strings.HasPrefix(q, "how should"),
		strings.Contains(q, "step by step"),
		strings.Contains(q, "procedure for"),
		strings.Contains(q, "what are the steps"):
		return domain.IntentProcedural
	case strings.Contains(q, "difference between"),
		strings.Contains(q, " versus "),
		strings.Contains(q, " vs "),
		strings.HasPrefix(q, "compare"):
		return domain.IntentComparison
	case strings.HasPrefix(q, "explain"),
		strings.HasPrefix(q, "teach me"),
		strings.HasPrefix(q, "why"),
		strings.Contains(q, "help me understand"):
		return domain.IntentTeach
	default:
		return domain.IntentFactual
	}
}

func classifyComplexity(query string) domain.Complexity {
	words := len(strings.Fields(query))
	clauses := strings.Count(query, "?")
	conjunctions := strings.Count(strings.ToLower(query), " and ") +
		strings.Count(strings.ToLower(query), "; ")

	switch {
	case words > 18 || clauses > 1 || conjunctions >= 2:
		return domain.ComplexityComplex
	case words > 8 || conjunctions == 1:
		return domain.ComplexityMedium
	default:
		return domain.ComplexitySimple
	}
}

// decompose splits a complex query into independently answerable sub-queries.
// Simple and medium queries pass through whole.
func decompose(query string, complexity domain.Complexity) []string {
	if complexity != domain.ComplexityComplex {
		return []string{query}
	}

	parts := strings.FieldsFunc(query, func(r rune) bool {
		return r == '?' || r == ';'
	})

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return []string{query}
	}
	return out
}
