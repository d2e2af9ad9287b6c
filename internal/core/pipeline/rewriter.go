package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
	"github.com/kirillkom/shopfloor-assistant/internal/core/ports"
)

// GlossaryStage expands acronyms found in the query against the domain
// glossary. Lookup misses are silent; a failed glossary read degrades to a
// pass-through expansion.
type GlossaryStage struct {
	glossary ports.GlossaryStore
	logger   *slog.Logger
}

func NewGlossaryStage(glossary ports.GlossaryStore, logger *slog.Logger) *GlossaryStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &GlossaryStage{glossary: glossary, logger: logger}
}

func (s *GlossaryStage) Name() string { return stageGlossary }

func (s *GlossaryStage) Run(ctx context.Context, state *domain.PipelineState, opts domain.QueryOptions) (Update, error) {
	if !opts.UseGlossaryExpansion || s.glossary == nil {
		return Update{ExpandedQuery: strPtr(state.OriginalQuery)}, nil
	}

	resolved := make([]domain.ResolvedTerm, 0, 2)
	seen := make(map[string]struct{})
	for _, candidate := range acronymCandidates(state.OriginalQuery) {
		key := strings.ToUpper(candidate)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		entry, err := s.glossary.GetDefinition(ctx, candidate)
		if err != nil {
			if !domain.IsKind(err, domain.ErrGlossaryNotFound) {
				s.logger.Warn("glossary_lookup_failed", "term", candidate, "error", err)
			}
			continue
		}
		resolved = append(resolved, domain.ResolvedTerm{
			Term:        entry.Term,
			Definition:  entry.Definition,
			Description: entry.Description,
		})
	}

	expanded := state.OriginalQuery
	if len(resolved) > 0 {
		var b strings.Builder
		b.WriteString(state.OriginalQuery)
		for _, term := range resolved {
			b.WriteString(fmt.Sprintf(" [%s = %s]", term.Term, term.Definition))
		}
		expanded = b.String()
	}

	return Update{
		ExpandedQuery: strPtr(expanded),
		ResolvedTerms: resolved,
	}, nil
}

// acronymCandidates picks tokens that look like acronyms: short, letter-only
// tokens written in caps, plus any 2-6 letter token so lower-cased acronyms
// in casual queries still hit the glossary.
func acronymCandidates(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || len(f) > 6 {
			continue
		}
		if !isLetterOnly(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isLetterOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
