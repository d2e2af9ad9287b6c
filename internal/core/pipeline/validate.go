package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

// Source identifiers are a typed prefix plus a two-part numeric suffix,
// e.g. PS-06_01 (procedure, chapter 06, sequence 01).
var citationPattern = regexp.MustCompile(`\b[A-Za-z]{2,4}[-_][0-9]{1,3}[-_][0-9]{1,3}\b`)

type ValidatorConfig struct {
	Enabled            bool
	GroundingEnabled   bool
	GroundingThreshold float64
}

func (c ValidatorConfig) withDefaults() ValidatorConfig {
	if c.GroundingThreshold <= 0 || c.GroundingThreshold > 1 {
		c.GroundingThreshold = 0.7
	}
	return c
}

// ValidatorStage extracts citation-shaped tokens from the generated answer
// and verifies each against the source identifiers actually present in the
// compressed context. Invalid citations drive the regeneration loop with
// specific correction feedback; an exhausted retry budget fails open.
type ValidatorStage struct {
	cfg ValidatorConfig
}

func NewValidatorStage(cfg ValidatorConfig) *ValidatorStage {
	return &ValidatorStage{cfg: cfg.withDefaults()}
}

func (s *ValidatorStage) Name() string { return stageValidator }

func (s *ValidatorStage) Run(_ context.Context, state *domain.PipelineState, _ domain.QueryOptions) (Update, error) {
	outcome := s.Validate(state.Answer, state.AvailableSourceIDs, state.CompressedContext, state.RetryCount, state.MaxRetries)

	update := Update{
		ValidationStatus: statusPtr(outcome.Status),
		CitedSourceIDs:   extractCitations(state.Answer),
	}
	if outcome.Action == domain.ActionRegenerate {
		update.ErrorFeedback = strPtr(outcome.Detail)
	}
	return update, nil
}

// Validate is the decision procedure behind the stage, usable standalone.
func (s *ValidatorStage) Validate(answer string, availableIDs map[string]struct{}, contextText string, retryCount, maxRetries int) domain.ValidationOutcome {
	if !s.cfg.Enabled {
		return domain.ValidationOutcome{Status: domain.ValidationValid, Action: domain.ActionPass}
	}
	if retryCount >= maxRetries {
		return domain.ValidationOutcome{
			Status: domain.ValidationRetriesExhausted,
			Detail: "retry budget exhausted, returning last answer",
			Action: domain.ActionFailOpen,
		}
	}

	cited := extractCitations(answer)
	if len(cited) == 0 {
		// Absence of citation is not an error.
		return domain.ValidationOutcome{Status: domain.ValidationValid, Action: domain.ActionPass}
	}

	normalized := make(map[string]struct{}, len(availableIDs))
	for id := range availableIDs {
		normalized[NormalizeSourceID(id)] = struct{}{}
	}

	invalid := make([]string, 0)
	for _, c := range cited {
		if _, ok := normalized[NormalizeSourceID(c)]; !ok {
			invalid = append(invalid, c)
		}
	}

	if len(invalid) > 0 {
		sort.Strings(invalid)
		return domain.ValidationOutcome{
			Status:           domain.ValidationInvalidCitations,
			InvalidCitations: invalid,
			Detail:           invalidCitationFeedback(invalid, normalized),
			Action:           domain.ActionRegenerate,
		}
	}

	if s.cfg.GroundingEnabled {
		ratio := groundingRatio(answer, contextText)
		if ratio < s.cfg.GroundingThreshold {
			return domain.ValidationOutcome{
				Status: domain.ValidationLowGrounding,
				Detail: fmt.Sprintf("only %.0f%% of the answer's content words appear in the provided context, rewrite the answer strictly from the context", ratio*100),
				Action: domain.ActionRegenerate,
			}
		}
	}

	return domain.ValidationOutcome{Status: domain.ValidationValid, Action: domain.ActionPass}
}

// extractCitations returns the citation-shaped tokens in answer order,
// normalized and deduplicated.
func extractCitations(answer string) []string {
	matches := citationPattern.FindAllString(answer, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		key := NormalizeSourceID(m)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// NormalizeSourceID folds case and separator variants into the canonical
// PREFIX-CHAPTER_SEQ form. The function is idempotent.
func NormalizeSourceID(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	parts := strings.FieldsFunc(id, func(r rune) bool {
		return r == '-' || r == '_'
	})
	if len(parts) != 3 {
		return id
	}
	return parts[0] + "-" + parts[1] + "_" + parts[2]
}

func invalidCitationFeedback(invalid []string, available map[string]struct{}) string {
	ids := make([]string, 0, len(available))
	for id := range available {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	allowed := "none"
	if len(ids) > 0 {
		allowed = strings.Join(ids, ", ")
	}
	return fmt.Sprintf(
		"the answer cited sources that are not in the provided context: %s. Cite only these source identifiers: %s",
		strings.Join(invalid, ", "), allowed,
	)
}

// groundingRatio is the fraction of the answer's content words (alphabetic,
// longer than 4 chars) present verbatim in the context text.
func groundingRatio(answer, contextText string) float64 {
	words := contentWords(answer)
	if len(words) == 0 {
		return 1
	}

	contextSet := make(map[string]struct{})
	for _, w := range contentWords(contextText) {
		contextSet[w] = struct{}{}
	}

	matched := 0
	for _, w := range words {
		if _, ok := contextSet[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(words))
}

func contentWords(text string) []string {
	out := make([]string, 0, 64)
	for _, token := range splitAlphaNumLower(text) {
		if len(token) <= 4 {
			continue
		}
		if !isAlphabetic(token) {
			continue
		}
		out = append(out, token)
	}
	return out
}

func isAlphabetic(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
