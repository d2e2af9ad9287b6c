package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

// PriorityPolicy maps (intent, document category) to a base priority that is
// added to the relevance score when the compressor orders documents. The
// defaults are tuning values, not invariants; operators can override them
// with a YAML policy file.
type PriorityPolicy struct {
	weights map[domain.Intent]map[domain.DocumentCategory]float64
}

func DefaultPriorityPolicy() PriorityPolicy {
	return PriorityPolicy{weights: map[domain.Intent]map[domain.DocumentCategory]float64{
		domain.IntentDefinitional: {
			domain.CategoryGlossaryTerm:  3.0,
			domain.CategoryProcedure:     1.0,
			domain.CategoryInstruction:   1.0,
			domain.CategoryToolReference: 0.5,
			domain.CategoryRecordForm:    0.2,
		},
		domain.IntentProcedural: {
			domain.CategoryProcedure:     3.0,
			domain.CategoryInstruction:   2.5,
			domain.CategoryRecordForm:    1.0,
			domain.CategoryToolReference: 0.8,
			domain.CategoryGlossaryTerm:  0.3,
		},
		domain.IntentFactual: {
			domain.CategoryProcedure:     1.5,
			domain.CategoryInstruction:   1.5,
			domain.CategoryRecordForm:    1.2,
			domain.CategoryToolReference: 1.2,
			domain.CategoryGlossaryTerm:  0.8,
		},
		domain.IntentComparison: {
			domain.CategoryProcedure:     1.8,
			domain.CategoryInstruction:   1.8,
			domain.CategoryToolReference: 1.5,
			domain.CategoryRecordForm:    0.8,
			domain.CategoryGlossaryTerm:  0.8,
		},
		domain.IntentTeach: {
			domain.CategoryInstruction:   2.5,
			domain.CategoryProcedure:     2.0,
			domain.CategoryGlossaryTerm:  1.5,
			domain.CategoryToolReference: 1.0,
			domain.CategoryRecordForm:    0.3,
		},
	}}
}

// BasePriority returns the configured weight, falling back to a neutral 1.0
// for unknown intent/category pairs.
func (p PriorityPolicy) BasePriority(intent domain.Intent, category domain.DocumentCategory) float64 {
	if byCategory, ok := p.weights[intent]; ok {
		if w, ok := byCategory[category]; ok {
			return w
		}
	}
	return 1.0
}

// LoadPriorityPolicy reads weight overrides from a YAML file shaped as
// intent -> category -> weight. Intents or categories absent from the file
// keep their defaults.
func LoadPriorityPolicy(path string) (PriorityPolicy, error) {
	policy := DefaultPriorityPolicy()
	if path == "" {
		return policy, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("read priority policy: %w", err)
	}

	var overrides map[string]map[string]float64
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return policy, fmt.Errorf("parse priority policy: %w", err)
	}

	for intent, byCategory := range overrides {
		key := domain.Intent(intent)
		if _, ok := policy.weights[key]; !ok {
			policy.weights[key] = make(map[domain.DocumentCategory]float64, len(byCategory))
		}
		for category, weight := range byCategory {
			policy.weights[key][domain.DocumentCategory(category)] = weight
		}
	}
	return policy, nil
}
