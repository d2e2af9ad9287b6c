package pipeline

import (
	"sort"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

type fusedCandidate struct {
	doc   domain.RetrievedDocument
	score float64
}

// fuseRRF merges the primary-index and term-index result lists with
// Reciprocal Rank Fusion. Raw similarity scores from the two collections are
// not calibrated against each other, so rank position is the only signal
// used: a hit at rank r contributes weight/(k+r+1). The term list carries
// termWeight (>1 for definitional queries), the primary list weight 1.0.
func fuseRRF(primary, term []domain.RetrievedDocument, rrfK int, termWeight float64) []domain.RetrievedDocument {
	if rrfK <= 0 {
		rrfK = 60
	}
	if termWeight <= 0 {
		termWeight = 1.0
	}

	acc := make(map[string]fusedCandidate, len(primary)+len(term))
	addList := func(docs []domain.RetrievedDocument, weight float64) {
		for rank, doc := range docs {
			candidate := acc[doc.SourceID]
			candidate.doc = preferRicherDocument(candidate.doc, doc)
			candidate.score += weight / float64(rrfK+rank+1)
			acc[doc.SourceID] = candidate
		}
	}

	addList(primary, 1.0)
	addList(term, termWeight)

	out := make([]domain.RetrievedDocument, 0, len(acc))
	for _, c := range acc {
		doc := c.doc
		doc.BaseScore = c.score
		out = append(out, doc)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BaseScore != out[j].BaseScore {
			return out[i].BaseScore > out[j].BaseScore
		}
		return out[i].SourceID < out[j].SourceID
	})

	return out
}

func preferRicherDocument(current, candidate domain.RetrievedDocument) domain.RetrievedDocument {
	if current.SourceID == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.Title == "" && candidate.Title != "" {
		current.Title = candidate.Title
	}
	if current.Category == "" && candidate.Category != "" {
		current.Category = candidate.Category
	}
	return current
}
