package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

const maxRerankSnippet = 500

func buildRerankPrompt(query string, passages []domain.RetrievedDocument) string {
	var b strings.Builder
	for _, p := range passages {
		snippet := p.Text
		if len(snippet) > maxRerankSnippet {
			snippet = snippet[:maxRerankSnippet]
		}
		b.WriteString(fmt.Sprintf("id=%s\n%s\n\n", p.SourceID, snippet))
	}

	return fmt.Sprintf(`You are a relevance scorer.
Rate how relevant each passage below is to the query, from 0.0 (unrelated) to 1.0 (directly answers it).
Return a strict JSON object mapping each passage id to its score. No markdown, no extra keys.

Query:
%s

Passages:
%s`, query, b.String())
}
