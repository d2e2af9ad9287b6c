package domain

type DocumentCategory string

const (
	CategoryProcedure     DocumentCategory = "procedure"
	CategoryInstruction   DocumentCategory = "instruction"
	CategoryRecordForm    DocumentCategory = "record_form"
	CategoryToolReference DocumentCategory = "tool_reference"
	CategoryGlossaryTerm  DocumentCategory = "glossary_term"
)

type RetrievalOrigin string

const (
	OriginPrimaryIndex RetrievalOrigin = "primary_index"
	OriginTermIndex    RetrievalOrigin = "term_index"
)

// RetrievedDocument is one ranked hit from either index. It is immutable
// once produced by retrieval except for RerankScore, which each reranking
// stage replaces exactly once.
type RetrievedDocument struct {
	SourceID    string           `json:"source_id"`
	Title       string           `json:"title,omitempty"`
	Text        string           `json:"text"`
	BaseScore   float64          `json:"base_score"`
	RerankScore *float64         `json:"rerank_score,omitempty"`
	Category    DocumentCategory `json:"category"`
	Origin      RetrievalOrigin  `json:"origin"`
}

// RelevanceScore prefers the rerank score when a reranking stage produced one.
func (d RetrievedDocument) RelevanceScore() float64 {
	if d.RerankScore != nil {
		return *d.RerankScore
	}
	return d.BaseScore
}

type SearchFilter struct {
	Category string
}
