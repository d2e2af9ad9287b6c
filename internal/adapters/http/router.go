package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
	"github.com/kirillkom/shopfloor-assistant/internal/core/ports"
	"github.com/kirillkom/shopfloor-assistant/internal/observability/metrics"
)

type RouterConfig struct {
	ServiceName      string
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	InFlightWaitTime time.Duration
}

type Router struct {
	answerer ports.QueryAnswerer
	glossary ports.GlossaryStore
	metrics  *metrics.HTTPServerMetrics
	cfg      RouterConfig
}

func NewRouter(
	answerer ports.QueryAnswerer,
	glossary ports.GlossaryStore,
	serverMetrics *metrics.HTTPServerMetrics,
	cfg RouterConfig,
) *Router {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "shopfloor-assistant"
	}
	return &Router{
		answerer: answerer,
		glossary: glossary,
		metrics:  serverMetrics,
		cfg:      cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/query", rt.answerQuery)
	mux.HandleFunc("/v1/glossary/", rt.getGlossaryTerm)
	mux.HandleFunc("/v1/glossary", rt.listGlossaryTerms)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.cfg.MaxInFlight > 0 {
		handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, rt.cfg.InFlightWaitTime)
	}
	if rt.cfg.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	}
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.cfg.ServiceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id"`

	UseGlossaryExpansion        *bool `json:"use_glossary_expansion"`
	InjectPersonalizationMemory *bool `json:"inject_personalization_memory"`
	UseReranking                *bool `json:"use_reranking"`
	UseHypotheticalDocument     *bool `json:"use_hypothetical_document"`
}

func (rt *Router) answerQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	options := domain.DefaultQueryOptions()
	if req.UseGlossaryExpansion != nil {
		options.UseGlossaryExpansion = *req.UseGlossaryExpansion
	}
	if req.InjectPersonalizationMemory != nil {
		options.InjectPersonalizationMemory = *req.InjectPersonalizationMemory
	}
	if req.UseReranking != nil {
		options.UseReranking = *req.UseReranking
	}
	if req.UseHypotheticalDocument != nil {
		options.UseHypotheticalDocument = *req.UseHypotheticalDocument
	}

	start := time.Now()
	result, err := rt.answerer.AnswerQuery(r.Context(), req.Question, strings.TrimSpace(req.UserID), options)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordPipelineRun(
			rt.cfg.ServiceName,
			string(result.ValidationStatus),
			len(result.CitedSources),
			time.Since(start),
		)
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) getGlossaryTerm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	term := strings.TrimPrefix(r.URL.Path, "/v1/glossary/")
	term = strings.TrimSpace(term)
	if term == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "glossary term is required"})
		return
	}

	entry, err := rt.glossary.GetDefinition(r.Context(), term)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (rt *Router) listGlossaryTerms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	entries, err := rt.glossary.ListTerms(r.Context())
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"terms": entries})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
