package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/shopfloor-assistant/internal/core/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL, "gen-model", "embed-model", "rerank-model")
}

func TestEmbedSendsBatchAndParsesVectors(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	})

	vectors, err := NewEmbedder(client).Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 || vectors[1][1] != 0.4 {
		t.Fatalf("unexpected vectors %v", vectors)
	}
	if captured["model"] != "embed-model" {
		t.Fatalf("expected embed model, got %v", captured["model"])
	}
	input, ok := captured["input"].([]any)
	if !ok || len(input) != 2 {
		t.Fatalf("expected batch input, got %v", captured["input"])
	}
}

func TestEmbedEmptyInputShortCircuits(t *testing.T) {
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Errorf("no request expected for empty input")
	})

	vectors, err := NewEmbedder(client).Embed(context.Background(), nil)
	if err != nil || vectors != nil {
		t.Fatalf("expected nil/nil, got %v/%v", vectors, err)
	}
}

func TestGenerateFromPromptTrimsResponse(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "  the answer \n"})
	})

	answer, err := NewGenerator(client).GenerateFromPrompt(context.Background(), "prompt text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "the answer" {
		t.Fatalf("expected trimmed answer, got %q", answer)
	}
	if captured["model"] != "gen-model" {
		t.Fatalf("expected generate model, got %v", captured["model"])
	}
	if captured["stream"] != false {
		t.Fatalf("expected stream disabled")
	}
	if _, ok := captured["format"]; ok {
		t.Fatalf("plain generation must not force json format")
	}
}

func TestRerankerParsesScores(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": `Here you go: {"PS-06_01": 0.9, "PS-06_02": 0.2}`,
		})
	})

	passages := []domain.RetrievedDocument{
		{SourceID: "PS-06_01", Text: "clean the filler nozzles"},
		{SourceID: "PS-06_02", Text: "paint booth ventilation"},
	}
	scores, err := NewReranker(client).Score(context.Background(), "clean nozzles", passages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scores["PS-06_01"] != 0.9 || scores["PS-06_02"] != 0.2 {
		t.Fatalf("unexpected scores %v", scores)
	}
	if captured["model"] != "rerank-model" {
		t.Fatalf("expected rerank model, got %v", captured["model"])
	}
	if captured["format"] != "json" {
		t.Fatalf("rerank requests must force json format")
	}
	prompt, _ := captured["prompt"].(string)
	if !strings.Contains(prompt, "id=PS-06_01") {
		t.Fatalf("expected passage ids in prompt")
	}
}

func TestRerankerEmptyPassages(t *testing.T) {
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Errorf("no request expected for empty passages")
	})

	scores, err := NewReranker(client).Score(context.Background(), "q", nil)
	if err != nil || len(scores) != 0 {
		t.Fatalf("expected empty scores, got %v/%v", scores, err)
	}
}

func TestRerankerRejectsMalformedScores(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "not json at all"})
	})

	_, err := NewReranker(client).Score(context.Background(), "q", []domain.RetrievedDocument{{SourceID: "PS-06_01"}})
	if err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCallMarksRetryableStatusTemporary(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := NewGenerator(client).GenerateFromPrompt(context.Background(), "prompt")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("503 must surface as temporary, got %v", err)
	}
}

func TestCallLeavesClientErrorsPermanent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad model", http.StatusBadRequest)
	})

	_, err := NewGenerator(client).GenerateFromPrompt(context.Background(), "prompt")
	if err == nil {
		t.Fatalf("expected error")
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("400 must not be temporary, got %v", err)
	}
}

func TestExtractJSONObject(t *testing.T) {
	raw := "Sure! {\"a\": 1} trailing"
	if got := extractJSONObject(raw); got != `{"a": 1}` {
		t.Fatalf("expected embedded object, got %q", got)
	}
	if got := extractJSONObject("no braces"); got != "no braces" {
		t.Fatalf("expected pass-through, got %q", got)
	}
}
