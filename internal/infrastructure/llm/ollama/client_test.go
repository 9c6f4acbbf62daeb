package ollama

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/infrastructure/resilience"
)

func newTestClient(url string) *Client {
	return New(Options{
		BaseURL:     url,
		GenModel:    "gen",
		EmbedModel:  "embed",
		VisionModel: "vision",
		Executor:    resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 1}, nil),
	})
}

func TestAnalyzerUsesModelOverride(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"{\"suggested_filename\":\"20240301_invoice.pdf\",\"semantic\":{\"category\":\"Finance\",\"tags\":[\"invoice\"],\"summary\":\"March invoice\"},\"structured\":{\"date\":\"2024-03-01\",\"money\":120.5}}"}`))
	}))
	defer server.Close()

	analyzer := NewAnalyzer(newTestClient(server.URL))
	analyzer.now = func() time.Time { return time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC) }

	result, err := analyzer.Analyze(context.Background(), domain.AnalysisRequest{Filename: "scan.pdf", Text: "invoice body", Model: "custom"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if captured["model"] != "custom" {
		t.Fatalf("expected override model, got %v", captured["model"])
	}
	prompt, _ := captured["prompt"].(string)
	if !strings.Contains(prompt, "invoice body") || !strings.Contains(prompt, "2024-03-02") {
		t.Fatalf("unexpected prompt: %s", prompt)
	}
	if result.Shape != domain.AnalysisNested || result.Category != "Finance" || result.Money != "120.5" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Date == nil || result.Date.Format("2006-01-02") != "2024-03-01" {
		t.Fatalf("unexpected date: %v", result.Date)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(newTestClient(server.URL))
	_, err := embedder.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrEmbedding) || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected embedding+temporary kinds, got %v", err)
	}
}

func TestEmbedReturnsSingleVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer server.Close()

	vec, err := NewEmbedder(newTestClient(server.URL)).Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(vec))
	}
}

func TestDescriberSendsImageAndFormatsOCR(t *testing.T) {
	var images []any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		images, _ = payload["images"].([]any)
		_, _ = w.Write([]byte(`{"response":"{\"visual_summary\":\"a receipt on a desk\",\"ocr_text\":\"TOTAL 42\",\"scene_type\":\"invoice\",\"tags\":[\"receipt\"]}"}`))
	}))
	defer server.Close()

	desc, err := NewDescriber(newTestClient(server.URL)).DescribeImage(context.Background(), "r.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("DescribeImage() error = %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("expected one image, got %d", len(images))
	}
	if !strings.HasPrefix(desc, "TOTAL 42") || !strings.Contains(desc, "a receipt on a desk") {
		t.Fatalf("unexpected description: %q", desc)
	}
}

func TestJudgeAvailabilityAndLogits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"gen:latest"}]}`))
		case "/api/generate":
			var payload map[string]any
			_ = json.NewDecoder(r.Body).Decode(&payload)
			prompt, _ := payload["prompt"].(string)
			if strings.Contains(prompt, "relevant passage") {
				_, _ = w.Write([]byte(`{"response":"{\"relevance\":0.9}"}`))
				return
			}
			_, _ = w.Write([]byte(`{"response":"{\"relevance\":0.1}"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	judge := NewJudge(newTestClient(server.URL))
	if !judge.Available(context.Background()) {
		t.Fatalf("expected judge to be available")
	}
	scores, err := judge.Rerank(context.Background(), "q", []string{"relevant passage", "noise"})
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(scores) != 2 || scores[0].Index != 0 || scores[1].Index != 1 {
		t.Fatalf("unexpected scores: %+v", scores)
	}
	if math.Abs(scores[0].Raw-math.Log(9)) > 1e-9 || scores[1].Raw >= 0 {
		t.Fatalf("unexpected logits: %+v", scores)
	}
}

func TestJudgeUnavailableWithoutModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"other"}]}`))
	}))
	defer server.Close()

	if NewJudge(newTestClient(server.URL)).Available(context.Background()) {
		t.Fatalf("expected judge to be unavailable")
	}
}
