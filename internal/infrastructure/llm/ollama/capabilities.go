package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

const rerankConcurrency = 4

// Analyzer extracts archive metadata with the generation model.
type Analyzer struct {
	client *Client
	now    func() time.Time
}

func NewAnalyzer(client *Client) *Analyzer {
	return &Analyzer{client: client, now: time.Now}
}

// Analyze returns the unparsed variant without error when the model answered with something that is not JSON metadata.
func (a *Analyzer) Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = a.client.genModel
	}
	raw, err := a.client.generate(ctx, "analyze", generateRequest{
		Model:  model,
		Prompt: buildAnalysisPrompt(req.Filename, req.Text, a.now()),
		Format: "json",
	})
	if err != nil {
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrAnalysis, "ollama analyze", err)
	}
	return ParseAnalysis(raw), nil
}

// Embedder produces dense vectors with the embedding model.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Model() string {
	return e.client.embedModel
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.call(ctx, "embed", "/api/embed", payload, &response); err != nil {
		return nil, domain.WrapError(domain.ErrEmbedding, "ollama embed", err)
	}
	if len(response.Embeddings) != 1 || len(response.Embeddings[0]) == 0 {
		return nil, domain.WrapError(domain.ErrEmbedding, "ollama embed", fmt.Errorf("expected 1 embedding, got %d", len(response.Embeddings)))
	}
	return response.Embeddings[0], nil
}

// Describer turns images into searchable text with the vision model.
type Describer struct {
	client *Client
}

func NewDescriber(client *Client) *Describer {
	return &Describer{client: client}
}

func (d *Describer) DescribeImage(ctx context.Context, filename string, image io.Reader) (string, error) {
	data, err := io.ReadAll(image)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", filename, err)
	}
	raw, err := d.client.generate(ctx, "vision", generateRequest{
		Model:  d.client.visionModel,
		Prompt: visionPrompt,
		Format: "json",
		Images: []string{base64.StdEncoding.EncodeToString(data)},
	})
	if err != nil {
		return "", err
	}
	return formatImageDescription(raw), nil
}

func formatImageDescription(raw string) string {
	var parsed struct {
		VisualSummary string   `json:"visual_summary"`
		OCRText       string   `json:"ocr_text"`
		SceneType     string   `json:"scene_type"`
		Tags          []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return raw
	}
	var b strings.Builder
	if s := strings.TrimSpace(parsed.OCRText); s != "" {
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	if s := strings.TrimSpace(parsed.VisualSummary); s != "" {
		b.WriteString(s)
		b.WriteString("\n")
	}
	if parsed.SceneType != "" {
		b.WriteString("Scene: " + parsed.SceneType + "\n")
	}
	if len(parsed.Tags) > 0 {
		b.WriteString("Tags: " + strings.Join(parsed.Tags, ", ") + "\n")
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return raw
	}
	return out
}

// Judge scores relevance with the generation model and reports logits.
type Judge struct {
	client *Client
	model  string
}

func NewJudge(client *Client) *Judge {
	model := client.rerankModel
	if model == "" {
		model = client.genModel
	}
	return &Judge{client: client, model: model}
}

func (j *Judge) Name() string {
	return "ollama"
}

func (j *Judge) Available(ctx context.Context) bool {
	return j.model != "" && j.client.hasModel(ctx, j.model)
}

func (j *Judge) Rerank(ctx context.Context, query string, texts []string) ([]domain.RerankScore, error) {
	scores := make([]domain.RerankScore, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rerankConcurrency)
	for i, text := range texts {
		g.Go(func() error {
			p, err := j.relevance(gctx, query, text)
			if err != nil {
				return err
			}
			scores[i] = domain.RerankScore{Index: i, Raw: logit(p)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func (j *Judge) relevance(ctx context.Context, query, text string) (float64, error) {
	raw, err := j.client.generate(ctx, "rerank", generateRequest{
		Model:   j.model,
		Prompt:  buildRelevancePrompt(query, text),
		Format:  "json",
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return 0, err
	}
	var parsed struct {
		Relevance float64 `json:"relevance"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return 0, fmt.Errorf("decode relevance judgement: %w", err)
	}
	return parsed.Relevance, nil
}

// logit maps a probability onto the raw score scale expected by sigmoid calibration.
func logit(p float64) float64 {
	const eps = 1e-4
	p = math.Min(math.Max(p, eps), 1-eps)
	return math.Log(p / (1 - p))
}
