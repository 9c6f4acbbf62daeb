package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/infrastructure/resilience"
)

type Config struct {
	APIKey          string
	BaseURL         string
	EmbedModel      string
	Dimensions      int
	TranscribeModel string
	Executor        *resilience.Executor
	Logger          *slog.Logger
}

type client struct {
	api      *openai.Client
	executor *resilience.Executor
	logger   *slog.Logger
}

func newClient(cfg Config) client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	executor := cfg.Executor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig(), logger)
	}
	return client{api: openai.NewClientWithConfig(clientCfg), executor: executor, logger: logger}
}

// Embedder is an embedding provider using an OpenAI-compatible API.
type Embedder struct {
	client
	model      openai.EmbeddingModel
	dimensions int
}

func NewEmbedder(cfg Config) *Embedder {
	return &Embedder{
		client:     newClient(cfg),
		model:      openai.EmbeddingModel(cfg.EmbedModel),
		dimensions: cfg.Dimensions,
	}
}

func (e *Embedder) Model() string {
	return string(e.model)
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	var resp openai.EmbeddingResponse
	err := e.executor.Execute(ctx, "openai.embed", func(ctx context.Context) error {
		var err error
		resp, err = e.api.CreateEmbeddings(ctx, req)
		return err
	}, classifyAPIError)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbedding, "openai embed", describeAPIError(err))
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, domain.WrapError(domain.ErrEmbedding, "openai embed", errors.New("empty embedding response"))
	}
	return resp.Data[0].Embedding, nil
}

// Transcriber converts audio into text with a Whisper-compatible endpoint.
type Transcriber struct {
	client
	model string
}

func NewTranscriber(cfg Config) *Transcriber {
	model := cfg.TranscribeModel
	if model == "" {
		model = openai.Whisper1
	}
	return &Transcriber{client: newClient(cfg), model: model}
}

func (t *Transcriber) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	// The request body is a stream, so a failed attempt cannot be replayed.
	var resp openai.AudioResponse
	err := t.executor.Execute(ctx, "openai.transcribe", func(ctx context.Context) error {
		var err error
		resp, err = t.api.CreateTranscription(ctx, openai.AudioRequest{
			Model:    t.model,
			FilePath: filename,
			Reader:   audio,
			Format:   openai.AudioResponseFormatJSON,
		})
		return err
	}, func(err error) resilience.ErrorClassification {
		class := classifyAPIError(err)
		class.Retryable = false
		return class
	})
	if err != nil {
		return "", fmt.Errorf("openai transcribe %s: %w", filename, describeAPIError(err))
	}
	return strings.TrimSpace(resp.Text), nil
}

func classifyAPIError(err error) resilience.ErrorClassification {
	if err == nil || errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{}
	}
	if status := statusCode(err); status != 0 {
		switch {
		case status == http.StatusTooManyRequests || status >= 500:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		default:
			return resilience.ErrorClassification{}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// describeAPIError keeps the provider's message and marks retryable failures as temporary.
func describeAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			err = fmt.Errorf("api error %d: %s: %w", reqErr.HTTPStatusCode, detail, err)
		}
	}
	if classifyAPIError(err).Retryable && !domain.IsKind(err, domain.ErrTemporary) {
		return domain.WrapError(domain.ErrTemporary, "openai", err)
	}
	return err
}

func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
