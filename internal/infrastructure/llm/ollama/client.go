package ollama

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/42012606/Memex-Neural/internal/infrastructure/resilience"
)

type Options struct {
	BaseURL     string
	GenModel    string
	EmbedModel  string
	VisionModel string
	RerankModel string
	Timeout     time.Duration
	// RequestsPerSecond limits calls across all capabilities; 0 disables the limit.
	RequestsPerSecond float64
	Executor          *resilience.Executor
	Logger            *slog.Logger
}

// Client is the shared transport of every Ollama-backed capability.
type Client struct {
	baseURL     string
	genModel    string
	embedModel  string
	visionModel string
	rerankModel string
	httpClient  *http.Client
	limiter     *rate.Limiter
	executor    *resilience.Executor
	logger      *slog.Logger
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(1, int(opts.RequestsPerSecond)))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	executor := opts.Executor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig(), logger)
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		genModel:    opts.GenModel,
		embedModel:  opts.EmbedModel,
		visionModel: opts.VisionModel,
		rerankModel: opts.RerankModel,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     limiter,
		executor:    executor,
		logger:      logger,
	}
}

// call posts payload to path under the rate limit and the resilience policy of operation.
func (c *Client) call(ctx context.Context, operation, path string, payload any, out any) error {
	err := c.executor.Execute(ctx, "ollama."+operation, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.postJSON(ctx, path, payload, out, operation)
	}, classifyOllamaError)
	return wrapTemporaryIfNeeded("ollama "+operation, err)
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Images  []string       `json:"images,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

func (c *Client) generate(ctx context.Context, operation string, req generateRequest) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	if err := c.call(ctx, operation, "/api/generate", req, &response); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

// hasModel reports whether the server has pulled model.
func (c *Client) hasModel(ctx context.Context, model string) bool {
	var tags struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/tags", &tags, "tags"); err != nil {
		c.logger.Debug("ollama tags probe failed", "error", err)
		return false
	}
	for _, m := range tags.Models {
		if m.Name == model || m.Model == model || strings.TrimSuffix(m.Name, ":latest") == model {
			return true
		}
	}
	return false
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
