package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/infrastructure/resilience"
)

const maxTextRunes = 2000

// TEI talks to a text-embeddings-inference compatible cross-encoder.
type TEI struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
}

func NewTEI(baseURL string, timeout time.Duration, executor *resilience.Executor, logger *slog.Logger) *TEI {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig(), logger)
	}
	return &TEI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
		logger:     logger,
	}
}

func (t *TEI) Name() string {
	return "tei"
}

func (t *TEI) Available(ctx context.Context) bool {
	if t.baseURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Debug("tei health probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

type teiRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type teiScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (t *TEI) Rerank(ctx context.Context, query string, texts []string) ([]domain.RerankScore, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload := teiRequest{Query: query, Texts: make([]string, len(texts)), RawScores: true, Truncate: true}
	for i, text := range texts {
		payload.Texts[i] = truncateRunes(text, maxTextRunes)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	var scores []teiScore
	err = t.executor.Execute(ctx, "tei.rerank", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/rerank", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
		}
		return json.NewDecoder(resp.Body).Decode(&scores)
	}, classify)
	if err != nil {
		return nil, fmt.Errorf("tei rerank: %w", err)
	}

	out := make([]domain.RerankScore, 0, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(texts) {
			return nil, fmt.Errorf("tei rerank: index %d out of range", s.Index)
		}
		out = append(out, domain.RerankScore{Index: s.Index, Raw: s.Score})
	}
	return out, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("status %d", e.code)
	}
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func classify(err error) resilience.ErrorClassification {
	if err == nil || errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{}
	}
	var se *statusError
	if errors.As(err, &se) {
		if se.code == http.StatusTooManyRequests || se.code >= 500 {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
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
