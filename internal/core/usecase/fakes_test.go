package usecase

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/infrastructure/repository/sqlite"
	"github.com/42012606/Memex-Neural/internal/infrastructure/storage/localfs"
)

const testDim = 256

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// bagEmbedder hashes tokens into a normalized bag-of-words vector.
type bagEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  func(text string) error
}

func (e *bagEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail != nil {
		if err := e.fail(text); err != nil {
			return nil, err
		}
	}
	vec := make([]float32, testDim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%testDim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// overlapReranker scores by the share of query tokens present in the text: raw = 6*overlap - 1.
type overlapReranker struct {
	err   error
	calls int
}

func (r *overlapReranker) Rerank(_ context.Context, query string, texts []string) ([]domain.RerankScore, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	queryTokens := tokenize(query)
	out := make([]domain.RerankScore, len(texts))
	for i, text := range texts {
		have := make(map[string]struct{})
		for _, tok := range tokenize(text) {
			have[tok] = struct{}{}
		}
		hits := 0
		for _, tok := range queryTokens {
			if _, ok := have[tok]; ok {
				hits++
			}
		}
		overlap := 0.0
		if len(queryTokens) > 0 {
			overlap = float64(hits) / float64(len(queryTokens))
		}
		out[i] = domain.RerankScore{Index: i, Raw: 6*overlap - 1}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) kinds() []domain.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

func (p *recordingPublisher) has(kind domain.EventKind) bool {
	for _, k := range p.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

type textExtractorFake struct {
	text string
	err  error
}

func (f *textExtractorFake) Extract(context.Context, *domain.Document) (string, error) {
	return f.text, f.err
}

type analyzerFake struct {
	result domain.AnalysisResult
	err    error
	last   domain.AnalysisRequest
}

func (f *analyzerFake) Analyze(_ context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	f.last = req
	return f.result, f.err
}

// echoAnalyzer files everything as Personal and keeps the text's first line as the summary.
type echoAnalyzer struct{}

func (echoAnalyzer) Analyze(_ context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	summary, _, _ := strings.Cut(req.Text, "\n")
	return domain.AnalysisResult{
		Shape:    domain.AnalysisNested,
		Category: "Personal",
		Summary:  summary,
	}, nil
}

// scriptedReranker returns fixed raw logits by candidate position.
type scriptedReranker struct {
	raw   []float64
	texts []string
}

func (r *scriptedReranker) Rerank(_ context.Context, _ string, texts []string) ([]domain.RerankScore, error) {
	r.texts = texts
	out := make([]domain.RerankScore, 0, len(texts))
	for i := range texts {
		if i < len(r.raw) {
			out = append(out, domain.RerankScore{Index: i, Raw: r.raw[i]})
		}
	}
	return out, nil
}

// staticIndex serves canned recall results and records the filters it saw.
type staticIndex struct {
	chunks    []domain.ChunkMatch
	documents []domain.DocumentMatch
	keyword   []domain.Document
	err       error
	filters   []domain.SearchFilter
	keywords  []string
	mu        sync.Mutex
}

func (x *staticIndex) record(f domain.SearchFilter) {
	x.mu.Lock()
	x.filters = append(x.filters, f)
	x.mu.Unlock()
}

func (x *staticIndex) NearestChunks(_ context.Context, _ []float32, _ int, f domain.SearchFilter) ([]domain.ChunkMatch, error) {
	x.record(f)
	return x.chunks, x.err
}

func (x *staticIndex) NearestDocuments(_ context.Context, _ []float32, _ int, f domain.SearchFilter) ([]domain.DocumentMatch, error) {
	x.record(f)
	return x.documents, nil
}

func (x *staticIndex) MatchKeywords(_ context.Context, keywords []string, _ int, f domain.SearchFilter) ([]domain.Document, error) {
	x.record(f)
	x.mu.Lock()
	x.keywords = keywords
	x.mu.Unlock()
	return x.keyword, nil
}

type observedSearch struct {
	hits     int
	degraded bool
	err      error
}

type searchRecorder struct {
	calls []observedSearch
}

func (r *searchRecorder) ObserveSearch(hits int, degraded bool, _ time.Duration, err error) {
	r.calls = append(r.calls, observedSearch{hits: hits, degraded: degraded, err: err})
}

func completedDoc(id int64, filename, text string) domain.Document {
	return domain.Document{
		ID:        id,
		OwnerID:   "alice",
		Filename:  filename,
		FileType:  domain.FileTypeOf(filename),
		Status:    domain.StatusCompleted,
		FullText:  &text,
		CreatedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Hour),
	}
}

var errBoom = errors.New("boom")

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "memex.db"), testDim)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func openFiles(t *testing.T) *localfs.Storage {
	t.Helper()
	files, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	return files
}
