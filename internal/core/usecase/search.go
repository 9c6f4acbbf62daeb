package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

const (
	DefaultTopK = 5
	MaxTopK     = 50

	keywordBaseScore    = 0.3
	keywordRecencyBoost = 0.1
	// keywordRecencyWindow is how close to the newest recalled id a document must be to get the boost.
	keywordRecencyWindow = 5
	// VectorMinScore drops vector recall weaker than an orthogonal match before aggregation.
	// Keyword scores sit below it, so keyword_boost only occurs with a lower floor.
	VectorMinScore = 0.45

	snippetBefore = 50
	snippetAfter  = 150
	parentSnippet = 200
)

// SearchObserver receives one call per search.
type SearchObserver interface {
	ObserveSearch(hits int, degraded bool, duration time.Duration, err error)
}

type SearchOptions struct {
	DefaultTopK int
	MaxTopK     int
	// MinVectorScore is the vector recall floor; 0 means VectorMinScore.
	MinVectorScore float64
	// Location is the calendar used for time expressions and semantic dates.
	Location *time.Location
}

// SearchUseCase is the hybrid retrieval engine followed by the rerank stage.
type SearchUseCase struct {
	vectors  ports.VectorIndex
	keywords ports.KeywordIndex
	embedder ports.Embedder
	reranker ports.Reranker
	observer SearchObserver
	opts     SearchOptions
	logger   *slog.Logger
	now      func() time.Time
}

// NewSearchUseCase builds the engine. reranker and observer may be nil.
func NewSearchUseCase(
	vectors ports.VectorIndex,
	keywords ports.KeywordIndex,
	embedder ports.Embedder,
	reranker ports.Reranker,
	observer SearchObserver,
	opts SearchOptions,
	logger *slog.Logger,
) *SearchUseCase {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = DefaultTopK
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = MaxTopK
	}
	if opts.MinVectorScore <= 0 {
		opts.MinVectorScore = VectorMinScore
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchUseCase{
		vectors:  vectors,
		keywords: keywords,
		embedder: embedder,
		reranker: reranker,
		observer: observer,
		opts:     opts,
		logger:   logger.With("component", "search"),
		now:      time.Now,
	}
}

func (uc *SearchUseCase) HybridSearch(ctx context.Context, req domain.SearchRequest) ([]domain.SearchHit, error) {
	start := time.Now()
	hits, degraded, err := uc.search(ctx, req)
	if uc.observer != nil {
		uc.observer.ObserveSearch(len(hits), degraded, time.Since(start), err)
	}
	return hits, err
}

// recall is everything the three recall paths returned for one query.
type recall struct {
	chunks    []domain.ChunkMatch
	documents []domain.DocumentMatch
	keyword   []domain.Document
}

func (uc *SearchUseCase) search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchHit, bool, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, false, domain.WrapError(domain.ErrInvalidInput, "hybrid search", errors.New("query is required"))
	}
	if req.FileType != "" && !req.FileType.Valid() {
		return nil, false, domain.WrapError(domain.ErrInvalidInput, "hybrid search", fmt.Errorf("unknown file type %q", req.FileType))
	}
	topK := uc.topK(req.TopK)

	keywords := normalizeKeywords(req.Keywords)
	if len(keywords) == 0 {
		keywords = ExtractKeywords(query)
	}
	enhanced := query
	if len(keywords) > 0 {
		enhanced = query + " " + strings.Join(keywords, " ")
	}

	vector, err := uc.embedder.Embed(ctx, enhanced)
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrQueryEmbedding, "hybrid search", err)
	}

	recallK := recallWidth(topK)
	filter := domain.SearchFilter{OwnerID: strings.TrimSpace(req.Scope.OwnerID), FileType: req.FileType}
	rec, err := uc.recall(ctx, vector, keywords, recallK, filter)
	if err != nil {
		return nil, false, err
	}

	pass := uc.timeFilter(req.TimeRange)
	candidates := aggregate(rec, keywords, recallK, uc.opts.MinVectorScore, pass)
	if len(candidates) == 0 {
		return []domain.SearchHit{}, false, nil
	}

	hits, degraded := uc.rerank(ctx, query, keywords, candidates)
	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	uc.logger.Debug("hybrid search done",
		"keywords", keywords,
		"candidates", len(candidates),
		"hits", len(hits),
		"degraded", degraded,
	)
	return hits, degraded, nil
}

func (uc *SearchUseCase) topK(requested int) int {
	if requested <= 0 {
		return uc.opts.DefaultTopK
	}
	return min(requested, uc.opts.MaxTopK)
}

// recallWidth leaves headroom for filtering and reranking.
func recallWidth(topK int) int {
	if topK < 10 {
		return topK * 3
	}
	return topK * 2
}

func (uc *SearchUseCase) recall(ctx context.Context, vector []float32, keywords []string, recallK int, filter domain.SearchFilter) (recall, error) {
	var rec recall
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rec.chunks, err = uc.vectors.NearestChunks(gctx, vector, recallK*3, filter)
		if err != nil {
			return fmt.Errorf("chunk recall: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		rec.documents, err = uc.vectors.NearestDocuments(gctx, vector, recallK, filter)
		if err != nil {
			return fmt.Errorf("document recall: %w", err)
		}
		return nil
	})
	if len(keywords) > 0 {
		g.Go(func() error {
			var err error
			rec.keyword, err = uc.keywords.MatchKeywords(gctx, keywords, recallK, filter)
			if err != nil {
				return fmt.Errorf("keyword recall: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return recall{}, err
	}
	return rec, nil
}

// timeFilter returns the predicate a document must pass; undated documents always pass.
func (uc *SearchUseCase) timeFilter(expr string) func(*domain.Document) bool {
	if strings.TrimSpace(expr) == "" {
		return func(*domain.Document) bool { return true }
	}
	loc := uc.opts.Location
	window, ok := ParseTimeRange(expr, uc.now(), loc)
	if !ok {
		uc.logger.Warn("unparseable time range ignored", "time_range", expr)
		return func(*domain.Document) bool { return true }
	}
	return func(doc *domain.Document) bool {
		at, dated := referenceTime(doc, loc)
		return !dated || window.Contains(at)
	}
}

// aggregate merges the recall paths into one candidate per document.
func aggregate(rec recall, keywords []string, recallK int, minVector float64, pass func(*domain.Document) bool) []domain.SearchHit {
	byID := make(map[int64]*domain.SearchHit)

	for _, m := range rec.chunks {
		if m.Document.ID == 0 || !pass(&m.Document) {
			continue
		}
		score := similarity(m.Distance)
		if current, ok := byID[m.Document.ID]; ok && current.Score >= score {
			continue
		}
		hit := hitFromDocument(&m.Document, score, domain.ProvenanceVectorChild, m.Content)
		byID[m.Document.ID] = &hit
	}
	for _, m := range rec.documents {
		if m.Document.ID == 0 || !pass(&m.Document) {
			continue
		}
		score := similarity(m.Distance)
		if current, ok := byID[m.Document.ID]; ok {
			if score > current.Score {
				current.Score = score
				current.Provenance = domain.ProvenanceVectorParent
			}
			continue
		}
		hit := hitFromDocument(&m.Document, score, domain.ProvenanceVectorParent, parentSnippetOf(&m.Document))
		byID[m.Document.ID] = &hit
	}

	vectorHits := make([]domain.SearchHit, 0, len(byID))
	for _, hit := range byID {
		if hit.Score >= minVector {
			vectorHits = append(vectorHits, *hit)
		}
	}
	sortHits(vectorHits)
	if len(vectorHits) > recallK {
		vectorHits = vectorHits[:recallK]
	}

	keywordDocs := make([]domain.Document, 0, len(rec.keyword))
	for _, doc := range rec.keyword {
		if doc.ID != 0 && pass(&doc) {
			keywordDocs = append(keywordDocs, doc)
		}
	}

	var maxID int64
	for _, hit := range vectorHits {
		maxID = max(maxID, hit.DocumentID)
	}
	for _, doc := range keywordDocs {
		maxID = max(maxID, doc.ID)
	}

	candidates := vectorHits
	index := make(map[int64]int, len(candidates))
	for i, hit := range candidates {
		index[hit.DocumentID] = i
	}
	for i := range keywordDocs {
		doc := &keywordDocs[i]
		score := keywordBaseScore
		if maxID > 0 && doc.ID >= maxID-keywordRecencyWindow {
			score += keywordRecencyBoost
		}
		if at, ok := index[doc.ID]; ok {
			if score > candidates[at].Score {
				candidates[at].Score = score
				candidates[at].Provenance = domain.ProvenanceKeywordBoost
			}
			continue
		}
		index[doc.ID] = len(candidates)
		candidates = append(candidates, hitFromDocument(doc, score, domain.ProvenanceKeyword, keywordSnippet(doc, keywords)))
	}
	return candidates
}

// similarity converts an L2 distance into a score in (0, 1].
func similarity(distance float64) float64 {
	return 1 / (1 + distance)
}

func hitFromDocument(doc *domain.Document, score float64, provenance domain.Provenance, snippet string) domain.SearchHit {
	return domain.SearchHit{
		DocumentID:   doc.ID,
		Score:        score,
		Provenance:   provenance,
		Snippet:      snippet,
		Filename:     doc.Filename,
		Category:     doc.Category,
		Summary:      doc.Summary,
		FileType:     doc.FileType,
		StoragePath:  doc.StoragePath,
		SemanticDate: doc.SemanticDate,
		CreatedAt:    doc.CreatedAt,
	}
}

func parentSnippetOf(doc *domain.Document) string {
	if doc.Summary != "" {
		return doc.Summary
	}
	return truncateRunes(doc.Text(), parentSnippet)
}

// keywordSnippet is a window around the first keyword found in the full text, else the summary.
func keywordSnippet(doc *domain.Document, keywords []string) string {
	text := []rune(doc.Text())
	if len(text) == 0 {
		return doc.Summary
	}
	lower := []rune(strings.ToLower(string(text)))
	if len(lower) != len(text) {
		lower = text
	}
	for _, kw := range keywords {
		needle := []rune(strings.ToLower(kw))
		idx := indexRunes(lower, needle)
		if idx < 0 {
			continue
		}
		from := max(0, idx-snippetBefore)
		to := min(len(text), idx+snippetAfter)
		return strings.TrimSpace(strings.ReplaceAll(string(text[from:to]), "\n", " "))
	}
	return doc.Summary
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if slices.Equal(haystack[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

func (uc *SearchUseCase) rerank(ctx context.Context, query string, keywords []string, candidates []domain.SearchHit) ([]domain.SearchHit, bool) {
	if uc.reranker == nil {
		return degradedHits(candidates), true
	}
	texts := make([]string, len(candidates))
	for i, hit := range candidates {
		texts[i] = rerankText(hit)
	}
	scores, err := uc.reranker.Rerank(ctx, query, texts)
	if err != nil {
		if ctx.Err() == nil {
			uc.logger.Warn("rerank unavailable, returning aggregation order", "error", err)
		}
		return degradedHits(candidates), true
	}
	return applyRerank(candidates, scores, keywords), false
}
