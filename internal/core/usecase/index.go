package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

const (
	DefaultCoarseEmbedChars = 2000
	defaultEmbedConcurrency = 4
)

type IndexerOptions struct {
	// CoarseChars is how much of the embeddable text feeds the document embedding.
	CoarseChars int
	// Concurrency bounds the number of chunk embedding calls in flight.
	Concurrency int
}

// IndexerStage builds the parent embedding and the child chunk embeddings of a document.
type IndexerStage struct {
	docs        ports.DocumentRepository
	chunks      ports.ChunkRepository
	embedder    ports.Embedder
	chunker     ports.Chunker
	publisher   ports.EventPublisher
	coarseChars int
	concurrency int
	logger      *slog.Logger
}

func NewIndexerStage(
	docs ports.DocumentRepository,
	chunks ports.ChunkRepository,
	embedder ports.Embedder,
	chunker ports.Chunker,
	publisher ports.EventPublisher,
	opts IndexerOptions,
	logger *slog.Logger,
) *IndexerStage {
	if opts.CoarseChars <= 0 {
		opts.CoarseChars = DefaultCoarseEmbedChars
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultEmbedConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexerStage{
		docs:        docs,
		chunks:      chunks,
		embedder:    embedder,
		chunker:     chunker,
		publisher:   publisher,
		coarseChars: opts.CoarseChars,
		concurrency: opts.Concurrency,
		logger:      logger.With("stage", "indexer"),
	}
}

// HandleArchiveCompleted is the bus handler for archive.completed.
func (s *IndexerStage) HandleArchiveCompleted(ctx context.Context, evt domain.Event) error {
	payload, err := evt.ArchiveCompleted()
	if err != nil {
		return err
	}
	_, err = s.ReindexDocument(ctx, payload.DocumentID)
	return err
}

// ReindexDocument rebuilds both embedding passes from the stored document.
func (s *IndexerStage) ReindexDocument(ctx context.Context, id int64) (bool, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("fetch document: %w", err)
	}
	return s.EmbedDocument(ctx, id, doc.Text(), domain.MetaOf(doc))
}

// EmbedDocument stores the coarse embedding and replaces the chunk set.
// It reports whether the coarse embedding was stored.
func (s *IndexerStage) EmbedDocument(ctx context.Context, id int64, text string, meta domain.DocumentMeta) (bool, error) {
	embeddable := EmbeddableText(meta, text)

	vectorized := true
	coarse, err := s.embedder.Embed(ctx, truncateRunes(embeddable, s.coarseChars))
	if err == nil {
		err = s.docs.SetEmbedding(ctx, id, coarse)
	}
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) || domain.IsKind(err, domain.ErrDimensionMismatch) {
			return false, fmt.Errorf("store document embedding: %w", err)
		}
		vectorized = false
		s.logger.Error("document embedding failed", "document_id", id, "error", err)
	}

	stored, err := s.indexChunks(ctx, id, embeddable, meta)
	if err != nil {
		return vectorized, err
	}

	evt := domain.NewVectorizationCompleted(domain.VectorizationCompleted{DocumentID: id, Chunks: stored})
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish vectorization.completed failed", "document_id", id, "error", err)
	}
	s.logger.Info("document indexed", "document_id", id, "vectorized", vectorized, "chunks", stored)
	return vectorized, nil
}

func (s *IndexerStage) indexChunks(ctx context.Context, id int64, embeddable string, meta domain.DocumentMeta) (int, error) {
	parts := s.chunker.Split(embeddable)
	sourceLength := utf8.RuneCountInString(embeddable)

	results := make([]*domain.Chunk, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, part := range parts {
		if utf8.RuneCountInString(strings.TrimSpace(part)) < domain.MinChunkLength {
			continue
		}
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, part)
			if err != nil {
				if domain.IsKind(err, domain.ErrDimensionMismatch) {
					return err
				}
				s.logger.Warn("chunk embedding failed, skipping", "document_id", id, "chunk_index", i, "error", err)
				return nil
			}
			results[i] = &domain.Chunk{
				ParentID:   id,
				ChunkIndex: i,
				Content:    part,
				Embedding:  vec,
				Meta:       domain.ChunkMeta{SourceLength: sourceLength, IsImageDesc: meta.IsImage},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	chunks := make([]domain.Chunk, 0, len(results))
	for _, c := range results {
		if c != nil {
			chunks = append(chunks, *c)
		}
	}
	if len(chunks) == 0 && len(parts) > 0 {
		s.logger.Warn("no chunk could be embedded", "document_id", id, "parts", len(parts))
	}
	if err := s.chunks.ReplaceChunks(ctx, id, chunks); err != nil {
		return 0, fmt.Errorf("replace chunks: %w", err)
	}
	return len(chunks), nil
}

// DeleteDocumentVector clears the coarse embedding and every chunk. It reports whether anything was removed.
func (s *IndexerStage) DeleteDocumentVector(ctx context.Context, id int64) (bool, error) {
	cleared, err := s.docs.ClearEmbedding(ctx, id)
	if err != nil {
		return false, fmt.Errorf("clear document embedding: %w", err)
	}
	removed, err := s.chunks.DeleteChunks(ctx, id)
	if err != nil {
		return cleared, fmt.Errorf("delete chunks: %w", err)
	}
	return cleared || removed > 0, nil
}

// EmbeddableText prefixes the body with a metadata header. The body falls back to the summary, then the filename.
func EmbeddableText(meta domain.DocumentMeta, body string) string {
	category := meta.Category
	if category == "" {
		category = "Uncategorized"
	}
	summary := meta.Summary
	if summary == "" {
		summary = "N/A"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", meta.Filename)
	fmt.Fprintf(&b, "Type: %s\n", meta.FileType)
	fmt.Fprintf(&b, "Category: %s\n", category)
	fmt.Fprintf(&b, "Tags: %s\n", strings.Join(meta.Tags, ", "))
	fmt.Fprintf(&b, "Summary: %s\n", summary)
	b.WriteString("---\n")

	switch {
	case strings.TrimSpace(body) != "":
		b.WriteString(body)
	case meta.Summary != "":
		b.WriteString(meta.Summary)
	default:
		b.WriteString(meta.Filename)
	}
	return b.String()
}
