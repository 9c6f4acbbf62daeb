package ports

import (
	"context"
	"io"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id int64) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id int64, status domain.DocumentStatus, errMessage string) error
	SaveArchive(ctx context.Context, id int64, upd domain.ArchiveUpdate) error
	MarkFailed(ctx context.Context, id int64, storagePath, errMessage string) error
	SetEmbedding(ctx context.Context, id int64, vector []float32) error
	ClearEmbedding(ctx context.Context, id int64) (bool, error)
	ListByStatus(ctx context.Context, status domain.DocumentStatus, limit int) ([]domain.Document, error)
	Delete(ctx context.Context, id int64) error
}

// ChunkRepository stores the child chunks of a document.
type ChunkRepository interface {
	// ReplaceChunks removes every chunk of the parent and inserts the given set in one transaction.
	ReplaceChunks(ctx context.Context, parentID int64, chunks []domain.Chunk) error
	ListChunks(ctx context.Context, parentID int64) ([]domain.Chunk, error)
	DeleteChunks(ctx context.Context, parentID int64) (int, error)
}

// VectorIndex recalls chunks and documents by L2 distance.
type VectorIndex interface {
	NearestChunks(ctx context.Context, vector []float32, limit int, filter domain.SearchFilter) ([]domain.ChunkMatch, error)
	NearestDocuments(ctx context.Context, vector []float32, limit int, filter domain.SearchFilter) ([]domain.DocumentMatch, error)
}

// KeywordIndex recalls completed documents by lexical OR-match, newest first.
type KeywordIndex interface {
	MatchKeywords(ctx context.Context, keywords []string, limit int, filter domain.SearchFilter) ([]domain.Document, error)
}

// ArchiveStore is a single backend serving every persistence port.
type ArchiveStore interface {
	DocumentRepository
	ChunkRepository
	VectorIndex
	KeywordIndex
}

// FileStore places archived files. Keys are slash-separated paths relative to the store root.
type FileStore interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	MkdirAll(ctx context.Context, dir string) error
	// Place moves from into dir under name, or under the first free stem_N
	// variant, and returns the name used. It never replaces an existing file.
	Place(ctx context.Context, from, dir, name string) (string, error)
	Remove(ctx context.Context, key string) error
	Size(ctx context.Context, key string) (int64, error)
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// ImageDescriber returns the text visible in an image.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, filename string, image io.Reader) (string, error)
}

// Transcriber converts speech audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// Analyzer classifies a document and suggests its archive name.
type Analyzer interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error)
}

// Embedder builds fixed-dimension vectors for documents, chunks and queries.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits text into overlapping windows.
type Chunker interface {
	Split(text string) []string
}

// Reranker scores query/candidate pairs with raw relevance logits.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]domain.RerankScore, error)
}

// RerankBackend is one selectable reranker runtime.
type RerankBackend interface {
	Reranker
	Name() string
	Available(ctx context.Context) bool
}

// EventPublisher hands events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}
