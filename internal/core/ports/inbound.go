package ports

import (
	"context"
	"io"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

type UploadRequest struct {
	OwnerID  string
	Filename string
	MimeType string
	Model    string
	Body     io.Reader
}

// DocumentIngestor is the inbound contract for uploads and manual recovery.
type DocumentIngestor interface {
	Upload(ctx context.Context, req UploadRequest) (*domain.Document, error)
	Retry(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Document, error)
}

// SearchService is the inbound contract for hybrid retrieval.
type SearchService interface {
	HybridSearch(ctx context.Context, req domain.SearchRequest) ([]domain.SearchHit, error)
}

// VectorAdmin manages the embeddings of a single document.
type VectorAdmin interface {
	EmbedDocument(ctx context.Context, id int64, text string, meta domain.DocumentMeta) (bool, error)
	ReindexDocument(ctx context.Context, id int64) (bool, error)
	DeleteDocumentVector(ctx context.Context, id int64) (bool, error)
}
