package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

var _ ports.ArchiveStore = (*Store)(nil)

// Store keeps documents and their chunks in PostgreSQL with pgvector columns.
type Store struct {
	db  *sql.DB
	dim int
	now func() time.Time
}

func NewStore(db *sql.DB, dim int) *Store {
	return &Store{db: db, dim: dim, now: func() time.Time { return time.Now().UTC() }}
}

func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaLockID int64 = 2026101901

func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	query := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	owner_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	file_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	summary TEXT NOT NULL DEFAULT '',
	full_text TEXT,
	semantic_date TIMESTAMPTZ,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	model_override TEXT NOT NULL DEFAULT '',
	embedding vector(%[1]d),
	is_vectorized BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	processed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT documents_vectorized_chk CHECK (is_vectorized = (embedding IS NOT NULL))
);

CREATE TABLE IF NOT EXISTS document_chunks (
	id BIGSERIAL PRIMARY KEY,
	parent_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL CHECK (char_length(content) >= %[2]d),
	embedding vector(%[1]d) NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (parent_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_documents_owner_status ON documents(owner_id, status);
CREATE INDEX IF NOT EXISTS idx_document_chunks_parent ON document_chunks(parent_id);
CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding ON document_chunks USING hnsw (embedding vector_l2_ops);
CREATE INDEX IF NOT EXISTS idx_documents_embedding ON documents USING hnsw (embedding vector_l2_ops);
`, s.dim, domain.MinChunkLength)
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	var existing int
	err = tx.QueryRowContext(ctx, `
SELECT atttypmod FROM pg_attribute
WHERE attrelid = 'document_chunks'::regclass AND attname = 'embedding'
`).Scan(&existing)
	if err != nil {
		return fmt.Errorf("read embedding dimension: %w", err)
	}
	if existing != s.dim {
		return fmt.Errorf("%w: index has %d dimensions, configured %d", domain.ErrDimensionMismatch, existing, s.dim)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *Store) checkDim(vector []float32) error {
	if len(vector) != s.dim {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(vector), s.dim)
	}
	return nil
}

func notFound(id int64) error {
	return fmt.Errorf("%w: %d", domain.ErrDocumentNotFound, id)
}
