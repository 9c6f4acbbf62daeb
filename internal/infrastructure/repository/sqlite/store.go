// Package sqlite implements the archive store on an embedded SQLite file.
// Vector recall is an exact scan, which suits single-user archives.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

var _ ports.ArchiveStore = (*Store)(nil)

type Store struct {
	db  *sqlx.DB
	dim int
	now func() time.Time
}

// Open creates the database file if needed and applies the schema.
func Open(ctx context.Context, path string, dim int) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", domain.ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	// Transactions take the write lock at BEGIN so busy_timeout covers them;
	// a deferred read-then-write transaction would fail with SQLITE_BUSY instead.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, dim: dim, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		file_type TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		summary TEXT NOT NULL DEFAULT '',
		full_text TEXT,
		semantic_date TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		model_override TEXT NOT NULL DEFAULT '',
		embedding BLOB,
		is_vectorized INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		processed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (is_vectorized = (embedding IS NOT NULL))
	)`,
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		parent_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL CHECK (length(content) >= %d),
		embedding BLOB NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		UNIQUE (parent_id, chunk_index)
	)`, domain.MinChunkLength),
	`CREATE INDEX IF NOT EXISTS idx_documents_owner_status ON documents(owner_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_document_chunks_parent ON document_chunks(parent_id)`,
	`CREATE TABLE IF NOT EXISTS index_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	// The first open pins the dimension; later opens must agree with it.
	want := fmt.Sprint(s.dim)
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO index_settings (key, value) VALUES ('embedding_dim', ?)`, want); err != nil {
		return fmt.Errorf("record embedding dimension: %w", err)
	}
	var got string
	if err := tx.GetContext(ctx, &got, `SELECT value FROM index_settings WHERE key = 'embedding_dim'`); err != nil {
		return fmt.Errorf("read embedding dimension: %w", err)
	}
	if got != want {
		return fmt.Errorf("%w: index has %s dimensions, configured %s", domain.ErrDimensionMismatch, got, want)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
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
