package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

func (s *Store) Create(ctx context.Context, doc *domain.Document) error {
	tags, err := encodeJSON(doc.Tags, "[]")
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	meta, err := encodeJSON(doc.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	now := s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
INSERT INTO documents (
	owner_id, filename, original_filename, mime_type, file_type, storage_path,
	category, tags, summary, metadata, model_override, status, error_message, created_at, updated_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		doc.OwnerID, doc.Filename, doc.OriginalFilename, doc.MimeType, string(doc.FileType), doc.StoragePath,
		doc.Category, tags, doc.Summary, meta, doc.ModelOverride, string(doc.Status), doc.Error,
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if doc.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("read document id: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `SELECT `+documentColumns+` FROM documents d WHERE d.id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	doc, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) ListByStatus(ctx context.Context, status domain.DocumentStatus, limit int) ([]domain.Document, error) {
	var rows []documentRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT `+documentColumns+` FROM documents d WHERE d.status = ? ORDER BY d.id LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := make([]domain.Document, 0, len(rows))
	for _, r := range rows {
		doc, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, status domain.DocumentStatus, errMessage string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE documents SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), errMessage, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return expectRow(res, id)
}

func (s *Store) SaveArchive(ctx context.Context, id int64, upd domain.ArchiveUpdate) error {
	tags, err := encodeJSON(upd.Tags, "[]")
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	meta, err := encodeJSON(upd.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var fullText any
	if upd.FullText != nil {
		fullText = *upd.FullText
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET filename = ?, storage_path = ?, category = ?, tags = ?, summary = ?, full_text = ?,
	semantic_date = ?, metadata = ?, processed_at = ?, status = ?, error_message = '', updated_at = ?
WHERE id = ?`,
		upd.Filename, upd.StoragePath, upd.Category, tags, upd.Summary, fullText,
		formatNullTime(upd.SemanticDate), meta, formatTime(upd.ProcessedAt), string(domain.StatusCompleted),
		formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("save archive result: %w", err)
	}
	return expectRow(res, id)
}

func (s *Store) MarkFailed(ctx context.Context, id int64, storagePath, errMessage string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE documents SET status = ?, storage_path = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(domain.StatusFailed), storagePath, errMessage, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}
	return expectRow(res, id)
}

func (s *Store) SetEmbedding(ctx context.Context, id int64, vector []float32) error {
	if err := s.checkDim(vector); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE documents SET embedding = ?, is_vectorized = 1, updated_at = ? WHERE id = ?`,
		encodeVector(vector), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("store document embedding: %w", err)
	}
	return expectRow(res, id)
}

func (s *Store) ClearEmbedding(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var had bool
	if err := tx.GetContext(ctx, &had, `SELECT is_vectorized FROM documents WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, notFound(id)
		}
		return false, fmt.Errorf("read vectorized flag: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE documents SET embedding = NULL, is_vectorized = 0, updated_at = ? WHERE id = ?`,
		formatTime(s.now()), id); err != nil {
		return false, fmt.Errorf("clear document embedding: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return had, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return expectRow(res, id)
}

func expectRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}
