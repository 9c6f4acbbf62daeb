package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

var documentFields = []string{
	"id", "owner_id", "filename", "original_filename", "mime_type", "file_type", "storage_path",
	"category", "tags", "summary", "full_text", "semantic_date", "metadata", "model_override",
	"is_vectorized", "status", "error_message", "processed_at", "created_at", "updated_at",
}

func documentColumns(alias string) string {
	cols := make([]string, len(documentFields))
	for i, f := range documentFields {
		cols[i] = alias + f
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanDocument reads documentFields followed by extra destinations.
func scanDocument(row rowScanner, extra ...any) (*domain.Document, error) {
	var (
		doc          domain.Document
		fileType     string
		status       string
		tagsRaw      []byte
		metaRaw      []byte
		fullText     sql.NullString
		semanticDate sql.NullTime
		processedAt  sql.NullTime
	)
	dest := []any{
		&doc.ID, &doc.OwnerID, &doc.Filename, &doc.OriginalFilename, &doc.MimeType, &fileType, &doc.StoragePath,
		&doc.Category, &tagsRaw, &doc.Summary, &fullText, &semanticDate, &metaRaw, &doc.ModelOverride,
		&doc.IsVectorized, &status, &doc.Error, &processedAt, &doc.CreatedAt, &doc.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	doc.FileType = domain.FileType(fileType)
	doc.Status = domain.DocumentStatus(status)
	if fullText.Valid {
		doc.FullText = &fullText.String
	}
	if semanticDate.Valid {
		t := semanticDate.Time
		doc.SemanticDate = &t
	}
	if processedAt.Valid {
		t := processedAt.Time
		doc.ProcessedAt = &t
	}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &doc.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}

func marshalJSON(v any, empty string) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return []byte(empty), nil
	}
	return raw, nil
}

func (s *Store) Create(ctx context.Context, doc *domain.Document) error {
	tagsJSON, err := marshalJSON(doc.Tags, "[]")
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	metaJSON, err := marshalJSON(doc.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	now := s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	err = s.db.QueryRowContext(ctx, `
INSERT INTO documents (
	owner_id, filename, original_filename, mime_type, file_type, storage_path,
	category, tags, summary, metadata, model_override, status, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
RETURNING id
`,
		doc.OwnerID, doc.Filename, doc.OriginalFilename, doc.MimeType, string(doc.FileType), doc.StoragePath,
		doc.Category, tagsJSON, doc.Summary, metaJSON, doc.ModelOverride, string(doc.Status), doc.Error,
		doc.CreatedAt, doc.UpdatedAt,
	).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns("")+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func (s *Store) ListByStatus(ctx context.Context, status domain.DocumentStatus, limit int) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+documentColumns("")+`
FROM documents
WHERE status = $1
ORDER BY id
LIMIT $2
`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, status domain.DocumentStatus, errMessage string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, s.now())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return expectRow(res, id)
}

func (s *Store) SaveArchive(ctx context.Context, id int64, upd domain.ArchiveUpdate) error {
	tagsJSON, err := marshalJSON(upd.Tags, "[]")
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	metaJSON, err := marshalJSON(upd.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET filename = $2, storage_path = $3, category = $4, tags = $5, summary = $6, full_text = $7,
	semantic_date = $8, metadata = $9, processed_at = $10, status = $11, error_message = '', updated_at = $12
WHERE id = $1
`, id, upd.Filename, upd.StoragePath, upd.Category, tagsJSON, upd.Summary, upd.FullText,
		upd.SemanticDate, metaJSON, upd.ProcessedAt, string(domain.StatusCompleted), s.now())
	if err != nil {
		return fmt.Errorf("save archive result: %w", err)
	}
	return expectRow(res, id)
}

func (s *Store) MarkFailed(ctx context.Context, id int64, storagePath, errMessage string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, storage_path = $3, error_message = $4, updated_at = $5
WHERE id = $1
`, id, string(domain.StatusFailed), storagePath, errMessage, s.now())
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
UPDATE documents
SET embedding = $2, is_vectorized = TRUE, updated_at = $3
WHERE id = $1
`, id, pgvector.NewVector(vector), s.now())
	if err != nil {
		return fmt.Errorf("store document embedding: %w", err)
	}
	return expectRow(res, id)
}

// ClearEmbedding reports whether the document had an embedding before the call.
func (s *Store) ClearEmbedding(ctx context.Context, id int64) (bool, error) {
	var had bool
	err := s.db.QueryRowContext(ctx, `
WITH prev AS (
	SELECT id, is_vectorized FROM documents WHERE id = $1 FOR UPDATE
)
UPDATE documents d
SET embedding = NULL, is_vectorized = FALSE, updated_at = $2
FROM prev
WHERE d.id = prev.id
RETURNING prev.is_vectorized
`, id, s.now()).Scan(&had)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, notFound(id)
		}
		return false, fmt.Errorf("clear document embedding: %w", err)
	}
	return had, nil
}

// Delete removes the document; its chunks follow through ON DELETE CASCADE.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
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
