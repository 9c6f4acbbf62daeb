package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

// ReplaceChunks swaps the chunk set of a document in one transaction. The
// parent row lock serializes concurrent re-indexing of the same document.
func (s *Store) ReplaceChunks(ctx context.Context, parentID int64, chunks []domain.Chunk) error {
	for _, c := range chunks {
		if err := s.checkDim(c.Embedding); err != nil {
			return fmt.Errorf("chunk %d: %w", c.ChunkIndex, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var locked int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE id = $1 FOR UPDATE`, parentID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(parentID)
		}
		return fmt.Errorf("lock parent document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE parent_id = $1`, parentID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	if len(chunks) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO document_chunks (parent_id, chunk_index, content, embedding, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`)
		if err != nil {
			return fmt.Errorf("prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		now := s.now()
		for _, c := range chunks {
			meta, err := json.Marshal(c.Meta)
			if err != nil {
				return fmt.Errorf("marshal chunk metadata: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, parentID, c.ChunkIndex, c.Content, pgvector.NewVector(c.Embedding), meta, now); err != nil {
				return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	return nil
}

func (s *Store) ListChunks(ctx context.Context, parentID int64) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, parent_id, chunk_index, content, embedding, metadata
FROM document_chunks
WHERE parent_id = $1
ORDER BY chunk_index
`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var (
			c    domain.Chunk
			vec  pgvector.Vector
			meta []byte
		)
		if err := rows.Scan(&c.ID, &c.ParentID, &c.ChunkIndex, &c.Content, &vec, &meta); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Embedding = vec.Slice()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteChunks(ctx context.Context, parentID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE parent_id = $1`, parentID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
