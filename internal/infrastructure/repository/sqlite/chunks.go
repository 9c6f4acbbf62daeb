package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

type chunkRow struct {
	ID         int64  `db:"id"`
	ParentID   int64  `db:"parent_id"`
	ChunkIndex int    `db:"chunk_index"`
	Content    string `db:"content"`
	Embedding  []byte `db:"embedding"`
	Metadata   string `db:"metadata"`
}

func (s *Store) ReplaceChunks(ctx context.Context, parentID int64, chunks []domain.Chunk) error {
	for _, c := range chunks {
		if err := s.checkDim(c.Embedding); err != nil {
			return fmt.Errorf("chunk %d: %w", c.ChunkIndex, err)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM documents WHERE id = ?`, parentID); err != nil {
		return fmt.Errorf("check parent document: %w", err)
	}
	if exists == 0 {
		return notFound(parentID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE parent_id = ?`, parentID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	now := formatTime(s.now())
	for _, c := range chunks {
		meta, err := json.Marshal(c.Meta)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO document_chunks (parent_id, chunk_index, content, embedding, metadata, created_at)
VALUES (?,?,?,?,?,?)`, parentID, c.ChunkIndex, c.Content, encodeVector(c.Embedding), string(meta), now); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	return nil
}

func (s *Store) ListChunks(ctx context.Context, parentID int64) ([]domain.Chunk, error) {
	var rows []chunkRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT id, parent_id, chunk_index, content, embedding, metadata
FROM document_chunks WHERE parent_id = ? ORDER BY chunk_index`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}

	out := make([]domain.Chunk, 0, len(rows))
	for _, r := range rows {
		vec, err := decodeVector(r.Embedding)
		if err != nil {
			return nil, err
		}
		c := domain.Chunk{ID: r.ID, ParentID: r.ParentID, ChunkIndex: r.ChunkIndex, Content: r.Content, Embedding: vec}
		if err := json.Unmarshal([]byte(r.Metadata), &c.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal chunk metadata: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) DeleteChunks(ctx context.Context, parentID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE parent_id = ?`, parentID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
