package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

type chunkMatchRow struct {
	documentRow
	ChunkIndex     int    `db:"chunk_index"`
	Content        string `db:"content"`
	ChunkEmbedding []byte `db:"chunk_embedding"`
}

type documentMatchRow struct {
	documentRow
	DocEmbedding []byte `db:"doc_embedding"`
}

const scopeClause = `(? = '' OR d.owner_id = ?) AND (? = '' OR d.file_type = ?)`

func scopeArgs(f domain.SearchFilter) []any {
	return []any{f.OwnerID, f.OwnerID, string(f.FileType), string(f.FileType)}
}

// NearestChunks scans every chunk in scope. The join drops chunks whose parent is gone.
func (s *Store) NearestChunks(ctx context.Context, vector []float32, limit int, filter domain.SearchFilter) ([]domain.ChunkMatch, error) {
	if err := s.checkDim(vector); err != nil {
		return nil, err
	}
	var rows []chunkMatchRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT `+documentColumns+`, c.chunk_index, c.content, c.embedding AS chunk_embedding
FROM document_chunks c
JOIN documents d ON d.id = c.parent_id
WHERE `+scopeClause, scopeArgs(filter)...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}

	out := make([]domain.ChunkMatch, 0, len(rows))
	for _, r := range rows {
		vec, err := decodeVector(r.ChunkEmbedding)
		if err != nil {
			return nil, err
		}
		if len(vec) != len(vector) {
			continue
		}
		doc, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ChunkMatch{Document: doc, ChunkIndex: r.ChunkIndex, Content: r.Content, Distance: l2(vector, vec)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) NearestDocuments(ctx context.Context, vector []float32, limit int, filter domain.SearchFilter) ([]domain.DocumentMatch, error) {
	if err := s.checkDim(vector); err != nil {
		return nil, err
	}
	var rows []documentMatchRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT `+documentColumns+`, d.embedding AS doc_embedding
FROM documents d
WHERE d.embedding IS NOT NULL AND `+scopeClause, scopeArgs(filter)...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	out := make([]domain.DocumentMatch, 0, len(rows))
	for _, r := range rows {
		vec, err := decodeVector(r.DocEmbedding)
		if err != nil {
			return nil, err
		}
		if len(vec) != len(vector) {
			continue
		}
		doc, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, domain.DocumentMatch{Document: doc, Distance: l2(vector, vec)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// MatchKeywords uses LIKE, which folds case for ASCII letters only.
func (s *Store) MatchKeywords(ctx context.Context, keywords []string, limit int, filter domain.SearchFilter) ([]domain.Document, error) {
	args := append([]any{string(domain.StatusCompleted)}, scopeArgs(filter)...)
	var clauses []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		p := "%" + likeEscaper.Replace(kw) + "%"
		clauses = append(clauses, `d.filename LIKE ? ESCAPE '\' OR d.summary LIKE ? ESCAPE '\' OR d.category LIKE ? ESCAPE '\' OR COALESCE(d.full_text, '') LIKE ? ESCAPE '\'`)
		args = append(args, p, p, p, p)
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	args = append(args, limit)

	var rows []documentRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT `+documentColumns+`
FROM documents d
WHERE d.status = ? AND `+scopeClause+` AND (`+strings.Join(clauses, " OR ")+`)
ORDER BY d.id DESC
LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query keyword matches: %w", err)
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
