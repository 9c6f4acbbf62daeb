package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

// NearestChunks joins every chunk to its parent, so chunks of a missing
// parent are never returned.
func (s *Store) NearestChunks(ctx context.Context, vector []float32, limit int, filter domain.SearchFilter) ([]domain.ChunkMatch, error) {
	if err := s.checkDim(vector); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+documentColumns("d.")+`, c.chunk_index, c.content, c.embedding <-> $1 AS distance
FROM document_chunks c
JOIN documents d ON d.id = c.parent_id
WHERE ($2::text = '' OR d.owner_id = $2)
	AND ($3::text = '' OR d.file_type = $3)
ORDER BY c.embedding <-> $1
LIMIT $4
`, pgvector.NewVector(vector), filter.OwnerID, string(filter.FileType), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.ChunkMatch
	for rows.Next() {
		var m domain.ChunkMatch
		doc, err := scanDocument(rows, &m.ChunkIndex, &m.Content, &m.Distance)
		if err != nil {
			return nil, fmt.Errorf("scan chunk match: %w", err)
		}
		m.Document = *doc
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) NearestDocuments(ctx context.Context, vector []float32, limit int, filter domain.SearchFilter) ([]domain.DocumentMatch, error) {
	if err := s.checkDim(vector); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+documentColumns("d.")+`, d.embedding <-> $1 AS distance
FROM documents d
WHERE d.embedding IS NOT NULL
	AND ($2::text = '' OR d.owner_id = $2)
	AND ($3::text = '' OR d.file_type = $3)
ORDER BY d.embedding <-> $1
LIMIT $4
`, pgvector.NewVector(vector), filter.OwnerID, string(filter.FileType), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest documents: %w", err)
	}
	defer rows.Close()

	var out []domain.DocumentMatch
	for rows.Next() {
		var m domain.DocumentMatch
		doc, err := scanDocument(rows, &m.Distance)
		if err != nil {
			return nil, fmt.Errorf("scan document match: %w", err)
		}
		m.Document = *doc
		out = append(out, m)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// MatchKeywords ORs a case-insensitive substring match of every keyword over
// filename, summary, category and full text.
func (s *Store) MatchKeywords(ctx context.Context, keywords []string, limit int, filter domain.SearchFilter) ([]domain.Document, error) {
	args := []any{string(domain.StatusCompleted), filter.OwnerID, string(filter.FileType)}
	var clauses []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		args = append(args, "%"+likeEscaper.Replace(kw)+"%")
		p := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf(
			"d.filename ILIKE %[1]s OR d.summary ILIKE %[1]s OR d.category ILIKE %[1]s OR COALESCE(d.full_text, '') ILIKE %[1]s", p))
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	args = append(args, limit)

	query := `
SELECT ` + documentColumns("d.") + `
FROM documents d
WHERE d.status = $1
	AND ($2::text = '' OR d.owner_id = $2)
	AND ($3::text = '' OR d.file_type = $3)
	AND (` + strings.Join(clauses, " OR ") + `)
ORDER BY d.id DESC
LIMIT ` + fmt.Sprintf("$%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query keyword matches: %w", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan keyword match: %w", err)
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}
