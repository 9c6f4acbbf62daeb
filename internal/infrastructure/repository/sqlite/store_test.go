package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/42012606/Memex-Neural/internal/core/domain"
)

func openTestStore(t *testing.T, dim int) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "memex.db"), dim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createCompleted(t *testing.T, s *Store, owner, filename, text string) *domain.Document {
	t.Helper()
	ctx := context.Background()
	doc := &domain.Document{
		OwnerID: owner, Filename: filename, OriginalFilename: filename,
		FileType: domain.FileTypeOf(filename), StoragePath: "_inbox/" + filename, Status: domain.StatusPending,
	}
	require.NoError(t, s.Create(ctx, doc))
	require.NoError(t, s.SaveArchive(ctx, doc.ID, domain.ArchiveUpdate{
		Filename:    filename,
		StoragePath: owner + "/2024.01/Documents/" + filename,
		Category:    "Finance",
		Tags:        []string{"tax"},
		Summary:     "summary of " + filename,
		FullText:    &text,
		ProcessedAt: time.Now(),
	}))
	return doc
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	semantic := time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC)
	text := "quarterly tax invoice"

	doc := &domain.Document{OwnerID: "alice", Filename: "a.txt", OriginalFilename: "a.txt", FileType: domain.FileTypeDocuments, StoragePath: "_inbox/a.txt", Status: domain.StatusPending}
	require.NoError(t, s.Create(ctx, doc))
	require.NoError(t, s.SaveArchive(ctx, doc.ID, domain.ArchiveUpdate{
		Filename: "invoice.txt", StoragePath: "alice/2023.11/Documents/invoice.txt", Category: "Finance",
		Tags: []string{"tax", "invoice"}, Summary: "tax invoice", FullText: &text, SemanticDate: &semantic,
		Metadata: map[string]string{"money": "500"}, ProcessedAt: time.Now(),
	}))

	got, err := s.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "invoice.txt", got.Filename)
	assert.Equal(t, []string{"tax", "invoice"}, got.Tags)
	assert.Equal(t, "500", got.Metadata["money"])
	require.NotNil(t, got.SemanticDate)
	assert.True(t, got.SemanticDate.Equal(semantic))
	assert.Equal(t, text, got.Text())
	assert.False(t, got.IsVectorized)

	_, err = s.GetByID(ctx, doc.ID+100)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestReplaceChunksIsIdempotent(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	doc := createCompleted(t, s, "alice", "notes.txt", "body")

	chunks := []domain.Chunk{
		{ChunkIndex: 0, Content: "first chunk content", Embedding: []float32{1, 0}},
		{ChunkIndex: 1, Content: "second chunk content", Embedding: []float32{0, 1}, Meta: domain.ChunkMeta{SourceLength: 40}},
	}
	require.NoError(t, s.ReplaceChunks(ctx, doc.ID, chunks))
	require.NoError(t, s.ReplaceChunks(ctx, doc.ID, chunks))

	got, err := s.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].ChunkIndex)
	assert.Equal(t, 1, got[1].ChunkIndex)
	assert.Equal(t, 40, got[1].Meta.SourceLength)
	assert.Equal(t, []float32{0, 1}, got[1].Embedding)
}

func TestReplaceChunksRejectsDuplicateIndexAtomically(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	doc := createCompleted(t, s, "alice", "notes.txt", "body")
	require.NoError(t, s.ReplaceChunks(ctx, doc.ID, []domain.Chunk{{ChunkIndex: 0, Content: "original chunk", Embedding: []float32{1, 1}}}))

	err := s.ReplaceChunks(ctx, doc.ID, []domain.Chunk{
		{ChunkIndex: 3, Content: "duplicate one", Embedding: []float32{1, 0}},
		{ChunkIndex: 3, Content: "duplicate two", Embedding: []float32{0, 1}},
	})
	require.Error(t, err)

	got, err := s.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "original chunk", got[0].Content)
}

func TestConcurrentIndexingDoesNotFailWithBusy(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	const n = 8
	docs := make([]*domain.Document, n)
	for i := range docs {
		docs[i] = createCompleted(t, s, "alice", fmt.Sprintf("doc%d.txt", i), "body")
	}

	var g errgroup.Group
	for i, doc := range docs {
		g.Go(func() error {
			for round := 0; round < 5; round++ {
				chunks := []domain.Chunk{
					{ChunkIndex: 0, Content: fmt.Sprintf("doc %d round %d first", i, round), Embedding: []float32{1, 0}},
					{ChunkIndex: 1, Content: fmt.Sprintf("doc %d round %d second", i, round), Embedding: []float32{0, 1}},
				}
				if err := s.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
					return err
				}
				if err := s.SetEmbedding(ctx, doc.ID, []float32{0.5, 0.5}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, doc := range docs {
		got, err := s.ListChunks(ctx, doc.ID)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	}
}

func TestDeleteCascadesToChunks(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	doc := createCompleted(t, s, "alice", "notes.txt", "body")
	require.NoError(t, s.ReplaceChunks(ctx, doc.ID, []domain.Chunk{
		{ChunkIndex: 0, Content: "first chunk content", Embedding: []float32{1, 0}},
		{ChunkIndex: 1, Content: "second chunk content", Embedding: []float32{0, 1}},
	}))

	require.NoError(t, s.Delete(ctx, doc.ID))

	got, err := s.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
	var n int
	require.NoError(t, s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM document_chunks WHERE parent_id = ?`, doc.ID))
	assert.Zero(t, n)
	assert.ErrorIs(t, s.Delete(ctx, doc.ID), domain.ErrDocumentNotFound)
}

func TestEmbeddingFlagTracksVector(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	doc := createCompleted(t, s, "alice", "notes.txt", "body")

	require.ErrorIs(t, s.SetEmbedding(ctx, doc.ID, []float32{1, 2, 3}), domain.ErrDimensionMismatch)
	require.NoError(t, s.SetEmbedding(ctx, doc.ID, []float32{0.5, 0.5}))
	got, err := s.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, got.IsVectorized)

	had, err := s.ClearEmbedding(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, had)
	had, err = s.ClearEmbedding(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, had)

	_, err = s.db.ExecContext(ctx, `UPDATE documents SET is_vectorized = 1 WHERE id = ?`, doc.ID)
	assert.Error(t, err, "flag without embedding must violate the check constraint")
}

func TestNearestOrdersByDistanceAndScopes(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	a := createCompleted(t, s, "alice", "a.txt", "alpha")
	b := createCompleted(t, s, "alice", "b.txt", "beta")
	other := createCompleted(t, s, "bob", "c.txt", "gamma")

	require.NoError(t, s.ReplaceChunks(ctx, a.ID, []domain.Chunk{{ChunkIndex: 0, Content: "alpha chunk text", Embedding: []float32{1, 0}}}))
	require.NoError(t, s.ReplaceChunks(ctx, b.ID, []domain.Chunk{{ChunkIndex: 0, Content: "beta chunk text", Embedding: []float32{0, 1}}}))
	require.NoError(t, s.ReplaceChunks(ctx, other.ID, []domain.Chunk{{ChunkIndex: 0, Content: "gamma chunk text", Embedding: []float32{1, 0}}}))
	require.NoError(t, s.SetEmbedding(ctx, a.ID, []float32{1, 0}))
	require.NoError(t, s.SetEmbedding(ctx, b.ID, []float32{0, 1}))

	chunks, err := s.NearestChunks(ctx, []float32{0.9, 0.1}, 5, domain.SearchFilter{OwnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, a.ID, chunks[0].Document.ID)
	assert.Less(t, chunks[0].Distance, chunks[1].Distance)

	docs, err := s.NearestDocuments(ctx, []float32{0, 1}, 1, domain.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, b.ID, docs[0].Document.ID)
	assert.InDelta(t, 0, docs[0].Distance, 1e-9)
}

func TestMatchKeywordsNewestFirst(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	older := createCompleted(t, s, "alice", "invoice-2022.txt", "old INVOICE body")
	newer := createCompleted(t, s, "alice", "receipt.txt", "the invoice for november")
	createCompleted(t, s, "alice", "photo.txt", "birthday")
	pending := &domain.Document{OwnerID: "alice", Filename: "invoice-draft.txt", OriginalFilename: "invoice-draft.txt", FileType: domain.FileTypeDocuments, StoragePath: "x", Status: domain.StatusPending}
	require.NoError(t, s.Create(ctx, pending))

	docs, err := s.MatchKeywords(ctx, []string{"Invoice", ""}, 10, domain.SearchFilter{OwnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, newer.ID, docs[0].ID)
	assert.Equal(t, older.ID, docs[1].ID)

	none, err := s.MatchKeywords(ctx, []string{"100%"}, 10, domain.SearchFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOpenRejectsDifferentDimension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memex.db")
	s, err := Open(context.Background(), path, 4)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), path, 8)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}
