package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

type searchStub struct {
	hits []domain.SearchHit
	err  error
	last domain.SearchRequest
}

func (s *searchStub) HybridSearch(_ context.Context, req domain.SearchRequest) ([]domain.SearchHit, error) {
	s.last = req
	return s.hits, s.err
}

type ingestStub struct {
	retried []int64
	deleted []int64
	err     error
}

func (s *ingestStub) Upload(context.Context, ports.UploadRequest) (*domain.Document, error) {
	return nil, errors.New("not used")
}

func (s *ingestStub) Retry(_ context.Context, id int64) error {
	if s.err != nil {
		return s.err
	}
	s.retried = append(s.retried, id)
	return nil
}

func (s *ingestStub) Delete(_ context.Context, id int64) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type vectorStub struct {
	reindexed []int64
	removed   map[int64]bool
}

func (s *vectorStub) EmbedDocument(context.Context, int64, string, domain.DocumentMeta) (bool, error) {
	return false, errors.New("not used")
}

func (s *vectorStub) ReindexDocument(_ context.Context, id int64) (bool, error) {
	s.reindexed = append(s.reindexed, id)
	return true, nil
}

func (s *vectorStub) DeleteDocumentVector(_ context.Context, id int64) (bool, error) {
	return s.removed[id], nil
}

type harness struct {
	search  *searchStub
	ingest  *ingestStub
	vectors *vectorStub
}

func newHarness() *harness {
	return &harness{search: &searchStub{}, ingest: &ingestStub{}, vectors: &vectorStub{removed: map[int64]bool{}}}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(Services{Search: h.search, Ingest: h.ingest, Vectors: h.vectors})
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestSearchCommandPassesFlags(t *testing.T) {
	h := newHarness()
	h.search.hits = []domain.SearchHit{{
		DocumentID:  3,
		Filename:    "2023-11-15_Invoice.pdf",
		Score:       0.87,
		Provenance:  domain.ProvenanceVectorChild,
		StoragePath: "alice/2023.11/Documents/2023-11-15_Invoice.pdf",
		Snippet:     "electricity\ninvoice",
	}}

	out, err := h.run(t, "search", "-n", "3", "--owner", "alice", "--range", "2023-11", "--type", "Documents", "-k", "invoice,发票", "electricity bill")
	require.NoError(t, err)

	assert.Equal(t, "electricity bill", h.search.last.Query)
	assert.Equal(t, 3, h.search.last.TopK)
	assert.Equal(t, "alice", h.search.last.Scope.OwnerID)
	assert.Equal(t, "2023-11", h.search.last.TimeRange)
	assert.Equal(t, domain.FileTypeDocuments, h.search.last.FileType)
	assert.Equal(t, []string{"invoice", "发票"}, h.search.last.Keywords)

	assert.Contains(t, out, "Results:")
	assert.Contains(t, out, "#3 2023-11-15_Invoice.pdf (0.870, vector_child)")
	assert.Contains(t, out, "electricity invoice")
}

func TestSearchCommandJSONOutput(t *testing.T) {
	h := newHarness()
	h.search.hits = []domain.SearchHit{{DocumentID: 9, Score: 0.5, Provenance: domain.ProvenanceKeyword}}

	out, err := h.run(t, "search", "--json", "tax")
	require.NoError(t, err)

	var hits []domain.SearchHit
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, int64(9), hits[0].DocumentID)
}

func TestSearchCommandNoResults(t *testing.T) {
	out, err := newHarness().run(t, "search", "nothing")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")
}

func TestSearchCommandRequiresExactlyOneArg(t *testing.T) {
	_, err := newHarness().run(t, "search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestSearchCommandSurfacesErrors(t *testing.T) {
	h := newHarness()
	h.search.err = domain.WrapError(domain.ErrQueryEmbedding, "hybrid search", errors.New("down"))
	_, err := h.run(t, "search", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQueryEmbedding)
}

func TestDocumentCommands(t *testing.T) {
	h := newHarness()
	h.vectors.removed[5] = true

	out, err := h.run(t, "reindex", "4", "5")
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, h.vectors.reindexed)
	assert.Contains(t, out, "#5 reindexed (vectorized=true)")

	_, err = h.run(t, "retry", "8")
	require.NoError(t, err)
	assert.Equal(t, []int64{8}, h.ingest.retried)

	_, err = h.run(t, "delete", "2")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, h.ingest.deleted)

	out, err = h.run(t, "unvectorize", "5", "6")
	require.NoError(t, err)
	assert.Contains(t, out, "#5 embeddings removed")
	assert.Contains(t, out, "#6 had no embeddings")
}

func TestDocumentCommandsRejectBadIDs(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "retry", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid document id "abc"`)
	assert.Empty(t, h.ingest.retried)
}

func TestRetryStopsAtFirstFailure(t *testing.T) {
	h := newHarness()
	h.ingest.err = domain.WrapError(domain.ErrInvalidInput, "retry", errors.New("document 1 is COMPLETED"))
	_, err := h.run(t, "retry", "1", "2")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "retry 1")
}
