package httpadapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/42012606/Memex-Neural/internal/config"
	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

type ingestFake struct {
	err      error
	uploaded []ports.UploadRequest
	body     string
	retried  []int64
	deleted  []int64
}

func (f *ingestFake) Upload(_ context.Context, req ports.UploadRequest) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	f.body = string(raw)
	f.uploaded = append(f.uploaded, req)

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return &domain.Document{
		ID:          1,
		OwnerID:     req.OwnerID,
		Filename:    req.Filename,
		MimeType:    req.MimeType,
		FileType:    domain.FileTypeOf(req.Filename),
		StoragePath: "_inbox/1_" + req.Filename,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (f *ingestFake) Retry(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.retried = append(f.retried, id)
	return nil
}

func (f *ingestFake) Delete(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type docsFake struct {
	err error
}

func (f docsFake) GetByID(_ context.Context, id int64) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: id, OwnerID: "alice", Filename: "a.txt", Status: domain.StatusCompleted}, nil
}

type searchFake struct {
	hits []domain.SearchHit
	err  error
	last domain.SearchRequest
}

func (f *searchFake) HybridSearch(_ context.Context, req domain.SearchRequest) ([]domain.SearchHit, error) {
	f.last = req
	return f.hits, f.err
}

type vectorsFake struct {
	err       error
	reindexed []int64
	removed   []int64
}

func (f *vectorsFake) EmbedDocument(context.Context, int64, string, domain.DocumentMeta) (bool, error) {
	return false, errors.New("not used")
}

func (f *vectorsFake) ReindexDocument(_ context.Context, id int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.reindexed = append(f.reindexed, id)
	return true, nil
}

func (f *vectorsFake) DeleteDocumentVector(_ context.Context, id int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.removed = append(f.removed, id)
	return true, nil
}

type testRouter struct {
	ingest  *ingestFake
	search  *searchFake
	vectors *vectorsFake
	docs    docsFake
	handler http.Handler
}

func newTestRouter(cfg config.Config) *testRouter {
	tr := &testRouter{
		ingest:  &ingestFake{},
		search:  &searchFake{},
		vectors: &vectorsFake{},
	}
	tr.build(cfg)
	return tr
}

func (tr *testRouter) build(cfg config.Config) {
	if cfg.DefaultOwner == "" {
		cfg.DefaultOwner = "user"
	}
	tr.handler = NewRouter(cfg, Dependencies{
		Ingest:  tr.ingest,
		Docs:    tr.docs,
		Search:  tr.search,
		Vectors: tr.vectors,
	}).Handler()
}
