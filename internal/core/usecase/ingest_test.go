package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/core/ports"
)

func TestUploadStagesFileAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	files := openFiles(t)
	pub := &recordingPublisher{}
	uc := NewIngestUseCase(store, files, pub, "owner", nil)

	doc, err := uc.Upload(ctx, ports.UploadRequest{
		Filename: "My Report (final).pdf",
		Model:    " llama3 ",
		Body:     strings.NewReader("payload"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.OwnerID != "owner" {
		t.Fatalf("expected default owner, got %q", doc.OwnerID)
	}
	if doc.FileType != domain.FileTypeDocuments {
		t.Fatalf("unexpected file type %q", doc.FileType)
	}
	if !strings.HasPrefix(doc.StoragePath, inboxDir+"/") || !strings.HasSuffix(doc.StoragePath, "_My_Report__final_.pdf") {
		t.Fatalf("unexpected storage path %q", doc.StoragePath)
	}

	stored, err := store.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusPending || stored.ModelOverride != "llama3" {
		t.Fatalf("unexpected stored state %+v", stored)
	}
	if stored.Metadata[metaOriginalFilename] != "My Report (final).pdf" {
		t.Fatalf("original filename not recorded: %v", stored.Metadata)
	}

	rc, err := files.Open(ctx, doc.StoragePath)
	if err != nil {
		t.Fatalf("open staged file: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "payload" {
		t.Fatalf("unexpected staged body %q", body)
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(pub.events))
	}
	evt, err := pub.events[0].FileUploaded()
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.DocumentID != doc.ID || evt.FilePath != doc.StoragePath || evt.Model != "llama3" || evt.OwnerID != "owner" {
		t.Fatalf("unexpected event payload %+v", evt)
	}
}

func TestUploadValidatesInput(t *testing.T) {
	uc := NewIngestUseCase(openStore(t), openFiles(t), &recordingPublisher{}, "owner", nil)

	cases := []ports.UploadRequest{
		{Filename: "", Body: strings.NewReader("x")},
		{Filename: "a.txt"},
	}
	for _, req := range cases {
		if _, err := uc.Upload(context.Background(), req); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", req, err)
		}
	}
}

func TestUploadSurfacesPublishFailure(t *testing.T) {
	uc := NewIngestUseCase(openStore(t), openFiles(t), &recordingPublisher{err: errBoom}, "owner", nil)
	_, err := uc.Upload(context.Background(), ports.UploadRequest{Filename: "a.txt", Body: strings.NewReader("x")})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestRetryOnlyAcceptsFailedDocuments(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	pub := &recordingPublisher{}
	uc := NewIngestUseCase(store, openFiles(t), pub, "owner", nil)

	doc, err := uc.Upload(ctx, ports.UploadRequest{Filename: "a.txt", Body: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := uc.Retry(ctx, doc.ID); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected pending document to be rejected, got %v", err)
	}

	if err := store.MarkFailed(ctx, doc.ID, "owner/_FAILED/a.txt", "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := uc.Retry(ctx, doc.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}

	got, _ := store.GetByID(ctx, doc.ID)
	if got.Status != domain.StatusPending || got.Error != "" {
		t.Fatalf("expected reset to pending, got %s %q", got.Status, got.Error)
	}
	last := pub.events[len(pub.events)-1]
	evt, err := last.FileUploaded()
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.FilePath != "owner/_FAILED/a.txt" {
		t.Fatalf("retry should start from the failed location, got %q", evt.FilePath)
	}
}

func TestDeleteRemovesRecordAndFile(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	files := openFiles(t)
	uc := NewIngestUseCase(store, files, &recordingPublisher{}, "owner", nil)

	doc, err := uc.Upload(ctx, ports.UploadRequest{Filename: "a.txt", Body: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := uc.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetByID(ctx, doc.ID); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := files.Open(ctx, doc.StoragePath); err == nil {
		t.Fatal("expected staged file to be removed")
	}
	if err := uc.Delete(ctx, doc.ID); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":       "report.pdf",
		"my file.txt":      "my_file.txt",
		"../../etc/passwd": "passwd",
		"发票.pdf":           "__.pdf",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
